package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/matzehuels/controlsphere/pkg/cache"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/pipeline"
	"github.com/matzehuels/controlsphere/pkg/scene"
	"github.com/matzehuels/controlsphere/pkg/source"
)

const sampleDataset = `{
  "records": [
    {"id": "GOV-01", "domain": "Governance", "category": "Oversight", "weight": 10,
     "mappings": [{"regime": "NIST CSF 2.0", "value": "GV.OC-01\nGV.OC-02"}, {"regime": "PCI DSS 4.0.1", "value": "12.1"}]},
    {"id": "GOV-02", "domain": "Governance", "category": "Oversight", "weight": 4,
     "mappings": [{"regime": "NIST CSF 2.0", "value": "x"}]},
    {"id": "GOV-03", "domain": "Governance", "category": "Policy", "weight": 3},
    {"id": "AST-01", "domain": "Assets", "category": "Inventory", "weight": 2,
     "mappings": [{"regime": "EMEA EU DORA", "value": "Art. 8"}]}
  ],
  "regimes": ["NIST CSF 2.0", "PCI DSS 4.0.1", "EMEA EU\nDORA"],
  "domains": {"Governance": "Oversight of the program"}
}`

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Source == "" && opts.Dataset == nil {
		ds, err := source.DecodeJSON(strings.NewReader(sampleDataset))
		if err != nil {
			t.Fatal(err)
		}
		opts.Dataset = ds
	}
	opts.Physics = layout.Options{Iterations: 60}
	opts.Instant = true

	runner := pipeline.NewRunner(cache.NewNullCache(), cache.NewDefaultKeyer(), nil)
	s, err := New(context.Background(), runner, opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTree(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/api/tree", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[treeResponse](t, rec)
	if len(resp.Nodes) != s.Tree().Len() {
		t.Errorf("nodes = %d, want %d", len(resp.Nodes), s.Tree().Len())
	}
	if resp.Root != s.Tree().RootID() {
		t.Errorf("root = %d, want %d", resp.Root, s.Tree().RootID())
	}
}

func TestSearch(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/search?q=Overs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	hits := decode[[]searchHit](t, rec)
	var found bool
	for _, h := range hits {
		if h.Name == "Oversight" {
			found = true
			if got := strings.Join(h.Path, "/"); got != "SCF/Governance/Oversight" {
				t.Errorf("path = %q", got)
			}
		}
	}
	if !found {
		t.Errorf("Oversight not in %+v", hits)
	}

	if rec := do(t, s, http.MethodGet, "/api/search?q=", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rec.Code)
	}
}

func TestRegimes(t *testing.T) {
	s := newTestServer(t, Options{Colors: map[string]string{"PCI DSS 4.0.1": "#123456"}})
	rec := do(t, s, http.MethodGet, "/api/regimes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	byName := map[string]regimeResponse{}
	for _, r := range decode[[]regimeResponse](t, rec) {
		byName[r.Regime] = r
	}
	if !byName["NIST CSF 2.0"].Selected {
		t.Error("NIST CSF 2.0 should be selected by default")
	}
	if got := byName["PCI DSS 4.0.1"].Color; got != "#123456" {
		t.Errorf("PCI color = %q, want override", got)
	}
	if dora, ok := byName["EMEA EU DORA"]; !ok || dora.Category != "EMEA EU" {
		t.Errorf("DORA entry = %+v", dora)
	}
}

func TestNavigate(t *testing.T) {
	s := newTestServer(t, Options{})

	tests := []struct {
		name       string
		req        NavigateRequest
		wantStatus int
		wantFocus  string
		wantInside bool
	}{
		{"jump by names", NavigateRequest{Action: ActionJump, Names: []string{"Governance", "Oversight"}}, http.StatusOK, "Oversight", true},
		{"zoom out", NavigateRequest{Action: ActionZoomOut}, http.StatusOK, "Governance", true},
		{"breadcrumb", NavigateRequest{Action: ActionBreadcrumb, Depth: 1}, http.StatusOK, "SCF", true},
		{"root", NavigateRequest{Action: ActionRoot}, http.StatusOK, "SCF", false},
		{"unknown action", NavigateRequest{Action: "spin"}, http.StatusBadRequest, "", false},
		{"unknown path", NavigateRequest{Action: ActionJump, Names: []string{"Nope"}}, http.StatusNotFound, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/navigate", tt.req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[viewResponse](t, rec)
			if resp.Event.Focus.Name != tt.wantFocus || resp.Event.Inside != tt.wantInside {
				t.Errorf("focus = %s inside=%v, want %s inside=%v",
					resp.Event.Focus.Name, resp.Event.Inside, tt.wantFocus, tt.wantInside)
			}
			if resp.Scene == nil || len(resp.Scene.Nodes) == 0 {
				t.Fatal("response has no scene")
			}
			if !tt.wantInside && len(resp.Scene.Nodes) != 1 {
				t.Errorf("outside view scene has %d nodes, want the root bubble", len(resp.Scene.Nodes))
			}
		})
	}
}

func TestDrill(t *testing.T) {
	s := newTestServer(t, Options{})
	gov, ok := s.Tree().Resolve([]string{"Governance"})
	if !ok {
		t.Fatal("Governance not found")
	}
	rec := do(t, s, http.MethodPost, "/api/navigate", NavigateRequest{Action: ActionDrill, ID: gov.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := s.Navigator().Focus().Name; got != "Governance" {
		t.Errorf("focus = %s, want Governance", got)
	}
}

func TestUpdateView(t *testing.T) {
	s := newTestServer(t, Options{})

	depth, only := 3, true
	rec := do(t, s, http.MethodPut, "/api/view", ViewSettings{
		DepthWindow: &depth,
		Regimes:     []string{"PCI DSS 4.0.1"},
		OnlyMapped:  &only,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[viewResponse](t, rec)
	if resp.Event.DepthWindow != 3 || !resp.OnlyMapped {
		t.Errorf("depth=%d only_mapped=%v", resp.Event.DepthWindow, resp.OnlyMapped)
	}
	if len(resp.Event.Selection) != 1 || resp.Event.Selection[0] != "PCI DSS 4.0.1" {
		t.Errorf("selection = %v", resp.Event.Selection)
	}

	bad := 0
	if rec := do(t, s, http.MethodPut, "/api/view", ViewSettings{DepthWindow: &bad}); rec.Code != http.StatusBadRequest {
		t.Errorf("depth 0 status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/view", strings.NewReader(`{"zoom": 2}`))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", rec.Code)
	}
}

func TestScene(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/scene?focus=Governance&depth=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	sc, err := scene.Unmarshal(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !sc.Inside || sc.DepthWindow != 1 {
		t.Errorf("scene inside=%v depth=%d", sc.Inside, sc.DepthWindow)
	}
	focus, ok := sc.Node(sc.FocusID)
	if !ok || focus.Name != "Governance" {
		t.Errorf("focus = %+v", focus)
	}

	// The shared view is untouched.
	if s.Navigator().Inside() {
		t.Error("stateless scene moved the shared view")
	}

	rec = do(t, s, http.MethodGet, "/api/scene", nil)
	outside, err := scene.Unmarshal(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if outside.Inside || len(outside.Nodes) != 1 {
		t.Errorf("outside scene: inside=%v nodes=%d, want one bubble", outside.Inside, len(outside.Nodes))
	}
	rec = do(t, s, http.MethodGet, "/api/scene?inside=true", nil)
	inside, err := scene.Unmarshal(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !inside.Inside || len(inside.Nodes) < 2 {
		t.Errorf("root from inside: inside=%v nodes=%d", inside.Inside, len(inside.Nodes))
	}

	rec = do(t, s, http.MethodGet, "/api/scene?format=dot", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "graph G {") {
		t.Errorf("dot status = %d body = %.40q", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/vnd.graphviz" {
		t.Errorf("dot content type = %q", ct)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"format=png", http.StatusBadRequest},
		{"depth=0", http.StatusBadRequest},
		{"only_mapped=maybe", http.StatusBadRequest},
		{"inside=maybe", http.StatusBadRequest},
		{"focus=Nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := do(t, s, http.MethodGet, "/api/scene?"+tt.query, nil); rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.query, rec.Code, tt.want)
		}
	}
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controls.json")
	if err := os.WriteFile(path, []byte(sampleDataset), 0644); err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, Options{Source: path})
	ctx := context.Background()

	if err := s.navigate(NavigateRequest{Action: ActionJump, Names: []string{"Governance", "Oversight"}}); err != nil {
		t.Fatal(err)
	}
	before := s.Tree()

	// Unchanged file keeps the tree.
	if err := s.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Tree() != before {
		t.Error("reload of unchanged dataset swapped the tree")
	}

	grown := strings.Replace(sampleDataset, `"records": [`,
		`"records": [{"id": "GOV-04", "domain": "Governance", "category": "Oversight", "weight": 1},`, 1)
	if err := os.WriteFile(path, []byte(grown), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Tree().Len() != before.Len()+1 {
		t.Errorf("nodes = %d, want %d", s.Tree().Len(), before.Len()+1)
	}
	if got := s.Navigator().Focus().Name; got != "Oversight" {
		t.Errorf("focus after reload = %s, want Oversight", got)
	}
	if ev := s.Navigator().Event(); ev.Revision != s.Tree().Revision {
		t.Error("event revision does not match the reloaded tree")
	}
}

func TestEvents(t *testing.T) {
	s := newTestServer(t, Options{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != MessageFocus || first.Scene == nil || first.Event.Inside {
		t.Fatalf("first message = %+v", first)
	}
	if len(first.Scene.Nodes) != 1 || len(first.Scene.Edges) != 0 {
		t.Errorf("outside focus message carries %d nodes, want the root bubble", len(first.Scene.Nodes))
	}

	gov, _ := s.Tree().Resolve([]string{"Governance"})
	if err := conn.WriteJSON(NavigateRequest{Action: ActionDrill, ID: gov.ID}); err != nil {
		t.Fatal(err)
	}

	var sawTransition bool
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch msg.Type {
		case MessageTransition:
			sawTransition = true
			if msg.Transition.Kind != "drill" || msg.Transition.To.Name != "Governance" {
				t.Errorf("transition = %+v", msg.Transition)
			}
		case MessageFocus:
			if msg.Event.Focus.Name != "Governance" {
				continue
			}
			if !sawTransition {
				t.Error("focus arrived without a transition")
			}
			return
		case MessageError:
			t.Fatalf("error message: %s", msg.Error)
		}
	}
}

func TestEventsRejectsBadCommand(t *testing.T) {
	s := newTestServer(t, Options{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(NavigateRequest{Action: "spin"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != MessageError || !strings.Contains(msg.Error, "spin") {
		t.Errorf("message = %+v, want error about spin", msg)
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, Options{})

	do(t, s, http.MethodGet, "/healthz", nil)
	do(t, s, http.MethodGet, "/api/tree", nil)
	do(t, s, http.MethodGet, "/api/tree", nil)

	m := s.Metrics()
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/tree", "200")); got != 2 {
		t.Errorf("tree requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/healthz", "200")); got != 1 {
		t.Errorf("healthz requests = %v, want 1", got)
	}

	m.OnCacheHit(context.Background(), cache.KeyTypeScene)
	m.OnCacheSet(context.Background(), cache.KeyTypeScene, 100)
	if got := testutil.ToFloat64(m.cacheOps.WithLabelValues(cache.KeyTypeScene, "hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheBytes); got != 100 {
		t.Errorf("cache bytes = %v, want 100", got)
	}

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "controlsphere_http_requests_total") {
		t.Error("/metrics does not expose request counter")
	}
}
