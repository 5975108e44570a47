package cli

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/core/nav"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
	"github.com/matzehuels/controlsphere/pkg/session"
)

func exploreRecords() []hierarchy.Record {
	return []hierarchy.Record{
		{ControlID: "GOV-01", Domain: "Governance", Category: "Oversight", Weight: "10", Mappings: []hierarchy.Mapping{
			{Regime: "NIST CSF 2.0", Value: "GV.OC-01"},
		}},
		{ControlID: "GOV-02", Domain: "Governance", Category: "Oversight", Weight: "4"},
		{ControlID: "GOV-03", Domain: "Governance", Category: "Policy", Weight: "3"},
		{ControlID: "AST-01", Domain: "Assets", Category: "Inventory", Weight: "2", Mappings: []hierarchy.Mapping{
			{Regime: "EMEA EU DORA", Value: "Art. 8"},
		}},
	}
}

func newTestExplorer(t *testing.T) exploreModel {
	t.Helper()
	built := hierarchy.Build(exploreRecords(), hierarchy.Options{})
	engine, err := layout.NewEngine(layout.Options{Iterations: 40}, nil)
	if err != nil {
		t.Fatal(err)
	}
	animator := newFrameAnimator()
	n, err := nav.New(built.Tree, engine, nav.Options{
		Selection: regime.NewSelection("NIST CSF 2.0"),
		Animator:  animator,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	return newExploreModel(context.Background(), n, animator, nil, regime.ParseCatalog(built.Regimes))
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m exploreModel, keys ...string) (exploreModel, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(exploreModel)
	}
	return m, cmd
}

// land delivers a frame past the end of the current flight.
func land(t *testing.T, m exploreModel) exploreModel {
	t.Helper()
	if m.flight == nil {
		t.Fatal("no transition in flight")
	}
	next, cmd := m.Update(frameMsg{seq: m.flight.Seq, at: m.flight.start.Add(2 * m.flight.Duration)})
	if cmd != nil {
		t.Error("landing should not schedule another frame")
	}
	return next.(exploreModel)
}

func itemNames(m exploreModel) []string {
	var out []string
	for _, n := range m.items {
		out = append(out, n.Name)
	}
	slices.Sort(out)
	return out
}

func TestExploreStartsOutside(t *testing.T) {
	m := newTestExplorer(t)
	if m.nav.Inside() {
		t.Fatal("should start outside")
	}
	if got := itemNames(m); !slices.Equal(got, []string{hierarchy.DefaultRootName}) {
		t.Errorf("items = %v, want the root", got)
	}
	if v := m.View(); !strings.Contains(v, "(outside)") {
		t.Errorf("view should mark the outside view:\n%s", v)
	}
}

func TestExploreDrill(t *testing.T) {
	m := newTestExplorer(t)

	m, cmd := press(t, m, "enter")
	if cmd == nil || m.flight == nil {
		t.Fatal("drilling should start an animated flight")
	}
	if !strings.Contains(m.View(), "flying into") {
		t.Error("view should show the flight")
	}

	// A frame halfway keeps the flight going.
	next, cmd := m.Update(frameMsg{seq: m.flight.Seq, at: m.flight.start.Add(m.flight.Duration / 2)})
	m = next.(exploreModel)
	if cmd == nil || m.progress <= 0 || m.progress >= 1 {
		t.Fatalf("progress = %v, want mid-flight", m.progress)
	}

	m = land(t, m)
	if !m.nav.Inside() || m.nav.Focus().Name != hierarchy.DefaultRootName {
		t.Fatalf("focus = %+v inside=%v, want root from inside", m.nav.Focus(), m.nav.Inside())
	}
	if got := itemNames(m); !slices.Equal(got, []string{"Assets", "Governance"}) {
		t.Errorf("items = %v, want the domains", got)
	}

	// Drill into Governance.
	m.cursor = slices.IndexFunc(m.items, func(n *hierarchy.Node) bool { return n.Name == "Governance" })
	m, _ = press(t, m, "enter")
	m = land(t, m)
	if m.nav.Focus().Name != "Governance" {
		t.Fatalf("focus = %q, want Governance", m.nav.Focus().Name)
	}
	if got := itemNames(m); !slices.Equal(got, []string{"Oversight", "Policy"}) {
		t.Errorf("items = %v", got)
	}
	if v := m.View(); !strings.Contains(v, "Governance") {
		t.Errorf("breadcrumbs missing:\n%s", v)
	}
}

func TestExploreZoomOutAndRoot(t *testing.T) {
	m := newTestExplorer(t)
	m, _ = press(t, m, "enter")
	m = land(t, m)
	m.cursor = slices.IndexFunc(m.items, func(n *hierarchy.Node) bool { return n.Name == "Governance" })
	m, _ = press(t, m, "enter")
	m = land(t, m)

	m, cmd := press(t, m, "backspace")
	if cmd != nil || m.flight != nil {
		t.Error("zooming out should not animate")
	}
	if m.nav.Focus().Name != hierarchy.DefaultRootName || !m.nav.Inside() {
		t.Errorf("focus = %q, want root", m.nav.Focus().Name)
	}

	m, _ = press(t, m, "r")
	if m.nav.Inside() {
		t.Error("r should return to the outside view")
	}
}

func TestExploreBreadcrumbJump(t *testing.T) {
	m := newTestExplorer(t)
	m, _ = press(t, m, "/", "O", "v", "e", "r", "s", "i", "g", "h", "t")
	if len(m.hits) == 0 {
		t.Fatal("search should find Oversight")
	}
	m, _ = press(t, m, "enter")
	m = land(t, m)
	if m.nav.Focus().Name != "Oversight" {
		t.Fatalf("focus = %q, want Oversight", m.nav.Focus().Name)
	}

	m, _ = press(t, m, "2")
	if m.nav.Focus().Name != "Governance" {
		t.Errorf("focus after crumb 2 = %q, want Governance", m.nav.Focus().Name)
	}
}

func TestExploreSupersededFlight(t *testing.T) {
	m := newTestExplorer(t)
	m, _ = press(t, m, "enter")
	stale := m.flight.Seq

	m, _ = press(t, m, "r")
	if m.flight != nil {
		t.Fatal("a synchronous call should end the flight")
	}
	if len(m.animator.pending) != 0 {
		t.Error("superseded transitions should be released")
	}

	next, cmd := m.Update(frameMsg{seq: stale, at: time.Now()})
	if cmd != nil || next.(exploreModel).nav.Inside() {
		t.Error("stale frames should be ignored")
	}
}

func TestExploreSettings(t *testing.T) {
	m := newTestExplorer(t)

	m, _ = press(t, m, "+")
	if got := m.nav.DepthWindow(); got != nav.DefaultDepthWindow+1 {
		t.Errorf("depth = %d", got)
	}
	m, _ = press(t, m, "-", "-", "-", "-")
	if got := m.nav.DepthWindow(); got != 1 {
		t.Errorf("depth = %d, want 1", got)
	}

	m, _ = press(t, m, "m")
	if !m.nav.OnlyMapped() {
		t.Error("m should toggle only-mapped")
	}

	m, _ = press(t, m, "g")
	if m.mode != modeRegimes {
		t.Fatal("g should open the regime list")
	}
	i := slices.IndexFunc(m.catalog, func(e regime.Entry) bool { return e.Regime == "EMEA EU DORA" })
	m.regimeCursor = i
	m, _ = press(t, m, " ")
	if !m.nav.Selection().Contains("EMEA EU DORA") || !m.nav.Selection().Contains("NIST CSF 2.0") {
		t.Errorf("selection = %v", m.nav.Selection().Names())
	}
	m, _ = press(t, m, "esc")
	if m.mode != modeBrowse {
		t.Error("esc should close the regime list")
	}
}

func TestExploreSaveView(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := newTestExplorer(t)
	m.store, m.sess = store, session.New("controls.json", session.DefaultTTL)

	m, _ = press(t, m, "enter")
	m = land(t, m)
	m, _ = press(t, m, "s")
	if m.status != "view saved" {
		t.Fatalf("status = %q", m.status)
	}

	saved, err := store.Get(context.Background(), session.IDFor("controls.json"))
	if err != nil || saved == nil {
		t.Fatalf("Get = %v, %v", saved, err)
	}
	if !saved.Inside || len(saved.Focus) != 0 {
		t.Errorf("saved = %+v, want inside the root", saved)
	}
}

func TestFrameAnimatorFinishAll(t *testing.T) {
	a := newFrameAnimator()
	var order []uint64
	for _, seq := range []uint64{3, 1, 2} {
		a.Play(nav.Transition{Seq: seq}, func() { order = append(order, seq) })
	}
	a.finish(2)
	a.finishAll()
	if !slices.Equal(order, []uint64{2, 1, 3}) {
		t.Errorf("order = %v", order)
	}
	a.finish(1)
	if len(order) != 3 {
		t.Error("finished transitions should not run again")
	}
}
