package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/nav"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
	"github.com/matzehuels/controlsphere/pkg/pipeline"
	"github.com/matzehuels/controlsphere/pkg/scene"
)

const maxBody = 1 << 20

// =============================================================================
// Responses
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: errorMessage(err), Code: string(apperrors.GetCode(err))})
}

// errorMessage hides internal details of uncoded errors.
func errorMessage(err error) string {
	if apperrors.GetCode(err) == "" {
		return "internal error"
	}
	return apperrors.UserMessage(err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidInput, err, "invalid request body: %v", err)
	}
	return nil
}

// =============================================================================
// Tree
// =============================================================================

type nodeResponse struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	FullName    string         `json:"full_name,omitempty"`
	Description string         `json:"description,omitempty"`
	Kind        hierarchy.Kind `json:"kind"`
	Weight      float64        `json:"weight"`
	Regime      string         `json:"regime,omitempty"`
	Parent      int            `json:"parent"`
	Children    []int          `json:"children,omitempty"`
}

func nodeOf(n *hierarchy.Node) nodeResponse {
	return nodeResponse{
		ID:          n.ID,
		Name:        n.Name,
		FullName:    n.FullName,
		Description: n.Description,
		Kind:        n.Kind,
		Weight:      n.Weight,
		Regime:      n.Regime,
		Parent:      n.Parent,
		Children:    n.Children,
	}
}

type treeResponse struct {
	Revision string         `json:"revision"`
	Root     int            `json:"root"`
	Skipped  int            `json:"skipped"`
	Nodes    []nodeResponse `json:"nodes"`
}

func (s *Server) handleTree(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	built := s.built
	s.mu.RUnlock()

	nodes := built.Tree.Nodes()
	resp := treeResponse{
		Revision: built.Tree.Revision.String(),
		Root:     built.Tree.RootID(),
		Skipped:  built.Skipped,
		Nodes:    make([]nodeResponse, 0, len(nodes)),
	}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, nodeOf(n))
	}
	writeJSON(w, http.StatusOK, resp)
}

type searchHit struct {
	nodeResponse
	Path []string `json:"path"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if err := apperrors.ValidateSearchQuery(q); err != nil {
		s.writeError(w, r, err)
		return
	}
	tree := s.Tree()
	hits := tree.Find(strings.TrimSpace(q))
	resp := make([]searchHit, 0, len(hits))
	for _, n := range hits {
		var path []string
		for _, p := range tree.Path(n.ID) {
			path = append(path, p.Name)
		}
		resp = append(resp, searchHit{nodeResponse: nodeOf(n), Path: path})
	}
	writeJSON(w, http.StatusOK, resp)
}

type regimeResponse struct {
	Regime   string `json:"regime"`
	Category string `json:"category,omitempty"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Selected bool   `json:"selected"`
}

func (s *Server) handleRegimes(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	catalog, palette := s.catalog, s.palette
	s.mu.RUnlock()
	sel := s.nav.Selection()

	resp := make([]regimeResponse, 0, len(catalog))
	for _, e := range catalog {
		resp = append(resp, regimeResponse{
			Regime:   e.Regime,
			Category: e.Category,
			Name:     e.Name,
			Color:    palette.Color(e.Regime).Hex(),
			Selected: sel.Contains(e.Regime),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Shared view
// =============================================================================

type viewResponse struct {
	Event      nav.FocusEvent  `json:"event"`
	OnlyMapped bool            `json:"only_mapped"`
	Pending    *TransitionInfo `json:"pending,omitempty"`
	Scene      *scene.Scene    `json:"scene"`
}

func (s *Server) view() (viewResponse, error) {
	sc, err := s.currentScene()
	if err != nil {
		return viewResponse{}, err
	}
	resp := viewResponse{Event: s.nav.Event(), OnlyMapped: s.nav.OnlyMapped(), Scene: sc}
	if tr, ok := s.nav.Pending(); ok {
		resp.Pending = transitionInfo(tr)
	}
	return resp, nil
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	resp, err := s.view()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateView(w http.ResponseWriter, r *http.Request) {
	var v ViewSettings
	if err := decodeBody(w, r, &v); err != nil {
		s.writeError(w, r, err)
		return
	}
	if v.DepthWindow != nil && *v.DepthWindow < 1 {
		s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "depth_window must be at least 1"))
		return
	}
	for _, name := range v.Regimes {
		if err := apperrors.ValidateRegimeName(name); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := s.ApplySettings(context.WithoutCancel(r.Context()), v); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleView(w, r)
}

// Navigation actions.
const (
	ActionDrill      = "drill"
	ActionJump       = "jump"
	ActionZoomOut    = "zoom_out"
	ActionRoot       = "root"
	ActionBreadcrumb = "breadcrumb"
)

// NavigateRequest moves the shared view. ID names the target node for drill
// and jump, Depth the breadcrumb to return to. Names may replace ID for
// jump, as a path of node names below the root. Drills are always animated.
type NavigateRequest struct {
	Action  string   `json:"action"`
	ID      int      `json:"id,omitempty"`
	Names   []string `json:"names,omitempty"`
	Depth   int      `json:"depth,omitempty"`
	Animate bool     `json:"animate,omitempty"`
}

// navigate runs req detached from the caller, since animated transitions
// settle after the request has returned.
func (s *Server) navigate(req NavigateRequest) error {
	ctx := context.Background()
	switch req.Action {
	case ActionDrill:
		return s.nav.DrillInto(ctx, req.ID)
	case ActionJump:
		id := req.ID
		if len(req.Names) > 0 {
			n, ok := s.Tree().Resolve(req.Names)
			if !ok {
				return apperrors.New(apperrors.ErrCodeNodeNotFound, "no node at %q", strings.Join(req.Names, " / "))
			}
			id = n.ID
		}
		return s.nav.JumpTo(ctx, id, req.Animate)
	case ActionZoomOut:
		return s.nav.ZoomOut(ctx)
	case ActionRoot:
		return s.nav.ZoomToRoot(ctx)
	case ActionBreadcrumb:
		return s.nav.BreadcrumbJump(ctx, req.Depth, req.Animate)
	default:
		return apperrors.New(apperrors.ErrCodeInvalidInput, "unknown action %q", req.Action)
	}
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.navigate(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if _, pending := s.nav.Pending(); pending {
		status = http.StatusAccepted
	}
	resp, err := s.view()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// Stateless scenes
// =============================================================================

var contentTypes = map[string]string{
	pipeline.FormatJSON: "application/json",
	pipeline.FormatDOT:  "text/vnd.graphviz",
	pipeline.FormatSVG:  "image/svg+xml",
}

// sceneOptions reads a stateless view from the query string:
// focus (repeated, root first), depth, regime (repeated), only_mapped and
// format.
func (s *Server) sceneOptions(r *http.Request) (pipeline.Options, string, error) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = pipeline.FormatJSON
	}
	if err := apperrors.ValidateFormat(format, pipeline.ValidFormats); err != nil {
		return pipeline.Options{}, "", err
	}

	s.mu.RLock()
	opts := pipeline.Options{
		Dataset:    s.dataset,
		Source:     s.opts.Source,
		RootName:   s.opts.RootName,
		Focus:      q["focus"],
		Depth:      s.nav.DepthWindow(),
		Regimes:    s.selectionNames(),
		OnlyMapped: s.nav.OnlyMapped(),
		Physics:    s.opts.Physics,
		Colors:     s.opts.Colors,
		Formats:    []string{format},
		Edges:      q.Get("edges") == "true",
		Labels:     q.Get("labels") != "false",
		Logger:     s.logger,
	}
	s.mu.RUnlock()

	if v := q.Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 {
			return opts, "", apperrors.New(apperrors.ErrCodeInvalidInput, "depth must be a positive integer")
		}
		opts.Depth = d
	}
	if regimes := q["regime"]; len(regimes) > 0 {
		opts.Regimes = regimes
	}
	if v := q.Get("only_mapped"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, "", apperrors.New(apperrors.ErrCodeInvalidInput, "only_mapped must be a boolean")
		}
		opts.OnlyMapped = b
	}
	if v := q.Get("inside"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, "", apperrors.New(apperrors.ErrCodeInvalidInput, "inside must be a boolean")
		}
		opts.FromInside = b
	}
	return opts, format, nil
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	opts, format, err := s.sceneOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.runner.Execute(r.Context(), opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("X-Cache-Scene", strconv.FormatBool(res.CacheInfo.SceneHit))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Artifacts[format])
}
