// Package server exposes a controlsphere dataset over HTTP.
//
// The server holds one shared view: a [nav.Navigator] over the current
// hierarchy. Clients read the view, move it with navigation commands, and
// follow it over a websocket that pushes every transition and settled scene.
// Stateless scenes and artifacts for arbitrary foci are served through the
// [pipeline.Runner], which caches them.
//
// Routes:
//
//	GET  /healthz
//	GET  /metrics              Prometheus metrics
//	GET  /api/tree             flat node list
//	GET  /api/search?q=        nodes whose name contains q
//	GET  /api/regimes          regime catalog with colors
//	GET  /api/view             current scene
//	PUT  /api/view             change depth window, regimes, only-mapped
//	POST /api/navigate         drill, jump, zoom_out, root, breadcrumb
//	GET  /api/scene            stateless scene (json, dot or svg)
//	GET  /api/events           websocket of focus events
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/core/nav"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
	"github.com/matzehuels/controlsphere/pkg/pipeline"
	"github.com/matzehuels/controlsphere/pkg/scene"
	"github.com/matzehuels/controlsphere/pkg/source"
)

// Options configures a [Server].
type Options struct {
	// Source is the dataset URI. Ignored when Dataset is set.
	Source   string
	Dataset  *source.Dataset
	RootName string

	Physics     layout.Options
	DepthWindow int
	Regimes     []string
	OnlyMapped  bool
	Colors      map[string]string

	// Instant settles animated transitions right after broadcasting them
	// instead of waiting for their duration.
	Instant bool

	// Registry receives the server's metrics. Nil uses a fresh registry.
	Registry *prometheus.Registry
	Logger   *log.Logger
}

// Server serves one dataset and its shared navigator.
type Server struct {
	runner  *pipeline.Runner
	logger  *log.Logger
	metrics *Metrics
	hub     *Hub
	router  chi.Router

	mu      sync.RWMutex
	opts    Options
	dataset *source.Dataset
	hash    string
	built   *hierarchy.Result
	catalog regime.Catalog
	palette *regime.Palette
	engine  *layout.Engine
	nav     *nav.Navigator
	cancel  func()
}

// New loads the dataset, lays out the initial outside view and wires the
// routes. The runner supplies caching and layout engines.
func New(ctx context.Context, runner *pipeline.Runner, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Regimes == nil {
		opts.Regimes = regime.DefaultSelection
	}
	palette, err := regime.NewPalette(opts.Colors)
	if err != nil {
		return nil, err
	}
	engine, err := runner.Engine(opts.Physics)
	if err != nil {
		return nil, err
	}

	s := &Server{
		runner:  runner,
		logger:  opts.Logger,
		metrics: NewMetrics(opts.Registry),
		opts:    opts,
		palette: palette,
		engine:  engine,
	}
	s.hub = NewHub(opts.Logger)

	ds, hash, built, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	n, err := nav.New(built.Tree, engine, nav.Options{
		DepthWindow: opts.DepthWindow,
		Selection:   regime.NewSelection(opts.Regimes...),
		OnlyMapped:  opts.OnlyMapped,
		Animator:    hubAnimator{hub: s.hub, instant: opts.Instant},
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.setData(ds, hash, built)
	s.nav = n
	s.cancel = n.Subscribe(s.broadcastEvent)
	if err := n.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial layout: %w", err)
	}

	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Metrics returns the server's metrics. [Metrics.Register] installs them as
// the process-wide observability hooks.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Navigator returns the shared navigator.
func (s *Server) Navigator() *nav.Navigator { return s.nav }

// Tree returns the current hierarchy.
func (s *Server) Tree() *hierarchy.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.built.Tree
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/tree", s.handleTree)
		r.Get("/search", s.handleSearch)
		r.Get("/regimes", s.handleRegimes)
		r.Get("/view", s.handleView)
		r.Put("/view", s.handleUpdateView)
		r.Post("/navigate", s.handleNavigate)
		r.Get("/scene", s.handleScene)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// =============================================================================
// Data
// =============================================================================

func (s *Server) load(ctx context.Context) (*source.Dataset, string, *hierarchy.Result, error) {
	popts := pipeline.Options{
		Source:    s.opts.Source,
		Dataset:   s.opts.Dataset,
		RootName:  s.opts.RootName,
		Refresh:   true,
		GlobalIDs: true,
		Logger:    s.logger,
	}
	ds, hash, _, err := s.runner.LoadWithCacheInfo(ctx, popts)
	if err != nil {
		return nil, "", nil, err
	}
	built, err := s.runner.Build(ctx, ds, popts)
	if err != nil {
		return nil, "", nil, err
	}
	return ds, hash, built, nil
}

func (s *Server) setData(ds *source.Dataset, hash string, built *hierarchy.Result) {
	catalog := regime.ParseCatalog(ds.Regimes)
	if len(catalog) == 0 {
		catalog = regime.ParseCatalog(built.Regimes)
	}
	s.mu.Lock()
	s.dataset, s.hash, s.built, s.catalog = ds, hash, built, catalog
	s.mu.Unlock()
}

// Reload reads the dataset again and swaps it into the navigator. The focus
// path is kept where the new tree still has it. An unchanged dataset is a
// no-op.
func (s *Server) Reload(ctx context.Context) error {
	if s.opts.Dataset != nil {
		return nil
	}
	ds, hash, built, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.mu.RLock()
	same := hash == s.hash
	s.mu.RUnlock()
	if same {
		s.logger.Debug("dataset unchanged", "source", s.opts.Source)
		return nil
	}
	s.setData(ds, hash, built)
	s.logger.Info("dataset reloaded", "source", s.opts.Source, "nodes", built.Tree.Len(), "skipped", built.Skipped)
	return s.nav.Reload(ctx, built.Tree)
}

// ViewSettings are the user-adjustable parts of the view.
type ViewSettings struct {
	DepthWindow *int     `json:"depth_window,omitempty"`
	Regimes     []string `json:"regimes,omitempty"`
	OnlyMapped  *bool    `json:"only_mapped,omitempty"`
}

// ApplySettings changes the shared view. Nil fields are left alone.
func (s *Server) ApplySettings(ctx context.Context, v ViewSettings) error {
	if v.DepthWindow != nil && *v.DepthWindow != s.nav.DepthWindow() {
		if err := s.nav.SetDepthWindow(ctx, *v.DepthWindow); err != nil {
			return err
		}
	}
	if v.Regimes != nil {
		sel := regime.NewSelection(v.Regimes...)
		if !sel.Equal(s.nav.Selection()) {
			if err := s.nav.SetSelection(ctx, sel); err != nil {
				return err
			}
		}
	}
	if v.OnlyMapped != nil && *v.OnlyMapped != s.nav.OnlyMapped() {
		if err := s.nav.SetOnlyMapped(ctx, *v.OnlyMapped); err != nil {
			return err
		}
	}
	return nil
}

// SetPhysics retunes the layout engine. Cached subtree simulations are
// reheated rather than restarted, so the current view moves smoothly.
func (s *Server) SetPhysics(ctx context.Context, physics layout.Options) error {
	physics.SetDefaults()
	if physics == s.engine.Options() {
		return nil
	}
	if err := s.engine.SetOptions(physics); err != nil {
		return err
	}
	s.mu.Lock()
	s.opts.Physics = physics
	s.mu.Unlock()
	return s.nav.Refresh(ctx)
}

// SetColors replaces the regime color overrides.
func (s *Server) SetColors(ctx context.Context, colors map[string]string) error {
	palette, err := regime.NewPalette(colors)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.palette = palette
	s.opts.Colors = colors
	s.mu.Unlock()
	return s.nav.Refresh(ctx)
}

// currentScene builds the scene of the settled view.
func (s *Server) currentScene() (*scene.Scene, error) {
	ev := s.nav.Event()
	s.mu.RLock()
	tree, palette := s.built.Tree, s.palette
	s.mu.RUnlock()
	if ev.Placement == nil {
		if err := s.nav.Err(); err != nil {
			return nil, err
		}
		return nil, scene.ErrNoPlacement
	}
	return scene.FromEvent(tree, ev, palette)
}

func (s *Server) broadcastEvent(ev nav.FocusEvent) {
	s.mu.RLock()
	tree, palette := s.built.Tree, s.palette
	s.mu.RUnlock()
	if ev.Revision != tree.Revision {
		return
	}
	sc, err := scene.FromEvent(tree, ev, palette)
	if err != nil {
		s.logger.Warn("scene for focus event", "error", err)
		return
	}
	s.hub.Broadcast(Message{Type: MessageFocus, Event: &ev, Scene: sc})
}

// =============================================================================
// Lifecycle
// =============================================================================

// ListenOptions configures [Server.ListenAndServe].
type ListenOptions struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, opts ListenOptions) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close disconnects websocket clients and stops following the navigator.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.hub.Close()
}

// selectionNames returns the current selection for responses.
func (s *Server) selectionNames() []string {
	return slices.Clone(s.nav.Selection().Names())
}
