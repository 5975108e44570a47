package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/controlsphere/pkg/observability"
)

const namespace = "controlsphere"

// Metrics records pipeline, layout, navigation, cache and HTTP activity in
// Prometheus. It implements every hook interface of the observability
// package.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	treeNodes     prometheus.Gauge
	skipped       prometheus.Gauge

	subtrees *prometheus.CounterVec
	ticks    prometheus.Histogram
	rewarms  *prometheus.CounterVec

	transitions *prometheus.CounterVec
	superseded  *prometheus.CounterVec
	focusDepth  prometheus.Gauge

	cacheOps   *prometheus.CounterVec
	cacheBytes prometheus.Counter

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	clients         prometheus.Gauge
}

var (
	_ observability.PipelineHooks   = (*Metrics)(nil)
	_ observability.LayoutHooks     = (*Metrics)(nil)
	_ observability.NavigationHooks = (*Metrics)(nil)
	_ observability.CacheHooks      = (*Metrics)(nil)
	_ observability.HTTPHooks       = (*Metrics)(nil)
)

// NewMetrics registers the collectors with reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"stage"}),
		stageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Failed pipeline stages",
		}, []string{"stage"}),
		treeNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tree_nodes",
			Help:      "Nodes in the most recently built hierarchy",
		}),
		skipped: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "skipped_records",
			Help:      "Records skipped by the most recent build",
		}),

		subtrees: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "layout",
			Name:      "subtree_simulations_total",
			Help:      "Container simulations run",
		}, []string{"container"}),
		ticks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "layout",
			Name:      "simulation_ticks",
			Help:      "Ticks per container simulation",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 8),
		}),
		rewarms: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "layout",
			Name:      "rewarms_total",
			Help:      "Cached simulations reheated",
		}, []string{"reason"}),

		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "transitions_total",
			Help:      "Focus transitions started",
		}, []string{"kind", "animated"}),
		superseded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "superseded_total",
			Help:      "Transitions dropped because a newer one started",
		}, []string{"kind"}),
		focusDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "navigation",
			Name:      "focus_depth",
			Help:      "Length of the current focus path",
		}),

		cacheOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Cache lookups and writes",
		}, []string{"key_type", "result"}),
		cacheBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "written_bytes_total",
			Help:      "Bytes written to the cache",
		}),

		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		clients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "websocket_clients",
			Help:      "Connected websocket clients",
		}),
	}
}

// Register installs m as the process-wide pipeline, layout, navigation and
// cache hooks. HTTP requests are recorded by [Metrics.Middleware].
func (m *Metrics) Register() {
	observability.SetPipelineHooks(m)
	observability.SetLayoutHooks(m)
	observability.SetNavigationHooks(m)
	observability.SetCacheHooks(m)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records each request. Routes are labelled by their chi pattern
// to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.OnResponse(r.Context(), r.Method, route, status, time.Since(start))
	})
}

// =============================================================================
// Hooks
// =============================================================================

func (m *Metrics) OnBuildStart(context.Context, string) {}

func (m *Metrics) OnBuildComplete(_ context.Context, _ string, nodeCount, skipped int, d time.Duration, err error) {
	m.stage("build", d, err)
	if err == nil {
		m.treeNodes.Set(float64(nodeCount))
		m.skipped.Set(float64(skipped))
	}
}

func (m *Metrics) OnLayoutStart(context.Context, string, int) {}

func (m *Metrics) OnLayoutComplete(_ context.Context, _ string, _ int, d time.Duration, err error) {
	m.stage("layout", d, err)
}

func (m *Metrics) OnRenderStart(context.Context, []string) {}

func (m *Metrics) OnRenderComplete(_ context.Context, _ []string, d time.Duration, err error) {
	m.stage("render", d, err)
}

func (m *Metrics) stage(name string, d time.Duration, err error) {
	m.stageDuration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) OnSubtree(_ context.Context, container string, _, ticks int) {
	m.subtrees.WithLabelValues(container).Inc()
	m.ticks.Observe(float64(ticks))
}

func (m *Metrics) OnRewarm(_ context.Context, _ string, reason string) {
	m.rewarms.WithLabelValues(reason).Inc()
}

func (m *Metrics) OnTransition(_ context.Context, kind string, animated bool) {
	m.transitions.WithLabelValues(kind, strconv.FormatBool(animated)).Inc()
}

func (m *Metrics) OnFocusChanged(_ context.Context, _ string, depth int, _ bool) {
	m.focusDepth.Set(float64(depth))
}

func (m *Metrics) OnSuperseded(_ context.Context, kind string) {
	m.superseded.WithLabelValues(kind).Inc()
}

func (m *Metrics) OnCacheHit(_ context.Context, keyType string) {
	m.cacheOps.WithLabelValues(keyType, "hit").Inc()
}

func (m *Metrics) OnCacheMiss(_ context.Context, keyType string) {
	m.cacheOps.WithLabelValues(keyType, "miss").Inc()
}

func (m *Metrics) OnCacheSet(_ context.Context, keyType string, size int) {
	m.cacheOps.WithLabelValues(keyType, "set").Inc()
	m.cacheBytes.Add(float64(size))
}

func (m *Metrics) OnRequest(context.Context, string, string) {}

func (m *Metrics) OnResponse(_ context.Context, method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
