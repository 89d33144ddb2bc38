package core

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quantlab"

// Telemetry owns a private registry so tests can build as many as they like.
// A nil *Telemetry records nothing.
type Telemetry struct {
	registry      *prometheus.Registry
	stepDuration  *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	droppedAssets prometheus.Counter
	syncedBars    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func NewTelemetry() *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Duration of analytics pipeline steps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"kind", "step"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_runs_total",
			Help:      "Analytics runs by kind and outcome.",
		}, []string{"kind", "status"}),
		droppedAssets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_dropped_assets_total",
			Help:      "Assets excluded from an allocation for lack of data or variance.",
		}),
		syncedBars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_bars_inserted_total",
			Help:      "Bars written to the price store by symbol.",
		}, []string{"symbol"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	t.registry.MustRegister(
		t.stepDuration, t.runs, t.droppedAssets, t.syncedBars, t.httpRequests, t.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return t
}

func (t *Telemetry) ObserveStep(kind, step string, start time.Time) {
	if t == nil {
		return
	}
	t.stepDuration.WithLabelValues(kind, step).Observe(time.Since(start).Seconds())
}

func (t *Telemetry) CountRun(kind, status string) {
	if t == nil {
		return
	}
	t.runs.WithLabelValues(kind, status).Inc()
}

func (t *Telemetry) CountDropped(n int) {
	if t == nil || n == 0 {
		return
	}
	t.droppedAssets.Add(float64(n))
}

func (t *Telemetry) CountSyncedBars(symbol string, n int64) {
	if t == nil {
		return
	}
	t.syncedBars.WithLabelValues(symbol).Add(float64(n))
}

// Middleware records every request under its chi route pattern, not the raw path
func (t *Telemetry) Middleware(next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		t.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		t.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

func (t *Telemetry) Registry() *prometheus.Registry {
	if t == nil {
		return nil
	}
	return t.registry
}
