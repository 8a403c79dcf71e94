// Package metrics holds the Prometheus instrumentation of the sync engine
// and the daemon's HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "davsync_full_syncs_total",
		Help: "Total number of full syncs by outcome.",
	}, []string{"result"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "davsync_full_sync_duration_seconds",
		Help:    "Histogram of full sync durations.",
		Buckets: prometheus.DefBuckets,
	})

	remoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "davsync_remote_latency_seconds",
		Help:    "Histogram of remote call latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "davsync_optimistic_writes_total",
		Help: "Total number of optimistic writes by kind and outcome.",
	}, []string{"kind", "outcome"})

	replayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "davsync_replayed_operations_total",
		Help: "Total number of pending operations replayed by outcome.",
	}, []string{"outcome"})

	pendingOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "davsync_pending_operations",
		Help: "Number of operations waiting in the pending queue.",
	})

	online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "davsync_online",
		Help: "1 when the network monitor reports the server reachable.",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "davsync_http_requests_total",
		Help: "Total number of HTTP requests served by the daemon.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "davsync_http_request_duration_seconds",
		Help:    "Histogram of latencies for daemon HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Write outcomes.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeQueued    = "queued"
	OutcomeConflict  = "conflict"
)

// Replay outcomes.
const (
	ReplaySuccess  = "success"
	ReplayRetry    = "retry"
	ReplaySkipped  = "skipped"
	ReplayConflict = "conflict"
)

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveSync records a finished full sync.
func ObserveSync(start time.Time, ok bool) {
	syncsTotal.WithLabelValues(resultLabel(ok)).Inc()
	syncDuration.Observe(time.Since(start).Seconds())
}

// ObserveRemote records the latency of a ResourceClient call.
func ObserveRemote(operation string, start time.Time, err error) {
	remoteLatency.WithLabelValues(operation, resultLabel(err == nil)).Observe(time.Since(start).Seconds())
}

func CountWrite(kind, outcome string) {
	writesTotal.WithLabelValues(kind, outcome).Inc()
}

func CountReplay(outcome string) {
	replayTotal.WithLabelValues(outcome).Inc()
}

func SetPending(n int) {
	pendingOperations.Set(float64(n))
}

func SetOnline(v bool) {
	if v {
		online.Set(1)
	} else {
		online.Set(0)
	}
}

// Middleware records request metrics for the daemon's router.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
