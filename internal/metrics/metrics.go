// Package metrics exposes Prometheus counters and histograms for the
// graph runtime and HTTP layer, grounded on api/main.go's
// promhttp.Handler() wiring from the teacher pack (the teacher's own
// metrics definitions file was not present in the retrieval pack, only
// its wiring point).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NodeExecutions counts each graph node's (node, status) outcomes,
	// so a fixed retry bound (spec §8 "Retry bound") is observable
	// directly from sql_generation's count per request in aggregate.
	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eduquery_node_executions_total",
		Help: "Graph node executions by node name and outcome status.",
	}, []string{"node", "status"})

	// HiddenContextRetries counts successful hidden_context executions,
	// labelled by the retry_count they bring the request to (bounded by
	// spec §4.1 "MAX_RETRY = 2").
	HiddenContextRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eduquery_hidden_context_retries_total",
		Help: "hidden_context node executions by resulting retry_count.",
	}, []string{"retry_count"})

	// SQLGateRejections counts read-only gate rejections (spec §4.5
	// step 2, §8 "Read-only safety").
	SQLGateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eduquery_sql_gate_rejections_total",
		Help: "SQL statements rejected by the read-only safety gate.",
	}, []string{"source"})

	// RequestDuration observes end-to-end /api/chat* latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eduquery_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// Middleware wraps an http.Handler, recording RequestDuration per
// request. Grounded on api/main.go's metrics.Middleware wiring point.
func Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			RequestDuration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
