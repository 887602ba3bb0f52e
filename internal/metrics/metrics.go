package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Completed job records served without calling the agent.
	JobCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "job_cache_hits_total",
			Help: "Total number of chat requests answered from a completed job record.",
		},
	)

	// Store operations by op (get|set|expire) and result (ok|miss|error).
	JobStoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_store_ops_total",
			Help: "Job state store operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// Agent run outcomes: finished | timed_out | failed.
	AgentRunOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_run_outcomes_total",
			Help: "Agent run submit/resume outcomes.",
		},
		[]string{"outcome"},
	)

	AgentRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_run_duration_seconds",
			Help:    "Time spent submitting and polling one agent run.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45},
		},
	)

	// Set to 1 for the backend chosen at startup.
	StoreBackendInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "job_store_backend_info",
			Help: "Job state store backend selected at startup.",
		},
		[]string{"backend"},
	)

	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 45},
		},
		[]string{"path", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register is called once in main() to register metrics.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			JobCacheHitsTotal,
			JobStoreOpsTotal,
			AgentRunOutcomesTotal,
			AgentRunDurationSeconds,
			StoreBackendInfo,
			GatewayLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request. The path label
// is the chi route pattern so unmatched paths do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		GatewayLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
