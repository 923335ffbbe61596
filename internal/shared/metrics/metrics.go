package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for finished analysis jobs.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeNetwork   = "network"
)

// Toggle result labels.
const (
	ToggleApplied  = "applied"
	ToggleReverted = "reverted"
)

var (
	jobsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "insight_gateway",
			Name:      "jobs_started_total",
			Help:      "Total analysis jobs submitted to the compute service.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insight_gateway",
			Name:      "jobs_finished_total",
			Help:      "Total analysis jobs finished, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	jobDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "insight_gateway",
			Name:      "job_seconds",
			Help:      "Wall-clock time from submit to terminal outcome.",
			Buckets:   []float64{1, 3, 5, 10, 30, 60, 120, 180, 300},
		},
	)

	artifactEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "insight_gateway",
			Name:      "artifact_evictions_total",
			Help:      "Artifact store entries evicted to make room.",
		},
	)

	artifactDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "insight_gateway",
			Name:      "artifact_degraded_total",
			Help:      "Artifact writes that degraded to session-only retention.",
		},
	)

	artifactStoreBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "insight_gateway",
			Name:      "artifact_store_bytes",
			Help:      "Bytes currently held by the persistent artifact store.",
		},
	)

	visibilityTogglesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insight_gateway",
			Name:      "visibility_toggles_total",
			Help:      "Visibility toggles, partitioned by applied/reverted.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insight_gateway",
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, partitioned by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "insight_gateway",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

// Register attaches the gateway collectors to the supplied registerer.
// Double registration is not an error.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		jobsStartedTotal,
		jobsFinishedTotal,
		jobDurationSeconds,
		artifactEvictionsTotal,
		artifactDegradedTotal,
		artifactStoreBytes,
		visibilityTogglesTotal,
		httpRequestsTotal,
		httpRequestSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// JobStarted counts a submitted job.
func JobStarted() {
	jobsStartedTotal.Inc()
}

// JobFinished records a terminal outcome and the submit-to-terminal duration.
func JobFinished(outcome string, duration time.Duration) {
	switch outcome {
	case OutcomeCompleted, OutcomeFailed, OutcomeTimedOut, OutcomeNetwork:
	default:
		outcome = OutcomeFailed
	}
	jobsFinishedTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	jobDurationSeconds.Observe(duration.Seconds())
}

// ArtifactEvicted counts entries evicted from the artifact store.
func ArtifactEvicted(n int) {
	if n <= 0 {
		return
	}
	artifactEvictionsTotal.Add(float64(n))
}

// ArtifactDegraded counts a write that fell back to session-only retention.
func ArtifactDegraded() {
	artifactDegradedTotal.Inc()
}

// SetArtifactStoreBytes publishes the store's current size.
func SetArtifactStoreBytes(n int64) {
	if n < 0 {
		n = 0
	}
	artifactStoreBytes.Set(float64(n))
}

// VisibilityToggle records a toggle result.
func VisibilityToggle(result string) {
	if result != ToggleReverted {
		result = ToggleApplied
	}
	visibilityTogglesTotal.WithLabelValues(result).Inc()
}

// ObserveRequest records one handled HTTP request.
func ObserveRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	if duration < 0 {
		duration = 0
	}
	httpRequestSeconds.Observe(duration.Seconds())
}

// Handler exposes the default Prometheus registry in text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
