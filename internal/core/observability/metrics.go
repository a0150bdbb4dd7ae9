package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	requestCost = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datagate_request_cost",
			Help:    "Estimated cost of priced requests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"route", "path"},
	)

	admissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_admission_decisions_total",
			Help: "Admission outcomes by client tier.",
		},
		[]string{"tier", "outcome"},
	)

	storeOps = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datagate_store_op_duration_seconds",
			Help:    "Latency of backing store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"backend", "op", "result"},
	)

	streamRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_stream_records_total",
			Help: "Records written to response streams.",
		},
		[]string{"route"},
	)

	streamOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_stream_outcomes_total",
			Help: "How response streams ended.",
		},
		[]string{"route", "outcome"},
	)

	metaCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_metacache_results_total",
			Help: "Metadata cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_invalidation_events_total",
			Help: "Metadata invalidation events by result.",
		},
		[]string{"result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datagate_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	initOnce sync.Once
)

// Init registers the collectors with reg. Observations made before Init,
// or without it, are recorded but never exported.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	initOnce.Do(func() {
		reg.MustRegister(
			httpRequestsTotal,
			httpRequestDurationSeconds,
			requestCost,
			admissionDecisions,
			storeOps,
			streamRecords,
			streamOutcomes,
			metaCacheResults,
			invalidations,
			buildInfo,
		)
	})
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCost(route, path string, cost float64) {
	requestCost.WithLabelValues(route, path).Observe(cost)
}

// IncAdmission records outcome ("allowed", "throttled", "scope") for tier.
func IncAdmission(tier, outcome string) {
	admissionDecisions.WithLabelValues(tier, outcome).Inc()
}

func ObserveStoreOp(backend, op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOps.WithLabelValues(backend, op, result).Observe(durationSeconds)
}

func AddStreamRecords(route string, n int) {
	if n > 0 {
		streamRecords.WithLabelValues(route).Add(float64(n))
	}
}

// IncStreamOutcome records how a stream ended: complete, error, not_found,
// too_broad or aborted.
func IncStreamOutcome(route, outcome string) {
	streamOutcomes.WithLabelValues(route, outcome).Inc()
}

func IncMetaCacheHit()  { metaCacheResults.WithLabelValues("hit").Inc() }
func IncMetaCacheMiss() { metaCacheResults.WithLabelValues("miss").Inc() }

func IncInvalidation(result string) { invalidations.WithLabelValues(result).Inc() }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
