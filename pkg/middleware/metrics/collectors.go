package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "response_time",
			Help:    "http response time.",
			Buckets: []float64{0.005, 0.05, 0.5, 1, 5, 10, 30, 60},
		},
	)

	totalHttpRequestsFromRole = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_from_role", Help: "http requests from role"},
		[]string{"role"},
	)

	totalHttpRequestsToUri = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests_to_uri", Help: "http requests to uri"},
		[]string{"code", "uri", "method"},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "total_http_requests", Help: "http requests by code, and method"},
		[]string{"code", "method"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "functions_cache_lookups_total", Help: "code cache lookups by result"},
		[]string{"result"},
	)

	preCacheDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "functions_precache_duration_seconds",
			Help:    "time spent enriching an entry before caching it.",
			Buckets: prometheus.DefBuckets,
		},
	)

	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "functions_pipeline_runs_total", Help: "pipeline runs by outcome"},
		[]string{"outcome"},
	)

	runFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "functions_http_run_failures_total", Help: "requests answered with a failed function step"},
		[]string{"uri"},
	)

	pipelineStepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "functions_pipeline_step_duration_seconds",
			Help:    "execution time of a single pipeline step.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		responseTime,
		totalHttpRequestsFromRole,
		totalHttpRequestsToUri,
		totalHttpRequests,
		cacheLookups,
		preCacheDuration,
		pipelineRuns,
		pipelineStepDuration,
		runFailures,
	)
}
