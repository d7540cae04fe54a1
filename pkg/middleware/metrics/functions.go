package metrics

import "time"

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// Pipeline outcomes.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunNotFound  = "not_found"
	RunInvalid   = "invalid"
)

func ObserveCacheLookup(result string) { cacheLookups.WithLabelValues(result).Inc() }

func ObservePreCache(d time.Duration) { preCacheDuration.Observe(d.Seconds()) }

func ObservePipelineRun(outcome string) { pipelineRuns.WithLabelValues(outcome).Inc() }

func ObservePipelineStep(d time.Duration) { pipelineStepDuration.Observe(d.Seconds()) }
