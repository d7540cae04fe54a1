package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Collect(nil))
	r.Get("/functions/{namespace}/{id}", func(w http.ResponseWriter, _ *http.Request) {})
	r.Put("/functions/pipeline", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Pipeline-Failed-Step", "ns/b")
		w.WriteHeader(http.StatusInternalServerError)
	})

	byURI := totalHttpRequestsToUri.WithLabelValues("200", "/functions/{namespace}/{id}", "GET")
	failed := runFailures.WithLabelValues("/functions/pipeline")
	anon := totalHttpRequestsFromRole.WithLabelValues("anonymous")
	beforeURI, beforeFailed, beforeAnon := testutil.ToFloat64(byURI), testutil.ToFloat64(failed), testutil.ToFloat64(anon)

	for _, path := range []string{"/functions/a/1", "/functions/b/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/functions/pipeline", nil))

	assert.Equal(t, beforeURI+2, testutil.ToFloat64(byURI))
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(failed))
	assert.Equal(t, beforeAnon+3, testutil.ToFloat64(anon))
}

func TestUnmatchedPathsShareOneSeries(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Collect(nil))
	r.Get("/functions", func(w http.ResponseWriter, _ *http.Request) {})

	c := totalHttpRequestsToUri.WithLabelValues("404", UnmatchedRoute, "GET")
	before := testutil.ToFloat64(c)
	for _, path := range []string{"/wp-admin", "/.env", "/scan/1"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, before+3, testutil.ToFloat64(c))
	assert.Equal(t, 0.0, testutil.ToFloat64(totalHttpRequestsToUri.WithLabelValues("404", "/wp-admin", "GET")))
}

func TestCollectSkipsPaths(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Collect(nil, WithSkipPaths("/healthcheck")))
	r.Get("/healthcheck", func(w http.ResponseWriter, _ *http.Request) {})
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {})

	c := totalHttpRequests.WithLabelValues("200", "GET")
	before := testutil.ToFloat64(c)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, before, testutil.ToFloat64(c))
}

func TestDomainObservers(t *testing.T) {
	hit := cacheLookups.WithLabelValues(CacheHit)
	before := testutil.ToFloat64(hit)
	ObserveCacheLookup(CacheHit)
	assert.Equal(t, before+1, testutil.ToFloat64(hit))

	runs := pipelineRuns.WithLabelValues(RunFailed)
	before = testutil.ToFloat64(runs)
	ObservePipelineRun(RunFailed)
	assert.Equal(t, before+1, testutil.ToFloat64(runs))

	ObservePreCache(time.Millisecond)
	ObservePipelineStep(time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(preCacheDuration))
}
