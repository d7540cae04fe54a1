package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/auth"
)

type collectConfig struct {
	skip      map[string]bool
	normalize func(*http.Request) string
}

type Option func(*collectConfig)

// WithSkipPaths adds raw paths that are never recorded. /metrics and /ping
// are always skipped.
func WithSkipPaths(paths ...string) Option {
	return func(c *collectConfig) {
		for _, p := range paths {
			c.skip[p] = true
		}
	}
}

// WithNormalizer replaces the uri label function. Defaults to RoutePattern.
func WithNormalizer(fn func(*http.Request) string) Option {
	return func(c *collectConfig) {
		if fn != nil {
			c.normalize = fn
		}
	}
}

// UnmatchedRoute is the uri label for requests no route matched.
const UnmatchedRoute = "unmatched"

// RoutePattern labels a request with the chi pattern it matched, so
// /functions/a/b and /functions/c/d share one series. Unmatched requests all
// share UnmatchedRoute.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return UnmatchedRoute
}

// Collect produces the HTTP middleware that records the request counters,
// the response time histogram and failed function runs.
func Collect(ca *auth.Middleware, opts ...Option) func(next http.Handler) http.Handler {
	cfg := collectConfig{
		skip:      map[string]bool{"/metrics": true, "/ping": true},
		normalize: RoutePattern,
	}
	for _, o := range opts {
		o(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				role := "anonymous"
				if ca != nil && ca.IsAuthenticated(r.Context()) {
					role = ca.GetUser(r.Context()).Role.Name
				}

				code := strconv.Itoa(ww.Status())
				uri := cfg.normalize(r)

				totalHttpRequestsFromRole.WithLabelValues(role).Inc()
				totalHttpRequestsToUri.WithLabelValues(code, uri, r.Method).Inc()
				totalHttpRequests.WithLabelValues(code, r.Method).Inc()
				responseTime.Observe(time.Since(start).Seconds())

				if ww.Header().Get("X-Pipeline-Failed-Step") != "" {
					runFailures.WithLabelValues(uri).Inc()
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
