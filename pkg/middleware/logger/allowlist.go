package logger

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// DefaultBodyLogPaths are the chi route patterns whose JSON request bodies
// are logged. Code and env writes are never on it.
var DefaultBodyLogPaths = []string{
	"/functions/pipeline",
	"/functions/{namespace}/{id}/run",
	"/run/{namespace}/{id}",
}

const maxLoggedBody = 1 << 16

// bodyPolicy decides which request bodies reach the access log.
type bodyPolicy struct {
	patterns map[string]bool
}

func newBodyPolicy(patterns []string) bodyPolicy {
	p := bodyPolicy{patterns: map[string]bool{}}
	for _, s := range patterns {
		if s = strings.TrimSpace(s); s != "" {
			p.patterns[s] = true
		}
	}
	return p
}

// allows reports whether body is a small JSON write to an allowlisted route.
func (p bodyPolicy) allows(r *http.Request, body []byte) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	if len(body) == 0 || len(body) > maxLoggedBody {
		return false
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return false
	}
	path := r.URL.Path
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		path = rc.RoutePattern()
	}
	return p.patterns[path]
}
