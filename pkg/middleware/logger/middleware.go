package logger

import (
	"bytes"
	"io"
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/auth"
	"go.uber.org/zap"
)

type Middleware struct {
	access *zap.Logger
	bodies bodyPolicy
}

// NewMiddleware writes access logs to l. Request bodies are logged only for
// the given route patterns, DefaultBodyLogPaths when none are given.
func NewMiddleware(l *zap.Logger, bodyPaths ...string) *Middleware {
	if l == nil {
		l = zap.NewNop()
	}
	if len(bodyPaths) == 0 {
		bodyPaths = DefaultBodyLogPaths
	}
	return &Middleware{access: l, bodies: newBodyPolicy(bodyPaths)}
}

func (m *Middleware) Middleware(ca *auth.Middleware) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := m.access

			// Wrap writer
			ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)

			// Read and RESTORE request body so downstream can consume it
			// A read error (an oversized body) is replayed after the bytes
			// that were read.
			var body []byte
			if r.Body != nil {
				b, err := io.ReadAll(r.Body)
				r.Body.Close()
				body = b
				var rest io.Reader = bytes.NewReader(b)
				if err != nil {
					rest = io.MultiReader(rest, errReader{err})
				}
				r.Body = io.NopCloser(rest)
			}

			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}

			start := time.Now()
			defer func() {
				lat := time.Since(start)

				// nil-safe auth lookups
				isAuth := false
				username := ""
				role := ""
				provider := ""
				if ca != nil {
					isAuth = ca.IsAuthenticated(r.Context())
					u := ca.GetUser(r.Context())
					username = u.Username
					role = u.Role.Name
					provider = u.AuthenticationSource.Provider
				}

				log := l.With(
					zap.String("dateTime", start.UTC().Format(time.RFC1123)),
					zap.String("requestId", chimd.GetReqID(r.Context())),
					zap.String("httpScheme", scheme),
					zap.Bool("isAuthenticated", isAuth),
					zap.String("username", username),
					zap.String("role", role),
					zap.String("authenticationProvider", provider),
					zap.String("httpProto", r.Proto),
					zap.String("httpMethod", r.Method),
					zap.String("remoteAddr", r.RemoteAddr),
					zap.String("uri", r.URL.Path),
					zap.Duration("lat", lat),
					zap.Int("responseSize", ww.BytesWritten()),
					zap.Int("status", ww.Status()),
				)
				if fs := ww.Header().Get("X-Pipeline-Failed-Step"); fs != "" {
					log = log.With(zap.String("failedStep", fs))
				}

				// Redact by default; allowlist small JSON bodies only.
				if m.bodies.allows(r, body) {
					log.Info("", zap.ByteString("requestData", body))
				} else {
					log.Info("")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
