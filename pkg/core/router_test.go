package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joeydtaylor/steeze-functions/pkg/cache"
	"github.com/joeydtaylor/steeze-functions/pkg/function"
	manifest "github.com/joeydtaylor/steeze-functions/pkg/manifest"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/auth"
	"github.com/joeydtaylor/steeze-functions/pkg/pipeline"
	"github.com/joeydtaylor/steeze-functions/pkg/registry"
	"github.com/joeydtaylor/steeze-functions/pkg/sandbox"
	"github.com/joeydtaylor/steeze-functions/pkg/store"
	httpx "github.com/joeydtaylor/steeze-functions/pkg/transport/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-secret"

func newServer(t *testing.T, edit func(*manifest.Config)) http.Handler {
	t.Helper()

	cfg := manifest.Config{Store: store.Config{InMemory: true}}
	if edit != nil {
		edit(&cfg)
	}
	require.NoError(t, cfg.Validate())

	st, err := store.OpenBadger(cfg.Store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	tier, err := cache.NewRistretto(cfg.Cache)
	require.NoError(t, err)
	t.Cleanup(tier.Close)

	sb := sandbox.New(cfg.Sandbox, nil)
	return BuildRouter(cfg, BuildDeps{
		Auth:     auth.New(cfg.Auth),
		Router:   httpx.NewChi(),
		Registry: registry.NewService(st, tier, sb, nil),
		Runner:   pipeline.NewExecutor(registry.NewCoordinator(st, tier, nil), sb, nil),
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func put(t *testing.T, h http.Handler, ref, code string, exposed *bool) {
	t.Helper()
	rec := do(t, h, http.MethodPut, "/functions/"+ref, map[string]any{"code": code, "exposed": exposed})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestEntryLifecycle(t *testing.T) {
	h := newServer(t, nil)
	code := "body = { ok = true }"
	etag := `"` + function.Digest(code) + `"`

	rec := do(t, h, http.MethodPost, "/functions/acme/hello", map[string]any{"code": code, "env": map[string]string{"A": "1"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, etag, rec.Header().Get("ETag"))
	got := decodeJSONBody(t, rec)
	assert.Equal(t, "hello", got["id"])
	assert.Equal(t, function.Digest(code), got["hash"])
	assert.Equal(t, map[string]any{"A": "1"}, got["env"])

	rec = do(t, h, http.MethodPost, "/functions/acme/hello", map[string]any{"code": "body = 2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/functions/acme/hello", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, etag, rec.Header().Get("ETag"))
	assert.Equal(t, code, decodeJSONBody(t, rec)["code"])

	// a fetched entry can be sent back as is; id and hash are ignored
	rec = do(t, h, http.MethodPut, "/functions/acme/hello", map[string]any{
		"id": "other", "hash": "bogus", "code": "body = 2", "exposed": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decodeJSONBody(t, rec)
	assert.Equal(t, "hello", got["id"])
	assert.Equal(t, function.Digest("body = 2"), got["hash"])
	assert.Equal(t, true, got["exposed"])
	assert.Equal(t, map[string]any{"A": "1"}, got["env"], "env untouched when omitted")

	rec = do(t, h, http.MethodDelete, "/functions/acme/hello", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/functions/acme/hello", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/functions/acme/hello", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteValidation(t *testing.T) {
	h := newServer(t, nil)

	rec := do(t, h, http.MethodPut, "/functions/acme/bad", map[string]any{"code": "status = "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeJSONBody(t, rec)["details"])

	rec = do(t, h, http.MethodPut, "/functions/acme/bad", map[string]any{"code": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/functions/acme/bad", `{"code":"body = 1","extra":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/functions/acme/bad", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/functions/acme/bad", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "rejected writes leave nothing behind")
}

func TestEnvRoutes(t *testing.T) {
	h := newServer(t, nil)
	put(t, h, "acme/fn", "body = env.GREETING", nil)

	rec := do(t, h, http.MethodPut, "/functions/acme/fn/env/GREETING", `"hi"`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/functions/acme/fn/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `"hi"`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/functions/acme/fn/env/GREETING", `{"value":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/functions/acme/fn/env/GREETING", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/functions/acme/fn", nil)
	assert.Nil(t, decodeJSONBody(t, rec)["env"])

	rec = do(t, h, http.MethodPut, "/functions/acme/ghost/env/A", `"1"`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRoute(t *testing.T) {
	h := newServer(t, nil)
	put(t, h, "b/one", "body = 1", nil)
	put(t, h, "a/one", "body = 1", nil)
	put(t, h, "a/two", "body = 1", nil)

	rec := do(t, h, http.MethodGet, "/functions?perPage=1&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[{"namespace":"b","functions":["one"]}],"page":2,"perPage":1,"total":2}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/functions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 10, decodeJSONBody(t, rec)["perPage"])

	for _, q := range []string{"perPage=0", "perPage=101", "page=zero"} {
		rec = do(t, h, http.MethodGet, "/functions?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestPipelineRoute(t *testing.T) {
	h := newServer(t, nil)
	put(t, h, "acme/one", `
body  = { n = req.body.n }
state = { visited = ["one"] }
`, nil)
	put(t, h, "acme/two", `
status  = 201
headers = { "x-step" = "two" }
body    = { n = res.body.n + 1, visited = concat(state.visited, ["two"]), q = req.query.tag }
`, nil)

	rec := do(t, h, http.MethodPut, "/functions/pipeline?steps=acme/one&steps=acme/two&tag=x", map[string]int{"n": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "two", rec.Header().Get("x-step"))
	assert.JSONEq(t, `{"n":2,"visited":["one","two"],"q":"x"}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/functions/pipeline?steps=acme/one,acme/ghost", map[string]int{"n": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "acme/ghost")

	rec = do(t, h, http.MethodPut, "/functions/pipeline", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/functions/pipeline?steps=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPipelineFailures(t *testing.T) {
	h := newServer(t, nil)
	put(t, h, "acme/one", `body = { n = 1 }`, nil)
	put(t, h, "acme/deny", `
status = 422
body   = { reason = "quota" }
error  = "quota exceeded"
`, nil)
	put(t, h, "acme/broken", `body = req.body.n + 1`, nil)

	rec := do(t, h, http.MethodPut, "/functions/pipeline?steps=acme/one&steps=acme/deny&steps=acme/one", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "acme/deny", rec.Header().Get("X-Pipeline-Failed-Step"))
	assert.JSONEq(t, `{"reason":"quota"}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/functions/pipeline?steps=acme/one&steps=acme/broken", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "acme/broken", rec.Header().Get("X-Pipeline-Failed-Step"))
	got := decodeJSONBody(t, rec)
	assert.Equal(t, "acme/broken", got["step"])
	assert.EqualValues(t, 1, got["index"])
	assert.NotEmpty(t, got["error"])
}

// stallingRuntime runs the sandbox but blocks the function named stall
// until its context ends.
type stallingRuntime struct {
	*sandbox.Sandbox
	stall string
}

func (r stallingRuntime) Execute(ctx context.Context, h function.Handle, fc *function.Context, env map[string]string) (*function.Response, error) {
	if fc.Ref.ID != r.stall {
		return r.Sandbox.Execute(ctx, h, fc, env)
	}
	<-ctx.Done()
	return nil, &function.Fault{Message: ctx.Err().Error(), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded)}
}

func TestPipelineTimeoutAnswersGatewayTimeout(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg := manifest.Config{
		Store:  store.Config{InMemory: true},
		Routes: []manifest.Route{{Name: manifest.RoutePipeline, Policy: manifest.Policy{TimeoutMS: 50}}},
	}
	require.NoError(t, cfg.Validate())

	st, err := store.OpenBadger(cfg.Store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	tier, err := cache.NewRistretto(cfg.Cache)
	require.NoError(t, err)
	t.Cleanup(tier.Close)

	sb := sandbox.New(cfg.Sandbox, nil)
	h := BuildRouter(cfg, BuildDeps{
		Router:   httpx.NewChi(),
		Registry: registry.NewService(st, tier, sb, nil),
		Runner:   pipeline.NewExecutor(registry.NewCoordinator(st, tier, nil), stallingRuntime{Sandbox: sb, stall: "slow"}, nil),
	})
	put(t, h, "acme/one", `body = { n = 1 }`, nil)
	put(t, h, "acme/slow", `body = res.body`, nil)

	rec := do(t, h, http.MethodPut, "/functions/pipeline?steps=acme/one,acme/slow,acme/one", nil)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	assert.Equal(t, "acme/slow", rec.Header().Get("X-Pipeline-Failed-Step"))
	got := decodeJSONBody(t, rec)
	assert.Equal(t, "acme/slow", got["step"])
	assert.EqualValues(t, 1, got["index"])
}

func TestRunRoutes(t *testing.T) {
	h := newServer(t, nil)
	put(t, h, "acme/echo", `body = { method = req.method, body = req.body }`, nil)
	put(t, h, "acme/open", `body = "public"`, function.Bool(true))

	rec := do(t, h, http.MethodPost, "/functions/acme/echo/run", "plain text")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"method":"POST","body":"plain text"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/run/acme/echo", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/run/acme/open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"public"`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/run/acme/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteGuards(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	h := newServer(t, func(c *manifest.Config) {
		c.Auth.JWTSecret = testSecret
		c.Routes = []manifest.Route{{Name: manifest.RoutePipeline, Guard: manifest.Guard{Roles: []string{"runner"}}}}
	})
	sign := func(role string) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  "alice",
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return "Bearer " + tok
	}
	body := map[string]any{"code": "body = 1"}

	rec := do(t, h, http.MethodPut, "/functions/acme/fn", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPut, "/functions/acme/fn", body, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPut, "/functions/acme/fn", body, "Authorization", sign("dev"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/functions/acme/fn", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay open")

	rec = do(t, h, http.MethodPut, "/functions/pipeline?steps=acme/fn", nil, "Authorization", sign("dev"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodPut, "/functions/pipeline?steps=acme/fn", nil, "Authorization", sign("runner"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteGuardsWithEnvSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	h := newServer(t, nil)
	body := map[string]any{"code": "body = 1"}

	rec := do(t, h, http.MethodPut, "/functions/acme/fn", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodDelete, "/functions/acme/fn", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/functions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTunedWriteRouteKeepsAuth(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	h := newServer(t, func(c *manifest.Config) {
		c.Auth.JWTSecret = testSecret
		c.Routes = []manifest.Route{{Name: manifest.RouteCreate, Policy: manifest.Policy{TimeoutMS: 500}}}
	})

	rec := do(t, h, http.MethodPost, "/functions/acme/fn", map[string]any{"code": "body = 1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	h := newServer(t, func(c *manifest.Config) { c.Server.BodyLimitBytes = 32 })

	rec := do(t, h, http.MethodPut, "/functions/acme/big", map[string]any{"code": strings.Repeat("x", 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(t, h, http.MethodPut, "/functions/acme/small", map[string]any{"code": "body = 1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthRoutes(t *testing.T) {
	h := newServer(t, nil)

	rec := do(t, h, http.MethodGet, "/healthcheck", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoutesAnswerJSON(t *testing.T) {
	h := newServer(t, nil)

	rec := do(t, h, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no such route", decodeJSONBody(t, rec)["error"])

	rec = do(t, h, http.MethodPatch, "/functions/acme/fn", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
