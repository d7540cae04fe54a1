package core

import (
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	manifest "github.com/joeydtaylor/steeze-functions/pkg/manifest"
	hmetrics "github.com/joeydtaylor/steeze-functions/pkg/middleware/metrics"
	"go.uber.org/zap"
)

// BuildRouter mounts the registry, run and pipeline routes. The manifest
// decides each named route's guard and timeout.
func BuildRouter(cfg manifest.Config, d BuildDeps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handlers{reg: d.Registry, run: d.Runner, log: d.Log.Named("http")}

	r := d.Router
	r.Use(chimd.RequestID, chimd.Recoverer, chimd.Heartbeat("/ping"))
	r.Use(limitBody(cfg.Server.BodyLimitBytes))

	if d.Auth != nil {
		r.Use(d.Auth.Middleware())
		if d.LogMW != nil {
			r.Use(d.LogMW.Middleware(d.Auth))
		}
		// metrics collector that references auth state without copying it
		r.Use(hmetrics.Collect(d.Auth))
	} else if d.LogMW != nil {
		r.Use(d.LogMW.Middleware(nil))
	}

	if d.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", d.Metrics)
	}

	route := func(name string, fn http.HandlerFunc) http.Handler {
		rt := cfg.Route(name)
		if rt.Policy.TimeoutMS > 0 {
			fn = withTimeout(fn, time.Duration(rt.Policy.TimeoutMS)*time.Millisecond)
		}
		return withGuard(fn, d.Auth, rt.Guard)
	}

	r.Get("/healthcheck", route(manifest.RouteHealthcheck, h.healthcheck))

	r.Get("/functions", route(manifest.RouteList, h.list))
	r.Put("/functions/pipeline", route(manifest.RoutePipeline, h.pipeline))
	r.Post("/functions/{namespace}/{id}", route(manifest.RouteCreate, h.create))
	r.Put("/functions/{namespace}/{id}", route(manifest.RouteUpsert, h.upsert))
	r.Get("/functions/{namespace}/{id}", route(manifest.RouteGet, h.get))
	r.Delete("/functions/{namespace}/{id}", route(manifest.RouteDelete, h.delete))
	r.Put("/functions/{namespace}/{id}/env/{env}", route(manifest.RouteEnvSet, h.setEnv))
	r.Delete("/functions/{namespace}/{id}/env/{env}", route(manifest.RouteEnvDelete, h.deleteEnv))
	r.HandleAll("/functions/{namespace}/{id}/run", route(manifest.RouteRun, h.runOne))

	r.HandleAll("/run/{namespace}/{id}", route(manifest.RoutePublicRun, h.runExposed))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r.Mux()
}
