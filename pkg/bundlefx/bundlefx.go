// Package bundlefx provides the registry's domain graph: store, cache tier,
// sandbox, coordinator, registry service, pipeline executor and tracing.
package bundlefx

import (
	"context"

	"github.com/joeydtaylor/steeze-functions/pkg/cache"
	"github.com/joeydtaylor/steeze-functions/pkg/manifest"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/auth"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/logger"
	"github.com/joeydtaylor/steeze-functions/pkg/pipeline"
	"github.com/joeydtaylor/steeze-functions/pkg/registry"
	"github.com/joeydtaylor/steeze-functions/pkg/sandbox"
	"github.com/joeydtaylor/steeze-functions/pkg/store"
	"github.com/joeydtaylor/steeze-functions/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sections splits the manifest into the per-package configs.
type Sections struct {
	fx.Out

	Store     store.Config
	Cache     cache.Config
	Sandbox   sandbox.Config
	Auth      auth.Config
	Telemetry telemetry.Config
	Log       logger.Config
}

func provideSections(cfg manifest.Config) Sections {
	return Sections{
		Store:     cfg.Store,
		Cache:     cfg.Cache,
		Sandbox:   cfg.Sandbox,
		Auth:      cfg.Auth,
		Telemetry: cfg.Telemetry,
		Log:       cfg.Log,
	}
}

func provideStore(lc fx.Lifecycle, cfg store.Config, log *zap.Logger) (store.Store, error) {
	st, err := store.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		log.Info("closing store", zap.String("driver", cfg.Driver))
		return st.Close()
	}})
	return st, nil
}

func provideTier(lc fx.Lifecycle, cfg cache.Config) (cache.Tier, error) {
	t, err := cache.NewRistretto(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(t.Close))
	return t, nil
}

func provideService(st store.Store, tier cache.Tier, sb *sandbox.Sandbox, log *zap.Logger) *registry.Service {
	return registry.NewService(st, tier, sb, log)
}

func provideExecutor(c *registry.Coordinator, sb *sandbox.Sandbox, log *zap.Logger) *pipeline.Executor {
	return pipeline.NewExecutor(c, sb, log)
}

func registerTelemetry(lc fx.Lifecycle, cfg telemetry.Config, log *zap.Logger) {
	var shutdown telemetry.Shutdown
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.Init(ctx, cfg)
			if err != nil {
				return err
			}
			log.Info("tracing ready", zap.String("exporter", cfg.TraceExporter))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

// Module expects a manifest.Config in the graph.
var Module = fx.Options(
	fx.Provide(provideSections),
	logger.Module,
	fx.Provide(
		provideStore,
		provideTier,
		sandbox.New,
		registry.NewCoordinator,
		provideService,
		provideExecutor,
	),
	fx.Invoke(registerTelemetry),
)
