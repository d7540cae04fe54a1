// Package registry combines the primary store and the cache tier. The
// Coordinator serves reads through the cache-aside protocol; Service fronts
// every write.
package registry

import (
	"context"
	"time"

	"github.com/joeydtaylor/steeze-functions/pkg/cache"
	"github.com/joeydtaylor/steeze-functions/pkg/function"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/metrics"
	"github.com/joeydtaylor/steeze-functions/pkg/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// PreCache enriches an entry before it is cached, typically by compiling its
// code into a Handle. It runs at most once per content hash while the cached
// copy survives.
type PreCache func(function.Entry) (function.Entry, error)

const defaultParallelism = 8

// Coordinator reads entries through the cache. The primary store is read on
// every lookup; the cached copy is reused only while its hash matches.
//
// The tier holds one enrichment per content hash, so a Coordinator serves a
// single PreCache strategy. A caller with a different strategy needs its own
// Coordinator and Tier.
type Coordinator struct {
	store  store.Store
	tier   cache.Tier
	log    *zap.Logger
	tracer trace.Tracer

	parallelism int
	group       singleflight.Group
}

// NewCoordinator wires a coordinator. log may be nil.
func NewCoordinator(st store.Store, tier cache.Tier, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		store:       st,
		tier:        tier,
		log:         log.Named("coordinator"),
		tracer:      otel.Tracer("github.com/joeydtaylor/steeze-functions/pkg/registry"),
		parallelism: defaultParallelism,
	}
}

// GetByCache returns the entry for ref, enriched by pre. It returns nil, nil
// when the primary store has no such entry; the cache is not consulted then.
func (c *Coordinator) GetByCache(ctx context.Context, ref function.Ref, pre PreCache) (*function.Entry, error) {
	ctx, span := c.tracer.Start(ctx, "registry.GetByCache",
		trace.WithAttributes(attribute.String("function.ref", ref.String())))
	defer span.End()

	primary, err := c.store.Get(ctx, ref.Namespace, ref.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "primary read")
		return nil, err
	}
	if primary == nil {
		span.SetAttributes(attribute.Bool("function.found", false))
		return nil, nil
	}

	cached, err := c.tier.Get(ctx, ref.Namespace, ref.ID)
	if err != nil {
		c.log.Warn("cache read failed; treating as miss",
			zap.String("ref", ref.String()), zap.Error(err))
		cached = nil
	}

	if cached != nil && cached.Hash == primary.Hash {
		metrics.ObserveCacheLookup(metrics.CacheHit)
		span.SetAttributes(attribute.String("cache.result", metrics.CacheHit))
		return overlay(*cached, primary), nil
	}

	result := metrics.CacheMiss
	if cached != nil {
		result = metrics.CacheStale
	}
	metrics.ObserveCacheLookup(result)
	span.SetAttributes(attribute.String("cache.result", result))

	// Concurrent misses on the same content share one enrichment; the key
	// leaves pre out because the coordinator has a single strategy.
	v, err, _ := c.group.Do(ref.String()+"@"+primary.Hash, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), ref, *primary, pre)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "precache")
		return nil, err
	}
	return overlay(*v.(*function.Entry), primary), nil
}

// refresh runs pre and stores the result. A failed enrichment leaves the
// cache untouched; a failed cache write is logged and otherwise ignored.
func (c *Coordinator) refresh(ctx context.Context, ref function.Ref, primary function.Entry, pre PreCache) (*function.Entry, error) {
	enriched := primary.Clone()
	if pre != nil {
		start := time.Now()
		out, err := pre(enriched)
		metrics.ObservePreCache(time.Since(start))
		if err != nil {
			return nil, err
		}
		// pre may not change what the entry is
		out.Namespace, out.ID, out.Code, out.Hash = primary.Namespace, primary.ID, primary.Code, primary.Hash
		enriched = out
	}

	if err := c.tier.Put(ctx, ref.Namespace, ref.ID, &enriched); err != nil {
		c.log.Warn("cache write failed",
			zap.String("ref", ref.String()), zap.String("hash", primary.Hash), zap.Error(err))
	}
	return &enriched, nil
}

// overlay takes env and exposed from the primary read; neither is part of
// the hash, so the cached copy may hold old values.
func overlay(cached function.Entry, primary *function.Entry) *function.Entry {
	out := cached.Clone()
	out.Namespace = primary.Namespace
	out.ID = primary.ID
	p := primary.Clone()
	out.Env = p.Env
	out.Exposed = p.Exposed
	return &out
}

// GetManyByCache resolves every ref independently. The result is aligned
// with refs, with nil where an entry does not exist. The first error fails
// the whole call.
func (c *Coordinator) GetManyByCache(ctx context.Context, refs []function.Ref, pre PreCache) ([]*function.Entry, error) {
	ctx, span := c.tracer.Start(ctx, "registry.GetManyByCache",
		trace.WithAttributes(attribute.Int("function.count", len(refs))))
	defer span.End()

	out := make([]*function.Entry, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, ref := range refs {
		g.Go(func() error {
			e, err := c.GetByCache(gctx, ref, pre)
			if err != nil {
				return err
			}
			out[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}
