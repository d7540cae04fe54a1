// Package cache is the advisory tier in front of the primary store. It holds
// enriched entries (compiled handle included) keyed by namespace and id and
// never decides freshness itself: callers compare hashes.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/joeydtaylor/steeze-functions/pkg/function"
)

// Tier is the cache contract the coordinator depends on.
type Tier interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, namespace, id string) (*function.Entry, error)
	Put(ctx context.Context, namespace, id string, e *function.Entry) error
	Invalidate(ctx context.Context, namespace, id string) error
}

const (
	DefaultMaxEntries  = 10_000
	DefaultNumCounters = 100_000
)

// Config sizes the in-process tier. Entries are never expired by time.
type Config struct {
	MaxEntries  int64 `toml:"max_entries"`
	NumCounters int64 `toml:"num_counters"`
}

// Ristretto is a Tier backed by an in-process ristretto cache. Every entry
// costs 1, so MaxEntries bounds the entry count.
type Ristretto struct {
	c *ristretto.Cache[string, *function.Entry]
}

var _ Tier = (*Ristretto)(nil)

var errRejected = errors.New("cache: write dropped by admission policy")

// NewRistretto builds the tier. Zero values fall back to the defaults.
func NewRistretto(cfg Config) (*Ristretto, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = max(DefaultNumCounters, cfg.MaxEntries*10)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *function.Entry]{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: new ristretto: %w", err)
	}
	return &Ristretto{c: c}, nil
}

// Key is the cache key for one entry.
func Key(namespace, id string) string { return namespace + "/" + id }

func (r *Ristretto) Get(ctx context.Context, namespace, id string) (*function.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := r.c.Get(Key(namespace, id))
	if !ok || e == nil {
		return nil, nil
	}
	out := e.Clone()
	return &out, nil
}

// Put stores a copy of e and waits for the write buffer so the next Get sees
// it. A write refused by the admission policy is reported as an error.
func (r *Ristretto) Put(ctx context.Context, namespace, id string, e *function.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e == nil {
		return r.Invalidate(ctx, namespace, id)
	}
	cp := e.Clone()
	if !r.c.Set(Key(namespace, id), &cp, 1) {
		return errRejected
	}
	r.c.Wait()
	return nil
}

func (r *Ristretto) Invalidate(ctx context.Context, namespace, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.Del(Key(namespace, id))
	r.c.Wait()
	return nil
}

// Close stops ristretto's background goroutines.
func (r *Ristretto) Close() { r.c.Close() }
