// Package store is the durable home of code entries. Drivers must write an
// entry's code and hash in one transaction and recompute the hash from the
// code on every write.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/joeydtaylor/steeze-functions/pkg/function"
	"go.uber.org/zap"
)

// Store is the primary store contract.
type Store interface {
	// Create writes the entry only when the identity is free. created is
	// false, with a nil error, when it already existed.
	Create(ctx context.Context, namespace, id string, e function.Entry) (created bool, err error)
	// Upsert always overwrites code and hash. Env and Exposed are replaced
	// only when non-nil.
	Upsert(ctx context.Context, namespace, id string, e function.Entry) error
	// Get returns nil, nil when the identity is absent.
	Get(ctx context.Context, namespace, id string) (*function.Entry, error)
	// Delete reports how many entries were removed (0 or 1).
	Delete(ctx context.Context, namespace, id string) (int, error)
	SetEnv(ctx context.Context, namespace, id, name, value string) error
	DeleteEnv(ctx context.Context, namespace, id, name string) error
	ListNamespaces(ctx context.Context, page, perPage int) (function.NamespacePage, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"

	DefaultPerPage = 10
	MaxPerPage     = 100
)

// Config selects and configures a driver.
type Config struct {
	Driver     string `toml:"driver"`
	Path       string `toml:"path"`
	InMemory   bool   `toml:"in_memory"`
	SyncWrites bool   `toml:"sync_writes"`
}

// Open builds the configured driver.
func Open(cfg Config, log *zap.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverBadger:
		return OpenBadger(cfg, log)
	case DriverSQLite:
		return OpenSQLite(cfg)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// paginate turns namespace -> ids into one sorted page.
func paginate(groups map[string][]string, page, perPage int) function.NamespacePage {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	names := make([]string, 0, len(groups))
	for ns := range groups {
		names = append(names, ns)
	}
	sort.Strings(names)

	out := function.NamespacePage{
		Items:   []function.NamespaceItem{},
		Page:    page,
		PerPage: perPage,
		Total:   len(names),
	}
	start := (page - 1) * perPage
	if start >= len(names) {
		return out
	}
	end := min(start+perPage, len(names))
	for _, ns := range names[start:end] {
		ids := groups[ns]
		sort.Strings(ids)
		out.Items = append(out.Items, function.NamespaceItem{Namespace: ns, Functions: ids})
	}
	return out
}

func refOf(namespace, id string) function.Ref {
	return function.Ref{Namespace: namespace, ID: id}
}
