package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/joeydtaylor/steeze-functions/pkg/function"
	"go.uber.org/zap"
)

const keyPrefix = "fn:"

// record is the persisted value under fn:<namespace>/<id>.
type record struct {
	ID      string            `json:"id"`
	Code    string            `json:"code"`
	Hash    string            `json:"hash"`
	Env     map[string]string `json:"env,omitempty"`
	Exposed *bool             `json:"exposed,omitempty"`
}

// Badger keeps each entry as one JSON record, so code, hash and env always
// change inside a single badger transaction.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// zapBadgerLogger adapts zap to badger's Logger interface.
type zapBadgerLogger struct{ s *zap.SugaredLogger }

func (l zapBadgerLogger) Errorf(f string, a ...interface{})   { l.s.Errorf(f, a...) }
func (l zapBadgerLogger) Warningf(f string, a ...interface{}) { l.s.Warnf(f, a...) }
func (l zapBadgerLogger) Infof(f string, a ...interface{})    { l.s.Debugf(f, a...) }
func (l zapBadgerLogger) Debugf(f string, a ...interface{})   { l.s.Debugf(f, a...) }

// OpenBadger opens a badger database at cfg.Path, or in memory.
func OpenBadger(cfg Config, log *zap.Logger) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for a persistent badger database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if log != nil {
		opts = opts.WithLogger(zapBadgerLogger{s: log.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func badgerKey(namespace, id string) []byte {
	return []byte(keyPrefix + namespace + "/" + id)
}

func readRecord(txn *badger.Txn, key []byte) (*record, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
		return nil, err
	}
	return &rec, nil
}

func writeRecord(txn *badger.Txn, key []byte, rec *record) error {
	rec.Hash = function.Digest(rec.Code)
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

// update runs fn in a read-write transaction. Domain errors raised by fn pass
// through untouched; everything else is a store fault.
func (b *Badger) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(fn)
	var fe *function.Error
	if err == nil || errors.As(err, &fe) {
		return err
	}
	return function.StoreFault(op, err)
}

func (b *Badger) Create(ctx context.Context, namespace, id string, e function.Entry) (bool, error) {
	created := false
	err := b.update(ctx, "create", func(txn *badger.Txn) error {
		key := badgerKey(namespace, id)
		existing, err := readRecord(txn, key)
		if err != nil || existing != nil {
			return err
		}
		created = true
		return writeRecord(txn, key, &record{ID: id, Code: e.Code, Env: e.Env})
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (b *Badger) Upsert(ctx context.Context, namespace, id string, e function.Entry) error {
	return b.update(ctx, "upsert", func(txn *badger.Txn) error {
		key := badgerKey(namespace, id)
		rec, err := readRecord(txn, key)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &record{ID: id}
		}
		rec.Code = e.Code
		if e.Env != nil {
			rec.Env = e.Env
		}
		if e.Exposed != nil {
			rec.Exposed = e.Exposed
		}
		return writeRecord(txn, key, rec)
	})
}

func (b *Badger) Get(ctx context.Context, namespace, id string) (*function.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *function.Entry
	err := b.db.View(func(txn *badger.Txn) error {
		rec, err := readRecord(txn, badgerKey(namespace, id))
		if err != nil || rec == nil {
			return err
		}
		out = &function.Entry{
			Namespace: namespace,
			ID:        id,
			Code:      rec.Code,
			Hash:      rec.Hash,
			Env:       rec.Env,
			Exposed:   rec.Exposed,
		}
		return nil
	})
	if err != nil {
		return nil, function.StoreFault("get", err)
	}
	return out, nil
}

func (b *Badger) Delete(ctx context.Context, namespace, id string) (int, error) {
	deleted := 0
	err := b.update(ctx, "delete", func(txn *badger.Txn) error {
		key := badgerKey(namespace, id)
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = 1
		return txn.Delete(key)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (b *Badger) SetEnv(ctx context.Context, namespace, id, name, value string) error {
	return b.update(ctx, "set env", func(txn *badger.Txn) error {
		key := badgerKey(namespace, id)
		rec, err := readRecord(txn, key)
		if err != nil {
			return err
		}
		if rec == nil {
			return function.NotFound(refOf(namespace, id))
		}
		if rec.Env == nil {
			rec.Env = map[string]string{}
		}
		rec.Env[name] = value
		return writeRecord(txn, key, rec)
	})
}

func (b *Badger) DeleteEnv(ctx context.Context, namespace, id, name string) error {
	return b.update(ctx, "delete env", func(txn *badger.Txn) error {
		key := badgerKey(namespace, id)
		rec, err := readRecord(txn, key)
		if err != nil {
			return err
		}
		if rec == nil {
			return function.NotFound(refOf(namespace, id))
		}
		if _, ok := rec.Env[name]; !ok {
			return nil
		}
		delete(rec.Env, name)
		return writeRecord(txn, key, rec)
	})
}

func (b *Badger) ListNamespaces(ctx context.Context, page, perPage int) (function.NamespacePage, error) {
	if err := ctx.Err(); err != nil {
		return function.NamespacePage{}, err
	}
	groups := map[string][]string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), keyPrefix)
			ns, id, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			groups[ns] = append(groups[ns], id)
		}
		return nil
	})
	if err != nil {
		return function.NamespacePage{}, function.StoreFault("list namespaces", err)
	}
	return paginate(groups, page, perPage), nil
}

func (b *Badger) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return function.StoreFault("ping", errors.New("badger database is closed"))
	}
	return ctx.Err()
}

func (b *Badger) Close() error { return b.db.Close() }
