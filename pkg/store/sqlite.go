package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joeydtaylor/steeze-functions/pkg/function"
)

//go:embed schema.sql
var schemaSQL string

// SQLite stores entries in a functions table with env vars as child rows.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database file at cfg.Path. InMemory uses
// a private in-memory database.
func OpenSQLite(cfg Config) (*SQLite, error) {
	path := cfg.Path
	if cfg.InMemory {
		path = ":memory:"
	}
	if path == "" {
		return nil, errors.New("store: path is required for sqlite")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect sqlite: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if cfg.SyncWrites {
		pragmas = append(pragmas, "PRAGMA synchronous = FULL")
	} else {
		pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// tx runs fn in one transaction, mapping failures the same way the badger
// driver does.
func (s *SQLite) tx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return function.StoreFault(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var fe *function.Error
		if errors.As(err, &fe) {
			return err
		}
		return function.StoreFault(op, err)
	}
	if err := tx.Commit(); err != nil {
		return function.StoreFault(op, err)
	}
	return nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func replaceEnv(ctx context.Context, tx *sql.Tx, namespace, id string, env map[string]string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM function_env WHERE namespace = ? AND id = ?`, namespace, id); err != nil {
		return err
	}
	for name, value := range env {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO function_env (namespace, id, name, value) VALUES (?, ?, ?, ?)`,
			namespace, id, name, value); err != nil {
			return err
		}
	}
	return nil
}

func exists(ctx context.Context, tx *sql.Tx, namespace, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM functions WHERE namespace = ? AND id = ?`, namespace, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLite) Create(ctx context.Context, namespace, id string, e function.Entry) (bool, error) {
	created := false
	err := s.tx(ctx, "create", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO functions (namespace, id, code, hash, exposed) VALUES (?, ?, ?, ?, NULL)
			 ON CONFLICT (namespace, id) DO NOTHING`,
			namespace, id, e.Code, function.Digest(e.Code))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		created = true
		return replaceEnv(ctx, tx, namespace, id, e.Env)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *SQLite) Upsert(ctx context.Context, namespace, id string, e function.Entry) error {
	return s.tx(ctx, "upsert", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO functions (namespace, id, code, hash, exposed) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (namespace, id) DO UPDATE SET
			   code = excluded.code,
			   hash = excluded.hash,
			   exposed = COALESCE(excluded.exposed, functions.exposed)`,
			namespace, id, e.Code, function.Digest(e.Code), nullBool(e.Exposed)); err != nil {
			return err
		}
		if e.Env == nil {
			return nil
		}
		return replaceEnv(ctx, tx, namespace, id, e.Env)
	})
}

func (s *SQLite) Get(ctx context.Context, namespace, id string) (*function.Entry, error) {
	var out *function.Entry
	err := s.tx(ctx, "get", func(tx *sql.Tx) error {
		var (
			code, hash string
			exposed    sql.NullBool
		)
		err := tx.QueryRowContext(ctx,
			`SELECT code, hash, exposed FROM functions WHERE namespace = ? AND id = ?`,
			namespace, id).Scan(&code, &hash, &exposed)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		e := &function.Entry{Namespace: namespace, ID: id, Code: code, Hash: hash}
		if exposed.Valid {
			e.Exposed = function.Bool(exposed.Bool)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT name, value FROM function_env WHERE namespace = ? AND id = ?`, namespace, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name, value string
			if err := rows.Scan(&name, &value); err != nil {
				return err
			}
			if e.Env == nil {
				e.Env = map[string]string{}
			}
			e.Env[name] = value
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) Delete(ctx context.Context, namespace, id string) (int, error) {
	deleted := 0
	err := s.tx(ctx, "delete", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM function_env WHERE namespace = ? AND id = ?`, namespace, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM functions WHERE namespace = ? AND id = ?`, namespace, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = int(n)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *SQLite) SetEnv(ctx context.Context, namespace, id, name, value string) error {
	return s.tx(ctx, "set env", func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, namespace, id)
		if err != nil {
			return err
		}
		if !ok {
			return function.NotFound(refOf(namespace, id))
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO function_env (namespace, id, name, value) VALUES (?, ?, ?, ?)
			 ON CONFLICT (namespace, id, name) DO UPDATE SET value = excluded.value`,
			namespace, id, name, value)
		return err
	})
}

func (s *SQLite) DeleteEnv(ctx context.Context, namespace, id, name string) error {
	return s.tx(ctx, "delete env", func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, namespace, id)
		if err != nil {
			return err
		}
		if !ok {
			return function.NotFound(refOf(namespace, id))
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM function_env WHERE namespace = ? AND id = ? AND name = ?`,
			namespace, id, name)
		return err
	})
}

func (s *SQLite) ListNamespaces(ctx context.Context, page, perPage int) (function.NamespacePage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT namespace, id FROM functions ORDER BY namespace, id`)
	if err != nil {
		return function.NamespacePage{}, function.StoreFault("list namespaces", err)
	}
	defer rows.Close()

	groups := map[string][]string{}
	for rows.Next() {
		var ns, id string
		if err := rows.Scan(&ns, &id); err != nil {
			return function.NamespacePage{}, function.StoreFault("list namespaces", err)
		}
		groups[ns] = append(groups[ns], id)
	}
	if err := rows.Err(); err != nil {
		return function.NamespacePage{}, function.StoreFault("list namespaces", err)
	}
	return paginate(groups, page, perPage), nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return function.StoreFault("ping", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
