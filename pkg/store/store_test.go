package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/joeydtaylor/steeze-functions/pkg/function"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drivers opens a fresh store per driver so every test covers both.
func drivers(t *testing.T) map[string]Store {
	t.Helper()

	b, err := OpenBadger(Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	s, err := OpenSQLite(Config{Path: filepath.Join(t.TempDir(), "functions.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return map[string]Store{DriverBadger: b, DriverSQLite: s}
}

func entry(code string) function.Entry {
	return function.Entry{Code: code}
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Upsert(ctx, "backstage", "test", function.Entry{Code: "a = 1", Hash: "123"}))

			got, err := st.Get(ctx, "backstage", "test")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "test", got.ID)
			assert.Equal(t, "backstage", got.Namespace)
			assert.Equal(t, "a = 1", got.Code)
			// the store recomputes the hash; a caller-supplied one is ignored
			assert.Equal(t, function.Digest("a = 1"), got.Hash)
			assert.Nil(t, got.Exposed)
		})
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			got, err := st.Get(ctx, "backstage", "not-found")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestCreateOnce(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			created, err := st.Create(ctx, "ns", "fn", function.Entry{Code: "A", Env: map[string]string{"K": "v"}})
			require.NoError(t, err)
			assert.True(t, created)

			created, err = st.Create(ctx, "ns", "fn", entry("B"))
			require.NoError(t, err)
			assert.False(t, created)

			got, err := st.Get(ctx, "ns", "fn")
			require.NoError(t, err)
			assert.Equal(t, "A", got.Code)
			assert.Equal(t, function.Digest("A"), got.Hash)
			assert.Equal(t, map[string]string{"K": "v"}, got.Env)
		})
	}
}

func TestUpsertLeavesUnspecifiedOptionalFields(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Upsert(ctx, "ns", "fn", function.Entry{
				Code:    "v1",
				Env:     map[string]string{"A": "1"},
				Exposed: function.Bool(true),
			}))
			require.NoError(t, st.Upsert(ctx, "ns", "fn", entry("v2")))

			got, err := st.Get(ctx, "ns", "fn")
			require.NoError(t, err)
			assert.Equal(t, "v2", got.Code)
			assert.Equal(t, function.Digest("v2"), got.Hash)
			assert.Equal(t, map[string]string{"A": "1"}, got.Env)
			require.NotNil(t, got.Exposed)
			assert.True(t, *got.Exposed)

			require.NoError(t, st.Upsert(ctx, "ns", "fn", function.Entry{
				Code:    "v3",
				Env:     map[string]string{"B": "2"},
				Exposed: function.Bool(false),
			}))
			got, err = st.Get(ctx, "ns", "fn")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"B": "2"}, got.Env)
			assert.False(t, got.IsExposed())
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			n, err := st.Delete(ctx, "ns", "ghost")
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			n, err = st.Delete(ctx, "ns", "ghost")
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			require.NoError(t, st.Upsert(ctx, "ns", "fn", function.Entry{Code: "x", Env: map[string]string{"A": "1"}}))
			n, err = st.Delete(ctx, "ns", "fn")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got, err := st.Get(ctx, "ns", "fn")
			require.NoError(t, err)
			assert.Nil(t, got)

			// env vars went with the entry
			require.NoError(t, st.Upsert(ctx, "ns", "fn", entry("y")))
			got, err = st.Get(ctx, "ns", "fn")
			require.NoError(t, err)
			assert.Empty(t, got.Env)
		})
	}
}

func TestEnvSubResourceIsolation(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Upsert(ctx, "ns", "fn", entry("code")))
			require.NoError(t, st.SetEnv(ctx, "ns", "fn", "A", "1"))
			require.NoError(t, st.SetEnv(ctx, "ns", "fn", "B", "2"))
			require.NoError(t, st.SetEnv(ctx, "ns", "fn", "B", "3"))

			before, err := st.Get(ctx, "ns", "fn")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"A": "1", "B": "3"}, before.Env)

			require.NoError(t, st.DeleteEnv(ctx, "ns", "fn", "A"))
			require.NoError(t, st.DeleteEnv(ctx, "ns", "fn", "never-set"))

			after, err := st.Get(ctx, "ns", "fn")
			require.NoError(t, err)
			assert.Equal(t, before.Code, after.Code)
			assert.Equal(t, before.Hash, after.Hash)
			assert.Equal(t, map[string]string{"B": "3"}, after.Env)
		})
	}
}

func TestEnvOnMissingParent(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			err := st.SetEnv(ctx, "ns", "ghost", "A", "1")
			assert.ErrorIs(t, err, function.ErrNotFound)
			assert.NotErrorIs(t, err, function.ErrStore)

			err = st.DeleteEnv(ctx, "ns", "ghost", "A")
			assert.ErrorIs(t, err, function.ErrNotFound)
		})
	}
}

func TestListNamespacesPaginates(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			for _, ref := range []string{"b/2", "a/1", "b/1", "c/1", "a-b/9"} {
				r, err := function.ParseRef(ref)
				require.NoError(t, err)
				require.NoError(t, st.Upsert(ctx, r.Namespace, r.ID, entry(ref)))
			}

			page, err := st.ListNamespaces(ctx, 1, 2)
			require.NoError(t, err)
			assert.Equal(t, 4, page.Total)
			assert.Equal(t, []function.NamespaceItem{
				{Namespace: "a", Functions: []string{"1"}},
				{Namespace: "a-b", Functions: []string{"9"}},
			}, page.Items)

			page, err = st.ListNamespaces(ctx, 2, 2)
			require.NoError(t, err)
			assert.Equal(t, []function.NamespaceItem{
				{Namespace: "b", Functions: []string{"1", "2"}},
				{Namespace: "c", Functions: []string{"1"}},
			}, page.Items)

			page, err = st.ListNamespaces(ctx, 9, 2)
			require.NoError(t, err)
			assert.Empty(t, page.Items)
			assert.Equal(t, 9, page.Page)
		})
	}
}

func TestConcurrentUpsertsKeepPairConsistent(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					// badger may report a transaction conflict; that is a
					// store fault, never a torn write
					_ = st.Upsert(ctx, "ns", "race", entry(fmt.Sprintf("v%d", i)))
				}(i)
			}
			wg.Wait()

			got, err := st.Get(ctx, "ns", "race")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, function.Digest(got.Code), got.Hash)
		})
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", InMemory: true}, nil)
	require.NoError(t, err)
	defer st.Close()
	_, ok := st.(*SQLite)
	assert.True(t, ok)
	require.NoError(t, st.Ping(context.Background()))

	_, err = Open(Config{Driver: "redis"}, nil)
	assert.Error(t, err)

	_, err = Open(Config{Driver: "badger"}, nil)
	assert.Error(t, err, "persistent badger without a path")
}
