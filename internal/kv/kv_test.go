package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintboard/internal/db"
)

func newSQLStore(t *testing.T) Store {
	t.Helper()
	conn, err := db.Open(db.Config{DSN: db.SQLiteDSN(filepath.Join(t.TempDir(), "kv.db"))})
	require.NoError(t, err)
	s, err := NewSQLStore(context.Background(), conn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "test")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores(t *testing.T) {
	for name, factory := range map[string]func(*testing.T) Store{
		"sqlite": newSQLStore,
		"redis":  newRedisStore,
	} {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			require.NoError(t, s.Ping(ctx))

			_, found, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Set(ctx, "room:ABC:tasks", "[]"))
			require.NoError(t, s.Set(ctx, "room:ABC:tasks", `[{"id":"1"}]`))
			require.NoError(t, s.Set(ctx, "room:XYZ:tasks", "[]"))
			require.NoError(t, s.Set(ctx, "room*:odd", "x"))
			require.NoError(t, s.Set(ctx, "default:tasks", "[]"))

			v, found, err := s.Get(ctx, "room:ABC:tasks")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, `[{"id":"1"}]`, v)

			keys, err := s.Keys(ctx, "room:")
			require.NoError(t, err)
			assert.Equal(t, []string{"room:ABC:tasks", "room:XYZ:tasks"}, keys)

			keys, err = s.Keys(ctx, "room*")
			require.NoError(t, err)
			assert.Equal(t, []string{"room*:odd"}, keys)

			require.NoError(t, s.Delete(ctx, "room:ABC:tasks"))
			_, found, err = s.Get(ctx, "room:ABC:tasks")
			require.NoError(t, err)
			assert.False(t, found)
			require.NoError(t, s.Delete(ctx, "room:ABC:tasks"))
		})
	}
}

func TestRedisNamespaceIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := NewRedisStore(client, "a")
	b := NewRedisStore(client, "b:")
	ctx := context.Background()
	require.NoError(t, a.Set(ctx, "k", "1"))
	_, found, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "1", mustGet(t, mr, "a:k"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
