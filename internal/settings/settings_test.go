package settings

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalanche-app/rockclient/internal/store"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	db, err := store.OpenSQLite(fmt.Sprintf("file:settings_%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sq, err := NewSQLite(context.Background(), db)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
		"redis":  NewRedis(rdb),
	}
}

func TestStores_SetGetDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Get(ctx, "client_bearer")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, map[string]string{
				"client_bearer":        "tok",
				"client_refresh_token": "ref",
				"client_expiration":    "2026-01-01T00:00:00Z",
			}))

			v, ok, err := s.Get(ctx, "client_bearer")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "tok", v)

			// overwrite
			require.NoError(t, s.Set(ctx, map[string]string{"client_bearer": "tok2"}))
			v, _, _ = s.Get(ctx, "client_bearer")
			assert.Equal(t, "tok2", v)

			require.NoError(t, s.Delete(ctx, "client_bearer", "client_refresh_token", "absent"))
			_, ok, _ = s.Get(ctx, "client_bearer")
			assert.False(t, ok)
			_, ok, _ = s.Get(ctx, "client_refresh_token")
			assert.False(t, ok)

			v, ok, _ = s.Get(ctx, "client_expiration")
			assert.True(t, ok)
			assert.Equal(t, "2026-01-01T00:00:00Z", v)
		})
	}
}

func TestStores_EmptyArgs(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.NoError(t, s.Set(ctx, nil))
			assert.NoError(t, s.Delete(ctx))
		})
	}
}

func TestSQLite_NewIsIdempotent(t *testing.T) {
	db, err := store.OpenSQLite("file:settings_idem?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	s1, err := NewSQLite(ctx, db)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, map[string]string{"device_id": "abc"}))

	s2, err := NewSQLite(ctx, db)
	require.NoError(t, err)
	v, ok, err := s2.Get(ctx, "device_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestRedis_UsesSingleHash(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedis(rdb)
	require.NoError(t, s.Set(context.Background(), map[string]string{"a": "1", "b": "2"}))

	assert.Equal(t, "1", mr.HGet(RedisHashKey, "a"))
	assert.Equal(t, "2", mr.HGet(RedisHashKey, "b"))
}
