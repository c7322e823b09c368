package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	stores := map[string]Store{
		"mock":   NewMockStore(),
		"prefix": NewWithPrefix("test:", NewMockStore()),
	}

	url := os.Getenv("VSCHEDULER_TEST_REDIS")
	if url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		client, err := Connect(ctx, url, time.Second)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		prefix := "vscheduler_test:" + t.Name() + ":"
		stores["redis"] = NewWithPrefix(prefix, NewRedisStore(client))
	}
	return stores
}

func TestStoreKV(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Delete(ctx, "k")

			_, exist, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, false, exist)

			err = s.Set(ctx, "k", "v1", time.Hour)
			require.NoError(t, err)

			v, exist, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, true, exist)
			assert.Equal(t, "v1", v)

			require.NoError(t, s.Delete(ctx, "k"))
			require.NoError(t, s.Delete(ctx, "k"))
		})
	}
}

func TestStoreSetNX(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Delete(ctx, "lock")
			defer s.Delete(ctx, "lock")

			ok, err := s.SetNX(ctx, "lock", "a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.SetNX(ctx, "lock", "b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			deleted, err := s.CompareAndDelete(ctx, "lock", "b")
			require.NoError(t, err)
			assert.False(t, deleted)

			deleted, err = s.CompareAndDelete(ctx, "lock", "a")
			require.NoError(t, err)
			assert.True(t, deleted)

			_, exist, err := s.Get(ctx, "lock")
			require.NoError(t, err)
			assert.False(t, exist)
		})
	}
}

func TestStoreOrderedSet(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Delete(ctx, "set")
			defer s.Delete(ctx, "set")

			require.NoError(t, s.ZAdd(ctx, "set", 10, "b"))
			require.NoError(t, s.ZAdd(ctx, "set", 5, "z"))
			require.NoError(t, s.ZAdd(ctx, "set", 10, "a"))
			require.NoError(t, s.ZAdd(ctx, "set", 20, "c"))
			// same member again only moves its score
			require.NoError(t, s.ZAdd(ctx, "set", 10, "a"))

			zs, err := s.ZRangeByScore(ctx, "set", 0, 15)
			require.NoError(t, err)
			assert.Equal(t, []Z{{5, "z"}, {10, "a"}, {10, "b"}}, zs)

			require.NoError(t, s.ZRem(ctx, "set", "a"))
			require.NoError(t, s.ZRem(ctx, "set", "a"))

			zs, err = s.ZRangeByScore(ctx, "set", 0, 100)
			require.NoError(t, err)
			assert.Equal(t, []Z{{5, "z"}, {10, "b"}, {20, "c"}}, zs)
		})
	}
}

func TestMockStoreExpire(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewMockStore()
	s.Now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", "a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(29 * time.Second)
	ok, err = s.SetNX(ctx, "lock", "b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Second)
	ok, err = s.SetNX(ctx, "lock", "b", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	v, _, _ := s.Get(ctx, "lock")
	assert.Equal(t, "b", v)
}

func TestMockStoreErr(t *testing.T) {
	s := NewMockStore()
	s.Err = errors.New("connection refused")

	_, _, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, s.Err)
	assert.ErrorIs(t, s.ZAdd(context.Background(), "set", 1, "m"), s.Err)
}

func TestWithPrefix(t *testing.T) {
	inner := NewMockStore()
	s := NewWithPrefix("app:", inner)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "timer", "1", 0))
	require.NoError(t, s.ZAdd(ctx, "tasks", 1, "m"))

	v, exist, err := inner.Get(ctx, "app:timer")
	require.NoError(t, err)
	assert.True(t, exist)
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, inner.ZCard("app:tasks"))

	assert.Same(t, inner, NewWithPrefix("", inner))
}
