package kv

import (
	"fmt"
	"testing"

	"github.com/pachyderm/fsfs/src/internal/pctx"
	"github.com/stretchr/testify/require"
)

// TestStore runs the behaviour every Store implementation must share.
func TestStore(t *testing.T, newStore func(t testing.TB) Store) {
	t.Run("PutGet", func(t *testing.T) {
		x := newStore(t)
		requirePut(t, x, []byte("key1"), []byte("value1"))
		v := requireGet(t, x, []byte("key1"))
		require.Equal(t, []byte("value1"), v)
		requirePut(t, x, []byte("key1"), []byte("value2"))
		require.Equal(t, []byte("value2"), requireGet(t, x, []byte("key1")))
	})
	t.Run("Exists", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		x := newStore(t)
		err := x.Get(ctx, []byte("key1"), func([]byte) error { return nil })
		require.True(t, IsNotExist(err))
		require.False(t, requireExists(t, x, []byte("key1")))

		requirePut(t, x, []byte("key1"), []byte("value1"))

		require.True(t, requireExists(t, x, []byte("key1")))
	})
	t.Run("IdempotentDelete", func(t *testing.T) {
		x := newStore(t)
		k1 := []byte("key1")
		requirePut(t, x, k1, make([]byte, 100))
		require.True(t, requireExists(t, x, k1))
		for i := 0; i < 3; i++ {
			requireDelete(t, x, k1)
			require.False(t, requireExists(t, x, k1))
		}
	})
	t.Run("IterateSpan", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		x := newStore(t)
		for i := 9; i >= 0; i-- {
			requirePut(t, x, []byte(fmt.Sprintf("a/%d", i)), []byte{byte(i)})
		}
		requirePut(t, x, []byte("b/0"), []byte("b"))
		keys, err := Keys(ctx, x, SpanFromPrefix([]byte("a/")))
		require.NoError(t, err)
		require.Len(t, keys, 10)
		for i, k := range keys {
			require.Equal(t, fmt.Sprintf("a/%d", i), string(k))
		}
		all, err := Keys(ctx, x, Span{})
		require.NoError(t, err)
		require.Len(t, all, 11)
		require.Equal(t, "b/0", string(all[10]))
	})
	t.Run("DeletePrefix", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		x := newStore(t)
		requirePut(t, x, []byte("txn/1/a"), []byte("1"))
		requirePut(t, x, []byte("txn/1/b"), []byte("2"))
		requirePut(t, x, []byte("txn/2/a"), []byte("3"))
		require.NoError(t, DeletePrefix(ctx, x, []byte("txn/1/")))
		require.False(t, requireExists(t, x, []byte("txn/1/a")))
		require.False(t, requireExists(t, x, []byte("txn/1/b")))
		require.True(t, requireExists(t, x, []byte("txn/2/a")))
	})
}

func requireExists(t testing.TB, s Store, key []byte) bool {
	ctx := pctx.TestContext(t)
	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	return exists
}

func requirePut(t testing.TB, s Putter, key, value []byte) {
	ctx := pctx.TestContext(t)
	require.NoError(t, s.Put(ctx, key, value))
}

func requireDelete(t testing.TB, s Deleter, key []byte) {
	ctx := pctx.TestContext(t)
	require.NoError(t, s.Delete(ctx, key))
}

func requireGet(t testing.TB, s Getter, key []byte) []byte {
	ctx := pctx.TestContext(t)
	v, err := GetBytes(ctx, s, key)
	require.NoError(t, err)
	return v
}
