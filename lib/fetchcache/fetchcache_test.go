package fetchcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	store, err := Open(Config{File: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestPutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := Key("treasury", "bill_rates", "202408")

	_, found, err := store.Get(ctx, key, 0)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Put(ctx, key, "<html>rates</html>"))

	body, found, err := store.Get(ctx, key, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "<html>rates</html>", body)
}

func TestPutReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := Key("cpi", "series", "1990", "2024")
	require.NoError(t, store.Put(ctx, key, "first"))
	require.NoError(t, store.Put(ctx, key, "second"))

	body, found, err := store.Get(ctx, key, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "second", body)
}

func TestGetRespectsMaxAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := Key("treasury", "yields", "2024")
	require.NoError(t, store.Put(ctx, key, "fresh"))

	_, err := store.db.ExecContext(
		ctx,
		"UPDATE fetch_cache SET fetched_at = ? WHERE key = ?",
		time.Now().Add(-2*time.Hour).Unix(), key,
	)
	require.NoError(t, err)

	_, found, err := store.Get(ctx, key, time.Hour)
	require.NoError(t, err)
	require.False(t, found)

	body, found, err := store.Get(ctx, key, 3*time.Hour)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "fresh", body)
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old", "old body"))
	require.NoError(t, store.Put(ctx, "new", "new body"))

	_, err := store.db.ExecContext(
		ctx,
		"UPDATE fetch_cache SET fetched_at = ? WHERE key = 'old'",
		time.Now().Add(-48*time.Hour).Unix(),
	)
	require.NoError(t, err)

	removed, err := store.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, found, err := store.Get(ctx, "old", 0)
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = store.Get(ctx, "new", 0)
	require.NoError(t, err)
	require.True(t, found)
}

func TestKeyIsStable(t *testing.T) {
	a := Key("crypto", "bitcoin", "latest")
	b := Key("crypto", "bitcoin", "latest")
	require.Equal(t, a, b)

	// part boundaries matter
	require.NotEqual(t, Key("crypto", "ab", "c"), Key("crypto", "a", "bc"))
	require.NotEqual(t, Key("treasury", "x"), Key("crypto", "x"))
}
