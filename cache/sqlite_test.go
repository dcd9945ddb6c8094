package cache

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSetGet(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	type page struct {
		URL   string `msgpack:"url"`
		Score int    `msgpack:"score"`
	}
	expected := page{URL: "https://x.com/pricing", Score: 91}
	assert.NoError(t, c.Set(ctx, "key", expected, time.Minute))

	found, val, err := Get[page](ctx, c, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, expected, val)
}

func TestSQLiteMiss(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	found, entry, err := c.Get(ctx, "nope")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, entry)
}

func TestSQLiteExpiryOnRead(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "key", "value", 20*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	found, _, err := c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)

	// The expired row was purged, not just skipped.
	impl := c.(*sqliteCache)
	var count int
	assert.NoError(t, impl.db.QueryRow(`SELECT COUNT(*) FROM cache WHERE key = ?`, "key").Scan(&count))
	assert.Zero(t, count)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	c, err := NewSQLite(ctx, dbPath)
	require.NoError(t, err)
	assert.NoError(t, c.Set(ctx, "key", "durable", time.Minute))
	assert.NoError(t, c.Close())

	// A fresh handle on the same file sees the entry.
	c2, err := NewSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer c2.Close()

	found, val, err := Get[string](ctx, c2, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "durable", val)
}

func TestSQLiteHits(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "key", "value", time.Minute))
	_, _, err = c.Get(ctx, "key")
	assert.NoError(t, err)

	found, entry, err := c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, entry.Hits)
}

func TestSQLiteDelete(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "key", "value", time.Minute))

	found, err := c.Delete(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)

	found, err = c.Delete(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestSQLitePurge(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	assert.NoError(t, c.Set(ctx, "b", 2, time.Minute))

	count, err := c.(Purger).Purge(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSQLiteMemoryConcurrentReads(t *testing.T) {
	// Reads from many goroutines must all land on the one connection that
	// holds the in-memory database, never on a fresh empty one.
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "key", "value", time.Minute))

	var wg sync.WaitGroup
	var misses int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, _, err := c.Get(ctx, "key")
			assert.NoError(t, err)
			if !found {
				atomic.AddInt32(&misses, 1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, misses)
}

func TestSQLiteBytesRoundTrip(t *testing.T) {
	// A []byte payload must come back byte-identical, not wearing the
	// msgpack bin framing it is stored with.
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	payload := []byte("rendered markdown")
	assert.NoError(t, c.Set(ctx, "key", payload, time.Minute))

	found, val, err := Get[[]byte](ctx, c, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload, val)
}

func TestSQLiteUnserializableValue(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	assert.Error(t, c.Set(ctx, "key", func() {}, time.Minute))
}

func TestSQLiteBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLite(ctx, ":memory:", WithExpiryCheck(10*time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "key", "value", 10*time.Millisecond))
	time.Sleep(60 * time.Millisecond)

	impl := c.(*sqliteCache)
	var count int
	assert.NoError(t, impl.db.QueryRow(`SELECT COUNT(*) FROM cache`).Scan(&count))
	assert.Zero(t, count)
}
