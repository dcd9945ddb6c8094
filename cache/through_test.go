package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/go-core/logger"
)

type sitemapPlan struct {
	Domain string `msgpack:"domain"`
	Pages  int    `msgpack:"pages"`
}

func TestThroughComputesOnMiss(t *testing.T) {
	ctx := context.Background()
	tc, _ := newTestTiered(t)

	computed := 0
	plan, err := Through(ctx, tc, "sitemap", map[string]any{"domain": "x.com"}, time.Minute,
		func(ctx context.Context) (sitemapPlan, error) {
			computed++
			return sitemapPlan{Domain: "x.com", Pages: 42}, nil
		})
	assert.NoError(t, err)
	assert.Equal(t, 42, plan.Pages)
	assert.Equal(t, 1, computed)
}

func TestThroughIdempotentWithinTTL(t *testing.T) {
	ctx := context.Background()
	tc, _ := newTestTiered(t)

	computed := 0
	compute := func(ctx context.Context) (sitemapPlan, error) {
		computed++
		return sitemapPlan{Domain: "x.com", Pages: 42}, nil
	}
	params := map[string]any{"domain": "x.com"}

	// Two immediate calls with identical context/params compute exactly once.
	first, err := Through(ctx, tc, "sitemap", params, time.Minute, compute)
	assert.NoError(t, err)
	second, err := Through(ctx, tc, "sitemap", params, time.Minute, compute)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, computed)
}

func TestThroughRecomputesAfterExpiry(t *testing.T) {
	ctx := context.Background()
	tc, _ := newTestTiered(t)

	computed := 0
	compute := func(ctx context.Context) (int, error) {
		computed++
		return computed, nil
	}
	params := map[string]any{"domain": "x.com"}

	_, err := Through(ctx, tc, "sitemap", params, 20*time.Millisecond, compute)
	assert.NoError(t, err)
	_, err = Through(ctx, tc, "sitemap", params, 20*time.Millisecond, compute)
	assert.NoError(t, err)
	assert.Equal(t, 1, computed)

	time.Sleep(30 * time.Millisecond)

	val, err := Through(ctx, tc, "sitemap", params, 20*time.Millisecond, compute)
	assert.NoError(t, err)
	assert.Equal(t, 2, computed)
	assert.Equal(t, 2, val)
}

func TestThroughParamOrderIndependent(t *testing.T) {
	ctx := context.Background()
	tc, _ := newTestTiered(t)

	computed := 0
	compute := func(ctx context.Context) (string, error) {
		computed++
		return "result", nil
	}

	_, err := Through(ctx, tc, "analysis", map[string]any{"a": 1, "b": 2}, time.Minute, compute)
	assert.NoError(t, err)
	_, err = Through(ctx, tc, "analysis", map[string]any{"b": 2, "a": 1}, time.Minute, compute)
	assert.NoError(t, err)
	assert.Equal(t, 1, computed)
}

func TestThroughComputeErrorPropagatesUncached(t *testing.T) {
	ctx := context.Background()
	tc, _ := newTestTiered(t)

	boom := fmt.Errorf("API failure")
	computed := 0
	compute := func(ctx context.Context) (string, error) {
		computed++
		return "", boom
	}
	params := map[string]any{"url": "https://x.com"}

	_, err := Through(ctx, tc, "page", params, time.Minute, compute)
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "API failure")

	// The failure was not cached: the next call computes again.
	_, err = Through(ctx, tc, "page", params, time.Minute, compute)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, computed)
}

func TestThroughDegradedKeyStillComputes(t *testing.T) {
	ctx := context.Background()
	tc, log := newTestTiered(t)

	computed := 0
	compute := func(ctx context.Context) (string, error) {
		computed++
		return "result", nil
	}
	// Functions are not JSON-encodable, so the key degrades to miss-only.
	params := map[string]any{"callback": func() {}}

	val, err := Through(ctx, tc, "broken", params, time.Minute, compute)
	assert.NoError(t, err)
	assert.Equal(t, "result", val)

	// Caching is off for this call shape: every call recomputes, and the
	// degradation is loudly logged rather than silently absorbed.
	_, err = Through(ctx, tc, "broken", params, time.Minute, compute)
	assert.NoError(t, err)
	assert.Equal(t, 2, computed)

	entries := log.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "WARN", entries[0].Severity)
	assert.Contains(t, entries[0].Message, "not encodable")
}

func TestThroughSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := t.TempDir() + "/cache.db"
	params := map[string]any{"domain": "x.com"}

	slow, err := NewSQLite(ctx, dbPath)
	require.NoError(t, err)
	tc := NewTiered(NewInMemory(ctx), slow, WithLogger(logger.NewTestLogger()))

	computed := 0
	compute := func(ctx context.Context) (sitemapPlan, error) {
		computed++
		return sitemapPlan{Domain: "x.com", Pages: 7}, nil
	}

	_, err = Through(ctx, tc, "sitemap", params, time.Hour, compute)
	assert.NoError(t, err)
	assert.NoError(t, tc.Close())

	// New process: fresh fast tier, same database file.
	slow2, err := NewSQLite(ctx, dbPath)
	require.NoError(t, err)
	tc2 := NewTiered(NewInMemory(ctx), slow2, WithLogger(logger.NewTestLogger()))
	defer tc2.Close()

	plan, err := Through(ctx, tc2, "sitemap", params, time.Hour, compute)
	assert.NoError(t, err)
	assert.Equal(t, 7, plan.Pages)
	assert.Equal(t, 1, computed, "restart must not recompute within the TTL window")
}

func TestThroughBytesValueRoundTrip(t *testing.T) {
	// A caller storing raw bytes must get bytes back even though serialized
	// tiers also represent values as []byte internally.
	ctx := context.Background()
	dbPath := t.TempDir() + "/cache.db"
	params := map[string]any{"id": 1}

	slow, err := NewSQLite(ctx, dbPath)
	require.NoError(t, err)
	tc := NewTiered(NewInMemory(ctx), slow, WithLogger(logger.NewTestLogger()))

	payload := []byte("rendered markdown")
	val, err := Through(ctx, tc, "draft", params, time.Minute,
		func(ctx context.Context) ([]byte, error) { return payload, nil })
	assert.NoError(t, err)
	assert.Equal(t, payload, val)

	// Fast-tier hit.
	val, err = Through(ctx, tc, "draft", params, time.Minute,
		func(ctx context.Context) ([]byte, error) { return nil, fmt.Errorf("should not run") })
	assert.NoError(t, err)
	assert.Equal(t, payload, val)
	assert.NoError(t, tc.Close())

	// Restart: a fresh fast tier forces the hit through the SQLite tier,
	// whose stored payload is msgpack-framed and must be unwrapped.
	slow2, err := NewSQLite(ctx, dbPath)
	require.NoError(t, err)
	tc2 := NewTiered(NewInMemory(ctx), slow2, WithLogger(logger.NewTestLogger()))
	defer tc2.Close()

	val, err = Through(ctx, tc2, "draft", params, time.Minute,
		func(ctx context.Context) ([]byte, error) { return nil, fmt.Errorf("should not run") })
	assert.NoError(t, err)
	assert.Equal(t, payload, val)

	// And again: the slow-tier hit above was promoted, so this one reads
	// the promoted copy from the fast tier.
	val, err = Through(ctx, tc2, "draft", params, time.Minute,
		func(ctx context.Context) ([]byte, error) { return nil, fmt.Errorf("should not run") })
	assert.NoError(t, err)
	assert.Equal(t, payload, val)
}
