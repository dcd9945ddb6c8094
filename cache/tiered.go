package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/contentforge/go-core/logger"
)

var tracer = otel.Tracer("github.com/contentforge/go-core/cache")

// TieredCache pairs a volatile fast tier (in-process) with a durable slow
// tier (SQLite file, Redis). The slow tier is the source of truth across
// process restarts; the fast tier is strictly a performance accelerant and
// may be dropped at any time without correctness loss.
//
// Slow-tier failures are never fatal: reads proceed as if the tier were
// empty and writes are logged and swallowed. Only the compute step of
// Through can fail a call.
type TieredCache struct {
	fast Cache
	slow Cache
	log  logger.Logger
}

// NewTiered returns a TieredCache over the given fast and slow tiers.
// Closing the TieredCache closes both tiers.
func NewTiered(fast, slow Cache, opts ...Option) *TieredCache {
	cfg := applyOptions(opts)
	log := cfg.logger
	if log == nil {
		log = logger.NewConsoleLogger()
	}
	return &TieredCache{
		fast: fast,
		slow: slow,
		log:  log.WithPrefix("[cache]"),
	}
}

// Get checks the fast tier first; on a miss it consults the slow tier and,
// on a hit, promotes the entry into the fast tier with its remaining TTL.
// Expired entries are purged by the tiers on read. A slow-tier read failure
// is reported as a miss.
func (t *TieredCache) Get(ctx context.Context, key string) (bool, *Entry, error) {
	found, entry, err := t.fast.Get(ctx, key)
	if err != nil {
		t.log.Warn("fast tier read failed for %s: %s", key, err)
	} else if found {
		return true, entry, nil
	}

	found, entry, err = t.slow.Get(ctx, key)
	if err != nil {
		t.log.Warn("slow tier read failed for %s: %s", key, err)
		return false, nil, nil
	}
	if !found {
		return false, nil, nil
	}

	// Promote with the remaining TTL so both tiers expire together.
	if remaining := time.Until(entry.ExpiresAt); remaining > 0 {
		if err := t.fast.Set(ctx, key, entry.Value, remaining); err != nil {
			t.log.Warn("fast tier promotion failed for %s: %s", key, err)
		}
	}
	return true, entry, nil
}

// Set writes the value to both tiers with expiry now + ttl. A slow-tier
// write failure is logged and swallowed — durability is an optimization, not
// a correctness requirement — so the returned error reflects only the fast
// tier, which for the in-memory tier never fails.
func (t *TieredCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if err := t.slow.Set(ctx, key, val, ttl); err != nil {
		t.log.Warn("slow tier write failed for %s: %s", key, err)
	}
	return t.fast.Set(ctx, key, val, ttl)
}

// Delete removes the key from both tiers, reporting whether either tier had
// it. Slow-tier failures are logged and swallowed.
func (t *TieredCache) Delete(ctx context.Context, key string) (bool, error) {
	slowFound, err := t.slow.Delete(ctx, key)
	if err != nil {
		t.log.Warn("slow tier delete failed for %s: %s", key, err)
	}
	fastFound, err := t.fast.Delete(ctx, key)
	if err != nil {
		return slowFound, err
	}
	return slowFound || fastFound, nil
}

// Close closes both tiers.
func (t *TieredCache) Close() error {
	fastErr := t.fast.Close()
	if err := t.slow.Close(); err != nil {
		return err
	}
	return fastErr
}

// ComputeFunc produces the value for a cache miss. It may be slow and may
// fail; a failure propagates to the Through caller unmodified and nothing is
// cached.
type ComputeFunc[T any] func(ctx context.Context) (T, error)

// Through is the primary read path: it builds a key from the context label
// and params, returns the cached value on a hit without invoking compute,
// and on a miss computes, stores with the given TTL, then returns the fresh
// value. Un-encodable params degrade to a miss-only key (logged, never an
// error to the caller). At most two slow-tier I/O operations happen per call
// in addition to the compute itself.
func Through[T any](ctx context.Context, t *TieredCache, label string, params any, ttl time.Duration, compute ComputeFunc[T]) (T, error) {
	ctx, span := tracer.Start(ctx, "cache.Through",
		trace.WithAttributes(attribute.String("cache.context", label)))
	defer span.End()

	key, keyErr := BuildKey(label, params)
	if keyErr != nil {
		t.log.Warn("%s", keyErr)
	}

	found, val, err := Get[T](ctx, t, key)
	if err != nil {
		// A stored value that no longer decodes is treated as a miss.
		t.log.Warn("cached value for %s is unreadable, recomputing: %s", key, err)
	} else if found {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	result, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if err := t.Set(ctx, key, result, ttl); err != nil {
		t.log.Warn("caching result for %s failed: %s", key, err)
	}

	return result, nil
}
