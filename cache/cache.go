package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/contentforge/go-core/logger"
)

// Entry is a cached value with its absolute expiry. Entries are never mutated
// in place; a Set replaces the entry wholesale.
type Entry struct {
	Value     any
	ExpiresAt time.Time
	Hits      int
}

// Cache is a single storage tier. Implementations treat an entry observed
// after ExpiresAt as absent and purge it before reporting a miss.
type Cache interface {
	// Get retrieves the entry for key if present and unexpired.
	Get(ctx context.Context, key string) (bool, *Entry, error)

	// Set stores a value with expiry now + ttl. If ttl <= 0, the tier's
	// configured default TTL is used.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error

	// Delete removes a key, reporting whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Close shuts down the tier.
	Close() error
}

// Purger is implemented by tiers that can drop every entry at once.
type Purger interface {
	// Purge removes all entries and returns how many were removed.
	Purge(ctx context.Context) (int, error)
}

// encoded marks a payload a serialized tier stored as msgpack bytes. The
// distinct type keeps decode from handing the msgpack framing to callers
// asking for []byte, which a bare-[]byte representation would do.
type encoded []byte

// Get retrieves a typed value from a tier.
// For the in-memory tier it performs a direct type assertion.
// For serialized tiers (SQLite, Redis) it deserializes the stored msgpack
// payload, so callers do not care which tier produced a hit.
func Get[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	found, entry, err := c.Get(ctx, key)
	if !found || err != nil {
		var zero T
		return false, zero, err
	}
	val, err := decode[T](entry.Value)
	if err != nil {
		var zero T
		return false, zero, err
	}
	return true, val, nil
}

func decode[T any](val any) (T, error) {
	var result T
	if data, ok := val.(encoded); ok {
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return result, fmt.Errorf("cache: failed to unmarshal value: %w", err)
		}
		return result, nil
	}
	if typed, ok := val.(T); ok {
		return typed, nil
	}
	return result, fmt.Errorf("cache: cannot convert value of type %T to %T", val, result)
}

// DefaultExpires is the default TTL used when Set is called with ttl <= 0.
const DefaultExpires = 5 * time.Minute

// DefaultQueryTimeout is the per-operation timeout for tiers that perform I/O
// (SQLite, Redis). Prevents indefinite hangs on slow or unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a cache tier.
type config struct {
	defaultExpires time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	prefix         string
	logger         logger.Logger
}

// Option configures a cache tier.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpires sets the default TTL for cached values. This is used when
// Set is called with ttl <= 0. Defaults to DefaultExpires (5 minutes).
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed tiers
// (SQLite, Redis). Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Applies to the in-memory and SQLite tiers. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets the key prefix for namespacing cache keys.
// Applies to the Redis tier. Defaults to empty (no prefix).
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithLogger sets the logger used for non-fatal storage failures.
// Applies to the tiered cache. Defaults to a console logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.logger = l }
}
