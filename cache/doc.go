// Package cache memoizes the results of expensive computations — typically
// calls to external text-generation services — behind a two-tier, TTL-based
// cache keyed by a semantic request fingerprint.
//
// # Tiers
//
// Each tier implements the [Cache] interface:
//
//   - [NewInMemory] — in-process map guarded by a mutex. Fastest option with
//     zero serialization overhead; lost on process exit. Expired entries are
//     swept by a background goroutine at a configurable interval.
//
//   - [NewSQLite] — backed by a SQLite database file using
//     [modernc.org/sqlite] (pure Go, no CGO). Values are serialized to
//     msgpack and stored as BLOBs. This is the durable device-local tier:
//     entries survive process restarts. WAL mode is enabled and every
//     operation runs under a per-query timeout ([DefaultQueryTimeout]).
//
//   - [NewRedis] — backed by Redis via [github.com/redis/go-redis/v9], for
//     deployments where the slow tier is shared across processes. Expiry
//     uses native Redis TTLs.
//
// # TieredCache
//
// [NewTiered] pairs a fast volatile tier with a durable slow tier. Reads
// check the fast tier first; a slow-tier hit is promoted into the fast tier
// with its remaining TTL. Writes go to both tiers. The slow tier is the
// source of truth across restarts; the fast tier may be dropped at any time
// without correctness loss. Slow-tier failures are never fatal: they are
// logged and the call proceeds as if the tier were empty.
//
// # Cache-through
//
// [Through] is the primary entry point used by higher-level callers:
//
//	plan, err := cache.Through(ctx, tc, "sitemap",
//	    SitemapParams{Domain: "x.com"}, 6*time.Hour,
//	    func(ctx context.Context) (SitemapPlan, error) {
//	        return analyzer.FetchSitemap(ctx, "x.com")
//	    },
//	)
//
// On a hit the compute function is never invoked. On a miss the compute
// runs; its error propagates to the caller unmodified and nothing is
// cached. A successful result is stored in both tiers and returned.
//
// # Keys
//
// [BuildKey] fingerprints a (context label, parameter object) pair as
// "{label}:{canonicalParamJson}" with all object keys sorted, so two
// logically identical parameter sets always collide on the same key.
// Parameters that cannot be encoded (functions, channels, cyclic values)
// degrade to a timestamp-based key that can only miss — callers keep
// working, but caching is silently off for that call shape, which is why
// [TieredCache] logs a warning whenever it happens.
//
// # Serialization
//
// The SQLite and Redis tiers store values as msgpack. The generic [Get]
// helper transparently deserializes their stored payloads back into the
// requested type — including raw []byte payloads — so callers do not care
// which tier produced a hit. Exported struct fields survive the round trip;
// functions, channels and complex numbers do not and will fail the Set.
package cache
