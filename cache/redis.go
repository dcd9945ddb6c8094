package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

type redisCache struct {
	client *redis.Client
	cfg    config
}

var _ Cache = (*redisCache)(nil)

// NewRedis returns a Cache tier backed by Redis, for deployments where the
// slow tier must be shared across processes. The caller owns the
// redis.Client lifecycle — Close is a no-op on the client.
func NewRedis(client *redis.Client, opts ...Option) Cache {
	cfg := applyOptions(opts)
	return &redisCache{
		client: client,
		cfg:    cfg,
	}
}

func (c *redisCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisCache) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisCache) Get(ctx context.Context, key string) (bool, *Entry, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	k := c.prefixKey(key)
	pipe := c.client.Pipeline()
	getCmd := pipe.HGet(qctx, k, "v")
	ttlCmd := pipe.TTL(qctx, k)
	if _, err := pipe.Exec(qctx); err != nil {
		if err == redis.Nil {
			return false, nil, nil
		}
		return false, nil, err
	}

	data, err := getCmd.Bytes()
	if err != nil {
		return false, nil, err
	}
	// Redis expires keys natively, so a readable key is unexpired.
	expiresAt := time.Now().Add(ttlCmd.Val())

	// Increment hits (fire-and-forget, don't fail the Get).
	hits, _ := c.client.HIncrBy(qctx, k, "h", 1).Result()

	return true, &Entry{Value: encoded(data), ExpiresAt: expiresAt, Hits: int(hits)}, nil
}

func (c *redisCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.defaultExpires
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		return err
	}

	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	k := c.prefixKey(key)
	pipe := c.client.Pipeline()
	pipe.HSet(qctx, k, "v", data, "h", 0)
	pipe.Expire(qctx, k, ttl)
	_, err = pipe.Exec(qctx)
	return err
}

func (c *redisCache) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	result, err := c.client.Del(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Close is a no-op — the caller owns the redis.Client lifecycle.
func (c *redisCache) Close() error {
	return nil
}
