package cache

import (
	"context"
	"sync"
	"time"
)

type inMemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]*Entry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Cache = (*inMemoryCache)(nil)
var _ Purger = (*inMemoryCache)(nil)

func (c *inMemoryCache) Get(_ context.Context, key string) (bool, *Entry, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false, nil, nil
	}
	if entry.ExpiresAt.Before(time.Now()) {
		delete(c.entries, key)
		return false, nil, nil
	}
	entry.Hits++
	return true, entry, nil
}

func (c *inMemoryCache) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.defaultExpires
	}
	c.mutex.Lock()
	c.entries[key] = &Entry{Value: val, ExpiresAt: time.Now().Add(ttl)}
	c.mutex.Unlock()
	return nil
}

func (c *inMemoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mutex.Unlock()
	return ok, nil
}

func (c *inMemoryCache) Purge(_ context.Context) (int, error) {
	c.mutex.Lock()
	count := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.mutex.Unlock()
	return count, nil
}

func (c *inMemoryCache) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *inMemoryCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mutex.Lock()
			for key, entry := range c.entries {
				if entry.ExpiresAt.Before(now) {
					delete(c.entries, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}

// NewInMemory returns a new in-memory Cache tier. Values are stored as-is
// with no serialization; the tier is lost on process exit.
func NewInMemory(parent context.Context, opts ...Option) Cache {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*Entry),
		cfg:     cfg,
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}
