package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type sqliteCache struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Cache = (*sqliteCache)(nil)
var _ Purger = (*sqliteCache)(nil)

// NewSQLite returns a Cache tier backed by a SQLite database file. This is
// the durable tier: entries survive process restarts. If dbPath is empty or
// ":memory:", an in-memory database is used (useful in tests).
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (Cache, error) {
	cfg := applyOptions(opts)
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: opening sqlite database %s", dbPath)
	}

	// Each pooled connection to ":memory:" gets its own empty database, so
	// the in-memory mode must be pinned to a single connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: enabling WAL mode")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL,
		hits INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: creating cache table")
	}

	// Index on expires_at for efficient cleanup.
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: creating expiry index")
	}

	childCtx, cancel := context.WithCancel(ctx)

	c := &sqliteCache{
		db:     db,
		ctx:    childCtx,
		cancel: cancel,
		cfg:    cfg,
	}

	c.waitGroup.Add(1)
	go c.run()

	return c, nil
}

func (c *sqliteCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *sqliteCache) Get(ctx context.Context, key string) (bool, *Entry, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	now := time.Now()
	var data []byte
	var expiresAt int64
	var hits int
	err := c.db.QueryRowContext(qctx,
		`SELECT value, expires_at, hits FROM cache WHERE key = ?`, key,
	).Scan(&data, &expiresAt, &hits)
	if err == sql.ErrNoRows {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	if expiresAt < now.UnixNano() {
		// Lazily delete the expired entry.
		_, _ = c.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
		return false, nil, nil
	}

	// Increment hits (fire-and-forget, don't fail the Get).
	_, _ = c.db.ExecContext(qctx, `UPDATE cache SET hits = hits + 1 WHERE key = ?`, key)

	return true, &Entry{Value: encoded(data), ExpiresAt: time.Unix(0, expiresAt), Hits: hits + 1}, nil
}

func (c *sqliteCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.defaultExpires
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "cache: marshaling value")
	}

	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	expiresAt := time.Now().Add(ttl).UnixNano()
	_, err = c.db.ExecContext(qctx,
		`INSERT INTO cache (key, value, expires_at, hits) VALUES (?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, hits = 0`,
		key, data, expiresAt,
	)
	return err
}

func (c *sqliteCache) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	result, err := c.db.ExecContext(qctx, `DELETE FROM cache WHERE key = ?`, key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (c *sqliteCache) Purge(ctx context.Context) (int, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	result, err := c.db.ExecContext(qctx, `DELETE FROM cache`)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (c *sqliteCache) Close() error {
	var dbErr error
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
		dbErr = c.db.Close()
	})
	return dbErr
}

func (c *sqliteCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = c.db.Exec(`DELETE FROM cache WHERE expires_at < ?`, now)
		}
	}
}
