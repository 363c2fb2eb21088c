package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const createAnswersTable = `
CREATE TABLE IF NOT EXISTS answers (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
)`

var _ Cache = (*SQLite)(nil)

// SQLite is an exact-match answer cache backed by SQLite. Timestamps are unix
// milliseconds.
type SQLite struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// New opens the cache database at dbPath with the given entry lifetime.
func New(dbPath string, ttl time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(createAnswersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &SQLite{db: db, ttl: ttl, now: time.Now}, nil
}

// Get retrieves a live entry. Expired rows count as misses and are left for Clear.
func (c *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM answers WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}

	if c.now().UnixMilli() >= expiresAt {
		c.misses.Add(1)
		return "", false, nil
	}

	c.hits.Add(1)
	return value, true, nil
}

// PutIfAbsent inserts the entry, or replaces an expired one. A live entry is
// never overwritten.
func (c *SQLite) PutIfAbsent(ctx context.Context, key, value string) (bool, error) {
	now := c.now()
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO answers (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE answers.expires_at <= excluded.created_at`,
		key, value, now.UnixMilli(), now.Add(c.ttl).UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("%w: put: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: put: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// Stats returns cache performance metrics.
func (c *SQLite) Stats(ctx context.Context) (Stats, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers`).Scan(&count); err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %v", ErrUnavailable, err)
	}
	return Stats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes entries and returns how many were deleted. If expiredOnly is
// true, only expired entries are removed.
func (c *SQLite) Clear(ctx context.Context, expiredOnly bool) (int, error) {
	var res sql.Result
	var err error
	if expiredOnly {
		res, err = c.db.ExecContext(ctx, `DELETE FROM answers WHERE expires_at <= ?`, c.now().UnixMilli())
	} else {
		res, err = c.db.ExecContext(ctx, `DELETE FROM answers`)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// Close releases the database connection.
func (c *SQLite) Close() error {
	return c.db.Close()
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)"
}
