// Package sqlite is a single-host bus driver that keeps queues and keys in a
// SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/chatbroker/pkg/bus"
)

const schema = `
CREATE TABLE IF NOT EXISTS bus_keys (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER
);
CREATE TABLE IF NOT EXISTS bus_lists (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	list  TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS bus_lists_list_id ON bus_lists (list, id);
`

// DefaultPollInterval is how often BlockingPop re-checks an empty list.
const DefaultPollInterval = 50 * time.Millisecond

// Driver implements bus.Bus on two SQLite tables. Expiry is stored as a unix
// millisecond timestamp and enforced on read.
type Driver struct {
	db           *sql.DB
	now          func() time.Time
	pollInterval time.Duration
}

var _ bus.Bus = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// WithPollInterval sets how often BlockingPop polls.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.pollInterval = interval
	}
}

// NewDriver opens (and creates if needed) the database at dbPath.
// Use ":memory:" or an empty path for an in-memory database.
func NewDriver(ctx context.Context, dbPath string, opts ...Option) (*Driver, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bus schema: %w", err)
	}

	d := &Driver{
		db:           db,
		now:          time.Now,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Driver) nowMillis() int64 {
	return d.now().UnixMilli()
}

func (d *Driver) Push(ctx context.Context, list, value string) error {
	if _, err := d.db.ExecContext(ctx, `INSERT INTO bus_lists (list, value) VALUES (?, ?)`, list, value); err != nil {
		return wrap("push", err)
	}
	return nil
}

func (d *Driver) Pop(ctx context.Context, list string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `
		DELETE FROM bus_lists
		WHERE id = (SELECT id FROM bus_lists WHERE list = ? ORDER BY id LIMIT 1)
		RETURNING value`, list).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", bus.ErrNotFound{Key: list}
	}
	if err != nil {
		return "", wrap("pop", err)
	}
	return value, nil
}

func (d *Driver) BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		v, err := d.Pop(ctx, list)
		if err == nil {
			return v, nil
		}
		if !bus.IsNotFound(err) {
			return "", err
		}

		select {
		case <-ticker.C:
		case <-deadline:
			return "", bus.ErrTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (d *Driver) Len(ctx context.Context, list string) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bus_lists WHERE list = ?`, list).Scan(&n); err != nil {
		return 0, wrap("len", err)
	}
	return n, nil
}

func (d *Driver) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `
		SELECT value FROM bus_keys
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`, key, d.nowMillis()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", bus.ErrNotFound{Key: key}
	}
	if err != nil {
		return "", wrap("get", err)
	}
	return value, nil
}

func (d *Driver) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: d.now().Add(ttl).UnixMilli(), Valid: true}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO bus_keys (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return wrap("set", err)
	}
	return nil
}

func (d *Driver) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		n, err := d.Delete(ctx, key)
		return n > 0, err
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE bus_keys SET expires_at = ?
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		d.now().Add(ttl).UnixMilli(), key, d.nowMillis())
	if err != nil {
		return false, wrap("expire", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("expire", err)
	}
	return n > 0, nil
}

func (d *Driver) Delete(ctx context.Context, names ...string) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("delete", err)
	}
	defer tx.Rollback()

	var removed int64
	now := d.nowMillis()
	for _, name := range names {
		keyRes, err := tx.ExecContext(ctx, `
			DELETE FROM bus_keys WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`, name, now)
		if err != nil {
			return 0, wrap("delete", err)
		}
		listRes, err := tx.ExecContext(ctx, `DELETE FROM bus_lists WHERE list = ?`, name)
		if err != nil {
			return 0, wrap("delete", err)
		}

		keys, _ := keyRes.RowsAffected()
		items, _ := listRes.RowsAffected()
		if keys > 0 || items > 0 {
			removed++
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bus_keys WHERE expires_at IS NOT NULL AND expires_at <= ?`, now); err != nil {
		return 0, wrap("delete", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrap("delete", err)
	}
	return removed, nil
}

func (d *Driver) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT key FROM bus_keys
		WHERE key GLOB ?1 AND (expires_at IS NULL OR expires_at > ?2)
		UNION
		SELECT DISTINCT list FROM bus_lists WHERE list GLOB ?1
		ORDER BY 1`, pattern, d.nowMillis())
	if err != nil {
		return nil, wrap("keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, wrap("keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("keys", err)
	}
	return keys, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return &bus.ConnectionError{Op: "ping", Err: err}
	}
	return nil
}

func (d *Driver) Close() error {
	return d.db.Close()
}

func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrConnDone) {
		return &bus.ConnectionError{Op: op, Err: err}
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}
