package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS walletkit_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NULL
)`

const (
	kvGetQuery    = `SELECT value FROM walletkit_kv WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`
	kvSetQuery    = `INSERT INTO walletkit_kv (key, value, expires_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	kvDeleteQuery = `DELETE FROM walletkit_kv WHERE key = $1`
	kvListQuery   = `SELECT key FROM walletkit_kv WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > $2) ORDER BY key`
	kvLockInsert  = `INSERT INTO walletkit_kv (key, value, expires_at) VALUES ($1, '', $2) ON CONFLICT (key) DO NOTHING`
	kvLockSelect  = `SELECT value, expires_at FROM walletkit_kv WHERE key = $1 FOR UPDATE`
	kvUpdateQuery = `UPDATE walletkit_kv SET value = $2, expires_at = $3 WHERE key = $1`
	kvTakeQuery   = `DELETE FROM walletkit_kv WHERE key = $1 RETURNING value, expires_at`
)

type kvRow struct {
	Value     string       `db:"value"`
	ExpiresAt sql.NullTime `db:"expires_at"`
}

// PostgresStore keeps keys in a single Postgres table.
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// OpenPostgresStore connects to dsn and makes sure the table exists.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var _ ports.Store = (*PostgresStore)(nil)

// EnsureSchema creates the key-value table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, kvSchema); err != nil {
		return fmt.Errorf("create kv table: %w", err)
	}
	return nil
}

func (s *PostgresStore) expiry(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: s.now().Add(ttl), Valid: true}
}

func pgErr(op string, err error) error {
	return fmt.Errorf("%w: postgres %s: %v", core.ErrStoreOperationFailed, op, err)
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, kvGetQuery, key, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", core.ErrKeyNotFound
		}
		return "", pgErr("get", err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if _, err := s.db.ExecContext(ctx, kvSetQuery, key, value, s.expiry(ttl)); err != nil {
		return pgErr("set", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, kvDeleteQuery, key); err != nil {
		return pgErr("delete", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	if err := s.db.SelectContext(ctx, &keys, kvListQuery, escapeLike(prefix)+"%", s.now()); err != nil {
		return nil, pgErr("list", err)
	}
	return keys, nil
}

// Update locks the row (inserting an already expired placeholder when the key
// is absent) so concurrent updaters serialize on it.
func (s *PostgresStore) Update(ctx context.Context, key string, ttl time.Duration, fn ports.UpdateFunc) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return pgErr("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	if _, err := tx.ExecContext(ctx, kvLockInsert, key, now); err != nil {
		return pgErr("lock insert", err)
	}
	var row kvRow
	if err := tx.GetContext(ctx, &row, kvLockSelect, key); err != nil {
		return pgErr("lock select", err)
	}
	exists := !row.ExpiresAt.Valid || row.ExpiresAt.Time.After(now)
	current := row.Value
	if !exists {
		current = ""
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, kvUpdateQuery, key, next, s.expiry(ttl)); err != nil {
		return pgErr("update", err)
	}
	if err := tx.Commit(); err != nil {
		return pgErr("commit", err)
	}
	return nil
}

func (s *PostgresStore) Take(ctx context.Context, key string) (string, error) {
	var row kvRow
	if err := s.db.GetContext(ctx, &row, kvTakeQuery, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", core.ErrKeyNotFound
		}
		return "", pgErr("take", err)
	}
	if row.ExpiresAt.Valid && !row.ExpiresAt.Time.After(s.now()) {
		return "", core.ErrKeyNotFound
	}
	return row.Value, nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
