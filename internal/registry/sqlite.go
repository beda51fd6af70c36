package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const (
	getValue = `SELECT value FROM registry WHERE key = ?`

	putValue = `
		INSERT INTO registry (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	incrementValue = `
		INSERT INTO registry (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = CAST(CAST(registry.value AS INTEGER) + CAST(excluded.value AS INTEGER) AS TEXT),
			updated_at = CURRENT_TIMESTAMP
		RETURNING value
	`
)

// SQLite is a Registry stored in the registry table created by the db
// migrations. Increments are a single upsert statement, so they are atomic
// without a read-modify-write on the client side.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(database *sql.DB) *SQLite {
	return &SQLite{db: database}
}

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, getValue, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get registry key %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) Put(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, putValue, key, value); err != nil {
		return fmt.Errorf("failed to put registry key %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) IncrementInt(ctx context.Context, key string, delta int) (int, error) {
	n, err := s.IncrementLong(ctx, key, int64(delta))
	return int(n), err
}

func (s *SQLite) IncrementLong(ctx context.Context, key string, delta int64) (int64, error) {
	var value string
	err := s.db.QueryRowContext(ctx, incrementValue, key, strconv.FormatInt(delta, 10)).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to increment registry key %s: %w", key, err)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("registry: key %q is not an integer: %w", key, err)
	}
	return n, nil
}

func (s *SQLite) Opt(ctx context.Context, key, def string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}
