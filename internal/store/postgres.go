package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a single kv_entries table, one row
// per key.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the kv_entries table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS kv_entries (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create kv_entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1`, key).
		Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_entries (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
