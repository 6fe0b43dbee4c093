package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CursorStore implements domain.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *pgxpool.Pool
}

// NewCursorStore creates a new CursorStore backed by the given connection pool.
func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Get returns the last log sequence number the named consumer processed,
// or 0 if it has never run.
func (s *CursorStore) Get(ctx context.Context, name string) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT seq FROM indexer_cursors WHERE name = $1`, name).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get cursor %s: %w", name, err)
	}
	return uint64(seq), nil
}

// Set records seq for the named consumer. The cursor never moves backwards.
func (s *CursorStore) Set(ctx context.Context, name string, seq uint64) error {
	const query = `
		INSERT INTO indexer_cursors (name, seq, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET seq = EXCLUDED.seq, updated_at = NOW()
		WHERE indexer_cursors.seq < EXCLUDED.seq`
	if _, err := s.pool.Exec(ctx, query, name, int64(seq)); err != nil {
		return fmt.Errorf("postgres: set cursor %s: %w", name, err)
	}
	return nil
}
