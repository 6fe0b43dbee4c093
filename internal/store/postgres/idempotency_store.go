package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// IdempotencyStore implements domain.IdempotencyStore using PostgreSQL.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore creates a new IdempotencyStore backed by the given
// connection pool.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// Get returns the record stored under key, or nil when there is none or it
// has expired.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	const query = `
		SELECT status_code, content_type, body, created_at, expires_at
		FROM idempotency_records
		WHERE key = $1`

	var rec domain.IdempotencyRecord
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&rec.StatusCode, &rec.ContentType, &rec.Body, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get idempotency record: %w", err)
	}
	if s.now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

// Save stores rec under key, replacing an expired record.
func (s *IdempotencyStore) Save(ctx context.Context, key string, rec domain.IdempotencyRecord) error {
	const query = `
		INSERT INTO idempotency_records (key, status_code, content_type, body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			body = EXCLUDED.body,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at < EXCLUDED.created_at`

	if _, err := s.pool.Exec(ctx, query,
		key, rec.StatusCode, rec.ContentType, rec.Body, rec.CreatedAt, rec.ExpiresAt,
	); err != nil {
		return fmt.Errorf("postgres: save idempotency record: %w", err)
	}
	return nil
}

// DeleteExpired removes records whose window has passed and returns how
// many it removed.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
