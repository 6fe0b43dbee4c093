package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `seq, block_number, block_time, tx_hash, log_index, address, name, listing_id, data`

// InsertBatch mirrors records into the events table. Records already
// present are skipped so a replay after a crash is harmless.
func (s *EventStore) InsertBatch(ctx context.Context, records []domain.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	const query = `
		INSERT INTO events (` + eventCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (seq) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query,
			int64(r.Seq), int64(r.BlockNumber), r.BlockTime, r.TxHash.Hex(), int32(r.LogIndex),
			r.Address.Hex(), r.Name, r.ListingID, []byte(r.Data),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert event %d (%s): %w", r.Seq, r.Name, err)
		}
	}
	return nil
}

// List returns events matching filter in log order.
func (s *EventStore) List(ctx context.Context, filter domain.EventFilter) ([]domain.EventRecord, error) {
	query := `SELECT ` + eventCols + ` FROM events WHERE seq > $1`
	args := []any{int64(filter.FromSeq)}
	argIdx := 2

	if filter.Name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, filter.Name)
		argIdx++
	}
	if filter.Address != "" {
		query += fmt.Sprintf(" AND address = $%d", argIdx)
		args = append(args, filter.Address)
		argIdx++
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}
	return s.query(ctx, "list events", query, args...)
}

// ListByListing returns the events attributed to a listing in log order.
func (s *EventStore) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.EventRecord, error) {
	query := `SELECT ` + eventCols + ` FROM events WHERE listing_id = $1 ORDER BY seq`
	args := []any{listingID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET $3"
			args = append(args, opts.Offset)
		}
	}
	return s.query(ctx, "list listing events", query, args...)
}

func (s *EventStore) query(ctx context.Context, op, query string, args ...any) ([]domain.EventRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		var (
			r               domain.EventRecord
			seq, block      int64
			logIndex        int32
			txHash, address string
			data            []byte
		)
		if err := rows.Scan(&seq, &block, &r.BlockTime, &txHash, &logIndex, &address, &r.Name, &r.ListingID, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		r.Seq, r.BlockNumber, r.LogIndex = uint64(seq), uint64(block), uint32(logIndex)
		r.TxHash = common.HexToHash(txHash)
		r.Address = common.HexToAddress(address)
		r.Data = data
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}
