package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Amounts travel as decimal text and are stored as NUMERIC(78,0), wide
// enough for any uint256.
const listingCols = `id, seller, buyer, sale_type, status, metadata_uri,
	price::text, currency, module_id, escrow_id, escrow_status,
	COALESCE(escrow_amount::text, ''), start_time, end_time,
	highest_bidder, COALESCE(highest_bid::text, ''), total_tickets,
	COALESCE(raised::text, ''), winner, created_block, updated_block`

// Upsert writes the projection of one listing. A row is only replaced by a
// view from the same or a later block.
func (s *ListingStore) Upsert(ctx context.Context, v domain.ListingView) error {
	const query = `
		INSERT INTO listings (
			id, seller, buyer, sale_type, status, metadata_uri,
			price, currency, module_id, escrow_id, escrow_status,
			escrow_amount, start_time, end_time,
			highest_bidder, highest_bid, total_tickets,
			raised, winner, created_block, updated_block, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::text::numeric, $8, $9, $10, $11,
			NULLIF($12, '')::numeric, $13, $14,
			$15, NULLIF($16, '')::numeric, $17,
			NULLIF($18, '')::numeric, $19, $20, $21, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			buyer          = EXCLUDED.buyer,
			status         = EXCLUDED.status,
			price          = EXCLUDED.price,
			module_id      = EXCLUDED.module_id,
			escrow_id      = EXCLUDED.escrow_id,
			escrow_status  = EXCLUDED.escrow_status,
			escrow_amount  = EXCLUDED.escrow_amount,
			start_time     = EXCLUDED.start_time,
			end_time       = EXCLUDED.end_time,
			highest_bidder = EXCLUDED.highest_bidder,
			highest_bid    = EXCLUDED.highest_bid,
			total_tickets  = EXCLUDED.total_tickets,
			raised         = EXCLUDED.raised,
			winner         = EXCLUDED.winner,
			updated_block  = EXCLUDED.updated_block,
			updated_at     = NOW()
		WHERE listings.updated_block <= EXCLUDED.updated_block`

	price := v.Price
	if price == "" {
		price = "0"
	}
	_, err := s.pool.Exec(ctx, query,
		v.ID, v.Seller, v.Buyer, v.SaleType, v.Status, v.MetadataURI,
		price, v.Currency, v.ModuleID, v.EscrowID, v.EscrowStatus,
		v.EscrowAmount, int64(v.StartTime), int64(v.EndTime),
		v.HighestBidder, v.HighestBid, int64(v.TotalTickets),
		v.Raised, v.Winner, int64(v.CreatedBlock), int64(v.UpdatedBlock),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %s: %w", v.ID, err)
	}
	return nil
}

func scanListing(row pgx.Row) (domain.ListingView, error) {
	var v domain.ListingView
	var start, end, tickets, created, updated int64
	err := row.Scan(
		&v.ID, &v.Seller, &v.Buyer, &v.SaleType, &v.Status, &v.MetadataURI,
		&v.Price, &v.Currency, &v.ModuleID, &v.EscrowID, &v.EscrowStatus,
		&v.EscrowAmount, &start, &end,
		&v.HighestBidder, &v.HighestBid, &tickets,
		&v.Raised, &v.Winner, &created, &updated,
	)
	if err != nil {
		return domain.ListingView{}, err
	}
	v.StartTime, v.EndTime = uint64(start), uint64(end)
	v.TotalTickets = uint64(tickets)
	v.CreatedBlock, v.UpdatedBlock = uint64(created), uint64(updated)
	return v, nil
}

func (s *ListingStore) getBy(ctx context.Context, column, value string) (domain.ListingView, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingCols+` FROM listings WHERE `+column+` = $1`, value)
	v, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ListingView{}, domain.ErrNotFound
		}
		return domain.ListingView{}, fmt.Errorf("postgres: get listing by %s %s: %w", column, value, err)
	}
	return v, nil
}

// GetByID returns the listing projection with the given id.
func (s *ListingStore) GetByID(ctx context.Context, id string) (domain.ListingView, error) {
	return s.getBy(ctx, "id", id)
}

// GetByModule returns the listing whose auction or raffle has moduleID.
func (s *ListingStore) GetByModule(ctx context.Context, moduleID string) (domain.ListingView, error) {
	return s.getBy(ctx, "module_id", moduleID)
}

// GetByEscrow returns the listing settled by escrowID.
func (s *ListingStore) GetByEscrow(ctx context.Context, escrowID string) (domain.ListingView, error) {
	return s.getBy(ctx, "escrow_id", escrowID)
}

// List returns listings matching filter, newest first.
func (s *ListingStore) List(ctx context.Context, filter domain.ListingFilter) ([]domain.ListingView, error) {
	query := `SELECT ` + listingCols + ` FROM listings WHERE 1=1`
	args := []any{}
	argIdx := 1

	for _, f := range [...]struct{ column, value string }{
		{"seller", filter.Seller},
		{"buyer", filter.Buyer},
		{"status", filter.Status},
		{"sale_type", filter.SaleType},
	} {
		if f.value == "" {
			continue
		}
		query += fmt.Sprintf(" AND %s = $%d", f.column, argIdx)
		args = append(args, f.value)
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND updated_at <= $%d", argIdx)
		args = append(args, *filter.Until)
		argIdx++
	}

	query += " ORDER BY created_block DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.ListingView
	for rows.Next() {
		v, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return out, nil
}

// Count returns the total number of listings projected.
func (s *ListingStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return count, nil
}
