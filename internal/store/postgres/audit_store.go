package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

const auditCols = `id, op, caller, listing_id, tx_hash, block_number, outcome, error_code, detail, created_at`

// Record appends e. Zero addresses and hashes are stored as empty text so
// background entries stay distinguishable from transactions.
func (s *AuditStore) Record(ctx context.Context, e domain.AuditEntry) error {
	var detailJSON []byte
	if len(e.Detail) > 0 {
		var err error
		if detailJSON, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("postgres: marshal audit detail: %w", err)
		}
	}

	const query = `
		INSERT INTO audit_log (op, caller, listing_id, tx_hash, block_number, outcome, error_code, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		e.Op, addressText(e.Caller), e.ListingID, hashText(e.TxHash), int64(e.Block),
		string(e.Outcome), e.ErrorCode, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: record audit %s: %w", e.Op, err)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (s *AuditStore) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	query := `SELECT ` + auditCols + ` FROM audit_log WHERE 1=1`
	args := []any{}
	argIdx := 1
	where := func(clause string, v any) {
		query += fmt.Sprintf(" AND "+clause, argIdx)
		args = append(args, v)
		argIdx++
	}

	if filter.Op != "" {
		where("op = $%d", filter.Op)
	}
	if filter.Caller != (common.Address{}) {
		where("caller = $%d", filter.Caller.Hex())
	}
	if filter.ListingID != "" {
		where("listing_id = $%d", filter.ListingID)
	}
	if filter.Outcome != "" {
		where("outcome = $%d", string(filter.Outcome))
	}
	if filter.Since != nil {
		where("created_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		where("created_at <= $%d", *filter.Until)
	}

	query += " ORDER BY created_at DESC, id DESC"

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
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e              domain.AuditEntry
			caller, txHash string
			outcome        string
			block          int64
			detailJSON     []byte
		)
		if err := rows.Scan(&e.ID, &e.Op, &caller, &e.ListingID, &txHash, &block, &outcome, &e.ErrorCode, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if caller != "" {
			e.Caller = common.HexToAddress(caller)
		}
		if txHash != "" {
			e.TxHash = common.HexToHash(txHash)
		}
		e.Block = uint64(block)
		e.Outcome = domain.AuditOutcome(outcome)
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}

func addressText(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func hashText(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

var _ domain.AuditStore = (*AuditStore)(nil)
