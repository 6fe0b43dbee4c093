package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingFilter narrows a listing projection query. Zero fields match all.
type ListingFilter struct {
	Seller   string
	Buyer    string
	Status   string
	SaleType string
	ListOpts
}

// ListingStore persists the read-side listing projection.
type ListingStore interface {
	Upsert(ctx context.Context, view ListingView) error
	GetByID(ctx context.Context, id string) (ListingView, error)
	GetByModule(ctx context.Context, moduleID string) (ListingView, error)
	GetByEscrow(ctx context.Context, escrowID string) (ListingView, error)
	List(ctx context.Context, filter ListingFilter) ([]ListingView, error)
	Count(ctx context.Context) (int64, error)
}

// EventFilter narrows an event log query. Zero fields match all.
type EventFilter struct {
	Name    string
	Address string
	FromSeq uint64
	Limit   int
}

// EventStore persists the raw protocol event log mirrored by the indexer.
type EventStore interface {
	InsertBatch(ctx context.Context, records []EventRecord) error
	List(ctx context.Context, filter EventFilter) ([]EventRecord, error)
	ListByListing(ctx context.Context, listingID string, opts ListOpts) ([]EventRecord, error)
}

// CursorStore remembers how far a named consumer has read the event log.
type CursorStore interface {
	Get(ctx context.Context, name string) (uint64, error)
	Set(ctx context.Context, name string, seq uint64) error
}

// AuditOutcome is how an audited operation ended.
type AuditOutcome string

const (
	AuditCommitted AuditOutcome = "committed"
	AuditReverted  AuditOutcome = "reverted"
)

// AuditEntry is one row of the operator audit log. Submitted transactions
// carry their caller, listing and receipt; a reverted transaction has no
// receipt and names its error code instead. Background work such as
// archiving leaves the transaction fields empty.
type AuditEntry struct {
	ID        int64
	Op        string
	Caller    common.Address
	ListingID string
	TxHash    common.Hash
	Block     uint64
	Outcome   AuditOutcome
	ErrorCode string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditFilter narrows an audit listing. Zero fields match everything.
type AuditFilter struct {
	ListOpts
	Op        string
	Caller    common.Address
	ListingID string
	Outcome   AuditOutcome
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Record(ctx context.Context, e AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// IdempotencyRecord is the stored response of a write request replayed for
// a repeated idempotency key.
type IdempotencyRecord struct {
	StatusCode  int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IdempotencyStore persists write responses by idempotency key. Get returns
// nil for unknown and expired keys.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Save(ctx context.Context, key string, rec IdempotencyRecord) error
}
