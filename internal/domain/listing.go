package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SaleType selects the mechanic that governs a listing's sale.
type SaleType uint8

const (
	SaleFixedPrice SaleType = iota
	SaleAuction
	SaleRaffle
)

// Valid reports whether t is one of the defined sale types.
func (t SaleType) Valid() bool {
	return t <= SaleRaffle
}

func (t SaleType) String() string {
	switch t {
	case SaleFixedPrice:
		return "fixed_price"
	case SaleAuction:
		return "auction"
	case SaleRaffle:
		return "raffle"
	default:
		return "invalid"
	}
}

// ParseSaleType converts the String form back to a SaleType.
func ParseSaleType(s string) (SaleType, bool) {
	switch s {
	case "fixed_price":
		return SaleFixedPrice, true
	case "auction":
		return SaleAuction, true
	case "raffle":
		return SaleRaffle, true
	default:
		return 0, false
	}
}

// ListingStatus tracks the listing lifecycle.
type ListingStatus uint8

const (
	ListingNone ListingStatus = iota
	ListingActive
	ListingCancelled
	ListingExpired
	ListingPendingDelivery
	ListingCompleted
	ListingRefunded
)

func (s ListingStatus) String() string {
	switch s {
	case ListingNone:
		return "none"
	case ListingActive:
		return "active"
	case ListingCancelled:
		return "cancelled"
	case ListingExpired:
		return "expired"
	case ListingPendingDelivery:
		return "pending_delivery"
	case ListingCompleted:
		return "completed"
	case ListingRefunded:
		return "refunded"
	default:
		return "invalid"
	}
}

// ParseListingStatus converts the String form back to a ListingStatus.
func ParseListingStatus(s string) (ListingStatus, bool) {
	for st := ListingNone; st <= ListingRefunded; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// listingTransitions is the whole listing state machine.
var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingNone:            {ListingActive},
	ListingActive:          {ListingCancelled, ListingExpired, ListingPendingDelivery},
	ListingPendingDelivery: {ListingCompleted, ListingRefunded},
}

// CanTransition reports whether a listing may move from s to next.
func (s ListingStatus) CanTransition(next ListingStatus) bool {
	for _, allowed := range listingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s ListingStatus) Terminal() bool {
	return s != ListingNone && len(listingTransitions[s]) == 0
}

// Listing is the registry's record of one item for sale.
type Listing struct {
	ID               common.Hash
	Seller           common.Address
	Buyer            common.Address
	SaleType         SaleType
	Status           ListingStatus
	MetadataURI      string
	Price            *big.Int
	Currency         common.Address
	ModuleID         common.Hash
	EscrowID         common.Hash
	StartTime        uint64
	EndTime          uint64
	RaffleCommitment common.Hash
	CreatedAt        uint64
}

// HasModule reports whether the auction or raffle record has been opened.
func (l Listing) HasModule() bool {
	return l.ModuleID != (common.Hash{})
}

// ListingView is the read-side projection of a listing built by the indexer
// from the event log. It is never consulted by the write path.
type ListingView struct {
	ID            string `json:"id"`
	Seller        string `json:"seller"`
	Buyer         string `json:"buyer,omitempty"`
	SaleType      string `json:"sale_type"`
	Status        string `json:"status"`
	MetadataURI   string `json:"metadata_uri"`
	Price         string `json:"price"`
	Currency      string `json:"currency"`
	ModuleID      string `json:"module_id,omitempty"`
	EscrowID      string `json:"escrow_id,omitempty"`
	EscrowStatus  string `json:"escrow_status,omitempty"`
	EscrowAmount  string `json:"escrow_amount,omitempty"`
	StartTime     uint64 `json:"start_time,omitempty"`
	EndTime       uint64 `json:"end_time,omitempty"`
	HighestBidder string `json:"highest_bidder,omitempty"`
	HighestBid    string `json:"highest_bid,omitempty"`
	TotalTickets  uint64 `json:"total_tickets,omitempty"`
	Raised        string `json:"raised,omitempty"`
	Winner        string `json:"winner,omitempty"`
	CreatedBlock  uint64 `json:"created_block"`
	UpdatedBlock  uint64 `json:"updated_block"`
}
