package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a structured entry in the protocol event log.
type Event interface {
	EventName() string
}

// Registry events.

type ListingCreated struct {
	ListingID   common.Hash    `json:"listing_id"`
	Seller      common.Address `json:"seller"`
	SaleType    string         `json:"sale_type"`
	Price       *big.Int       `json:"price"`
	Currency    common.Address `json:"currency"`
	MetadataURI string         `json:"metadata_uri"`
}

type ListingCancelledEvent struct {
	ListingID common.Hash    `json:"listing_id"`
	Seller    common.Address `json:"seller"`
}

type ListingExpiredEvent struct {
	ListingID common.Hash `json:"listing_id"`
}

type AuctionOpened struct {
	ListingID common.Hash `json:"listing_id"`
	AuctionID common.Hash `json:"auction_id"`
	StartTime uint64      `json:"start_time"`
	EndTime   uint64      `json:"end_time"`
}

type RaffleOpened struct {
	ListingID  common.Hash `json:"listing_id"`
	RaffleID   common.Hash `json:"raffle_id"`
	StartTime  uint64      `json:"start_time"`
	EndTime    uint64      `json:"end_time"`
	Commitment common.Hash `json:"commitment"`
}

// ListingPurchased is emitted whenever a listing gains a buyer and an
// escrow: fixed-price buy, auction win or raffle win.
type ListingPurchased struct {
	ListingID common.Hash    `json:"listing_id"`
	Buyer     common.Address `json:"buyer"`
	EscrowID  common.Hash    `json:"escrow_id"`
	Amount    *big.Int       `json:"amount"`
}

type DeliveryConfirmed struct {
	ListingID common.Hash    `json:"listing_id"`
	By        common.Address `json:"by"`
}

type RefundIssued struct {
	ListingID common.Hash    `json:"listing_id"`
	By        common.Address `json:"by"`
}

type FeeUpdated struct {
	FeeBps       uint16         `json:"fee_bps"`
	FeeRecipient common.Address `json:"fee_recipient"`
}

type ArbiterUpdated struct {
	Previous common.Address `json:"previous"`
	Arbiter  common.Address `json:"arbiter"`
}

type OwnershipTransferred struct {
	Previous common.Address `json:"previous"`
	Owner    common.Address `json:"owner"`
}

// Vault events.

type EscrowCreated struct {
	EscrowID common.Hash    `json:"escrow_id"`
	Buyer    common.Address `json:"buyer"`
	Seller   common.Address `json:"seller"`
	Currency common.Address `json:"currency"`
	Amount   *big.Int       `json:"amount"`
}

type EscrowReleasedEvent struct {
	EscrowID     common.Hash `json:"escrow_id"`
	SellerAmount *big.Int    `json:"seller_amount"`
	Fee          *big.Int    `json:"fee"`
}

type FeePaid struct {
	EscrowID  common.Hash    `json:"escrow_id"`
	Recipient common.Address `json:"recipient"`
	Currency  common.Address `json:"currency"`
	Amount    *big.Int       `json:"amount"`
}

type EscrowRefundedEvent struct {
	EscrowID common.Hash    `json:"escrow_id"`
	Buyer    common.Address `json:"buyer"`
	Amount   *big.Int       `json:"amount"`
}

type Withdrawn struct {
	Recipient common.Address `json:"recipient"`
	Currency  common.Address `json:"currency"`
	Amount    *big.Int       `json:"amount"`
}

// Auction events.

type AuctionCreated struct {
	AuctionID        common.Hash    `json:"auction_id"`
	Currency         common.Address `json:"currency"`
	StartTime        uint64         `json:"start_time"`
	EndTime          uint64         `json:"end_time"`
	ReservePrice     *big.Int       `json:"reserve_price"`
	MinBidIncrement  *big.Int       `json:"min_bid_increment"`
	ExtensionWindow  uint64         `json:"extension_window"`
	ExtensionSeconds uint64         `json:"extension_seconds"`
}

type BidPlaced struct {
	AuctionID common.Hash    `json:"auction_id"`
	Bidder    common.Address `json:"bidder"`
	Amount    *big.Int       `json:"amount"`
	EndTime   uint64         `json:"end_time"`
}

type AuctionExtended struct {
	AuctionID  common.Hash `json:"auction_id"`
	NewEndTime uint64      `json:"new_end_time"`
}

type AuctionClosedEvent struct {
	AuctionID  common.Hash    `json:"auction_id"`
	Success    bool           `json:"success"`
	Winner     common.Address `json:"winner"`
	WinningBid *big.Int       `json:"winning_bid"`
}

type AuctionCanceledEvent struct {
	AuctionID common.Hash `json:"auction_id"`
}

// Raffle events.

type RaffleCreated struct {
	RaffleID        common.Hash    `json:"raffle_id"`
	Currency        common.Address `json:"currency"`
	StartTime       uint64         `json:"start_time"`
	EndTime         uint64         `json:"end_time"`
	TicketPrice     *big.Int       `json:"ticket_price"`
	TargetAmount    *big.Int       `json:"target_amount"`
	MinParticipants uint64         `json:"min_participants"`
}

type RaffleEntered struct {
	RaffleID common.Hash    `json:"raffle_id"`
	Buyer    common.Address `json:"buyer"`
	Tickets  uint64         `json:"tickets"`
	Paid     *big.Int       `json:"paid"`
}

type RaffleClosed struct {
	RaffleID     common.Hash `json:"raffle_id"`
	Success      bool        `json:"success"`
	TotalTickets uint64      `json:"total_tickets"`
	Raised       *big.Int    `json:"raised"`
}

type WinnerSelected struct {
	RaffleID common.Hash    `json:"raffle_id"`
	Winner   common.Address `json:"winner"`
	Pick     uint64         `json:"pick"`
}

type RaffleCanceledEvent struct {
	RaffleID common.Hash `json:"raffle_id"`
}

// Events shared by the auction and raffle modules.

// RefundCredited records a pull-payment credit owed by a sale module.
type RefundCredited struct {
	ModuleID common.Hash    `json:"module_id"`
	Account  common.Address `json:"account"`
	Amount   *big.Int       `json:"amount"`
}

type RefundWithdrawn struct {
	ModuleID common.Hash    `json:"module_id"`
	Account  common.Address `json:"account"`
	Amount   *big.Int       `json:"amount"`
}

type ProceedsSwept struct {
	ModuleID common.Hash    `json:"module_id"`
	To       common.Address `json:"to"`
	Amount   *big.Int       `json:"amount"`
}

func (ListingCreated) EventName() string        { return "ListingCreated" }
func (ListingCancelledEvent) EventName() string { return "ListingCancelled" }
func (ListingExpiredEvent) EventName() string   { return "ListingExpired" }
func (AuctionOpened) EventName() string         { return "AuctionOpened" }
func (RaffleOpened) EventName() string          { return "RaffleOpened" }
func (ListingPurchased) EventName() string      { return "ListingPurchased" }
func (DeliveryConfirmed) EventName() string     { return "DeliveryConfirmed" }
func (RefundIssued) EventName() string          { return "RefundIssued" }
func (FeeUpdated) EventName() string            { return "FeeUpdated" }
func (ArbiterUpdated) EventName() string        { return "ArbiterUpdated" }
func (OwnershipTransferred) EventName() string  { return "OwnershipTransferred" }
func (EscrowCreated) EventName() string         { return "EscrowCreated" }
func (EscrowReleasedEvent) EventName() string   { return "EscrowReleased" }
func (FeePaid) EventName() string               { return "FeePaid" }
func (EscrowRefundedEvent) EventName() string   { return "EscrowRefunded" }
func (Withdrawn) EventName() string             { return "Withdrawn" }
func (AuctionCreated) EventName() string        { return "AuctionCreated" }
func (BidPlaced) EventName() string             { return "BidPlaced" }
func (AuctionExtended) EventName() string       { return "AuctionExtended" }
func (AuctionClosedEvent) EventName() string    { return "AuctionClosed" }
func (AuctionCanceledEvent) EventName() string  { return "AuctionCanceled" }
func (RaffleCreated) EventName() string         { return "RaffleCreated" }
func (RaffleEntered) EventName() string         { return "RaffleEntered" }
func (RaffleClosed) EventName() string          { return "RaffleClosed" }
func (WinnerSelected) EventName() string        { return "WinnerSelected" }
func (RaffleCanceledEvent) EventName() string   { return "RaffleCanceled" }
func (RefundCredited) EventName() string        { return "RefundCredited" }
func (RefundWithdrawn) EventName() string       { return "RefundWithdrawn" }
func (ProceedsSwept) EventName() string         { return "ProceedsSwept" }

var eventTypes = map[string]func() Event{
	"ListingCreated":       func() Event { return &ListingCreated{} },
	"ListingCancelled":     func() Event { return &ListingCancelledEvent{} },
	"ListingExpired":       func() Event { return &ListingExpiredEvent{} },
	"AuctionOpened":        func() Event { return &AuctionOpened{} },
	"RaffleOpened":         func() Event { return &RaffleOpened{} },
	"ListingPurchased":     func() Event { return &ListingPurchased{} },
	"DeliveryConfirmed":    func() Event { return &DeliveryConfirmed{} },
	"RefundIssued":         func() Event { return &RefundIssued{} },
	"FeeUpdated":           func() Event { return &FeeUpdated{} },
	"ArbiterUpdated":       func() Event { return &ArbiterUpdated{} },
	"OwnershipTransferred": func() Event { return &OwnershipTransferred{} },
	"EscrowCreated":        func() Event { return &EscrowCreated{} },
	"EscrowReleased":       func() Event { return &EscrowReleasedEvent{} },
	"FeePaid":              func() Event { return &FeePaid{} },
	"EscrowRefunded":       func() Event { return &EscrowRefundedEvent{} },
	"Withdrawn":            func() Event { return &Withdrawn{} },
	"AuctionCreated":       func() Event { return &AuctionCreated{} },
	"BidPlaced":            func() Event { return &BidPlaced{} },
	"AuctionExtended":      func() Event { return &AuctionExtended{} },
	"AuctionClosed":        func() Event { return &AuctionClosedEvent{} },
	"AuctionCanceled":      func() Event { return &AuctionCanceledEvent{} },
	"RaffleCreated":        func() Event { return &RaffleCreated{} },
	"RaffleEntered":        func() Event { return &RaffleEntered{} },
	"RaffleClosed":         func() Event { return &RaffleClosed{} },
	"WinnerSelected":       func() Event { return &WinnerSelected{} },
	"RaffleCanceled":       func() Event { return &RaffleCanceledEvent{} },
	"RefundCredited":       func() Event { return &RefundCredited{} },
	"RefundWithdrawn":      func() Event { return &RefundWithdrawn{} },
	"ProceedsSwept":        func() Event { return &ProceedsSwept{} },
}

// DecodeEvent rebuilds a typed event from its name and JSON body. The
// returned value is a pointer to the event struct.
func DecodeEvent(name string, data []byte) (Event, error) {
	mk, ok := eventTypes[name]
	if !ok {
		return nil, fmt.Errorf("domain: unknown event %q", name)
	}
	ev := mk()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("domain: decode %s: %w", name, err)
	}
	return ev, nil
}

// EventRecord is a committed log entry in transport form.
type EventRecord struct {
	Seq         uint64          `json:"seq"`
	BlockNumber uint64          `json:"block_number"`
	BlockTime   time.Time       `json:"block_time"`
	TxHash      common.Hash     `json:"tx_hash"`
	LogIndex    uint32          `json:"log_index"`
	Address     common.Address  `json:"address"`
	Name        string          `json:"name"`
	Data        json.RawMessage `json:"data"`
	// ListingID is resolved by the indexer for events that concern a
	// listing, including module and escrow events.
	ListingID string `json:"listing_id,omitempty"`
}
