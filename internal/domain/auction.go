package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionPhase is the derived status of an auction record.
type AuctionPhase uint8

const (
	AuctionNone AuctionPhase = iota
	AuctionOpen
	AuctionClosed
	AuctionCanceled
)

func (p AuctionPhase) String() string {
	switch p {
	case AuctionOpen:
		return "open"
	case AuctionClosed:
		return "closed"
	case AuctionCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// AuctionParams configures a new English auction.
type AuctionParams struct {
	Currency         common.Address
	StartTime        uint64
	EndTime          uint64
	ExtensionWindow  uint64
	ExtensionSeconds uint64
	ReservePrice     *big.Int
	MinBidIncrement  *big.Int
}

// Auction is an open-bid English auction with soft-close extension.
type Auction struct {
	ID               common.Hash
	Currency         common.Address
	StartTime        uint64
	EndTime          uint64
	ExtensionWindow  uint64
	ExtensionSeconds uint64
	ReservePrice     *big.Int
	MinBidIncrement  *big.Int
	HighestBidder    common.Address
	HighestBid       *big.Int
	Active           bool
	Canceled         bool
	Closed           bool
	ProceedsClaimed  bool
	Winner           common.Address
	WinningBid       *big.Int
}

// Phase collapses the auction flags into one status.
func (a Auction) Phase() AuctionPhase {
	switch {
	case a.Canceled:
		return AuctionCanceled
	case a.Closed:
		return AuctionClosed
	case a.Active:
		return AuctionOpen
	default:
		return AuctionNone
	}
}

// HasBid reports whether anyone has bid.
func (a Auction) HasBid() bool {
	return a.HighestBidder != (common.Address{})
}

// MinimumBid is the smallest amount the next bid must carry: the reserve for
// the first bid, otherwise max(reserve, highest + increment).
func (a Auction) MinimumBid() *big.Int {
	if !a.HasBid() {
		return new(big.Int).Set(a.ReservePrice)
	}
	next := new(big.Int).Add(a.HighestBid, a.MinBidIncrement)
	if next.Cmp(a.ReservePrice) < 0 {
		return new(big.Int).Set(a.ReservePrice)
	}
	return next
}

// AuctionOutcome is what closing an auction reports to the registry.
type AuctionOutcome struct {
	Success    bool
	Winner     common.Address
	WinningBid *big.Int
}
