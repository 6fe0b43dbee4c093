package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RafflePhase is the derived status of a raffle record.
type RafflePhase uint8

const (
	RaffleNone RafflePhase = iota
	RaffleOpen
	RaffleSucceeded
	RaffleFailed
	RaffleCanceled
)

func (p RafflePhase) String() string {
	switch p {
	case RaffleOpen:
		return "open"
	case RaffleSucceeded:
		return "succeeded"
	case RaffleFailed:
		return "failed"
	case RaffleCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// RaffleParams configures a new target-funded raffle.
type RaffleParams struct {
	Currency        common.Address
	StartTime       uint64
	EndTime         uint64
	TicketPrice     *big.Int
	TargetAmount    *big.Int
	MinParticipants uint64
}

// Raffle is a ticket sale with weighted winner selection. TotalTickets is the
// sum of every participant's tickets and Raised equals
// TotalTickets * TicketPrice.
type Raffle struct {
	ID               common.Hash
	Currency         common.Address
	StartTime        uint64
	EndTime          uint64
	TicketPrice      *big.Int
	TargetAmount     *big.Int
	MinParticipants  uint64
	ParticipantCount uint64
	TotalTickets     uint64
	Raised           *big.Int
	Closed           bool
	Canceled         bool
	Successful       bool
	ProceedsClaimed  bool
	Winner           common.Address
}

// Phase collapses the raffle flags into one status.
func (r Raffle) Phase() RafflePhase {
	switch {
	case r.Canceled:
		return RaffleCanceled
	case r.Closed && r.Successful:
		return RaffleSucceeded
	case r.Closed:
		return RaffleFailed
	case r.TicketPrice != nil:
		return RaffleOpen
	default:
		return RaffleNone
	}
}

// Refundable reports whether entrants may reclaim their contributions.
func (r Raffle) Refundable() bool {
	return r.Closed && !r.Successful
}

// RaffleOutcome is what closing a raffle reports to the registry.
type RaffleOutcome struct {
	Success bool
	Winner  common.Address
	Raised  *big.Int
}
