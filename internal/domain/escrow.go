package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EscrowStatus tracks an escrow record. Released and Refunded are terminal.
type EscrowStatus uint8

const (
	EscrowNone EscrowStatus = iota
	EscrowFunded
	EscrowReleased
	EscrowRefunded
)

func (s EscrowStatus) String() string {
	switch s {
	case EscrowNone:
		return "none"
	case EscrowFunded:
		return "funded"
	case EscrowReleased:
		return "released"
	case EscrowRefunded:
		return "refunded"
	default:
		return "invalid"
	}
}

// CanTransition reports whether an escrow may move from s to next.
func (s EscrowStatus) CanTransition(next EscrowStatus) bool {
	switch s {
	case EscrowNone:
		return next == EscrowFunded
	case EscrowFunded:
		return next == EscrowReleased || next == EscrowRefunded
	default:
		return false
	}
}

// Escrow is a single-use custody record bridging a buyer's payment and the
// seller's payout. Amount never changes after creation.
type Escrow struct {
	ID       common.Hash
	Buyer    common.Address
	Seller   common.Address
	Currency common.Address
	Amount   *big.Int
	Status   EscrowStatus
}

// MaxBps is the basis-point denominator.
const MaxBps = 10_000

// FeeSplit divides amount into the protocol fee and the seller's share:
// fee = amount * feeBps / 10000, seller = amount - fee.
func FeeSplit(amount *big.Int, feeBps uint16) (fee, seller *big.Int) {
	fee = new(big.Int).Mul(amount, big.NewInt(int64(feeBps)))
	fee.Quo(fee, big.NewInt(MaxBps))
	seller = new(big.Int).Sub(amount, fee)
	return fee, seller
}
