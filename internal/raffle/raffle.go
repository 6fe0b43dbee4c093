// Package raffle implements target-funded ticket raffles with weighted
// winner selection from a caller-supplied seed.
package raffle

import (
	"math/big"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type entryKey struct {
	raffle common.Hash
	buyer  common.Address
}

type entry struct {
	tickets     uint64
	contributed *big.Int
}

// Module is the raffle component.
type Module struct {
	addr       common.Address
	controller common.Address

	raffles      *chain.Map[common.Hash, domain.Raffle]
	participants *chain.Map[common.Hash, []common.Address]
	entries      *chain.Map[entryKey, entry]
	refunded     *chain.Map[entryKey, bool]
	guard        chain.Guard
}

// New creates a raffle module at addr that only controller may mutate.
func New(addr, controller common.Address) (*Module, error) {
	if addr == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "raffle_module")
	}
	if controller == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "controller")
	}
	return &Module{
		addr:         addr,
		controller:   controller,
		raffles:      chain.NewMap[common.Hash, domain.Raffle](),
		participants: chain.NewMap[common.Hash, []common.Address](),
		entries:      chain.NewMap[entryKey, entry](),
		refunded:     chain.NewMap[entryKey, bool](),
	}, nil
}

func (m *Module) Address() common.Address    { return m.addr }
func (m *Module) Controller() common.Address { return m.controller }

func (m *Module) enter(ctx *chain.Context) (func(), error) {
	if err := ctx.Expect(m.addr); err != nil {
		return nil, err
	}
	if ctx.Sender() != m.controller {
		return nil, domain.ErrNotController.With("caller", ctx.Sender().Hex())
	}
	return m.guard.Enter()
}

func (m *Module) load(id common.Hash) (domain.Raffle, error) {
	r, ok := m.raffles.Get(id)
	if !ok {
		return domain.Raffle{}, domain.ErrRaffleNotFound.With("id", id.Hex())
	}
	return r, nil
}

// CreateRaffle opens a raffle record under id.
func (m *Module) CreateRaffle(ctx *chain.Context, id common.Hash, p domain.RaffleParams) error {
	release, err := m.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if m.raffles.Has(id) {
		return domain.ErrRaffleExists.With("id", id.Hex())
	}
	if p.EndTime <= p.StartTime {
		return domain.ErrInvalidTimeWindow.With("start", p.StartTime, "end", p.EndTime)
	}
	switch {
	case p.TicketPrice == nil || p.TicketPrice.Sign() <= 0:
		return domain.ErrInvalidRaffleParams.With("field", "ticket_price")
	case p.TargetAmount == nil || p.TargetAmount.Sign() <= 0:
		return domain.ErrInvalidRaffleParams.With("field", "target_amount")
	case p.MinParticipants == 0:
		return domain.ErrInvalidRaffleParams.With("field", "min_participants")
	}

	m.raffles.Put(ctx, id, domain.Raffle{
		ID:              id,
		Currency:        p.Currency,
		StartTime:       p.StartTime,
		EndTime:         p.EndTime,
		TicketPrice:     new(big.Int).Set(p.TicketPrice),
		TargetAmount:    new(big.Int).Set(p.TargetAmount),
		MinParticipants: p.MinParticipants,
		Raised:          new(big.Int),
	})
	ctx.Emit(domain.RaffleCreated{
		RaffleID:        id,
		Currency:        p.Currency,
		StartTime:       p.StartTime,
		EndTime:         p.EndTime,
		TicketPrice:     new(big.Int).Set(p.TicketPrice),
		TargetAmount:    new(big.Int).Set(p.TargetAmount),
		MinParticipants: p.MinParticipants,
	})
	return nil
}

// EnterRaffle sells count tickets to buyer, paid by the controller at
// exactly ticketPrice * count.
func (m *Module) EnterRaffle(ctx *chain.Context, id common.Hash, buyer common.Address, count uint64) error {
	release, err := m.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	r, err := m.load(id)
	if err != nil {
		return err
	}
	if r.Closed {
		return domain.ErrRaffleClosed.With("id", id.Hex())
	}
	now := ctx.Now()
	if now < r.StartTime || now >= r.EndTime {
		return domain.ErrRaffleNotOpen.With("start", r.StartTime, "end", r.EndTime, "now", now)
	}
	if buyer == (common.Address{}) {
		return domain.ErrInvalidAddress.With("field", "buyer")
	}
	if count == 0 || r.TotalTickets+count < r.TotalTickets {
		return domain.ErrInvalidTicketCount.With("count", count)
	}
	cost := ticketCost(r.TicketPrice, count)
	if err := ctx.Collect(r.Currency, ctx.Sender(), cost); err != nil {
		return err
	}

	k := entryKey{raffle: id, buyer: buyer}
	e, seen := m.entries.Get(k)
	if !seen {
		list, _ := m.participants.Get(id)
		next := make([]common.Address, len(list), len(list)+1)
		copy(next, list)
		m.participants.Put(ctx, id, append(next, buyer))
		r.ParticipantCount++
		e.contributed = new(big.Int)
	}
	m.entries.Put(ctx, k, entry{
		tickets:     e.tickets + count,
		contributed: new(big.Int).Add(e.contributed, cost),
	})
	r.TotalTickets += count
	r.Raised = new(big.Int).Add(r.Raised, cost)
	m.raffles.Put(ctx, id, r)

	ctx.Emit(domain.RaffleEntered{RaffleID: id, Buyer: buyer, Tickets: count, Paid: cost})
	return nil
}

func ticketCost(price *big.Int, count uint64) *big.Int {
	return new(big.Int).Mul(price, new(big.Int).SetUint64(count))
}

// CloseRaffle finalizes the raffle once it has ended or met its target. On
// success the winner is drawn from seed weighted by ticket count.
func (m *Module) CloseRaffle(ctx *chain.Context, id common.Hash, seed *big.Int) (domain.RaffleOutcome, error) {
	release, err := m.enter(ctx)
	if err != nil {
		return domain.RaffleOutcome{}, err
	}
	defer release()

	r, err := m.load(id)
	if err != nil {
		return domain.RaffleOutcome{}, err
	}
	if r.Closed {
		return domain.RaffleOutcome{}, domain.ErrRaffleClosed.With("id", id.Hex())
	}
	now := ctx.Now()
	metTarget := r.Raised.Cmp(r.TargetAmount) >= 0
	if now < r.EndTime && !metTarget {
		return domain.RaffleOutcome{}, domain.ErrRaffleNotClosable.With("end", r.EndTime, "now", now, "raised", r.Raised, "target", r.TargetAmount)
	}

	out := domain.RaffleOutcome{Raised: new(big.Int).Set(r.Raised)}
	r.Closed = true
	r.Successful = r.ParticipantCount >= r.MinParticipants && metTarget && r.TotalTickets > 0
	var pick uint64
	if r.Successful {
		if seed == nil {
			seed = new(big.Int)
		}
		pick = new(big.Int).Mod(seed, new(big.Int).SetUint64(r.TotalTickets)).Uint64()
		list, _ := m.participants.Get(id)
		r.Winner = pickWinner(list, func(a common.Address) uint64 { return m.TicketsOf(id, a) }, pick)
		out.Success = true
		out.Winner = r.Winner
	}
	m.raffles.Put(ctx, id, r)

	ctx.Emit(domain.RaffleClosed{RaffleID: id, Success: r.Successful, TotalTickets: r.TotalTickets, Raised: new(big.Int).Set(r.Raised)})
	if r.Successful {
		ctx.Emit(domain.WinnerSelected{RaffleID: id, Winner: r.Winner, Pick: pick})
	}
	return out, nil
}

// pickWinner walks participants in entry order accumulating ticket counts
// and returns the first whose running total exceeds pick.
func pickWinner(participants []common.Address, tickets func(common.Address) uint64, pick uint64) common.Address {
	var cum uint64
	for _, p := range participants {
		cum += tickets(p)
		if cum > pick {
			return p
		}
	}
	return common.Address{}
}

// CancelRaffle aborts a raffle that has not closed. Every entrant may then
// withdraw their contribution.
func (m *Module) CancelRaffle(ctx *chain.Context, id common.Hash) error {
	release, err := m.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	r, err := m.load(id)
	if err != nil {
		return err
	}
	if r.Closed {
		return domain.ErrRaffleClosed.With("id", id.Hex())
	}
	r.Canceled = true
	r.Closed = true
	m.raffles.Put(ctx, id, r)
	ctx.Emit(domain.RaffleCanceledEvent{RaffleID: id})
	return nil
}

// SweepProceeds pays everything raised by a successful raffle to "to",
// exactly once.
func (m *Module) SweepProceeds(ctx *chain.Context, id common.Hash, to common.Address) (*big.Int, error) {
	release, err := m.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	r, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if r.Phase() != domain.RaffleSucceeded {
		return nil, domain.ErrRaffleNotSuccessful.With("id", id.Hex(), "phase", r.Phase().String())
	}
	if r.ProceedsClaimed {
		return nil, domain.ErrAlreadyClaimed.With("id", id.Hex())
	}
	if to == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "to")
	}
	r.ProceedsClaimed = true
	m.raffles.Put(ctx, id, r)
	if err := ctx.Pay(r.Currency, to, r.Raised); err != nil {
		return nil, err
	}
	ctx.Emit(domain.ProceedsSwept{ModuleID: id, To: to, Amount: new(big.Int).Set(r.Raised)})
	return new(big.Int).Set(r.Raised), nil
}

// WithdrawRefund returns buyer's whole contribution to a raffle that closed
// without success. Ticket and contribution records stay intact.
func (m *Module) WithdrawRefund(ctx *chain.Context, id common.Hash, buyer common.Address) (*big.Int, error) {
	release, err := m.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	r, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if !r.Refundable() {
		return nil, domain.ErrRaffleNotRefundable.With("id", id.Hex(), "phase", r.Phase().String())
	}
	owed := m.RefundAvailable(id, buyer)
	if owed.Sign() == 0 {
		return nil, domain.ErrNothingToWithdraw.With("id", id.Hex(), "buyer", buyer.Hex())
	}
	m.refunded.Put(ctx, entryKey{raffle: id, buyer: buyer}, true)
	if err := ctx.Pay(r.Currency, buyer, owed); err != nil {
		return nil, err
	}
	ctx.Emit(domain.RefundWithdrawn{ModuleID: id, Account: buyer, Amount: new(big.Int).Set(owed)})
	return owed, nil
}

// RefundAvailable returns what buyer may withdraw right now.
func (m *Module) RefundAvailable(id common.Hash, buyer common.Address) *big.Int {
	r, ok := m.raffles.Get(id)
	if !ok || !r.Refundable() {
		return new(big.Int)
	}
	k := entryKey{raffle: id, buyer: buyer}
	if done, _ := m.refunded.Get(k); done {
		return new(big.Int)
	}
	return m.ContributionOf(id, buyer)
}

// QuoteEntry prices count tickets.
func (m *Module) QuoteEntry(id common.Hash, count uint64) (*big.Int, error) {
	r, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, domain.ErrInvalidTicketCount.With("count", count)
	}
	return ticketCost(r.TicketPrice, count), nil
}

// GetRaffle returns the raffle recorded under id.
func (m *Module) GetRaffle(id common.Hash) (domain.Raffle, error) {
	return m.load(id)
}

// Participants lists entrants in the order they first entered.
func (m *Module) Participants(id common.Hash) []common.Address {
	list, _ := m.participants.Get(id)
	out := make([]common.Address, len(list))
	copy(out, list)
	return out
}

func (m *Module) TicketsOf(id common.Hash, buyer common.Address) uint64 {
	e, _ := m.entries.Get(entryKey{raffle: id, buyer: buyer})
	return e.tickets
}

func (m *Module) ContributionOf(id common.Hash, buyer common.Address) *big.Int {
	e, ok := m.entries.Get(entryKey{raffle: id, buyer: buyer})
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(e.contributed)
}
