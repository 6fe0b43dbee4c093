// Package auction implements open-bid English auctions with soft-close
// extension. Bids are held by the module; outbid amounts become refund
// credits that bidders withdraw themselves. Closing only reports the
// outcome; moving the winning bid is a separate sweep.
package auction

import (
	"math/big"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type refundKey struct {
	auction common.Hash
	bidder  common.Address
}

// Module is the auction component.
type Module struct {
	addr       common.Address
	controller common.Address

	auctions *chain.Map[common.Hash, domain.Auction]
	refunds  *chain.Map[refundKey, *big.Int]
	guard    chain.Guard
}

// New creates an auction module at addr that only controller may mutate.
func New(addr, controller common.Address) (*Module, error) {
	if addr == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "auction_module")
	}
	if controller == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "controller")
	}
	return &Module{
		addr:       addr,
		controller: controller,
		auctions:   chain.NewMap[common.Hash, domain.Auction](),
		refunds:    chain.NewMap[refundKey, *big.Int](),
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

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// CreateAuction opens an auction record under id.
func (m *Module) CreateAuction(ctx *chain.Context, id common.Hash, p domain.AuctionParams) error {
	release, err := m.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if m.auctions.Has(id) {
		return domain.ErrAuctionExists.With("id", id.Hex())
	}
	if p.EndTime <= p.StartTime {
		return domain.ErrInvalidTimeWindow.With("start", p.StartTime, "end", p.EndTime)
	}
	reserve, inc := orZero(p.ReservePrice), orZero(p.MinBidIncrement)
	if reserve.Sign() < 0 || inc.Sign() < 0 {
		return domain.ErrInvalidPrice.With("reserve", reserve, "increment", inc)
	}

	m.auctions.Put(ctx, id, domain.Auction{
		ID:               id,
		Currency:         p.Currency,
		StartTime:        p.StartTime,
		EndTime:          p.EndTime,
		ExtensionWindow:  p.ExtensionWindow,
		ExtensionSeconds: p.ExtensionSeconds,
		ReservePrice:     reserve,
		MinBidIncrement:  inc,
		HighestBid:       new(big.Int),
		WinningBid:       new(big.Int),
		Active:           true,
	})
	ctx.Emit(domain.AuctionCreated{
		AuctionID:        id,
		Currency:         p.Currency,
		StartTime:        p.StartTime,
		EndTime:          p.EndTime,
		ReservePrice:     new(big.Int).Set(reserve),
		MinBidIncrement:  new(big.Int).Set(inc),
		ExtensionWindow:  p.ExtensionWindow,
		ExtensionSeconds: p.ExtensionSeconds,
	})
	return nil
}

func (m *Module) load(id common.Hash) (domain.Auction, error) {
	a, ok := m.auctions.Get(id)
	if !ok {
		return domain.Auction{}, domain.ErrAuctionNotFound.With("id", id.Hex())
	}
	return a, nil
}

// PlaceBid records amount from bidder, taken from the controller, as the new
// highest bid. The previous highest bid becomes a refund credit. A bid that
// lands within the extension window pushes the end time out.
func (m *Module) PlaceBid(ctx *chain.Context, id common.Hash, bidder common.Address, amount *big.Int) error {
	release, err := m.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	a, err := m.load(id)
	if err != nil {
		return err
	}
	if a.Phase() != domain.AuctionOpen {
		return domain.ErrAuctionNotActive.With("id", id.Hex(), "phase", a.Phase().String())
	}
	now := ctx.Now()
	if now < a.StartTime {
		return domain.ErrAuctionNotStarted.With("start", a.StartTime, "now", now)
	}
	if now >= a.EndTime {
		return domain.ErrAuctionEnded.With("end", a.EndTime, "now", now)
	}
	if bidder == (common.Address{}) {
		return domain.ErrInvalidAddress.With("field", "bidder")
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount.With("field", "bid")
	}
	if required := a.MinimumBid(); amount.Cmp(required) < 0 {
		return domain.ErrBidTooLow.With("required", required, "got", amount)
	}
	if err := ctx.Collect(a.Currency, ctx.Sender(), amount); err != nil {
		return err
	}

	if a.HasBid() {
		m.credit(ctx, id, a.HighestBidder, a.HighestBid)
	}
	a.HighestBidder = bidder
	a.HighestBid = new(big.Int).Set(amount)

	extended := false
	if a.ExtensionSeconds > 0 && a.EndTime-now <= a.ExtensionWindow {
		a.EndTime += a.ExtensionSeconds
		extended = true
	}
	m.auctions.Put(ctx, id, a)

	ctx.Emit(domain.BidPlaced{AuctionID: id, Bidder: bidder, Amount: new(big.Int).Set(amount), EndTime: a.EndTime})
	if extended {
		ctx.Emit(domain.AuctionExtended{AuctionID: id, NewEndTime: a.EndTime})
	}
	return nil
}

// CloseAuction settles the auction once its end time has passed.
func (m *Module) CloseAuction(ctx *chain.Context, id common.Hash) (domain.AuctionOutcome, error) {
	release, err := m.enter(ctx)
	if err != nil {
		return domain.AuctionOutcome{}, err
	}
	defer release()

	a, err := m.load(id)
	if err != nil {
		return domain.AuctionOutcome{}, err
	}
	if a.Phase() != domain.AuctionOpen {
		return domain.AuctionOutcome{}, domain.ErrAuctionNotActive.With("id", id.Hex(), "phase", a.Phase().String())
	}
	if now := ctx.Now(); now < a.EndTime {
		return domain.AuctionOutcome{}, domain.ErrAuctionNotEnded.With("end", a.EndTime, "now", now)
	}

	out := domain.AuctionOutcome{WinningBid: new(big.Int)}
	if a.HasBid() && a.HighestBid.Cmp(a.ReservePrice) >= 0 {
		out = domain.AuctionOutcome{Success: true, Winner: a.HighestBidder, WinningBid: new(big.Int).Set(a.HighestBid)}
		a.Winner = a.HighestBidder
		a.WinningBid = new(big.Int).Set(a.HighestBid)
	} else if a.HasBid() {
		m.credit(ctx, id, a.HighestBidder, a.HighestBid)
	}
	a.Active = false
	a.Closed = true
	m.auctions.Put(ctx, id, a)

	ctx.Emit(domain.AuctionClosedEvent{AuctionID: id, Success: out.Success, Winner: out.Winner, WinningBid: new(big.Int).Set(out.WinningBid)})
	return out, nil
}

// CancelAuction aborts an auction that has not closed. The standing bid, if
// any, becomes a refund credit.
func (m *Module) CancelAuction(ctx *chain.Context, id common.Hash) error {
	release, err := m.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	a, err := m.load(id)
	if err != nil {
		return err
	}
	if a.Phase() != domain.AuctionOpen {
		return domain.ErrAuctionNotActive.With("id", id.Hex(), "phase", a.Phase().String())
	}
	if a.HasBid() {
		m.credit(ctx, id, a.HighestBidder, a.HighestBid)
	}
	a.Active = false
	a.Canceled = true
	m.auctions.Put(ctx, id, a)
	ctx.Emit(domain.AuctionCanceledEvent{AuctionID: id})
	return nil
}

// SweepWinningBid pays the winning bid to "to" exactly once. A closed
// auction without a winner sweeps nothing and reports zero.
func (m *Module) SweepWinningBid(ctx *chain.Context, id common.Hash, to common.Address) (*big.Int, error) {
	release, err := m.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if a.Phase() != domain.AuctionClosed {
		return nil, domain.ErrAuctionNotClosed.With("id", id.Hex(), "phase", a.Phase().String())
	}
	if a.ProceedsClaimed {
		return nil, domain.ErrAlreadyClaimed.With("id", id.Hex())
	}
	if a.Winner == (common.Address{}) {
		return new(big.Int), nil
	}
	if to == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "to")
	}
	a.ProceedsClaimed = true
	m.auctions.Put(ctx, id, a)
	if err := ctx.Pay(a.Currency, to, a.WinningBid); err != nil {
		return nil, err
	}
	ctx.Emit(domain.ProceedsSwept{ModuleID: id, To: to, Amount: new(big.Int).Set(a.WinningBid)})
	return new(big.Int).Set(a.WinningBid), nil
}

// WithdrawRefund pays bidder every amount credited to them on auction id.
func (m *Module) WithdrawRefund(ctx *chain.Context, id common.Hash, bidder common.Address) (*big.Int, error) {
	release, err := m.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := m.load(id)
	if err != nil {
		return nil, err
	}
	k := refundKey{auction: id, bidder: bidder}
	owed, ok := m.refunds.Get(k)
	if !ok || owed.Sign() == 0 {
		return nil, domain.ErrNothingToWithdraw.With("id", id.Hex(), "bidder", bidder.Hex())
	}
	m.refunds.Delete(ctx, k)
	if err := ctx.Pay(a.Currency, bidder, owed); err != nil {
		return nil, err
	}
	ctx.Emit(domain.RefundWithdrawn{ModuleID: id, Account: bidder, Amount: new(big.Int).Set(owed)})
	return new(big.Int).Set(owed), nil
}

func (m *Module) credit(ctx *chain.Context, id common.Hash, bidder common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	m.refunds.Put(ctx, refundKey{auction: id, bidder: bidder}, new(big.Int).Add(m.RefundAvailable(id, bidder), amount))
	ctx.Emit(domain.RefundCredited{ModuleID: id, Account: bidder, Amount: new(big.Int).Set(amount)})
}

// RefundAvailable returns what bidder may withdraw from auction id.
func (m *Module) RefundAvailable(id common.Hash, bidder common.Address) *big.Int {
	if r, ok := m.refunds.Get(refundKey{auction: id, bidder: bidder}); ok {
		return new(big.Int).Set(r)
	}
	return new(big.Int)
}

// GetAuction returns the auction recorded under id.
func (m *Module) GetAuction(id common.Hash) (domain.Auction, error) {
	return m.load(id)
}
