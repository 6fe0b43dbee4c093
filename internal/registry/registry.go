// Package registry implements the listing registry: the orchestrator that
// owns the listing lifecycle and is the controller of the escrow vault and
// the auction and raffle modules.
//
// Users pay the registry only. For native currency the value attached to
// the transaction is forwarded to the component that takes custody; for a
// token the registry pulls the caller's allowance and approves the
// component to pull from it.
package registry

import (
	"math/big"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeBps caps the protocol fee at 10%.
const MaxFeeBps = 1000

// Escrow is the vault surface the registry drives.
type Escrow interface {
	Address() common.Address
	Controller() common.Address
	CreateEscrow(ctx *chain.Context, id common.Hash, payer, buyer, seller, currency common.Address, amount *big.Int) error
	Release(ctx *chain.Context, id common.Hash, feeRecipient common.Address, feeBps uint16) error
	Refund(ctx *chain.Context, id common.Hash) error
	Withdraw(ctx *chain.Context, currency, recipient common.Address) (*big.Int, error)
	CreditOf(recipient, currency common.Address) *big.Int
	GetEscrow(id common.Hash) (domain.Escrow, error)
}

// Auctions is the auction module surface the registry drives.
type Auctions interface {
	Address() common.Address
	Controller() common.Address
	CreateAuction(ctx *chain.Context, id common.Hash, p domain.AuctionParams) error
	PlaceBid(ctx *chain.Context, id common.Hash, bidder common.Address, amount *big.Int) error
	CloseAuction(ctx *chain.Context, id common.Hash) (domain.AuctionOutcome, error)
	CancelAuction(ctx *chain.Context, id common.Hash) error
	SweepWinningBid(ctx *chain.Context, id common.Hash, to common.Address) (*big.Int, error)
	WithdrawRefund(ctx *chain.Context, id common.Hash, bidder common.Address) (*big.Int, error)
	RefundAvailable(id common.Hash, bidder common.Address) *big.Int
	GetAuction(id common.Hash) (domain.Auction, error)
}

// Raffles is the raffle module surface the registry drives.
type Raffles interface {
	Address() common.Address
	Controller() common.Address
	CreateRaffle(ctx *chain.Context, id common.Hash, p domain.RaffleParams) error
	EnterRaffle(ctx *chain.Context, id common.Hash, buyer common.Address, count uint64) error
	CloseRaffle(ctx *chain.Context, id common.Hash, seed *big.Int) (domain.RaffleOutcome, error)
	CancelRaffle(ctx *chain.Context, id common.Hash) error
	SweepProceeds(ctx *chain.Context, id common.Hash, to common.Address) (*big.Int, error)
	WithdrawRefund(ctx *chain.Context, id common.Hash, buyer common.Address) (*big.Int, error)
	RefundAvailable(id common.Hash, buyer common.Address) *big.Int
	QuoteEntry(id common.Hash, count uint64) (*big.Int, error)
	GetRaffle(id common.Hash) (domain.Raffle, error)
}

// Config wires a registry to its peers. Every peer must name Address as
// its controller.
type Config struct {
	Address      common.Address
	Owner        common.Address
	Arbiter      common.Address
	FeeRecipient common.Address
	FeeBps       uint16
	Vault        Escrow
	Auctions     Auctions
	Raffles      Raffles
}

// Registry is the listing registry component.
type Registry struct {
	addr     common.Address
	vault    Escrow
	auctions Auctions
	raffles  Raffles

	listings     *chain.Map[common.Hash, domain.Listing]
	nonces       *chain.Map[common.Address, uint64]
	lastListing  *chain.Map[common.Address, common.Hash]
	feeBps       *chain.Cell[uint16]
	feeRecipient *chain.Cell[common.Address]
	arbiter      *chain.Cell[common.Address]
	owner        *chain.Cell[common.Address]
	guard        chain.Guard
}

// New validates cfg and builds a registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Address == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "registry")
	}
	if cfg.Owner == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "owner")
	}
	if cfg.Vault == nil || cfg.Auctions == nil || cfg.Raffles == nil {
		return nil, domain.ErrInvalidAddress.With("field", "peer")
	}
	peers := map[string]common.Address{
		"vault":    cfg.Vault.Controller(),
		"auctions": cfg.Auctions.Controller(),
		"raffles":  cfg.Raffles.Controller(),
	}
	for name, ctrl := range peers {
		if ctrl != cfg.Address {
			return nil, domain.ErrNotController.With("peer", name, "controller", ctrl.Hex())
		}
	}
	if cfg.FeeBps > MaxFeeBps {
		return nil, domain.ErrFeeTooHigh.With("fee_bps", cfg.FeeBps, "max", MaxFeeBps)
	}
	if cfg.FeeBps > 0 && cfg.FeeRecipient == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "fee_recipient")
	}
	return &Registry{
		addr:         cfg.Address,
		vault:        cfg.Vault,
		auctions:     cfg.Auctions,
		raffles:      cfg.Raffles,
		listings:     chain.NewMap[common.Hash, domain.Listing](),
		nonces:       chain.NewMap[common.Address, uint64](),
		lastListing:  chain.NewMap[common.Address, common.Hash](),
		feeBps:       chain.NewCell(cfg.FeeBps),
		feeRecipient: chain.NewCell(cfg.FeeRecipient),
		arbiter:      chain.NewCell(cfg.Arbiter),
		owner:        chain.NewCell(cfg.Owner),
	}, nil
}

// enter opens an entry point. Value attached to a call that is not
// payable is rejected, which reverts its transfer to the registry.
func (r *Registry) enter(ctx *chain.Context, payable bool) (func(), error) {
	if err := ctx.Expect(r.addr); err != nil {
		return nil, err
	}
	if !payable && ctx.Value().Sign() != 0 {
		return nil, domain.ErrIncorrectPayment.With("required", 0, "got", ctx.Value())
	}
	return r.guard.Enter()
}

func (r *Registry) load(id common.Hash) (domain.Listing, error) {
	l, ok := r.listings.Get(id)
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound.With("id", id.Hex())
	}
	return l, nil
}

// transition is the single place listing status changes.
func (r *Registry) transition(ctx *chain.Context, l *domain.Listing, next domain.ListingStatus) error {
	if !l.Status.CanTransition(next) {
		return domain.ErrInvalidListingStatus.With("id", l.ID.Hex(), "status", l.Status.String(), "want", next.String())
	}
	l.Status = next
	r.listings.Put(ctx, l.ID, *l)
	return nil
}

func requireStatus(l domain.Listing, want domain.ListingStatus) error {
	if l.Status != want {
		return domain.ErrInvalidListingStatus.With("id", l.ID.Hex(), "status", l.Status.String(), "want", want.String())
	}
	return nil
}

func requireSaleType(l domain.Listing, want domain.SaleType) error {
	if l.SaleType != want {
		return domain.ErrWrongSaleType.With("id", l.ID.Hex(), "sale_type", l.SaleType.String(), "want", want.String())
	}
	return nil
}

// activeSale loads an Active listing of the given sale type whose module
// record has been opened.
func (r *Registry) activeSale(id common.Hash, want domain.SaleType) (domain.Listing, error) {
	l, err := r.load(id)
	if err != nil {
		return l, err
	}
	if err := requireSaleType(l, want); err != nil {
		return l, err
	}
	if err := requireStatus(l, domain.ListingActive); err != nil {
		return l, err
	}
	if !l.HasModule() {
		return l, domain.ErrModuleNotOpened.With("id", id.Hex())
	}
	return l, nil
}

// forward calls fn on peer with amount of currency made available to it:
// attached as value for native currency, approved for a token.
func (r *Registry) forward(ctx *chain.Context, currency, peer common.Address, amount *big.Int, fn func(*chain.Context) error) error {
	if currency == chain.NativeCurrency {
		return ctx.Call(peer, amount, fn)
	}
	if err := ctx.Approve(currency, peer, amount); err != nil {
		return err
	}
	return ctx.Call(peer, nil, fn)
}

// CreateListing records a new Active listing for the caller.
func (r *Registry) CreateListing(ctx *chain.Context, metadataURI string, price *big.Int, currency common.Address, saleType domain.SaleType) (common.Hash, error) {
	release, err := r.enter(ctx, false)
	if err != nil {
		return common.Hash{}, err
	}
	defer release()

	if metadataURI == "" {
		return common.Hash{}, domain.ErrEmptyMetadata
	}
	if !saleType.Valid() {
		return common.Hash{}, domain.ErrInvalidSaleType.With("sale_type", uint8(saleType))
	}
	if price == nil {
		price = new(big.Int)
	}
	if price.Sign() < 0 || (saleType == domain.SaleFixedPrice && price.Sign() == 0) {
		return common.Hash{}, domain.ErrInvalidPrice.With("price", price, "sale_type", saleType.String())
	}
	if currency != chain.NativeCurrency && !ctx.IsToken(currency) {
		return common.Hash{}, domain.ErrInvalidAddress.With("field", "currency", "value", currency.Hex())
	}

	seller := ctx.Sender()
	nonce, _ := r.nonces.Get(seller)
	id := ListingID(r.addr, nonce, seller)
	r.nonces.Put(ctx, seller, nonce+1)
	r.lastListing.Put(ctx, seller, id)

	l := domain.Listing{
		ID:          id,
		Seller:      seller,
		SaleType:    saleType,
		Status:      domain.ListingNone,
		MetadataURI: metadataURI,
		Price:       new(big.Int).Set(price),
		Currency:    currency,
		CreatedAt:   ctx.Now(),
	}
	if err := r.transition(ctx, &l, domain.ListingActive); err != nil {
		return common.Hash{}, err
	}
	ctx.Emit(domain.ListingCreated{
		ListingID:   id,
		Seller:      seller,
		SaleType:    saleType.String(),
		Price:       new(big.Int).Set(price),
		Currency:    currency,
		MetadataURI: metadataURI,
	})
	return id, nil
}

// CancelListing withdraws an Active listing. An opened auction or raffle is
// canceled with it and its holds become refundable.
func (r *Registry) CancelListing(ctx *chain.Context, id common.Hash) error {
	release, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	l, err := r.load(id)
	if err != nil {
		return err
	}
	if ctx.Sender() != l.Seller {
		return domain.ErrNotSeller.With("id", id.Hex(), "caller", ctx.Sender().Hex())
	}
	if err := requireStatus(l, domain.ListingActive); err != nil {
		return err
	}
	if err := r.transition(ctx, &l, domain.ListingCancelled); err != nil {
		return err
	}
	if l.HasModule() {
		switch l.SaleType {
		case domain.SaleAuction:
			err = ctx.Call(r.auctions.Address(), nil, func(sub *chain.Context) error {
				return r.auctions.CancelAuction(sub, l.ModuleID)
			})
		case domain.SaleRaffle:
			err = ctx.Call(r.raffles.Address(), nil, func(sub *chain.Context) error {
				return r.raffles.CancelRaffle(sub, l.ModuleID)
			})
		}
		if err != nil {
			return err
		}
	}
	ctx.Emit(domain.ListingCancelledEvent{ListingID: id, Seller: l.Seller})
	return nil
}

// openable checks the preconditions shared by OpenAuction and OpenRaffle.
func (r *Registry) openable(ctx *chain.Context, id common.Hash, want domain.SaleType, start, end uint64) (domain.Listing, error) {
	l, err := r.load(id)
	if err != nil {
		return l, err
	}
	if ctx.Sender() != l.Seller {
		return l, domain.ErrNotSeller.With("id", id.Hex(), "caller", ctx.Sender().Hex())
	}
	if err := requireStatus(l, domain.ListingActive); err != nil {
		return l, err
	}
	if err := requireSaleType(l, want); err != nil {
		return l, err
	}
	if l.HasModule() {
		return l, domain.ErrModuleAlreadyOpened.With("id", id.Hex(), "module_id", l.ModuleID.Hex())
	}
	if end <= start {
		return l, domain.ErrInvalidTimeWindow.With("start", start, "end", end)
	}
	return l, nil
}

// OpenAuction creates the auction record for an auction listing. The
// listing's currency always governs; a nil reserve defaults to the listing
// price.
func (r *Registry) OpenAuction(ctx *chain.Context, id common.Hash, p domain.AuctionParams) (common.Hash, error) {
	release, err := r.enter(ctx, false)
	if err != nil {
		return common.Hash{}, err
	}
	defer release()

	l, err := r.openable(ctx, id, domain.SaleAuction, p.StartTime, p.EndTime)
	if err != nil {
		return common.Hash{}, err
	}
	p.Currency = l.Currency
	if p.ReservePrice == nil {
		p.ReservePrice = new(big.Int).Set(l.Price)
	}
	moduleID := AuctionID(id)
	err = ctx.Call(r.auctions.Address(), nil, func(sub *chain.Context) error {
		return r.auctions.CreateAuction(sub, moduleID, p)
	})
	if err != nil {
		return common.Hash{}, err
	}
	l.ModuleID = moduleID
	l.StartTime, l.EndTime = p.StartTime, p.EndTime
	r.listings.Put(ctx, id, l)
	ctx.Emit(domain.AuctionOpened{ListingID: id, AuctionID: moduleID, StartTime: p.StartTime, EndTime: p.EndTime})
	return moduleID, nil
}

// OpenRaffle creates the raffle record for a raffle listing and stores the
// seller's commitment. A nil ticket price defaults to the listing price.
func (r *Registry) OpenRaffle(ctx *chain.Context, id common.Hash, p domain.RaffleParams, commitment common.Hash) (common.Hash, error) {
	release, err := r.enter(ctx, false)
	if err != nil {
		return common.Hash{}, err
	}
	defer release()

	l, err := r.openable(ctx, id, domain.SaleRaffle, p.StartTime, p.EndTime)
	if err != nil {
		return common.Hash{}, err
	}
	if commitment == (common.Hash{}) {
		return common.Hash{}, domain.ErrInvalidCommitment.With("id", id.Hex())
	}
	p.Currency = l.Currency
	if p.TicketPrice == nil {
		p.TicketPrice = new(big.Int).Set(l.Price)
	}
	moduleID := RaffleID(id)
	err = ctx.Call(r.raffles.Address(), nil, func(sub *chain.Context) error {
		return r.raffles.CreateRaffle(sub, moduleID, p)
	})
	if err != nil {
		return common.Hash{}, err
	}
	l.ModuleID = moduleID
	l.StartTime, l.EndTime = p.StartTime, p.EndTime
	l.RaffleCommitment = commitment
	r.listings.Put(ctx, id, l)
	ctx.Emit(domain.RaffleOpened{ListingID: id, RaffleID: moduleID, StartTime: p.StartTime, EndTime: p.EndTime, Commitment: commitment})
	return moduleID, nil
}

// Bid places a bid of amount for the caller on an auction listing.
func (r *Registry) Bid(ctx *chain.Context, id common.Hash, amount *big.Int) error {
	release, err := r.enter(ctx, true)
	if err != nil {
		return err
	}
	defer release()

	l, err := r.activeSale(id, domain.SaleAuction)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount.With("field", "bid")
	}
	bidder := ctx.Sender()
	if err := ctx.Collect(l.Currency, bidder, amount); err != nil {
		return err
	}
	return r.forward(ctx, l.Currency, r.auctions.Address(), amount, func(sub *chain.Context) error {
		return r.auctions.PlaceBid(sub, l.ModuleID, bidder, amount)
	})
}

// EnterRaffle buys count tickets for the caller on a raffle listing.
func (r *Registry) EnterRaffle(ctx *chain.Context, id common.Hash, count uint64) error {
	release, err := r.enter(ctx, true)
	if err != nil {
		return err
	}
	defer release()

	l, err := r.activeSale(id, domain.SaleRaffle)
	if err != nil {
		return err
	}
	cost, err := r.raffles.QuoteEntry(l.ModuleID, count)
	if err != nil {
		return err
	}
	buyer := ctx.Sender()
	if err := ctx.Collect(l.Currency, buyer, cost); err != nil {
		return err
	}
	return r.forward(ctx, l.Currency, r.raffles.Address(), cost, func(sub *chain.Context) error {
		return r.raffles.EnterRaffle(sub, l.ModuleID, buyer, count)
	})
}

// fundEscrow moves amount held by the registry into a new escrow for buyer
// and marks the listing sold.
func (r *Registry) fundEscrow(ctx *chain.Context, l *domain.Listing, buyer common.Address, amount *big.Int, discriminator common.Hash) error {
	escrowID := EscrowID(l.ID, discriminator, ctx.BlockNumber())
	err := r.forward(ctx, l.Currency, r.vault.Address(), amount, func(sub *chain.Context) error {
		return r.vault.CreateEscrow(sub, escrowID, r.addr, buyer, l.Seller, l.Currency, amount)
	})
	if err != nil {
		return err
	}
	l.Buyer = buyer
	l.EscrowID = escrowID
	if err := r.transition(ctx, l, domain.ListingPendingDelivery); err != nil {
		return err
	}
	ctx.Emit(domain.ListingPurchased{ListingID: l.ID, Buyer: buyer, EscrowID: escrowID, Amount: new(big.Int).Set(amount)})
	return nil
}

// expire ends a listing whose sale produced no winner.
func (r *Registry) expire(ctx *chain.Context, l *domain.Listing) error {
	if err := r.transition(ctx, l, domain.ListingExpired); err != nil {
		return err
	}
	ctx.Emit(domain.ListingExpiredEvent{ListingID: l.ID})
	return nil
}

// CloseAuction settles an ended auction. Anyone may call it. With a winner
// the winning bid moves into escrow; without one the listing expires.
func (r *Registry) CloseAuction(ctx *chain.Context, id common.Hash) error {
	release, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	l, err := r.activeSale(id, domain.SaleAuction)
	if err != nil {
		return err
	}
	var out domain.AuctionOutcome
	err = ctx.Call(r.auctions.Address(), nil, func(sub *chain.Context) error {
		var err error
		out, err = r.auctions.CloseAuction(sub, l.ModuleID)
		return err
	})
	if err != nil {
		return err
	}
	if !out.Success {
		return r.expire(ctx, &l)
	}

	var swept *big.Int
	err = ctx.Call(r.auctions.Address(), nil, func(sub *chain.Context) error {
		var err error
		swept, err = r.auctions.SweepWinningBid(sub, l.ModuleID, r.addr)
		return err
	})
	if err != nil {
		return err
	}
	return r.fundEscrow(ctx, &l, out.Winner, swept, l.ModuleID)
}

// CloseRaffle checks the seller's reveal against the stored commitment,
// draws the winner from a seed mixing the reveal with the block's
// unpredictable value, and escrows the proceeds or expires the listing.
// Anyone holding the reveal may call it.
func (r *Registry) CloseRaffle(ctx *chain.Context, id common.Hash, reveal common.Hash) error {
	release, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	l, err := r.activeSale(id, domain.SaleRaffle)
	if err != nil {
		return err
	}
	if Commitment(reveal) != l.RaffleCommitment {
		return domain.ErrCommitmentMismatch.With("id", id.Hex())
	}
	seed := RaffleSeed(reveal, ctx.PrevRandao(), id)

	var out domain.RaffleOutcome
	err = ctx.Call(r.raffles.Address(), nil, func(sub *chain.Context) error {
		var err error
		out, err = r.raffles.CloseRaffle(sub, l.ModuleID, seed)
		return err
	})
	if err != nil {
		return err
	}
	if !out.Success {
		return r.expire(ctx, &l)
	}

	var swept *big.Int
	err = ctx.Call(r.raffles.Address(), nil, func(sub *chain.Context) error {
		var err error
		swept, err = r.raffles.SweepProceeds(sub, l.ModuleID, r.addr)
		return err
	})
	if err != nil {
		return err
	}
	return r.fundEscrow(ctx, &l, out.Winner, swept, l.ModuleID)
}

// Buy purchases a fixed-price listing at exactly its price.
func (r *Registry) Buy(ctx *chain.Context, id common.Hash) error {
	release, err := r.enter(ctx, true)
	if err != nil {
		return err
	}
	defer release()

	l, err := r.load(id)
	if err != nil {
		return err
	}
	if err := requireSaleType(l, domain.SaleFixedPrice); err != nil {
		return err
	}
	if err := requireStatus(l, domain.ListingActive); err != nil {
		return err
	}
	buyer := ctx.Sender()
	if err := ctx.Collect(l.Currency, buyer, l.Price); err != nil {
		return err
	}
	return r.fundEscrow(ctx, &l, buyer, l.Price, BuyerDiscriminator(buyer))
}

func (r *Registry) pending(id common.Hash) (domain.Listing, error) {
	l, err := r.load(id)
	if err != nil {
		return l, err
	}
	return l, requireStatus(l, domain.ListingPendingDelivery)
}

func (r *Registry) requireArbiter(ctx *chain.Context) error {
	arb := r.arbiter.Get()
	if arb == (common.Address{}) || ctx.Sender() != arb {
		return domain.ErrNotArbiter.With("caller", ctx.Sender().Hex())
	}
	return nil
}

// settleRelease completes a pending listing and splits its escrow at the
// current fee rate.
func (r *Registry) settleRelease(ctx *chain.Context, l domain.Listing) error {
	if err := r.transition(ctx, &l, domain.ListingCompleted); err != nil {
		return err
	}
	feeRecipient, feeBps := r.feeRecipient.Get(), r.feeBps.Get()
	err := ctx.Call(r.vault.Address(), nil, func(sub *chain.Context) error {
		return r.vault.Release(sub, l.EscrowID, feeRecipient, feeBps)
	})
	if err != nil {
		return err
	}
	ctx.Emit(domain.DeliveryConfirmed{ListingID: l.ID, By: ctx.Sender()})
	return nil
}

// settleRefund closes a pending listing and credits its buyer in full.
func (r *Registry) settleRefund(ctx *chain.Context, l domain.Listing) error {
	if err := r.transition(ctx, &l, domain.ListingRefunded); err != nil {
		return err
	}
	err := ctx.Call(r.vault.Address(), nil, func(sub *chain.Context) error {
		return r.vault.Refund(sub, l.EscrowID)
	})
	if err != nil {
		return err
	}
	ctx.Emit(domain.RefundIssued{ListingID: l.ID, By: ctx.Sender()})
	return nil
}

// buyerPending loads a pending listing and checks the caller is its buyer.
func (r *Registry) buyerPending(ctx *chain.Context, id common.Hash) (domain.Listing, error) {
	l, err := r.load(id)
	if err != nil {
		return l, err
	}
	if ctx.Sender() != l.Buyer {
		return l, domain.ErrNotBuyer.With("id", id.Hex(), "caller", ctx.Sender().Hex())
	}
	return l, requireStatus(l, domain.ListingPendingDelivery)
}

// ConfirmDelivery lets the buyer release the escrow to the seller.
func (r *Registry) ConfirmDelivery(ctx *chain.Context, id common.Hash) error {
	unlock, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	l, err := r.buyerPending(ctx, id)
	if err != nil {
		return err
	}
	return r.settleRelease(ctx, l)
}

// RequestRefund lets the buyer return the escrow to themselves.
func (r *Registry) RequestRefund(ctx *chain.Context, id common.Hash) error {
	unlock, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	l, err := r.buyerPending(ctx, id)
	if err != nil {
		return err
	}
	return r.settleRefund(ctx, l)
}

// ArbiterRelease resolves a dispute in the seller's favour.
func (r *Registry) ArbiterRelease(ctx *chain.Context, id common.Hash) error {
	unlock, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.requireArbiter(ctx); err != nil {
		return err
	}
	l, err := r.pending(id)
	if err != nil {
		return err
	}
	return r.settleRelease(ctx, l)
}

// ArbiterRefund resolves a dispute in the buyer's favour.
func (r *Registry) ArbiterRefund(ctx *chain.Context, id common.Hash) error {
	unlock, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.requireArbiter(ctx); err != nil {
		return err
	}
	l, err := r.pending(id)
	if err != nil {
		return err
	}
	return r.settleRefund(ctx, l)
}

// WithdrawPayout pays the caller everything the vault owes them in
// currency.
func (r *Registry) WithdrawPayout(ctx *chain.Context, currency common.Address) (*big.Int, error) {
	unlock, err := r.enter(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return r.withdrawFromVault(ctx, currency, ctx.Sender())
}

// WithdrawFees pays accrued protocol fees in currency to the fee
// recipient. The owner or the fee recipient may trigger it.
func (r *Registry) WithdrawFees(ctx *chain.Context, currency common.Address) (*big.Int, error) {
	unlock, err := r.enter(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	recipient := r.feeRecipient.Get()
	if ctx.Sender() != recipient && ctx.Sender() != r.owner.Get() {
		return nil, domain.ErrNotFeeRecipient.With("caller", ctx.Sender().Hex())
	}
	return r.withdrawFromVault(ctx, currency, recipient)
}

func (r *Registry) withdrawFromVault(ctx *chain.Context, currency, recipient common.Address) (*big.Int, error) {
	var paid *big.Int
	err := ctx.Call(r.vault.Address(), nil, func(sub *chain.Context) error {
		var err error
		paid, err = r.vault.Withdraw(sub, currency, recipient)
		return err
	})
	return paid, err
}

// WithdrawAuctionRefund pays the caller their outbid or canceled bids on an
// auction listing.
func (r *Registry) WithdrawAuctionRefund(ctx *chain.Context, id common.Hash) (*big.Int, error) {
	unlock, err := r.enter(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if err := requireSaleType(l, domain.SaleAuction); err != nil {
		return nil, err
	}
	if !l.HasModule() {
		return nil, domain.ErrModuleNotOpened.With("id", id.Hex())
	}
	bidder := ctx.Sender()
	var paid *big.Int
	err = ctx.Call(r.auctions.Address(), nil, func(sub *chain.Context) error {
		var err error
		paid, err = r.auctions.WithdrawRefund(sub, l.ModuleID, bidder)
		return err
	})
	return paid, err
}

// WithdrawRaffleRefund pays the caller their contribution to a failed or
// canceled raffle listing.
func (r *Registry) WithdrawRaffleRefund(ctx *chain.Context, id common.Hash) (*big.Int, error) {
	unlock, err := r.enter(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if err := requireSaleType(l, domain.SaleRaffle); err != nil {
		return nil, err
	}
	if !l.HasModule() {
		return nil, domain.ErrModuleNotOpened.With("id", id.Hex())
	}
	buyer := ctx.Sender()
	var paid *big.Int
	err = ctx.Call(r.raffles.Address(), nil, func(sub *chain.Context) error {
		var err error
		paid, err = r.raffles.WithdrawRefund(sub, l.ModuleID, buyer)
		return err
	})
	return paid, err
}

// Read queries. Outside a transaction call them through chain.View.

func (r *Registry) Address() common.Address      { return r.addr }
func (r *Registry) Vault() Escrow                { return r.vault }
func (r *Registry) Auctions() Auctions           { return r.auctions }
func (r *Registry) Raffles() Raffles             { return r.raffles }
func (r *Registry) FeeBps() uint16               { return r.feeBps.Get() }
func (r *Registry) FeeRecipient() common.Address { return r.feeRecipient.Get() }
func (r *Registry) Arbiter() common.Address      { return r.arbiter.Get() }
func (r *Registry) Owner() common.Address        { return r.owner.Get() }

// Listing returns the listing recorded under id.
func (r *Registry) Listing(id common.Hash) (domain.Listing, error) {
	return r.load(id)
}

// LastListingIDOf returns the id of seller's most recent listing.
func (r *Registry) LastListingIDOf(seller common.Address) common.Hash {
	id, _ := r.lastListing.Get(seller)
	return id
}

// NonceOf returns how many listings seller has created.
func (r *Registry) NonceOf(seller common.Address) uint64 {
	n, _ := r.nonces.Get(seller)
	return n
}
