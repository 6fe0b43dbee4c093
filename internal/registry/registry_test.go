package registry

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const genesis = 1_700_000_000

var (
	owner    = chain.NewAddress("owner")
	arbiter  = chain.NewAddress("arbiter")
	treasury = chain.NewAddress("treasury")
	seller   = chain.NewAddress("seller")
	alice    = chain.NewAddress("alice")
	bob      = chain.NewAddress("bob")
	carol    = chain.NewAddress("carol")
	native   = chain.NativeCurrency
)

type fixture struct {
	ch    *chain.Chain
	clock *chain.ManualClock
	dep   *Deployment
	c     *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := chain.NewManualClock(time.Unix(genesis, 0))
	ch := chain.New(clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	dep, err := Deploy(DeployOptions{Owner: owner, Arbiter: arbiter, FeeRecipient: treasury, FeeBps: 250})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []common.Address{seller, alice, bob, carol} {
		ch.Fund(a, big.NewInt(1_000))
	}
	return &fixture{ch: ch, clock: clock, dep: dep, c: NewClient(ch, dep.Registry)}
}

func (f *fixture) at(offset int64) {
	f.clock.Set(time.Unix(genesis+offset, 0))
}

func (f *fixture) list(t *testing.T, price int64, saleType domain.SaleType) common.Hash {
	t.Helper()
	id, _, err := f.c.CreateListing(seller, "metadata://sha256/00", big.NewInt(price), native, saleType)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return id
}

func (f *fixture) status(t *testing.T, id common.Hash) domain.ListingStatus {
	t.Helper()
	l, err := f.c.Listing(id)
	if err != nil {
		t.Fatal(err)
	}
	return l.Status
}

func (f *fixture) withdraw(t *testing.T, who common.Address) *big.Int {
	t.Helper()
	paid, _, err := f.c.WithdrawPayout(who, native)
	if err != nil {
		t.Fatalf("withdraw payout for %s: %v", who.Hex(), err)
	}
	return paid
}

func auctionParams() domain.AuctionParams {
	return domain.AuctionParams{
		StartTime:        genesis,
		EndTime:          genesis + 100,
		ExtensionWindow:  10,
		ExtensionSeconds: 10,
		ReservePrice:     big.NewInt(10),
		MinBidIncrement:  big.NewInt(1),
	}
}

func raffleParams(minParticipants uint64) domain.RaffleParams {
	return domain.RaffleParams{
		StartTime:       genesis,
		EndTime:         genesis + 100,
		TicketPrice:     big.NewInt(5),
		TargetAmount:    big.NewInt(10),
		MinParticipants: minParticipants,
	}
}

func eq(t *testing.T, what string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s = %v, want %d", what, got, want)
	}
}

func TestFixedPriceSaleSplitsFee(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 100, domain.SaleFixedPrice)

	if _, err := f.c.Buy(alice, id); err != nil {
		t.Fatal(err)
	}
	esc, err := f.c.Escrow(id)
	if err != nil {
		t.Fatal(err)
	}
	if esc.Status != domain.EscrowFunded || esc.Buyer != alice || esc.Seller != seller {
		t.Fatalf("escrow = %+v", esc)
	}
	eq(t, "escrow amount", esc.Amount, 100)

	if _, err := f.c.ConfirmDelivery(alice, id); err != nil {
		t.Fatal(err)
	}
	if s := f.status(t, id); s != domain.ListingCompleted {
		t.Fatalf("status = %s", s)
	}
	eq(t, "seller payout", f.withdraw(t, seller), 98)
	paid, _, err := f.c.WithdrawFees(owner, native)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, "fees", paid, 2)
	eq(t, "seller balance", f.ch.BalanceOf(seller), 1_098)
	eq(t, "treasury balance", f.ch.BalanceOf(treasury), 2)
	eq(t, "alice balance", f.ch.BalanceOf(alice), 900)
}

func TestAuctionSoftCloseAndSettlement(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, domain.SaleAuction)
	if _, _, err := f.c.OpenAuction(seller, id, auctionParams()); err != nil {
		t.Fatal(err)
	}

	f.at(50)
	if _, err := f.c.Bid(alice, id, big.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	f.at(95)
	rcpt, err := f.c.Bid(bob, id, big.NewInt(11))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rcpt.Find("AuctionExtended"); !ok {
		t.Fatal("late bid did not extend the auction")
	}
	a, _ := f.c.Auction(id)
	if a.EndTime != genesis+110 {
		t.Fatalf("end = %d, want %d", a.EndTime, genesis+110)
	}

	f.at(109)
	if _, err := f.c.CloseAuction(carol, id); !errors.Is(err, domain.ErrAuctionNotEnded) {
		t.Fatalf("early close err = %v", err)
	}
	f.at(110)
	if _, err := f.c.CloseAuction(carol, id); err != nil {
		t.Fatal(err)
	}

	eq(t, "alice refund available", f.c.AuctionRefund(id, alice), 10)
	paid, _, err := f.c.WithdrawAuctionRefund(alice, id)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, "alice refund", paid, 10)
	eq(t, "alice balance", f.ch.BalanceOf(alice), 1_000)

	esc, err := f.c.Escrow(id)
	if err != nil {
		t.Fatal(err)
	}
	if esc.Buyer != bob {
		t.Fatalf("escrow buyer = %s", esc.Buyer.Hex())
	}
	eq(t, "escrow", esc.Amount, 11)
	if want := EscrowID(id, AuctionID(id), rcptBlock(t, f, id)); esc.ID != want {
		t.Fatalf("escrow id = %s, want %s", esc.ID.Hex(), want.Hex())
	}

	if _, err := f.c.ConfirmDelivery(bob, id); err != nil {
		t.Fatal(err)
	}
	_, sellerCut := domain.FeeSplit(big.NewInt(11), 250)
	eq(t, "seller payout", f.withdraw(t, seller), sellerCut.Int64())
}

// rcptBlock finds the block in which the listing was purchased.
func rcptBlock(t *testing.T, f *fixture, id common.Hash) uint64 {
	t.Helper()
	for _, lg := range f.ch.Logs(0, 0) {
		if ev, ok := lg.Event.(domain.ListingPurchased); ok && ev.ListingID == id {
			return lg.BlockNumber
		}
	}
	t.Fatal("no ListingPurchased log")
	return 0
}

func TestAuctionWithoutBidsExpires(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, domain.SaleAuction)
	if _, _, err := f.c.OpenAuction(seller, id, auctionParams()); err != nil {
		t.Fatal(err)
	}
	f.at(100)
	if _, err := f.c.CloseAuction(alice, id); err != nil {
		t.Fatal(err)
	}
	if s := f.status(t, id); s != domain.ListingExpired {
		t.Fatalf("status = %s", s)
	}
}

func TestRaffleSuccess(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 5, domain.SaleRaffle)
	reveal := common.HexToHash("0x5eed")
	if _, _, err := f.c.OpenRaffle(seller, id, raffleParams(2), Commitment(reveal)); err != nil {
		t.Fatal(err)
	}
	for _, who := range []common.Address{alice, bob} {
		if _, err := f.c.EnterRaffle(who, id, 1); err != nil {
			t.Fatalf("enter %s: %v", who.Hex(), err)
		}
	}

	if _, err := f.c.CloseRaffle(carol, id, common.HexToHash("0xbad")); !errors.Is(err, domain.ErrCommitmentMismatch) {
		t.Fatalf("wrong reveal err = %v", err)
	}
	if _, err := f.c.CloseRaffle(carol, id, reveal); err != nil {
		t.Fatal(err)
	}

	l, _ := f.c.Listing(id)
	if l.Status != domain.ListingPendingDelivery {
		t.Fatalf("status = %s", l.Status)
	}
	if l.Buyer != alice && l.Buyer != bob {
		t.Fatalf("winner %s is not an entrant", l.Buyer.Hex())
	}
	esc, _ := f.c.Escrow(id)
	eq(t, "escrow", esc.Amount, 10)

	loser := alice
	if l.Buyer == alice {
		loser = bob
	}
	eq(t, "loser refund", f.c.RaffleRefund(id, loser), 0)
	if _, _, err := f.c.WithdrawRaffleRefund(loser, id); !errors.Is(err, domain.ErrRaffleNotRefundable) {
		t.Fatalf("loser refund err = %v", err)
	}
}

func TestRaffleFailureRefundsEntrants(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 5, domain.SaleRaffle)
	reveal := common.HexToHash("0x5eed")
	if _, _, err := f.c.OpenRaffle(seller, id, raffleParams(3), Commitment(reveal)); err != nil {
		t.Fatal(err)
	}
	for _, who := range []common.Address{alice, bob} {
		if _, err := f.c.EnterRaffle(who, id, 1); err != nil {
			t.Fatal(err)
		}
	}
	f.at(100)
	if _, err := f.c.CloseRaffle(carol, id, reveal); err != nil {
		t.Fatal(err)
	}
	if s := f.status(t, id); s != domain.ListingExpired {
		t.Fatalf("status = %s", s)
	}
	for _, who := range []common.Address{alice, bob} {
		paid, _, err := f.c.WithdrawRaffleRefund(who, id)
		if err != nil {
			t.Fatal(err)
		}
		eq(t, "refund", paid, 5)
		eq(t, "balance", f.ch.BalanceOf(who), 1_000)
	}
}

func TestCreateListingValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		uri      string
		price    int64
		currency common.Address
		sale     domain.SaleType
		wantErr  error
	}{
		{"empty metadata", "", 10, native, domain.SaleFixedPrice, domain.ErrEmptyMetadata},
		{"unknown sale type", "m", 10, native, domain.SaleType(9), domain.ErrInvalidSaleType},
		{"free fixed price", "m", 0, native, domain.SaleFixedPrice, domain.ErrInvalidPrice},
		{"negative price", "m", -1, native, domain.SaleAuction, domain.ErrInvalidPrice},
		{"unknown token", "m", 10, chain.NewAddress("nope"), domain.SaleFixedPrice, domain.ErrInvalidAddress},
		{"free auction", "m", 0, native, domain.SaleAuction, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.c.CreateListing(seller, tt.uri, big.NewInt(tt.price), tt.currency, tt.sale)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	_, err := f.c.Send(seller, big.NewInt(1), func(ctx *chain.Context) error {
		_, err := f.dep.Registry.CreateListing(ctx, "m", big.NewInt(1), native, domain.SaleFixedPrice)
		return err
	})
	if !errors.Is(err, domain.ErrIncorrectPayment) {
		t.Fatalf("paid create err = %v", err)
	}
}

func TestListingIDsFollowSellerNonce(t *testing.T) {
	f := newFixture(t)
	reg := f.dep.Registry.Address()
	first := f.list(t, 1, domain.SaleFixedPrice)
	second := f.list(t, 1, domain.SaleFixedPrice)

	manual := crypto.Keccak256Hash(
		common.LeftPadBytes(reg.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(0).Bytes(), 32),
		common.LeftPadBytes(seller.Bytes(), 32),
	)
	if first != manual {
		t.Fatalf("first id = %s, want %s", first.Hex(), manual.Hex())
	}
	if second != ListingID(reg, 1, seller) || first == second {
		t.Fatal("second listing id does not follow the nonce")
	}
	if f.c.LastListingIDOf(seller) != second {
		t.Fatal("last listing id not tracked")
	}
	if AuctionID(first) == RaffleID(first) {
		t.Fatal("module ids collide")
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	fixed := f.list(t, 10, domain.SaleFixedPrice)
	auc := f.list(t, 10, domain.SaleAuction)

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{"cancel by stranger", func() error { _, err := f.c.CancelListing(alice, fixed); return err }, domain.ErrNotSeller},
		{"open by stranger", func() error { _, _, err := f.c.OpenAuction(alice, auc, auctionParams()); return err }, domain.ErrNotSeller},
		{"set fee by stranger", func() error { _, err := f.c.SetFee(alice, 100, alice); return err }, domain.ErrNotOwner},
		{"set arbiter by stranger", func() error { _, err := f.c.SetArbiter(alice, alice); return err }, domain.ErrNotOwner},
		{"fees by stranger", func() error { _, _, err := f.c.WithdrawFees(alice, native); return err }, domain.ErrNotFeeRecipient},
		{"fee over cap", func() error { _, err := f.c.SetFee(owner, MaxFeeBps+1, treasury); return err }, domain.ErrFeeTooHigh},
		{"fee without recipient", func() error { _, err := f.c.SetFee(owner, 10, common.Address{}); return err }, domain.ErrInvalidAddress},
		{"zero owner", func() error { _, err := f.c.TransferOwnership(owner, common.Address{}); return err }, domain.ErrInvalidAddress},
		{"direct component call", func() error {
			_, err := f.ch.Execute(alice, f.dep.Vault.Address(), nil, func(ctx *chain.Context) error {
				_, err := f.dep.Vault.Withdraw(ctx, native, alice)
				return err
			})
			return err
		}, domain.ErrNotController},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestListingStateMachine(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, domain.SaleFixedPrice)

	if _, err := f.c.ConfirmDelivery(alice, id); !errors.Is(err, domain.ErrNotBuyer) {
		t.Fatalf("confirm before sale err = %v", err)
	}
	if _, err := f.c.Bid(alice, id, big.NewInt(10)); !errors.Is(err, domain.ErrWrongSaleType) {
		t.Fatalf("bid on fixed price err = %v", err)
	}
	if _, err := f.c.Buy(alice, id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.Buy(bob, id); !errors.Is(err, domain.ErrInvalidListingStatus) {
		t.Fatalf("second buy err = %v", err)
	}
	if _, err := f.c.CancelListing(seller, id); !errors.Is(err, domain.ErrInvalidListingStatus) {
		t.Fatalf("cancel after sale err = %v", err)
	}
	if _, err := f.c.ConfirmDelivery(bob, id); !errors.Is(err, domain.ErrNotBuyer) {
		t.Fatalf("confirm by stranger err = %v", err)
	}
	if _, err := f.c.RequestRefund(alice, id); err != nil {
		t.Fatal(err)
	}
	if s := f.status(t, id); s != domain.ListingRefunded {
		t.Fatalf("status = %s", s)
	}
	if _, err := f.c.ConfirmDelivery(alice, id); !errors.Is(err, domain.ErrInvalidListingStatus) {
		t.Fatalf("confirm after refund err = %v", err)
	}
	eq(t, "buyer refund", f.withdraw(t, alice), 10)

	auc := f.list(t, 10, domain.SaleAuction)
	if _, err := f.c.Bid(alice, auc, big.NewInt(10)); !errors.Is(err, domain.ErrModuleNotOpened) {
		t.Fatalf("bid before open err = %v", err)
	}
	if _, _, err := f.c.OpenAuction(seller, auc, auctionParams()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.c.OpenAuction(seller, auc, auctionParams()); !errors.Is(err, domain.ErrModuleAlreadyOpened) {
		t.Fatalf("second open err = %v", err)
	}
	if _, _, err := f.c.OpenRaffle(seller, auc, raffleParams(1), Commitment(common.Hash{1})); !errors.Is(err, domain.ErrWrongSaleType) {
		t.Fatalf("raffle on auction err = %v", err)
	}

	raf := f.list(t, 5, domain.SaleRaffle)
	if _, _, err := f.c.OpenRaffle(seller, raf, raffleParams(1), common.Hash{}); !errors.Is(err, domain.ErrInvalidCommitment) {
		t.Fatalf("zero commitment err = %v", err)
	}
	if _, _, err := f.c.OpenRaffle(seller, raf, raffleParams(1), Commitment(common.Hash{1})); err != nil {
		t.Fatalf("open after rejected commitment: %v", err)
	}
}

func TestNonPayableCallsRejectValue(t *testing.T) {
	f := newFixture(t)
	sold := f.list(t, 10, domain.SaleFixedPrice)
	if _, err := f.c.Buy(alice, sold); err != nil {
		t.Fatal(err)
	}
	active := f.list(t, 10, domain.SaleAuction)
	reg := f.dep.Registry

	tests := []struct {
		name string
		from common.Address
		call func(*chain.Context) error
	}{
		{"confirm delivery", alice, func(ctx *chain.Context) error { return reg.ConfirmDelivery(ctx, sold) }},
		{"request refund", alice, func(ctx *chain.Context) error { return reg.RequestRefund(ctx, sold) }},
		{"cancel listing", seller, func(ctx *chain.Context) error { return reg.CancelListing(ctx, active) }},
		{"open auction", seller, func(ctx *chain.Context) error {
			_, err := reg.OpenAuction(ctx, active, auctionParams())
			return err
		}},
		{"withdraw payout", seller, func(ctx *chain.Context) error {
			_, err := reg.WithdrawPayout(ctx, native)
			return err
		}},
		{"set arbiter", owner, func(ctx *chain.Context) error { return reg.SetArbiter(ctx, carol) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.ch.BalanceOf(tt.from)
			held := f.ch.BalanceOf(reg.Address())
			_, err := f.c.Send(tt.from, big.NewInt(5), tt.call)
			if !errors.Is(err, domain.ErrIncorrectPayment) {
				t.Fatalf("err = %v, want %v", err, domain.ErrIncorrectPayment)
			}
			eq(t, "sender balance", f.ch.BalanceOf(tt.from), before.Int64())
			eq(t, "registry balance", f.ch.BalanceOf(reg.Address()), held.Int64())
		})
	}

	if s := f.status(t, sold); s != domain.ListingPendingDelivery {
		t.Fatalf("sold listing status = %s", s)
	}
}

func TestArbiterActions(t *testing.T) {
	f := newFixture(t)
	released := f.list(t, 40, domain.SaleFixedPrice)
	refunded := f.list(t, 60, domain.SaleFixedPrice)
	for _, id := range []common.Hash{released, refunded} {
		if _, err := f.c.Buy(alice, id); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.c.ArbiterRelease(bob, released); !errors.Is(err, domain.ErrNotArbiter) {
		t.Fatalf("stranger release err = %v", err)
	}
	if _, err := f.c.ArbiterRelease(arbiter, released); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.ArbiterRefund(arbiter, refunded); err != nil {
		t.Fatal(err)
	}
	eq(t, "seller credit", f.c.CreditOf(seller, native), 39)
	eq(t, "buyer credit", f.c.CreditOf(alice, native), 60)

	if _, err := f.c.SetArbiter(owner, common.Address{}); err != nil {
		t.Fatal(err)
	}
	third := f.list(t, 10, domain.SaleFixedPrice)
	if _, err := f.c.Buy(alice, third); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.ArbiterRefund(arbiter, third); !errors.Is(err, domain.ErrNotArbiter) {
		t.Fatalf("disabled arbiter err = %v", err)
	}
}

func TestFeeChangeAppliesAtRelease(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 100, domain.SaleFixedPrice)
	if _, err := f.c.Buy(alice, id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.SetFee(owner, 1000, treasury); err != nil {
		t.Fatal(err)
	}
	if got := f.c.Settings().FeeBps; got != 1000 {
		t.Fatalf("fee = %d", got)
	}
	if _, err := f.c.ConfirmDelivery(alice, id); err != nil {
		t.Fatal(err)
	}
	eq(t, "seller credit", f.c.CreditOf(seller, native), 90)
	eq(t, "fee credit", f.c.CreditOf(treasury, native), 10)
}

func TestReentrantPayoutIsRejected(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 100, domain.SaleFixedPrice)
	if _, err := f.c.Buy(alice, id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.ConfirmDelivery(alice, id); err != nil {
		t.Fatal(err)
	}

	reg := f.dep.Registry
	var nested error
	f.ch.SetReceiver(seller, chain.ReceiverFunc(func(ctx *chain.Context) error {
		nested = ctx.Call(reg.Address(), nil, func(sub *chain.Context) error {
			_, err := reg.WithdrawPayout(sub, native)
			return err
		})
		return nested
	}))
	before := f.ch.BalanceOf(seller)
	if _, _, err := f.c.WithdrawPayout(seller, native); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("outer err = %v", err)
	}
	if !errors.Is(nested, domain.ErrReentrantCall) {
		t.Fatalf("nested err = %v", nested)
	}
	eq(t, "seller balance", f.ch.BalanceOf(seller), before.Int64())
	eq(t, "seller credit", f.c.CreditOf(seller, native), 98)

	f.ch.SetReceiver(seller, nil)
	eq(t, "payout", f.withdraw(t, seller), 98)
}

func TestCancelAuctionWithBidsRefundsBidders(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, domain.SaleAuction)
	if _, _, err := f.c.OpenAuction(seller, id, auctionParams()); err != nil {
		t.Fatal(err)
	}
	f.at(10)
	if _, err := f.c.Bid(alice, id, big.NewInt(12)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.CancelListing(seller, id); err != nil {
		t.Fatal(err)
	}
	if s := f.status(t, id); s != domain.ListingCancelled {
		t.Fatalf("status = %s", s)
	}
	paid, _, err := f.c.WithdrawAuctionRefund(alice, id)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, "refund", paid, 12)
	if _, err := f.c.CloseAuction(bob, id); !errors.Is(err, domain.ErrInvalidListingStatus) {
		t.Fatalf("close after cancel err = %v", err)
	}
}

func TestTokenListing(t *testing.T) {
	f := newFixture(t)
	usdc, err := f.ch.DeployToken("USDC", 6)
	if err != nil {
		t.Fatal(err)
	}
	for _, who := range []common.Address{alice, bob} {
		if err := f.ch.Mint(usdc, who, big.NewInt(500)); err != nil {
			t.Fatal(err)
		}
	}
	id, _, err := f.c.CreateListing(seller, "m", big.NewInt(200), usdc, domain.SaleAuction)
	if err != nil {
		t.Fatal(err)
	}
	p := auctionParams()
	p.ReservePrice = nil
	if _, _, err := f.c.OpenAuction(seller, id, p); err != nil {
		t.Fatal(err)
	}
	a, _ := f.c.Auction(id)
	eq(t, "reserve", a.ReservePrice, 200)
	if a.Currency != usdc {
		t.Fatalf("auction currency = %s", a.Currency.Hex())
	}

	if _, err := f.c.Bid(alice, id, big.NewInt(200)); !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("unapproved bid err = %v", err)
	}
	if _, err := f.c.ApprovePayments(alice, usdc, big.NewInt(200)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.Bid(alice, id, big.NewInt(200)); err != nil {
		t.Fatal(err)
	}
	held, _ := f.ch.TokenBalanceOf(usdc, f.dep.Auctions.Address())
	eq(t, "auction custody", held, 200)
	if left, _ := f.ch.Allowance(usdc, f.dep.Registry.Address(), f.dep.Auctions.Address()); left.Sign() != 0 {
		t.Fatalf("registry left an allowance of %s", left)
	}

	f.at(100)
	if _, err := f.c.CloseAuction(bob, id); err != nil {
		t.Fatal(err)
	}
	held, _ = f.ch.TokenBalanceOf(usdc, f.dep.Vault.Address())
	eq(t, "vault custody", held, 200)
	if _, err := f.c.ConfirmDelivery(alice, id); err != nil {
		t.Fatal(err)
	}
	paid, _, err := f.c.WithdrawPayout(seller, usdc)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, "seller payout", paid, 195)
	bal, _ := f.ch.TokenBalanceOf(usdc, seller)
	eq(t, "seller tokens", bal, 195)
}

func TestFailedTransactionCommitsNothing(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 100, domain.SaleFixedPrice)
	head := f.ch.Head().Number
	logs := f.ch.LogCount()

	if _, err := f.c.Send(alice, big.NewInt(99), func(ctx *chain.Context) error {
		return f.dep.Registry.Buy(ctx, id)
	}); !errors.Is(err, domain.ErrIncorrectPayment) {
		t.Fatalf("underpaid buy err = %v", err)
	}
	if f.ch.Head().Number != head || f.ch.LogCount() != logs {
		t.Fatal("failed transaction advanced the chain")
	}
	eq(t, "alice balance", f.ch.BalanceOf(alice), 1_000)
	if s := f.status(t, id); s != domain.ListingActive {
		t.Fatalf("status = %s", s)
	}
}
