package raffle

import (
	"errors"
	"io"
	"log/slog"
	"math"
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
	controller = chain.NewAddress("controller")
	alice      = chain.NewAddress("alice")
	bob        = chain.NewAddress("bob")
	carol      = chain.NewAddress("carol")
	sink       = chain.NewAddress("sink")
	raffleID   = common.HexToHash("0x4aff1e")
)

type fixture struct {
	ch    *chain.Chain
	clock *chain.ManualClock
	mod   *Module
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := chain.NewManualClock(time.Unix(genesis, 0))
	ch := chain.New(clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mod, err := New(chain.NewAddress("raffle"), controller)
	if err != nil {
		t.Fatal(err)
	}
	ch.Fund(controller, big.NewInt(1_000_000))
	return &fixture{ch: ch, clock: clock, mod: mod}
}

func (f *fixture) exec(value int64, fn func(*chain.Context) error) error {
	_, err := f.ch.Execute(controller, f.mod.Address(), big.NewInt(value), fn)
	return err
}

func (f *fixture) at(offset int64) {
	f.clock.Set(time.Unix(genesis+offset, 0))
}

func params(price, target int64, minParticipants uint64) domain.RaffleParams {
	return domain.RaffleParams{
		Currency:        chain.NativeCurrency,
		StartTime:       genesis,
		EndTime:         genesis + 100,
		TicketPrice:     big.NewInt(price),
		TargetAmount:    big.NewInt(target),
		MinParticipants: minParticipants,
	}
}

func (f *fixture) create(t *testing.T, p domain.RaffleParams) {
	t.Helper()
	if err := f.exec(0, func(ctx *chain.Context) error { return f.mod.CreateRaffle(ctx, raffleID, p) }); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func (f *fixture) enter(buyer common.Address, count uint64, value int64) error {
	return f.exec(value, func(ctx *chain.Context) error {
		return f.mod.EnterRaffle(ctx, raffleID, buyer, count)
	})
}

func (f *fixture) close(seed int64) (domain.RaffleOutcome, error) {
	var out domain.RaffleOutcome
	err := f.exec(0, func(ctx *chain.Context) error {
		var err error
		out, err = f.mod.CloseRaffle(ctx, raffleID, big.NewInt(seed))
		return err
	})
	return out, err
}

func (f *fixture) withdraw(buyer common.Address) (*big.Int, error) {
	var got *big.Int
	err := f.exec(0, func(ctx *chain.Context) error {
		var err error
		got, err = f.mod.WithdrawRefund(ctx, raffleID, buyer)
		return err
	})
	return got, err
}

func TestCreateRaffleValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.RaffleParams)
		wantErr error
	}{
		{"valid", func(*domain.RaffleParams) {}, nil},
		{"end before start", func(p *domain.RaffleParams) { p.EndTime = p.StartTime - 1 }, domain.ErrInvalidTimeWindow},
		{"zero ticket price", func(p *domain.RaffleParams) { p.TicketPrice = big.NewInt(0) }, domain.ErrInvalidRaffleParams},
		{"nil target", func(p *domain.RaffleParams) { p.TargetAmount = nil }, domain.ErrInvalidRaffleParams},
		{"zero participants", func(p *domain.RaffleParams) { p.MinParticipants = 0 }, domain.ErrInvalidRaffleParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := params(5, 10, 2)
			tt.mutate(&p)
			err := f.exec(0, func(ctx *chain.Context) error { return f.mod.CreateRaffle(ctx, raffleID, p) })
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	f := newFixture(t)
	f.create(t, params(5, 10, 2))
	if err := f.exec(0, func(ctx *chain.Context) error { return f.mod.CreateRaffle(ctx, raffleID, params(5, 10, 2)) }); !errors.Is(err, domain.ErrRaffleExists) {
		t.Fatalf("duplicate err = %v", err)
	}
	_, err := f.ch.Execute(alice, f.mod.Address(), nil, func(ctx *chain.Context) error {
		return f.mod.CreateRaffle(ctx, common.Hash{9}, params(5, 10, 2))
	})
	if !errors.Is(err, domain.ErrNotController) {
		t.Fatalf("non-controller err = %v", err)
	}
}

func TestEnterRaffleRules(t *testing.T) {
	f := newFixture(t)
	p := params(5, 100, 2)
	p.StartTime = genesis + 10
	f.create(t, p)

	if err := f.enter(alice, 1, 5); !errors.Is(err, domain.ErrRaffleNotOpen) {
		t.Fatalf("early entry err = %v", err)
	}
	f.at(20)
	tests := []struct {
		name    string
		buyer   common.Address
		count   uint64
		value   int64
		wantErr error
	}{
		{"zero tickets", alice, 0, 0, domain.ErrInvalidTicketCount},
		{"underpaid", alice, 2, 9, domain.ErrIncorrectPayment},
		{"overpaid", alice, 2, 11, domain.ErrIncorrectPayment},
		{"exact", alice, 2, 10, nil},
		{"zero buyer", common.Address{}, 1, 5, domain.ErrInvalidAddress},
		{"repeat buyer", alice, 1, 5, nil},
		{"second buyer", bob, 4, 20, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.enter(tt.buyer, tt.count, tt.value); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := f.mod.Participants(raffleID); len(got) != 2 || got[0] != alice || got[1] != bob {
		t.Fatalf("participants = %v", got)
	}
	if f.mod.TicketsOf(raffleID, alice) != 3 || f.mod.ContributionOf(raffleID, alice).Cmp(big.NewInt(15)) != 0 {
		t.Fatal("alice tally wrong")
	}
	quote, err := f.mod.QuoteEntry(raffleID, 7)
	if err != nil || quote.Cmp(big.NewInt(35)) != 0 {
		t.Fatalf("quote = %v, %v", quote, err)
	}
	if _, err := f.mod.QuoteEntry(raffleID, 0); !errors.Is(err, domain.ErrInvalidTicketCount) {
		t.Fatalf("zero quote err = %v", err)
	}

	f.at(100)
	if err := f.enter(carol, 1, 5); !errors.Is(err, domain.ErrRaffleNotOpen) {
		t.Fatalf("late entry err = %v", err)
	}
}

func TestTicketTotalsStayConsistent(t *testing.T) {
	f := newFixture(t)
	f.create(t, params(3, 1_000, 1))
	f.at(1)
	buys := []struct {
		who   common.Address
		count uint64
	}{
		{alice, 1}, {bob, 5}, {alice, 2}, {carol, 7}, {bob, 1}, {carol, 3},
	}
	for _, b := range buys {
		if err := f.enter(b.who, b.count, int64(3*b.count)); err != nil {
			t.Fatal(err)
		}
		r, _ := f.mod.GetRaffle(raffleID)
		var sumTickets uint64
		sumPaid := new(big.Int)
		for _, p := range f.mod.Participants(raffleID) {
			sumTickets += f.mod.TicketsOf(raffleID, p)
			sumPaid.Add(sumPaid, f.mod.ContributionOf(raffleID, p))
		}
		if r.TotalTickets != sumTickets {
			t.Fatalf("total tickets %d != sum %d", r.TotalTickets, sumTickets)
		}
		if r.Raised.Cmp(sumPaid) != 0 || r.Raised.Cmp(ticketCost(r.TicketPrice, r.TotalTickets)) != 0 {
			t.Fatalf("raised %s, contributions %s, tickets %d", r.Raised, sumPaid, r.TotalTickets)
		}
		if r.ParticipantCount != uint64(len(f.mod.Participants(raffleID))) {
			t.Fatal("participant count drifted")
		}
	}
}

func TestCloseEligibility(t *testing.T) {
	f := newFixture(t)
	f.create(t, params(5, 10, 2))
	f.at(10)
	if err := f.enter(alice, 1, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := f.close(0); !errors.Is(err, domain.ErrRaffleNotClosable) {
		t.Fatalf("close before end or target err = %v", err)
	}
	if err := f.enter(bob, 1, 5); err != nil {
		t.Fatal(err)
	}
	out, err := f.close(1)
	if err != nil {
		t.Fatalf("close at target: %v", err)
	}
	if !out.Success || out.Winner != bob {
		t.Fatalf("outcome = %+v, want bob with pick 1", out)
	}
	if _, err := f.close(1); !errors.Is(err, domain.ErrRaffleClosed) {
		t.Fatalf("second close err = %v", err)
	}
	if err := f.enter(carol, 1, 5); !errors.Is(err, domain.ErrRaffleClosed) {
		t.Fatalf("entry after close err = %v", err)
	}
	if _, err := f.withdraw(alice); !errors.Is(err, domain.ErrRaffleNotRefundable) {
		t.Fatalf("refund from successful raffle err = %v", err)
	}
}

func TestSuccessfulRaffleSweepsOnce(t *testing.T) {
	f := newFixture(t)
	f.create(t, params(5, 10, 2))
	f.at(10)
	_ = f.enter(alice, 1, 5)
	_ = f.enter(bob, 1, 5)
	if _, err := f.close(0); err != nil {
		t.Fatal(err)
	}
	sweep := func() (*big.Int, error) {
		var got *big.Int
		err := f.exec(0, func(ctx *chain.Context) error {
			var err error
			got, err = f.mod.SweepProceeds(ctx, raffleID, sink)
			return err
		})
		return got, err
	}
	got, err := sweep()
	if err != nil || got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("sweep = %v, %v", got, err)
	}
	if f.ch.BalanceOf(sink).Cmp(big.NewInt(10)) != 0 {
		t.Fatal("proceeds not delivered")
	}
	if _, err := sweep(); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("double sweep err = %v", err)
	}
}

func TestFailedRaffleRefundsEveryEntrant(t *testing.T) {
	f := newFixture(t)
	f.create(t, params(5, 10, 3))
	f.at(10)
	_ = f.enter(alice, 1, 5)
	_ = f.enter(bob, 1, 5)

	f.at(100)
	out, err := f.close(42)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success || out.Winner != (common.Address{}) {
		t.Fatalf("outcome = %+v", out)
	}
	err = f.exec(0, func(ctx *chain.Context) error {
		_, err := f.mod.SweepProceeds(ctx, raffleID, sink)
		return err
	})
	if !errors.Is(err, domain.ErrRaffleNotSuccessful) {
		t.Fatalf("sweep of failed raffle err = %v", err)
	}
	for _, who := range []common.Address{alice, bob} {
		got, err := f.withdraw(who)
		if err != nil || got.Cmp(big.NewInt(5)) != 0 {
			t.Fatalf("withdraw %s = %v, %v", who, got, err)
		}
		if _, err := f.withdraw(who); !errors.Is(err, domain.ErrNothingToWithdraw) {
			t.Fatalf("second withdraw err = %v", err)
		}
		if f.mod.ContributionOf(raffleID, who).Cmp(big.NewInt(5)) != 0 {
			t.Fatal("refund erased the contribution record")
		}
	}
	if _, err := f.withdraw(carol); !errors.Is(err, domain.ErrNothingToWithdraw) {
		t.Fatalf("non-entrant withdraw err = %v", err)
	}
	r, _ := f.mod.GetRaffle(raffleID)
	if r.TotalTickets != 2 || r.Raised.Cmp(big.NewInt(10)) != 0 {
		t.Fatal("refunds disturbed raffle totals")
	}
	if f.ch.BalanceOf(f.mod.Address()).Sign() != 0 {
		t.Fatalf("module still holds %s", f.ch.BalanceOf(f.mod.Address()))
	}
}

func TestCancelRaffleAllowsRefunds(t *testing.T) {
	f := newFixture(t)
	f.create(t, params(5, 100, 1))
	f.at(10)
	_ = f.enter(alice, 3, 15)
	if err := f.exec(0, func(ctx *chain.Context) error { return f.mod.CancelRaffle(ctx, raffleID) }); err != nil {
		t.Fatal(err)
	}
	r, _ := f.mod.GetRaffle(raffleID)
	if r.Phase() != domain.RaffleCanceled || !r.Closed || r.Winner != (common.Address{}) {
		t.Fatalf("raffle = %+v", r)
	}
	if got := f.mod.RefundAvailable(raffleID, alice); got.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("refund available = %s", got)
	}
	if err := f.exec(0, func(ctx *chain.Context) error { return f.mod.CancelRaffle(ctx, raffleID) }); !errors.Is(err, domain.ErrRaffleClosed) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestPickWinnerWalksCumulativeTickets(t *testing.T) {
	list := []common.Address{alice, bob, carol}
	tickets := map[common.Address]uint64{alice: 2, bob: 1, carol: 3}
	lookup := func(a common.Address) uint64 { return tickets[a] }
	want := []common.Address{alice, alice, bob, carol, carol, carol}
	for pick, w := range want {
		if got := pickWinner(list, lookup, uint64(pick)); got != w {
			t.Fatalf("pick %d = %s, want %s", pick, got, w)
		}
	}
}

func TestWinnerFrequencyTracksTicketShare(t *testing.T) {
	list := []common.Address{alice, bob, carol}
	tickets := map[common.Address]uint64{alice: 1, bob: 3, carol: 6}
	lookup := func(a common.Address) uint64 { return tickets[a] }
	const trials = 20_000
	total := new(big.Int).SetUint64(10)
	wins := map[common.Address]int{}
	for i := 0; i < trials; i++ {
		seed := new(big.Int).SetBytes(crypto.Keccak256(big.NewInt(int64(i)).Bytes()))
		pick := new(big.Int).Mod(seed, total).Uint64()
		wins[pickWinner(list, lookup, pick)]++
	}
	for who, k := range tickets {
		got := float64(wins[who]) / trials
		want := float64(k) / 10
		if math.Abs(got-want) > 0.02 {
			t.Fatalf("%s won %.3f of draws, want about %.3f", who, got, want)
		}
	}
}
