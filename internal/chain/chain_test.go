package chain

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestChain(t *testing.T) (*Chain, *ManualClock) {
	t.Helper()
	clock := NewManualClock(t0)
	return New(clock, slog.New(slog.NewTextHandler(io.Discard, nil))), clock
}

func wei(n int64) *big.Int { return big.NewInt(n) }

func TestExecuteCommitsBlock(t *testing.T) {
	ch, clock := newTestChain(t)
	alice, bob := NewAddress("alice"), NewAddress("bob")
	ch.Fund(alice, wei(100))

	clock.Advance(12 * time.Second)
	rcpt, err := ch.Transfer(alice, bob, wei(40))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if rcpt.BlockNumber != 1 {
		t.Fatalf("block number = %d, want 1", rcpt.BlockNumber)
	}
	if rcpt.BlockTime != uint64(t0.Unix())+12 {
		t.Fatalf("block time = %d", rcpt.BlockTime)
	}
	if got := ch.BalanceOf(alice); got.Cmp(wei(60)) != 0 {
		t.Fatalf("alice = %s, want 60", got)
	}
	if got := ch.BalanceOf(bob); got.Cmp(wei(40)) != 0 {
		t.Fatalf("bob = %s, want 40", got)
	}
}

func TestBlockTimeNeverRewinds(t *testing.T) {
	ch, clock := newTestChain(t)
	a := NewAddress("a")
	clock.Advance(time.Minute)
	first, err := ch.Transfer(a, a, nil)
	if err != nil {
		t.Fatal(err)
	}
	clock.Set(t0)
	second, err := ch.Transfer(a, a, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.BlockTime < first.BlockTime {
		t.Fatalf("block time went backwards: %d < %d", second.BlockTime, first.BlockTime)
	}
	if first.BlockNumber+1 != second.BlockNumber {
		t.Fatalf("heights %d then %d", first.BlockNumber, second.BlockNumber)
	}
}

func TestExecuteRevertsEverythingOnError(t *testing.T) {
	ch, _ := newTestChain(t)
	alice, contract, bob := NewAddress("alice"), NewAddress("contract"), NewAddress("bob")
	ch.Fund(alice, wei(100))
	state := NewMap[string, int]()
	cell := NewCell(7)
	boom := errors.New("boom")

	_, err := ch.Execute(alice, contract, wei(30), func(ctx *Context) error {
		state.Put(ctx, "k", 1)
		cell.Set(ctx, 9)
		ctx.Emit(domain.ListingExpiredEvent{})
		if err := ctx.Transfer(bob, wei(10)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if state.Has("k") || cell.Get() != 7 {
		t.Fatal("state writes survived a failed transaction")
	}
	if ch.BalanceOf(alice).Cmp(wei(100)) != 0 || ch.BalanceOf(bob).Sign() != 0 || ch.BalanceOf(contract).Sign() != 0 {
		t.Fatal("balances moved in a failed transaction")
	}
	if ch.LogCount() != 0 {
		t.Fatalf("log count = %d, want 0", ch.LogCount())
	}
	if ch.Head().Number != 0 {
		t.Fatalf("head = %d, want 0", ch.Head().Number)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	ch, _ := newTestChain(t)
	a := NewAddress("a")
	m := NewMap[int, int]()
	_, err := ch.Execute(a, a, nil, func(ctx *Context) error {
		m.Put(ctx, 1, 1)
		panic("bad")
	})
	if err == nil {
		t.Fatal("expected error from panicking transaction")
	}
	if m.Len() != 0 {
		t.Fatal("panic did not revert writes")
	}
}

func TestNestedCallRevertsOnlyItsFrame(t *testing.T) {
	ch, _ := newTestChain(t)
	a, outer, inner := NewAddress("a"), NewAddress("outer"), NewAddress("inner")
	ch.Fund(a, wei(10))
	m := NewMap[string, string]()

	rcpt, err := ch.Execute(a, outer, wei(10), func(ctx *Context) error {
		m.Put(ctx, "outer", "kept")
		ctx.Emit(domain.ListingExpiredEvent{ListingID: common.Hash{1}})
		callErr := ctx.Call(inner, wei(4), func(sub *Context) error {
			if sub.Sender() != outer || sub.Self() != inner {
				t.Errorf("frame sender=%s self=%s", sub.Sender(), sub.Self())
			}
			m.Put(sub, "inner", "dropped")
			sub.Emit(domain.ListingExpiredEvent{ListingID: common.Hash{2}})
			return domain.ErrNotController
		})
		if !errors.Is(callErr, domain.ErrNotController) {
			t.Errorf("call err = %v", callErr)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("outer"); !ok {
		t.Fatal("outer write lost")
	}
	if m.Has("inner") {
		t.Fatal("inner write survived")
	}
	if ch.BalanceOf(inner).Sign() != 0 || ch.BalanceOf(outer).Cmp(wei(10)) != 0 {
		t.Fatal("nested value move survived")
	}
	if len(rcpt.Logs) != 1 || rcpt.Logs[0].Address != outer {
		t.Fatalf("logs = %+v", rcpt.Logs)
	}
}

func TestReceiverHookRejectionRevertsTransfer(t *testing.T) {
	ch, _ := newTestChain(t)
	a, pay, rcv := NewAddress("a"), NewAddress("payer"), NewAddress("receiver")
	ch.Fund(pay, wei(50))
	seen := NewCell(0)
	ch.SetReceiver(rcv, ReceiverFunc(func(ctx *Context) error {
		seen.Set(ctx, 1)
		if ctx.Sender() != pay || ctx.Value().Cmp(wei(5)) != 0 {
			t.Errorf("hook frame sender=%s value=%s", ctx.Sender(), ctx.Value())
		}
		return domain.ErrReentrantCall
	}))

	_, err := ch.Execute(a, pay, nil, func(ctx *Context) error {
		err := ctx.Transfer(rcv, wei(5))
		if !errors.Is(err, domain.ErrTransferFailed) || !errors.Is(err, domain.ErrReentrantCall) {
			t.Errorf("transfer err = %v", err)
		}
		if domain.KindOf(err) != domain.KindTransfer {
			t.Errorf("kind = %v", domain.KindOf(err))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen.Get() != 0 {
		t.Fatal("hook writes survived rejection")
	}
	if ch.BalanceOf(rcv).Sign() != 0 {
		t.Fatal("rejected transfer moved value")
	}
}

func TestTokenAllowances(t *testing.T) {
	ch, _ := newTestChain(t)
	tok, err := ch.DeployToken("USDC", 6)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ch.DeployToken("USDC", 6); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("redeploy err = %v", err)
	}
	owner, spender, to := NewAddress("owner"), NewAddress("spender"), NewAddress("to")
	if err := ch.Mint(tok, owner, wei(100)); err != nil {
		t.Fatal(err)
	}
	if _, err := ch.Approve(owner, tok, spender, wei(30)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		amount  int64
		wantErr error
	}{
		{"within allowance", 20, nil},
		{"exceeds remaining allowance", 20, domain.ErrInsufficientAllowance},
		{"spends the rest", 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ch.Execute(spender, spender, nil, func(ctx *Context) error {
				return ctx.TransferTokenFrom(tok, owner, to, wei(tt.amount))
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, _ := ch.TokenBalanceOf(tok, to)
	if got.Cmp(wei(30)) != 0 {
		t.Fatalf("to balance = %s, want 30", got)
	}
	left, _ := ch.Allowance(tok, owner, spender)
	if left.Sign() != 0 {
		t.Fatalf("allowance = %s, want 0", left)
	}
}

func TestCollect(t *testing.T) {
	ch, _ := newTestChain(t)
	tok, _ := ch.DeployToken("DAI", 18)
	payer, shop := NewAddress("payer"), NewAddress("shop")
	ch.Fund(payer, wei(100))
	_ = ch.Mint(tok, payer, wei(100))
	_, _ = ch.Approve(payer, tok, shop, wei(100))

	tests := []struct {
		name     string
		currency common.Address
		value    int64
		amount   int64
		wantErr  error
	}{
		{"native exact", NativeCurrency, 10, 10, nil},
		{"native short", NativeCurrency, 9, 10, domain.ErrIncorrectPayment},
		{"native over", NativeCurrency, 11, 10, domain.ErrIncorrectPayment},
		{"token pulls allowance", tok, 0, 10, nil},
		{"token with value attached", tok, 1, 10, domain.ErrIncorrectPayment},
		{"unknown token", NewAddress("nope"), 0, 10, domain.ErrUnknownToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ch.Execute(payer, shop, wei(tt.value), func(ctx *Context) error {
				return ctx.Collect(tt.currency, payer, wei(tt.amount))
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if got := ch.BalanceOf(shop); got.Cmp(wei(10)) != 0 {
		t.Fatalf("shop native = %s", got)
	}
	if got, _ := ch.TokenBalanceOf(tok, shop); got.Cmp(wei(10)) != 0 {
		t.Fatalf("shop token = %s", got)
	}
}

func TestLogsAreSequencedAcrossBlocks(t *testing.T) {
	ch, _ := newTestChain(t)
	a := NewAddress("a")
	for i := 0; i < 3; i++ {
		_, err := ch.Execute(a, a, nil, func(ctx *Context) error {
			ctx.Emit(domain.ListingExpiredEvent{})
			ctx.Emit(domain.ListingCancelledEvent{})
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	logs := ch.Logs(2, 3)
	if len(logs) != 3 {
		t.Fatalf("len = %d", len(logs))
	}
	for i, l := range logs {
		if l.Seq != uint64(i+3) {
			t.Fatalf("seq[%d] = %d", i, l.Seq)
		}
	}
	if logs[0].BlockNumber != 2 || logs[0].Index != 0 || logs[1].Index != 1 {
		t.Fatalf("unexpected placement %+v", logs[:2])
	}
	rec, err := logs[0].Record()
	if err != nil {
		t.Fatal(err)
	}
	ev, err := domain.DecodeEvent(rec.Name, rec.Data)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ev.(*domain.ListingExpiredEvent); !ok {
		t.Fatalf("decoded %T", ev)
	}
	if ch.Logs(6, 0) != nil {
		t.Fatal("expected no logs past the head")
	}
}

func TestGuardRejectsReentry(t *testing.T) {
	var g Guard
	release, err := g.Enter()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Enter(); !errors.Is(err, domain.ErrReentrantCall) {
		t.Fatalf("second enter err = %v", err)
	}
	release()
	if g.Held() {
		t.Fatal("guard still held after release")
	}
}
