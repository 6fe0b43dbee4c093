package vault

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
)

var (
	controller = chain.NewAddress("controller")
	buyer      = chain.NewAddress("buyer")
	seller     = chain.NewAddress("seller")
	treasury   = chain.NewAddress("treasury")
	native     = chain.NativeCurrency
)

type fixture struct {
	ch    *chain.Chain
	vault *Vault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ch := chain.New(chain.NewManualClock(time.Unix(1_700_000_000, 0)), slog.New(slog.NewTextHandler(io.Discard, nil)))
	v, err := New(chain.NewAddress("vault"), controller)
	if err != nil {
		t.Fatal(err)
	}
	ch.Fund(controller, big.NewInt(1_000))
	return &fixture{ch: ch, vault: v}
}

// as runs fn as a transaction from caller to the vault.
func (f *fixture) as(caller common.Address, value int64, fn func(*chain.Context) error) error {
	_, err := f.ch.Execute(caller, f.vault.Address(), big.NewInt(value), fn)
	return err
}

func (f *fixture) createNative(t *testing.T, id common.Hash, amount int64) {
	t.Helper()
	err := f.as(controller, amount, func(ctx *chain.Context) error {
		return f.vault.CreateEscrow(ctx, id, controller, buyer, seller, native, big.NewInt(amount))
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
}

func TestNewRejectsZeroAddresses(t *testing.T) {
	if _, err := New(common.Address{}, controller); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Fatalf("err = %v", err)
	}
	if _, err := New(chain.NewAddress("v"), common.Address{}); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateEscrowValidation(t *testing.T) {
	f := newFixture(t)
	id := common.Hash{0x01}
	f.createNative(t, id, 100)

	tests := []struct {
		name    string
		caller  common.Address
		id      common.Hash
		buyer   common.Address
		value   int64
		amount  int64
		wantErr error
	}{
		{"not controller", buyer, common.Hash{0x02}, buyer, 0, 10, domain.ErrNotController},
		{"duplicate id", controller, id, buyer, 10, 10, domain.ErrEscrowExists},
		{"zero amount", controller, common.Hash{0x03}, buyer, 0, 0, domain.ErrZeroAmount},
		{"zero buyer", controller, common.Hash{0x04}, common.Address{}, 10, 10, domain.ErrInvalidAddress},
		{"value mismatch", controller, common.Hash{0x05}, buyer, 9, 10, domain.ErrIncorrectPayment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.as(tt.caller, tt.value, func(ctx *chain.Context) error {
				return f.vault.CreateEscrow(ctx, tt.id, tt.caller, tt.buyer, seller, native, big.NewInt(tt.amount))
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	esc, err := f.vault.GetEscrow(id)
	if err != nil {
		t.Fatal(err)
	}
	if esc.Status != domain.EscrowFunded || esc.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow = %+v", esc)
	}
	if _, err := f.vault.GetEscrow(common.Hash{0x09}); !errors.Is(err, domain.ErrEscrowNotFound) {
		t.Fatalf("missing escrow err = %v", err)
	}
}

func TestReleaseSplitsFee(t *testing.T) {
	f := newFixture(t)
	id := common.Hash{0xaa}
	f.createNative(t, id, 100)

	err := f.as(controller, 0, func(ctx *chain.Context) error {
		return f.vault.Release(ctx, id, treasury, 250)
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := f.vault.CreditOf(seller, native); got.Cmp(big.NewInt(98)) != 0 {
		t.Fatalf("seller credit = %s, want 98", got)
	}
	if got := f.vault.CreditOf(treasury, native); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("fee credit = %s, want 2", got)
	}

	err = f.as(controller, 0, func(ctx *chain.Context) error {
		return f.vault.Release(ctx, id, treasury, 250)
	})
	if !errors.Is(err, domain.ErrEscrowNotFunded) {
		t.Fatalf("second release err = %v", err)
	}
	err = f.as(controller, 0, func(ctx *chain.Context) error {
		return f.vault.Refund(ctx, id)
	})
	if !errors.Is(err, domain.ErrEscrowNotFunded) {
		t.Fatalf("refund after release err = %v", err)
	}
}

func TestRefundCreditsBuyer(t *testing.T) {
	f := newFixture(t)
	id := common.Hash{0xbb}
	f.createNative(t, id, 40)
	if err := f.as(controller, 0, func(ctx *chain.Context) error { return f.vault.Refund(ctx, id) }); err != nil {
		t.Fatal(err)
	}
	esc, _ := f.vault.GetEscrow(id)
	if esc.Status != domain.EscrowRefunded {
		t.Fatalf("status = %s", esc.Status)
	}
	if got := f.vault.CreditOf(buyer, native); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("buyer credit = %s", got)
	}
}

func TestWithdrawIsOneShot(t *testing.T) {
	f := newFixture(t)
	id := common.Hash{0xcc}
	f.createNative(t, id, 100)
	if err := f.as(controller, 0, func(ctx *chain.Context) error { return f.vault.Release(ctx, id, treasury, 0) }); err != nil {
		t.Fatal(err)
	}

	var paid *big.Int
	err := f.as(controller, 0, func(ctx *chain.Context) error {
		var err error
		paid, err = f.vault.Withdraw(ctx, native, seller)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if paid.Cmp(big.NewInt(100)) != 0 || f.ch.BalanceOf(seller).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("paid %s, seller balance %s", paid, f.ch.BalanceOf(seller))
	}
	err = f.as(controller, 0, func(ctx *chain.Context) error {
		_, err := f.vault.Withdraw(ctx, native, seller)
		return err
	})
	if !errors.Is(err, domain.ErrNothingToWithdraw) {
		t.Fatalf("second withdraw err = %v", err)
	}
	if f.ch.BalanceOf(seller).Cmp(big.NewInt(100)) != 0 {
		t.Fatal("second withdraw moved funds")
	}
}

func TestWithdrawReentryIsRejected(t *testing.T) {
	f := newFixture(t)
	id := common.Hash{0xdd}
	f.createNative(t, id, 50)
	// The controller itself is owed a credit here so the nested call passes
	// the controller check and reaches the guard.
	err := f.as(controller, 50, func(ctx *chain.Context) error {
		return f.vault.CreateEscrow(ctx, common.Hash{0xde}, controller, controller, controller, native, big.NewInt(50))
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.as(controller, 0, func(ctx *chain.Context) error { return f.vault.Refund(ctx, common.Hash{0xde}) }); err != nil {
		t.Fatal(err)
	}

	var nested error
	f.ch.SetReceiver(controller, chain.ReceiverFunc(func(ctx *chain.Context) error {
		nested = ctx.Call(f.vault.Address(), nil, func(sub *chain.Context) error {
			_, err := f.vault.Withdraw(sub, native, controller)
			return err
		})
		return nested
	}))
	before := f.ch.BalanceOf(controller)

	err = f.as(controller, 0, func(ctx *chain.Context) error {
		_, err := f.vault.Withdraw(ctx, native, controller)
		return err
	})
	if !errors.Is(nested, domain.ErrReentrantCall) {
		t.Fatalf("nested err = %v", nested)
	}
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("outer err = %v", err)
	}
	if got := f.vault.CreditOf(controller, native); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("credit after reverted withdraw = %s", got)
	}
	if f.ch.BalanceOf(controller).Cmp(before) != 0 {
		t.Fatal("reverted withdraw moved funds")
	}
}

func TestTokenEscrowPullsAllowance(t *testing.T) {
	f := newFixture(t)
	tok, err := f.ch.DeployToken("USDC", 6)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.ch.Mint(tok, controller, big.NewInt(500)); err != nil {
		t.Fatal(err)
	}
	id := common.Hash{0xee}
	create := func() error {
		return f.as(controller, 0, func(ctx *chain.Context) error {
			return f.vault.CreateEscrow(ctx, id, controller, buyer, seller, tok, big.NewInt(200))
		})
	}
	if err := create(); !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("unapproved create err = %v", err)
	}
	if _, err := f.ch.Approve(controller, tok, f.vault.Address(), big.NewInt(200)); err != nil {
		t.Fatal(err)
	}
	if err := create(); err != nil {
		t.Fatal(err)
	}
	held, _ := f.ch.TokenBalanceOf(tok, f.vault.Address())
	if held.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("vault holds %s", held)
	}
	if f.vault.TotalCustodied(tok).Cmp(big.NewInt(200)) != 0 || f.vault.TotalCustodied(native).Sign() != 0 {
		t.Fatal("custody totals not tracked per currency")
	}
}

func TestCreditsNeverExceedCustody(t *testing.T) {
	f := newFixture(t)
	check := func(step string) {
		t.Helper()
		limit := new(big.Int).Sub(f.vault.TotalCustodied(native), f.vault.TotalPaidOut(native))
		if f.vault.OutstandingCredits(native).Cmp(limit) > 0 {
			t.Fatalf("%s: credits %s exceed custody %s", step, f.vault.OutstandingCredits(native), limit)
		}
		if f.ch.BalanceOf(f.vault.Address()).Cmp(limit) != 0 {
			t.Fatalf("%s: vault balance %s != custody %s", step, f.ch.BalanceOf(f.vault.Address()), limit)
		}
	}
	ids := []common.Hash{{0x10}, {0x11}, {0x12}, {0x13}}
	for i, id := range ids {
		f.createNative(t, id, int64(10*(i+1)))
		check("create")
	}
	steps := []func(*chain.Context) error{
		func(ctx *chain.Context) error { return f.vault.Release(ctx, ids[0], treasury, 1000) },
		func(ctx *chain.Context) error { return f.vault.Refund(ctx, ids[1]) },
		func(ctx *chain.Context) error { _, err := f.vault.Withdraw(ctx, native, seller); return err },
		func(ctx *chain.Context) error { return f.vault.Release(ctx, ids[2], treasury, 333) },
		func(ctx *chain.Context) error { _, err := f.vault.Withdraw(ctx, native, buyer); return err },
		func(ctx *chain.Context) error { _, err := f.vault.Withdraw(ctx, native, treasury); return err },
	}
	for _, step := range steps {
		if err := f.as(controller, 0, step); err != nil {
			t.Fatal(err)
		}
		check("step")
	}
}
