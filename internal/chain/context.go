package chain

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Receiver is a hook run when native value arrives at an account through a
// contract transfer. ctx.Sender is the payer, ctx.Self the recipient and
// ctx.Value the amount. Returning an error rejects the payment.
type Receiver interface {
	Receive(ctx *Context) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx *Context) error

func (f ReceiverFunc) Receive(ctx *Context) error { return f(ctx) }

// Context is the execution frame of one call within a transaction.
type Context struct {
	chain  *Chain
	tx     *txState
	sender common.Address
	self   common.Address
	value  *big.Int
	depth  int
}

// Sender is the immediate caller of this frame.
func (ctx *Context) Sender() common.Address { return ctx.sender }

// Self is the account whose code is running.
func (ctx *Context) Self() common.Address { return ctx.self }

// Origin is the externally owned account that signed the transaction.
func (ctx *Context) Origin() common.Address { return ctx.tx.origin }

// Value is the native value attached to this frame. It has already been
// credited to Self.
func (ctx *Context) Value() *big.Int { return ctx.value }

// Now is the block timestamp in seconds.
func (ctx *Context) Now() uint64 { return ctx.tx.block.Time }

// BlockNumber is the height of the block being built.
func (ctx *Context) BlockNumber() uint64 { return ctx.tx.block.Number }

// PrevRandao is the block's unpredictable value.
func (ctx *Context) PrevRandao() common.Hash { return ctx.tx.block.PrevRandao }

// Expect checks that the frame runs on addr.
func (ctx *Context) Expect(addr common.Address) error {
	if ctx.self != addr {
		return fmt.Errorf("%w: running on %s, want %s", ErrWrongAccount, ctx.self.Hex(), addr.Hex())
	}
	return nil
}

// Call invokes fn as a nested frame on the account at to, moving value from
// Self to it first. If fn fails, only the writes made inside the frame are
// undone and the error is returned to the caller.
func (ctx *Context) Call(to common.Address, value *big.Int, fn func(*Context) error) error {
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return ErrNegativeValue
	}
	if ctx.depth+1 > maxCallDepth {
		return ErrCallDepth
	}
	cp := ctx.tx.journal.checkpoint()
	sub := &Context{chain: ctx.chain, tx: ctx.tx, sender: ctx.self, self: to, value: value, depth: ctx.depth + 1}
	err := ctx.chain.moveNative(ctx.tx, ctx.self, to, value)
	if err == nil {
		err = fn(sub)
	}
	if err != nil {
		ctx.tx.journal.revertTo(cp)
	}
	return err
}

// Transfer sends native value from Self to to, running to's receiver hook.
// A rejected hook undoes the hook's writes and the transfer.
func (ctx *Context) Transfer(to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeValue
	}
	cp := ctx.tx.journal.checkpoint()
	if err := ctx.chain.moveNative(ctx.tx, ctx.self, to, amount); err != nil {
		return err
	}
	hook, ok := ctx.chain.receivers[to]
	if !ok {
		return nil
	}
	if ctx.depth+1 > maxCallDepth {
		ctx.tx.journal.revertTo(cp)
		return ErrCallDepth
	}
	sub := &Context{chain: ctx.chain, tx: ctx.tx, sender: ctx.self, self: to, value: amount, depth: ctx.depth + 1}
	if err := hook.Receive(sub); err != nil {
		ctx.tx.journal.revertTo(cp)
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed.With("to", to.Hex(), "amount", amount), err)
	}
	return nil
}

// TransferToken moves amount of a token from Self to to.
func (ctx *Context) TransferToken(tokenAddr, to common.Address, amount *big.Int) error {
	t, err := ctx.chain.lookupToken(tokenAddr)
	if err != nil {
		return err
	}
	return ctx.moveToken(t, ctx.self, to, amount)
}

// TransferTokenFrom moves amount of a token from "from" to to, spending the
// allowance "from" granted to Self.
func (ctx *Context) TransferTokenFrom(tokenAddr, from, to common.Address, amount *big.Int) error {
	t, err := ctx.chain.lookupToken(tokenAddr)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	allowed := t.allowance(from, ctx.self)
	if allowed.Cmp(amount) < 0 {
		return domain.ErrInsufficientAllowance.With("owner", from.Hex(), "spender", ctx.self.Hex(), "allowance", allowed, "required", amount)
	}
	t.setAllowance(&ctx.tx.journal, from, ctx.self, new(big.Int).Sub(allowed, amount))
	return ctx.moveToken(t, from, to, amount)
}

// Approve sets the allowance Self grants spender on a token.
func (ctx *Context) Approve(tokenAddr, spender common.Address, amount *big.Int) error {
	return ctx.approve(tokenAddr, ctx.self, spender, amount)
}

func (ctx *Context) approve(tokenAddr, owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeValue
	}
	t, err := ctx.chain.lookupToken(tokenAddr)
	if err != nil {
		return err
	}
	t.setAllowance(&ctx.tx.journal, owner, spender, new(big.Int).Set(amount))
	return nil
}

func (ctx *Context) moveToken(t *token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeValue
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	bal := t.balanceOf(from)
	if bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance.With("account", from.Hex(), "token", t.symbol, "balance", bal, "required", amount)
	}
	t.setBalance(&ctx.tx.journal, from, new(big.Int).Sub(bal, amount))
	t.setBalance(&ctx.tx.journal, to, new(big.Int).Add(t.balanceOf(to), amount))
	return nil
}

// Collect takes exactly amount of currency from payer into Self. Native
// currency must arrive as this frame's attached value; a token must be
// pulled through an allowance with no value attached.
func (ctx *Context) Collect(currency, payer common.Address, amount *big.Int) error {
	if currency == NativeCurrency {
		if ctx.value.Cmp(amount) != 0 {
			return domain.ErrIncorrectPayment.With("required", amount, "got", ctx.value)
		}
		return nil
	}
	if ctx.value.Sign() != 0 {
		return domain.ErrIncorrectPayment.With("required", 0, "got", ctx.value)
	}
	return ctx.TransferTokenFrom(currency, payer, ctx.self, amount)
}

// Pay sends amount of currency from Self to to.
func (ctx *Context) Pay(currency, to common.Address, amount *big.Int) error {
	if currency == NativeCurrency {
		return ctx.Transfer(to, amount)
	}
	return ctx.TransferToken(currency, to, amount)
}

// BalanceOf returns addr's holdings of currency as seen inside the
// transaction.
func (ctx *Context) BalanceOf(currency, addr common.Address) (*big.Int, error) {
	if currency == NativeCurrency {
		return new(big.Int).Set(ctx.chain.nativeBalance(addr)), nil
	}
	t, err := ctx.chain.lookupToken(currency)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.balanceOf(addr)), nil
}

// IsToken reports whether addr is a deployed token.
func (ctx *Context) IsToken(addr common.Address) bool {
	_, ok := ctx.chain.tokens[addr]
	return ok
}

// Emit appends ev to the transaction's pending log, attributed to Self.
func (ctx *Context) Emit(ev domain.Event) {
	tx := ctx.tx
	n := len(tx.logs)
	tx.journal.record(func() { tx.logs = tx.logs[:n] })
	tx.logs = append(tx.logs, Log{Address: ctx.self, Event: ev})
}
