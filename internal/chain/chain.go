// Package chain is the execution substrate the marketplace components run
// on: serialized atomic transactions over journaled state, native value and
// fungible token balances, receiver hooks on native transfers, a block clock
// and an append-only event log.
//
// Component state lives in Map and Cell values written through a Context.
// If the function passed to Execute returns an error or panics, every write
// it made is undone, including balance moves and emitted events.
package chain

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NativeCurrency designates the chain's native value in currency fields.
var NativeCurrency = common.Address{}

// maxCallDepth bounds nested Call and receiver hook invocations.
const maxCallDepth = 64

var (
	ErrCallDepth     = errors.New("chain: call depth exceeded")
	ErrNegativeValue = errors.New("chain: negative value")
	ErrTokenExists   = errors.New("chain: token already deployed")
	ErrWrongAccount  = errors.New("chain: frame does not run on this account")
)

// NewAddress derives a deterministic account address from a label.
func NewAddress(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("bazaar/account"), []byte(label))[12:])
}

// Chain holds all ledger state and runs transactions one at a time.
type Chain struct {
	mu     sync.Mutex
	id     uint64
	clock  Clock
	logger *slog.Logger

	head      Block
	txCount   uint64
	balances  map[common.Address]*big.Int
	tokens    map[common.Address]*token
	receivers map[common.Address]Receiver
	logs      []Log
	observers []func(Receipt)
}

// New creates an empty chain whose genesis block is stamped with the
// clock's current time.
func New(clock Clock, logger *slog.Logger) *Chain {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	genesis := uint64(clock.Now().Unix())
	var id [8]byte
	_, _ = rand.Read(id[:])
	return &Chain{
		id:     binary.BigEndian.Uint64(id[:]) | 1,
		clock:  clock,
		logger: logger.With(slog.String("component", "chain")),
		head: Block{
			Number:     0,
			Time:       genesis,
			PrevRandao: crypto.Keccak256Hash([]byte("bazaar/genesis"), common.BigToHash(new(big.Int).SetUint64(genesis)).Bytes()),
		},
		balances:  make(map[common.Address]*big.Int),
		tokens:    make(map[common.Address]*token),
		receivers: make(map[common.Address]Receiver),
	}
}

// ID identifies this chain instance. Every New draws a fresh, non-zero ID,
// which lets log consumers tell a restarted chain from the one they
// projected before.
func (c *Chain) ID() uint64 {
	return c.id
}

// txState is the per-transaction scratch space shared by nested contexts.
type txState struct {
	journal journal
	block   Block
	hash    common.Hash
	origin  common.Address
	logs    []Log
}

func (c *Chain) nextBlock() Block {
	now := uint64(c.clock.Now().Unix())
	if now < c.head.Time {
		now = c.head.Time
	}
	number := c.head.Number + 1
	return Block{
		Number: number,
		Time:   now,
		PrevRandao: crypto.Keccak256Hash(
			c.head.PrevRandao.Bytes(),
			common.BigToHash(new(big.Int).SetUint64(number)).Bytes(),
			common.BigToHash(new(big.Int).SetUint64(now)).Bytes(),
		),
	}
}

// Execute runs fn as one transaction from an externally owned account to
// the account at to, attaching value. value moves from "from" to "to"
// before fn runs. On success the transaction is committed as a new block;
// on error or panic nothing it did survives.
func (c *Chain) Execute(from, to common.Address, value *big.Int, fn func(*Context) error) (Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return Receipt{}, ErrNegativeValue
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	block := c.nextBlock()
	c.txCount++
	tx := &txState{
		block:  block,
		origin: from,
		hash: crypto.Keccak256Hash(
			from.Bytes(), to.Bytes(),
			common.BigToHash(new(big.Int).SetUint64(block.Number)).Bytes(),
			common.BigToHash(new(big.Int).SetUint64(c.txCount)).Bytes(),
		),
	}
	ctx := &Context{chain: c, tx: tx, sender: from, self: to, value: value}

	err := c.run(func() error {
		if err := c.moveNative(tx, from, to, value); err != nil {
			return err
		}
		return fn(ctx)
	})
	if err != nil {
		tx.journal.revertTo(0)
		c.logger.Debug("transaction reverted",
			slog.String("from", from.Hex()),
			slog.String("to", to.Hex()),
			slog.String("error", err.Error()),
		)
		return Receipt{TxHash: tx.hash, From: from, To: to, Value: value}, err
	}

	c.head = block
	base := uint64(len(c.logs))
	for i := range tx.logs {
		tx.logs[i].Seq = base + uint64(i) + 1
		tx.logs[i].BlockNumber = block.Number
		tx.logs[i].BlockTime = block.Time
		tx.logs[i].TxHash = tx.hash
		tx.logs[i].Index = uint32(i)
	}
	c.logs = append(c.logs, tx.logs...)

	receipt := Receipt{
		TxHash:      tx.hash,
		BlockNumber: block.Number,
		BlockTime:   block.Time,
		From:        from,
		To:          to,
		Value:       value,
		Logs:        tx.logs,
	}
	c.logger.Debug("block committed",
		slog.Uint64("number", block.Number),
		slog.Uint64("time", block.Time),
		slog.Int("logs", len(tx.logs)),
	)
	for _, obs := range c.observers {
		obs(receipt)
	}
	return receipt, nil
}

func (c *Chain) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chain: panic in transaction: %v", r)
		}
	}()
	return fn()
}

func (c *Chain) nativeBalance(addr common.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) setNative(tx *txState, addr common.Address, v *big.Int) {
	prev, had := c.balances[addr]
	tx.journal.record(func() {
		if had {
			c.balances[addr] = prev
		} else {
			delete(c.balances, addr)
		}
	})
	c.balances[addr] = v
}

func (c *Chain) moveNative(tx *txState, from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 || from == to {
		return nil
	}
	bal := c.nativeBalance(from)
	if bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance.With("account", from.Hex(), "balance", bal, "required", amount)
	}
	c.setNative(tx, from, new(big.Int).Sub(bal, amount))
	c.setNative(tx, to, new(big.Int).Add(c.nativeBalance(to), amount))
	return nil
}

func (c *Chain) lookupToken(addr common.Address) (*token, error) {
	t, ok := c.tokens[addr]
	if !ok {
		return nil, domain.ErrUnknownToken.With("token", addr.Hex())
	}
	return t, nil
}

// OnCommit registers fn to be called, under the chain lock, with every
// committed receipt. fn must not call back into the chain.
func (c *Chain) OnCommit(fn func(Receipt)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// SetReceiver installs a hook that runs whenever native value is
// transferred to addr by a contract. A nil r removes the hook.
func (c *Chain) SetReceiver(addr common.Address, r Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == nil {
		delete(c.receivers, addr)
		return
	}
	c.receivers[addr] = r
}

// DeployToken creates a fungible token at a deterministic address derived
// from its symbol.
func (c *Chain) DeployToken(symbol string, decimals uint8) (common.Address, error) {
	addr := NewAddress("token/" + symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tokens[addr]; ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrTokenExists, symbol)
	}
	c.tokens[addr] = newToken(symbol, decimals)
	return addr, nil
}

// Fund credits native value to addr outside any transaction.
func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Add(c.nativeBalance(addr), amount)
}

// Mint credits token balance to addr outside any transaction.
func (c *Chain) Mint(tokenAddr, to common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.lookupToken(tokenAddr)
	if err != nil {
		return err
	}
	t.balances[to] = new(big.Int).Add(t.balanceOf(to), amount)
	t.supply = new(big.Int).Add(t.supply, amount)
	return nil
}

// Transfer sends native value between externally owned accounts.
func (c *Chain) Transfer(from, to common.Address, amount *big.Int) (Receipt, error) {
	return c.Execute(from, to, amount, func(*Context) error { return nil })
}

// Approve lets spender move up to amount of owner's token balance.
func (c *Chain) Approve(owner, tokenAddr, spender common.Address, amount *big.Int) (Receipt, error) {
	return c.Execute(owner, tokenAddr, nil, func(ctx *Context) error {
		return ctx.approve(tokenAddr, owner, spender, amount)
	})
}

// View runs fn under the chain lock so it observes committed state only.
func (c *Chain) View(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Head returns the latest committed block.
func (c *Chain) Head() Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// BalanceOf returns the native balance of addr.
func (c *Chain) BalanceOf(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.nativeBalance(addr))
}

// TokenBalanceOf returns the token balance of addr.
func (c *Chain) TokenBalanceOf(tokenAddr, addr common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.lookupToken(tokenAddr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.balanceOf(addr)), nil
}

// Holdings returns addr's balance of currency, native or token.
func (c *Chain) Holdings(currency, addr common.Address) (*big.Int, error) {
	if currency == NativeCurrency {
		return c.BalanceOf(addr), nil
	}
	return c.TokenBalanceOf(currency, addr)
}

// Allowance returns how much spender may still move from owner.
func (c *Chain) Allowance(tokenAddr, owner, spender common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.lookupToken(tokenAddr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.allowance(owner, spender)), nil
}

// Token describes the token deployed at addr.
func (c *Chain) Token(addr common.Address) (TokenInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.lookupToken(addr)
	if err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{Address: addr, Symbol: t.symbol, Decimals: t.decimals, Supply: new(big.Int).Set(t.supply)}, nil
}

// Logs returns up to limit committed logs with Seq > after, in order.
// A limit <= 0 returns everything after the cursor.
func (c *Chain) Logs(after uint64, limit int) []Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	if after >= uint64(len(c.logs)) {
		return nil
	}
	rest := c.logs[after:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]Log, len(rest))
	copy(out, rest)
	return out
}

// LogCount returns the Seq of the latest committed log.
func (c *Chain) LogCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.logs))
}
