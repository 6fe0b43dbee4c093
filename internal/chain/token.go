package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// token is a fungible balance table living on the chain at its own address.
type token struct {
	symbol     string
	decimals   uint8
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

func newToken(symbol string, decimals uint8) *token {
	return &token{
		symbol:     symbol,
		decimals:   decimals,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func (t *token) balanceOf(addr common.Address) *big.Int {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (t *token) allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return a
	}
	return new(big.Int)
}

func (t *token) setBalance(j *journal, addr common.Address, v *big.Int) {
	prev, had := t.balances[addr]
	j.record(func() {
		if had {
			t.balances[addr] = prev
		} else {
			delete(t.balances, addr)
		}
	})
	t.balances[addr] = v
}

func (t *token) setAllowance(j *journal, owner, spender common.Address, v *big.Int) {
	k := allowanceKey{owner, spender}
	prev, had := t.allowances[k]
	j.record(func() {
		if had {
			t.allowances[k] = prev
		} else {
			delete(t.allowances, k)
		}
	})
	t.allowances[k] = v
}

// TokenInfo describes a deployed token.
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Supply   *big.Int
}
