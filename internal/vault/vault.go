// Package vault implements the escrow vault: custody of funds in flight,
// single-use escrow records and a pull-payment credit ledger keyed by
// (recipient, currency). Every mutation is gated on the configured
// controller.
package vault

import (
	"math/big"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type creditKey struct {
	recipient common.Address
	currency  common.Address
}

// Vault is the escrow vault component deployed at a fixed address.
type Vault struct {
	addr       common.Address
	controller common.Address

	escrows   *chain.Map[common.Hash, domain.Escrow]
	credits   *chain.Map[creditKey, *big.Int]
	custodied *chain.Map[common.Address, *big.Int]
	paidOut   *chain.Map[common.Address, *big.Int]
	guard     chain.Guard
}

// New creates a vault at addr that only controller may mutate.
func New(addr, controller common.Address) (*Vault, error) {
	if addr == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "vault")
	}
	if controller == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "controller")
	}
	return &Vault{
		addr:       addr,
		controller: controller,
		escrows:    chain.NewMap[common.Hash, domain.Escrow](),
		credits:    chain.NewMap[creditKey, *big.Int](),
		custodied:  chain.NewMap[common.Address, *big.Int](),
		paidOut:    chain.NewMap[common.Address, *big.Int](),
	}, nil
}

// Address is where the vault runs and holds custody.
func (v *Vault) Address() common.Address { return v.addr }

// Controller is the only account allowed to mutate the vault.
func (v *Vault) Controller() common.Address { return v.controller }

func (v *Vault) enter(ctx *chain.Context) (func(), error) {
	if err := ctx.Expect(v.addr); err != nil {
		return nil, err
	}
	if ctx.Sender() != v.controller {
		return nil, domain.ErrNotController.With("caller", ctx.Sender().Hex())
	}
	return v.guard.Enter()
}

// CreateEscrow takes amount of currency from payer into custody and records
// a Funded escrow under id.
func (v *Vault) CreateEscrow(ctx *chain.Context, id common.Hash, payer, buyer, seller, currency common.Address, amount *big.Int) error {
	release, err := v.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if v.escrows.Has(id) {
		return domain.ErrEscrowExists.With("id", id.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount.With("field", "amount")
	}
	if buyer == (common.Address{}) {
		return domain.ErrInvalidAddress.With("field", "buyer")
	}
	if seller == (common.Address{}) {
		return domain.ErrInvalidAddress.With("field", "seller")
	}
	if err := ctx.Collect(currency, payer, amount); err != nil {
		return err
	}

	v.escrows.Put(ctx, id, domain.Escrow{
		ID:       id,
		Buyer:    buyer,
		Seller:   seller,
		Currency: currency,
		Amount:   new(big.Int).Set(amount),
		Status:   domain.EscrowFunded,
	})
	v.custodied.Put(ctx, currency, new(big.Int).Add(v.TotalCustodied(currency), amount))
	ctx.Emit(domain.EscrowCreated{EscrowID: id, Buyer: buyer, Seller: seller, Currency: currency, Amount: new(big.Int).Set(amount)})
	return nil
}

// Release splits a funded escrow between the seller and the fee recipient
// as credits.
func (v *Vault) Release(ctx *chain.Context, id common.Hash, feeRecipient common.Address, feeBps uint16) error {
	release, err := v.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	esc, err := v.funded(id)
	if err != nil {
		return err
	}
	if feeBps > domain.MaxBps {
		return domain.ErrFeeTooHigh.With("fee_bps", feeBps)
	}
	fee, toSeller := domain.FeeSplit(esc.Amount, feeBps)
	if fee.Sign() > 0 && feeRecipient == (common.Address{}) {
		return domain.ErrInvalidAddress.With("field", "fee_recipient")
	}

	esc.Status = domain.EscrowReleased
	v.escrows.Put(ctx, id, esc)
	v.credit(ctx, esc.Seller, esc.Currency, toSeller)
	ctx.Emit(domain.EscrowReleasedEvent{EscrowID: id, SellerAmount: toSeller, Fee: fee})
	if fee.Sign() > 0 {
		v.credit(ctx, feeRecipient, esc.Currency, fee)
		ctx.Emit(domain.FeePaid{EscrowID: id, Recipient: feeRecipient, Currency: esc.Currency, Amount: fee})
	}
	return nil
}

// Refund credits the buyer with the full escrow amount.
func (v *Vault) Refund(ctx *chain.Context, id common.Hash) error {
	release, err := v.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	esc, err := v.funded(id)
	if err != nil {
		return err
	}
	esc.Status = domain.EscrowRefunded
	v.escrows.Put(ctx, id, esc)
	v.credit(ctx, esc.Buyer, esc.Currency, esc.Amount)
	ctx.Emit(domain.EscrowRefundedEvent{EscrowID: id, Buyer: esc.Buyer, Amount: new(big.Int).Set(esc.Amount)})
	return nil
}

// Withdraw pays out recipient's whole credit in currency. The credit is
// cleared before the transfer is made.
func (v *Vault) Withdraw(ctx *chain.Context, currency, recipient common.Address) (*big.Int, error) {
	release, err := v.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	k := creditKey{recipient: recipient, currency: currency}
	owed, ok := v.credits.Get(k)
	if !ok || owed.Sign() == 0 {
		return nil, domain.ErrNothingToWithdraw.With("recipient", recipient.Hex(), "currency", currency.Hex())
	}
	v.credits.Delete(ctx, k)
	v.paidOut.Put(ctx, currency, new(big.Int).Add(v.TotalPaidOut(currency), owed))
	if err := ctx.Pay(currency, recipient, owed); err != nil {
		return nil, err
	}
	ctx.Emit(domain.Withdrawn{Recipient: recipient, Currency: currency, Amount: new(big.Int).Set(owed)})
	return new(big.Int).Set(owed), nil
}

func (v *Vault) funded(id common.Hash) (domain.Escrow, error) {
	esc, ok := v.escrows.Get(id)
	if !ok {
		return domain.Escrow{}, domain.ErrEscrowNotFound.With("id", id.Hex())
	}
	if !esc.Status.CanTransition(domain.EscrowReleased) {
		return domain.Escrow{}, domain.ErrEscrowNotFunded.With("id", id.Hex(), "status", esc.Status.String())
	}
	return esc, nil
}

func (v *Vault) credit(ctx *chain.Context, recipient, currency common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	k := creditKey{recipient: recipient, currency: currency}
	v.credits.Put(ctx, k, new(big.Int).Add(v.CreditOf(recipient, currency), amount))
}

// CreditOf returns what recipient may withdraw in currency.
func (v *Vault) CreditOf(recipient, currency common.Address) *big.Int {
	if c, ok := v.credits.Get(creditKey{recipient: recipient, currency: currency}); ok {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

// GetEscrow returns the escrow recorded under id.
func (v *Vault) GetEscrow(id common.Hash) (domain.Escrow, error) {
	esc, ok := v.escrows.Get(id)
	if !ok {
		return domain.Escrow{}, domain.ErrEscrowNotFound.With("id", id.Hex())
	}
	return esc, nil
}

// TotalCustodied is every amount ever taken into custody in currency.
func (v *Vault) TotalCustodied(currency common.Address) *big.Int {
	if c, ok := v.custodied.Get(currency); ok {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

// TotalPaidOut is every amount ever withdrawn in currency.
func (v *Vault) TotalPaidOut(currency common.Address) *big.Int {
	if p, ok := v.paidOut.Get(currency); ok {
		return new(big.Int).Set(p)
	}
	return new(big.Int)
}

// OutstandingCredits sums all unwithdrawn credits in currency.
func (v *Vault) OutstandingCredits(currency common.Address) *big.Int {
	sum := new(big.Int)
	v.credits.Range(func(k creditKey, amt *big.Int) bool {
		if k.currency == currency {
			sum.Add(sum, amt)
		}
		return true
	})
	return sum
}
