package registry

import (
	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

func (r *Registry) requireOwner(ctx *chain.Context) error {
	if ctx.Sender() != r.owner.Get() {
		return domain.ErrNotOwner.With("caller", ctx.Sender().Hex())
	}
	return nil
}

// SetFee changes the fee rate and recipient. Escrows already funded are
// charged whatever rate is in force when they are released.
func (r *Registry) SetFee(ctx *chain.Context, feeBps uint16, recipient common.Address) error {
	release, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	if err := r.requireOwner(ctx); err != nil {
		return err
	}
	if feeBps > MaxFeeBps {
		return domain.ErrFeeTooHigh.With("fee_bps", feeBps, "max", MaxFeeBps)
	}
	if feeBps > 0 && recipient == (common.Address{}) {
		return domain.ErrInvalidAddress.With("field", "fee_recipient")
	}
	r.feeBps.Set(ctx, feeBps)
	r.feeRecipient.Set(ctx, recipient)
	ctx.Emit(domain.FeeUpdated{FeeBps: feeBps, FeeRecipient: recipient})
	return nil
}

// SetArbiter names the dispute arbiter. The zero address disables arbiter
// actions.
func (r *Registry) SetArbiter(ctx *chain.Context, arbiter common.Address) error {
	release, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	if err := r.requireOwner(ctx); err != nil {
		return err
	}
	prev := r.arbiter.Get()
	r.arbiter.Set(ctx, arbiter)
	ctx.Emit(domain.ArbiterUpdated{Previous: prev, Arbiter: arbiter})
	return nil
}

func (r *Registry) TransferOwnership(ctx *chain.Context, owner common.Address) error {
	release, err := r.enter(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	if err := r.requireOwner(ctx); err != nil {
		return err
	}
	if owner == (common.Address{}) {
		return domain.ErrInvalidAddress.With("field", "owner")
	}
	prev := r.owner.Get()
	r.owner.Set(ctx, owner)
	ctx.Emit(domain.OwnershipTransferred{Previous: prev, Owner: owner})
	return nil
}
