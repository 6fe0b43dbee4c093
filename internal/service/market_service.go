// Package service sits between the HTTP API and the protocol. MarketService
// submits registry operations as transactions for an authenticated caller;
// Catalog answers read queries from the projection or the chain.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/metrics"
	"github.com/alanyoungcy/bazaar/internal/registry"
	"github.com/ethereum/go-ethereum/common"
)

// TxResult summarizes a committed transaction for API callers.
type TxResult struct {
	TxHash      string   `json:"tx_hash"`
	BlockNumber uint64   `json:"block_number"`
	BlockTime   uint64   `json:"block_time"`
	Events      []string `json:"events"`
	ListingID   string   `json:"listing_id,omitempty"`
	ModuleID    string   `json:"module_id,omitempty"`
	Amount      string   `json:"amount,omitempty"`
}

func resultOf(rcpt chain.Receipt) TxResult {
	names := make([]string, 0, len(rcpt.Logs))
	for _, l := range rcpt.Logs {
		names = append(names, l.Name())
	}
	return TxResult{
		TxHash:      rcpt.TxHash.Hex(),
		BlockNumber: rcpt.BlockNumber,
		BlockTime:   rcpt.BlockTime,
		Events:      names,
	}
}

// CreateListingInput carries the arguments of a new listing.
type CreateListingInput struct {
	MetadataURI string
	Price       *big.Int
	Currency    common.Address
	SaleType    domain.SaleType
}

// MarketService submits registry transactions on behalf of callers. Every
// submission is counted in metrics by outcome and, when it commits, written
// to the audit log.
type MarketService struct {
	client       *registry.Client
	audit        domain.AuditStore
	metrics      *metrics.Metrics
	faucetAmount *big.Int
	faucetTokens []common.Address
	logger       *slog.Logger
}

// NewMarketService creates a MarketService. audit and m may be nil.
func NewMarketService(
	client *registry.Client,
	audit domain.AuditStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		client:  client,
		audit:   audit,
		metrics: m,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// WithFaucet enables Faucet, which credits amount of native value and of
// each listed token.
func (s *MarketService) WithFaucet(amount *big.Int, tokens []common.Address) *MarketService {
	s.faucetAmount = new(big.Int).Set(amount)
	s.faucetTokens = append([]common.Address(nil), tokens...)
	return s
}

// Client exposes the underlying registry client for reads.
func (s *MarketService) Client() *registry.Client { return s.client }

// submit runs one transaction and records its outcome.
func (s *MarketService) submit(
	ctx context.Context,
	op string,
	from common.Address,
	detail map[string]any,
	fn func() (chain.Receipt, error),
) (TxResult, error) {
	if err := ctx.Err(); err != nil {
		return TxResult{}, fmt.Errorf("market_service: %s: %w", op, err)
	}

	rcpt, err := fn()
	entry := auditEntry(op, from, detail)
	if err != nil {
		kind := domain.KindOf(err)
		s.metrics.ObserveTx(op, kind.String())
		s.logger.InfoContext(ctx, "market_service: transaction reverted",
			slog.String("op", op),
			slog.String("from", from.Hex()),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		entry.Outcome = domain.AuditReverted
		entry.ErrorCode = domain.CodeOf(err)
		s.record(ctx, entry)
		return TxResult{}, fmt.Errorf("market_service: %s: %w", op, err)
	}
	s.metrics.ObserveTx(op, "ok")

	res := resultOf(rcpt)
	s.logger.DebugContext(ctx, "market_service: transaction committed",
		slog.String("op", op),
		slog.String("from", from.Hex()),
		slog.String("tx", res.TxHash),
		slog.Uint64("block", res.BlockNumber),
	)

	entry.Outcome = domain.AuditCommitted
	entry.TxHash = rcpt.TxHash
	entry.Block = rcpt.BlockNumber
	s.record(ctx, entry)
	return res, nil
}

// auditEntry starts the audit row of op. A "listing_id" in detail moves to
// its own column.
func auditEntry(op string, from common.Address, detail map[string]any) domain.AuditEntry {
	e := domain.AuditEntry{Op: op, Caller: from}
	if id, ok := detail["listing_id"].(string); ok {
		e.ListingID = id
	}
	for k, v := range detail {
		if k == "listing_id" {
			continue
		}
		if e.Detail == nil {
			e.Detail = make(map[string]any, len(detail))
		}
		e.Detail[k] = v
	}
	return e
}

// record writes e to the audit log. Failures are logged, never returned.
func (s *MarketService) record(ctx context.Context, e domain.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit record failed",
			slog.String("op", e.Op),
			slog.String("outcome", string(e.Outcome)),
			slog.String("error", err.Error()),
		)
	}
}

// CreateListing lists an item for sale and returns its id.
func (s *MarketService) CreateListing(ctx context.Context, from common.Address, in CreateListingInput) (TxResult, error) {
	var id common.Hash
	detail := map[string]any{
		"sale_type": in.SaleType.String(),
		"price":     amountString(in.Price),
		"currency":  in.Currency.Hex(),
	}
	res, err := s.submit(ctx, "create_listing", from, detail, func() (chain.Receipt, error) {
		var rcpt chain.Receipt
		var err error
		id, rcpt, err = s.client.CreateListing(from, in.MetadataURI, in.Price, in.Currency, in.SaleType)
		if err == nil {
			detail["listing_id"] = id.Hex()
		}
		return rcpt, err
	})
	if err != nil {
		return TxResult{}, err
	}
	res.ListingID = id.Hex()
	return res, nil
}

func (s *MarketService) CancelListing(ctx context.Context, from common.Address, id common.Hash) (TxResult, error) {
	return s.submit(ctx, "cancel_listing", from, listingDetail(id), func() (chain.Receipt, error) {
		return s.client.CancelListing(from, id)
	})
}

// OpenAuction opens the auction record of an auction listing.
func (s *MarketService) OpenAuction(ctx context.Context, from common.Address, id common.Hash, p domain.AuctionParams) (TxResult, error) {
	var moduleID common.Hash
	res, err := s.submit(ctx, "open_auction", from, listingDetail(id), func() (chain.Receipt, error) {
		var rcpt chain.Receipt
		var err error
		moduleID, rcpt, err = s.client.OpenAuction(from, id, p)
		return rcpt, err
	})
	if err != nil {
		return TxResult{}, err
	}
	res.ListingID, res.ModuleID = id.Hex(), moduleID.Hex()
	return res, nil
}

// OpenRaffle opens the raffle record of a raffle listing with the seller's
// commitment.
func (s *MarketService) OpenRaffle(ctx context.Context, from common.Address, id common.Hash, p domain.RaffleParams, commitment common.Hash) (TxResult, error) {
	var moduleID common.Hash
	res, err := s.submit(ctx, "open_raffle", from, listingDetail(id), func() (chain.Receipt, error) {
		var rcpt chain.Receipt
		var err error
		moduleID, rcpt, err = s.client.OpenRaffle(from, id, p, commitment)
		return rcpt, err
	})
	if err != nil {
		return TxResult{}, err
	}
	res.ListingID, res.ModuleID = id.Hex(), moduleID.Hex()
	return res, nil
}

func (s *MarketService) Bid(ctx context.Context, from common.Address, id common.Hash, amount *big.Int) (TxResult, error) {
	d := listingDetail(id)
	d["amount"] = amountString(amount)
	return s.submit(ctx, "bid", from, d, func() (chain.Receipt, error) {
		return s.client.Bid(from, id, amount)
	})
}

func (s *MarketService) EnterRaffle(ctx context.Context, from common.Address, id common.Hash, tickets uint64) (TxResult, error) {
	d := listingDetail(id)
	d["tickets"] = tickets
	return s.submit(ctx, "enter_raffle", from, d, func() (chain.Receipt, error) {
		return s.client.EnterRaffle(from, id, tickets)
	})
}

func (s *MarketService) CloseAuction(ctx context.Context, from common.Address, id common.Hash) (TxResult, error) {
	return s.submit(ctx, "close_auction", from, listingDetail(id), func() (chain.Receipt, error) {
		return s.client.CloseAuction(from, id)
	})
}

func (s *MarketService) CloseRaffle(ctx context.Context, from common.Address, id, reveal common.Hash) (TxResult, error) {
	return s.submit(ctx, "close_raffle", from, listingDetail(id), func() (chain.Receipt, error) {
		return s.client.CloseRaffle(from, id, reveal)
	})
}

func (s *MarketService) Buy(ctx context.Context, from common.Address, id common.Hash) (TxResult, error) {
	return s.submit(ctx, "buy", from, listingDetail(id), func() (chain.Receipt, error) {
		return s.client.Buy(from, id)
	})
}

func (s *MarketService) ConfirmDelivery(ctx context.Context, from common.Address, id common.Hash) (TxResult, error) {
	return s.submit(ctx, "confirm_delivery", from, listingDetail(id), func() (chain.Receipt, error) {
		return s.client.ConfirmDelivery(from, id)
	})
}

func (s *MarketService) RequestRefund(ctx context.Context, from common.Address, id common.Hash) (TxResult, error) {
	return s.submit(ctx, "request_refund", from, listingDetail(id), func() (chain.Receipt, error) {
		return s.client.RequestRefund(from, id)
	})
}

func (s *MarketService) ArbiterRelease(ctx context.Context, from common.Address, id common.Hash) (TxResult, error) {
	return s.submit(ctx, "arbiter_release", from, listingDetail(id), func() (chain.Receipt, error) {
		return s.client.ArbiterRelease(from, id)
	})
}

func (s *MarketService) ArbiterRefund(ctx context.Context, from common.Address, id common.Hash) (TxResult, error) {
	return s.submit(ctx, "arbiter_refund", from, listingDetail(id), func() (chain.Receipt, error) {
		return s.client.ArbiterRefund(from, id)
	})
}

// withdrawal submits a pull-payment and reports the amount paid.
func (s *MarketService) withdrawal(
	ctx context.Context,
	op string,
	from common.Address,
	detail map[string]any,
	fn func() (*big.Int, chain.Receipt, error),
) (TxResult, error) {
	var paid *big.Int
	res, err := s.submit(ctx, op, from, detail, func() (chain.Receipt, error) {
		var rcpt chain.Receipt
		var err error
		paid, rcpt, err = fn()
		return rcpt, err
	})
	if err != nil {
		return TxResult{}, err
	}
	res.Amount = amountString(paid)
	return res, nil
}

// WithdrawPayout pays the caller's vault credit in currency.
func (s *MarketService) WithdrawPayout(ctx context.Context, from, currency common.Address) (TxResult, error) {
	return s.withdrawal(ctx, "withdraw_payout", from, map[string]any{"currency": currency.Hex()},
		func() (*big.Int, chain.Receipt, error) { return s.client.WithdrawPayout(from, currency) })
}

// WithdrawFees pays accrued protocol fees in currency to the fee recipient.
func (s *MarketService) WithdrawFees(ctx context.Context, from, currency common.Address) (TxResult, error) {
	return s.withdrawal(ctx, "withdraw_fees", from, map[string]any{"currency": currency.Hex()},
		func() (*big.Int, chain.Receipt, error) { return s.client.WithdrawFees(from, currency) })
}

// WithdrawAuctionRefund pays the caller's outbid refunds on a listing.
func (s *MarketService) WithdrawAuctionRefund(ctx context.Context, from common.Address, id common.Hash) (TxResult, error) {
	return s.withdrawal(ctx, "withdraw_auction_refund", from, listingDetail(id),
		func() (*big.Int, chain.Receipt, error) { return s.client.WithdrawAuctionRefund(from, id) })
}

// WithdrawRaffleRefund pays back the caller's tickets on a failed raffle.
func (s *MarketService) WithdrawRaffleRefund(ctx context.Context, from common.Address, id common.Hash) (TxResult, error) {
	return s.withdrawal(ctx, "withdraw_raffle_refund", from, listingDetail(id),
		func() (*big.Int, chain.Receipt, error) { return s.client.WithdrawRaffleRefund(from, id) })
}

func (s *MarketService) SetFee(ctx context.Context, from common.Address, feeBps uint16, recipient common.Address) (TxResult, error) {
	return s.submit(ctx, "set_fee", from, map[string]any{"fee_bps": feeBps, "recipient": recipient.Hex()},
		func() (chain.Receipt, error) { return s.client.SetFee(from, feeBps, recipient) })
}

func (s *MarketService) SetArbiter(ctx context.Context, from, arbiter common.Address) (TxResult, error) {
	return s.submit(ctx, "set_arbiter", from, map[string]any{"arbiter": arbiter.Hex()},
		func() (chain.Receipt, error) { return s.client.SetArbiter(from, arbiter) })
}

func (s *MarketService) TransferOwnership(ctx context.Context, from, owner common.Address) (TxResult, error) {
	return s.submit(ctx, "transfer_ownership", from, map[string]any{"owner": owner.Hex()},
		func() (chain.Receipt, error) { return s.client.TransferOwnership(from, owner) })
}

// ApprovePayments lets the registry pull up to amount of token from the
// caller, which token-denominated bids, entries and purchases require.
func (s *MarketService) ApprovePayments(ctx context.Context, from, token common.Address, amount *big.Int) (TxResult, error) {
	return s.submit(ctx, "approve", from, map[string]any{"token": token.Hex(), "amount": amountString(amount)},
		func() (chain.Receipt, error) { return s.client.ApprovePayments(from, token, amount) })
}

// ErrFaucetDisabled is returned by Faucet when no faucet amount is set.
var ErrFaucetDisabled = errors.New("market_service: faucet disabled")

// Faucet credits the configured amount of native value and of every faucet
// token to addr. It is a development aid and is not a transaction.
func (s *MarketService) Faucet(ctx context.Context, addr common.Address) (*big.Int, error) {
	if s.faucetAmount == nil {
		return nil, ErrFaucetDisabled
	}
	if addr == (common.Address{}) {
		return nil, domain.ErrInvalidAddress.With("field", "address")
	}
	ch := s.client.Chain()
	ch.Fund(addr, s.faucetAmount)
	for _, tok := range s.faucetTokens {
		if err := ch.Mint(tok, addr, s.faucetAmount); err != nil {
			return nil, fmt.Errorf("market_service: faucet mint %s: %w", tok.Hex(), err)
		}
	}
	s.logger.InfoContext(ctx, "market_service: faucet credited",
		slog.String("address", addr.Hex()),
		slog.String("amount", s.faucetAmount.String()),
	)
	return new(big.Int).Set(s.faucetAmount), nil
}

func listingDetail(id common.Hash) map[string]any {
	return map[string]any{"listing_id": id.Hex()}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
