package registry

import (
	"math/big"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Client submits registry operations as transactions on a chain and reads
// committed registry state. For native-currency listings it attaches the
// value each payable operation requires.
type Client struct {
	ch  *chain.Chain
	reg *Registry
}

// NewClient returns a client that submits to reg on ch.
func NewClient(ch *chain.Chain, reg *Registry) *Client {
	return &Client{ch: ch, reg: reg}
}

// Chain and Registry expose the underlying substrate and contract.
func (c *Client) Chain() *chain.Chain { return c.ch }
func (c *Client) Registry() *Registry { return c.reg }

// Send runs fn as a transaction from "from" to the registry with value
// attached.
func (c *Client) Send(from common.Address, value *big.Int, fn func(*chain.Context) error) (chain.Receipt, error) {
	return c.ch.Execute(from, c.reg.Address(), value, fn)
}

// nativeValue returns amount when the listing settles in native currency.
func (c *Client) nativeValue(id common.Hash, amount *big.Int) *big.Int {
	l, err := c.Listing(id)
	if err != nil || l.Currency != chain.NativeCurrency {
		return nil
	}
	return amount
}

// CreateListing lists an item and returns the new listing ID.
func (c *Client) CreateListing(from common.Address, metadataURI string, price *big.Int, currency common.Address, saleType domain.SaleType) (common.Hash, chain.Receipt, error) {
	var id common.Hash
	rcpt, err := c.Send(from, nil, func(ctx *chain.Context) error {
		var err error
		id, err = c.reg.CreateListing(ctx, metadataURI, price, currency, saleType)
		return err
	})
	return id, rcpt, err
}

// CancelListing withdraws an active listing. Only its seller may cancel.
func (c *Client) CancelListing(from common.Address, id common.Hash) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.CancelListing(ctx, id) })
}

// OpenAuction starts the auction for an auction listing and returns the
// auction ID.
func (c *Client) OpenAuction(from common.Address, id common.Hash, p domain.AuctionParams) (common.Hash, chain.Receipt, error) {
	var moduleID common.Hash
	rcpt, err := c.Send(from, nil, func(ctx *chain.Context) error {
		var err error
		moduleID, err = c.reg.OpenAuction(ctx, id, p)
		return err
	})
	return moduleID, rcpt, err
}

// OpenRaffle starts the raffle for a raffle listing. commitment is the
// hash of the seller's reveal and must be non-zero.
func (c *Client) OpenRaffle(from common.Address, id common.Hash, p domain.RaffleParams, commitment common.Hash) (common.Hash, chain.Receipt, error) {
	var moduleID common.Hash
	rcpt, err := c.Send(from, nil, func(ctx *chain.Context) error {
		var err error
		moduleID, err = c.reg.OpenRaffle(ctx, id, p, commitment)
		return err
	})
	return moduleID, rcpt, err
}

// Bid places a bid of amount. On a native-currency listing amount is
// attached as value; token bids are pulled from the bidder's allowance.
func (c *Client) Bid(from common.Address, id common.Hash, amount *big.Int) (chain.Receipt, error) {
	return c.Send(from, c.nativeValue(id, amount), func(ctx *chain.Context) error {
		return c.reg.Bid(ctx, id, amount)
	})
}

// EnterRaffle buys count entries. The quoted cost is attached as value on
// native-currency listings. A failed quote sends no value and lets the
// registry report the error.
func (c *Client) EnterRaffle(from common.Address, id common.Hash, count uint64) (chain.Receipt, error) {
	var value *big.Int
	if cost, err := c.Quote(id, count); err == nil {
		value = c.nativeValue(id, cost)
	}
	return c.Send(from, value, func(ctx *chain.Context) error {
		return c.reg.EnterRaffle(ctx, id, count)
	})
}

// CloseAuction settles an auction whose end time has passed.
func (c *Client) CloseAuction(from common.Address, id common.Hash) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.CloseAuction(ctx, id) })
}

// CloseRaffle reveals the seller's secret and draws the winner.
func (c *Client) CloseRaffle(from common.Address, id, reveal common.Hash) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.CloseRaffle(ctx, id, reveal) })
}

// Buy purchases a fixed-price listing, attaching its price as value when
// it settles in native currency.
func (c *Client) Buy(from common.Address, id common.Hash) (chain.Receipt, error) {
	var value *big.Int
	if l, err := c.Listing(id); err == nil {
		value = c.nativeValue(id, l.Price)
	}
	return c.Send(from, value, func(ctx *chain.Context) error { return c.reg.Buy(ctx, id) })
}

// ConfirmDelivery releases escrow to the seller. Buyer only.
func (c *Client) ConfirmDelivery(from common.Address, id common.Hash) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.ConfirmDelivery(ctx, id) })
}

func (c *Client) RequestRefund(from common.Address, id common.Hash) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.RequestRefund(ctx, id) })
}

// ArbiterRelease and ArbiterRefund resolve a disputed escrow.
func (c *Client) ArbiterRelease(from common.Address, id common.Hash) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.ArbiterRelease(ctx, id) })
}

func (c *Client) ArbiterRefund(from common.Address, id common.Hash) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.ArbiterRefund(ctx, id) })
}

// withdrawal runs a withdrawal operation and captures the amount paid.
func (c *Client) withdrawal(from common.Address, fn func(*chain.Context) (*big.Int, error)) (*big.Int, chain.Receipt, error) {
	var paid *big.Int
	rcpt, err := c.Send(from, nil, func(ctx *chain.Context) error {
		var err error
		paid, err = fn(ctx)
		return err
	})
	return paid, rcpt, err
}

// WithdrawPayout pays out from's accrued credit in currency.
func (c *Client) WithdrawPayout(from, currency common.Address) (*big.Int, chain.Receipt, error) {
	return c.withdrawal(from, func(ctx *chain.Context) (*big.Int, error) { return c.reg.WithdrawPayout(ctx, currency) })
}

func (c *Client) WithdrawFees(from, currency common.Address) (*big.Int, chain.Receipt, error) {
	return c.withdrawal(from, func(ctx *chain.Context) (*big.Int, error) { return c.reg.WithdrawFees(ctx, currency) })
}

func (c *Client) WithdrawAuctionRefund(from common.Address, id common.Hash) (*big.Int, chain.Receipt, error) {
	return c.withdrawal(from, func(ctx *chain.Context) (*big.Int, error) { return c.reg.WithdrawAuctionRefund(ctx, id) })
}

func (c *Client) WithdrawRaffleRefund(from common.Address, id common.Hash) (*big.Int, chain.Receipt, error) {
	return c.withdrawal(from, func(ctx *chain.Context) (*big.Int, error) { return c.reg.WithdrawRaffleRefund(ctx, id) })
}

// SetFee, SetArbiter and TransferOwnership are owner-only.
func (c *Client) SetFee(from common.Address, feeBps uint16, recipient common.Address) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.SetFee(ctx, feeBps, recipient) })
}

func (c *Client) SetArbiter(from, arbiter common.Address) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.SetArbiter(ctx, arbiter) })
}

func (c *Client) TransferOwnership(from, owner common.Address) (chain.Receipt, error) {
	return c.Send(from, nil, func(ctx *chain.Context) error { return c.reg.TransferOwnership(ctx, owner) })
}

// ApprovePayments lets the registry pull up to amount of token from owner.
func (c *Client) ApprovePayments(owner, token common.Address, amount *big.Int) (chain.Receipt, error) {
	return c.ch.Approve(owner, token, c.reg.Address(), amount)
}

// Committed-state reads.

// Listing returns the committed listing.
func (c *Client) Listing(id common.Hash) (l domain.Listing, err error) {
	c.ch.View(func() { l, err = c.reg.Listing(id) })
	return l, err
}

// Escrow returns the escrow backing a sold listing.
func (c *Client) Escrow(listingID common.Hash) (e domain.Escrow, err error) {
	c.ch.View(func() {
		var l domain.Listing
		if l, err = c.reg.Listing(listingID); err != nil {
			return
		}
		e, err = c.reg.Vault().GetEscrow(l.EscrowID)
	})
	return e, err
}

func (c *Client) Auction(listingID common.Hash) (a domain.Auction, err error) {
	c.ch.View(func() { a, err = c.reg.Auctions().GetAuction(AuctionID(listingID)) })
	return a, err
}

func (c *Client) Raffle(listingID common.Hash) (r domain.Raffle, err error) {
	c.ch.View(func() { r, err = c.reg.Raffles().GetRaffle(RaffleID(listingID)) })
	return r, err
}

// Quote returns the cost of count raffle entries.
func (c *Client) Quote(listingID common.Hash, count uint64) (q *big.Int, err error) {
	c.ch.View(func() { q, err = c.reg.Raffles().QuoteEntry(RaffleID(listingID), count) })
	return q, err
}

// CreditOf returns recipient's withdrawable balance in currency.
func (c *Client) CreditOf(recipient, currency common.Address) (v *big.Int) {
	c.ch.View(func() { v = c.reg.Vault().CreditOf(recipient, currency) })
	return v
}

func (c *Client) AuctionRefund(listingID common.Hash, bidder common.Address) (v *big.Int) {
	c.ch.View(func() { v = c.reg.Auctions().RefundAvailable(AuctionID(listingID), bidder) })
	return v
}

func (c *Client) RaffleRefund(listingID common.Hash, buyer common.Address) (v *big.Int) {
	c.ch.View(func() { v = c.reg.Raffles().RefundAvailable(RaffleID(listingID), buyer) })
	return v
}

// Settings is a snapshot of the registry's admin parameters.
type Settings struct {
	Owner        common.Address
	Arbiter      common.Address
	FeeRecipient common.Address
	FeeBps       uint16
}

func (c *Client) Settings() (s Settings) {
	c.ch.View(func() {
		s = Settings{Owner: c.reg.Owner(), Arbiter: c.reg.Arbiter(), FeeRecipient: c.reg.FeeRecipient(), FeeBps: c.reg.FeeBps()}
	})
	return s
}

// LastListingIDOf returns the most recent listing created by seller.
func (c *Client) LastListingIDOf(seller common.Address) (id common.Hash) {
	c.ch.View(func() { id = c.reg.LastListingIDOf(seller) })
	return id
}
