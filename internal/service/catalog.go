package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/registry"
	"github.com/ethereum/go-ethereum/common"
)

// ErrProjectionUnavailable is returned by queries that need the indexer's
// projection when the node runs without one.
var ErrProjectionUnavailable = errors.New("service: projection unavailable")

// AuctionView is the committed state of an auction in transport form.
type AuctionView struct {
	ID               string `json:"id"`
	Phase            string `json:"phase"`
	Currency         string `json:"currency"`
	StartTime        uint64 `json:"start_time"`
	EndTime          uint64 `json:"end_time"`
	ExtensionWindow  uint64 `json:"extension_window"`
	ExtensionSeconds uint64 `json:"extension_seconds"`
	ReservePrice     string `json:"reserve_price"`
	MinBidIncrement  string `json:"min_bid_increment"`
	HighestBidder    string `json:"highest_bidder,omitempty"`
	HighestBid       string `json:"highest_bid"`
	MinimumBid       string `json:"minimum_bid"`
	Winner           string `json:"winner,omitempty"`
	WinningBid       string `json:"winning_bid,omitempty"`
}

// RaffleView is the committed state of a raffle in transport form.
type RaffleView struct {
	ID               string `json:"id"`
	Phase            string `json:"phase"`
	Currency         string `json:"currency"`
	StartTime        uint64 `json:"start_time"`
	EndTime          uint64 `json:"end_time"`
	TicketPrice      string `json:"ticket_price"`
	TargetAmount     string `json:"target_amount"`
	MinParticipants  uint64 `json:"min_participants"`
	ParticipantCount uint64 `json:"participant_count"`
	TotalTickets     uint64 `json:"total_tickets"`
	Raised           string `json:"raised"`
	Winner           string `json:"winner,omitempty"`
}

// AccountView is what an address holds and is owed in one currency.
type AccountView struct {
	Address       string `json:"address"`
	Currency      string `json:"currency"`
	Balance       string `json:"balance"`
	Credit        string `json:"credit"`
	AuctionRefund string `json:"auction_refund,omitempty"`
	RaffleRefund  string `json:"raffle_refund,omitempty"`
}

// SettingsView is the registry's admin configuration.
type SettingsView struct {
	Registry     string `json:"registry"`
	Owner        string `json:"owner"`
	Arbiter      string `json:"arbiter"`
	FeeRecipient string `json:"fee_recipient"`
	FeeBps       uint16 `json:"fee_bps"`
	HeadBlock    uint64 `json:"head_block"`
	HeadTime     uint64 `json:"head_time"`
}

// Catalog answers read queries. Listing lookups go cache, projection store,
// then chain; enumeration and event history need the projection.
type Catalog struct {
	client   *registry.Client
	listings domain.ListingStore
	events   domain.EventStore
	cache    domain.ListingCache
	logger   *slog.Logger
}

// NewCatalog creates a Catalog that reads committed chain state only.
func NewCatalog(client *registry.Client, logger *slog.Logger) *Catalog {
	return &Catalog{
		client: client,
		logger: logger.With(slog.String("component", "catalog")),
	}
}

// WithProjection attaches the indexer's stores. cache may be nil.
func (c *Catalog) WithProjection(listings domain.ListingStore, events domain.EventStore, cache domain.ListingCache) *Catalog {
	c.listings, c.events, c.cache = listings, events, cache
	return c
}

// HasProjection reports whether projection queries are served.
func (c *Catalog) HasProjection() bool { return c.listings != nil }

// Listing returns the view of a listing.
func (c *Catalog) Listing(ctx context.Context, id common.Hash) (domain.ListingView, error) {
	key := id.Hex()
	if c.cache != nil {
		if v, err := c.cache.Get(ctx, key); err == nil {
			return v, nil
		}
	}
	if c.listings != nil {
		v, err := c.listings.GetByID(ctx, key)
		switch {
		case err == nil:
			if c.cache != nil {
				if cacheErr := c.cache.Set(ctx, v); cacheErr != nil {
					c.logger.WarnContext(ctx, "catalog: cache set failed",
						slog.String("listing_id", key),
						slog.String("error", cacheErr.Error()),
					)
				}
			}
			return v, nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.ListingView{}, fmt.Errorf("catalog: get listing %s: %w", key, err)
		}
		// The indexer may trail the chain; fall through.
	}
	return c.ChainListing(id)
}

// ChainListing builds the view of a listing from committed chain state.
func (c *Catalog) ChainListing(id common.Hash) (domain.ListingView, error) {
	l, err := c.client.Listing(id)
	if err != nil {
		return domain.ListingView{}, err
	}
	v := domain.ListingView{
		ID:          l.ID.Hex(),
		Seller:      l.Seller.Hex(),
		SaleType:    l.SaleType.String(),
		Status:      l.Status.String(),
		MetadataURI: l.MetadataURI,
		Price:       amountString(l.Price),
		Currency:    l.Currency.Hex(),
		StartTime:   l.StartTime,
		EndTime:     l.EndTime,
	}
	if l.Buyer != (common.Address{}) {
		v.Buyer = l.Buyer.Hex()
	}
	if l.HasModule() {
		v.ModuleID = l.ModuleID.Hex()
	}
	if l.EscrowID != (common.Hash{}) {
		v.EscrowID = l.EscrowID.Hex()
		if e, err := c.client.Escrow(id); err == nil {
			v.EscrowStatus = e.Status.String()
			v.EscrowAmount = amountString(e.Amount)
		}
	}
	switch l.SaleType {
	case domain.SaleAuction:
		if a, err := c.client.Auction(id); err == nil && l.HasModule() {
			if a.HasBid() {
				v.HighestBidder, v.HighestBid = a.HighestBidder.Hex(), amountString(a.HighestBid)
			}
			v.EndTime = a.EndTime
			if a.Winner != (common.Address{}) {
				v.Winner = a.Winner.Hex()
			}
		}
	case domain.SaleRaffle:
		if r, err := c.client.Raffle(id); err == nil && l.HasModule() {
			v.TotalTickets, v.Raised = r.TotalTickets, amountString(r.Raised)
			if r.Winner != (common.Address{}) {
				v.Winner = r.Winner.Hex()
			}
		}
	}
	return v, nil
}

// List enumerates projected listings.
func (c *Catalog) List(ctx context.Context, filter domain.ListingFilter) ([]domain.ListingView, error) {
	if c.listings == nil {
		return nil, ErrProjectionUnavailable
	}
	out, err := c.listings.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("catalog: list listings: %w", err)
	}
	return out, nil
}

// Events returns the projected event history of a listing, oldest first.
func (c *Catalog) Events(ctx context.Context, id common.Hash, opts domain.ListOpts) ([]domain.EventRecord, error) {
	if c.events == nil {
		return nil, ErrProjectionUnavailable
	}
	out, err := c.events.ListByListing(ctx, id.Hex(), opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: list events %s: %w", id.Hex(), err)
	}
	return out, nil
}

// RecentEvents returns projected events after seq, optionally filtered by
// name.
func (c *Catalog) RecentEvents(ctx context.Context, filter domain.EventFilter) ([]domain.EventRecord, error) {
	if c.events == nil {
		return nil, ErrProjectionUnavailable
	}
	out, err := c.events.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("catalog: list events: %w", err)
	}
	return out, nil
}

// Auction returns the auction record of a listing.
func (c *Catalog) Auction(id common.Hash) (AuctionView, error) {
	a, err := c.client.Auction(id)
	if err != nil {
		return AuctionView{}, err
	}
	v := AuctionView{
		ID:               a.ID.Hex(),
		Phase:            a.Phase().String(),
		Currency:         a.Currency.Hex(),
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		ExtensionWindow:  a.ExtensionWindow,
		ExtensionSeconds: a.ExtensionSeconds,
		ReservePrice:     amountString(a.ReservePrice),
		MinBidIncrement:  amountString(a.MinBidIncrement),
		HighestBid:       amountString(a.HighestBid),
		MinimumBid:       amountString(a.MinimumBid()),
	}
	if a.HasBid() {
		v.HighestBidder = a.HighestBidder.Hex()
	}
	if a.Closed && a.Winner != (common.Address{}) {
		v.Winner, v.WinningBid = a.Winner.Hex(), amountString(a.WinningBid)
	}
	return v, nil
}

// Raffle returns the raffle record of a listing.
func (c *Catalog) Raffle(id common.Hash) (RaffleView, error) {
	r, err := c.client.Raffle(id)
	if err != nil {
		return RaffleView{}, err
	}
	v := RaffleView{
		ID:               r.ID.Hex(),
		Phase:            r.Phase().String(),
		Currency:         r.Currency.Hex(),
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		TicketPrice:      amountString(r.TicketPrice),
		TargetAmount:     amountString(r.TargetAmount),
		MinParticipants:  r.MinParticipants,
		ParticipantCount: r.ParticipantCount,
		TotalTickets:     r.TotalTickets,
		Raised:           amountString(r.Raised),
	}
	if r.Winner != (common.Address{}) {
		v.Winner = r.Winner.Hex()
	}
	return v, nil
}

// Quote prices tickets on a raffle listing.
func (c *Catalog) Quote(id common.Hash, tickets uint64) (*big.Int, error) {
	return c.client.Quote(id, tickets)
}

// Account reports addr's holdings and vault credit in currency. When
// listingID is set the pending sale-module refunds on it are included.
func (c *Catalog) Account(addr, currency common.Address, listingID common.Hash) (AccountView, error) {
	bal, err := c.client.Chain().Holdings(currency, addr)
	if err != nil {
		return AccountView{}, err
	}
	v := AccountView{
		Address:  addr.Hex(),
		Currency: currency.Hex(),
		Balance:  amountString(bal),
		Credit:   amountString(c.client.CreditOf(addr, currency)),
	}
	if listingID != (common.Hash{}) {
		v.AuctionRefund = amountString(c.client.AuctionRefund(listingID, addr))
		v.RaffleRefund = amountString(c.client.RaffleRefund(listingID, addr))
	}
	return v, nil
}

// Settings returns the registry's admin parameters and the chain head.
func (c *Catalog) Settings() SettingsView {
	s := c.client.Settings()
	head := c.client.Chain().Head()
	return SettingsView{
		Registry:     c.client.Registry().Address().Hex(),
		Owner:        s.Owner.Hex(),
		Arbiter:      s.Arbiter.Hex(),
		FeeRecipient: s.FeeRecipient.Hex(),
		FeeBps:       s.FeeBps,
		HeadBlock:    head.Number,
		HeadTime:     head.Time,
	}
}
