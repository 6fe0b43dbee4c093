package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/domain"
)

// Projector folds protocol events into listing views. It keeps the views
// it has seen in memory and falls back to the store for anything older,
// so a restarted indexer continues from the persisted projection.
type Projector struct {
	store    domain.ListingStore
	views    map[string]*domain.ListingView
	byModule map[common.Hash]string
	byEscrow map[common.Hash]string
}

// NewProjector creates a Projector reading previous state from store. A nil
// store suits a projector that sees the log from genesis and keeps all
// state in memory.
func NewProjector(store domain.ListingStore) *Projector {
	return &Projector{
		store:    store,
		views:    make(map[string]*domain.ListingView),
		byModule: make(map[common.Hash]string),
		byEscrow: make(map[common.Hash]string),
	}
}

// Apply projects a batch of logs. It returns the logs in transport form with
// ListingID resolved, and the views the batch changed in first-touch order.
func (p *Projector) Apply(ctx context.Context, logs []chain.Log) ([]domain.EventRecord, []domain.ListingView, error) {
	// Module and escrow events are emitted before the registry event that
	// names their listing, so the links are registered up front.
	for _, l := range logs {
		switch e := l.Event.(type) {
		case domain.AuctionOpened:
			p.byModule[e.AuctionID] = e.ListingID.Hex()
		case domain.RaffleOpened:
			p.byModule[e.RaffleID] = e.ListingID.Hex()
		case domain.ListingPurchased:
			p.byEscrow[e.EscrowID] = e.ListingID.Hex()
		}
	}

	records := make([]domain.EventRecord, 0, len(logs))
	var order []string
	touched := make(map[string]bool)
	for _, l := range logs {
		rec, err := l.Record()
		if err != nil {
			return nil, nil, err
		}
		id, err := p.resolve(ctx, l.Event)
		if err != nil {
			return nil, nil, err
		}
		rec.ListingID = id
		records = append(records, rec)
		if id == "" {
			continue
		}

		v, err := p.view(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if v == nil {
			created, ok := l.Event.(domain.ListingCreated)
			if !ok {
				// Events for a listing created before the projection began.
				continue
			}
			v = newView(created, l.BlockNumber)
			p.views[id] = v
		}
		apply(v, l.Event)
		v.UpdatedBlock = l.BlockNumber
		if !touched[id] {
			touched[id] = true
			order = append(order, id)
		}
	}

	views := make([]domain.ListingView, 0, len(order))
	for _, id := range order {
		views = append(views, *p.views[id])
	}
	return records, views, nil
}

// resolve returns the listing an event concerns, or "" for protocol-wide
// events such as fee changes and withdrawals.
func (p *Projector) resolve(ctx context.Context, ev domain.Event) (string, error) {
	switch e := ev.(type) {
	case domain.ListingCreated:
		return e.ListingID.Hex(), nil
	case domain.ListingCancelledEvent:
		return e.ListingID.Hex(), nil
	case domain.ListingExpiredEvent:
		return e.ListingID.Hex(), nil
	case domain.AuctionOpened:
		return e.ListingID.Hex(), nil
	case domain.RaffleOpened:
		return e.ListingID.Hex(), nil
	case domain.ListingPurchased:
		return e.ListingID.Hex(), nil
	case domain.DeliveryConfirmed:
		return e.ListingID.Hex(), nil
	case domain.RefundIssued:
		return e.ListingID.Hex(), nil

	case domain.AuctionCreated:
		return p.moduleListing(ctx, e.AuctionID)
	case domain.BidPlaced:
		return p.moduleListing(ctx, e.AuctionID)
	case domain.AuctionExtended:
		return p.moduleListing(ctx, e.AuctionID)
	case domain.AuctionClosedEvent:
		return p.moduleListing(ctx, e.AuctionID)
	case domain.AuctionCanceledEvent:
		return p.moduleListing(ctx, e.AuctionID)
	case domain.RaffleCreated:
		return p.moduleListing(ctx, e.RaffleID)
	case domain.RaffleEntered:
		return p.moduleListing(ctx, e.RaffleID)
	case domain.RaffleClosed:
		return p.moduleListing(ctx, e.RaffleID)
	case domain.WinnerSelected:
		return p.moduleListing(ctx, e.RaffleID)
	case domain.RaffleCanceledEvent:
		return p.moduleListing(ctx, e.RaffleID)
	case domain.RefundCredited:
		return p.moduleListing(ctx, e.ModuleID)
	case domain.RefundWithdrawn:
		return p.moduleListing(ctx, e.ModuleID)
	case domain.ProceedsSwept:
		return p.moduleListing(ctx, e.ModuleID)

	case domain.EscrowCreated:
		return p.escrowListing(ctx, e.EscrowID)
	case domain.EscrowReleasedEvent:
		return p.escrowListing(ctx, e.EscrowID)
	case domain.EscrowRefundedEvent:
		return p.escrowListing(ctx, e.EscrowID)
	case domain.FeePaid:
		return p.escrowListing(ctx, e.EscrowID)
	}
	return "", nil
}

func (p *Projector) moduleListing(ctx context.Context, id common.Hash) (string, error) {
	if listing, ok := p.byModule[id]; ok {
		return listing, nil
	}
	if p.store == nil {
		return "", nil
	}
	v, err := p.store.GetByModule(ctx, id.Hex())
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("indexer: listing of module %s: %w", id.Hex(), err)
	}
	p.byModule[id] = v.ID
	return v.ID, nil
}

func (p *Projector) escrowListing(ctx context.Context, id common.Hash) (string, error) {
	if listing, ok := p.byEscrow[id]; ok {
		return listing, nil
	}
	if p.store == nil {
		return "", nil
	}
	v, err := p.store.GetByEscrow(ctx, id.Hex())
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("indexer: listing of escrow %s: %w", id.Hex(), err)
	}
	p.byEscrow[id] = v.ID
	return v.ID, nil
}

// view returns the current view of id, or nil when none exists yet.
func (p *Projector) view(ctx context.Context, id string) (*domain.ListingView, error) {
	if v, ok := p.views[id]; ok {
		return v, nil
	}
	if p.store == nil {
		return nil, nil
	}
	stored, err := p.store.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexer: load listing %s: %w", id, err)
	}
	p.views[id] = &stored
	return &stored, nil
}

func newView(e domain.ListingCreated, block uint64) *domain.ListingView {
	return &domain.ListingView{
		ID:           e.ListingID.Hex(),
		Seller:       e.Seller.Hex(),
		SaleType:     e.SaleType,
		MetadataURI:  e.MetadataURI,
		Price:        amount(e.Price),
		Currency:     e.Currency.Hex(),
		CreatedBlock: block,
	}
}

// apply mutates v with the effect of ev.
func apply(v *domain.ListingView, ev domain.Event) {
	switch e := ev.(type) {
	case domain.ListingCreated:
		v.Status = domain.ListingActive.String()
	case domain.ListingCancelledEvent:
		v.Status = domain.ListingCancelled.String()
	case domain.ListingExpiredEvent:
		v.Status = domain.ListingExpired.String()
	case domain.AuctionOpened:
		v.ModuleID, v.StartTime, v.EndTime = e.AuctionID.Hex(), e.StartTime, e.EndTime
	case domain.RaffleOpened:
		v.ModuleID, v.StartTime, v.EndTime = e.RaffleID.Hex(), e.StartTime, e.EndTime
	case domain.ListingPurchased:
		v.Status = domain.ListingPendingDelivery.String()
		v.Buyer = e.Buyer.Hex()
		v.EscrowID = e.EscrowID.Hex()
		v.EscrowAmount = amount(e.Amount)
		v.EscrowStatus = domain.EscrowFunded.String()
	case domain.DeliveryConfirmed:
		v.Status = domain.ListingCompleted.String()
	case domain.RefundIssued:
		v.Status = domain.ListingRefunded.String()

	case domain.EscrowCreated:
		v.EscrowStatus = domain.EscrowFunded.String()
		v.EscrowAmount = amount(e.Amount)
	case domain.EscrowReleasedEvent:
		v.EscrowStatus = domain.EscrowReleased.String()
	case domain.EscrowRefundedEvent:
		v.EscrowStatus = domain.EscrowRefunded.String()

	case domain.BidPlaced:
		v.HighestBidder = e.Bidder.Hex()
		v.HighestBid = amount(e.Amount)
		v.EndTime = e.EndTime
	case domain.AuctionExtended:
		v.EndTime = e.NewEndTime
	case domain.AuctionClosedEvent:
		if e.Success {
			v.Winner = e.Winner.Hex()
		}

	case domain.RaffleEntered:
		v.TotalTickets += e.Tickets
		v.Raised = add(v.Raised, e.Paid)
	case domain.RaffleClosed:
		v.TotalTickets = e.TotalTickets
		v.Raised = amount(e.Raised)
	case domain.WinnerSelected:
		v.Winner = e.Winner.Hex()
	}
}

func amount(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

// add returns decimal a plus x.
func add(a string, x *big.Int) string {
	sum, ok := new(big.Int).SetString(a, 10)
	if !ok {
		sum = new(big.Int)
	}
	if x != nil {
		sum.Add(sum, x)
	}
	return sum.String()
}
