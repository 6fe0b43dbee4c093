package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/service"
	"github.com/ethereum/go-ethereum/common"
)

// ListingService is the subset of service.MarketService that the
// ListingHandler needs.
type ListingService interface {
	CreateListing(ctx context.Context, from common.Address, in service.CreateListingInput) (service.TxResult, error)
	CancelListing(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)
	Buy(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)
	ConfirmDelivery(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)
	RequestRefund(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)
	ArbiterRelease(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)
	ArbiterRefund(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)
}

// ListingReader is the subset of service.Catalog the ListingHandler reads.
type ListingReader interface {
	Listing(ctx context.Context, id common.Hash) (domain.ListingView, error)
	List(ctx context.Context, filter domain.ListingFilter) ([]domain.ListingView, error)
	Events(ctx context.Context, id common.Hash, opts domain.ListOpts) ([]domain.EventRecord, error)
}

// ListingHandler serves listing lifecycle endpoints.
type ListingHandler struct {
	svc    ListingService
	reader ListingReader
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(svc ListingService, reader ListingReader, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{svc: svc, reader: reader, logger: logHandler(logger, "listing")}
}

type createListingRequest struct {
	MetadataURI string `json:"metadata_uri"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	SaleType    string `json:"sale_type"`
}

// CreateListing lists an item for sale.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req createListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saleType, ok := domain.ParseSaleType(req.SaleType)
	if !ok {
		writeError(w, http.StatusBadRequest, "sale_type must be fixed_price, auction or raffle")
		return
	}
	price, err := parseAmount(req.Price, "price")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	currency, err := parseAddress(req.Currency, "currency", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.CreateListing(r.Context(), from, service.CreateListingInput{
		MetadataURI: req.MetadataURI,
		Price:       price,
		Currency:    currency,
		SaleType:    saleType,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetListing returns one listing.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.reader.Listing(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ListListings returns projected listings, newest first. Query parameters
// seller, buyer, status and sale_type filter the result.
// GET /api/listings
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ListingFilter{
		Status:   q.Get("status"),
		SaleType: q.Get("sale_type"),
		ListOpts: parseListOpts(r),
	}
	for _, p := range []struct {
		name string
		dst  *string
	}{{"seller", &filter.Seller}, {"buyer", &filter.Buyer}} {
		if v := q.Get(p.name); v != "" {
			addr, err := parseAddress(v, p.name, false)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			*p.dst = addr.Hex()
		}
	}
	if filter.Status != "" {
		if _, ok := domain.ParseListingStatus(filter.Status); !ok {
			writeError(w, http.StatusBadRequest, "unknown status "+filter.Status)
			return
		}
	}
	if filter.SaleType != "" {
		if _, ok := domain.ParseSaleType(filter.SaleType); !ok {
			writeError(w, http.StatusBadRequest, "unknown sale_type "+filter.SaleType)
			return
		}
	}

	listings, err := h.reader.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if listings == nil {
		listings = []domain.ListingView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": listings,
		"count":    len(listings),
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

// ListingEvents returns the projected event history of a listing.
// GET /api/listings/{id}/events
func (h *ListingHandler) ListingEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.reader.Events(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// listingTx adapts a single-listing transaction to a handler.
func (h *ListingHandler) listingTx(fn func(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := caller(w, r)
		if !ok {
			return
		}
		id, err := pathHash(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := fn(r.Context(), from, id)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// CancelListing withdraws an unsold listing.
// POST /api/listings/{id}/cancel
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	h.listingTx(h.svc.CancelListing)(w, r)
}

// Buy purchases a fixed-price listing into escrow.
// POST /api/listings/{id}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.listingTx(h.svc.Buy)(w, r)
}

// ConfirmDelivery releases the escrow to the seller.
// POST /api/listings/{id}/confirm
func (h *ListingHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.listingTx(h.svc.ConfirmDelivery)(w, r)
}

// RequestRefund returns the escrow to the buyer.
// POST /api/listings/{id}/refund
func (h *ListingHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	h.listingTx(h.svc.RequestRefund)(w, r)
}

// ArbiterRelease settles a dispute for the seller.
// POST /api/listings/{id}/arbiter/release
func (h *ListingHandler) ArbiterRelease(w http.ResponseWriter, r *http.Request) {
	h.listingTx(h.svc.ArbiterRelease)(w, r)
}

// ArbiterRefund settles a dispute for the buyer.
// POST /api/listings/{id}/arbiter/refund
func (h *ListingHandler) ArbiterRefund(w http.ResponseWriter, r *http.Request) {
	h.listingTx(h.svc.ArbiterRefund)(w, r)
}
