package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/bazaar/internal/crypto"
	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/service"
	"github.com/ethereum/go-ethereum/common"
)

// SaleService is the auction and raffle surface of service.MarketService.
type SaleService interface {
	OpenAuction(ctx context.Context, from common.Address, id common.Hash, p domain.AuctionParams) (service.TxResult, error)
	OpenRaffle(ctx context.Context, from common.Address, id common.Hash, p domain.RaffleParams, commitment common.Hash) (service.TxResult, error)
	Bid(ctx context.Context, from common.Address, id common.Hash, amount *big.Int) (service.TxResult, error)
	EnterRaffle(ctx context.Context, from common.Address, id common.Hash, tickets uint64) (service.TxResult, error)
	CloseAuction(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)
	CloseRaffle(ctx context.Context, from common.Address, id, reveal common.Hash) (service.TxResult, error)
	WithdrawAuctionRefund(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)
	WithdrawRaffleRefund(ctx context.Context, from common.Address, id common.Hash) (service.TxResult, error)
}

// SaleReader reads committed auction and raffle records.
type SaleReader interface {
	Auction(id common.Hash) (service.AuctionView, error)
	Raffle(id common.Hash) (service.RaffleView, error)
	Quote(id common.Hash, tickets uint64) (*big.Int, error)
}

// SaleHandler serves auction and raffle endpoints.
type SaleHandler struct {
	svc    SaleService
	reader SaleReader
	logger *slog.Logger
}

// NewSaleHandler creates a SaleHandler.
func NewSaleHandler(svc SaleService, reader SaleReader, logger *slog.Logger) *SaleHandler {
	return &SaleHandler{svc: svc, reader: reader, logger: logHandler(logger, "sale")}
}

// listingRequest parses the caller, the listing id and an optional body.
func (h *SaleHandler) listingRequest(w http.ResponseWriter, r *http.Request, body any) (common.Address, common.Hash, bool) {
	from, ok := caller(w, r)
	if !ok {
		return common.Address{}, common.Hash{}, false
	}
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, common.Hash{}, false
	}
	if body != nil {
		if err := decodeJSON(r, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return common.Address{}, common.Hash{}, false
		}
	}
	return from, id, true
}

func (h *SaleHandler) reply(w http.ResponseWriter, r *http.Request, res service.TxResult, err error) {
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type openAuctionRequest struct {
	StartTime        uint64 `json:"start_time"`
	EndTime          uint64 `json:"end_time"`
	ExtensionWindow  uint64 `json:"extension_window"`
	ExtensionSeconds uint64 `json:"extension_seconds"`
	ReservePrice     string `json:"reserve_price"`
	MinBidIncrement  string `json:"min_bid_increment"`
}

// OpenAuction opens bidding on an auction listing. The auction settles in
// the listing's currency; an absent reserve_price means the listing price.
// POST /api/listings/{id}/auction
func (h *SaleHandler) OpenAuction(w http.ResponseWriter, r *http.Request) {
	var req openAuctionRequest
	from, id, ok := h.listingRequest(w, r, &req)
	if !ok {
		return
	}
	reserve, err := parseOptionalAmount(req.ReservePrice, "reserve_price")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	increment, err := parseAmount(req.MinBidIncrement, "min_bid_increment")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.OpenAuction(r.Context(), from, id, domain.AuctionParams{
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		ExtensionWindow:  req.ExtensionWindow,
		ExtensionSeconds: req.ExtensionSeconds,
		ReservePrice:     reserve,
		MinBidIncrement:  increment,
	})
	h.reply(w, r, res, err)
}

type openRaffleRequest struct {
	StartTime       uint64 `json:"start_time"`
	EndTime         uint64 `json:"end_time"`
	TicketPrice     string `json:"ticket_price"`
	TargetAmount    string `json:"target_amount"`
	MinParticipants uint64 `json:"min_participants"`
	Commitment      string `json:"commitment"`
}

// OpenRaffle opens ticket sales on a raffle listing. An absent ticket_price
// means the listing price.
// POST /api/listings/{id}/raffle
func (h *SaleHandler) OpenRaffle(w http.ResponseWriter, r *http.Request) {
	var req openRaffleRequest
	from, id, ok := h.listingRequest(w, r, &req)
	if !ok {
		return
	}
	price, err := parseOptionalAmount(req.TicketPrice, "ticket_price")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := parseAmount(req.TargetAmount, "target_amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	commitment, err := parseHash(req.Commitment, "commitment")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.OpenRaffle(r.Context(), from, id, domain.RaffleParams{
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		TicketPrice:     price,
		TargetAmount:    target,
		MinParticipants: req.MinParticipants,
	}, commitment)
	h.reply(w, r, res, err)
}

// Bid places a bid on an open auction.
// POST /api/listings/{id}/bids
func (h *SaleHandler) Bid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	from, id, ok := h.listingRequest(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Bid(r.Context(), from, id, amount)
	h.reply(w, r, res, err)
}

// EnterRaffle buys raffle tickets.
// POST /api/listings/{id}/entries
func (h *SaleHandler) EnterRaffle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tickets uint64 `json:"tickets"`
	}
	from, id, ok := h.listingRequest(w, r, &req)
	if !ok {
		return
	}
	res, err := h.svc.EnterRaffle(r.Context(), from, id, req.Tickets)
	h.reply(w, r, res, err)
}

// CloseAuction settles an ended auction.
// POST /api/listings/{id}/auction/close
func (h *SaleHandler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	from, id, ok := h.listingRequest(w, r, nil)
	if !ok {
		return
	}
	res, err := h.svc.CloseAuction(r.Context(), from, id)
	h.reply(w, r, res, err)
}

// CloseRaffle settles a raffle with the seller's reveal.
// POST /api/listings/{id}/raffle/close
func (h *SaleHandler) CloseRaffle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reveal string `json:"reveal"`
	}
	from, id, ok := h.listingRequest(w, r, &req)
	if !ok {
		return
	}
	reveal, err := parseHash(req.Reveal, "reveal")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.CloseRaffle(r.Context(), from, id, reveal)
	h.reply(w, r, res, err)
}

// WithdrawAuctionRefund pays the caller's outbid refunds.
// POST /api/listings/{id}/auction/refund
func (h *SaleHandler) WithdrawAuctionRefund(w http.ResponseWriter, r *http.Request) {
	from, id, ok := h.listingRequest(w, r, nil)
	if !ok {
		return
	}
	res, err := h.svc.WithdrawAuctionRefund(r.Context(), from, id)
	h.reply(w, r, res, err)
}

// WithdrawRaffleRefund pays back the caller's tickets on a failed raffle.
// POST /api/listings/{id}/raffle/refund
func (h *SaleHandler) WithdrawRaffleRefund(w http.ResponseWriter, r *http.Request) {
	from, id, ok := h.listingRequest(w, r, nil)
	if !ok {
		return
	}
	res, err := h.svc.WithdrawRaffleRefund(r.Context(), from, id)
	h.reply(w, r, res, err)
}

// GetAuction returns the auction record of a listing.
// GET /api/listings/{id}/auction
func (h *SaleHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.reader.Auction(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetRaffle returns the raffle record of a listing.
// GET /api/listings/{id}/raffle
func (h *SaleHandler) GetRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.reader.Raffle(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Quote prices a ticket purchase.
// GET /api/listings/{id}/quote?tickets=N
func (h *SaleHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tickets, err := strconv.ParseUint(r.URL.Query().Get("tickets"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "tickets must be a positive integer")
		return
	}
	cost, err := h.reader.Quote(id, tickets)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets, "cost": cost.String()})
}

// NewReveal draws a raffle reveal and its commitment for a seller that has
// no secret of its own. The reveal is not stored.
// GET /api/raffle/reveal
func (h *SaleHandler) NewReveal(w http.ResponseWriter, r *http.Request) {
	reveal, commitment, err := crypto.NewReveal()
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"reveal":     reveal.Hex(),
		"commitment": commitment.Hex(),
	})
}
