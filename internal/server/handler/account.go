package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/bazaar/internal/service"
	"github.com/ethereum/go-ethereum/common"
)

// AccountService covers withdrawals, payment approvals and the faucet.
type AccountService interface {
	WithdrawPayout(ctx context.Context, from, currency common.Address) (service.TxResult, error)
	WithdrawFees(ctx context.Context, from, currency common.Address) (service.TxResult, error)
	ApprovePayments(ctx context.Context, from, token common.Address, amount *big.Int) (service.TxResult, error)
	Faucet(ctx context.Context, addr common.Address) (*big.Int, error)
}

// AccountReader reads balances and credits.
type AccountReader interface {
	Account(addr, currency common.Address, listingID common.Hash) (service.AccountView, error)
}

// AccountHandler serves balance, withdrawal and faucet endpoints.
type AccountHandler struct {
	svc    AccountService
	reader AccountReader
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(svc AccountService, reader AccountReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, reader: reader, logger: logHandler(logger, "account")}
}

// GetAccount reports an address's holdings and credit in one currency. The
// optional listing parameter adds pending sale-module refunds on it.
// GET /api/accounts/{address}?currency=&listing=
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.PathValue("address"), "address", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	currency, err := parseAddress(q.Get("currency"), "currency", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var listingID common.Hash
	if v := q.Get("listing"); v != "" {
		if listingID, err = parseHash(v, "listing"); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	v, err := h.reader.Account(addr, currency, listingID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type currencyRequest struct {
	Currency string `json:"currency"`
}

func (h *AccountHandler) withdraw(fn func(ctx context.Context, from, currency common.Address) (service.TxResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := caller(w, r)
		if !ok {
			return
		}
		var req currencyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		currency, err := parseAddress(req.Currency, "currency", true)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := fn(r.Context(), from, currency)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// WithdrawPayout pays out the caller's settled sale proceeds.
// POST /api/withdrawals/payout
func (h *AccountHandler) WithdrawPayout(w http.ResponseWriter, r *http.Request) {
	h.withdraw(h.svc.WithdrawPayout)(w, r)
}

// WithdrawFees pays accrued platform fees to the fee recipient.
// POST /api/withdrawals/fees
func (h *AccountHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	h.withdraw(h.svc.WithdrawFees)(w, r)
}

// ApprovePayments lets the registry pull up to amount of token from the
// caller.
// POST /api/approvals
func (h *AccountHandler) ApprovePayments(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Token  string `json:"token"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress(req.Token, "token", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.ApprovePayments(r.Context(), from, token, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Faucet funds an address on a development chain. The address defaults to
// the caller.
// POST /api/faucet
func (h *AccountHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr := from
	if req.Address != "" {
		var err error
		if addr, err = parseAddress(req.Address, "address", false); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	amount, err := h.svc.Faucet(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"amount":  amount.String(),
	})
}
