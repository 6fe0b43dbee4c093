package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bazaar/internal/service"
	"github.com/ethereum/go-ethereum/common"
)

// AdminService is the owner-only surface of service.MarketService.
type AdminService interface {
	SetFee(ctx context.Context, from common.Address, feeBps uint16, recipient common.Address) (service.TxResult, error)
	SetArbiter(ctx context.Context, from, arbiter common.Address) (service.TxResult, error)
	TransferOwnership(ctx context.Context, from, owner common.Address) (service.TxResult, error)
}

// SettingsReader reads the registry's admin parameters.
type SettingsReader interface {
	Settings() service.SettingsView
}

// AdminHandler serves registry administration. The registry enforces
// ownership; the handler only resolves the caller.
type AdminHandler struct {
	svc    AdminService
	reader SettingsReader
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc AdminService, reader SettingsReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, reader: reader, logger: logHandler(logger, "admin")}
}

// GetSettings returns the owner, arbiter, fee and chain head.
// GET /api/settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reader.Settings())
}

func (h *AdminHandler) reply(w http.ResponseWriter, r *http.Request, res service.TxResult, err error) {
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetFee changes the platform fee and its recipient.
// POST /api/admin/fee
func (h *AdminHandler) SetFee(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		FeeBps    *uint16 `json:"fee_bps"`
		Recipient string  `json:"recipient"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FeeBps == nil {
		writeError(w, http.StatusBadRequest, "fee_bps is required")
		return
	}
	recipient, err := parseAddress(req.Recipient, "recipient", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.SetFee(r.Context(), from, *req.FeeBps, recipient)
	h.reply(w, r, res, err)
}

// SetArbiter names the dispute arbiter.
// POST /api/admin/arbiter
func (h *AdminHandler) SetArbiter(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Arbiter string `json:"arbiter"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	arbiter, err := parseAddress(req.Arbiter, "arbiter", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.SetArbiter(r.Context(), from, arbiter)
	h.reply(w, r, res, err)
}

// TransferOwnership hands the registry to a new owner.
// POST /api/admin/owner
func (h *AdminHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Owner string `json:"owner"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress(req.Owner, "owner", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.TransferOwnership(r.Context(), from, owner)
	h.reply(w, r, res, err)
}
