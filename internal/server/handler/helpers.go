package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/server/middleware"
	"github.com/alanyoungcy/bazaar/internal/service"
	"github.com/ethereum/go-ethereum/common"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorBody is the response for a failed protocol operation.
type errorBody struct {
	Error string            `json:"error"`
	Code  string            `json:"code,omitempty"`
	Kind  string            `json:"kind,omitempty"`
	Args  map[string]string `json:"args,omitempty"`
}

// statusFor maps an error to its HTTP status. Protocol errors map by kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrListingNotFound),
		errors.Is(err, domain.ErrAuctionNotFound),
		errors.Is(err, domain.ErrRaffleNotFound),
		errors.Is(err, domain.ErrEscrowNotFound),
		errors.Is(err, service.ErrFaucetDisabled):
		return http.StatusNotFound
	case errors.Is(err, service.ErrProjectionUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindState:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindTransfer:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeServiceError reports err with the status its kind maps to. Internal
// failures are logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", middleware.RequestIDFrom(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}
	body := errorBody{Error: err.Error()}
	var pe *domain.Error
	if errors.As(err, &pe) {
		body.Error = pe.Error()
		body.Code, body.Kind, body.Args = pe.Code, pe.Kind.String(), pe.ArgMap()
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields. An
// empty body leaves v at its zero value.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// caller returns the authenticated account or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return common.Address{}, false
	}
	return addr, true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathHash parses the named path parameter as a 32-byte hex id.
func pathHash(r *http.Request, name string) (common.Hash, error) {
	return parseHash(r.PathValue(name), name)
}

func parseHash(s, field string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	raw := strings.TrimPrefix(s, "0x")
	if len(raw) != 64 || !isHex(raw) {
		return common.Hash{}, fmt.Errorf("%s must be a 0x-prefixed 32-byte hex value", field)
	}
	return common.HexToHash(s), nil
}

// parseAddress parses a hex address. An empty string is the zero address
// when optional is set.
func parseAddress(s, field string, optional bool) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" && optional {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", field)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a non-negative decimal integer. Amounts travel as
// strings so no client rounds them through a float.
func parseAmount(s, field string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative decimal integer", field)
	}
	return v, nil
}

// parseOptionalAmount is parseAmount returning nil for an absent value, so
// the protocol default applies.
func parseOptionalAmount(s, field string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return parseAmount(s, field)
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
