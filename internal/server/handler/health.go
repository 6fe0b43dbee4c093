package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthCheck checks one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HeadFunc reports the chain's head block number and time.
type HeadFunc func() (number, timestamp uint64)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode    string
	head    HeadFunc
	checks  []HealthCheck
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Each check runs with a short
// timeout; any failure turns the response into a 503.
func NewHealthHandler(mode string, head HeadFunc, checks []HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:    mode,
		head:    head,
		checks:  checks,
		timeout: 2 * time.Second,
		logger:  logHandler(logger, "health"),
	}
}

// HealthCheck responds with the chain head and the state of every
// configured dependency.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("dependency unhealthy",
				slog.String("dependency", c.Name),
				slog.String("error", err.Error()),
			)
			deps[c.Name] = "unavailable"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[c.Name] = "ok"
	}

	body := map[string]any{
		"status":       status,
		"mode":         h.mode,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	if h.head != nil {
		number, ts := h.head()
		body["head_block"] = number
		body["head_time"] = ts
	}
	writeJSON(w, code, body)
}
