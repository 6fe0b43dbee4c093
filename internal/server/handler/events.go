package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// EventReader reads the projected protocol event log.
type EventReader interface {
	RecentEvents(ctx context.Context, filter domain.EventFilter) ([]domain.EventRecord, error)
}

// EventHandler serves the global event log.
type EventHandler struct {
	reader EventReader
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(reader EventReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{reader: reader, logger: logHandler(logger, "events")}
}

// ListEvents returns events with seq greater than after, oldest first.
// GET /api/events?after=&name=&address=&limit=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.EventFilter{
		Name:  q.Get("name"),
		Limit: parseListOpts(r).Limit,
	}
	if v := q.Get("after"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		filter.FromSeq = seq
	}
	if v := q.Get("address"); v != "" {
		addr, err := parseAddress(v, "address", false)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Address = addr.Hex()
	}

	events, err := h.reader.RecentEvents(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.EventRecord{}
	}
	var next uint64
	if n := len(events); n > 0 {
		next = events[n-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"next":   next,
	})
}
