package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bazaar/internal/domain"
	"github.com/alanyoungcy/bazaar/internal/metadata"
)

// MetadataStore puts and resolves listing metadata documents.
type MetadataStore interface {
	Put(ctx context.Context, doc metadata.Document) (string, error)
	Resolve(ctx context.Context, uri string) (metadata.Document, error)
}

// MetadataHandler serves listing metadata documents.
type MetadataHandler struct {
	store  MetadataStore
	logger *slog.Logger
}

// NewMetadataHandler creates a MetadataHandler.
func NewMetadataHandler(store MetadataStore, logger *slog.Logger) *MetadataHandler {
	return &MetadataHandler{store: store, logger: logHandler(logger, "metadata")}
}

// PutMetadata stores a document and returns the URI to list it under.
// PUT /api/metadata
func (h *MetadataHandler) PutMetadata(w http.ResponseWriter, r *http.Request) {
	var doc metadata.Document
	if err := decodeJSON(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	uri, err := h.store.Put(r.Context(), doc)
	if err != nil {
		h.writeMetadataError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uri": uri})
}

// GetMetadata returns the verified document stored under digest.
// GET /api/metadata/{digest}
func (h *MetadataHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Resolve(r.Context(), metadata.Scheme+r.PathValue("digest"))
	if err != nil {
		h.writeMetadataError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *MetadataHandler) writeMetadataError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, metadata.ErrInvalidURI),
		errors.Is(err, metadata.ErrMissingTitle):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, metadata.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrDigestMismatch):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeServiceError(w, r, h.logger, err)
	}
}
