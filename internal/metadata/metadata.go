// Package metadata stores listing metadata documents in object storage
// under their SHA-256 digest and hands out metadata://sha256/<hex> URIs.
// The registry only requires a non-empty URI; this package is how the API
// produces one that can later be checked against the stored bytes.
package metadata

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// Scheme prefixes every URI the service issues.
const Scheme = "metadata://sha256/"

// Errors returned for bad input.
var (
	ErrInvalidURI   = errors.New("metadata: invalid uri")
	ErrTooLarge     = errors.New("metadata: document too large")
	ErrMissingTitle = errors.New("metadata: title is required")
)

// Document describes the item behind a listing.
type Document struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Images      []string          `json:"images,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Service puts and resolves metadata documents.
type Service struct {
	blobs    domain.BlobStore
	prefix   string
	maxBytes int
	logger   *slog.Logger
}

// NewService creates a Service storing documents under prefix.
func NewService(blobs domain.BlobStore, prefix string, maxBytes int, logger *slog.Logger) *Service {
	return &Service{
		blobs:    blobs,
		prefix:   prefix,
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("component", "metadata")),
	}
}

// Put stores doc and returns its URI. Storing the same document twice
// yields the same URI and a single object.
func (s *Service) Put(ctx context.Context, doc Document) (string, error) {
	if strings.TrimSpace(doc.Title) == "" {
		return "", ErrMissingTitle
	}
	// Map keys are encoded sorted, so equal documents encode to equal bytes.
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("metadata: encode: %w", err)
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), s.maxBytes)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	path := s.path(digest)

	exists, err := s.blobs.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("metadata: put %s: %w", digest, err)
	}
	if !exists {
		if err := s.blobs.Put(ctx, path, bytes.NewReader(data), domain.ContentTypeMetadata); err != nil {
			return "", fmt.Errorf("metadata: put %s: %w", digest, err)
		}
		s.logger.Debug("metadata stored", slog.String("digest", digest), slog.Int("bytes", len(data)))
	}
	return Scheme + digest, nil
}

// Resolve fetches the document behind uri and verifies it against the
// digest in the URI. A document whose bytes no longer match yields
// domain.ErrDigestMismatch.
func (s *Service) Resolve(ctx context.Context, uri string) (Document, error) {
	digest, err := ParseURI(uri)
	if err != nil {
		return Document{}, err
	}

	body, err := s.blobs.Get(ctx, s.path(digest))
	if err != nil {
		return Document{}, fmt.Errorf("metadata: resolve %s: %w", digest, err)
	}
	defer body.Close()

	limit := int64(s.maxBytes)
	if limit <= 0 {
		limit = 1 << 20
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return Document{}, fmt.Errorf("metadata: read %s: %w", digest, err)
	}
	if int64(len(data)) > limit {
		return Document{}, fmt.Errorf("%w: stored object %s exceeds %d bytes", ErrTooLarge, digest, limit)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != digest {
		s.logger.Warn("metadata digest mismatch", slog.String("digest", digest))
		return Document{}, fmt.Errorf("metadata: resolve %s: %w", digest, domain.ErrDigestMismatch)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("metadata: decode %s: %w", digest, err)
	}
	return doc, nil
}

// ParseURI returns the lowercase hex digest named by uri.
func ParseURI(uri string) (string, error) {
	digest, ok := strings.CutPrefix(uri, Scheme)
	if !ok || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return strings.ToLower(digest), nil
}

func (s *Service) path(digest string) string {
	return s.prefix + digest + ".json"
}
