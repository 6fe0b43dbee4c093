package domain

import (
	"context"
	"io"
	"time"
)

// Content types of the objects the marketplace keeps in object storage.
const (
	// ContentTypeMetadata is a listing metadata document.
	ContentTypeMetadata = "application/json"
	// ContentTypeSegment is an archived event log segment, one record per
	// line.
	ContentTypeSegment = "application/x-ndjson"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads objects. Paths are content addressed or sequence
// addressed, so a path is never rewritten with different bytes.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart streams objects too large for one request, such as
	// archive segments.
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// BlobReader retrieves objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobStore is object storage as the metadata service and the event
// archiver see it.
type BlobStore interface {
	BlobWriter
	BlobReader
}
