package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// EventSource is the part of domain.EventStore the archiver reads.
type EventSource interface {
	List(ctx context.Context, filter domain.EventFilter) ([]domain.EventRecord, error)
}

// blobStore is what the archiver needs from object storage.
type blobStore interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

// archivePartSize is the upload part size for archive segments.
const archivePartSize int64 = 8 * 1024 * 1024

// EventArchiver copies fixed-size segments of the mirrored event log to
// object storage as JSONL. Rows stay in Postgres; pruning them is a
// separate operator decision.
type EventArchiver struct {
	blobs     blobStore
	events    EventSource
	audit     domain.AuditStore
	namespace string
}

// NewEventArchiver creates an EventArchiver writing under
// archive/events/{namespace}/. Sequence numbers restart with every chain
// instance, so the namespace names the instance. audit may be nil.
func NewEventArchiver(blobs blobStore, events EventSource, audit domain.AuditStore, namespace string) *EventArchiver {
	return &EventArchiver{blobs: blobs, events: events, audit: audit, namespace: namespace}
}

// SegmentPath is the object key for the events with seq in (from, to].
func SegmentPath(namespace string, from, to uint64) string {
	return fmt.Sprintf("archive/events/%s/%020d-%020d.jsonl", namespace, from+1, to)
}

// ArchiveSegment uploads the events with seq in (from, to] and returns how
// many were written. A segment already present is left alone and reported
// as zero.
func (a *EventArchiver) ArchiveSegment(ctx context.Context, from, to uint64) (int, error) {
	if to <= from {
		return 0, fmt.Errorf("s3blob: archive segment (%d, %d]: empty range", from, to)
	}
	path := SegmentPath(a.namespace, from, to)
	exists, err := a.blobs.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive segment: %w", err)
	}
	if exists {
		return 0, nil
	}

	records, err := a.events.List(ctx, domain.EventFilter{FromSeq: from, Limit: int(to - from)})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive segment query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive segment marshal: %w", err)
	}
	if err := a.blobs.PutMultipart(ctx, path, bytes.NewReader(buf), domain.ContentTypeSegment, archivePartSize); err != nil {
		return 0, fmt.Errorf("s3blob: archive segment upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Record(ctx, domain.AuditEntry{
			Op:      "archive_events",
			Outcome: domain.AuditCommitted,
			Detail: map[string]any{
				"path":  path,
				"count": len(records),
				"from":  from + 1,
				"to":    to,
			},
		}); err != nil {
			return len(records), fmt.Errorf("s3blob: archive segment audit log: %w", err)
		}
	}
	return len(records), nil
}

// marshalJSONL encodes records one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
