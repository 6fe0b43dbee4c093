package domain

import (
	"context"
	"time"
)

// ListingCache provides fast listing projection lookups.
type ListingCache interface {
	Set(ctx context.Context, view ListingView) error
	Get(ctx context.Context, id string) (ListingView, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Lease is a held lock that the holder keeps alive by extending it.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Channel names used on the SignalBus.
const (
	ChannelEvents = "ch:events"
	StreamEvents  = "stream:events"
)

// ListingChannel is the per-listing pub/sub channel.
func ListingChannel(listingID string) string {
	return "ch:listing:" + listingID
}
