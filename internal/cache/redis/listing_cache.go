package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// ListingCache implements domain.ListingCache. Views are stored as JSON
// strings under bazaar:listing:{namespace}:{id} and expire after ttl. The
// namespace is the chain instance, since a restarted chain reuses listing
// ids.
type ListingCache struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client, namespace string, ttl time.Duration) *ListingCache {
	return &ListingCache{rdb: c.Underlying(), namespace: namespace, ttl: ttl}
}

func (lc *ListingCache) key(id string) string {
	return key("listing", lc.namespace, id)
}

// Set stores v, replacing any cached copy.
func (lc *ListingCache) Set(ctx context.Context, v domain.ListingView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %s: %w", v.ID, err)
	}
	if err := lc.rdb.Set(ctx, lc.key(v.ID), data, lc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set listing %s: %w", v.ID, err)
	}
	return nil
}

// Get returns the cached view or domain.ErrNotFound.
func (lc *ListingCache) Get(ctx context.Context, id string) (domain.ListingView, error) {
	data, err := lc.rdb.Get(ctx, lc.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ListingView{}, domain.ErrNotFound
		}
		return domain.ListingView{}, fmt.Errorf("redis: get listing %s: %w", id, err)
	}
	var v domain.ListingView
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.ListingView{}, fmt.Errorf("redis: unmarshal listing %s: %w", id, err)
	}
	return v, nil
}

// Invalidate drops the cached view for id.
func (lc *ListingCache) Invalidate(ctx context.Context, id string) error {
	if err := lc.rdb.Del(ctx, lc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %s: %w", id, err)
	}
	return nil
}

var _ domain.ListingCache = (*ListingCache)(nil)
