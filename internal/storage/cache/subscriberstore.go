// Package cache adds a read-aside Redis layer in front of the durable
// subscriber store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-reengagement-service/pkg/dispatch"
	"github.com/tinywideclouds/go-reengagement-service/pkg/subscriber"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedSubscriberStore is a decorator that adds read-aside caching to any
// SubscriberStore. Only the per-name lookup (the hot request path behind
// /heartbeat and the manual test-send) is cached; the staleness scan and
// the diagnostic listing always go to the source of truth, since the
// scheduler must never act on a cached row.
type CachedSubscriberStore struct {
	realStore dispatch.SubscriberStore
	cache     CacheClient
	ttl       time.Duration
}

// NewCachedSubscriberStore creates the decorator.
func NewCachedSubscriberStore(realStore dispatch.SubscriberStore, cache CacheClient, ttl time.Duration) *CachedSubscriberStore {
	return &CachedSubscriberStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedSubscriberStore) FindByName(ctx context.Context, name string) (subscriber.Subscriber, error) {
	key := s.cacheKey(name)

	var cached subscriber.Subscriber
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.FindByName(ctx, name)
	if err != nil {
		return subscriber.Subscriber{}, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we
	// just serve from the database.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// FindByID always bypasses the cache; only names are cache keys.
func (s *CachedSubscriberStore) FindByID(ctx context.Context, id string) (subscriber.Subscriber, error) {
	return s.realStore.FindByID(ctx, id)
}

// ListStale always bypasses the cache.
func (s *CachedSubscriberStore) ListStale(ctx context.Context, threshold time.Duration) ([]subscriber.Subscriber, error) {
	return s.realStore.ListStale(ctx, threshold)
}

// ListAll always bypasses the cache.
func (s *CachedSubscriberStore) ListAll(ctx context.Context) ([]subscriber.Subscriber, error) {
	return s.realStore.ListAll(ctx)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedSubscriberStore) UpsertSubscription(ctx context.Context, name string, sub subscriber.Subscription) (subscriber.Subscriber, error) {
	updated, err := s.realStore.UpsertSubscription(ctx, name, sub)
	if err != nil {
		return subscriber.Subscriber{}, err
	}
	return updated, s.invalidate(ctx, name)
}

func (s *CachedSubscriberStore) Touch(ctx context.Context, name string) (bool, error) {
	existed, err := s.realStore.Touch(ctx, name)
	if err != nil {
		return existed, err
	}
	if existed {
		return true, s.invalidate(ctx, name)
	}
	return false, nil
}

// MarkDelivered and Invalidate key on the subscriber ID, which the cache
// does not index; the row must be resolved first so the name entry can be
// dropped too. Scheduler reconciliation is rare enough that the extra read
// does not matter.

func (s *CachedSubscriberStore) MarkDelivered(ctx context.Context, id string) error {
	if err := s.realStore.MarkDelivered(ctx, id); err != nil {
		return err
	}
	return s.invalidateByID(ctx, id)
}

func (s *CachedSubscriberStore) Invalidate(ctx context.Context, id string) error {
	if err := s.realStore.Invalidate(ctx, id); err != nil {
		return err
	}
	return s.invalidateByID(ctx, id)
}

// --- Helpers ---

func (s *CachedSubscriberStore) invalidateByID(ctx context.Context, id string) error {
	sub, err := s.realStore.FindByID(ctx, id)
	if errors.Is(err, dispatch.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.invalidate(ctx, sub.Name)
}

func (s *CachedSubscriberStore) invalidate(ctx context.Context, name string) error {
	// Delete the key; the next FindByName is forced back to the database.
	return s.cache.Del(ctx, s.cacheKey(name))
}

func (s *CachedSubscriberStore) cacheKey(name string) string {
	return fmt.Sprintf("reengage:subscriber:%s", name)
}
