package services

import (
	"context"
	"fmt"
	"time"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
)

// PrecomputedStore keeps the variants already rendered for each track. Put
// replaces an entry wholesale; callers merge into a fresh copy from Get first.
type PrecomputedStore struct {
	entries *tiered[domain.PrecomputedOperations]
	now     func() time.Time
}

// NewPrecomputedStore constructs the store. WithStemTTL is ignored.
func NewPrecomputedStore(opts ...CacheOption) (*PrecomputedStore, error) {
	cfg := newCacheConfig(opts)
	entries, err := newTiered("precomputed", cfg.capacity, cfg.durable, cfg.ttl, cfg.now,
		func(p domain.PrecomputedOperations) int64 { return p.CacheTimestamp })
	if err != nil {
		return nil, err
	}
	return &PrecomputedStore{entries: entries, now: cfg.now}, nil
}

// Get returns a private copy of the entry for trackID.
func (s *PrecomputedStore) Get(ctx context.Context, trackID string) (domain.PrecomputedOperations, bool) {
	ops, ok := s.entries.get(ctx, domain.NormalizeTrackRef(trackID))
	if !ok {
		return domain.PrecomputedOperations{}, false
	}
	return ops.Clone(), true
}

// GetOrNew returns the stored entry or an empty one for trackID.
func (s *PrecomputedStore) GetOrNew(ctx context.Context, trackID string) domain.PrecomputedOperations {
	if ops, ok := s.Get(ctx, trackID); ok {
		return ops
	}
	return domain.NewPrecomputedOperations(domain.NormalizeTrackRef(trackID))
}

// Put stores ops for trackID, refreshing its timestamp.
func (s *PrecomputedStore) Put(ctx context.Context, trackID string, ops domain.PrecomputedOperations) error {
	id := domain.NormalizeTrackRef(trackID)
	ops = ops.Clone()
	ops.TrackID = id
	ops.CacheTimestamp = s.now().UnixMilli()
	if err := s.entries.put(ctx, id, ops); err != nil {
		return fmt.Errorf("precomputed store: %w", err)
	}
	return nil
}

// Update applies fn to a fresh copy of the entry and writes the result back.
func (s *PrecomputedStore) Update(ctx context.Context, trackID string, fn func(domain.PrecomputedOperations) domain.PrecomputedOperations) error {
	return s.Put(ctx, trackID, fn(s.GetOrNew(ctx, trackID)))
}

// Invalidate removes the entry for trackID from all tiers.
func (s *PrecomputedStore) Invalidate(ctx context.Context, trackID string) error {
	if err := s.entries.removeTrack(ctx, domain.NormalizeTrackRef(trackID), ""); err != nil {
		return fmt.Errorf("precomputed store: %w", err)
	}
	return nil
}

// Clear drops every entry from all tiers.
func (s *PrecomputedStore) Clear(ctx context.Context) error {
	if err := s.entries.clear(ctx); err != nil {
		return fmt.Errorf("precomputed store: %w", err)
	}
	return nil
}
