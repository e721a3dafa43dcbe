package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

// DefaultAnalysisTTL bounds analysis and precomputed entries.
const DefaultAnalysisTTL = 24 * time.Hour

const paramSeparator = "|"

// CacheOption configures the caches.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	capacity int
	durable  ports.DurableTier
	ttl      time.Duration
	stemTTL  time.Duration
	now      func() time.Time
}

// WithDurableTier backs the cache with a persistent store.
func WithDurableTier(tier ports.DurableTier) CacheOption {
	return func(c *cacheConfig) {
		c.durable = tier
	}
}

// WithTTL sets the expiry for analysis (or precomputed) entries.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.ttl = ttl
	}
}

// WithStemTTL sets the expiry for stem entries; zero keeps them until invalidated.
func WithStemTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.stemTTL = ttl
	}
}

// WithCapacity bounds the in-process tier.
func WithCapacity(n int) CacheOption {
	return func(c *cacheConfig) {
		c.capacity = n
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *cacheConfig) {
		c.now = now
	}
}

func newCacheConfig(opts []CacheOption) cacheConfig {
	cfg := cacheConfig{
		capacity: defaultCacheCapacity,
		ttl:      DefaultAnalysisTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

type stemEntry struct {
	Stems          domain.SeparatedStems `json:"stems"`
	CacheTimestamp int64                 `json:"cacheTimestamp"`
}

// AnalysisCache stores per-track analysis and separated stems. It is shared
// process-wide and safe for concurrent use; each get and put is atomic per key.
type AnalysisCache struct {
	analysis *tiered[domain.AudioFeatures]
	stems    *tiered[stemEntry]
	now      func() time.Time
}

// NewAnalysisCache constructs the cache.
func NewAnalysisCache(opts ...CacheOption) (*AnalysisCache, error) {
	cfg := newCacheConfig(opts)

	analysis, err := newTiered("analysis", cfg.capacity, cfg.durable, cfg.ttl, cfg.now,
		func(f domain.AudioFeatures) int64 { return f.CacheTimestamp })
	if err != nil {
		return nil, err
	}
	stems, err := newTiered("stems", cfg.capacity, cfg.durable, cfg.stemTTL, cfg.now,
		func(e stemEntry) int64 { return e.CacheTimestamp })
	if err != nil {
		return nil, err
	}
	return &AnalysisCache{analysis: analysis, stems: stems, now: cfg.now}, nil
}

// AnalysisKey builds the cache key: the normalised track reference, suffixed
// with the sorted, escaped parameters when any are given.
func AnalysisKey(trackRef string, params map[string]string) string {
	key := domain.NormalizeTrackRef(trackRef)
	if len(params) == 0 {
		return key
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	return key + paramSeparator + strings.Join(parts, "&")
}

// GetCachedAnalysis returns cached features, treating expired entries as absent.
func (c *AnalysisCache) GetCachedAnalysis(ctx context.Context, trackRef string, params map[string]string) (domain.AudioFeatures, bool) {
	return c.analysis.get(ctx, AnalysisKey(trackRef, params))
}

// CacheAnalysisResults stores features, stamping them with the current time if unset.
func (c *AnalysisCache) CacheAnalysisResults(ctx context.Context, trackRef string, features domain.AudioFeatures, params map[string]string) error {
	if features.CacheTimestamp == 0 {
		features.CacheTimestamp = c.now().UnixMilli()
	}
	return c.analysis.put(ctx, AnalysisKey(trackRef, params), features)
}

// GetCachedStems returns cached stems with Cached set.
func (c *AnalysisCache) GetCachedStems(ctx context.Context, trackRef string) (domain.SeparatedStems, bool) {
	entry, ok := c.stems.get(ctx, domain.NormalizeTrackRef(trackRef))
	if !ok {
		return domain.SeparatedStems{}, false
	}
	stems := entry.Stems
	stems.Cached = true
	return stems, true
}

// CacheStemSeparation stores stems for a track.
func (c *AnalysisCache) CacheStemSeparation(ctx context.Context, trackRef string, stems domain.SeparatedStems) error {
	stems.Cached = false
	return c.stems.put(ctx, domain.NormalizeTrackRef(trackRef), stemEntry{
		Stems:          stems,
		CacheTimestamp: c.now().UnixMilli(),
	})
}

// Invalidate removes every analysis variant and the stems of a track from all tiers.
func (c *AnalysisCache) Invalidate(ctx context.Context, trackRef string) error {
	key := domain.NormalizeTrackRef(trackRef)
	return errors.Join(
		c.analysis.removeTrack(ctx, key, paramSeparator),
		c.stems.removeTrack(ctx, key, ""),
	)
}

// ClearAll drops every analysis and stem entry from all tiers.
func (c *AnalysisCache) ClearAll(ctx context.Context) error {
	if err := errors.Join(c.analysis.clear(ctx), c.stems.clear(ctx)); err != nil {
		return fmt.Errorf("analysis cache: %w", err)
	}
	return nil
}
