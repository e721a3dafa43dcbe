package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

const defaultCacheCapacity = 512

// tiered is a namespaced two-tier cache: a bounded in-process LRU in front of
// an optional durable tier. Expiry is computed from the value's own
// cacheTimestamp at read time.
type tiered[V any] struct {
	namespace string
	fast      *lru.Cache[string, V]
	durable   ports.DurableTier
	ttl       time.Duration
	now       func() time.Time
	stamp     func(V) int64
}

func newTiered[V any](namespace string, capacity int, durable ports.DurableTier, ttl time.Duration, now func() time.Time, stamp func(V) int64) (*tiered[V], error) {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	fast, err := lru.New[string, V](capacity)
	if err != nil {
		return nil, fmt.Errorf("cache: create %s tier: %w", namespace, err)
	}
	return &tiered[V]{
		namespace: namespace,
		fast:      fast,
		durable:   durable,
		ttl:       ttl,
		now:       now,
		stamp:     stamp,
	}, nil
}

func (t *tiered[V]) durableKey(key string) string {
	return t.namespace + ":" + key
}

func (t *tiered[V]) expired(v V) bool {
	if t.ttl <= 0 {
		return false
	}
	return t.now().UnixMilli()-t.stamp(v) > t.ttl.Milliseconds()
}

func (t *tiered[V]) get(ctx context.Context, key string) (V, bool) {
	var zero V
	if v, ok := t.fast.Get(key); ok {
		if t.expired(v) {
			t.evict(ctx, key)
			return zero, false
		}
		return v, true
	}
	if t.durable == nil {
		return zero, false
	}

	raw, ok, err := t.durable.Get(ctx, t.durableKey(key))
	if err != nil {
		log.Printf("WARN cache: durable read %s: %v", t.durableKey(key), err)
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Printf("WARN cache: dropping undecodable entry %s: %v", t.durableKey(key), err)
		t.evict(ctx, key)
		return zero, false
	}
	if t.expired(v) {
		t.evict(ctx, key)
		return zero, false
	}

	t.fast.Add(key, v)
	return v, true
}

func (t *tiered[V]) put(ctx context.Context, key string, v V) error {
	t.fast.Add(key, v)
	if t.durable == nil {
		return nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", t.durableKey(key), err)
	}
	var ttl time.Duration
	if t.ttl > 0 {
		age := time.Duration(t.now().UnixMilli()-t.stamp(v)) * time.Millisecond
		ttl = t.ttl - age
		if ttl <= 0 {
			return nil
		}
	}
	if err := t.durable.Put(ctx, t.durableKey(key), raw, ttl); err != nil {
		return fmt.Errorf("cache: write %s: %w", t.durableKey(key), err)
	}
	return nil
}

func (t *tiered[V]) evict(ctx context.Context, key string) {
	t.fast.Remove(key)
	if t.durable == nil {
		return
	}
	if err := t.durable.Delete(ctx, t.durableKey(key)); err != nil {
		log.Printf("WARN cache: evict %s: %v", t.durableKey(key), err)
	}
}

// removeTrack drops key itself and every parameterised variant key+sep+...
func (t *tiered[V]) removeTrack(ctx context.Context, key, sep string) error {
	for _, k := range t.fast.Keys() {
		if k == key || (sep != "" && strings.HasPrefix(k, key+sep)) {
			t.fast.Remove(k)
		}
	}
	if t.durable == nil {
		return nil
	}
	if err := t.durable.Delete(ctx, t.durableKey(key)); err != nil {
		return fmt.Errorf("cache: delete %s: %w", t.durableKey(key), err)
	}
	if sep != "" {
		if err := t.durable.DeletePrefix(ctx, t.durableKey(key+sep)); err != nil {
			return fmt.Errorf("cache: delete %s*: %w", t.durableKey(key+sep), err)
		}
	}
	return nil
}

func (t *tiered[V]) clear(ctx context.Context) error {
	t.fast.Purge()
	if t.durable == nil {
		return nil
	}
	if err := t.durable.DeletePrefix(ctx, t.namespace+":"); err != nil {
		return fmt.Errorf("cache: clear %s: %w", t.namespace, err)
	}
	return nil
}
