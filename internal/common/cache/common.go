package cache

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"
)

// NullCacheValue marks a key whose source lookup came back empty, so repeated
// misses stop reaching the database.
const NullCacheValue = "$NULL$"

// ReadThrough is a JSON cache-aside reader for values of type T. Cache errors
// degrade to a source read; they are never returned.
type ReadThrough[T any] struct {
	Cache BasicOps

	// TTL applies to present values, EmptyTTL to NullCacheValue markers.
	// Both are jittered down by up to 10%.
	TTL      time.Duration
	EmptyTTL time.Duration

	// IsEmpty decides whether a loaded value is cached as absent.
	IsEmpty func(T) bool
}

// Get returns the cached value for key or calls load and caches its result.
// An empty result comes back as the zero T.
func (rt ReadThrough[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if raw, err := rt.Cache.Get(ctx, key); err == nil && raw != "" {
		if raw == NullCacheValue {
			return zero, nil
		}
		var v T
		if json.Unmarshal([]byte(raw), &v) == nil {
			return v, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return zero, err
	}
	if rt.IsEmpty != nil && rt.IsEmpty(v) {
		_ = rt.Cache.Set(ctx, key, NullCacheValue, JitterTTL(rt.EmptyTTL))
		return zero, nil
	}
	if data, err := json.Marshal(v); err == nil {
		_ = rt.Cache.Set(ctx, key, string(data), JitterTTL(rt.TTL))
	}
	return v, nil
}

// JitterTTL shortens ttl by up to 10% so keys written together do not expire
// together.
func JitterTTL(ttl time.Duration) time.Duration {
	spread := int64(ttl / 10)
	if spread <= 0 {
		return ttl
	}
	return ttl - time.Duration(rand.Int64N(spread+1))
}
