package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	// Computations slower than this are considered expensive and get their
	// TTL stretched; faster ones get it shortened so results stay fresh.
	adaptiveThreshold = 100 * time.Millisecond
	adaptiveStretch   = 2
	minTTL            = time.Second
	redisOpTimeout    = 2 * time.Second
)

// Layer fronts the blacklist read path. Values live in Redis when a client
// is available; otherwise a bounded in-process cache takes over without
// callers noticing. Concurrent computes for the same key are collapsed.
type Layer struct {
	client *redis.Client
	group  singleflight.Group
	memory *memoryCache

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats are the observability counters of the layer.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	MemoryEntries int    `json:"memory_entries"`
	RedisBacked   bool   `json:"redis_backed"`
}

// New builds a cache layer. client may be nil, which pins the layer to the
// in-memory fallback.
func New(client *redis.Client, maxMemoryEntries int) *Layer {
	if maxMemoryEntries <= 0 {
		maxMemoryEntries = 4096
	}
	return &Layer{
		client: client,
		memory: newMemoryCache(maxMemoryEntries),
	}
}

// GetOrCompute returns the cached value for key or computes it once. While a
// compute is in flight, concurrent callers for the same key wait for that
// single result instead of recomputing. The stored TTL adapts to how long
// the computation took.
func (l *Layer) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok := l.lookup(ctx, key); ok {
		l.hits.Add(1)
		return value, nil
	}
	l.misses.Add(1)

	result, err, _ := l.group.Do(key, func() (any, error) {
		// Double-check after winning the flight: a concurrent writer may
		// have stored the value while we queued.
		if value, ok := l.lookup(ctx, key); ok {
			return value, nil
		}

		start := time.Now()
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		l.store(ctx, key, value, adaptTTL(ttl, time.Since(start)))
		return value, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

// Invalidate drops keys from both backends.
func (l *Layer) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}

	if l.client != nil {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()
		if err := l.client.Del(opCtx, keys...).Err(); err != nil {
			log.Warn("cache: redis invalidate failed", "error", err)
		}
	}

	for _, key := range keys {
		l.memory.Delete(key)
	}
}

// GetStats snapshots the counters.
func (l *Layer) GetStats() Stats {
	return Stats{
		Hits:          l.hits.Load(),
		Misses:        l.misses.Load(),
		Evictions:     l.memory.Evictions(),
		MemoryEntries: l.memory.Len(),
		RedisBacked:   l.client != nil,
	}
}

func (l *Layer) lookup(ctx context.Context, key string) ([]byte, bool) {
	if l.client != nil {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()

		value, err := l.client.Get(opCtx, key).Bytes()
		if err == nil {
			return value, true
		}
		if err != redis.Nil {
			log.Warn("cache: redis lookup failed, using memory fallback", "key", key, "error", err)
			return l.memory.Get(key)
		}
		return nil, false
	}

	return l.memory.Get(key)
}

func (l *Layer) store(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if l.client != nil {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()

		if err := l.client.Set(opCtx, key, value, ttl).Err(); err == nil {
			return
		} else {
			log.Warn("cache: redis store failed, using memory fallback", "key", key, "error", err)
		}
	}

	l.memory.Set(key, value, ttl)
}

func adaptTTL(ttl time.Duration, elapsed time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = minTTL
	}

	if elapsed >= adaptiveThreshold {
		ttl *= adaptiveStretch
	} else {
		ttl /= adaptiveStretch
	}

	if ttl < minTTL {
		ttl = minTTL
	}
	return ttl
}
