package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	storedAt  time.Time
}

// memoryCache is the bounded in-process fallback. Eviction is expiry-based;
// when full, the oldest entry makes room.
type memoryCache struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	maxSize   int
	evictions atomic.Uint64
}

func newMemoryCache(maxSize int) *memoryCache {
	return &memoryCache{
		entries: make(map[string]memoryEntry),
		maxSize: maxSize,
	}
}

func (m *memoryCache) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		m.Delete(key)
		m.evictions.Add(1)
		return nil, false
	}
	return entry.value, true
}

func (m *memoryCache) Set(key string, value []byte, ttl time.Duration) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxSize {
		m.evictLocked(now)
	}

	m.entries[key] = memoryEntry{
		value:     value,
		expiresAt: now.Add(ttl),
		storedAt:  now,
	}
}

func (m *memoryCache) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *memoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *memoryCache) Evictions() uint64 {
	return m.evictions.Load()
}

// evictLocked first clears everything expired; if nothing was, the oldest
// entry is sacrificed.
func (m *memoryCache) evictLocked(now time.Time) {
	removed := 0
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 {
		m.evictions.Add(uint64(removed))
		return
	}

	var oldestKey string
	var oldestAt time.Time
	for key, entry := range m.entries {
		if oldestKey == "" || entry.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.storedAt
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
		m.evictions.Add(1)
	}
}
