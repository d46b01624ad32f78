package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultCollectionInterval = 6 * time.Hour
	defaultCleanupInterval    = 24 * time.Hour
)

var (
	collectionInterval          atomic.Value
	cleanupInterval             atomic.Value
	collectionIntervalListeners []chan time.Duration
	cleanupIntervalListeners    []chan time.Duration
	listenersMu                 sync.Mutex
)

func init() {
	collectionInterval.Store(defaultCollectionInterval)
	cleanupInterval.Store(defaultCleanupInterval)
}

func SetIntervals() {
	cfg := GetConfig()
	setCollectionInterval(calculateInterval(cfg.Collector.CollectionTimer, defaultCollectionInterval))
	setCleanupInterval(calculateInterval(cfg.Retention.CleanupTimer, defaultCleanupInterval))
}

func calculateInterval(timer Timer, fallback time.Duration) time.Duration {
	intervalMs := CalculateMillisecondsOfTimer(timer)
	if intervalMs == 0 {
		return fallback
	}

	// Enforce minimum interval
	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfTimer(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func GetCollectionInterval() time.Duration {
	return collectionInterval.Load().(time.Duration)
}

func GetCleanupInterval() time.Duration {
	return cleanupInterval.Load().(time.Duration)
}

// CollectionIntervalUpdates returns a channel primed with the current interval
// that also receives every subsequent change, so scheduler loops can
// reschedule without polling.
func CollectionIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	collectionIntervalListeners = append(collectionIntervalListeners, ch)
	listenersMu.Unlock()

	ch <- GetCollectionInterval()
	return ch
}

func CleanupIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	cleanupIntervalListeners = append(cleanupIntervalListeners, ch)
	listenersMu.Unlock()

	ch <- GetCleanupInterval()
	return ch
}

func setCollectionInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCollectionInterval
	}

	if GetCollectionInterval() == interval {
		return
	}

	collectionInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range collectionIntervalListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func setCleanupInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	if GetCleanupInterval() == interval {
		return
	}

	cleanupInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range cleanupIntervalListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

// RetentionPeriod converts the configured retention days into a duration,
// defaulting to 90 days when unset.
func RetentionPeriod() time.Duration {
	days := GetConfig().Retention.Days
	if days == 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

// GracePeriod is how long expired records linger before physical cleanup.
func GracePeriod() time.Duration {
	return time.Duration(GetConfig().Retention.GraceDays) * 24 * time.Hour
}
