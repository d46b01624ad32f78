package maintenance

import (
	"context"
	"time"

	"blacklist/internal/config"
	"blacklist/internal/database"

	"github.com/charmbracelet/log"
)

const cleanupFallbackInterval = 24 * time.Hour

// StartExpiredCleanupRoutine periodically removes threat records past their
// expiry plus the configured grace period. Expired records were already
// invisible to queries; this loop only reclaims storage.
func StartExpiredCleanupRoutine(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	go runCleanupLoop(ctx)
}

func runCleanupLoop(ctx context.Context) {
	interval := config.GetCleanupInterval()
	if interval <= 0 {
		interval = cleanupFallbackInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	updates := config.CleanupIntervalUpdates()

	cleanupOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupOnce(ctx)
		case newInterval := <-updates:
			if newInterval <= 0 {
				newInterval = cleanupFallbackInterval
			}
			if newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
				log.Debug("Cleanup interval updated", "interval", interval)
			}
		}
	}
}

func cleanupOnce(ctx context.Context) {
	removed, err := database.CleanupExpiredRecords(ctx, config.GracePeriod())
	if err != nil {
		log.Error("Expired record cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		log.Info("Expired threat records removed", "count", removed)
	}
}
