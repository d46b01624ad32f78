package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"blacklist/internal/collector"
	"blacklist/internal/config"

	"github.com/charmbracelet/log"
)

const (
	collectionFallbackInterval = 6 * time.Hour
	// Each scheduled run collects the trailing week; overlap is harmless
	// because upserts resolve duplicates by detection date.
	scheduledLookback = 7 * 24 * time.Hour
)

// StartCollectionScheduler launches one long-lived loop per enabled source.
// Runs are serialized per source by the orchestrator itself; the scheduler
// only decides when to try.
func StartCollectionScheduler(ctx context.Context, orchestrator *collector.Orchestrator) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	initialInterval := config.GetCollectionInterval()
	if initialInterval <= 0 {
		initialInterval = collectionFallbackInterval
	}
	intervalValue.Store(initialInterval)

	updateSignal := make(chan struct{}, 1)
	updates := config.CollectionIntervalUpdates()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newInterval := <-updates:
				if newInterval <= 0 {
					newInterval = collectionFallbackInterval
				}
				intervalValue.Store(newInterval)
				select {
				case updateSignal <- struct{}{}:
				default:
				}
			}
		}
	}()

	for _, source := range config.EnabledSources() {
		go runSourceLoop(ctx, orchestrator, source.Name, &intervalValue, updateSignal)
	}
}

func runSourceLoop(ctx context.Context, orchestrator *collector.Orchestrator, source string, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	currentInterval := intervalValue.Load().(time.Duration)
	if currentInterval <= 0 {
		currentInterval = collectionFallbackInterval
	}

	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	collectOnce(ctx, orchestrator, source)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collectOnce(ctx, orchestrator, source)
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval <= 0 {
				newInterval = collectionFallbackInterval
			}
			if newInterval != currentInterval {
				currentInterval = newInterval
				ticker.Reset(currentInterval)
				log.Debug("Collection interval updated", "source", source, "interval", currentInterval)
			}
		}
	}
}

func collectOnce(ctx context.Context, orchestrator *collector.Orchestrator, source string) {
	now := time.Now().UTC()
	dateRange := collector.DateRange{
		Start: now.Add(-scheduledLookback),
		End:   now,
	}

	_, err := orchestrator.Collect(ctx, source, dateRange, false)
	if err == nil {
		return
	}

	var blocked *collector.ProtectionBlockedError
	switch {
	case errors.As(err, &blocked):
		log.Warn("Scheduled collection blocked", "source", source, "reason", blocked.Reason)
	case errors.Is(err, collector.ErrSourceBusy):
		log.Debug("Scheduled collection skipped, already running", "source", source)
	case errors.Is(err, context.Canceled):
	default:
		log.Error("Scheduled collection failed", "source", source, "error", err)
	}
}
