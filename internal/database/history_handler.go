package database

import (
	"context"
	"errors"
	"time"

	"blacklist/internal/domain"

	"gorm.io/gorm"
)

const historyMaxEntries = 1000

// HistoryStatistics is derived from the retained run log on every read; the
// log itself stays the single source of truth.
type HistoryStatistics struct {
	TotalRuns      int64                      `json:"total_runs"`
	SuccessRate    float64                    `json:"success_rate"`
	LastCollection *time.Time                 `json:"last_collection,omitempty"`
	BySource       map[string]SourceRunsStats `json:"by_source"`
}

type SourceRunsStats struct {
	Runs           int64      `json:"runs"`
	SuccessRate    float64    `json:"success_rate"`
	TotalCollected int64      `json:"total_collected"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
}

// ErrorSummaryEntry groups failed runs by source and message.
type ErrorSummaryEntry struct {
	Source       string    `json:"source"`
	ErrorMessage string    `json:"error_message"`
	Count        int64     `json:"count"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

type ErrorSummary struct {
	WindowDays int                 `json:"window_days"`
	TotalRuns  int64               `json:"total_runs"`
	FailedRuns int64               `json:"failed_runs"`
	ErrorRate  float64             `json:"error_rate"`
	Entries    []ErrorSummaryEntry `json:"entries"`
}

// AddCollectionRun appends one immutable run record and evicts the oldest
// entries beyond the retained bound, both inside a single transaction.
func AddCollectionRun(ctx context.Context, run domain.CollectionRun) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&domain.CollectionRun{}).Count(&count).Error; err != nil {
			return err
		}

		if count <= historyMaxEntries {
			return nil
		}

		// FIFO eviction: drop the oldest surplus rows.
		surplus := count - historyMaxEntries
		var victims []uint64
		if err := tx.Model(&domain.CollectionRun{}).
			Order("id ASC").
			Limit(int(surplus)).
			Pluck("id", &victims).Error; err != nil {
			return err
		}

		return tx.Where("id IN ?", victims).Delete(&domain.CollectionRun{}).Error
	})
}

// GetRecentRuns returns up to limit runs, newest first.
func GetRecentRuns(ctx context.Context, limit int) ([]domain.CollectionRun, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}
	if limit <= 0 || limit > historyMaxEntries {
		limit = historyMaxEntries
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var runs []domain.CollectionRun
	if err := db.Order("started_at DESC, id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// GetHistoryStatistics computes run totals and per-source aggregates over
// the full retained log.
func GetHistoryStatistics(ctx context.Context) (HistoryStatistics, error) {
	stats := HistoryStatistics{BySource: make(map[string]SourceRunsStats)}

	if DB == nil {
		return stats, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var runs []domain.CollectionRun
	if err := db.Find(&runs).Error; err != nil {
		return stats, err
	}

	var successTotal int64
	perSourceSuccess := make(map[string]int64)

	for _, run := range runs {
		stats.TotalRuns++
		if run.Success {
			successTotal++
			perSourceSuccess[run.Source]++
		}

		src := stats.BySource[run.Source]
		src.Runs++
		src.TotalCollected += int64(run.ItemCount)

		finished := run.FinishedAt
		if src.LastRunAt == nil || finished.After(*src.LastRunAt) {
			t := finished
			src.LastRunAt = &t
		}
		stats.BySource[run.Source] = src

		if run.Success && (stats.LastCollection == nil || finished.After(*stats.LastCollection)) {
			t := finished
			stats.LastCollection = &t
		}
	}

	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(successTotal) / float64(stats.TotalRuns)
	}
	for source, src := range stats.BySource {
		if src.Runs > 0 {
			src.SuccessRate = float64(perSourceSuccess[source]) / float64(src.Runs)
		}
		stats.BySource[source] = src
	}

	return stats, nil
}

// GetErrorSummary aggregates failed runs by (source, error message) within
// the trailing window.
func GetErrorSummary(ctx context.Context, windowDays int) (ErrorSummary, error) {
	summary := ErrorSummary{WindowDays: windowDays}

	if DB == nil {
		return summary, errors.New("database not initialised")
	}
	if windowDays <= 0 {
		windowDays = 7
		summary.WindowDays = windowDays
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	if err := db.Model(&domain.CollectionRun{}).
		Where("started_at >= ?", cutoff).
		Count(&summary.TotalRuns).Error; err != nil {
		return summary, err
	}

	var failed []domain.CollectionRun
	if err := db.Where("started_at >= ? AND success = ?", cutoff, false).
		Order("started_at DESC").
		Find(&failed).Error; err != nil {
		return summary, err
	}

	summary.FailedRuns = int64(len(failed))
	if summary.TotalRuns > 0 {
		summary.ErrorRate = float64(summary.FailedRuns) / float64(summary.TotalRuns)
	}

	type key struct {
		source  string
		message string
	}
	grouped := make(map[key]*ErrorSummaryEntry)
	order := make([]key, 0)

	for _, run := range failed {
		k := key{source: run.Source, message: run.ErrorMessage}
		entry, ok := grouped[k]
		if !ok {
			entry = &ErrorSummaryEntry{Source: run.Source, ErrorMessage: run.ErrorMessage}
			grouped[k] = entry
			order = append(order, k)
		}
		entry.Count++
		if run.FinishedAt.After(entry.LastSeenAt) {
			entry.LastSeenAt = run.FinishedAt
		}
	}

	summary.Entries = make([]ErrorSummaryEntry, 0, len(order))
	for _, k := range order {
		summary.Entries = append(summary.Entries, *grouped[k])
	}

	return summary, nil
}
