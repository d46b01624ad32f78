package protection

import (
	"context"
	"time"

	"blacklist/internal/database"
	"blacklist/internal/domain"
)

// gormStorage adapts the relational handlers to the Storage interface.
type gormStorage struct{}

// NewGormStorage returns the production Storage backed by the shared
// database connection.
func NewGormStorage() Storage {
	return gormStorage{}
}

func (gormStorage) RecordRestart(ctx context.Context, now time.Time) ([]time.Time, error) {
	return database.RecordRestart(ctx, now)
}

func (gormStorage) GetRestartTimestamps(ctx context.Context) ([]time.Time, error) {
	return database.GetRestartTimestamps(ctx)
}

func (gormStorage) CountRecentAuthFailures(ctx context.Context, window time.Duration) (int, error) {
	return database.CountRecentAuthFailures(ctx, window)
}

func (gormStorage) GetActiveBypass(ctx context.Context, now time.Time) (*domain.ProtectionBypass, error) {
	return database.GetActiveBypass(ctx, now)
}

func (gormStorage) CreateBypass(ctx context.Context, reason string, duration time.Duration) (*domain.ProtectionBypass, error) {
	return database.CreateBypass(ctx, reason, duration)
}

func (gormStorage) ClearState(ctx context.Context) error {
	return database.ClearProtectionState(ctx)
}

func (gormStorage) RecordEvent(ctx context.Context, kind, detail string) error {
	return database.RecordProtectionEvent(ctx, kind, detail)
}
