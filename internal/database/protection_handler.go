package database

import (
	"context"
	"errors"
	"time"

	"blacklist/internal/domain"

	"gorm.io/gorm"
)

const restartRetention = 24 * time.Hour

// RecordRestart appends a restart event and prunes entries older than 24
// hours in the same transaction, then returns the surviving timestamps in
// ascending order. The atomic append-and-prune is what lets concurrent guard
// checks from several processes agree on the restart count.
func RecordRestart(ctx context.Context, now time.Time) ([]time.Time, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var timestamps []time.Time
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&domain.RestartEvent{OccurredAt: now}).Error; err != nil {
			return err
		}

		cutoff := now.Add(-restartRetention)
		if err := tx.Where("occurred_at < ?", cutoff).Delete(&domain.RestartEvent{}).Error; err != nil {
			return err
		}

		return tx.Model(&domain.RestartEvent{}).
			Order("occurred_at ASC").
			Pluck("occurred_at", &timestamps).Error
	})
	if err != nil {
		return nil, err
	}
	return timestamps, nil
}

// GetRestartTimestamps returns the retained restart history, oldest first.
func GetRestartTimestamps(ctx context.Context) ([]time.Time, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var timestamps []time.Time
	err := db.Model(&domain.RestartEvent{}).
		Order("occurred_at ASC").
		Pluck("occurred_at", &timestamps).Error
	if err != nil {
		return nil, err
	}
	return timestamps, nil
}

// RecordAuthAttempt logs one portal authentication outcome.
func RecordAuthAttempt(ctx context.Context, source string, succeeded bool, detail string) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	attempt := domain.AuthAttempt{
		Source:     source,
		Succeeded:  succeeded,
		OccurredAt: time.Now().UTC(),
		Detail:     detail,
	}
	return db.Create(&attempt).Error
}

// CountRecentAuthFailures counts failed authentications inside the trailing
// window, across all sources.
func CountRecentAuthFailures(ctx context.Context, window time.Duration) (int, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	cutoff := time.Now().UTC().Add(-window)
	var count int64
	err := db.Model(&domain.AuthAttempt{}).
		Where("succeeded = ? AND occurred_at >= ?", false, cutoff).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetActiveBypass returns the unexpired bypass if one exists.
func GetActiveBypass(ctx context.Context, now time.Time) (*domain.ProtectionBypass, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var bypass domain.ProtectionBypass
	err := db.Where("active = ? AND expires_at > ?", true, now).
		Order("expires_at DESC").
		First(&bypass).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bypass, nil
}

// CreateBypass deactivates any previous bypass and installs the new one.
func CreateBypass(ctx context.Context, reason string, duration time.Duration) (*domain.ProtectionBypass, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	now := time.Now().UTC()
	bypass := domain.ProtectionBypass{
		Reason:    reason,
		ExpiresAt: now.Add(duration),
		Active:    true,
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.ProtectionBypass{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(&bypass).Error
	})
	if err != nil {
		return nil, err
	}
	return &bypass, nil
}

// ClearProtectionState drops restart and auth-failure history. Operator
// action behind the admin API, never invoked automatically.
func ClearProtectionState(ctx context.Context) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&domain.RestartEvent{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&domain.AuthAttempt{}).Error
	})
}

// RecordProtectionEvent writes one audit row for a guard trip.
func RecordProtectionEvent(ctx context.Context, kind, detail string) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	event := domain.ProtectionEvent{
		Kind:       kind,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
	return db.Create(&event).Error
}

// ListProtectionEvents returns the newest audit rows, bounded by limit.
func ListProtectionEvents(ctx context.Context, limit int) ([]domain.ProtectionEvent, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var events []domain.ProtectionEvent
	if err := db.Order("occurred_at DESC, id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
