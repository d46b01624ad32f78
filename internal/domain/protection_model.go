package domain

import "time"

// RestartEvent is one observed process startup. The protection guard prunes
// events older than 24 hours inside the same transaction that appends.
type RestartEvent struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	OccurredAt time.Time `gorm:"not null;index"`
}

// ProtectionBypass is an operator-issued override that forces the guard to a
// Safe verdict until it expires.
type ProtectionBypass struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Reason    string    `gorm:"size:512;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
	Active    bool      `gorm:"not null;default:true"`
}

// IsExpired reports whether the bypass window has passed.
func (b *ProtectionBypass) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// AuthAttempt logs one authentication against an external portal. The guard
// only reads failures inside its trailing window; the log itself is written
// by the collection orchestrator.
type AuthAttempt struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Source     string    `gorm:"size:64;not null;index"`
	Succeeded  bool      `gorm:"not null"`
	OccurredAt time.Time `gorm:"not null;index"`
	Detail     string    `gorm:"size:512"`
}

// ProtectionEvent is an audit row written whenever the guard trips.
type ProtectionEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Kind       string    `gorm:"size:64;not null;index"`
	Detail     string    `gorm:"size:512"`
	OccurredAt time.Time `gorm:"not null;index"`
}
