package domain

import "time"

// CollectionRun records one attempt by one source adapter, successful or not.
// Rows are immutable once written and FIFO-evicted past the history bound.
type CollectionRun struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Source     string    `gorm:"size:64;not null;index"`
	StartedAt  time.Time `gorm:"not null;index"`
	FinishedAt time.Time `gorm:"not null"`

	Success      bool   `gorm:"not null"`
	ItemCount    int    `gorm:"not null;default:0"`
	ErrorMessage string `gorm:"size:1024"`
}

// Duration is the wall-clock span of the run.
func (r *CollectionRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
