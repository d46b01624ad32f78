package protection

import (
	"context"
	"time"

	"blacklist/internal/config"
	"blacklist/internal/domain"

	"github.com/charmbracelet/log"
)

// Reasons returned verbatim to callers when the guard blocks a run.
const (
	ReasonForceDisabled = "collection force-disabled by configuration"
	ReasonRapidRestart  = "rapid restart"
	ReasonAuthFailures  = "auth failure threshold exceeded"
	ReasonStateUnknown  = "protection state unavailable"
)

// Storage is the persistence boundary of the guard. The production
// implementation is backed by the relational store; tests inject fakes.
// Restart append-and-prune must be atomic so concurrent checks from several
// processes agree on the restart count.
type Storage interface {
	RecordRestart(ctx context.Context, now time.Time) ([]time.Time, error)
	GetRestartTimestamps(ctx context.Context) ([]time.Time, error)
	CountRecentAuthFailures(ctx context.Context, window time.Duration) (int, error)
	GetActiveBypass(ctx context.Context, now time.Time) (*domain.ProtectionBypass, error)
	CreateBypass(ctx context.Context, reason string, duration time.Duration) (*domain.ProtectionBypass, error)
	ClearState(ctx context.Context) error
	RecordEvent(ctx context.Context, kind, detail string) error
}

// Options are the tunable thresholds of the guard.
type Options struct {
	ForceDisable         bool
	RestartThreshold     int
	RestartWindow        time.Duration
	AuthFailureThreshold int
	AuthFailureWindow    time.Duration
}

// OptionsFromConfig derives guard thresholds from the live configuration.
func OptionsFromConfig() Options {
	cfg := config.GetConfig()

	opts := Options{
		ForceDisable:         cfg.Protection.ForceDisable,
		RestartThreshold:     cfg.Protection.RestartThreshold,
		RestartWindow:        time.Duration(cfg.Protection.RestartWindowMinutes) * time.Minute,
		AuthFailureThreshold: cfg.Protection.AuthFailureThreshold,
		AuthFailureWindow:    time.Duration(cfg.Protection.AuthFailureWindowMinutes) * time.Minute,
	}

	if opts.RestartThreshold <= 0 {
		opts.RestartThreshold = 3
	}
	if opts.RestartWindow <= 0 {
		opts.RestartWindow = 10 * time.Minute
	}
	if opts.AuthFailureThreshold <= 0 {
		opts.AuthFailureThreshold = 10
	}
	if opts.AuthFailureWindow <= 0 {
		opts.AuthFailureWindow = time.Hour
	}

	return opts
}

// Guard decides whether a collection run may start. Verdicts are computed
// fresh on every check; the only state lives behind Storage.
type Guard struct {
	storage Storage
	options func() Options
	now     func() time.Time
}

// Status is the externally visible guard state.
type Status struct {
	Safe               bool                     `json:"safe"`
	Reason             string                   `json:"reason,omitempty"`
	RestartCount       int                      `json:"restart_count"`
	RecentAuthFailures int                      `json:"recent_auth_failures"`
	Bypass             *domain.ProtectionBypass `json:"bypass,omitempty"`
}

func New(storage Storage, options func() Options) *Guard {
	if options == nil {
		options = OptionsFromConfig
	}
	return &Guard{
		storage: storage,
		options: options,
		now:     time.Now,
	}
}

// RegisterRestart persists the current startup into the restart history.
// Called exactly once per process start, before the first guard check.
func (g *Guard) RegisterRestart(ctx context.Context) error {
	now := g.now().UTC()

	timestamps, err := g.storage.RecordRestart(ctx, now)
	if err != nil {
		return err
	}

	opts := g.options()
	if countWithinWindow(timestamps, now, opts.RestartWindow) >= opts.RestartThreshold {
		log.Warn("Rapid restart pattern detected at startup", "restarts", len(timestamps), "window", opts.RestartWindow)
	}

	return nil
}

// IsCollectionSafeToEnable evaluates, in order: the force-disable flag, an
// unexpired operator bypass, rapid-restart detection and the recent auth
// failure count. Any failure to read persisted state blocks the run; the
// guard never fails open.
func (g *Guard) IsCollectionSafeToEnable(ctx context.Context) (bool, string) {
	opts := g.options()
	now := g.now().UTC()

	if opts.ForceDisable {
		return false, ReasonForceDisabled
	}

	bypass, err := g.storage.GetActiveBypass(ctx, now)
	if err != nil {
		log.Error("Protection guard: bypass lookup failed", "error", err)
		return false, ReasonStateUnknown
	}
	if bypass != nil {
		return true, "bypass active: " + bypass.Reason
	}

	timestamps, err := g.storage.GetRestartTimestamps(ctx)
	if err != nil {
		log.Error("Protection guard: restart history unavailable", "error", err)
		return false, ReasonStateUnknown
	}

	if g.detectRapidRestart(timestamps, now, opts) {
		if err := g.storage.RecordEvent(ctx, "rapid_restart", ReasonRapidRestart); err != nil {
			log.Error("Protection guard: failed to record protection event", "error", err)
		}
		return false, ReasonRapidRestart
	}

	failures, err := g.storage.CountRecentAuthFailures(ctx, opts.AuthFailureWindow)
	if err != nil {
		log.Error("Protection guard: auth failure history unavailable", "error", err)
		return false, ReasonStateUnknown
	}
	if failures >= opts.AuthFailureThreshold {
		return false, ReasonAuthFailures
	}

	return true, ""
}

// DetectRapidRestart reports whether the restart threshold was reached
// inside the trailing window.
func (g *Guard) DetectRapidRestart(ctx context.Context) (bool, error) {
	timestamps, err := g.storage.GetRestartTimestamps(ctx)
	if err != nil {
		return false, err
	}
	return g.detectRapidRestart(timestamps, g.now().UTC(), g.options()), nil
}

func (g *Guard) detectRapidRestart(timestamps []time.Time, now time.Time, opts Options) bool {
	return countWithinWindow(timestamps, now, opts.RestartWindow) >= opts.RestartThreshold
}

func countWithinWindow(timestamps []time.Time, now time.Time, window time.Duration) int {
	windowStart := now.Add(-window)
	// Storage already prunes to 24h, but never let an older row contribute.
	retentionStart := now.Add(-24 * time.Hour)
	if windowStart.Before(retentionStart) {
		windowStart = retentionStart
	}

	count := 0
	for _, ts := range timestamps {
		if !ts.Before(windowStart) && !ts.After(now) {
			count++
		}
	}
	return count
}

// CreateBypass installs an operator override for the given duration.
func (g *Guard) CreateBypass(ctx context.Context, reason string, duration time.Duration) (*domain.ProtectionBypass, error) {
	bypass, err := g.storage.CreateBypass(ctx, reason, duration)
	if err != nil {
		return nil, err
	}

	if err := g.storage.RecordEvent(ctx, "bypass_created", reason); err != nil {
		log.Error("Protection guard: failed to record bypass event", "error", err)
	}

	log.Info("Protection bypass created", "reason", reason, "expires_at", bypass.ExpiresAt)
	return bypass, nil
}

// ResetProtectionState clears restart and auth-failure history.
func (g *Guard) ResetProtectionState(ctx context.Context) error {
	if err := g.storage.ClearState(ctx); err != nil {
		return err
	}

	if err := g.storage.RecordEvent(ctx, "state_reset", "protection state cleared by operator"); err != nil {
		log.Error("Protection guard: failed to record reset event", "error", err)
	}

	log.Info("Protection state reset")
	return nil
}

// GetStatus assembles the current verdict together with its inputs.
func (g *Guard) GetStatus(ctx context.Context) Status {
	safe, reason := g.IsCollectionSafeToEnable(ctx)
	status := Status{Safe: safe, Reason: reason}

	now := g.now().UTC()
	opts := g.options()

	if timestamps, err := g.storage.GetRestartTimestamps(ctx); err == nil {
		status.RestartCount = countWithinWindow(timestamps, now, opts.RestartWindow)
	}
	if failures, err := g.storage.CountRecentAuthFailures(ctx, opts.AuthFailureWindow); err == nil {
		status.RecentAuthFailures = failures
	}
	if bypass, err := g.storage.GetActiveBypass(ctx, now); err == nil {
		status.Bypass = bypass
	}

	return status
}
