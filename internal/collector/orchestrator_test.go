package collector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"blacklist/internal/database"
	"blacklist/internal/domain"
	"blacklist/internal/protection"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupCollectorTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}

	if _, err := database.SetupDB(database.WithExistingDB(db)); err != nil {
		t.Fatalf("setup db: %v", err)
	}

	return db
}

type stubCredentials struct{}

func (stubCredentials) Lookup(source string) (Credentials, error) {
	return Credentials{Username: "svc", Password: "secret"}, nil
}

// fakeAdapter drives the orchestrator without any network traffic.
type fakeAdapter struct {
	name     string
	authErr  error
	fetchErr error
	pages    [][]RawRecord
	// structuredPages serves raw JSON rows verbatim, so a page can carry
	// rows the parser will reject.
	structuredPages [][]any
	fetches         atomic.Int32
	onFetch         func(page int)
	fullPages       bool
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &Session{Source: f.name, CreatedAt: time.Now()}, nil
}

func (f *fakeAdapter) Fetch(ctx context.Context, session *Session, dateRange DateRange, page int) (RawPayload, error) {
	f.fetches.Add(1)
	if f.onFetch != nil {
		f.onFetch(page)
	}
	if f.fetchErr != nil {
		return RawPayload{}, f.fetchErr
	}

	var records []any
	if f.structuredPages != nil {
		if page <= len(f.structuredPages) {
			records = f.structuredPages[page-1]
		}
	} else if f.fullPages {
		// Keep the page exactly at the page-size bound so pagination
		// continues until the context is cancelled.
		for i := 0; i < 100; i++ {
			records = append(records, map[string]any{
				"ip":   fmt.Sprintf("203.0.%d.%d", page%256, i%256),
				"date": "2026-02-01",
			})
		}
	} else if page <= len(f.pages) {
		for _, record := range f.pages[page-1] {
			records = append(records, map[string]any{
				"ip":     record.IP,
				"date":   record.DetectionDate,
				"reason": record.Reason,
			})
		}
	}

	return RawPayload{Kind: PayloadStructured, Structured: map[string]any{"data": records}}, nil
}

func permissiveGuard(t *testing.T) *protection.Guard {
	t.Helper()
	return protection.New(protection.NewGormStorage(), func() protection.Options {
		return protection.Options{
			RestartThreshold:     1000,
			RestartWindow:        10 * time.Minute,
			AuthFailureThreshold: 1000,
			AuthFailureWindow:    time.Hour,
		}
	})
}

func blockingGuard(t *testing.T) *protection.Guard {
	t.Helper()
	return protection.New(protection.NewGormStorage(), func() protection.Options {
		return protection.Options{
			ForceDisable:         true,
			RestartThreshold:     1000,
			RestartWindow:        10 * time.Minute,
			AuthFailureThreshold: 1000,
			AuthFailureWindow:    time.Hour,
		}
	})
}

func testDateRange() DateRange {
	now := time.Now().UTC()
	return DateRange{Start: now.Add(-24 * time.Hour), End: now}
}

func TestCollectSuccessWritesRecordsAndHistory(t *testing.T) {
	db := setupCollectorTestDB(t)

	adapter := &fakeAdapter{
		name: "faketech",
		pages: [][]RawRecord{{
			{IP: "1.2.3.4", DetectionDate: "2026-02-01", Reason: "scan"},
			{IP: "5.6.7.8", DetectionDate: "2026-02-02", Reason: "bruteforce"},
		}},
	}

	orchestrator := NewOrchestrator(permissiveGuard(t), stubCredentials{}, nil)
	orchestrator.Register(adapter)

	run, err := orchestrator.Collect(context.Background(), "faketech", testDateRange(), false)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !run.Success || run.ItemCount != 2 {
		t.Fatalf("run = %+v, want success with 2 items", run)
	}

	var threats int64
	if err := db.Model(&domain.ThreatRecord{}).Count(&threats).Error; err != nil {
		t.Fatalf("count threats: %v", err)
	}
	if threats != 2 {
		t.Fatalf("stored %d threat records, want 2", threats)
	}

	runs, err := database.GetRecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 || !runs[0].Success {
		t.Fatalf("history = %+v, want exactly one successful run", runs)
	}

	// The successful login must be on record for the protection guard.
	var attempts []domain.AuthAttempt
	if err := db.Find(&attempts).Error; err != nil {
		t.Fatalf("load auth attempts: %v", err)
	}
	if len(attempts) != 1 || !attempts[0].Succeeded {
		t.Fatalf("auth attempts = %+v, want one success", attempts)
	}
}

func TestCollectBlockedHasZeroSideEffects(t *testing.T) {
	db := setupCollectorTestDB(t)

	adapter := &fakeAdapter{name: "faketech"}
	orchestrator := NewOrchestrator(blockingGuard(t), stubCredentials{}, nil)
	orchestrator.Register(adapter)

	_, err := orchestrator.Collect(context.Background(), "faketech", testDateRange(), false)

	var blocked *ProtectionBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected ProtectionBlockedError, got %v", err)
	}
	if blocked.Reason != protection.ReasonForceDisabled {
		t.Fatalf("reason = %q, want %q", blocked.Reason, protection.ReasonForceDisabled)
	}

	if adapter.fetches.Load() != 0 {
		t.Fatal("blocked run must never reach the adapter")
	}

	var runCount int64
	if err := db.Model(&domain.CollectionRun{}).Count(&runCount).Error; err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if runCount != 0 {
		t.Fatalf("blocked run wrote %d history entries, want 0", runCount)
	}
}

func TestCollectForceSkipsGuard(t *testing.T) {
	setupCollectorTestDB(t)

	adapter := &fakeAdapter{
		name:  "faketech",
		pages: [][]RawRecord{{{IP: "1.2.3.4", DetectionDate: "2026-02-01"}}},
	}
	orchestrator := NewOrchestrator(blockingGuard(t), stubCredentials{}, nil)
	orchestrator.Register(adapter)

	run, err := orchestrator.Collect(context.Background(), "faketech", testDateRange(), true)
	if err != nil {
		t.Fatalf("forced collect: %v", err)
	}
	if !run.Success {
		t.Fatalf("forced run failed: %+v", run)
	}
}

func TestCollectCancellationRecordsFailedRun(t *testing.T) {
	setupCollectorTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())

	adapter := &fakeAdapter{name: "faketech", fullPages: true}
	adapter.onFetch = func(page int) {
		if page == 2 {
			cancel()
		}
	}

	orchestrator := NewOrchestrator(permissiveGuard(t), stubCredentials{}, nil)
	orchestrator.Register(adapter)

	run, err := orchestrator.Collect(ctx, "faketech", testDateRange(), false)
	if err == nil {
		t.Fatal("cancelled run must return an error")
	}
	if run.Success {
		t.Fatalf("cancelled run marked successful: %+v", run)
	}
	if run.ItemCount == 0 {
		t.Fatal("items collected before cancellation must be preserved in the run record")
	}

	// Exactly one history entry, recorded as failed.
	runs, histErr := database.GetRecentRuns(context.Background(), 10)
	if histErr != nil {
		t.Fatalf("recent runs: %v", histErr)
	}
	if len(runs) != 1 || runs[0].Success {
		t.Fatalf("history = %+v, want one failed run", runs)
	}
}

func TestCollectPaginationContinuesPastSkippedRows(t *testing.T) {
	setupCollectorTestDB(t)

	// Page 1 is full: 99 parseable rows plus one row without an address.
	// Page 2 is short, so the run must fetch exactly two pages.
	page1 := make([]any, 0, 100)
	for i := 0; i < 99; i++ {
		page1 = append(page1, map[string]any{
			"ip":   fmt.Sprintf("203.0.113.%d", i+1),
			"date": "2026-02-01",
		})
	}
	page1 = append(page1, map[string]any{"note": "row without an address"})

	page2 := make([]any, 0, 50)
	for i := 0; i < 50; i++ {
		page2 = append(page2, map[string]any{
			"ip":   fmt.Sprintf("198.51.100.%d", i+1),
			"date": "2026-02-02",
		})
	}

	adapter := &fakeAdapter{
		name:            "faketech",
		structuredPages: [][]any{page1, page2},
	}

	orchestrator := NewOrchestrator(permissiveGuard(t), stubCredentials{}, nil)
	orchestrator.Register(adapter)

	run, err := orchestrator.Collect(context.Background(), "faketech", testDateRange(), false)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !run.Success {
		t.Fatalf("run failed: %+v", run)
	}

	if got := adapter.fetches.Load(); got != 2 {
		t.Fatalf("fetched %d pages, want 2 (a skipped row must not end pagination)", got)
	}
	if run.ItemCount != 149 {
		t.Fatalf("item count = %d, want 149", run.ItemCount)
	}
}

func TestCollectAuthFailureFeedsGuardCounter(t *testing.T) {
	db := setupCollectorTestDB(t)

	adapter := &fakeAdapter{
		name:    "faketech",
		authErr: &AuthError{Source: "faketech", Err: errors.New("bad credentials")},
	}
	orchestrator := NewOrchestrator(permissiveGuard(t), stubCredentials{}, nil)
	orchestrator.Register(adapter)

	_, err := orchestrator.Collect(context.Background(), "faketech", testDateRange(), false)
	if err == nil {
		t.Fatal("auth failure must fail the run")
	}

	var attempts []domain.AuthAttempt
	if err := db.Find(&attempts).Error; err != nil {
		t.Fatalf("load auth attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Succeeded {
		t.Fatalf("auth attempts = %+v, want one failure", attempts)
	}

	count, err := database.CountRecentAuthFailures(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("count failures: %v", err)
	}
	if count != 1 {
		t.Fatalf("guard counter = %d, want 1", count)
	}
}

func TestCollectUnknownSource(t *testing.T) {
	setupCollectorTestDB(t)

	orchestrator := NewOrchestrator(permissiveGuard(t), stubCredentials{}, nil)

	_, err := orchestrator.Collect(context.Background(), "nope", testDateRange(), false)
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestFetchWithRetryOnlyRetriesNetworkErrors(t *testing.T) {
	setupCollectorTestDB(t)

	adapter := &fakeAdapter{
		name:     "faketech",
		fetchErr: &ParseError{Kind: PayloadTabular, Err: errors.New("garbage")},
	}
	orchestrator := NewOrchestrator(permissiveGuard(t), stubCredentials{}, nil)
	orchestrator.Register(adapter)

	_, err := orchestrator.Collect(context.Background(), "faketech", testDateRange(), false)
	if err == nil {
		t.Fatal("parse error must fail the run")
	}
	if adapter.fetches.Load() != 1 {
		t.Fatalf("fetch ran %d times, want 1 (parse errors are not retried)", adapter.fetches.Load())
	}
}
