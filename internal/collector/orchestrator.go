package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"blacklist/internal/cache"
	"blacklist/internal/config"
	"blacklist/internal/database"
	"blacklist/internal/domain"
	"blacklist/internal/protection"
	"blacklist/internal/support"

	"github.com/charmbracelet/log"
)

const (
	maxPagesPerRun      = 200
	collectionLockTTL   = 30 * time.Minute
	collectionLockScope = "blacklist:lock:collect:"
)

var (
	// ErrSourceBusy rejects a trigger for a source that is already mid-run.
	ErrSourceBusy = errors.New("collection already running for this source")
	// ErrUnknownSource rejects a trigger for a source with no adapter.
	ErrUnknownSource = errors.New("unknown collection source")
)

// ProtectionBlockedError carries the guard's reason verbatim. A blocked run
// has zero side effects: nothing was fetched, nothing was written.
type ProtectionBlockedError struct {
	Reason string
}

func (e *ProtectionBlockedError) Error() string {
	return "collection blocked by protection guard: " + e.Reason
}

// Orchestrator composes one collection run: guard check, authentication,
// paginated fetch and parse, normalization, upsert, and a history entry for
// every outcome. At most one run per source is in flight at a time, locally
// via the running set and across processes via a Redis lock.
type Orchestrator struct {
	guard *protection.Guard
	creds CredentialStore
	cache *cache.Layer

	mu       sync.Mutex
	adapters map[string]SourceAdapter
	running  map[string]bool
}

func NewOrchestrator(guard *protection.Guard, creds CredentialStore, cacheLayer *cache.Layer) *Orchestrator {
	return &Orchestrator{
		guard:    guard,
		creds:    creds,
		cache:    cacheLayer,
		adapters: make(map[string]SourceAdapter),
		running:  make(map[string]bool),
	}
}

// Register adds an adapter; later registrations for the same name replace
// earlier ones.
func (o *Orchestrator) Register(adapter SourceAdapter) {
	o.mu.Lock()
	o.adapters[adapter.Name()] = adapter
	o.mu.Unlock()
}

// Sources lists the registered adapter names.
func (o *Orchestrator) Sources() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	names := make([]string, 0, len(o.adapters))
	for name := range o.adapters {
		names = append(names, name)
	}
	return names
}

// IsRunning reports whether a run for source is currently in flight in this
// process.
func (o *Orchestrator) IsRunning(source string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[source]
}

// Collect runs one synchronous collection for source. force skips the
// protection guard (operator-triggered runs only).
func (o *Orchestrator) Collect(ctx context.Context, source string, dateRange DateRange, force bool) (domain.CollectionRun, error) {
	o.mu.Lock()
	adapter, known := o.adapters[source]
	if !known {
		o.mu.Unlock()
		return domain.CollectionRun{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	if o.running[source] {
		o.mu.Unlock()
		return domain.CollectionRun{}, ErrSourceBusy
	}
	o.running[source] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.running, source)
		o.mu.Unlock()
	}()

	if !force {
		if safe, reason := o.guard.IsCollectionSafeToEnable(ctx); !safe {
			return domain.CollectionRun{}, &ProtectionBlockedError{Reason: reason}
		}
	}

	lock, err := support.AcquireSourceLock(ctx, collectionLockScope+source, collectionLockTTL)
	if err != nil {
		if errors.Is(err, support.ErrLockHeld) {
			return domain.CollectionRun{}, ErrSourceBusy
		}
		return domain.CollectionRun{}, err
	}
	defer lock.Release()

	runCtx, cancel := context.WithTimeout(ctx, runTimeout())
	defer cancel()

	run := o.collect(runCtx, adapter, dateRange)

	// Record with a fresh context: a cancelled run still gets its history
	// entry.
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer recordCancel()

	if err := database.AddCollectionRun(recordCtx, run); err != nil {
		// The run itself already happened; a history write failure must be
		// loud because nothing else records the outcome.
		log.Error("Failed to record collection run", "source", source, "error", err)
	}

	if run.Success {
		o.invalidateReadCaches(ctx, source)
		log.Info("Collection run finished", "source", source, "items", run.ItemCount)
		return run, nil
	}

	log.Warn("Collection run failed", "source", source, "error", run.ErrorMessage)
	return run, errors.New(run.ErrorMessage)
}

// TriggerAsync validates the request synchronously (guard verdict and busy
// state surface to the HTTP caller) and runs the collection in the
// background.
func (o *Orchestrator) TriggerAsync(ctx context.Context, source string, dateRange DateRange, force bool) error {
	o.mu.Lock()
	_, known := o.adapters[source]
	busy := o.running[source]
	o.mu.Unlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	if busy {
		return ErrSourceBusy
	}
	if !force {
		if safe, reason := o.guard.IsCollectionSafeToEnable(ctx); !safe {
			return &ProtectionBlockedError{Reason: reason}
		}
	}

	go func() {
		// Detach from the request context; the run outlives the HTTP call.
		if _, err := o.Collect(context.Background(), source, dateRange, force); err != nil {
			var blocked *ProtectionBlockedError
			if errors.Is(err, ErrSourceBusy) || errors.As(err, &blocked) {
				log.Warn("Triggered collection was rejected", "source", source, "error", err)
				return
			}
			log.Error("Triggered collection failed", "source", source, "error", err)
		}
	}()

	return nil
}

// collect performs the fetch/parse/normalize/upsert pipeline and always
// returns a run record, including for cancellations mid-pagination.
func (o *Orchestrator) collect(ctx context.Context, adapter SourceAdapter, dateRange DateRange) domain.CollectionRun {
	source := adapter.Name()
	run := domain.CollectionRun{
		Source:    source,
		StartedAt: time.Now().UTC(),
	}

	fail := func(err error) domain.CollectionRun {
		run.FinishedAt = time.Now().UTC()
		run.Success = false
		run.ErrorMessage = err.Error()
		return run
	}

	creds, err := o.creds.Lookup(source)
	if err != nil {
		return fail(err)
	}

	session, err := adapter.Authenticate(ctx, creds)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			if logErr := database.RecordAuthAttempt(ctx, source, false, authErr.Error()); logErr != nil {
				log.Error("Failed to log auth failure", "source", source, "error", logErr)
			}
		}
		return fail(err)
	}
	if err := database.RecordAuthAttempt(ctx, source, true, ""); err != nil {
		log.Error("Failed to log auth success", "source", source, "error", err)
	}

	size := pageSize()
	totalDropped := 0

	for page := 1; page <= maxPagesPerRun; page++ {
		if ctx.Err() != nil {
			return fail(fmt.Errorf("collection cancelled after %d items: %w", run.ItemCount, ctx.Err()))
		}

		payload, err := o.fetchWithRetry(ctx, adapter, session, dateRange, page)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				if logErr := database.RecordAuthAttempt(ctx, source, false, authErr.Error()); logErr != nil {
					log.Error("Failed to log auth failure", "source", source, "error", logErr)
				}
			}
			return fail(err)
		}

		rawRecords, skipped, err := Parse(payload)
		if err != nil {
			return fail(err)
		}

		normalized := Normalize(rawRecords, source, config.RetentionPeriod())
		totalDropped += normalized.Dropped + skipped

		if _, err := database.UpsertThreatRecords(ctx, normalized.Records); err != nil {
			return fail(fmt.Errorf("store upsert failed after %d items: %w", run.ItemCount, err))
		}
		run.ItemCount += len(normalized.Records)

		if normalized.Degraded > 0 {
			log.Debug("Records ingested with degraded detection dates",
				"source", source, "page", page, "degraded", normalized.Degraded)
		}

		// The last page is the one the portal returned short. Rows the
		// parser skipped still occupied slots on the page, so they count
		// towards the size check or a single bad row would end the run.
		if len(rawRecords)+skipped < size {
			break
		}
	}

	if totalDropped > 0 {
		log.Debug("Records dropped during normalization", "source", source, "dropped", totalDropped)
	}

	run.FinishedAt = time.Now().UTC()
	run.Success = true
	return run
}

// fetchWithRetry retries network failures with linear backoff. Auth and
// parse errors pass through untouched: retrying cannot fix either.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, adapter SourceAdapter, session *Session, dateRange DateRange, page int) (RawPayload, error) {
	cfg := config.GetConfig()
	retries := int(cfg.Collector.Retries)
	backoff := time.Duration(cfg.Collector.RetryBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return RawPayload{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * backoff):
			}
		}

		payload, err := adapter.Fetch(ctx, session, dateRange, page)
		if err == nil {
			return payload, nil
		}

		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			return RawPayload{}, err
		}

		lastErr = err
		log.Warn("Fetch failed, will retry", "source", adapter.Name(), "page", page, "attempt", attempt+1, "error", err)
	}

	return RawPayload{}, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (o *Orchestrator) invalidateReadCaches(ctx context.Context, source string) {
	if o.cache == nil {
		return
	}
	o.cache.Invalidate(ctx,
		cache.KeyActiveIPs(""),
		cache.KeyActiveIPs(source),
		cache.KeyConnectorExport,
		cache.KeyStatistics,
	)
}

func runTimeout() time.Duration {
	ms := config.GetConfig().Collector.RunTimeoutMs
	if ms == 0 {
		return 10 * time.Minute
	}
	return time.Duration(ms) * time.Millisecond
}
