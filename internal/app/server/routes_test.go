package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blacklist/internal/cache"
	"blacklist/internal/collector"
	"blacklist/internal/database"
	"blacklist/internal/domain"
	"blacklist/internal/protection"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupServerTest(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	if _, err := database.SetupDB(database.WithExistingDB(db)); err != nil {
		t.Fatalf("setup db: %v", err)
	}

	guard := protection.New(protection.NewGormStorage(), func() protection.Options {
		return protection.Options{
			RestartThreshold:     1000,
			RestartWindow:        10 * time.Minute,
			AuthFailureThreshold: 1000,
			AuthFailureWindow:    time.Hour,
		}
	})

	Configure(collector.NewOrchestrator(guard, collector.EnvCredentialStore{}, nil), guard, cache.New(nil, 64))

	return db
}

func activeThreat(ip, source string) domain.ThreatRecord {
	now := time.Now().UTC()
	return domain.ThreatRecord{
		IP:             ip,
		Source:         source,
		Category:       "scan",
		Confidence:     0.5,
		DetectionDate:  now.Add(-24 * time.Hour),
		CollectionDate: now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func TestSearchIPRejectsInvalidAddress(t *testing.T) {
	setupServerTest(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/search/not-an-ip", nil)
	request.SetPathValue("ip", "not-an-ip")

	searchIP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestSearchIPFoundAndMissing(t *testing.T) {
	db := setupServerTest(t)

	record := activeThreat("1.2.3.4", "regtech")
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("create record: %v", err)
	}

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/search/1.2.3.4", nil)
	request.SetPathValue("ip", "1.2.3.4")
	searchIP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var result struct {
		Found   bool                  `json:"found"`
		Records []domain.ThreatRecord `json:"records"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Found || len(result.Records) != 1 {
		t.Fatalf("result = %+v, want one record found", result)
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/api/search/5.6.7.8", nil)
	request.SetPathValue("ip", "5.6.7.8")
	searchIP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a clean miss", recorder.Code)
	}
	if err := json.NewDecoder(recorder.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Found {
		t.Fatal("unknown IP reported as found")
	}
}

func TestSearchBatchValidation(t *testing.T) {
	setupServerTest(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"ips": []}`))
	searchBatch(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("empty batch status = %d, want 400", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"ips": ["1.2.3.4", "garbage"]}`))
	searchBatch(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("mixed batch status = %d, want 200", recorder.Code)
	}

	var result struct {
		Results []struct {
			IP    string `json:"ip"`
			Found bool   `json:"found"`
		} `json:"results"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("got %d results, want 2 (invalid entries reported, not dropped)", len(result.Results))
	}
}

func TestGetActiveBlacklistCachesResponse(t *testing.T) {
	db := setupServerTest(t)

	record := activeThreat("1.2.3.4", "regtech")
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("create record: %v", err)
	}

	recorder := httptest.NewRecorder()
	getActiveBlacklist(recorder, httptest.NewRequest(http.MethodGet, "/api/blacklist/active", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var first struct {
		Count int      `json:"count"`
		IPs   []string `json:"ips"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Count != 1 || first.IPs[0] != "1.2.3.4" {
		t.Fatalf("response = %+v", first)
	}

	// A row added behind the cache is invisible until invalidation.
	late := activeThreat("5.6.7.8", "regtech")
	if err := db.Create(&late).Error; err != nil {
		t.Fatalf("create record: %v", err)
	}

	recorder = httptest.NewRecorder()
	getActiveBlacklist(recorder, httptest.NewRequest(http.MethodGet, "/api/blacklist/active", nil))
	var second struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Count != 1 {
		t.Fatalf("count = %d, want the cached 1", second.Count)
	}
}

func TestTriggerCollectionUnknownSource(t *testing.T) {
	setupServerTest(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/collection/trigger/nope", nil)
	request.SetPathValue("source", "nope")
	triggerCollection(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

func TestTriggerCollectionBlockedByGuard(t *testing.T) {
	setupServerTest(t)

	blocked := protection.New(protection.NewGormStorage(), func() protection.Options {
		return protection.Options{ForceDisable: true, RestartThreshold: 3, RestartWindow: 10 * time.Minute, AuthFailureThreshold: 10, AuthFailureWindow: time.Hour}
	})
	orchestrator = collector.NewOrchestrator(blocked, collector.EnvCredentialStore{}, nil)
	orchestrator.Register(&noopAdapter{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/collection/trigger/noop", nil)
	request.SetPathValue("source", "noop")
	triggerCollection(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["reason"] != protection.ReasonForceDisabled {
		t.Fatalf("reason = %q, want %q", body["reason"], protection.ReasonForceDisabled)
	}
}

func TestTriggerCollectionInvalidDates(t *testing.T) {
	setupServerTest(t)

	recorder := httptest.NewRecorder()
	body := strings.NewReader(`{"start_date": "2026-02-10", "end_date": "2026-02-01"}`)
	request := httptest.NewRequest(http.MethodPost, "/api/collection/trigger/regtech", body)
	request.SetPathValue("source", "regtech")
	triggerCollection(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an inverted range", recorder.Code)
	}
}

func TestGetProtectionStatus(t *testing.T) {
	setupServerTest(t)

	recorder := httptest.NewRecorder()
	getProtectionStatus(recorder, httptest.NewRequest(http.MethodGet, "/api/protection/status", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var status struct {
		Safe bool `json:"safe"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Safe {
		t.Fatal("fresh state must report safe")
	}
}

type noopAdapter struct{}

func (*noopAdapter) Name() string { return "noop" }

func (*noopAdapter) Authenticate(ctx context.Context, creds collector.Credentials) (*collector.Session, error) {
	return &collector.Session{Source: "noop"}, nil
}

func (*noopAdapter) Fetch(ctx context.Context, session *collector.Session, dateRange collector.DateRange, page int) (collector.RawPayload, error) {
	return collector.RawPayload{Kind: collector.PayloadStructured, Structured: map[string]any{"data": []any{}}}, nil
}
