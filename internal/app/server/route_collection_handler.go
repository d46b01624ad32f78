package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blacklist/internal/api/dto"
	"blacklist/internal/cache"
	"blacklist/internal/collector"
	"blacklist/internal/database"

	"github.com/charmbracelet/log"
)

const (
	defaultHistoryLimit    = 50
	defaultTriggerLookback = 7 * 24 * time.Hour
	triggerDateLayout      = "2006-01-02"
)

func triggerCollection(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.PathValue("source"))
	if source == "" {
		writeError(w, "Missing source", http.StatusBadRequest)
		return
	}

	var request dto.TriggerCollectionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeError(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}

	dateRange, err := resolveDateRange(request.StartDate, request.EndDate)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := orchestrator.TriggerAsync(r.Context(), source, dateRange, request.Force); err != nil {
		var blocked *collector.ProtectionBlockedError
		switch {
		case errors.Is(err, collector.ErrUnknownSource):
			writeError(w, "Unknown source", http.StatusNotFound)
		case errors.Is(err, collector.ErrSourceBusy):
			writeError(w, "Collection already running for this source", http.StatusConflict)
		case errors.As(err, &blocked):
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error":  "Collection blocked by protection",
				"reason": blocked.Reason,
			})
		default:
			log.Error("error triggering collection", "source", source, "error", err.Error())
			writeError(w, "Failed to trigger collection", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"source": source,
	})
}

func resolveDateRange(start, end string) (collector.DateRange, error) {
	now := time.Now().UTC()
	dateRange := collector.DateRange{
		Start: now.Add(-defaultTriggerLookback),
		End:   now,
	}

	if start != "" {
		parsed, err := time.Parse(triggerDateLayout, start)
		if err != nil {
			return collector.DateRange{}, errors.New("invalid start_date, expected YYYY-MM-DD")
		}
		dateRange.Start = parsed
	}
	if end != "" {
		parsed, err := time.Parse(triggerDateLayout, end)
		if err != nil {
			return collector.DateRange{}, errors.New("invalid end_date, expected YYYY-MM-DD")
		}
		dateRange.End = parsed.Add(24*time.Hour - time.Second)
	}

	if dateRange.End.Before(dateRange.Start) {
		return collector.DateRange{}, errors.New("end_date precedes start_date")
	}
	return dateRange, nil
}

func getCollectionHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
		if parsed, parseErr := strconv.Atoi(rawLimit); parseErr == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := database.GetRecentRuns(r.Context(), limit)
	if err != nil {
		log.Error("error loading collection history", "error", err.Error())
		writeError(w, "Failed to load collection history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.CollectionHistory{Runs: runs})
}

func getCollectionErrors(w http.ResponseWriter, r *http.Request) {
	windowDays := 7
	if rawDays := strings.TrimSpace(r.URL.Query().Get("days")); rawDays != "" {
		if parsed, parseErr := strconv.Atoi(rawDays); parseErr == nil && parsed > 0 {
			windowDays = parsed
		}
	}

	summary, err := database.GetErrorSummary(r.Context(), windowDays)
	if err != nil {
		log.Error("error loading error summary", "error", err.Error())
		writeError(w, "Failed to load error summary", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func getStatistics(w http.ResponseWriter, r *http.Request) {
	payload, err := cacheLayer.GetOrCompute(r.Context(), cache.KeyStatistics, cacheTTL(), func(ctx context.Context) ([]byte, error) {
		threats, err := database.GetThreatStatistics(ctx)
		if err != nil {
			return nil, err
		}
		runs, err := database.GetHistoryStatistics(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dto.Statistics{Threats: threats, Runs: runs})
	})
	if err != nil {
		log.Error("error building statistics", "error", err.Error())
		writeError(w, "Failed to build statistics", http.StatusInternalServerError)
		return
	}

	writeRawJSON(w, http.StatusOK, payload)
}
