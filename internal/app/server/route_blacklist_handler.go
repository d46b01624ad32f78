package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"blacklist/internal/api/dto"
	"blacklist/internal/cache"
	"blacklist/internal/collector"
	"blacklist/internal/config"
	"blacklist/internal/database"

	"github.com/charmbracelet/log"
)

const maxBatchSearchSize = 1000

func cacheTTL() time.Duration {
	seconds := config.GetConfig().Cache.DefaultTTLSeconds
	if seconds == 0 {
		return 5 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func getActiveBlacklist(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.URL.Query().Get("source"))

	payload, err := cacheLayer.GetOrCompute(r.Context(), cache.KeyActiveIPs(source), cacheTTL(), func(ctx context.Context) ([]byte, error) {
		ips, err := database.GetActiveIPs(ctx, source)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dto.ActiveBlacklist{Count: len(ips), IPs: ips})
	})
	if err != nil {
		log.Error("error loading active blacklist", "error", err.Error())
		writeError(w, "Failed to load active blacklist", http.StatusInternalServerError)
		return
	}

	writeRawJSON(w, http.StatusOK, payload)
}

func searchIP(w http.ResponseWriter, r *http.Request) {
	ip := strings.TrimSpace(r.PathValue("ip"))
	if !collector.IsValidIP(ip) {
		writeError(w, "Invalid IP address", http.StatusBadRequest)
		return
	}

	records, err := database.SearchThreatRecords(r.Context(), ip)
	if err != nil {
		log.Error("error searching threat records", "ip", ip, "error", err.Error())
		writeError(w, "Search failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.SearchResult{
		IP:      ip,
		Found:   len(records) > 0,
		Records: records,
	})
}

func searchBatch(w http.ResponseWriter, r *http.Request) {
	var request dto.BatchSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if len(request.IPs) == 0 {
		writeError(w, "No IPs supplied", http.StatusBadRequest)
		return
	}
	if len(request.IPs) > maxBatchSearchSize {
		writeError(w, "Too many IPs in one request", http.StatusBadRequest)
		return
	}

	valid := make([]string, 0, len(request.IPs))
	results := make([]dto.SearchResult, 0, len(request.IPs))
	for _, raw := range request.IPs {
		ip := strings.TrimSpace(raw)
		if !collector.IsValidIP(ip) {
			results = append(results, dto.SearchResult{IP: ip, Found: false})
			continue
		}
		valid = append(valid, ip)
	}

	found, err := database.SearchThreatRecordsBatch(r.Context(), valid)
	if err != nil {
		log.Error("error searching threat records", "error", err.Error())
		writeError(w, "Search failed", http.StatusInternalServerError)
		return
	}

	for _, ip := range valid {
		records := found[ip]
		results = append(results, dto.SearchResult{
			IP:      ip,
			Found:   len(records) > 0,
			Records: records,
		})
	}

	writeJSON(w, http.StatusOK, dto.BatchSearchResult{Results: results})
}

func exportConnector(w http.ResponseWriter, r *http.Request) {
	payload, err := cacheLayer.GetOrCompute(r.Context(), cache.KeyConnectorExport, cacheTTL(), func(ctx context.Context) ([]byte, error) {
		entries, err := database.ExportConnectorFormat(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(entries)
	})
	if err != nil {
		log.Error("error building connector export", "error", err.Error())
		writeError(w, "Export failed", http.StatusInternalServerError)
		return
	}

	writeRawJSON(w, http.StatusOK, payload)
}
