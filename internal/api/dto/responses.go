package dto

import (
	"blacklist/internal/database"
	"blacklist/internal/domain"
)

type ActiveBlacklist struct {
	Count int      `json:"count"`
	IPs   []string `json:"ips"`
}

type SearchResult struct {
	IP      string                `json:"ip"`
	Found   bool                  `json:"found"`
	Records []domain.ThreatRecord `json:"records,omitempty"`
}

type BatchSearchResult struct {
	Results []SearchResult `json:"results"`
}

type CollectionHistory struct {
	Runs []domain.CollectionRun `json:"runs"`
}

// Statistics merges the threat-record and collection-run views for the
// dashboard endpoint.
type Statistics struct {
	Threats database.ThreatStatistics  `json:"threats"`
	Runs    database.HistoryStatistics `json:"runs"`
}

type TokenResponse struct {
	Token string `json:"token"`
}
