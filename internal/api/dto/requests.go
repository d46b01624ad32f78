package dto

// TriggerCollectionRequest starts a collection run for one source. Dates use
// the YYYY-MM-DD layout; both empty means the default lookback window.
type TriggerCollectionRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Force     bool   `json:"force"`
}

// BatchSearchRequest looks up several IPs in one round trip.
type BatchSearchRequest struct {
	IPs []string `json:"ips"`
}

// BypassRequest installs a temporary protection override.
type BypassRequest struct {
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

// LoginRequest exchanges the admin password for a bearer token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
