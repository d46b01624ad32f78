package collector

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"blacklist/internal/domain"
	"blacklist/internal/support"
)

const defaultConfidence = 0.5

var detectionDateLayouts = []string{
	"20060102",
	"2006-01-02",
	"2006.01.02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// NormalizeResult reports what happened to a raw batch: how many records
// survived, how many were dropped by validation and how many carry a
// substituted detection date.
type NormalizeResult struct {
	Records  []domain.ThreatRecord
	Dropped  int
	Degraded int
}

// Normalize validates and enriches raw records from one source into
// canonical ThreatRecords. Invalid IPs are dropped without failing the
// batch; duplicates within the batch collapse to the latest detection date.
// Dedup against already-stored records happens at upsert time, inside the
// store's conflict resolution.
func Normalize(raw []RawRecord, source string, retention time.Duration) NormalizeResult {
	now := time.Now().UTC()
	result := NormalizeResult{}

	best := make(map[string]domain.ThreatRecord, len(raw))
	order := make([]string, 0, len(raw))

	for _, record := range raw {
		ip, ok := validIP(record.IP)
		if !ok {
			result.Dropped++
			continue
		}

		detectionDate, err := parseDetectionDate(record.DetectionDate)
		degraded := false
		if err != nil {
			detectionDate = now
			degraded = true
		}

		category := strings.TrimSpace(record.Reason)
		if category == "" {
			category = "unknown"
		}

		country := strings.ToUpper(strings.TrimSpace(record.Country))
		if country == "" {
			country = support.LookupCountry(ip)
		}

		candidate := domain.ThreatRecord{
			IP:             ip,
			Source:         source,
			Category:       category,
			Country:        country,
			Confidence:     defaultConfidence,
			DetectionDate:  detectionDate,
			CollectionDate: now,
			ExpiresAt:      now.Add(retention),
			Degraded:       degraded,
			RawMetadata:    record.Extra,
		}

		existing, seen := best[ip]
		if !seen {
			best[ip] = candidate
			order = append(order, ip)
			continue
		}
		if candidate.DetectionDate.After(existing.DetectionDate) {
			best[ip] = candidate
		}
	}

	result.Records = make([]domain.ThreatRecord, 0, len(order))
	for _, ip := range order {
		record := best[ip]
		if record.Degraded {
			result.Degraded++
		}
		result.Records = append(result.Records, record)
	}

	return result
}

// IsValidIP reports whether ip is a syntactically valid public address:
// private (RFC1918), loopback, link-local, multicast, unspecified and
// reserved ranges are all rejected.
func IsValidIP(ip string) bool {
	_, ok := validIP(ip)
	return ok
}

func validIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}

	if addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsMulticast() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() {
		return "", false
	}

	if addr.Is4() {
		b := addr.As4()
		// 0.0.0.0/8 and 240.0.0.0/4 (incl. broadcast) are reserved.
		if b[0] == 0 || b[0] >= 240 {
			return "", false
		}
		// 100.64.0.0/10 carrier-grade NAT.
		if b[0] == 100 && b[1] >= 64 && b[1] <= 127 {
			return "", false
		}
	}

	return addr.String(), true
}

func parseDetectionDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty detection date")
	}

	for _, layout := range detectionDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized detection date %q", value)
}
