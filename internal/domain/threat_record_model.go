package domain

import "time"

// ThreatRecord is one normalized malicious-IP indicator with its provenance
// and validity window. At most one record exists per (ip, source); conflicts
// are resolved at upsert time in favour of the later detection date.
type ThreatRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	// IP holds the indicator address (IPv4 or IPv6, normalized).
	IP     string `gorm:"size:45;not null;uniqueIndex:idx_threat_ip_source,priority:1;index"`
	Source string `gorm:"size:64;not null;uniqueIndex:idx_threat_ip_source,priority:2;index:idx_threat_source_category,priority:1"`

	Category string `gorm:"size:64;not null;default:'unknown';index:idx_threat_source_category,priority:2"`

	// Country is the ISO code claimed by the source or filled in from GeoLite.
	Country    string  `gorm:"size:8"`
	Confidence float64 `gorm:"not null;default:0.5"`

	// DetectionDate is the date the portal claims the activity was observed.
	// CollectionDate is when this system ingested the record; the expiry is
	// always computed from the collection date.
	DetectionDate  time.Time `gorm:"not null"`
	CollectionDate time.Time `gorm:"not null;index"`
	ExpiresAt      time.Time `gorm:"not null;index"`

	// Degraded marks records whose detection date could not be parsed and
	// was substituted with the collection time.
	Degraded bool `gorm:"not null;default:false"`

	RawMetadata MetadataMap `gorm:"type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// IsActive reports whether the record still falls inside its validity window.
func (r *ThreatRecord) IsActive(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}
