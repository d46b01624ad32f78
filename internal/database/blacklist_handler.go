package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"blacklist/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	threatInsertBatchSize = 500
)

// ConnectorEntry is one row of the firewall "external connector" export.
type ConnectorEntry struct {
	Name    string `json:"name"`
	Subnet  string `json:"subnet"`
	Comment string `json:"comment"`
}

// ThreatStatistics aggregates the active set for the statistics endpoint.
type ThreatStatistics struct {
	TotalActive int64            `json:"total_active"`
	TotalStored int64            `json:"total_stored"`
	BySource    map[string]int64 `json:"by_source"`
	ByCategory  map[string]int64 `json:"by_category"`
	ByCountry   map[string]int64 `json:"by_country"`
}

// UpsertThreatRecords persists a normalized batch. Conflicts on (ip, source)
// are resolved in the database: the incoming row only replaces the stored one
// when its detection date is not older, which also refreshes the expiry from
// the incoming collection date. Batches are applied in independent
// transactions so a late failure never corrupts batches already committed.
func UpsertThreatRecords(ctx context.Context, records []domain.ThreatRecord) (int, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}
	if len(records) == 0 {
		return 0, nil
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip"}, {Name: "source"}},
		DoUpdates: clause.Assignments(map[string]any{
			"detection_date":  gorm.Expr("EXCLUDED.detection_date"),
			"collection_date": gorm.Expr("EXCLUDED.collection_date"),
			"expires_at":      gorm.Expr("EXCLUDED.expires_at"),
			"category":        gorm.Expr("EXCLUDED.category"),
			"country":         gorm.Expr("EXCLUDED.country"),
			"confidence":      gorm.Expr("EXCLUDED.confidence"),
			"degraded":        gorm.Expr("EXCLUDED.degraded"),
			"raw_metadata":    gorm.Expr("EXCLUDED.raw_metadata"),
			"updated_at":      gorm.Expr("EXCLUDED.updated_at"),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("threat_records.detection_date <= EXCLUDED.detection_date"),
		}},
	}).CreateInBatches(&records, threatInsertBatchSize).Error
	if err != nil {
		return 0, fmt.Errorf("upsert threat records: %w", err)
	}

	return len(records), nil
}

// GetActiveThreatRecords returns unexpired records, optionally filtered by
// source. Expired rows stay in the table until cleanup but never surface here.
func GetActiveThreatRecords(ctx context.Context, source string) ([]domain.ThreatRecord, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	query := db.Where("expires_at > ?", time.Now().UTC())
	if source != "" {
		query = query.Where("source = ?", source)
	}

	var records []domain.ThreatRecord
	if err := query.Order("ip ASC, source ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetActiveIPs returns the distinct unexpired IPs, optionally per source.
func GetActiveIPs(ctx context.Context, source string) ([]string, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	query := db.Model(&domain.ThreatRecord{}).
		Where("expires_at > ?", time.Now().UTC()).
		Distinct("ip").
		Order("ip ASC")
	if source != "" {
		query = query.Where("source = ?", source)
	}

	var ips []string
	if err := query.Pluck("ip", &ips).Error; err != nil {
		return nil, err
	}
	return ips, nil
}

// SearchThreatRecords does an expiry-aware point lookup for one IP.
func SearchThreatRecords(ctx context.Context, ip string) ([]domain.ThreatRecord, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var records []domain.ThreatRecord
	err := db.Where("ip = ? AND expires_at > ?", ip, time.Now().UTC()).
		Order("source ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SearchThreatRecordsBatch looks up many IPs in one query and groups the
// matches per IP. IPs without an active record are absent from the result.
func SearchThreatRecordsBatch(ctx context.Context, ips []string) (map[string][]domain.ThreatRecord, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}
	if len(ips) == 0 {
		return map[string][]domain.ThreatRecord{}, nil
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var records []domain.ThreatRecord
	err := db.Where("ip IN ? AND expires_at > ?", ips, time.Now().UTC()).
		Order("ip ASC, source ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]domain.ThreatRecord, len(records))
	for _, record := range records {
		grouped[record.IP] = append(grouped[record.IP], record)
	}
	return grouped, nil
}

// ExportConnectorFormat renders the active set in the firewall external
// block list shape: exactly one entry per distinct active IP, each a /32.
// When several sources report the same IP the lexically first source wins
// the comment, keeping the export stable between runs.
func ExportConnectorFormat(ctx context.Context) ([]ConnectorEntry, error) {
	records, err := GetActiveThreatRecords(ctx, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(records))
	entries := make([]ConnectorEntry, 0, len(records))
	for _, record := range records {
		if _, dup := seen[record.IP]; dup {
			continue
		}
		seen[record.IP] = struct{}{}

		entries = append(entries, ConnectorEntry{
			Name:    record.IP,
			Subnet:  record.IP + "/32",
			Comment: fmt.Sprintf("%s: %s", record.Source, record.Category),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// CleanupExpiredRecords physically removes records past expiry plus the
// grace period. Reads are unaffected: expired rows were already invisible.
func CleanupExpiredRecords(ctx context.Context, grace time.Duration) (int64, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	cutoff := time.Now().UTC().Add(-grace)
	result := db.Where("expires_at <= ?", cutoff).Delete(&domain.ThreatRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// GetThreatStatistics aggregates active counts by source, category and
// country, derived on read.
func GetThreatStatistics(ctx context.Context) (ThreatStatistics, error) {
	stats := ThreatStatistics{
		BySource:   make(map[string]int64),
		ByCategory: make(map[string]int64),
		ByCountry:  make(map[string]int64),
	}

	if DB == nil {
		return stats, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	if err := db.Model(&domain.ThreatRecord{}).Count(&stats.TotalStored).Error; err != nil {
		return stats, err
	}

	now := time.Now().UTC()
	if err := db.Model(&domain.ThreatRecord{}).
		Where("expires_at > ?", now).
		Count(&stats.TotalActive).Error; err != nil {
		return stats, err
	}

	type bucket struct {
		Key   string
		Count int64
	}

	for column, target := range map[string]map[string]int64{
		"source":   stats.BySource,
		"category": stats.ByCategory,
		"country":  stats.ByCountry,
	} {
		var buckets []bucket
		err := db.Model(&domain.ThreatRecord{}).
			Select(column+" AS key, COUNT(*) AS count").
			Where("expires_at > ?", now).
			Group(column).
			Scan(&buckets).Error
		if err != nil {
			return stats, err
		}
		for _, b := range buckets {
			if b.Key == "" {
				continue
			}
			target[b.Key] = b.Count
		}
	}

	return stats, nil
}
