package support

import (
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
)

var (
	countryDBOnce sync.Once
	countryDB     *geoip2.Reader
)

// InitGeoLite opens the GeoLite2 country database at path. Enrichment is
// optional: a missing or unreadable database just disables country lookups.
func InitGeoLite(path string) {
	countryDBOnce.Do(func() {
		if path == "" {
			return
		}
		db, err := geoip2.Open(path)
		if err != nil {
			log.Warn("GeoLite database unavailable, country enrichment disabled", "path", path, "error", err)
			return
		}
		countryDB = db
		log.Info("GeoLite country database loaded", "path", path)
	})
}

// LookupCountry returns the ISO country code for ip, or "" when the database
// is not loaded or the address is unknown.
func LookupCountry(ip string) string {
	if countryDB == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := countryDB.Country(parsed)
	if err != nil || record == nil {
		return ""
	}
	return record.Country.IsoCode
}
