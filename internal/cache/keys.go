package cache

const (
	KeyConnectorExport = "blacklist:cache:export:connector"
	KeyStatistics      = "blacklist:cache:statistics"
)

// KeyActiveIPs builds the cache key for the active-IP list; source is empty
// for the unfiltered list.
func KeyActiveIPs(source string) string {
	if source == "" {
		return "blacklist:cache:active"
	}
	return "blacklist:cache:active:" + source
}
