package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	Collector struct {
		Retries         uint32 `json:"retries"`
		RetryBackoffMs  uint32 `json:"retry_backoff_ms"`
		TimeoutMs       uint32 `json:"timeout_ms"`
		RunTimeoutMs    uint32 `json:"run_timeout_ms"`
		PageSize        int    `json:"page_size"`
		CollectionTimer Timer  `json:"collection_timer"`

		Sources []Source `json:"sources"`
	} `json:"collector"`

	Protection struct {
		ForceDisable             bool   `json:"force_disable"`
		RestartThreshold         int    `json:"restart_threshold"`
		RestartWindowMinutes     uint32 `json:"restart_window_minutes"`
		AuthFailureThreshold     int    `json:"auth_failure_threshold"`
		AuthFailureWindowMinutes uint32 `json:"auth_failure_window_minutes"`
	} `json:"protection"`

	Retention struct {
		Days         uint32 `json:"days"`
		GraceDays    uint32 `json:"grace_days"`
		CleanupTimer Timer  `json:"cleanup_timer"`
	} `json:"retention"`

	Cache struct {
		DefaultTTLSeconds uint32 `json:"default_ttl_seconds"`
		MaxMemoryEntries  int    `json:"max_memory_entries"`
	} `json:"cache"`

	GeoLite struct {
		DatabasePath string `json:"database_path"`
	} `json:"geolite"`
}

// Source describes one external threat-intelligence portal.
type Source struct {
	Name         string `json:"name"`
	BaseURL      string `json:"base_url"`
	Enabled      bool   `json:"enabled"`
	BrowserFetch bool   `json:"browser_fetch"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	configValue.Store(Config{})
}

func ReadSettings() {

	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			err = os.MkdirAll("data", os.ModePerm)
			if err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}

			err = os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm)
			if err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	var newConfig Config
	err = json.Unmarshal(data, &newConfig)
	if err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file:", err)
		return
	}

	log.Debug("Settings file loaded successfully")
}

func SetConfig(newConfig Config) {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update:", err)
		return
	}

	log.Debug("Configuration updated and written to file successfully")
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	SetIntervals()

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			log.Error("Error marshalling new configuration:", err)
			errs = append(errs, err)
		} else if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
			log.Error("Error writing new configuration to file:", err)
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		if err := broadcastConfigUpdate(newConfig); err != nil {
			log.Error("Error broadcasting configuration update:", err)
			errs = append(errs, err)
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	}

	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}

// EnabledSources filters the configured portals down to the active ones.
func EnabledSources() []Source {
	cfg := GetConfig()
	sources := make([]Source, 0, len(cfg.Collector.Sources))
	for _, src := range cfg.Collector.Sources {
		if src.Enabled {
			sources = append(sources, src)
		}
	}
	return sources
}

// FindSource looks a portal up by name regardless of enabled state.
func FindSource(name string) (Source, bool) {
	for _, src := range GetConfig().Collector.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return Source{}, false
}
