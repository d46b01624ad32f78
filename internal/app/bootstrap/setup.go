package bootstrap

import (
	"context"
	"strings"

	"blacklist/internal/cache"
	"blacklist/internal/collector"
	"blacklist/internal/config"
	"blacklist/internal/database"
	"blacklist/internal/jobs/maintenance"
	"blacklist/internal/jobs/runtime"
	"blacklist/internal/protection"
	"blacklist/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// Setup wires the whole pipeline and starts the background routines. The
// returned collaborators feed the HTTP layer.
func Setup(ctx context.Context) (*collector.Orchestrator, *protection.Guard, *cache.Layer) {
	config.ReadSettings()

	if _, err := database.SetupDB(); err != nil {
		log.Fatalf("failed to set up database: %v", err)
	}
	config.SetIntervals()

	if path := config.GetConfig().GeoLite.DatabasePath; path != "" {
		support.InitGeoLite(path)
	}

	var redisClient *redis.Client
	if client, err := support.GetRedisClient(); err != nil {
		log.Warn("Redis unavailable, cache and config sync run degraded", "error", err)
	} else {
		redisClient = client
		config.EnableRedisSynchronization(ctx, client)
	}

	cacheLayer := cache.New(redisClient, config.GetConfig().Cache.MaxMemoryEntries)

	guard := protection.New(protection.NewGormStorage(), protection.OptionsFromConfig)
	if err := guard.RegisterRestart(ctx); err != nil {
		log.Error("Failed to register process restart", "error", err)
	}

	orchestrator := collector.NewOrchestrator(guard, collector.EnvCredentialStore{}, cacheLayer)
	registerAdapters(orchestrator)

	// Routines

	runtime.StartCollectionScheduler(ctx, orchestrator)
	maintenance.StartExpiredCleanupRoutine(ctx)

	return orchestrator, guard, cacheLayer
}

func registerAdapters(orchestrator *collector.Orchestrator) {
	for _, source := range config.EnabledSources() {
		switch strings.ToLower(source.Name) {
		case "regtech":
			orchestrator.Register(collector.NewRegtechAdapter(source))
		case "secudium":
			orchestrator.Register(collector.NewSecudiumAdapter(source))
		default:
			log.Warn("No adapter for configured source", "source", source.Name)
		}
	}

	log.Infof("Registered %d collection adapters", len(orchestrator.Sources()))
}
