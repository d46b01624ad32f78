package app

import (
	"context"
	"flag"
	"os"
	"strconv"

	"blacklist/internal/app/bootstrap"
	"blacklist/internal/app/server"
	"blacklist/internal/collector"
	"blacklist/internal/config"
	"blacklist/internal/support"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

const defaultBackendPort = 8083

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	backendPortFlag := flag.Int("backend-port", defaultBackendPort, "Port for API server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)
	if *productionFlag {
		log.SetLevel(log.InfoLevel)
	}

	backendPort := resolvePort("BACKEND_PORT", *backendPortFlag)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orchestrator, guard, cacheLayer := bootstrap.Setup(ctx)

	defer func() {
		collector.CloseBrowser()
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}()

	server.Configure(orchestrator, guard, cacheLayer)
	return server.OpenRoutes(backendPort)
}

func resolvePort(envKey string, fallback int) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return fallback
	}

	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return fallback
	}
	return port
}
