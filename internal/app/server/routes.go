package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"blacklist/internal/auth"
	"blacklist/internal/cache"
	"blacklist/internal/collector"
	"blacklist/internal/protection"

	"github.com/charmbracelet/log"
)

var (
	orchestrator *collector.Orchestrator
	guard        *protection.Guard
	cacheLayer   *cache.Layer
)

// Configure hands the handlers their collaborators. Must run before
// OpenRoutes.
func Configure(o *collector.Orchestrator, g *protection.Guard, c *cache.Layer) {
	orchestrator = o
	guard = g
	cacheLayer = c
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeRawJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func OpenRoutes(port int) error {
	router := http.NewServeMux()

	router.HandleFunc("GET /health", healthCheck)
	router.HandleFunc("POST /login", loginAdmin)

	router.HandleFunc("GET /api/blacklist/active", getActiveBlacklist)
	router.HandleFunc("GET /api/search/{ip}", searchIP)
	router.HandleFunc("POST /api/search", searchBatch)
	router.HandleFunc("GET /api/export/connector", exportConnector)
	router.HandleFunc("GET /api/statistics", getStatistics)

	router.HandleFunc("GET /api/collection/history", getCollectionHistory)
	router.HandleFunc("GET /api/collection/errors", getCollectionErrors)
	router.Handle("POST /api/collection/trigger/{source}", auth.RequireAuth(http.HandlerFunc(triggerCollection)))

	router.HandleFunc("GET /api/protection/status", getProtectionStatus)
	router.Handle("POST /api/protection/reset", auth.IsAdmin(http.HandlerFunc(resetProtection)))
	router.Handle("POST /api/protection/bypass", auth.IsAdmin(http.HandlerFunc(createBypass)))

	router.Handle("GET /global/settings", auth.IsAdmin(http.HandlerFunc(getGlobalSettings)))
	router.Handle("POST /saveSettings", auth.IsAdmin(http.HandlerFunc(saveSettings)))

	log.Debug("Routes opened")

	server := http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: enableCORS(router),
	}

	log.Infof("Starting blacklist backend on port :%d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}
