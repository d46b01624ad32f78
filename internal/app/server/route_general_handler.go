package server

import (
	"encoding/json"
	"net/http"

	"blacklist/internal/config"
	"blacklist/internal/database"
	"blacklist/internal/support"
)

func healthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status": "ok",
		"cache":  cacheLayer.GetStats(),
	}

	dbHealthy := true
	if sqlDB, err := database.DB.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		dbHealthy = false
	}
	health["database"] = dbHealthy

	redisHealthy := false
	if client, err := support.GetRedisClient(); err == nil {
		redisHealthy = client.Ping(r.Context()).Err() == nil
	}
	health["redis"] = redisHealthy

	status := http.StatusOK
	if !dbHealthy {
		health["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}

func getGlobalSettings(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(config.GetConfig())
}

func saveSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	config.SetConfig(newConfig)
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
