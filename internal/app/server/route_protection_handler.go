package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"blacklist/internal/api/dto"
	"blacklist/internal/auth"

	"github.com/charmbracelet/log"
)

const (
	defaultBypassDuration = time.Hour
	maxBypassDuration     = 24 * time.Hour
)

func loginAdmin(w http.ResponseWriter, r *http.Request) {
	var request dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if !auth.VerifyAdminPassword(request.Password) {
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	subject := request.Username
	if subject == "" {
		subject = "admin"
	}

	token, err := auth.GenerateToken(subject, true)
	if err != nil {
		log.Error("error generating token", "error", err.Error())
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.TokenResponse{Token: token})
}

func getProtectionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, guard.GetStatus(r.Context()))
}

func resetProtection(w http.ResponseWriter, r *http.Request) {
	if err := guard.ResetProtectionState(r.Context()); err != nil {
		log.Error("error resetting protection state", "error", err.Error())
		writeError(w, "Failed to reset protection state", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func createBypass(w http.ResponseWriter, r *http.Request) {
	var request dto.BypassRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(request.Reason) == "" {
		writeError(w, "Bypass reason is required", http.StatusBadRequest)
		return
	}

	duration := time.Duration(request.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = defaultBypassDuration
	}
	if duration > maxBypassDuration {
		writeError(w, "Bypass duration exceeds 24 hours", http.StatusBadRequest)
		return
	}

	bypass, err := guard.CreateBypass(r.Context(), request.Reason, duration)
	if err != nil {
		log.Error("error creating protection bypass", "error", err.Error())
		writeError(w, "Failed to create bypass", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, bypass)
}
