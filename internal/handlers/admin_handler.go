package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/common"
	"github.com/hereiam510/MyAPI/internal/interfaces"
)

// AdminHandler serves the key-protected operational surface: manual token
// pushes, forced refreshes, and the status snapshot.
type AdminHandler struct {
	config    *common.AdminConfig
	tokens    interfaces.TokenService
	refresher interfaces.RefreshService
	logger    arbor.ILogger
}

func NewAdminHandler(config *common.AdminConfig, tokens interfaces.TokenService, refresher interfaces.RefreshService, logger arbor.ILogger) *AdminHandler {
	return &AdminHandler{
		config:    config,
		tokens:    tokens,
		refresher: refresher,
		logger:    logger,
	}
}

// requireAPIKey validates the X-API-Key header. Returns true when the key
// matches, false otherwise (and writes the error response).
func (h *AdminHandler) requireAPIKey(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("X-API-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.config.APIKey)) != 1 {
		h.logger.Warn().
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Msg("Rejected admin request with invalid API key")
		WriteError(w, http.StatusUnauthorized, "invalid or missing API key")
		return false
	}
	return true
}

// UpdateTokenHandler handles POST /update-token. A push from the recovery
// tool lands here; storing it clears the pause gate and resumes refresh.
func (h *AdminHandler) UpdateTokenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		WriteError(w, http.StatusBadRequest, "token is required")
		return
	}

	wasPaused := h.tokens.IsPaused()
	if err := h.tokens.Set(r.Context(), req.Token); err != nil {
		h.logger.Error().Err(err).Msg("Failed to store pushed token")
		WriteError(w, http.StatusInternalServerError, "failed to store token")
		return
	}

	h.logger.Info().
		Str("fingerprint", h.tokens.Fingerprint()).
		Bool("cleared_pause", wasPaused).
		Msg("Token updated via admin push")
	WriteSuccess(w, "token updated")
}

// RefreshTokenHandler handles POST /refresh-token, forcing an immediate
// refresh attempt.
func (h *AdminHandler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	if err := h.refresher.TriggerNow(); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteStarted(w, "refresh triggered")
}

// StatusHandler handles GET /api/status with the refresh-state snapshot.
func (h *AdminHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	if !h.requireAPIKey(w, r) {
		return
	}

	WriteJSON(w, http.StatusOK, h.refresher.Status())
}
