package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// OpenAI-compatible surface
	mux.HandleFunc("/v1/chat/completions", s.app.ChatHandler.CompletionsHandler)
	mux.HandleFunc("/v1/models", s.app.ChatHandler.ModelsHandler)

	// Admin surface (X-API-Key)
	mux.HandleFunc("/update-token", s.app.AdminHandler.UpdateTokenHandler)
	mux.HandleFunc("/refresh-token", s.app.AdminHandler.RefreshTokenHandler)
	mux.HandleFunc("/api/status", s.app.AdminHandler.StatusHandler)

	// System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// Event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Catch-all 404 (JSON)
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
