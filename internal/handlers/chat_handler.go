package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/services/proxy"
)

// ChatHandler serves the OpenAI-compatible surface. All forwarding logic
// lives in the proxy service; this layer only enforces methods.
type ChatHandler struct {
	proxy  *proxy.Service
	logger arbor.ILogger
}

func NewChatHandler(proxyService *proxy.Service, logger arbor.ILogger) *ChatHandler {
	return &ChatHandler{
		proxy:  proxyService,
		logger: logger,
	}
}

// CompletionsHandler handles POST /v1/chat/completions
func (h *ChatHandler) CompletionsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	h.proxy.ForwardChat(w, r)
}

// ModelsHandler handles GET /v1/models
func (h *ChatHandler) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	h.proxy.ForwardModels(w, r)
}
