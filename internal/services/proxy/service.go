// -----------------------------------------------------------------------
// Upstream Proxy - forwards OpenAI-style requests to the gated backend,
// attaching the bearer token the automator maintains
// -----------------------------------------------------------------------

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/hereiam510/MyAPI/internal/common"
	"github.com/hereiam510/MyAPI/internal/interfaces"
)

// Service forwards chat requests to the upstream with the current token.
// Payloads pass through verbatim: the backend already speaks the OpenAI
// shape, so the proxy adds credentials and nothing else.
type Service struct {
	config  *common.UpstreamConfig
	tokens  interfaces.TokenService
	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewService creates the proxy. The client carries no global timeout;
// streaming responses stay open as long as the upstream keeps sending and
// non-streaming requests get a per-request deadline instead.
func NewService(config *common.UpstreamConfig, tokens interfaces.TokenService, logger arbor.ILogger) *Service {
	return &Service{
		config:  config,
		tokens:  tokens,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		logger:  logger,
	}
}

// ForwardChat proxies POST /v1/chat/completions. Streaming requests get an
// SSE passthrough flushed per chunk; everything else is buffered normally.
func (s *Service) ForwardChat(w http.ResponseWriter, r *http.Request) {
	token, ok := s.requireToken(w)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// Only the stream flag matters here; the payload is forwarded as-is.
	var probe struct {
		Stream bool   `json:"stream"`
		Model  string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	if err := s.limiter.Wait(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "request cancelled while rate limited")
		return
	}

	ctx := r.Context()
	if !probe.Stream {
		var cancel func()
		ctx, cancel = contextWithTimeout(ctx, s.config.RequestTimeout.Std())
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.CompletionsURL, bytes.NewReader(body))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if probe.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("url", s.config.CompletionsURL).Msg("Upstream request failed")
		s.writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	s.logger.Info().
		Str("model", probe.Model).
		Bool("stream", probe.Stream).
		Int("status", resp.StatusCode).
		Dur("upstream_latency", time.Since(started)).
		Msg("Chat completion forwarded")

	s.relay(w, resp, probe.Stream)
}

// ForwardModels proxies GET /v1/models.
func (s *Service) ForwardModels(w http.ResponseWriter, r *http.Request) {
	token, ok := s.requireToken(w)
	if !ok {
		return
	}

	if err := s.limiter.Wait(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "request cancelled while rate limited")
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), s.config.RequestTimeout.Std())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.ModelsURL, nil)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("url", s.config.ModelsURL).Msg("Upstream request failed")
		s.writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	s.relay(w, resp, false)
}

// requireToken resolves the current token or writes the 503 explaining
// which of the two no-token situations the caller hit.
func (s *Service) requireToken(w http.ResponseWriter) (string, bool) {
	token := s.tokens.Current()
	if token != "" {
		return token, true
	}

	message := "token not yet acquired, try again shortly"
	if s.tokens.IsPaused() {
		message = "service paused, awaiting manual recovery"
	}
	s.writeError(w, http.StatusServiceUnavailable, message)
	return "", false
}

// relay copies the upstream response through. Upstream status codes pass
// unchanged; a 401 tells the caller the token has expired before the
// refresher noticed.
func (s *Service) relay(w http.ResponseWriter, resp *http.Response, stream bool) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)

	if !stream {
		if _, err := io.Copy(w, resp.Body); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to copy upstream response")
		}
		return
	}

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.logger.Debug().Err(werr).Msg("Client disconnected during stream")
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Warn().Err(err).Msg("Upstream stream ended with error")
			}
			return
		}
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    "proxy_error",
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write error response")
	}
}

// contextWithTimeout applies the upstream deadline when one is configured.
func contextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
