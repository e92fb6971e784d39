package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/common"
)

// fakeTokens is a minimal TokenService for proxy tests.
type fakeTokens struct {
	token  string
	paused bool
	reason string
}

func (f *fakeTokens) Current() string          { return f.token }
func (f *fakeTokens) HasToken() bool           { return f.token != "" }
func (f *fakeTokens) Fingerprint() string      { return "fp" }
func (f *fakeTokens) Pause(reason string)      { f.paused = true; f.reason = reason }
func (f *fakeTokens) IsPaused() bool           { return f.paused }
func (f *fakeTokens) PauseReason() string      { return f.reason }
func (f *fakeTokens) Failures() int            { return 0 }
func (f *fakeTokens) RecordFailure() int       { return 1 }
func (f *fakeTokens) ResetFailures()           {}
func (f *fakeTokens) LastRefreshed() time.Time { return time.Time{} }

func (f *fakeTokens) Set(ctx context.Context, token string) error {
	f.token = token
	f.paused = false
	return nil
}

func (f *fakeTokens) WaitResume(ctx context.Context) error { return nil }

func newTestProxy(upstreamURL string, tokens *fakeTokens) *Service {
	config := &common.UpstreamConfig{
		BaseURL:        upstreamURL,
		CompletionsURL: upstreamURL + "/api/chat/completions",
		ModelsURL:      upstreamURL + "/api/models",
		RequestTimeout: common.Duration(5 * time.Second),
		RateLimit:      100,
		RateBurst:      100,
	}
	return NewService(config, tokens, arbor.NewLogger())
}

func TestForwardChatNoToken(t *testing.T) {
	svc := newTestProxy("http://unused", &fakeTokens{})

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	svc.ForwardChat(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "token not yet acquired")
}

func TestForwardChatPaused(t *testing.T) {
	tokens := &fakeTokens{paused: true, reason: "mfa denied"}
	svc := newTestProxy("http://unused", tokens)

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	svc.ForwardChat(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "awaiting manual recovery")
}

func TestForwardChatRejectsInvalidJSON(t *testing.T) {
	svc := newTestProxy("http://unused", &fakeTokens{token: "tok"})

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	svc.ForwardChat(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForwardChatAttachesBearerToken(t *testing.T) {
	var gotAuth, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cmpl-1","choices":[]}`))
	}))
	defer upstream.Close()

	svc := newTestProxy(upstream.URL, &fakeTokens{token: "tok-abc"})

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.ForwardChat(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer tok-abc", gotAuth)
	// Payload passes through verbatim.
	assert.Equal(t, body, gotBody)
	assert.Contains(t, rec.Body.String(), "cmpl-1")
}

func TestForwardChatPassesThroughUpstream401(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"token expired"}`))
	}))
	defer upstream.Close()

	svc := newTestProxy(upstream.URL, &fakeTokens{token: "tok-stale"})

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	svc.ForwardChat(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token expired")
}

func TestForwardChatStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"delta\":\"hel\"}\n\n"))
		w.Write([]byte("data: {\"delta\":\"lo\"}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	svc := newTestProxy(upstream.URL, &fakeTokens{token: "tok"})

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(`{"stream":true}`))
	rec := httptest.NewRecorder()
	svc.ForwardChat(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "data: [DONE]")
	assert.True(t, rec.Flushed)
}

func TestForwardModels(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-models", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"gpt-4"}]}`))
	}))
	defer upstream.Close()

	svc := newTestProxy(upstream.URL, &fakeTokens{token: "tok-models"})

	req := httptest.NewRequest("GET", "/v1/models", nil)
	rec := httptest.NewRecorder()
	svc.ForwardModels(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4")
}

func TestForwardChatUpstreamUnreachable(t *testing.T) {
	svc := newTestProxy("http://127.0.0.1:1", &fakeTokens{token: "tok"})

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	svc.ForwardChat(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
