package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/interfaces"
)

// tokenKey is the single persisted scalar in the key/value store.
const tokenKey = "hku_token"

// Service is the owned state object for the token, the consecutive-failure
// counter, and the scheduler's pause gate. A mutex stands in for the
// original single-threaded event loop: every mutation is a single atomic
// section with no suspension point inside it.
type Service struct {
	mu            sync.Mutex
	token         string
	failures      int
	paused        bool
	pauseReason   string
	resume        chan struct{} // replaced on each Pause, closed by Set
	lastRefreshed time.Time

	kv     interfaces.KeyValueStorage
	events interfaces.EventService
	logger arbor.ILogger
}

// NewService creates the token state service. kv may be nil (no
// persistence, e.g. in tests); events may be nil.
func NewService(kv interfaces.KeyValueStorage, events interfaces.EventService, logger arbor.ILogger) *Service {
	s := &Service{
		kv:     kv,
		events: events,
		logger: logger,
	}

	if kv != nil {
		if value, err := kv.Get(context.Background(), tokenKey); err == nil && value != "" {
			s.token = value
			s.logger.Info().
				Str("token", fingerprint(value)).
				Msg("Loaded persisted token")
		} else if err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
			s.logger.Warn().Err(err).Msg("Failed to load persisted token")
		}
	}

	return s
}

// Current returns the bearer token, or "" when none has been acquired.
func (s *Service) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// HasToken reports whether a token is held.
func (s *Service) HasToken() bool {
	return s.Current() != ""
}

// Fingerprint returns a loggable, non-sensitive token identifier.
func (s *Service) Fingerprint() string {
	return fingerprint(s.Current())
}

// Set replaces the token wholesale and always clears the pause gate,
// regardless of why it was set. Redundant pushes of the same value are
// accepted without error.
func (s *Service) Set(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	s.mu.Lock()
	changed := token != s.token
	s.token = token
	s.lastRefreshed = time.Now()
	resumed := s.clearGateLocked()
	s.mu.Unlock()

	if changed && s.kv != nil {
		if err := s.kv.Set(ctx, tokenKey, token, "HKU bearer token"); err != nil {
			// The in-memory token is already updated; persistence failure
			// only costs durability across a restart.
			s.logger.Error().Err(err).Msg("Failed to persist token")
		}
	}

	s.logger.Info().
		Str("token", fingerprint(token)).
		Bool("changed", changed).
		Bool("resumed", resumed).
		Msg("Token updated")

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventTokenUpdated,
			Payload: map[string]interface{}{"fingerprint": fingerprint(token), "resumed": resumed},
		})
	}

	return nil
}

// Pause closes the gate. Idempotent: pausing while paused only updates
// the recorded reason.
func (s *Service) Pause(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pauseReason = reason
	if s.paused {
		return
	}
	s.paused = true
	s.resume = make(chan struct{})
}

// IsPaused reports the gate state.
func (s *Service) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// PauseReason returns why the gate was last closed ("" when active).
func (s *Service) PauseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return ""
	}
	return s.pauseReason
}

// WaitResume blocks until the gate is cleared or ctx is done. Returns nil
// immediately when not paused.
func (s *Service) WaitResume(ctx context.Context) error {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return nil
	}
	ch := s.resume
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures returns the consecutive soft-failure count.
func (s *Service) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// RecordFailure increments and returns the soft-failure count.
func (s *Service) RecordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

// ResetFailures zeroes the soft-failure count.
func (s *Service) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// LastRefreshed returns when the token was last replaced.
func (s *Service) LastRefreshed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefreshed
}

// clearGateLocked opens the gate if closed. Caller holds s.mu.
func (s *Service) clearGateLocked() bool {
	if !s.paused {
		return false
	}
	s.paused = false
	s.pauseReason = ""
	close(s.resume)
	s.resume = nil
	return true
}

// fingerprint renders a token as a short non-sensitive identifier.
func fingerprint(token string) string {
	if token == "" {
		return ""
	}
	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s… (%d chars)", prefix, len(token))
}
