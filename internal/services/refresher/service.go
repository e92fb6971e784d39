// -----------------------------------------------------------------------
// Refresh Scheduler - keeps the bearer token fresh in the background and
// knows when to stop trying and summon a human instead
// -----------------------------------------------------------------------

package refresher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/common"
	"github.com/hereiam510/MyAPI/internal/interfaces"
	"github.com/hereiam510/MyAPI/internal/models"
)

// Service implements interfaces.RefreshService. One goroutine runs the
// loop; attempts are strictly sequential and the pause gate hands control
// to the manual recovery path when automation cannot proceed.
type Service struct {
	config   *common.RefreshConfig
	tokens   interfaces.TokenService
	acquirer interfaces.TokenAcquirer
	notifier interfaces.Notifier
	events   interfaces.EventService
	logger   arbor.ILogger

	// trigger carries at most one pending immediate-refresh request.
	trigger chan struct{}

	mu          sync.Mutex
	running     bool
	lastAttempt time.Time
	lastError   string
	nextAttempt time.Time
}

// NewService wires the scheduler. Run must be started by the caller.
func NewService(config *common.RefreshConfig, tokens interfaces.TokenService, acquirer interfaces.TokenAcquirer, notifier interfaces.Notifier, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		config:   config,
		tokens:   tokens,
		acquirer: acquirer,
		notifier: notifier,
		events:   events,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Run executes the refresh loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if s.config.Cron != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.config.Cron, func() {
			if err := s.TriggerNow(); err != nil {
				s.logger.Warn().Err(err).Msg("Scheduled refresh skipped")
			}
		}); err != nil {
			s.logger.Error().Err(err).Str("cron", s.config.Cron).Msg("Invalid cron expression, schedule disabled")
		} else {
			c.Start()
			defer c.Stop()
			s.logger.Info().Str("cron", s.config.Cron).Msg("Cron refresh schedule enabled")
		}
	}

	s.logger.Info().
		Dur("interval", s.config.Interval.Std()).
		Int("retry_steps", len(s.config.RetryBackoff)).
		Msg("Refresh scheduler started")

	for {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Refresh scheduler stopped")
			return
		}

		if s.tokens.IsPaused() {
			s.logger.Warn().
				Str("reason", s.tokens.PauseReason()).
				Msg("Refresh paused, waiting for manual token push")

			if err := s.tokens.WaitResume(ctx); err != nil {
				return
			}

			s.tokens.ResetFailures()
			s.setLastError("")
			s.publish(ctx, interfaces.EventRefreshResumed, map[string]string{
				"state": string(models.RefreshActive),
			})
			s.logger.Info().Msg("Refresh resumed after token push")

			// The push just installed a fresh token; no point burning a
			// login attempt right away.
			if !s.sleep(ctx, s.config.Interval.Std()) {
				return
			}
			continue
		}

		wait := s.attempt(ctx)
		if wait < 0 {
			continue
		}
		if !s.sleep(ctx, wait) {
			return
		}
	}
}

// attempt runs one acquisition and classifies the outcome. The returned
// duration is how long to sleep before the next attempt; a negative value
// means the loop head should re-evaluate (paused or shutting down).
func (s *Service) attempt(ctx context.Context) time.Duration {
	s.mu.Lock()
	s.running = true
	s.lastAttempt = time.Now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	token, err := s.acquirer.AcquireToken(ctx, false)

	switch {
	case err == nil && token != "":
		if setErr := s.tokens.Set(ctx, token); setErr != nil {
			s.logger.Error().Err(setErr).Msg("Failed to store refreshed token")
			s.setLastError(setErr.Error())
			return s.config.TransientRetry.Std()
		}
		s.tokens.ResetFailures()
		s.setLastError("")
		s.publish(ctx, interfaces.EventTokenRefreshed, map[string]string{
			"fingerprint": s.tokens.Fingerprint(),
		})
		s.logger.Info().
			Str("fingerprint", s.tokens.Fingerprint()).
			Dur("next_in", s.config.Interval.Std()).
			Msg("Token refreshed")
		return s.config.Interval.Std()

	case err == nil:
		failures := s.tokens.RecordFailure()
		s.setLastError("login attempt produced no token")
		s.publish(ctx, interfaces.EventRefreshFailed, map[string]interface{}{
			"consecutive_failures": failures,
		})

		if failures <= len(s.config.RetryBackoff) {
			backoff := s.config.RetryBackoff[failures-1].Std()
			s.logger.Warn().
				Int("consecutive_failures", failures).
				Dur("retry_in", backoff).
				Msg("Refresh attempt produced no token, retrying")
			return backoff
		}

		s.pause(ctx, fmt.Sprintf("%d consecutive refresh failures", failures))
		return -1

	case models.IsMFATimeout(err) || models.IsMFANotification(err):
		s.setLastError(err.Error())
		s.pause(ctx, err.Error())
		return -1

	case ctx.Err() != nil:
		return -1

	default:
		s.setLastError(err.Error())
		s.logger.Error().
			Err(err).
			Dur("retry_in", s.config.TransientRetry.Std()).
			Msg("Refresh attempt failed with unexpected error")
		return s.config.TransientRetry.Std()
	}
}

// pause closes the gate and sends exactly one alert for this pause episode.
func (s *Service) pause(ctx context.Context, reason string) {
	s.tokens.Pause(reason)
	s.publish(ctx, interfaces.EventRefreshPaused, map[string]string{
		"state":  string(models.RefreshPaused),
		"reason": reason,
	})
	s.logger.Error().
		Str("reason", reason).
		Msg("Automatic refresh paused, manual recovery required")

	if s.notifier == nil || !s.notifier.IsConfigured() {
		return
	}

	subject := "Token refresh paused, manual recovery required"
	body := fmt.Sprintf(
		"Automatic token refresh has stopped.\r\n"+
			"\r\n"+
			"Reason: %s\r\n"+
			"\r\n"+
			"The proxy keeps serving with the last known token until it expires.\r\n"+
			"Run the recovery tool to log in manually and push a fresh token;\r\n"+
			"the push resumes automatic refresh.\r\n",
		reason,
	)
	if err := s.notifier.Alert(ctx, subject, body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send pause alert")
	}
}

// sleep waits out d, returning early on a trigger. False means shutdown.
func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	s.nextAttempt = time.Now().Add(d)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.nextAttempt = time.Time{}
		s.mu.Unlock()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-s.trigger:
		s.logger.Info().Msg("Immediate refresh triggered")
		return true
	}
}

// TriggerNow requests an immediate attempt. A request arriving while an
// attempt is in flight coalesces into that attempt.
func (s *Service) TriggerNow() error {
	if s.tokens.IsPaused() {
		return fmt.Errorf("refresh is paused: %s", s.tokens.PauseReason())
	}

	s.mu.Lock()
	inFlight := s.running
	s.mu.Unlock()
	if inFlight {
		return nil
	}

	select {
	case s.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Status snapshots the scheduler for the status endpoint and event stream.
func (s *Service) Status() models.RefreshStatus {
	s.mu.Lock()
	lastAttempt := s.lastAttempt
	lastError := s.lastError
	nextAttempt := s.nextAttempt
	s.mu.Unlock()

	state := models.RefreshActive
	if s.tokens.IsPaused() {
		state = models.RefreshPaused
	}

	return models.RefreshStatus{
		State:               state,
		Paused:              state == models.RefreshPaused,
		PauseReason:         s.tokens.PauseReason(),
		HasToken:            s.tokens.HasToken(),
		TokenFingerprint:    s.tokens.Fingerprint(),
		ConsecutiveFailures: s.tokens.Failures(),
		LastAttempt:         lastAttempt,
		LastRefreshed:       s.tokens.LastRefreshed(),
		LastError:           lastError,
		NextAttempt:         nextAttempt,
	}
}

func (s *Service) setLastError(message string) {
	s.mu.Lock()
	s.lastError = message
	s.mu.Unlock()
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, interfaces.Event{
		Type:    eventType,
		Payload: payload,
	})
}
