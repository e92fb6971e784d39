// -----------------------------------------------------------------------
// MFA Notifier - delivers number-matching challenge codes and operator
// alerts over SMTP so a human can act before the approval window closes
// -----------------------------------------------------------------------

package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/common"
	"github.com/hereiam510/MyAPI/internal/interfaces"
	"github.com/hereiam510/MyAPI/internal/models"
)

// sendFunc performs one SMTP delivery. Injectable for tests.
type sendFunc func(config *common.MailConfig, to, subject, body string) error

// Service implements interfaces.Notifier over SMTP.
type Service struct {
	config    *common.MailConfig
	mfaWindow time.Duration
	location  *time.Location
	events    interfaces.EventService
	logger    arbor.ILogger
	send      sendFunc

	// sleep is swapped out in tests to avoid real multi-minute waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates the notifier. The MFA window is needed to render the
// approval deadline in the message body.
func NewService(config *common.MailConfig, mfaWindow time.Duration, events interfaces.EventService, logger arbor.ILogger) *Service {
	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", config.Timezone).Msg("Invalid mail timezone, using local")
		location = time.Local
	}

	return &Service{
		config:    config,
		mfaWindow: mfaWindow,
		location:  location,
		events:    events,
		logger:    logger,
		send:      smtpSend,
		sleep:     sleepCtx,
	}
}

// IsConfigured reports whether SMTP has the minimum required settings.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Username != "" && s.config.Password != "" &&
		s.config.From != "" && s.config.To != ""
}

// NotifyChallenge sends the MFA challenge code with its deadline. Retries
// per the configured delay table (delay before each attempt); exhausting
// all attempts returns a models.MFANotificationError, a hard failure,
// because it denies the human any chance to see the code.
func (s *Service) NotifyChallenge(ctx context.Context, code string) error {
	challenge := models.NewMFAChallenge(code, s.mfaWindow)
	subject := fmt.Sprintf("MFA approval required: enter %s", code)
	body := s.formatChallenge(challenge)

	delays := s.config.RetryDelays
	if len(delays) == 0 {
		delays = []common.Duration{0}
	}

	var lastErr error
	for attempt, delay := range delays {
		if delay > 0 {
			if err := s.sleep(ctx, delay.Std()); err != nil {
				return &models.MFANotificationError{Attempts: attempt, Err: err}
			}
		}

		if err := s.deliver(subject, body); err != nil {
			lastErr = err
			s.logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", len(delays)).
				Msg("MFA challenge notification failed")
			continue
		}

		s.logger.Info().
			Str("code", code).
			Str("deadline", challenge.Deadline.In(s.location).Format(time.RFC3339)).
			Int("attempt", attempt+1).
			Msg("MFA challenge notification sent")

		if s.events != nil {
			s.events.Publish(ctx, interfaces.Event{
				Type:    interfaces.EventChallengeIssued,
				Payload: challenge,
			})
		}
		return nil
	}

	return &models.MFANotificationError{Attempts: len(delays), Err: lastErr}
}

// Alert sends a generic operator message. Best effort, single attempt.
func (s *Service) Alert(ctx context.Context, subject, body string) error {
	if err := s.deliver(subject, body); err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("Failed to send alert")
		return err
	}

	s.logger.Info().Str("subject", subject).Msg("Alert sent")

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventAlertSent,
			Payload: map[string]string{"subject": subject},
		})
	}
	return nil
}

func (s *Service) deliver(subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("SMTP not configured")
	}
	return s.send(s.config, s.config.To, subject, body)
}

// formatChallenge renders the human-actionable message: the code, when it
// was issued, and the hard deadline in the operator's time zone.
func (s *Service) formatChallenge(challenge models.MFAChallenge) string {
	issued := challenge.IssuedAt.In(s.location)
	deadline := challenge.Deadline.In(s.location)

	return fmt.Sprintf(
		"The token refresher hit a Microsoft Authenticator number-matching challenge.\r\n"+
			"\r\n"+
			"Open the Authenticator app and enter: %s\r\n"+
			"\r\n"+
			"Issued:   %s\r\n"+
			"Deadline: %s (%s window)\r\n"+
			"\r\n"+
			"If the deadline has passed, the refresher will pause itself.\r\n"+
			"Run the manual recovery tool to log in by hand and push a fresh token.\r\n",
		challenge.Code,
		issued.Format("Mon 2 Jan 2006 15:04:05 MST"),
		deadline.Format("15:04:05 MST"),
		s.mfaWindow.Round(time.Second),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
