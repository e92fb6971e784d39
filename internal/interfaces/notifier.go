package interfaces

import "context"

// Notifier delivers human-actionable alerts through an external transport.
type Notifier interface {
	// NotifyChallenge sends the MFA number-matching code together with its
	// approval deadline. Retries internally with escalating delay; returns a
	// models.MFANotificationError once all attempts are exhausted.
	NotifyChallenge(ctx context.Context, code string) error

	// Alert sends a generic operator message (e.g. "refresher paused").
	// Best effort: a failure is reported but carries no special type.
	Alert(ctx context.Context, subject, body string) error

	// IsConfigured reports whether the transport has enough settings to send.
	IsConfigured() bool
}
