package interfaces

import (
	"context"
	"time"
)

// TokenService owns the shared token/refresh state: the current bearer
// token, the consecutive-failure counter, and the pause gate. All mutation
// goes through these accessors (single-writer discipline); readers are the
// proxy layer and the status surface.
type TokenService interface {
	// Current returns the bearer token, or "" when none has been acquired.
	Current() string

	// HasToken reports whether a token is held.
	HasToken() bool

	// Fingerprint returns a loggable, non-sensitive token identifier.
	Fingerprint() string

	// Set replaces the token wholesale, persists it, and always clears the
	// pause gate, since a token push is itself a recovery. Setting the
	// same value twice is a no-op beyond clearing the gate.
	Set(ctx context.Context, token string) error

	// Pause closes the scheduler's gate until the next Set.
	Pause(reason string)

	// IsPaused reports the gate state (observability hook).
	IsPaused() bool

	// WaitResume blocks until the gate is cleared or ctx is done.
	// Only the refresh scheduler waits on it (single-waiter rendezvous).
	WaitResume(ctx context.Context) error

	// PauseReason returns why the gate was last closed ("" when active).
	PauseReason() string

	// Failures returns the consecutive soft-failure count.
	Failures() int

	// RecordFailure increments and returns the soft-failure count.
	RecordFailure() int

	// ResetFailures zeroes the soft-failure count.
	ResetFailures()

	// LastRefreshed returns when the token was last replaced.
	LastRefreshed() time.Time
}
