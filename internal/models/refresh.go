package models

import "time"

// RefreshState enumerates the scheduler's two states.
type RefreshState string

const (
	// RefreshActive means the scheduler is attempting periodic refreshes.
	RefreshActive RefreshState = "active"
	// RefreshPaused means automatic refreshes are suspended until an
	// external token push clears the gate.
	RefreshPaused RefreshState = "paused"
)

// RefreshStatus is a point-in-time snapshot of the renewal subsystem,
// served by the status endpoint and pushed over the event stream.
type RefreshStatus struct {
	State               RefreshState `json:"state"`
	Paused              bool         `json:"paused"`
	PauseReason         string       `json:"pause_reason,omitempty"`
	HasToken            bool         `json:"has_token"`
	TokenFingerprint    string       `json:"token_fingerprint,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastAttempt         time.Time    `json:"last_attempt,omitzero"`
	LastRefreshed       time.Time    `json:"last_refreshed,omitzero"`
	LastError           string       `json:"last_error,omitempty"`
	NextAttempt         time.Time    `json:"next_attempt,omitzero"`
}

// MFAChallenge is the ephemeral number-matching challenge shown by the
// provider during one login attempt. Never persisted.
type MFAChallenge struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
	Deadline time.Time `json:"deadline"`
}

// NewMFAChallenge stamps a challenge with its approval deadline.
func NewMFAChallenge(code string, window time.Duration) MFAChallenge {
	now := time.Now()
	return MFAChallenge{
		Code:     code,
		IssuedAt: now,
		Deadline: now.Add(window),
	}
}
