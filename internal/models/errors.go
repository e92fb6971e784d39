package models

import (
	"errors"
	"fmt"
)

// MFATimeoutError means the human did not approve the number-matching
// challenge within the window, denied it repeatedly, or the provider showed
// an error screen. Automation cannot resolve it; the scheduler must pause.
type MFATimeoutError struct {
	Reason string
}

func (e *MFATimeoutError) Error() string {
	if e.Reason == "" {
		return "mfa challenge was not approved in time"
	}
	return fmt.Sprintf("mfa challenge failed: %s", e.Reason)
}

// MFANotificationError means the challenge alert could not be delivered
// after all retries. More severe than a login failure: it silently strands
// the human-in-the-loop step, so it escalates distinctly from a timeout.
type MFANotificationError struct {
	Attempts int
	Err      error
}

func (e *MFANotificationError) Error() string {
	return fmt.Sprintf("mfa notification failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *MFANotificationError) Unwrap() error {
	return e.Err
}

// IsMFATimeout reports whether err is (or wraps) an MFATimeoutError.
func IsMFATimeout(err error) bool {
	var target *MFATimeoutError
	return errors.As(err, &target)
}

// IsMFANotification reports whether err is (or wraps) an MFANotificationError.
func IsMFANotification(err error) bool {
	var target *MFANotificationError
	return errors.As(err, &target)
}
