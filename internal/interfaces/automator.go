package interfaces

import "context"

// TokenAcquirer drives a browser login against the SSO provider and captures
// the bearer token from the application's first authenticated request.
//
// Unattended mode (interactive=false) returns:
//   - (token, nil) on success;
//   - ("", nil) on a soft failure, meaning any unexpected automation breakage
//     that a short retry may resolve (UI element missing, navigation error);
//   - ("", err) where err is a models.MFATimeoutError or
//     models.MFANotificationError, conditions automation cannot resolve.
//
// Interactive mode opens a visible browser and waits, without a short
// timeout, for a human to complete every step.
type TokenAcquirer interface {
	AcquireToken(ctx context.Context, interactive bool) (string, error)
}
