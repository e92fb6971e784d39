// -----------------------------------------------------------------------
// Login Automator - drives a Chrome instance through the university SSO
// flow and captures the bearer token from the chat application's own
// network traffic
// -----------------------------------------------------------------------

package automator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/common"
	"github.com/hereiam510/MyAPI/internal/interfaces"
	"github.com/hereiam510/MyAPI/internal/models"
)

// Soft failures: the attempt did not produce a token but the condition is
// retryable without human help. AcquireToken maps these to ("", nil).
var (
	errLoginStalled = errors.New("login stalled on an unrecognized screen")
	errSSOFailure   = errors.New("identity provider reported an error")
)

// errPopupClosed marks the login popup disappearing mid-flow, which usually
// means authentication finished there and the main page is reloading.
var errPopupClosed = errors.New("login window closed")

// maxLoginSteps caps screen transitions in one login attempt. A full MFA
// flow with three denied challenges uses under half of this; a screen that
// re-renders without advancing (a rejected password) hits the cap and the
// attempt surfaces as a soft failure instead of wedging the scheduler.
const maxLoginSteps = 25

// popupWaitTimeout is how long after the sign-in click to wait for the
// provider to open a popup before driving the main page in place.
const popupWaitTimeout = 5 * time.Second

// Service implements interfaces.TokenAcquirer with chromedp. The browser
// profile directory persists the SSO session between invocations, so most
// refreshes skip the full login and go straight to capture.
type Service struct {
	config   *common.Config
	notifier interfaces.Notifier
	logger   arbor.ILogger
	probeJS  string

	// One browser flow at a time; the profile directory cannot be shared.
	mu sync.Mutex

	// DOM seams. Default to the chromedp implementations; tests script them
	// to exercise the login state machine without a browser.
	probe     func(ctx context.Context) ScreenState
	clickText func(ctx context.Context, text string) (bool, error)
	click     func(ctx context.Context, selector string) error
	fill      func(ctx context.Context, inputSel, submitSel, value string) error
	readText  func(ctx context.Context, selector string) (string, error)
}

// NewService creates the automator. The notifier may be nil only when every
// acquisition will run interactively.
func NewService(config *common.Config, notifier interfaces.Notifier, logger arbor.ILogger) *Service {
	s := &Service{
		config:   config,
		notifier: notifier,
		logger:   logger,
		probeJS:  buildProbeJS(&config.Selectors),
	}
	s.probe = s.probeScreen
	s.clickText = s.clickByText
	s.click = s.clickSelector
	s.fill = s.fillAndSubmit
	s.readText = s.elementText
	return s
}

// AcquireToken launches Chrome against the persistent profile, logs in if
// the remote session has expired, and returns the bearer token observed on
// the first chat-completions request. Interactive mode runs headful and
// leaves every login step to the operator. A second concurrent call fails
// immediately instead of queueing behind the profile lock.
func (s *Service) AcquireToken(ctx context.Context, interactive bool) (string, error) {
	if !s.mu.TryLock() {
		return "", errors.New("token acquisition already in progress")
	}
	defer s.mu.Unlock()

	started := time.Now()
	s.logger.Info().
		Bool("interactive", interactive).
		Str("app_url", s.config.Browser.AppURL).
		Msg("Starting token acquisition")

	browserCtx, cleanup, err := s.newBrowser(ctx, interactive)
	if err != nil {
		return "", err
	}
	defer cleanup()

	// One trace per invocation, success or failure. UI drift is diagnosed
	// from these after the fact.
	traceReason := "attempt aborted"
	defer func() { s.saveTrace(browserCtx, traceReason) }()

	tokenCh := make(chan string, 1)
	s.listenForToken(browserCtx, tokenCh)

	navCtx, navCancel := context.WithTimeout(browserCtx, 60*time.Second)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(s.config.Browser.AppURL),
	); err != nil {
		traceReason = "failed to open application page"
		return "", fmt.Errorf("failed to open application page: %w", err)
	}

	if interactive {
		token, err := s.waitForManualCapture(browserCtx, tokenCh)
		if err != nil {
			traceReason = err.Error()
			return "", err
		}
		traceReason = "token acquired manually"
		return token, nil
	}

	// A live session lands on the chat UI directly. Only attempt the SSO
	// dance when the probe times out without seeing it.
	if _, err := s.waitForScreen(browserCtx, s.config.Browser.SessionProbeTimeout.Std(), ScreenPostLogin); err != nil {
		if browserCtx.Err() != nil {
			traceReason = "cancelled during session probe"
			return "", browserCtx.Err()
		}

		s.logger.Info().Msg("No live session detected, performing SSO login")
		if err := s.performLogin(browserCtx); err != nil {
			traceReason = err.Error()
			if errors.Is(err, errLoginStalled) || errors.Is(err, errSSOFailure) {
				s.logger.Warn().Err(err).Msg("Login attempt failed")
				return "", nil
			}
			return "", err
		}
	} else {
		s.logger.Info().Msg("Existing session still valid, skipping login")
	}

	token, reason, err := s.captureToken(browserCtx, tokenCh)
	if err != nil {
		traceReason = "cancelled during capture"
		return "", err
	}
	if token == "" {
		traceReason = reason
		return "", nil
	}

	traceReason = "token acquired"
	s.logger.Info().
		Int("token_length", len(token)).
		Dur("duration", time.Since(started)).
		Msg("Token acquired")
	return token, nil
}

// waitForManualCapture handles interactive recovery: the operator completes
// login and MFA in the visible window and sends a chat message themselves.
// No form automation, no deadline; only ctx cancellation ends the wait.
func (s *Service) waitForManualCapture(ctx context.Context, tokenCh <-chan string) (string, error) {
	s.logger.Info().Msg("Complete login and any MFA challenge in the browser window")
	s.logger.Info().Msg("After the chat UI loads, send a short message to trigger token capture")

	select {
	case token := <-tokenCh:
		s.logger.Info().Int("token_length", len(token)).Msg("Token acquired")
		return token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// newBrowser builds the allocator and browser contexts. Headless tracks the
// interactive flag: manual recovery needs a window the operator can see.
func (s *Service) newBrowser(ctx context.Context, interactive bool) (context.Context, func(), error) {
	cfg := &s.config.Browser

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !interactive),
		chromedp.Flag("disable-gpu", cfg.DisableGPU),
		chromedp.Flag("no-sandbox", cfg.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserDataDir(cfg.UserDataDir),
		chromedp.UserAgent(cfg.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cleanup := func() {
		browserCancel()
		allocCancel()
	}

	// Startup test; a stale singleton lock on the profile fails here.
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	return browserCtx, cleanup, nil
}

// listenForToken watches outgoing requests for the completions call carrying
// the Authorization header. The channel is buffered; only the first capture
// matters and later sends are dropped.
func (s *Service) listenForToken(browserCtx context.Context, tokenCh chan<- string) {
	marker := s.config.Browser.CompletionsMarker

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch evTyped := ev.(type) {
		case *network.EventRequestWillBeSent:
			if !strings.Contains(evTyped.Request.URL, marker) {
				return
			}

			token, ok := bearerFromHeaders(evTyped.Request.Headers)
			if !ok {
				return
			}

			select {
			case tokenCh <- token:
				s.logger.Debug().
					Str("request_url", evTyped.Request.URL).
					Msg("Captured bearer token from outgoing request")
			default:
			}
		}
	})
}

// bearerFromHeaders pulls the bearer token out of a request header map.
// Header casing follows whatever the page's fetch call used, so both forms
// are checked.
func bearerFromHeaders(headers map[string]interface{}) (string, bool) {
	for _, key := range []string{"Authorization", "authorization"} {
		raw, exists := headers[key]
		if !exists {
			continue
		}
		value, ok := raw.(string)
		if !ok || !strings.HasPrefix(value, "Bearer ") {
			continue
		}
		return strings.TrimPrefix(value, "Bearer "), true
	}
	return "", false
}

// performLogin clicks the application's sign-in control and hands the flow
// to the state machine. The provider may open the SSO pages in a popup
// window; when it does, the state machine drives the popup instead of the
// main page.
func (s *Service) performLogin(browserCtx context.Context) error {
	sel := &s.config.Selectors

	popupCh := chromedp.WaitNewTarget(browserCtx, func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID != ""
	})

	if clicked, err := s.clickText(browserCtx, sel.SignInText); err != nil {
		s.logger.Warn().Err(err).Msg("Sign-in button lookup failed")
	} else if clicked {
		s.logger.Debug().Str("text", sel.SignInText).Msg("Clicked sign-in button")
	}

	loginCtx := browserCtx
	select {
	case id := <-popupCh:
		var cancel context.CancelFunc
		loginCtx, cancel = chromedp.NewContext(browserCtx, chromedp.WithTargetID(id))
		defer cancel()
		s.logger.Debug().Str("target_id", string(id)).Msg("SSO login opened in a popup window")
	case <-time.After(popupWaitTimeout):
		// In-place redirect; keep driving the main page.
	case <-browserCtx.Done():
		return browserCtx.Err()
	}

	return s.driveLogin(browserCtx, loginCtx)
}

// driveLogin runs the SSO state machine. The provider shows post-password
// screens in no fixed order, so every iteration reclassifies the page and
// acts on whatever is actually there, up to the step cap.
func (s *Service) driveLogin(browserCtx, loginCtx context.Context) error {
	sel := &s.config.Selectors

	deniedCount := 0
	for step := 0; step < maxLoginSteps; step++ {
		state, err := s.waitForScreen(loginCtx, s.config.Browser.LoginWaitTimeout.Std(),
			ScreenPostLogin, ScreenEmail, ScreenPassword, ScreenStaySignedIn,
			ScreenMFANumber, ScreenMFAMethods, ScreenMFADenied, ScreenSSOError,
		)
		if err != nil {
			if browserCtx.Err() != nil {
				return browserCtx.Err()
			}
			if loginCtx != browserCtx && loginCtx.Err() != nil {
				return s.confirmPostLogin(browserCtx)
			}
			return errLoginStalled
		}

		s.logger.Debug().Str("screen", string(state)).Msg("Login screen detected")

		switch state {
		case ScreenPostLogin:
			s.logger.Info().Msg("SSO login completed")
			return nil

		case ScreenEmail:
			if err := s.fill(loginCtx, sel.EmailInput, sel.EmailSubmit, s.config.Credentials.Email); err != nil {
				return fmt.Errorf("failed to submit email: %w", err)
			}

		case ScreenPassword:
			if err := s.fill(loginCtx, sel.PasswordInput, sel.PasswordSubmit, s.config.Credentials.Password); err != nil {
				return fmt.Errorf("failed to submit password: %w", err)
			}

		case ScreenStaySignedIn:
			if err := s.click(loginCtx, sel.StaySignedIn); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to confirm stay-signed-in prompt")
			}

		case ScreenMFAMethods:
			if err := s.click(loginCtx, sel.MFAMethodNotify); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to select notification MFA method")
			}

		case ScreenMFANumber:
			if err := s.handleChallenge(browserCtx, loginCtx); err != nil {
				if errors.Is(err, errPopupClosed) {
					return s.confirmPostLogin(browserCtx)
				}
				return err
			}

		case ScreenMFADenied:
			deniedCount++
			if deniedCount > s.config.Browser.MFADenyRetries {
				return &models.MFATimeoutError{Reason: "challenge denied repeatedly"}
			}
			s.logger.Warn().
				Int("denied_count", deniedCount).
				Int("max_retries", s.config.Browser.MFADenyRetries).
				Msg("MFA challenge denied, requesting a new one")
			if err := s.click(loginCtx, sel.MFAResend); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to request a new challenge")
			}

		case ScreenSSOError:
			message, _ := s.readText(loginCtx, sel.SSOError)
			s.logger.Error().Str("message", message).Msg("Identity provider reported an error")
			return errSSOFailure
		}
	}

	return errLoginStalled
}

// confirmPostLogin waits on the main page after the login popup closed.
func (s *Service) confirmPostLogin(browserCtx context.Context) error {
	s.logger.Debug().Msg("Login window closed, checking the main page")
	if _, err := s.waitForScreen(browserCtx, s.config.Browser.LoginWaitTimeout.Std(), ScreenPostLogin); err != nil {
		if browserCtx.Err() != nil {
			return browserCtx.Err()
		}
		return errLoginStalled
	}
	s.logger.Info().Msg("SSO login completed")
	return nil
}

// handleChallenge resolves one number-matching challenge: email the code to
// the operator and wait out the approval window. A provider error banner
// during the window ends the wait immediately.
func (s *Service) handleChallenge(browserCtx, loginCtx context.Context) error {
	code, err := s.readText(loginCtx, s.config.Selectors.MFANumber)
	if err != nil || code == "" {
		s.logger.Warn().Err(err).Msg("Could not read MFA challenge code")
	}

	s.logger.Info().
		Str("code", code).
		Dur("window", s.config.Browser.MFAWindow.Std()).
		Msg("MFA challenge issued, notifying operator")

	if err := s.notifier.NotifyChallenge(loginCtx, code); err != nil {
		return err
	}

	state, err := s.waitForScreen(loginCtx, s.config.Browser.MFAWindow.Std(),
		ScreenPostLogin, ScreenStaySignedIn, ScreenMFADenied, ScreenSSOError)
	if err != nil {
		if browserCtx.Err() != nil {
			return browserCtx.Err()
		}
		if loginCtx != browserCtx && loginCtx.Err() != nil {
			return errPopupClosed
		}
		return &models.MFATimeoutError{Reason: "approval window expired"}
	}
	if state == ScreenSSOError {
		message, _ := s.readText(loginCtx, s.config.Selectors.SSOError)
		s.logger.Error().Str("message", message).Msg("Identity provider reported an error during approval")
		return &models.MFATimeoutError{Reason: "identity provider error during approval"}
	}
	return nil
}

// fillAndSubmit clears a field, types the value, and submits. Clearing first
// keeps the action safe when the page re-probes as the same screen.
func (s *Service) fillAndSubmit(ctx context.Context, inputSel, submitSel, value string) error {
	fillCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return chromedp.Run(fillCtx,
		chromedp.Clear(inputSel, chromedp.ByQuery),
		chromedp.SendKeys(inputSel, value, chromedp.ByQuery),
		chromedp.Click(submitSel, chromedp.ByQuery),
	)
}

// captureToken types a throwaway message into the chat box and clicks send.
// The application attaches the bearer token to the resulting completions
// request, which the network listener picks up. Soft failures come back as
// an empty token with the reason for the trace record.
func (s *Service) captureToken(ctx context.Context, tokenCh <-chan string) (string, string, error) {
	sel := &s.config.Selectors

	typeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(typeCtx,
		chromedp.WaitVisible(sel.ChatTextarea, chromedp.ByQuery),
		chromedp.Click(sel.ChatTextarea, chromedp.ByQuery),
		chromedp.SendKeys(sel.ChatTextarea, "Hi", chromedp.ByQuery),
		chromedp.Click(sel.SendButton, chromedp.ByQuery),
	); err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("Failed to trigger token-bearing request")
		return "", "failed to send capture message", nil
	}

	select {
	case token := <-tokenCh:
		return token, "", nil
	case <-time.After(s.config.Browser.CaptureTimeout.Std()):
		s.logger.Warn().
			Dur("timeout", s.config.Browser.CaptureTimeout.Std()).
			Msg("No token-bearing request observed before timeout")
		return "", "token capture timed out", nil
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}
