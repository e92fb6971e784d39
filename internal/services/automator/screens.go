package automator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/hereiam510/MyAPI/internal/common"
)

// ScreenState identifies which login screen the browser is showing. The SSO
// flow is nonlinear: after the password submit the provider may show any of
// these in any order, so the login loop classifies the page on every tick
// instead of waiting on one selector.
type ScreenState string

const (
	ScreenNone         ScreenState = "none"
	ScreenPostLogin    ScreenState = "post_login"
	ScreenEmail        ScreenState = "email"
	ScreenPassword     ScreenState = "password"
	ScreenStaySignedIn ScreenState = "stay_signed_in"
	ScreenMFANumber    ScreenState = "mfa_number"
	ScreenMFAMethods   ScreenState = "mfa_methods"
	ScreenMFADenied    ScreenState = "mfa_denied"
	ScreenSSOError     ScreenState = "sso_error"
)

// buildProbeJS renders the single-expression page classifier. Evaluation
// order encodes priority: a reachable chat box always wins, and terminal
// screens (denial, provider error) outrank the transient prompts.
func buildProbeJS(selectors *common.SelectorsConfig) string {
	return fmt.Sprintf(`(function() {
	function vis(sel) {
		if (!sel) { return false; }
		try {
			var el = document.querySelector(sel);
			return !!(el && el.offsetParent !== null);
		} catch (e) {
			return false;
		}
	}
	if (vis(%q)) { return "post_login"; }
	if (vis(%q)) { return "mfa_denied"; }
	if (vis(%q)) { return "mfa_number"; }
	if (vis(%q)) { return "mfa_methods"; }
	if (vis(%q)) { return "sso_error"; }
	if (vis(%q)) { return "password"; }
	if (vis(%q)) { return "stay_signed_in"; }
	if (vis(%q)) { return "email"; }
	return "none";
})()`,
		selectors.ChatTextarea,
		selectors.MFADenied,
		selectors.MFANumber,
		selectors.MFAMethodList,
		selectors.SSOError,
		selectors.PasswordInput,
		selectors.StaySignedIn,
		selectors.EmailInput,
	)
}

// probeScreen evaluates the classifier once. Evaluation errors map to
// ScreenNone so a mid-navigation tick does not abort the login loop.
func (s *Service) probeScreen(ctx context.Context) ScreenState {
	evalCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var state string
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(s.probeJS, &state)); err != nil {
		s.logger.Trace().Err(err).Msg("Screen probe evaluation failed")
		return ScreenNone
	}
	return ScreenState(state)
}

// waitForScreen polls until the probe reports one of the wanted states or the
// deadline passes. A zero deadline waits until ctx is done.
func (s *Service) waitForScreen(ctx context.Context, deadline time.Duration, wanted ...ScreenState) (ScreenState, error) {
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	ticker := time.NewTicker(s.config.Browser.PollInterval.Std())
	defer ticker.Stop()

	for {
		state := s.probe(ctx)
		for _, w := range wanted {
			if state == w {
				return state, nil
			}
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}

// elementText reads the trimmed text content of an element without waiting
// for it; callers only invoke this after the probe confirmed visibility.
func (s *Service) elementText(ctx context.Context, selector string) (string, error) {
	evalCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	js := fmt.Sprintf(`(function() {
	var el = document.querySelector(%q);
	return el ? el.textContent.trim() : "";
})()`, selector)

	var text string
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(js, &text)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// clickByText clicks the first button-like element whose visible text matches.
// The application's entry page renders its sign-in control without a stable
// id, so text matching is the only durable hook.
func (s *Service) clickByText(ctx context.Context, text string) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	js := fmt.Sprintf(`(function() {
	var els = document.querySelectorAll('button, a, [role="button"]');
	for (var i = 0; i < els.length; i++) {
		if (els[i].textContent.trim() === %q) {
			els[i].click();
			return true;
		}
	}
	return false;
})()`, text)

	var clicked bool
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

// clickSelector clicks an element the probe already reported visible.
func (s *Service) clickSelector(ctx context.Context, selector string) error {
	clickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return chromedp.Run(clickCtx, chromedp.Click(selector, chromedp.ByQuery))
}
