package automator

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hereiam510/MyAPI/internal/common"
)

func TestBuildProbeJSContainsAllSelectors(t *testing.T) {
	selectors := common.DefaultSelectors()
	js := buildProbeJS(&selectors)

	// Selectors are embedded as quoted JS string literals, so attribute
	// quotes inside them appear escaped.
	assert.Contains(t, js, fmt.Sprintf("%q", selectors.ChatTextarea))
	assert.Contains(t, js, fmt.Sprintf("%q", selectors.PasswordInput))
	assert.Contains(t, js, fmt.Sprintf("%q", selectors.MFANumber))
	assert.Contains(t, js, fmt.Sprintf("%q", selectors.MFAMethodList))
	assert.Contains(t, js, fmt.Sprintf("%q", selectors.MFADenied))
	assert.Contains(t, js, fmt.Sprintf("%q", selectors.SSOError))
	assert.Contains(t, js, fmt.Sprintf("%q", selectors.EmailInput))
}

func TestBuildProbeJSPriorityOrder(t *testing.T) {
	selectors := common.DefaultSelectors()
	js := buildProbeJS(&selectors)

	// The chat box must be checked before everything else: once the app is
	// reachable no login screen matters. Terminal screens come next.
	postLogin := strings.Index(js, `"post_login"`)
	denied := strings.Index(js, `"mfa_denied"`)
	number := strings.Index(js, `"mfa_number"`)
	password := strings.Index(js, `"password"`)
	email := strings.Index(js, `"email"`)

	assert.Greater(t, denied, postLogin)
	assert.Greater(t, number, denied)
	assert.Greater(t, password, number)
	assert.Greater(t, email, password)
}

func TestBuildProbeJSQuotesSelectors(t *testing.T) {
	selectors := common.DefaultSelectors()
	selectors.ChatTextarea = `textarea[placeholder="Ask \"anything\""]`
	js := buildProbeJS(&selectors)

	// Selectors with quotes must survive embedding without breaking the
	// expression.
	assert.Contains(t, js, fmt.Sprintf("%q", selectors.ChatTextarea))
	assert.NotContains(t, js, `querySelector(textarea`)
}

func TestScreenStateValues(t *testing.T) {
	// The probe returns these strings verbatim; the enum must match.
	assert.Equal(t, ScreenState("post_login"), ScreenPostLogin)
	assert.Equal(t, ScreenState("mfa_denied"), ScreenMFADenied)
	assert.Equal(t, ScreenState("mfa_number"), ScreenMFANumber)
	assert.Equal(t, ScreenState("mfa_methods"), ScreenMFAMethods)
	assert.Equal(t, ScreenState("stay_signed_in"), ScreenStaySignedIn)
	assert.Equal(t, ScreenState("sso_error"), ScreenSSOError)
	assert.Equal(t, ScreenState("password"), ScreenPassword)
	assert.Equal(t, ScreenState("email"), ScreenEmail)
	assert.Equal(t, ScreenState("none"), ScreenNone)
}
