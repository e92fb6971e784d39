package refresher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/common"
	"github.com/hereiam510/MyAPI/internal/models"
	"github.com/hereiam510/MyAPI/internal/services/tokens"
)

type acquireResult struct {
	token string
	err   error
}

// stubAcquirer replays scripted results; the last entry repeats forever.
type stubAcquirer struct {
	mu      sync.Mutex
	results []acquireResult
	calls   int
}

func (s *stubAcquirer) AcquireToken(ctx context.Context, interactive bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	result := s.results[idx]
	return result.token, result.err
}

func (s *stubAcquirer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubNotifier counts alerts without sending anything.
type stubNotifier struct {
	mu         sync.Mutex
	alerts     []string
	challenges []string
}

func (s *stubNotifier) NotifyChallenge(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges = append(s.challenges, code)
	return nil
}

func (s *stubNotifier) Alert(ctx context.Context, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, subject)
	return nil
}

func (s *stubNotifier) IsConfigured() bool { return true }

func (s *stubNotifier) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func testRefreshConfig() *common.RefreshConfig {
	return &common.RefreshConfig{
		Interval:       common.Duration(time.Hour),
		RetryBackoff:   []common.Duration{common.Duration(time.Millisecond), common.Duration(time.Millisecond)},
		TransientRetry: common.Duration(time.Millisecond),
	}
}

func newTestRefresher(acquirer *stubAcquirer, notifier *stubNotifier) (*Service, *tokens.Service) {
	tokenService := tokens.NewService(nil, nil, arbor.NewLogger())
	svc := NewService(testRefreshConfig(), tokenService, acquirer, notifier, nil, arbor.NewLogger())
	return svc, tokenService
}

func TestSuccessStoresTokenAndResetsFailures(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{{token: "tok-fresh"}}}
	notifier := &stubNotifier{}
	svc, tokenService := newTestRefresher(acquirer, notifier)

	tokenService.RecordFailure()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		return tokenService.Current() == "tok-fresh"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, tokenService.Failures())
	assert.Equal(t, 1, acquirer.callCount())
	assert.Equal(t, 0, notifier.alertCount())
}

func TestSoftFailureExhaustionPausesWithOneAlert(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{{token: ""}}}
	notifier := &stubNotifier{}
	svc, tokenService := newTestRefresher(acquirer, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, tokenService.IsPaused, time.Second, 5*time.Millisecond)

	// Two table entries plus the attempt that exhausted them.
	assert.Equal(t, 3, acquirer.callCount())
	assert.Equal(t, 3, tokenService.Failures())
	assert.Equal(t, 1, notifier.alertCount())
	assert.Contains(t, tokenService.PauseReason(), "consecutive refresh failures")

	// Paused loop makes no further attempts.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, acquirer.callCount())
}

func TestMFATimeoutPausesImmediately(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{
		{err: &models.MFATimeoutError{Reason: "approval window expired"}},
	}}
	notifier := &stubNotifier{}
	svc, tokenService := newTestRefresher(acquirer, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, tokenService.IsPaused, time.Second, 5*time.Millisecond)

	// No retry-table consumption: pause happened on the first attempt.
	assert.Equal(t, 1, acquirer.callCount())
	assert.Equal(t, 0, tokenService.Failures())
	assert.Equal(t, 1, notifier.alertCount())
}

func TestMFANotificationErrorPausesImmediately(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{
		{err: &models.MFANotificationError{Attempts: 3, Err: errors.New("smtp down")}},
	}}
	notifier := &stubNotifier{}
	svc, tokenService := newTestRefresher(acquirer, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, tokenService.IsPaused, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, acquirer.callCount())
}

func TestTransientErrorDoesNotConsumeRetryTable(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{
		{err: errors.New("browser failed startup test")},
		{err: errors.New("browser failed startup test")},
		{token: "tok-recovered"},
	}}
	notifier := &stubNotifier{}
	svc, tokenService := newTestRefresher(acquirer, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		return tokenService.Current() == "tok-recovered"
	}, time.Second, 5*time.Millisecond)

	assert.False(t, tokenService.IsPaused())
	assert.Equal(t, 0, tokenService.Failures())
}

func TestTokenPushResumesPausedLoop(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{{token: ""}}}
	notifier := &stubNotifier{}
	svc, tokenService := newTestRefresher(acquirer, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, tokenService.IsPaused, time.Second, 5*time.Millisecond)

	require.NoError(t, tokenService.Set(context.Background(), "tok-manual"))

	require.Eventually(t, func() bool {
		return !tokenService.IsPaused() && tokenService.Failures() == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, models.RefreshActive, svc.Status().State)
}

func TestTriggerNowWhilePaused(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{{token: "tok"}}}
	svc, tokenService := newTestRefresher(acquirer, &stubNotifier{})

	tokenService.Pause("manual intervention required")

	err := svc.TriggerNow()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paused")
}

func TestTriggerNowForcesEarlyAttempt(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{{token: "tok-1"}, {token: "tok-2"}}}
	notifier := &stubNotifier{}
	svc, tokenService := newTestRefresher(acquirer, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		return tokenService.Current() == "tok-1"
	}, time.Second, 5*time.Millisecond)

	// The loop is now asleep for an hour; the trigger cuts it short.
	require.NoError(t, svc.TriggerNow())

	require.Eventually(t, func() bool {
		return tokenService.Current() == "tok-2"
	}, time.Second, 5*time.Millisecond)
}

func TestStatusSnapshot(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{{token: "tok-status"}}}
	svc, tokenService := newTestRefresher(acquirer, &stubNotifier{})

	status := svc.Status()
	assert.Equal(t, models.RefreshActive, status.State)
	assert.False(t, status.HasToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		return tokenService.HasToken()
	}, time.Second, 5*time.Millisecond)

	status = svc.Status()
	assert.True(t, status.HasToken)
	assert.NotEmpty(t, status.TokenFingerprint)
	assert.False(t, status.LastAttempt.IsZero())
	assert.False(t, status.LastRefreshed.IsZero())
	assert.Empty(t, status.LastError)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	acquirer := &stubAcquirer{results: []acquireResult{{token: "tok"}}}
	svc, _ := newTestRefresher(acquirer, &stubNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
