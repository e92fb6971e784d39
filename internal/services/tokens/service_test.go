package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/hereiam510/MyAPI/internal/interfaces"
)

// memoryKV is an in-memory KeyValueStorage for tests.
type memoryKV struct {
	data map[string]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string]string)}
}

func (m *memoryKV) Get(ctx context.Context, key string) (string, error) {
	value, exists := m.data[key]
	if !exists {
		return "", interfaces.ErrKeyNotFound
	}
	return value, nil
}

func (m *memoryKV) GetPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	value, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &interfaces.KeyValuePair{Key: key, Value: value}, nil
}

func (m *memoryKV) Set(ctx context.Context, key, value, description string) error {
	m.data[key] = value
	return nil
}

func (m *memoryKV) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memoryKV) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	pairs := make([]interfaces.KeyValuePair, 0, len(m.data))
	for k, v := range m.data {
		pairs = append(pairs, interfaces.KeyValuePair{Key: k, Value: v})
	}
	return pairs, nil
}

func newTestService() *Service {
	return NewService(newMemoryKV(), nil, arbor.NewLogger())
}

func TestSetAndCurrent(t *testing.T) {
	svc := newTestService()

	assert.False(t, svc.HasToken())
	assert.Empty(t, svc.Current())

	require.NoError(t, svc.Set(context.Background(), "tok-abc123"))
	assert.True(t, svc.HasToken())
	assert.Equal(t, "tok-abc123", svc.Current())
	assert.False(t, svc.LastRefreshed().IsZero())
}

func TestSetRejectsEmpty(t *testing.T) {
	svc := newTestService()
	assert.Error(t, svc.Set(context.Background(), ""))
}

func TestSetPersistsToken(t *testing.T) {
	kv := newMemoryKV()
	svc := NewService(kv, nil, arbor.NewLogger())

	require.NoError(t, svc.Set(context.Background(), "tok-persisted"))

	// A new service over the same store picks the token up at startup.
	restarted := NewService(kv, nil, arbor.NewLogger())
	assert.Equal(t, "tok-persisted", restarted.Current())
}

func TestSetClearsPauseGate(t *testing.T) {
	svc := newTestService()

	svc.Pause("table exhausted")
	assert.True(t, svc.IsPaused())
	assert.Equal(t, "table exhausted", svc.PauseReason())

	require.NoError(t, svc.Set(context.Background(), "tok-recovered"))
	assert.False(t, svc.IsPaused())
	assert.Empty(t, svc.PauseReason())
}

func TestRedundantPushIsAccepted(t *testing.T) {
	svc := newTestService()

	require.NoError(t, svc.Set(context.Background(), "tok-same"))
	require.NoError(t, svc.Set(context.Background(), "tok-same"))
	assert.Equal(t, "tok-same", svc.Current())
}

func TestWaitResumeBlocksUntilSet(t *testing.T) {
	svc := newTestService()
	svc.Pause("mfa denied")

	resumed := make(chan error, 1)
	go func() {
		resumed <- svc.WaitResume(context.Background())
	}()

	select {
	case <-resumed:
		t.Fatal("WaitResume returned before the gate was cleared")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, svc.Set(context.Background(), "tok-push"))

	select {
	case err := <-resumed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitResume did not return after the gate was cleared")
	}
}

func TestWaitResumeReturnsImmediatelyWhenActive(t *testing.T) {
	svc := newTestService()
	assert.NoError(t, svc.WaitResume(context.Background()))
}

func TestWaitResumeHonorsContext(t *testing.T) {
	svc := newTestService()
	svc.Pause("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, svc.WaitResume(ctx))
}

func TestPauseIsIdempotent(t *testing.T) {
	svc := newTestService()

	svc.Pause("first reason")
	svc.Pause("second reason")
	assert.True(t, svc.IsPaused())
	assert.Equal(t, "second reason", svc.PauseReason())
}

func TestFailureCounter(t *testing.T) {
	svc := newTestService()

	assert.Equal(t, 0, svc.Failures())
	assert.Equal(t, 1, svc.RecordFailure())
	assert.Equal(t, 2, svc.RecordFailure())
	svc.ResetFailures()
	assert.Equal(t, 0, svc.Failures())
}

func TestFingerprintIsNonSensitive(t *testing.T) {
	svc := newTestService()
	require.NoError(t, svc.Set(context.Background(), "eyJhbGciOiJIUzI1NiJ9.payload.signature"))

	fp := svc.Fingerprint()
	assert.Contains(t, fp, "eyJhbGci")
	assert.NotContains(t, fp, "signature")
	assert.Contains(t, fp, "chars")
}

func TestFingerprintEmptyToken(t *testing.T) {
	svc := newTestService()
	assert.Empty(t, svc.Fingerprint())
}
