package votes

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, open time.Duration) (*circuitBreaker, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := newCircuitBreaker(threshold, open, slog.Default())
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	assert.NoError(t, cb.canAttempt("upsert_vote"))
	assert.Equal(t, stateClosed, cb.getState("upsert_vote"))
}

func TestCircuitBreaker_OpensAfterThresholdFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	testErr := errors.New("connection refused")

	for i := 0; i < 2; i++ {
		cb.recordFailure("upsert_vote", testErr)
	}
	assert.NoError(t, cb.canAttempt("upsert_vote"), "below threshold stays closed")

	cb.recordFailure("upsert_vote", testErr)

	err := cb.canAttempt("upsert_vote")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.NoError(t, cb.canAttempt("delete_vote"), "operations are tracked independently")
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)
	cb.recordFailure("upsert_vote", errors.New("boom"))
	require.Error(t, cb.canAttempt("upsert_vote"))

	*now = now.Add(2 * time.Minute)

	require.NoError(t, cb.canAttempt("upsert_vote"))
	assert.Equal(t, stateHalfOpen, cb.getState("upsert_vote"))

	cb.recordSuccess("upsert_vote")
	assert.Equal(t, stateClosed, cb.getState("upsert_vote"))
	assert.Zero(t, cb.failures["upsert_vote"])
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(3, time.Minute)
	for i := 0; i < 3; i++ {
		cb.recordFailure("upsert_vote", errors.New("boom"))
	}
	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.canAttempt("upsert_vote"))

	cb.recordFailure("upsert_vote", errors.New("still down"))

	assert.Equal(t, stateOpen, cb.getState("upsert_vote"))
	assert.Error(t, cb.canAttempt("upsert_vote"))
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb, _ := newTestBreaker(0, 0)

	for i := 0; i < 10; i++ {
		cb.recordFailure("upsert_vote", errors.New("boom"))
	}

	assert.NoError(t, cb.canAttempt("upsert_vote"))
	assert.Empty(t, cb.failures)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", stateClosed.String())
	assert.Equal(t, "open", stateOpen.String())
	assert.Equal(t, "half-open", stateHalfOpen.String())
}
