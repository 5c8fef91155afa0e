package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpensAfterThreshold(t *testing.T) {
	b := New(Config{Threshold: 3, Window: time.Second, Cooldown: 50 * time.Millisecond})
	for i := 0; i < 3; i++ {
		require.NoError(t, b.AttemptStart(), "attempt %d", i)
		b.RecordFailure()
	}
	require.Equal(t, Open, b.State())

	var re *RejectedError
	err := b.AttemptStart()
	assert.True(t, errors.As(err, &re), "expected RejectedError, got %v", err)
}

func TestHalfOpenAllowsOneProbe(t *testing.T) {
	b := New(Config{Threshold: 1, Window: time.Second, Cooldown: 20 * time.Millisecond})
	require.NoError(t, b.AttemptStart())
	b.RecordFailure()
	require.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())
	assert.NoError(t, b.AttemptStart(), "first half-open attempt should be allowed")
	assert.Error(t, b.AttemptStart(), "second concurrent half-open attempt should be rejected")
}

func TestHalfOpenSuccessClosesCircuit(t *testing.T) {
	b := New(Config{Threshold: 1, Window: time.Second, Cooldown: 10 * time.Millisecond})
	_ = b.AttemptStart()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	_ = b.AttemptStart()
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{Threshold: 1, Window: time.Second, Cooldown: 10 * time.Millisecond})
	_ = b.AttemptStart()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	_ = b.AttemptStart()
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestRejectsEveryAttemptUntilCooldownElapsed(t *testing.T) {
	b := New(Config{Threshold: 1, Window: time.Second, Cooldown: 100 * time.Millisecond})
	_ = b.AttemptStart()
	b.RecordFailure()

	deadline := time.Now().Add(60 * time.Millisecond)
	for time.Now().Before(deadline) {
		assert.Error(t, b.AttemptStart(), "expected rejection before cooldown elapses")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	b := New(Config{Threshold: 2, Window: 20 * time.Millisecond, Cooldown: time.Second})
	_ = b.AttemptStart()
	b.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	_ = b.AttemptStart()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State(), "expected Closed since first failure fell outside window")
}
