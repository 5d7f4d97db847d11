package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsOnFailureRatio(t *testing.T) {
	now := time.Now()
	b := New(Config{WindowSize: 50, MinSamples: 20, FailureThreshold: 0.5, OpenDuration: time.Second, HalfOpenProbes: 3}, func() time.Time { return now })

	for i := 0; i < 30; i++ {
		b.RecordFailure("persistence_failed")
	}

	assert.Equal(t, Open, b.State())
	assert.False(t, b.AllowRequest())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New(Config{WindowSize: 50, MinSamples: 20, FailureThreshold: 0.5, OpenDuration: time.Second, HalfOpenProbes: 2}, clock)

	for i := 0; i < 30; i++ {
		b.RecordFailure("persistence_failed")
	}
	require.Equal(t, Open, b.State())

	now = now.Add(2 * time.Second)
	require.Equal(t, HalfOpen, b.State())

	require.True(t, b.AllowRequest())
	b.RecordSuccess()
	require.True(t, b.AllowRequest())
	b.RecordSuccess()

	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New(Config{WindowSize: 50, MinSamples: 20, FailureThreshold: 0.5, OpenDuration: time.Second, HalfOpenProbes: 2}, clock)

	for i := 0; i < 30; i++ {
		b.RecordFailure("x")
	}
	now = now.Add(2 * time.Second)
	require.Equal(t, HalfOpen, b.State())

	require.True(t, b.AllowRequest())
	b.RecordFailure("still broken")

	assert.Equal(t, Open, b.State())
}

func TestClosedStateAllowsUnderThreshold(t *testing.T) {
	now := time.Now()
	b := New(Config{WindowSize: 50, MinSamples: 20, FailureThreshold: 0.5, OpenDuration: time.Second, HalfOpenProbes: 3}, func() time.Time { return now })

	for i := 0; i < 15; i++ {
		b.RecordFailure("x")
	}
	for i := 0; i < 15; i++ {
		b.RecordSuccess()
	}

	assert.Equal(t, Closed, b.State())
	assert.True(t, b.AllowRequest())
}
