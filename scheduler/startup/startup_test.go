package startup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase1BudgetIsEnforced(t *testing.T) {
	now := time.Now()
	o := New(Config{T1: 30 * time.Second, K1: 2, T2: time.Minute, K2: 5, T3: 2 * time.Minute, K3: 10, Armed: true}, func() time.Time { return now })

	assert.True(t, o.ShouldSpawnNext())
	o.OnBotSpawned()
	assert.True(t, o.ShouldSpawnNext())
	o.OnBotSpawned()
	assert.False(t, o.ShouldSpawnNext())

	now = now.Add(time.Second)
	assert.True(t, o.ShouldSpawnNext())
}

func TestDisarmedOrchestratorRefusesUntilEngaged(t *testing.T) {
	now := time.Now()
	o := New(Config{T1: 30 * time.Second, K1: 2, Armed: false}, func() time.Time { return now })

	assert.False(t, o.Armed())
	assert.False(t, o.ShouldSpawnNext())

	o.Engage()
	assert.True(t, o.Armed())
	assert.True(t, o.ShouldSpawnNext())
}

func TestPhaseTransitions(t *testing.T) {
	now := time.Now()
	o := New(Config{T1: time.Minute, K1: 1, T2: 2 * time.Minute, K2: 2, T3: 3 * time.Minute, K3: 3, Armed: true}, func() time.Time { return now })

	require.Equal(t, Phase1, o.CurrentPhase())

	now = now.Add(90 * time.Second)
	require.Equal(t, Phase2, o.CurrentPhase())

	now = now.Add(60 * time.Second)
	require.Equal(t, Phase3, o.CurrentPhase())

	now = now.Add(60 * time.Second)
	require.Equal(t, Phase4, o.CurrentPhase())
}

func TestPhase4IsUnrestricted(t *testing.T) {
	now := time.Now()
	o := New(Config{T1: time.Second, K1: 0, T2: 2 * time.Second, K2: 0, T3: 3 * time.Second, K3: 0, Armed: true}, func() time.Time { return now })

	now = now.Add(10 * time.Second)
	for i := 0; i < 100; i++ {
		assert.True(t, o.ShouldSpawnNext())
		o.OnBotSpawned()
	}
}
