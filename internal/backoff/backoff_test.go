package backoff_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/battguard/internal/backoff"
	"codeberg.org/mutker/battguard/internal/config"
	"codeberg.org/mutker/battguard/internal/power"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() *config.Config {
	return &config.Config{
		CriticalThreshold: 10,
		LowThreshold:      20,
		FullThreshold:     90,
		BackoffInitial:    10,
		BackoffMax:        300,
		BackoffFactor:     2,
		CriticalPolling:   30,
	}
}

func TestGrowthClampsAtMax(t *testing.T) {
	cfg := defaultConfig()
	state := backoff.NewState(cfg)
	require.Equal(t, 10*time.Second, state.Interval)

	expected := []time.Duration{
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		300 * time.Second,
		300 * time.Second,
	}

	for i, want := range expected {
		state.Interval = backoff.Next(50, power.ACDisconnected, false, cfg, state.Interval)
		assert.Equal(t, want, state.Interval, "iteration %d", i)
	}
}

func TestGrowthIsMonotonic(t *testing.T) {
	cfg := defaultConfig()
	interval := cfg.BackoffInitialInterval()

	for i := 0; i < 20; i++ {
		next := backoff.Next(50, power.ACDisconnected, false, cfg, interval)
		assert.GreaterOrEqual(t, next, interval)
		assert.LessOrEqual(t, next, cfg.BackoffMaxInterval())
		interval = next
	}
}

func TestChangeResetsToInitial(t *testing.T) {
	cfg := defaultConfig()

	for _, current := range []time.Duration{10 * time.Second, 80 * time.Second, 300 * time.Second} {
		next := backoff.Next(50, power.ACDisconnected, true, cfg, current)
		assert.Equal(t, cfg.BackoffInitialInterval(), next,
			"Expected reset to initial from %v", current)
	}
}

func TestCriticalOverridesEverything(t *testing.T) {
	cfg := defaultConfig()

	for _, percent := range []int{0, 5, 10} {
		for _, changed := range []bool{true, false} {
			next := backoff.Next(percent, power.ACDisconnected, changed, cfg, 300*time.Second)
			assert.Equal(t, cfg.CriticalPollingInterval(), next,
				"Expected critical polling at %d%% changed=%v", percent, changed)
		}
	}

	// Just above the threshold, normal rules apply again.
	next := backoff.Next(11, power.ACDisconnected, true, cfg, 300*time.Second)
	assert.Equal(t, cfg.BackoffInitialInterval(), next)
}

func TestFloorRaisesIntervalWhileEventsHealthy(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, backoff.EventMonitoringFloor,
		backoff.Floor(10*time.Second, 50, cfg, true))

	// Intervals already above the floor pass through.
	assert.Equal(t, 300*time.Second,
		backoff.Floor(300*time.Second, 50, cfg, true))
}

func TestFloorDoesNotApplyWithoutHealthyEvents(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, 10*time.Second,
		backoff.Floor(10*time.Second, 50, cfg, false))
}

func TestFloorDoesNotApplyAtCriticalBattery(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, 30*time.Second,
		backoff.Floor(30*time.Second, 10, cfg, true))
}

func TestAnomalousIntervalReplacedWithSafeDefault(t *testing.T) {
	cfg := defaultConfig()
	cfg.BackoffInitial = 2 // below the absolute floor

	next := backoff.Next(50, power.ACDisconnected, true, cfg, 40*time.Second)
	assert.Equal(t, backoff.SafeDefault, next)

	next = backoff.Next(50, power.ACDisconnected, false, cfg, 3*time.Second)
	assert.Equal(t, backoff.SafeDefault, next, "6s computed interval is below the floor")
}
