package notify_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/battguard/internal/config"
	"codeberg.org/mutker/battguard/internal/notify"
	"codeberg.org/mutker/battguard/internal/power"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		CriticalThreshold: 10,
		LowThreshold:      20,
		FullThreshold:     90,
	}
}

func obs(percent int, ac power.ACStatus) power.Observation {
	return power.Observation{Percent: percent, ACStatus: ac, At: time.Now()}
}

func kinds(events []notify.Event) []notify.Kind {
	out := make([]notify.Kind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}

	return out
}

func TestEvaluateCriticalEdge(t *testing.T) {
	cfg := testConfig()

	events := notify.Evaluate(obs(9, power.ACDisconnected), obs(25, power.ACDisconnected), cfg)
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindCritical, events[0].Kind)
	assert.Equal(t, notify.UrgencyCritical, events[0].Urgency)
	assert.Contains(t, events[0].Body, "9%")

	// Staying critical is not a new edge.
	events = notify.Evaluate(obs(8, power.ACDisconnected), obs(9, power.ACDisconnected), cfg)
	assert.Empty(t, events)
}

func TestEvaluateSkipsLowWhenAlreadyCritical(t *testing.T) {
	cfg := testConfig()

	events := notify.Evaluate(obs(5, power.ACDisconnected), obs(15, power.ACDisconnected), cfg)
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindCritical, events[0].Kind)
}

func TestEvaluateLowEdge(t *testing.T) {
	cfg := testConfig()

	events := notify.Evaluate(obs(18, power.ACDisconnected), obs(22, power.ACDisconnected), cfg)
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindLow, events[0].Kind)

	// Drifting inside the low band stays quiet.
	events = notify.Evaluate(obs(15, power.ACDisconnected), obs(18, power.ACDisconnected), cfg)
	assert.Empty(t, events)
}

func TestEvaluateFullRequiresAC(t *testing.T) {
	cfg := testConfig()

	events := notify.Evaluate(obs(92, power.ACConnected), obs(88, power.ACConnected), cfg)
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindFull, events[0].Kind)

	events = notify.Evaluate(obs(92, power.ACDisconnected), obs(88, power.ACDisconnected), cfg)
	assert.Empty(t, events)
}

func TestEvaluateACTransitions(t *testing.T) {
	cfg := testConfig()

	events := notify.Evaluate(obs(50, power.ACConnected), obs(50, power.ACDisconnected), cfg)
	assert.Equal(t, []notify.Kind{notify.KindACConnected}, kinds(events))

	events = notify.Evaluate(obs(50, power.ACDisconnected), obs(50, power.ACConnected), cfg)
	assert.Equal(t, []notify.Kind{notify.KindACDisconnected}, kinds(events))

	// Any transition into a known direction fires, including recovery
	// from an unreadable adapter state.
	events = notify.Evaluate(obs(50, power.ACConnected), obs(50, power.ACUnknown), cfg)
	assert.Equal(t, []notify.Kind{notify.KindACConnected}, kinds(events))

	// A transition into the unknown state fires nothing.
	events = notify.Evaluate(obs(50, power.ACUnknown), obs(50, power.ACConnected), cfg)
	assert.Empty(t, events)
}

func TestEvaluateUnplugIntoLowBattery(t *testing.T) {
	cfg := testConfig()

	events := notify.Evaluate(obs(19, power.ACDisconnected), obs(21, power.ACConnected), cfg)
	assert.Equal(t, []notify.Kind{notify.KindACDisconnected, notify.KindLow}, kinds(events))
}
