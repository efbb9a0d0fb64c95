package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/battguard/internal/backoff"
	"codeberg.org/mutker/battguard/internal/config"
	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/notify"
	"codeberg.org/mutker/battguard/internal/power"
)

type fakeSource struct {
	kind   string
	fail   bool
	alive  atomic.Bool
	starts int
}

func (f *fakeSource) Kind() string {
	return f.kind
}

func (f *fakeSource) Start(_ context.Context, _ chan<- power.Observation) (*Handle, error) {
	f.starts++
	if f.fail {
		return nil, errors.New().New(errors.ErrBackendInit)
	}

	f.alive.Store(true)

	return &Handle{
		kind:  f.kind,
		alive: f.alive.Load,
		stop:  func() { f.alive.Store(false) },
	}, nil
}

type fakeSender struct {
	events []notify.Event
}

func (f *fakeSender) Send(ev notify.Event) error {
	f.events = append(f.events, ev)

	return nil
}

func (f *fakeSender) Close() error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		CriticalThreshold:    10,
		LowThreshold:         20,
		FullThreshold:        90,
		NotificationCooldown: 300,
	}
}

func newTestSupervisor(t *testing.T, sender notify.Sender, sources ...Source) *Supervisor {
	t.Helper()

	root := t.TempDir()
	batDir := filepath.Join(root, "BAT0")
	require.NoError(t, os.MkdirAll(batDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(batDir, "type"), []byte("Battery\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(batDir, "capacity"), []byte("50\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(batDir, "status"), []byte("Discharging\n"), 0o644))

	reader := power.NewStatusReaderWith(nil, power.NewSysfsReaderAt(root))
	s := NewSupervisor(testConfig(), reader, sender, nil)
	s.sources = sources
	s.sink = make(chan power.Observation, sinkBuffer)

	return s
}

func obs(percent int, ac power.ACStatus) power.Observation {
	return power.Observation{Percent: percent, ACStatus: ac, At: time.Now()}
}

func TestBackendPriorityOrder(t *testing.T) {
	first := &fakeSource{kind: "first", fail: true}
	second := &fakeSource{kind: "second"}
	third := &fakeSource{kind: "third"}

	s := newTestSupervisor(t, nil, first, second, third)
	s.Start(context.Background())
	defer s.Stop()

	assert.Equal(t, "second", s.Backend())
	assert.True(t, s.EventsHealthy())
	assert.Equal(t, 1, first.starts)
	assert.Equal(t, 1, second.starts)
	assert.Zero(t, third.starts, "Candidates after the first success must not start")
}

func TestFallbackChainFloorsThePollInterval(t *testing.T) {
	sources := []Source{
		&fakeSource{kind: "first", fail: true},
		&fakeSource{kind: "second", fail: true},
		&fakeSource{kind: "third", fail: true},
		&fakeSource{kind: "fourth"},
	}

	s := newTestSupervisor(t, nil, sources...)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop()

	require.Equal(t, "fourth", s.Backend())
	require.True(t, s.EventsHealthy())

	// Polling keeps running as a safety net, but with the healthy backend
	// the interval is floored to the event-monitoring minimum.
	obs, _ := s.Poll(ctx)
	floored := backoff.Floor(10*time.Second, obs.Percent, s.cfg, s.EventsHealthy())
	assert.Equal(t, backoff.EventMonitoringFloor, floored)
}

func TestNoBackendAvailable(t *testing.T) {
	s := newTestSupervisor(t, nil, &fakeSource{kind: "only", fail: true})
	s.Start(context.Background())
	defer s.Stop()

	assert.Empty(t, s.Backend())
	assert.False(t, s.EventsHealthy())
}

func TestDegradedAndRecovery(t *testing.T) {
	src := &fakeSource{kind: "flappy"}
	s := newTestSupervisor(t, nil, src)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop()

	require.True(t, s.EventsHealthy())

	// Liveness flips false: the next health check marks the supervisor
	// degraded but keeps the backend instance.
	src.alive.Store(false)
	for i := 0; i < healthCheckEvery; i++ {
		s.Poll(ctx)
	}
	assert.False(t, s.EventsHealthy())
	assert.Equal(t, "flappy", s.Backend(), "The backend is retained while degraded")

	// The same instance coming back alive clears the flag on the next
	// health check; the source is never started a second time.
	src.alive.Store(true)
	for i := 0; i < healthCheckEvery; i++ {
		s.Poll(ctx)
	}
	assert.True(t, s.EventsHealthy())
	assert.Equal(t, 1, src.starts)
}

func TestApplyFirstObservationIsNotAChange(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSupervisor(t, sender)
	ctx := context.Background()

	assert.False(t, s.Apply(ctx, obs(50, power.ACDisconnected)))
	assert.Empty(t, sender.events)

	assert.True(t, s.Apply(ctx, obs(49, power.ACDisconnected)))
	assert.False(t, s.Apply(ctx, obs(49, power.ACDisconnected)))
}

func TestApplySendsThresholdNotifications(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSupervisor(t, sender)
	ctx := context.Background()

	s.Apply(ctx, obs(25, power.ACDisconnected))
	s.Apply(ctx, obs(9, power.ACDisconnected))

	require.Len(t, sender.events, 1)
	assert.Equal(t, notify.KindCritical, sender.events[0].Kind)

	// Bouncing around the threshold stays within the cooldown window.
	s.Apply(ctx, obs(11, power.ACDisconnected))
	s.Apply(ctx, obs(9, power.ACDisconnected))
	assert.Len(t, sender.events, 1)
}

func TestMonitorModeSkipsDelivery(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSupervisor(t, sender)
	s.cfg.Monitor = true
	ctx := context.Background()

	s.Apply(ctx, obs(25, power.ACDisconnected))
	s.Apply(ctx, obs(9, power.ACDisconnected))

	assert.Empty(t, sender.events)
}

func TestEventObservationsFlowThroughSink(t *testing.T) {
	sender := &fakeSender{}
	s := newTestSupervisor(t, sender, &fakeSource{kind: "fake"})
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop()

	s.sink <- obs(50, power.ACDisconnected)
	s.sink <- obs(50, power.ACConnected)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		return len(sender.events) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, notify.KindACConnected, sender.events[0].Kind)
}
