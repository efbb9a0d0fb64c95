package monitor

import (
	"context"
	"sync"

	"codeberg.org/mutker/battguard/internal/brightness"
	"codeberg.org/mutker/battguard/internal/config"
	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/logger"
	"codeberg.org/mutker/battguard/internal/notify"
	"codeberg.org/mutker/battguard/internal/power"
)

const (
	// healthCheckEvery is the number of poll iterations between backend
	// liveness checks.
	healthCheckEvery = 10

	sinkBuffer = 8
)

// Supervisor owns the event backends and turns every observation, pushed or
// polled, into notifications and brightness changes. It runs in one of two
// phases: Running while an event backend is healthy, Degraded while the
// poll loop is the only signal.
type Supervisor struct {
	cfg        *config.Config
	reader     *power.StatusReader
	sender     notify.Sender
	throttler  *notify.Throttler
	controller *brightness.Controller

	sources []Source
	sink    chan power.Observation
	cancel  context.CancelFunc

	mu         sync.Mutex
	handle     *Handle
	degraded   bool
	current    power.Observation
	havePrev   bool
	iterations int
}

// NewSupervisor wires the default backend candidates in preference order:
// the cheap sysfs fast poll, UPower bus signals, acpi_listen, and finally
// raw kernel uevents.
func NewSupervisor(cfg *config.Config, reader *power.StatusReader, sender notify.Sender, controller *brightness.Controller) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		reader:     reader,
		sender:     sender,
		throttler:  notify.NewThrottler(cfg.CooldownWindow()),
		controller: controller,
		sources: []Source{
			NewFastPollSource(reader),
			NewBusSignalSource(reader),
			NewAcpiSource(reader),
			NewNetlinkSource(reader),
		},
		sink: make(chan power.Observation, sinkBuffer),
	}
}

// Start brings up the first usable event backend and the goroutine draining
// its observations. Backend selection happens once; failing to start any
// backend is not fatal, the poll loop then carries on alone.
func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.mu.Lock()
	s.startBackend(runCtx)
	s.mu.Unlock()

	go s.drain(runCtx)
}

// Stop shuts down the backend worker and the drain goroutine.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		s.handle.Stop()
		s.handle = nil
	}
}

// Poll reads the power state and applies it. Returns the observation and
// whether it differed from the previous one. Called by the main loop once
// per backoff interval; every tenth call also checks backend health.
func (s *Supervisor) Poll(ctx context.Context) (power.Observation, bool) {
	obs := s.reader.Read(ctx)
	changed := s.Apply(ctx, obs)

	s.mu.Lock()
	s.iterations++
	check := s.iterations%healthCheckEvery == 0
	s.mu.Unlock()

	if check {
		s.checkHealth()
	}

	return obs, changed
}

// Apply folds an observation into the supervisor state and performs the
// resulting side effects. It is the single entry point for both the poll
// loop and the event backends, so all policy decisions serialize here.
func (s *Supervisor) Apply(ctx context.Context, obs power.Observation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current
	hadPrev := s.havePrev
	s.current = obs
	s.havePrev = true

	changed := !hadPrev || obs.Changed(prev)
	if !changed {
		return false
	}

	event := logger.Info().
		Int("percent", obs.Percent).
		Str("ac_status", obs.ACStatus.String())
	if obs.ACStatus == power.ACDisconnected {
		if watts, ok := s.reader.Sysfs().DischargeRateWatts(); ok {
			event = event.Float64("discharge_watts", watts)
		}
	}
	event.Msg("Power state changed")

	s.applyBrightness(ctx, obs)

	if hadPrev {
		s.sendNotifications(notify.Evaluate(obs, prev, s.cfg))
	}

	return hadPrev
}

// EventsHealthy reports whether a live event backend is delivering changes.
// While true the poll loop only serves as a safety net and can slow down.
func (s *Supervisor) EventsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handle != nil && !s.degraded && s.handle.Alive()
}

// Backend returns the kind of the active event backend, or empty when the
// supervisor is running on polling alone.
func (s *Supervisor) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return ""
	}

	return s.handle.Kind()
}

func (s *Supervisor) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs := <-s.sink:
			s.Apply(ctx, obs)
		}
	}
}

// startBackend tries the candidates in order and keeps the first that
// starts. Caller holds the lock.
func (s *Supervisor) startBackend(ctx context.Context) {
	for _, source := range s.sources {
		handle, err := source.Start(ctx, s.sink)
		if err != nil {
			logger.Debug().
				Str("backend", source.Kind()).
				AnErr("error", err).
				Msg("Event backend unavailable")

			continue
		}

		s.handle = handle
		logger.Info().Str("backend", handle.Kind()).Msg("Event backend started")

		return
	}

	s.handle = nil
	logger.Warn().Msg("No event backend available; relying on polling")
}

// checkHealth tracks the Running/Degraded transitions from the backend's
// liveness probe, logging each transition once. The backend instance is
// kept either way: a false probe marks the supervisor degraded while the
// poll loop covers the gap, and the same instance clears the flag when its
// probe comes back true.
func (s *Supervisor) checkHealth() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return
	}

	alive := s.handle.Alive()
	switch {
	case !alive && !s.degraded:
		s.degraded = true
		logger.Warn().
			Str("backend", s.handle.Kind()).
			Str("error_code", string(errors.ErrBackendDied)).
			Msg("Event backend stopped delivering; entering degraded mode")
	case alive && s.degraded:
		s.degraded = false
		logger.Info().
			Str("backend", s.handle.Kind()).
			Msg("Event backend recovered; leaving degraded mode")
	}
}

// applyBrightness moves the screen to the level the current state calls
// for. Caller holds the lock.
func (s *Supervisor) applyBrightness(ctx context.Context, obs power.Observation) {
	if !s.cfg.BrightnessControl || s.controller == nil {
		return
	}

	target := brightness.Target(obs.Percent, obs.ACStatus, s.cfg)

	if s.cfg.Monitor {
		logger.Info().Int("target", target).Msg("Monitor mode: would set brightness")

		return
	}

	if err := s.controller.Set(ctx, target); err != nil {
		logger.Debug().AnErr("error", err).Int("target", target).Msg("Brightness change failed")
	}
}

// sendNotifications delivers the events that survive the per-kind cooldown.
// Caller holds the lock.
func (s *Supervisor) sendNotifications(events []notify.Event) {
	for _, ev := range events {
		if !s.throttler.Allow(ev.Kind) {
			logger.Debug().Str("kind", string(ev.Kind)).Msg("Notification suppressed by cooldown")

			continue
		}

		if s.cfg.Monitor {
			logger.Info().
				Str("kind", string(ev.Kind)).
				Str("title", ev.Title).
				Msg("Monitor mode: would notify")

			continue
		}

		if s.sender == nil {
			continue
		}

		if err := s.sender.Send(ev); err != nil {
			logger.Warn().AnErr("error", err).Str("kind", string(ev.Kind)).Msg("Notification delivery failed")
		}
	}
}
