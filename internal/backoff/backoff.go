// Package backoff computes the adaptive polling cadence of the main loop:
// exponential growth while the power state is stable, reset on change, and
// a fixed fast cadence while the battery is critical.
package backoff

import (
	"time"

	"codeberg.org/mutker/battguard/internal/config"
	"codeberg.org/mutker/battguard/internal/logger"
	"codeberg.org/mutker/battguard/internal/power"
)

const (
	// AbsoluteFloor is the shortest interval the scheduler will ever
	// return; anything computed below it is treated as an anomaly.
	AbsoluteFloor = 10 * time.Second

	// SafeDefault replaces an anomalous computed interval.
	SafeDefault = 30 * time.Second

	// EventMonitoringFloor is the minimum polling interval while a
	// healthy event backend delivers changes. Polling then only acts as
	// a safety net.
	EventMonitoringFloor = 60 * time.Second
)

// State carries the current interval across loop iterations.
type State struct {
	Interval time.Duration
}

// NewState starts at the configured initial interval.
func NewState(cfg *config.Config) State {
	return State{Interval: cfg.BackoffInitialInterval()}
}

// Next returns the interval to sleep before the next poll. Critical
// battery overrides everything; otherwise a change resets the interval and
// stability grows it geometrically up to the configured maximum.
func Next(percent int, ac power.ACStatus, changed bool, cfg *config.Config, current time.Duration) time.Duration {
	if percent <= cfg.CriticalThreshold {
		return cfg.CriticalPollingInterval()
	}

	var next time.Duration
	if changed {
		next = cfg.BackoffInitialInterval()
	} else {
		next = current * time.Duration(cfg.BackoffFactor)
		if max := cfg.BackoffMaxInterval(); next > max {
			next = max
		}
	}

	if next < AbsoluteFloor {
		logger.Warn().
			Dur("computed", next).
			Dur("safe_default", SafeDefault).
			Msg("Computed polling interval below floor; using safe default")

		return SafeDefault
	}

	return next
}

// Floor raises the interval to the event-monitoring floor while a healthy
// event backend covers the gap between polls, so the poll loop only acts
// as a safety net. Critical battery keeps the fast cadence regardless.
func Floor(interval time.Duration, percent int, cfg *config.Config, eventsHealthy bool) time.Duration {
	if !eventsHealthy || percent <= cfg.CriticalThreshold {
		return interval
	}

	if interval < EventMonitoringFloor {
		return EventMonitoringFloor
	}

	return interval
}
