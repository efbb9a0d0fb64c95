package power

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/battguard/internal/logger"
)

const readTimeout = 3 * time.Second

// StatusReader produces best-effort power observations. Read never fails:
// on any underlying error it degrades to the last cached percentage (or 0)
// with an unknown AC status, so callers may treat it as always succeeding.
type StatusReader struct {
	upower *UPowerReader
	sysfs  *SysfsReader

	mu          sync.Mutex
	lastPercent int
}

// NewStatusReader probes UPower once at startup; when the service is not
// reachable, all reads go straight to sysfs.
func NewStatusReader(ctx context.Context) *StatusReader {
	probeCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	upower, err := NewUPowerReader(probeCtx)
	if err != nil {
		logger.Info().Err(err).Msg("UPower not available; using sysfs for power status")
		upower = nil
	} else {
		logger.Info().Msg("UPower service detected and will be used for power status")
	}

	return &StatusReader{upower: upower, sysfs: NewSysfsReader()}
}

// NewStatusReaderWith wires explicit backends. Used in tests and by the
// fast-poll event source.
func NewStatusReaderWith(upower *UPowerReader, sysfs *SysfsReader) *StatusReader {
	return &StatusReader{upower: upower, sysfs: sysfs}
}

// Read returns the current power observation, degrading instead of
// failing.
func (r *StatusReader) Read(ctx context.Context) Observation {
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	if r.upower != nil {
		percent, ac, err := r.upower.Read(readCtx)
		if err == nil {
			r.setLastPercent(percent)
			return Observation{Percent: percent, ACStatus: ac, At: time.Now()}
		}
		logger.Warn().Err(err).Msg("UPower read failed; falling back to sysfs")
	}

	percent, ok := r.sysfs.Percent()
	if !ok {
		percent = r.LastPercent()
		logger.Warn().Int("cached_percent", percent).Msg("Failed to read battery percentage; using cached value")
	} else {
		r.setLastPercent(percent)
	}

	return Observation{Percent: percent, ACStatus: r.sysfs.ACStatus(), At: time.Now()}
}

// LastPercent returns the most recent successfully read percentage.
func (r *StatusReader) LastPercent() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastPercent
}

// BatteryPresent reports whether any backend can see a battery.
func (r *StatusReader) BatteryPresent() bool {
	if r.upower != nil {
		return true
	}

	return r.sysfs.BatteryPresent()
}

// Sysfs exposes the sysfs backend for event sources that watch device
// files directly.
func (r *StatusReader) Sysfs() *SysfsReader {
	return r.sysfs
}

// UPower exposes the UPower backend, nil when the service is unavailable.
func (r *StatusReader) UPower() *UPowerReader {
	return r.upower
}

func (r *StatusReader) setLastPercent(percent int) {
	r.mu.Lock()
	r.lastPercent = percent
	r.mu.Unlock()
}
