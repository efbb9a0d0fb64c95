package power

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/battguard/internal/logger"
)

const defaultSysfsRoot = "/sys/class/power_supply"

// SysfsReader reads battery and AC-adapter state from the kernel's
// power_supply class. Discovered device paths are cached for the process
// lifetime; a path that stops existing triggers a re-scan on the next read.
type SysfsReader struct {
	root string

	mu          sync.Mutex
	batteryPath string
	acPath      string
}

func NewSysfsReader() *SysfsReader {
	return &SysfsReader{root: defaultSysfsRoot}
}

// NewSysfsReaderAt reads from an alternate power_supply tree. Used in tests.
func NewSysfsReaderAt(root string) *SysfsReader {
	return &SysfsReader{root: root}
}

// BatteryPresent reports whether a readable battery capacity file exists.
func (r *SysfsReader) BatteryPresent() bool {
	return r.batteryDir() != ""
}

// Percent returns the battery charge percentage, or false when no battery
// could be read.
func (r *SysfsReader) Percent() (int, bool) {
	dir := r.batteryDir()
	if dir == "" {
		return 0, false
	}

	value, err := readTrimmed(filepath.Join(dir, "capacity"))
	if err != nil {
		logger.Warn().Err(err).Str("path", dir).Msg("Failed to read battery capacity; re-scanning")
		r.invalidateBattery()
		if dir = r.batteryDir(); dir == "" {
			return 0, false
		}
		if value, err = readTrimmed(filepath.Join(dir, "capacity")); err != nil {
			return 0, false
		}
	}

	percent, err := strconv.Atoi(value)
	if err != nil || percent < 0 || percent > 100 {
		return 0, false
	}

	return percent, true
}

// ACStatus returns the AC-adapter state from the adapter's online flag,
// falling back to the battery's charging status when no adapter device
// exposes one.
func (r *SysfsReader) ACStatus() ACStatus {
	if dir := r.acDir(); dir != "" {
		value, err := readTrimmed(filepath.Join(dir, "online"))
		if err != nil {
			logger.Warn().Err(err).Str("path", dir).Msg("Failed to read AC online flag; re-scanning")
			r.invalidateAC()
		} else {
			switch value {
			case "1":
				return ACConnected
			case "0":
				return ACDisconnected
			}
		}
	}

	// No online flag: infer from the battery's own status field.
	if dir := r.batteryDir(); dir != "" {
		value, err := readTrimmed(filepath.Join(dir, "status"))
		if err == nil {
			switch strings.ToLower(value) {
			case "charging", "full":
				return ACConnected
			case "discharging":
				return ACDisconnected
			}
		}
	}

	return ACUnknown
}

// ACOnlinePath returns the cached adapter online-flag path for fast
// polling, or false if no adapter device was found.
func (r *SysfsReader) ACOnlinePath() (string, bool) {
	dir := r.acDir()
	if dir == "" {
		return "", false
	}

	return filepath.Join(dir, "online"), true
}

// DischargeRateWatts returns the battery's current power draw, if the
// hardware exposes one. Informational only.
func (r *SysfsReader) DischargeRateWatts() (float64, bool) {
	dir := r.batteryDir()
	if dir == "" {
		return 0, false
	}

	for _, name := range []string{"power_now", "current_now"} {
		value, err := readTrimmed(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		microunits, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}

		return microunits / 1e6, true
	}

	return 0, false
}

func (r *SysfsReader) batteryDir() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.batteryPath != "" {
		if _, err := os.Stat(filepath.Join(r.batteryPath, "capacity")); err == nil {
			return r.batteryPath
		}
		r.batteryPath = ""
	}

	matches, _ := filepath.Glob(filepath.Join(r.root, "BAT*"))
	for _, dir := range matches {
		value, err := readTrimmed(filepath.Join(dir, "capacity"))
		if err != nil {
			continue
		}
		if _, err := strconv.Atoi(value); err == nil {
			r.batteryPath = dir
			logger.Info().Str("path", dir).Msg("Found battery device")

			break
		}
	}

	return r.batteryPath
}

func (r *SysfsReader) acDir() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.acPath != "" {
		if _, err := os.Stat(filepath.Join(r.acPath, "online")); err == nil {
			return r.acPath
		}
		r.acPath = ""
	}

	var matches []string
	for _, pattern := range []string{"AC*", "ACAD*"} {
		found, _ := filepath.Glob(filepath.Join(r.root, pattern))
		matches = append(matches, found...)
	}
	for _, dir := range matches {
		if _, err := os.Stat(filepath.Join(dir, "online")); err == nil {
			r.acPath = dir
			logger.Info().Str("path", dir).Msg("Found AC adapter device")

			break
		}
	}

	return r.acPath
}

func (r *SysfsReader) invalidateBattery() {
	r.mu.Lock()
	r.batteryPath = ""
	r.mu.Unlock()
}

func (r *SysfsReader) invalidateAC() {
	r.mu.Lock()
	r.acPath = ""
	r.mu.Unlock()
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}
