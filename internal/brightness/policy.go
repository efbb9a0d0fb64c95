// Package brightness maps battery state to a screen brightness level and
// applies it through whichever backlight tool the host provides.
package brightness

import (
	"codeberg.org/mutker/battguard/internal/config"
	"codeberg.org/mutker/battguard/internal/power"
)

// Target returns the brightness percentage for the given battery state. On
// AC power the screen runs at the configured maximum; on battery the first
// step whose threshold the charge meets or exceeds wins, bottoming out at
// the critical level.
func Target(percent int, ac power.ACStatus, cfg *config.Config) int {
	if ac == power.ACConnected {
		return cfg.BrightnessMax
	}

	for _, step := range cfg.BrightnessSteps() {
		if percent >= step.Threshold {
			return step.Level
		}
	}

	return cfg.BrightnessCritical
}
