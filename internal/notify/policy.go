// Package notify decides which desktop notifications a power state change
// warrants and delivers them over the session bus.
package notify

import (
	"fmt"

	"codeberg.org/mutker/battguard/internal/config"
	"codeberg.org/mutker/battguard/internal/power"
)

// Kind identifies a notification category. The cooldown window applies per
// kind, so a low battery warning does not suppress a charger event.
type Kind string

const (
	KindCritical       Kind = "critical"
	KindLow            Kind = "low"
	KindFull           Kind = "full"
	KindACConnected    Kind = "ac_connected"
	KindACDisconnected Kind = "ac_disconnected"
)

// Urgency maps onto the freedesktop notification urgency levels.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

// Event is a notification ready for delivery.
type Event struct {
	Kind    Kind
	Title   string
	Body    string
	Icon    string
	Urgency Urgency
}

// Evaluate compares two consecutive observations and returns the
// notifications the transition warrants. Threshold notifications fire on
// the crossing edge only, so a battery that stays low does not nag on every
// poll; the per-kind cooldown in Throttler handles flapping.
func Evaluate(curr, prev power.Observation, cfg *config.Config) []Event {
	var events []Event

	acChanged := curr.ACStatus != prev.ACStatus

	if acChanged && curr.ACStatus == power.ACConnected {
		events = append(events, Event{
			Kind:    KindACConnected,
			Title:   "Power Connected",
			Body:    fmt.Sprintf("Charging battery (%d%%).", curr.Percent),
			Icon:    "ac-adapter",
			Urgency: UrgencyLow,
		})
	}

	if acChanged && curr.ACStatus == power.ACDisconnected {
		events = append(events, Event{
			Kind:    KindACDisconnected,
			Title:   "Power Disconnected",
			Body:    fmt.Sprintf("Running on battery (%d%%).", curr.Percent),
			Icon:    "battery",
			Urgency: UrgencyNormal,
		})
	}

	switch {
	case curr.Percent <= cfg.CriticalThreshold && prev.Percent > cfg.CriticalThreshold:
		events = append(events, Event{
			Kind:    KindCritical,
			Title:   "Battery Critical",
			Body:    fmt.Sprintf("Battery at %d%%. Connect charger now!", curr.Percent),
			Icon:    "battery-caution",
			Urgency: UrgencyCritical,
		})
	case curr.Percent <= cfg.LowThreshold && curr.Percent > cfg.CriticalThreshold &&
		prev.Percent > cfg.LowThreshold:
		events = append(events, Event{
			Kind:    KindLow,
			Title:   "Battery Low",
			Body:    fmt.Sprintf("Battery at %d%%. Consider connecting the charger.", curr.Percent),
			Icon:    "battery-low",
			Urgency: UrgencyNormal,
		})
	case curr.Percent >= cfg.FullThreshold && prev.Percent < cfg.FullThreshold &&
		curr.ACStatus == power.ACConnected:
		events = append(events, Event{
			Kind:    KindFull,
			Title:   "Battery Full",
			Body:    fmt.Sprintf("Battery at %d%%. You can unplug the charger.", curr.Percent),
			Icon:    "battery-full-charged",
			Urgency: UrgencyLow,
		})
	}

	return events
}
