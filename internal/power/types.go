// Package power produces best-effort snapshots of the host's battery charge
// and AC-connection state, preferring the UPower service and falling back to
// raw sysfs reads.
package power

import "time"

// ACStatus reports whether external power is connected.
type ACStatus int

const (
	ACUnknown ACStatus = iota
	ACConnected
	ACDisconnected
)

func (s ACStatus) String() string {
	switch s {
	case ACConnected:
		return "Connected"
	case ACDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Observation is a single snapshot of the power state. Immutable once
// created.
type Observation struct {
	Percent  int
	ACStatus ACStatus
	At       time.Time
}

// Changed reports whether the observation differs from prev in any field
// the policies care about.
func (o Observation) Changed(prev Observation) bool {
	return o.Percent != prev.Percent || o.ACStatus != prev.ACStatus
}
