// Package monitor runs the event backends that detect power state changes
// between polls and the supervisor that turns observations into actions.
package monitor

import (
	"context"

	"codeberg.org/mutker/battguard/internal/power"
)

// Source is an event backend candidate. Start either launches a background
// worker pushing observations into sink and returns a handle for it, or
// reports why this backend cannot run on the host.
type Source interface {
	Kind() string
	Start(ctx context.Context, sink chan<- power.Observation) (*Handle, error)
}

// Handle tracks a running backend worker.
type Handle struct {
	kind  string
	alive func() bool
	stop  func()
}

func (h *Handle) Kind() string {
	return h.kind
}

// Alive reports whether the worker is still delivering events.
func (h *Handle) Alive() bool {
	return h.alive()
}

// Stop terminates the worker. Safe to call more than once.
func (h *Handle) Stop() {
	h.stop()
}
