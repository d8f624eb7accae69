// Package httpapi implements the bootstrapping HTTP surface: session
// creation, join, and reconnect endpoints plus liveness/readiness probes,
// generalizing services/gamification/internal/http's router/health/
// middleware shape from a gamification score API to the quiz engine's
// session lifecycle.
package httpapi

import "sync"

// HealthState tracks readiness for the HTTP API, identical in shape to
// the teacher's HealthState: liveness is always true while the process
// runs, readiness toggles once dependencies (stores, registry) are wired
// and again during graceful shutdown.
type HealthState struct {
	mu    sync.RWMutex
	ready bool
}

// NewHealthState constructs a tracker with readiness false until SetReady
// is called by the startup sequence.
func NewHealthState() *HealthState {
	return &HealthState{}
}

// SetReady flips the readiness flag.
func (h *HealthState) SetReady(value bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = value
}

// Ready reports the current readiness flag.
func (h *HealthState) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}
