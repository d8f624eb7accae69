// Package registry implements the SessionRegistry (C8): holds the
// per-session coordinators, routes inbound messages to the owning
// coordinator, and tracks connection→session attachment, per spec.md §2
// and §4.8 ("a single process may host many sessions; one session is
// pinned to a single coordinator instance"). Generalizes the
// registry-of-workers pattern in mape/ (a map of per-zone controllers
// guarded by a single RWMutex, looked up by key on every inbound event)
// to sessions instead of zones.
package registry

import (
	"sync"

	"github.com/quizsync/engine/internal/apperr"
)

// Coordinator is the minimal surface the registry needs from a session
// actor to route work to it and to know when it has terminated.
type Coordinator interface {
	SessionID() string
	JoinCode() string
	Done() <-chan struct{}
}

// Registry holds live sessions, keyed by both sessionId and joinCode, and
// tracks which session a given socket is attached to.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]Coordinator
	byJoinCode  map[string]Coordinator
	socketToSes map[string]string
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byID:        make(map[string]Coordinator),
		byJoinCode:  make(map[string]Coordinator),
		socketToSes: make(map[string]string),
	}
}

// Register adds a newly created coordinator and starts a goroutine that
// removes it once it reports Done, keeping cross-session lookups
// parallel per §5 ("cross-session operations ... run in parallel") while
// each session stays pinned to its own coordinator.
func (r *Registry) Register(c Coordinator) {
	r.mu.Lock()
	r.byID[c.SessionID()] = c
	r.byJoinCode[c.JoinCode()] = c
	r.mu.Unlock()

	go func() {
		<-c.Done()
		r.mu.Lock()
		delete(r.byID, c.SessionID())
		delete(r.byJoinCode, c.JoinCode())
		r.mu.Unlock()
	}()
}

// Lookup resolves a coordinator by sessionId.
func (r *Registry) Lookup(sessionID string) (Coordinator, error) {
	r.mu.RLock()
	c, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.SessionNotFound, "no session with that id")
	}
	return c, nil
}

// LookupByJoinCode resolves a coordinator by its 6-character join code.
func (r *Registry) LookupByJoinCode(joinCode string) (Coordinator, error) {
	r.mu.RLock()
	c, ok := r.byJoinCode[joinCode]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.InvalidJoinCode, "no session with that join code")
	}
	return c, nil
}

// AttachSocket records that socketID belongs to sessionID, used to route
// subsequent inbound frames without re-resolving role/auth on every
// message.
func (r *Registry) AttachSocket(socketID, sessionID string) {
	r.mu.Lock()
	r.socketToSes[socketID] = sessionID
	r.mu.Unlock()
}

// DetachSocket removes a socket's session attachment, called on
// disconnect.
func (r *Registry) DetachSocket(socketID string) {
	r.mu.Lock()
	delete(r.socketToSes, socketID)
	r.mu.Unlock()
}

// SessionForSocket returns the sessionId a socket is currently attached
// to, if any.
func (r *Registry) SessionForSocket(socketID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.socketToSes[socketID]
	return sessionID, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns a snapshot of every live coordinator, used by graceful
// shutdown to drain sessions before the process exits.
func (r *Registry) All() []Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Coordinator, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}
