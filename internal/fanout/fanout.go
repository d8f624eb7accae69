// Package fanout implements the Connection fan-out (C15): typed event
// routing to role-scoped socket sets, per spec.md §4.8 and §5's ordering
// guarantee ("per-connection emit order is preserved by the fan-out
// layer"). Built on github.com/gorilla/websocket, the transport library
// named in the DOMAIN STACK for every example repo in the pack that
// speaks a persistent client channel.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quizsync/engine/internal/domain"
)

// Envelope is the outbound wire message: {type, payload}, matching the
// "typed socket events ... dispatch by tag" mapping of DESIGN NOTES.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// WriteDeadline bounds a single outbound frame write.
const WriteDeadline = 5 * time.Second

// conn is one registered connection: a socket id, its role, and a
// per-connection serial send queue so ordering is preserved even though
// many session-actor goroutines may emit to it.
type conn struct {
	socketID  string
	sessionID string
	role      domain.Role
	ws        *websocket.Conn
	send      chan Envelope
	closeOnce sync.Once
	log       *slog.Logger
}

func (c *conn) writeLoop() {
	for env := range c.send {
		payload, err := json.Marshal(env)
		if err != nil {
			c.log.Error("fanout_marshal_failed", slog.String("socketId", c.socketID), slog.Any("err", err))
			continue
		}
		_ = c.ws.SetWriteDeadline(timeNow().Add(WriteDeadline))
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.log.Warn("fanout_write_failed", slog.String("socketId", c.socketID), slog.Any("err", err))
			return
		}
	}
}

// timeNow is a seam kept separate from clock.Clock: write deadlines are a
// transport concern, not a scheduling decision the rest of the engine
// needs to fake in tests.
func timeNow() time.Time { return time.Now() }

// OverflowPolicy decides what happens when a connection's send queue is
// saturated, per §5's backpressure policy: advisory events are dropped,
// participant-private events force a disconnect.
type OverflowPolicy int

const (
	// DropIfFull silently drops the envelope (ticks, leaderboard coalescing).
	DropIfFull OverflowPolicy = iota
	// DisconnectIfFull closes the connection rather than dropping a
	// participant-private event (results), per §5: "if their queue is
	// saturated, the connection is disconnected and the participant
	// enters recovery on reconnect."
	DisconnectIfFull
)

// Hub tracks registered connections and routes envelopes to them.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[string]*conn // socketID -> conn
}

// New constructs an empty Hub.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, conns: make(map[string]*conn)}
}

// Register attaches ws under socketID, scoped to sessionID/role, and
// starts its write loop. queueSize bounds the per-connection send buffer.
func (h *Hub) Register(socketID, sessionID string, role domain.Role, ws *websocket.Conn, queueSize int) {
	if queueSize <= 0 {
		queueSize = 32
	}
	c := &conn{
		socketID:  socketID,
		sessionID: sessionID,
		role:      role,
		ws:        ws,
		send:      make(chan Envelope, queueSize),
		log:       h.log,
	}
	h.mu.Lock()
	h.conns[socketID] = c
	h.mu.Unlock()
	go c.writeLoop()
}

// Unregister removes and closes the connection for socketID.
func (h *Hub) Unregister(socketID string) {
	h.mu.Lock()
	c, ok := h.conns[socketID]
	if ok {
		delete(h.conns, socketID)
	}
	h.mu.Unlock()
	if ok {
		c.closeOnce.Do(func() {
			close(c.send)
			_ = c.ws.Close()
		})
	}
}

// SendTo delivers env to one connection, honoring policy on overflow.
func (h *Hub) SendTo(socketID string, env Envelope, policy OverflowPolicy) {
	h.mu.RLock()
	c, ok := h.conns[socketID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(c, env, policy)
}

// BroadcastSession delivers env to every connection attached to
// sessionID, optionally restricted to one role (pass "" for all roles).
func (h *Hub) BroadcastSession(sessionID string, role domain.Role, env Envelope, policy OverflowPolicy) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.sessionID != sessionID {
			continue
		}
		if role != "" && c.role != role {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, env, policy)
	}
}

func (h *Hub) deliver(c *conn, env Envelope, policy OverflowPolicy) {
	select {
	case c.send <- env:
		return
	default:
	}

	switch policy {
	case DisconnectIfFull:
		h.log.Warn("fanout_queue_saturated_disconnect", slog.String("socketId", c.socketID))
		h.Unregister(c.socketID)
	default:
		h.log.Warn("fanout_queue_saturated_dropped", slog.String("socketId", c.socketID), slog.String("type", env.Type))
	}
}

// RoleOf returns the role a registered socket authenticated as, used by
// the coordinator to scope outbound emission without re-deriving it.
func (h *Hub) RoleOf(socketID string) (domain.Role, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[socketID]
	if !ok {
		return "", false
	}
	return c.role, true
}

// HandshakeContext derives a context bounded by deadline, used by the
// connection accept path to enforce the authentication window of §4.8
// ("every incoming channel must authenticate within a bounded handshake
// window, default 5s"). Callers must invoke the returned cancel func once
// the handshake resolves.
func HandshakeContext(ctx context.Context, deadline time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, deadline)
}
