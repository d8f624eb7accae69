package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/fanout"
	"github.com/quizsync/engine/internal/ratelimit"
	"github.com/quizsync/engine/internal/session"
)

// wsUpgrader matches the only other Upgrader in the tree
// (internal/fanout/fanout_test.go): default options, no custom
// CheckOrigin, since the client and this server share an origin.
var wsUpgrader = websocket.Upgrader{}

// sendQueueSize bounds a connection's outbound buffer, per fanout.Hub's
// Register.
const sendQueueSize = 32

// inboundFrame is the generic shape of every frame a client sends over
// the persistent channel, per spec.md §6: a type tag plus a type-specific
// payload, decoded in two passes (tag first, payload once the type is
// known).
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServeWS handles GET /sessions/{sessionId}/ws: upgrades the connection,
// requires the first inbound frame to authenticate (or reconnect) within
// the handshake window of §4.8, registers the socket with the shared
// fanout.Hub on success, then dispatches every subsequent frame by type
// to the owning session.Coordinator.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("ws_upgrade_failed", slog.String("sessionId", sessionID), slog.Any("err", err))
		return
	}

	socketID, participantID, role, ok := h.authenticateWS(r.Context(), ws, sessionID)
	if !ok {
		_ = ws.Close()
		return
	}

	h.Deps.Hub.Register(socketID, sessionID, role, ws, sendQueueSize)
	h.Registry.AttachSocket(socketID, sessionID)
	defer func() {
		h.Deps.Hub.Unregister(socketID)
		h.Registry.DetachSocket(socketID)
	}()

	h.readLoop(r.Context(), ws, sessionID, socketID, participantID, role)
}

// authenticateWS reads exactly one inbound frame, bounded by
// fanout.HandshakeContext's deadline (default 5s, §4.8), expecting either
// an authenticate or a reconnect_session frame. It returns the identity
// the connection registers under.
func (h *Handlers) authenticateWS(ctx context.Context, ws *websocket.Conn, sessionID string) (socketID, participantID string, role domain.Role, ok bool) {
	hsCtx, cancel := fanout.HandshakeContext(ctx, h.AuthHandshakeWindow())
	defer cancel()

	type readResult struct {
		frame inboundFrame
		err   error
	}
	readCh := make(chan readResult, 1)
	go func() {
		var f inboundFrame
		_, raw, err := ws.ReadMessage()
		if err == nil {
			err = json.Unmarshal(raw, &f)
		}
		readCh <- readResult{frame: f, err: err}
	}()

	select {
	case <-hsCtx.Done():
		h.sendFrameError(ws, apperr.New(apperr.Unauthorized, "handshake window elapsed"))
		return "", "", "", false
	case res := <-readCh:
		if res.err != nil {
			h.sendFrameError(ws, apperr.New(apperr.Invalid, "malformed handshake frame"))
			return "", "", "", false
		}
		switch res.frame.Type {
		case "authenticate":
			return h.handleAuthenticate(ctx, ws, sessionID, res.frame.Payload)
		case "reconnect_session":
			return h.handleReconnectSession(ctx, ws, sessionID, res.frame.Payload)
		default:
			h.sendFrameError(ws, apperr.New(apperr.Invalid, "first frame must be authenticate or reconnect_session"))
			return "", "", "", false
		}
	}
}

type authenticatePayload struct {
	Token    string `json:"token"`
	SocketID string `json:"socketId"`
}

func (h *Handlers) handleAuthenticate(_ context.Context, ws *websocket.Conn, sessionID string, raw json.RawMessage) (string, string, domain.Role, bool) {
	var p authenticatePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" || p.SocketID == "" {
		h.sendFrameError(ws, apperr.New(apperr.Invalid, "authenticate requires token and socketId"))
		return "", "", "", false
	}
	binding, err := h.Deps.Tokens.ValidateForSession(p.Token, sessionID)
	if err != nil {
		h.sendFrameError(ws, err)
		return "", "", "", false
	}
	return p.SocketID, binding.Subject, binding.Role, true
}

type reconnectSessionPayload struct {
	Token    string `json:"token"`
	SocketID string `json:"socketId"`
}

func (h *Handlers) handleReconnectSession(ctx context.Context, ws *websocket.Conn, sessionID string, raw json.RawMessage) (string, string, domain.Role, bool) {
	var p reconnectSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" || p.SocketID == "" {
		h.sendFrameError(ws, apperr.New(apperr.Invalid, "reconnect_session requires token and socketId"))
		return "", "", "", false
	}
	result, err := h.Recovery.Reconnect(ctx, p.Token, sessionID, p.SocketID)
	if err != nil {
		h.sendFrameError(ws, err)
		return "", "", "", false
	}
	env := struct {
		Type    string              `json:"type"`
		Payload reconnectedWSPayload `json:"payload"`
	}{
		Type: "reconnected",
		Payload: reconnectedWSPayload{
			Session:                    result.Snapshot.Session,
			Leaderboard:                result.Snapshot.Leaderboard,
			Token:                      result.Token,
			HasAnsweredCurrentQuestion: result.HasAnsweredCurrentQuestion,
		},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		h.sendFrameError(ws, apperr.New(apperr.Internal, "failed to encode reconnect payload"))
		return "", "", "", false
	}
	_ = ws.SetWriteDeadline(time.Now().Add(fanout.WriteDeadline))
	_ = ws.WriteMessage(websocket.TextMessage, payload)
	return p.SocketID, result.Participant.ParticipantID, domain.RoleParticipant, true
}

type reconnectedWSPayload struct {
	Session                    domain.Session            `json:"session"`
	Leaderboard                []domain.LeaderboardEntry `json:"leaderboard"`
	Token                      string                    `json:"token,omitempty"`
	HasAnsweredCurrentQuestion bool                      `json:"hasAnsweredCurrentQuestion"`
}

func (h *Handlers) sendFrameError(ws *websocket.Conn, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.New(apperr.Internal, "internal error")
	}
	env := struct {
		Type    string        `json:"type"`
		Payload *apperr.Error `json:"payload"`
	}{Type: "auth_error", Payload: appErr}
	payload, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(fanout.WriteDeadline))
	_ = ws.WriteMessage(websocket.TextMessage, payload)
}

// readLoop dispatches every post-handshake frame to the owning
// session.Coordinator by type, applying the messages rate-limit scope
// (10/sec/socket, §4.6 row 3) before each dispatch.
func (h *Handlers) readLoop(ctx context.Context, ws *websocket.Conn, sessionID, socketID, participantID string, role domain.Role) {
	sendErr := func(err error) {
		appErr, ok := apperr.As(err)
		if !ok {
			appErr = apperr.New(apperr.Internal, "internal error")
		}
		h.Deps.Hub.SendTo(socketID, fanout.Envelope{Type: "auth_error", Payload: appErr}, fanout.DisconnectIfFull)
	}
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		decision := h.JoinLimit.Check(ctx, ratelimit.ScopeMessages, socketID)
		if !decision.Allowed {
			sendErr(apperr.New(apperr.RateLimited, "too many messages").WithRetryAfter(decision.RetryAfter.Seconds()))
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			sendErr(apperr.New(apperr.Invalid, "malformed frame"))
			continue
		}

		coord, err := h.sessionCoordinator(sessionID)
		if err != nil {
			sendErr(err)
			continue
		}

		if dispatchErr := dispatchFrame(ctx, coord, role, participantID, frame); dispatchErr != nil {
			sendErr(dispatchErr)
		}
	}
}

func (h *Handlers) sessionCoordinator(sessionID string) (*session.Coordinator, error) {
	c, err := h.Registry.Lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sc, ok := c.(*session.Coordinator)
	if !ok {
		return nil, apperr.New(apperr.Internal, "unexpected coordinator type")
	}
	return sc, nil
}

// AuthHandshakeWindow returns the configured handshake deadline, or §4.8's
// 5s default if unset.
func (h *Handlers) AuthHandshakeWindow() time.Duration {
	if h.HandshakeWindow <= 0 {
		return 5 * time.Second
	}
	return h.HandshakeWindow
}
