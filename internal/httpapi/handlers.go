package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/profanity"
	"github.com/quizsync/engine/internal/ratelimit"
	"github.com/quizsync/engine/internal/recovery"
	"github.com/quizsync/engine/internal/registry"
	"github.com/quizsync/engine/internal/session"
)

// Handlers bundles the collaborators the bootstrapping HTTP surface
// needs, following the teacher's api.Handlers shape (one struct, one
// respondError helper, plain net/http handlers registered by the
// router).
type Handlers struct {
	Registry   *registry.Registry
	Recovery   *recovery.Service
	Catalog    QuizCatalog
	Profanity  *profanity.Filter
	JoinLimit  *ratelimit.Limiter
	Deps       session.Deps
	Clock      clock.Clock
	Log        *slog.Logger

	// HandshakeWindow bounds how long a freshly-upgraded WS connection has
	// to send its authenticate/reconnect_session frame (§4.8, default 5s
	// via AuthHandshakeWindow).
	HandshakeWindow time.Duration

	// Spawn starts a newly created coordinator's actor loop; split out so
	// tests can run it synchronously or skip it. Production wiring passes
	// a func that does `go coord.Run(ctx)`.
	Spawn func(ctx context.Context, c *session.Coordinator)
}

type createSessionRequest struct {
	QuizID           string `json:"quizId"`
	HostID           string `json:"hostId"`
	AllowLateJoiners bool   `json:"allowLateJoiners"`
	ExamSettings     struct {
		NegativeMarkingEnabled    bool    `json:"negativeMarkingEnabled"`
		NegativeMarkingPercentage float64 `json:"negativeMarkingPercentage"`
		FocusMonitoringEnabled    bool    `json:"focusMonitoringEnabled"`
		SkipReveal                bool    `json:"skipReveal"`
	} `json:"examSettings"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	JoinCode  string `json:"joinCode"`
}

// CreateSession handles POST /sessions: resolves the quiz, constructs a
// new SessionCoordinator in LOBBY state, registers it, and starts it.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, apperr.New(apperr.Invalid, "malformed request body"))
		return
	}
	if strings.TrimSpace(req.QuizID) == "" || strings.TrimSpace(req.HostID) == "" {
		h.respondError(w, http.StatusBadRequest, apperr.New(apperr.Invalid, "quizId and hostId are required"))
		return
	}

	quiz, ok := h.Catalog.GetQuiz(req.QuizID)
	if !ok {
		h.respondError(w, http.StatusNotFound, apperr.New(apperr.Invalid, "unknown quizId"))
		return
	}

	exam := domain.ExamSettings{
		NegativeMarkingEnabled:    req.ExamSettings.NegativeMarkingEnabled,
		NegativeMarkingPercentage: req.ExamSettings.NegativeMarkingPercentage,
		FocusMonitoringEnabled:    req.ExamSettings.FocusMonitoringEnabled,
		SkipReveal:                req.ExamSettings.SkipReveal,
	}

	coord, err := session.New(r.Context(), req.HostID, quiz, req.AllowLateJoiners, exam, h.Deps)
	if err != nil {
		h.Log.Error("session_create_failed", slog.Any("err", err))
		h.respondError(w, http.StatusInternalServerError, apperr.New(apperr.Internal, "failed to create session"))
		return
	}
	h.Registry.Register(coord)
	h.Spawn(context.Background(), coord)

	h.respondJSON(w, http.StatusCreated, createSessionResponse{SessionID: coord.SessionID(), JoinCode: coord.JoinCode()})
}

type joinRequest struct {
	Nickname string `json:"nickname"`
	SocketID string `json:"socketId"`
}

type joinResponse struct {
	ParticipantID string `json:"participantId"`
	SessionID     string `json:"sessionId"`
	Token         string `json:"token"`
}

// Join handles POST /sessions/{joinCode}/join: validates nickname shape,
// profanity, and the per-ip join rate limit (§4.6 scenario 1) before
// delegating to the session's Join command.
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request, joinCode string) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, apperr.New(apperr.Invalid, "malformed request body"))
		return
	}

	nickname := strings.TrimSpace(req.Nickname)
	if len(nickname) < 3 || len(nickname) > 20 {
		h.respondError(w, http.StatusBadRequest, apperr.New(apperr.Invalid, "nickname must be 3-20 characters"))
		return
	}
	if h.Profanity.IsProfane(nickname) {
		h.respondError(w, http.StatusBadRequest, apperr.New(apperr.ProfanityDetected, "nickname rejected"))
		return
	}

	ip := clientIP(r)
	decision := h.JoinLimit.Check(r.Context(), ratelimit.ScopeJoin, ip)
	if !decision.Allowed {
		h.respondError(w, http.StatusTooManyRequests, apperr.New(apperr.RateLimited, "too many join attempts").WithRetryAfter(decision.RetryAfter.Seconds()))
		return
	}

	coord, err := h.Registry.LookupByJoinCode(joinCode)
	if err != nil {
		h.respondAppErr(w, err)
		return
	}
	sc, ok := coord.(*session.Coordinator)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, apperr.New(apperr.Internal, "unexpected coordinator type"))
		return
	}

	result := sc.Join(r.Context(), nickname, ip, req.SocketID)
	if result.Error != nil {
		h.respondAppErr(w, result.Error)
		return
	}

	h.Registry.AttachSocket(req.SocketID, sc.SessionID())
	h.respondJSON(w, http.StatusOK, joinResponse{
		ParticipantID: result.Participant.ParticipantID,
		SessionID:     sc.SessionID(),
		Token:         result.Token,
	})
}

type reconnectRequest struct {
	Token    string `json:"token"`
	SocketID string `json:"socketId"`
}

type reconnectResponse struct {
	ParticipantID              string                    `json:"participantId"`
	Session                    domain.Session            `json:"session"`
	Leaderboard                []domain.LeaderboardEntry `json:"leaderboard"`
	Token                      string                    `json:"token,omitempty"`
	HasAnsweredCurrentQuestion bool                      `json:"hasAnsweredCurrentQuestion"`
}

// Reconnect handles POST /sessions/{sessionId}/reconnect, running the
// RecoveryService's six-step protocol (§4.7).
func (h *Handlers) Reconnect(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req reconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, apperr.New(apperr.Invalid, "malformed request body"))
		return
	}

	result, err := h.Recovery.Reconnect(r.Context(), req.Token, sessionID, req.SocketID)
	if err != nil {
		h.respondAppErr(w, err)
		return
	}

	h.Registry.AttachSocket(req.SocketID, sessionID)
	h.respondJSON(w, http.StatusOK, reconnectResponse{
		ParticipantID:              result.Participant.ParticipantID,
		Session:                    result.Snapshot.Session,
		Leaderboard:                result.Snapshot.Leaderboard,
		Token:                      result.Token,
		HasAnsweredCurrentQuestion: result.HasAnsweredCurrentQuestion,
	})
}

func (h *Handlers) respondAppErr(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		h.Log.Error("unclassified_error", slog.Any("err", err))
		h.respondError(w, http.StatusInternalServerError, apperr.New(apperr.Internal, "internal error"))
		return
	}
	h.respondError(w, statusForCode(appErr.Code), appErr)
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, appErr *apperr.Error) {
	h.Log.Warn("http_error", slog.Int("status", status), slog.String("code", string(appErr.Code)), slog.String("message", appErr.Message))
	h.respondJSON(w, status, map[string]any{
		"code":       appErr.Code,
		"message":    appErr.Message,
		"retryAfter": appErr.RetryAfter,
	})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Log.Error("response_encode_failed", slog.Any("err", err))
	}
}

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.SessionNotFound, apperr.ParticipantNotFound, apperr.InvalidJoinCode:
		return http.StatusNotFound
	case apperr.Unauthorized, apperr.MissingToken, apperr.ExpiredToken:
		return http.StatusUnauthorized
	case apperr.ParticipantBanned:
		return http.StatusForbidden
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.NicknameTaken, apperr.ProfanityDetected, apperr.Invalid, apperr.InvalidQuestion,
		apperr.SessionStarted, apperr.SessionEnded, apperr.SessionExpired,
		apperr.AlreadySubmitted, apperr.TimeExpired, apperr.InvalidRole:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
