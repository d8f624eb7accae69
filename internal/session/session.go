// Package session implements the SessionCoordinator (C13): the per-session
// state machine and event dispatcher of spec.md §4.1, owning one session's
// Scorer/Leaderboard/TimerScheduler/AnswerPipeline instances and enforcing
// the single-writer discipline of §5 ("at most one handler is active per
// session at a time"). Generalizes mape/handlers.go's per-zone serialized
// event loop (one goroutine per managed entity, draining a channel of
// inbound events) from zone coordination to quiz sessions.
//
// Single-writer discipline is structural, not lock-based: every mutation
// of session/participant state happens inside run's select loop, and
// external readers only ever see an immutable Snapshot published through
// an atomic.Pointer after each command — there is no mutex guarding
// session state in this package.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/audit"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/fanout"
	"github.com/quizsync/engine/internal/ids"
	"github.com/quizsync/engine/internal/leaderboard"
	"github.com/quizsync/engine/internal/answer"
	"github.com/quizsync/engine/internal/ratelimit"
	"github.com/quizsync/engine/internal/store"
	"github.com/quizsync/engine/internal/timer"
	"github.com/quizsync/engine/internal/token"
)

// Quiz is the read-only question set a session plays through. Authoring
// and persistence of quizzes is the declared-external QuizStore (§1
// Non-goals); the coordinator only consumes an already-loaded Quiz.
type Quiz struct {
	QuizID    string
	Questions []domain.Question
}

// Snapshot is the immutable, externally-readable view of a session,
// published after every command so HTTP/recovery readers never block the
// actor and never need a lock.
type Snapshot struct {
	Session      domain.Session
	Participants map[string]domain.Participant
	Leaderboard  []domain.LeaderboardEntry
	Sequence     uint64
}

// Deps bundles the collaborators a Coordinator needs, so construction
// sites (cmd/quizsyncd, tests) don't repeat a long parameter list.
type Deps struct {
	Ephemeral store.EphemeralStore
	Durable   store.DurableStore
	Audit     audit.AuditLog
	Tokens    *token.Issuer
	Hub       *fanout.Hub
	Clock     clock.Clock
	Log       *slog.Logger

	AnswerGrace         time.Duration
	LeaderboardTopN     int
	LeaderboardThrottle time.Duration
}

// Coordinator is the per-session actor. Every exported command method
// enqueues a command onto ops and blocks for its result (the accessors
// read immutable fields or the published Snapshot); the run loop is the only
// goroutine that ever reads or writes session/participant state.
type Coordinator struct {
	deps Deps
	quiz Quiz

	ops  chan func()
	done chan struct{}

	board     *leaderboard.Leaderboard
	scheduler *timer.Scheduler
	pipeline  *answer.Pipeline
	limiter   *ratelimit.Limiter

	snapshot atomic.Pointer[Snapshot]

	// session/participant state: mutated only inside run's goroutine.
	sess               domain.Session
	participants       map[string]*domain.Participant
	nicknames          map[string]string // lower(nickname) -> participantId
	seq                uint64
	lastBoardBroadcast time.Time
}

// New constructs a Coordinator in LOBBY state for quiz, with a fresh
// sessionId/joinCode. It does not start the actor loop: callers must call
// Run once to begin processing.
func New(ctx context.Context, hostID string, quiz Quiz, allowLateJoiners bool, exam domain.ExamSettings, deps Deps) (*Coordinator, error) {
	joinCode, err := ids.NewJoinCode()
	if err != nil {
		return nil, fmt.Errorf("generate join code: %w", err)
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.LeaderboardTopN <= 0 {
		deps.LeaderboardTopN = 20
	}

	sessionID := ids.NewSessionID()
	c := &Coordinator{
		deps: deps,
		quiz: quiz,
		ops:  make(chan func(), 256),
		done: make(chan struct{}),
		sess: domain.Session{
			SessionID:              sessionID,
			JoinCode:               joinCode,
			QuizID:                 quiz.QuizID,
			State:                  domain.StateLobby,
			CurrentQuestionIndex:   -1,
			ActiveParticipants:     make(map[string]struct{}),
			EliminatedParticipants: make(map[string]struct{}),
			VoidedQuestions:        make(map[string]struct{}),
			AllowLateJoiners:       allowLateJoiners,
			ExamSettings:           exam,
			HostID:                 hostID,
			CreatedAt:              deps.Clock.Now(),
		},
		participants: make(map[string]*domain.Participant),
		nicknames:    make(map[string]string),
	}
	c.board = leaderboard.New(sessionID, deps.Ephemeral)
	c.scheduler = timer.New(deps.Clock, deps.Log)
	c.limiter = ratelimit.New(deps.Ephemeral, deps.Log)
	c.pipeline = answer.New(deps.Ephemeral, deps.Durable, c.limiter, deps.Clock, deps.Log, deps.AnswerGrace)

	c.publishSnapshot()

	if err := c.persistSessionLocked(ctx); err != nil {
		deps.Log.Error("session_initial_persist_failed", slog.String("sessionId", sessionID), slog.Any("err", err))
	}

	return c, nil
}

// SessionID returns the session's id, satisfying registry.Coordinator.
func (c *Coordinator) SessionID() string { return c.sess.SessionID }

// JoinCode returns the session's 6-character join code.
func (c *Coordinator) JoinCode() string { return c.sess.JoinCode }

// Done returns a channel closed once the session has ended and its actor
// loop has exited, satisfying registry.Coordinator.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Snapshot returns the most recently published immutable view.
func (c *Coordinator) Snapshot() Snapshot {
	if s := c.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// Run drains the ops queue and the timer scheduler's tick/deadline
// channels until ctx is cancelled or the session reaches ENDED and
// drains, implementing the single-writer discipline of §5.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case op, ok := <-c.ops:
			if !ok {
				return
			}
			op()
			if c.sess.State == domain.StateEnded {
				return
			}
		case tick, ok := <-c.scheduler.Ticks():
			if ok {
				c.onTick(tick)
			}
		case deadline, ok := <-c.scheduler.Deadlines():
			if ok {
				c.onDeadline(ctx, deadline)
			}
		}
	}
}

// enqueue runs fn on the actor goroutine and waits for it to finish,
// giving every exported operation the same call-and-wait shape without
// needing per-command reply channels for simple void commands.
func (c *Coordinator) enqueue(fn func()) {
	done := make(chan struct{})
	c.ops <- func() {
		fn()
		close(done)
	}
	<-done
}

func (c *Coordinator) publishSnapshot() {
	participants := make(map[string]domain.Participant, len(c.participants))
	for id, p := range c.participants {
		participants[id] = *p
	}
	top, seq := c.board.CachedSnapshot()
	c.snapshot.Store(&Snapshot{
		Session:      c.sess,
		Participants: participants,
		Leaderboard:  top,
		Sequence:     seq,
	})
}

func (c *Coordinator) broadcast(eventType string, payload any) {
	c.deps.Hub.BroadcastSession(c.sess.SessionID, "", fanout.Envelope{Type: eventType, Payload: payload}, fanout.DropIfFull)
}

func (c *Coordinator) sendTo(socketID, eventType string, payload any) {
	c.deps.Hub.SendTo(socketID, fanout.Envelope{Type: eventType, Payload: payload}, fanout.DisconnectIfFull)
}

func (c *Coordinator) writeAudit(ctx context.Context, eventType, actor string, payload map[string]string) {
	if c.deps.Audit == nil {
		return
	}
	ev := audit.Event{SessionID: c.sess.SessionID, Type: eventType, Actor: actor, At: c.deps.Clock.Now().UnixMilli(), Payload: payload}
	if err := c.deps.Audit.Append(ctx, ev); err != nil {
		c.deps.Log.Warn("audit_append_failed", slog.String("sessionId", c.sess.SessionID), slog.String("type", eventType), slog.Any("err", err))
	}
}

func (c *Coordinator) persistSessionLocked(ctx context.Context) error {
	rec := store.SessionRecord{
		SessionID:            c.sess.SessionID,
		JoinCode:             c.sess.JoinCode,
		QuizID:               c.sess.QuizID,
		State:                string(c.sess.State),
		CurrentQuestionIndex: c.sess.CurrentQuestionIndex,
		HostID:               c.sess.HostID,
		AllowLateJoiners:     c.sess.AllowLateJoiners,
		CreatedAt:            c.sess.CreatedAt.UnixMilli(),
	}
	if !c.sess.EndedAt.IsZero() {
		rec.EndedAt = c.sess.EndedAt.UnixMilli()
	}
	return c.deps.Durable.PutSession(ctx, rec)
}

func (c *Coordinator) currentQuestion() (domain.Question, bool) {
	if c.sess.CurrentQuestionIndex < 0 || c.sess.CurrentQuestionIndex >= len(c.quiz.Questions) {
		return domain.Question{}, false
	}
	return c.quiz.Questions[c.sess.CurrentQuestionIndex], true
}

func requireRole(actorRole, required domain.Role) error {
	if actorRole != required {
		return apperr.New(apperr.Unauthorized, "command requires "+string(required)+" role")
	}
	return nil
}
