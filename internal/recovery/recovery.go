// Package recovery implements the RecoveryService (C14): the six-step
// reconnect protocol of spec.md §4.7, letting a dropped participant
// resume a session without losing their place. Grounded on
// internal/registry's lookup-then-delegate shape, generalized from
// routing a live command to validating a stale connection's right to
// rejoin one.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/session"
	"github.com/quizsync/engine/internal/store"
	"github.com/quizsync/engine/internal/token"
)

// Validator is the minimal token-checking surface recovery needs.
type Validator interface {
	ValidateForSession(raw, sessionID string) (token.Binding, error)
}

// Minter mints a fresh-TTL token, used to hand a reconnecting client a new
// credential scoped to the reconnection grace window rather than the
// original join token's lifetime.
type Minter interface {
	MintWithTTL(sessionID string, role domain.Role, subject string, ttl time.Duration) (string, error)
}

// Coordinator is the subset of session.Coordinator's surface recovery
// needs: reading a snapshot, reattaching a socket, and checking whether
// the current question has already been answered.
type Coordinator interface {
	SessionID() string
	Snapshot() session.Snapshot
	Reattach(ctx context.Context, participantID, socketID string) error
	HasAnsweredCurrentQuestion(ctx context.Context, participantID string) (bool, error)
}

// LookupFunc resolves a live coordinator by sessionId. It exists as a func
// type, not an interface satisfied directly by internal/registry.Registry,
// because the registry's own Coordinator interface (SessionID/JoinCode/Done)
// is narrower than recovery's — callers adapt Registry.Lookup by type-
// asserting the concrete *session.Coordinator it stores.
type LookupFunc func(sessionID string) (Coordinator, error)

// Result is the reconnect payload handed back to the client, per §4.7's
// "full current state" response.
type Result struct {
	Snapshot                   session.Snapshot
	Participant                domain.Participant
	Token                      string
	HasAnsweredCurrentQuestion bool
}

// DefaultGraceWindow is applied when a Service is constructed with
// graceWindow <= 0, matching config.Config's own default for
// RecoveryGraceWindow.
const DefaultGraceWindow = 5 * time.Minute

// Service runs the reconnect protocol.
type Service struct {
	tokens      Validator
	minter      Minter
	lookup      LookupFunc
	durable     store.DurableStore
	ephemeral   store.EphemeralStore
	clock       clock.Clock
	graceWindow time.Duration
}

// New constructs a Service. ephemeral and minter may be nil (tests
// exercising only the token/lookup/durable path don't need them); c
// defaults to the system clock and graceWindow to DefaultGraceWindow
// when zero.
func New(tokens Validator, lookup LookupFunc, durable store.DurableStore, ephemeral store.EphemeralStore, minter Minter, c clock.Clock, graceWindow time.Duration) *Service {
	if c == nil {
		c = clock.System{}
	}
	if graceWindow <= 0 {
		graceWindow = DefaultGraceWindow
	}
	return &Service{
		tokens:      tokens,
		minter:      minter,
		lookup:      lookup,
		durable:     durable,
		ephemeral:   ephemeral,
		clock:       c,
		graceWindow: graceWindow,
	}
}

// Reconnect runs the six steps of §4.7:
//  1. validate the token against the claimed session and role
//  2. verify the session exists and has not ended
//  3. locate the participant (live snapshot first, falling back to the
//     durable store for one that has aged out of the in-memory roster),
//     rejecting banned participants and ones past the reconnection grace
//     window (SESSION_EXPIRED)
//  4. refresh the participant's ephemeral session binding TTL, rewriting
//     participant:{id}:session with a fresh TTL (the coordinator's
//     Reattach separately persists the refreshed durable record)
//  5. mark the participant active again and mint a fresh-TTL token
//  6. return the full current session state plus whether they have
//     already answered the active question
func (s *Service) Reconnect(ctx context.Context, rawToken, sessionID, socketID string) (Result, error) {
	binding, err := s.tokens.ValidateForSession(rawToken, sessionID)
	if err != nil {
		return Result{}, err
	}

	coord, err := s.lookup(sessionID)
	if err != nil {
		return Result{}, err
	}

	snap := coord.Snapshot()
	if snap.Session.State == domain.StateEnded {
		return Result{}, apperr.New(apperr.SessionEnded, "session has ended")
	}

	participant, ok := snap.Participants[binding.Subject]
	if !ok {
		rec, found, err := s.durable.GetParticipant(ctx, sessionID, binding.Subject)
		if err != nil {
			return Result{}, fmt.Errorf("recovery: lookup durable participant: %w", err)
		}
		if !found {
			return Result{}, apperr.New(apperr.ParticipantNotFound, "participant not found in this session")
		}
		participant = fromParticipantRecord(rec)
	}

	if participant.IsBanned {
		return Result{}, apperr.New(apperr.ParticipantBanned, "participant has been banned from this session")
	}

	if !participant.LastConnectedAt.IsZero() && s.clock.Now().Sub(participant.LastConnectedAt) > s.graceWindow {
		return Result{}, apperr.New(apperr.SessionExpired, "reconnection grace window has elapsed")
	}

	if err := coord.Reattach(ctx, participant.ParticipantID, socketID); err != nil {
		return Result{}, err
	}

	s.refreshEphemeralBinding(ctx, sessionID, participant.ParticipantID, socketID)

	hasAnswered, err := coord.HasAnsweredCurrentQuestion(ctx, participant.ParticipantID)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: check answered state: %w", err)
	}

	finalSnap := coord.Snapshot()
	participant = finalSnap.Participants[participant.ParticipantID]

	tok := ""
	if s.minter != nil {
		tok, err = s.minter.MintWithTTL(sessionID, binding.Role, participant.ParticipantID, s.graceWindow)
		if err != nil {
			return Result{}, fmt.Errorf("recovery: mint reconnection token: %w", err)
		}
	}

	return Result{
		Snapshot:                   finalSnap,
		Participant:                participant,
		Token:                      tok,
		HasAnsweredCurrentQuestion: hasAnswered,
	}, nil
}

// refreshEphemeralBinding rewrites the participant:{id}:session hash with
// a fresh TTL, per §4.7 step 3 and scenario 5 ("the ephemeral record is
// rewritten with TTL=5m"). It is best-effort: the durable record and the
// in-memory coordinator remain the source of truth, so an ephemeral-store
// hiccup here never fails the reconnect.
func (s *Service) refreshEphemeralBinding(ctx context.Context, sessionID, participantID, socketID string) {
	if s.ephemeral == nil {
		return
	}
	key := fmt.Sprintf(store.KeyParticipantSession, participantID)
	fields := map[string]string{
		"sessionId":  sessionID,
		"socketId":   socketID,
		"reconnectedAtMs": fmt.Sprintf("%d", s.clock.Now().UnixMilli()),
	}
	if err := s.ephemeral.HSet(ctx, key, fields); err != nil {
		return
	}
	_ = s.ephemeral.Expire(ctx, key, s.graceWindow.Milliseconds())
}

func fromParticipantRecord(rec store.ParticipantRecord) domain.Participant {
	p := domain.Participant{
		ParticipantID:   rec.ParticipantID,
		SessionID:       rec.SessionID,
		Nickname:        rec.Nickname,
		IPAddress:       rec.IPAddress,
		IsActive:        rec.IsActive,
		IsEliminated:    rec.IsEliminated,
		IsBanned:        rec.IsBanned,
		TotalScore:      rec.TotalScore,
		TotalTimeMs:     rec.TotalTimeMs,
		StreakCount:     rec.StreakCount,
		FocusLostCount:  rec.FocusLostCount,
		FocusLostTimeMs: rec.FocusLostTimeMs,
	}
	if rec.LastConnectedAt > 0 {
		p.LastConnectedAt = time.UnixMilli(rec.LastConnectedAt)
	}
	return p
}
