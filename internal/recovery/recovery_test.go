package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/session"
	"github.com/quizsync/engine/internal/store"
	"github.com/quizsync/engine/internal/token"
)

type fakeValidator struct {
	binding token.Binding
	err     error
}

func (f fakeValidator) ValidateForSession(raw, sessionID string) (token.Binding, error) {
	return f.binding, f.err
}

type fakeCoordinator struct {
	snap          session.Snapshot
	reattachErr   error
	hasAnswered   bool
	hasAnsweredErr error
	reattachedID  string
}

func (f *fakeCoordinator) SessionID() string           { return f.snap.Session.SessionID }
func (f *fakeCoordinator) Snapshot() session.Snapshot  { return f.snap }
func (f *fakeCoordinator) Reattach(_ context.Context, participantID, socketID string) error {
	f.reattachedID = participantID
	if f.reattachErr != nil {
		return f.reattachErr
	}
	p := f.snap.Participants[participantID]
	p.SocketID = socketID
	p.IsActive = true
	f.snap.Participants[participantID] = p
	return nil
}
func (f *fakeCoordinator) HasAnsweredCurrentQuestion(_ context.Context, _ string) (bool, error) {
	return f.hasAnswered, f.hasAnsweredErr
}

func baseSnapshot() session.Snapshot {
	return session.Snapshot{
		Session: domain.Session{SessionID: "sess-1", State: domain.StateActiveQuestion, CurrentQuestionID: "q1"},
		Participants: map[string]domain.Participant{
			"p1": {ParticipantID: "p1", SessionID: "sess-1", Nickname: "alice"},
		},
	}
}

func TestReconnectSuccessMarksActiveAndReturnsHasAnswered(t *testing.T) {
	coord := &fakeCoordinator{snap: baseSnapshot(), hasAnswered: true}
	validator := fakeValidator{binding: token.Binding{SessionID: "sess-1", Role: domain.RoleParticipant, Subject: "p1"}}
	svc := New(validator, func(sessionID string) (Coordinator, error) { return coord, nil }, nil, nil, nil, nil, 0)

	result, err := svc.Reconnect(context.Background(), "raw-token", "sess-1", "new-sock")
	require.NoError(t, err)
	require.True(t, result.HasAnsweredCurrentQuestion)
	require.Equal(t, "p1", coord.reattachedID)
	require.Equal(t, "new-sock", result.Participant.SocketID)
}

func TestReconnectRejectsInvalidToken(t *testing.T) {
	validator := fakeValidator{err: apperr.New(apperr.ExpiredToken, "expired")}
	svc := New(validator, func(sessionID string) (Coordinator, error) {
		t.Fatalf("lookup should not be reached when token validation fails")
		return nil, nil
	}, nil, nil, nil, nil, 0)

	_, err := svc.Reconnect(context.Background(), "raw-token", "sess-1", "sock-1")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.ExpiredToken, appErr.Code)
}

func TestReconnectRejectsEndedSession(t *testing.T) {
	snap := baseSnapshot()
	snap.Session.State = domain.StateEnded
	coord := &fakeCoordinator{snap: snap}
	validator := fakeValidator{binding: token.Binding{SessionID: "sess-1", Subject: "p1"}}
	svc := New(validator, func(sessionID string) (Coordinator, error) { return coord, nil }, nil, nil, nil, nil, 0)

	_, err := svc.Reconnect(context.Background(), "raw-token", "sess-1", "sock-1")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.SessionEnded, appErr.Code)
}

func TestReconnectRejectsBannedParticipant(t *testing.T) {
	snap := baseSnapshot()
	p := snap.Participants["p1"]
	p.IsBanned = true
	snap.Participants["p1"] = p
	coord := &fakeCoordinator{snap: snap}
	validator := fakeValidator{binding: token.Binding{SessionID: "sess-1", Subject: "p1"}}
	svc := New(validator, func(sessionID string) (Coordinator, error) { return coord, nil }, nil, nil, nil, nil, 0)

	_, err := svc.Reconnect(context.Background(), "raw-token", "sess-1", "sock-1")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.ParticipantBanned, appErr.Code)
}

func TestReconnectFallsBackToDurableStoreWhenParticipantAgedOutOfSnapshot(t *testing.T) {
	snap := baseSnapshot()
	delete(snap.Participants, "p1")
	coord := &fakeCoordinator{snap: snap}
	validator := fakeValidator{binding: token.Binding{SessionID: "sess-1", Subject: "p1"}}
	durable, err := store.NewFileDurableStore(t.TempDir())
	require.NoError(t, err)
	defer durable.Close()
	require.NoError(t, durable.PutParticipant(context.Background(), store.ParticipantRecord{ParticipantID: "p1", SessionID: "sess-1", Nickname: "alice"}))

	svc := New(validator, func(sessionID string) (Coordinator, error) { return coord, nil }, durable, nil, nil, nil, 0)

	_, err = svc.Reconnect(context.Background(), "raw-token", "sess-1", "sock-1")
	require.NoError(t, err)
	require.Equal(t, "p1", coord.reattachedID)
}

// TestReconnectRejectsPastGraceWindow mirrors spec.md §8 scenario 6:
// reconnecting after the grace window has elapsed fails SESSION_EXPIRED
// without ever reattaching the participant.
func TestReconnectRejectsPastGraceWindow(t *testing.T) {
	snap := baseSnapshot()
	p := snap.Participants["p1"]
	p.LastConnectedAt = time.Unix(1_700_000_000, 0)
	snap.Participants["p1"] = p
	coord := &fakeCoordinator{snap: snap}
	validator := fakeValidator{binding: token.Binding{SessionID: "sess-1", Subject: "p1"}}
	fakeClock := clock.NewFake(time.Unix(1_700_000_000, 0).Add(10 * time.Minute))

	svc := New(validator, func(sessionID string) (Coordinator, error) { return coord, nil }, nil, nil, nil, fakeClock, 5*time.Minute)

	_, err := svc.Reconnect(context.Background(), "raw-token", "sess-1", "sock-1")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.SessionExpired, appErr.Code)
	require.Empty(t, coord.reattachedID)
}

type fakeMinter struct {
	gotTTL time.Duration
}

func (f *fakeMinter) MintWithTTL(sessionID string, role domain.Role, subject string, ttl time.Duration) (string, error) {
	f.gotTTL = ttl
	return "fresh-token", nil
}

// TestReconnectRewritesEphemeralBindingAndMintsFreshToken mirrors §8
// scenario 5: reconnecting within the grace window rewrites the
// participant's ephemeral session hash with a fresh TTL and mints a new
// reconnection token scoped to that same grace window.
func TestReconnectRewritesEphemeralBindingAndMintsFreshToken(t *testing.T) {
	coord := &fakeCoordinator{snap: baseSnapshot()}
	validator := fakeValidator{binding: token.Binding{SessionID: "sess-1", Role: domain.RoleParticipant, Subject: "p1"}}
	ephemeral := store.NewMemoryEphemeralStore()
	minter := &fakeMinter{}

	svc := New(validator, func(sessionID string) (Coordinator, error) { return coord, nil }, nil, ephemeral, minter, nil, 5*time.Minute)

	result, err := svc.Reconnect(context.Background(), "raw-token", "sess-1", "sock-2")
	require.NoError(t, err)
	require.Equal(t, "fresh-token", result.Token)
	require.Equal(t, 5*time.Minute, minter.gotTTL)

	fields, err := ephemeral.HGetAll(context.Background(), fmt.Sprintf(store.KeyParticipantSession, "p1"))
	require.NoError(t, err)
	require.Equal(t, "sess-1", fields["sessionId"])
	require.Equal(t, "sock-2", fields["socketId"])
}
