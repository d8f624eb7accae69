package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quizsync/engine/internal/audit"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/fanout"
	"github.com/quizsync/engine/internal/profanity"
	"github.com/quizsync/engine/internal/ratelimit"
	"github.com/quizsync/engine/internal/recovery"
	"github.com/quizsync/engine/internal/registry"
	"github.com/quizsync/engine/internal/session"
	"github.com/quizsync/engine/internal/store"
	"github.com/quizsync/engine/internal/token"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	durable, err := store.NewFileDurableStore(t.TempDir())
	if err != nil {
		t.Fatalf("new durable store: %v", err)
	}
	t.Cleanup(func() { _ = durable.Close() })
	auditLog, err := audit.NewFileAuditLog(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatalf("new audit log: %v", err)
	}
	t.Cleanup(func() { _ = auditLog.Close() })
	issuer, err := token.New([]byte("0123456789abcdef0123456789abcdef"), time.Hour, nil)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	ephemeral := store.NewMemoryEphemeralStore()
	reg := registry.New()

	catalog := NewStaticCatalog()
	catalog.Put(session.Quiz{
		QuizID: "quiz-1",
		Questions: []domain.Question{
			{
				QuestionID:   "q1",
				QuestionType: domain.QuestionMultipleChoice,
				Options:      []domain.Option{{ID: "a", IsCorrect: true}, {ID: "b"}},
				TimeLimitSec: 10,
				Scoring:      domain.ScoringRule{BasePoints: 100},
			},
		},
	})

	lookup := func(sessionID string) (recovery.Coordinator, error) {
		c, err := reg.Lookup(sessionID)
		if err != nil {
			return nil, err
		}
		return c.(*session.Coordinator), nil
	}

	return &Handlers{
		Registry:  reg,
		Recovery:  recovery.New(issuer, lookup, durable, ephemeral, issuer, clock.NewFake(time.Unix(1_700_000_000, 0)), 5*time.Minute),
		Catalog:   catalog,
		Profanity: profanity.New(),
		JoinLimit: ratelimit.New(ephemeral, nil),
		Deps: session.Deps{
			Ephemeral: ephemeral,
			Durable:   durable,
			Audit:     auditLog,
			Tokens:    issuer,
			Hub:       fanout.New(nil),
			Clock:     clock.NewFake(time.Unix(1_700_000_000, 0)),
		},
		Clock: clock.New(),
		Log:   testLogger(),
		Spawn: func(ctx context.Context, c *session.Coordinator) { go c.Run(ctx) },
	}
}

func TestCreateSessionJoinAndReconnectFlow(t *testing.T) {
	h := newTestHandlers(t)
	mux := NewRouter(testLogger(), NewHealthState(), h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	createBody, _ := json.Marshal(createSessionRequest{QuizID: "quiz-1", HostID: "host-1"})
	resp, err := http.Post(srv.URL+"/sessions", "application/json", bytes.NewReader(createBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created createSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.NotEmpty(t, created.SessionID)
	require.NotEmpty(t, created.JoinCode)

	joinBody, _ := json.Marshal(joinRequest{Nickname: "alice", SocketID: "sock-1"})
	resp, err = http.Post(srv.URL+"/sessions/"+created.JoinCode+"/join", "application/json", bytes.NewReader(joinBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var joined joinResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&joined))
	resp.Body.Close()
	require.NotEmpty(t, joined.Token)
	require.NotEmpty(t, joined.ParticipantID)

	reconnectBody, _ := json.Marshal(reconnectRequest{Token: joined.Token, SocketID: "sock-2"})
	resp, err = http.Post(srv.URL+"/sessions/"+created.SessionID+"/reconnect", "application/json", bytes.NewReader(reconnectBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reconnected reconnectResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reconnected))
	resp.Body.Close()
	require.Equal(t, joined.ParticipantID, reconnected.ParticipantID)
}

func TestJoinRejectsProfaneNickname(t *testing.T) {
	h := newTestHandlers(t)
	mux := NewRouter(testLogger(), NewHealthState(), h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	createBody, _ := json.Marshal(createSessionRequest{QuizID: "quiz-1", HostID: "host-1"})
	resp, _ := http.Post(srv.URL+"/sessions", "application/json", bytes.NewReader(createBody))
	var created createSessionResponse
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	joinBody, _ := json.Marshal(joinRequest{Nickname: "shithead", SocketID: "sock-1"})
	resp, err := http.Post(srv.URL+"/sessions/"+created.JoinCode+"/join", "application/json", bytes.NewReader(joinBody))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for profane nickname, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
