package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/session"
)

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):] + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, deadline time.Duration) inboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(deadline)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env inboundFrame
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

// TestWSAuthenticateThenSubmitAnswer covers C15/§4.8/§6's production
// transport path end to end: upgrade, authenticate within the handshake
// window, then dispatch an inbound submit_answer frame to the owning
// Coordinator and observe its outbound reply.
func TestWSAuthenticateThenSubmitAnswer(t *testing.T) {
	h := newTestHandlers(t)
	mux := NewRouter(testLogger(), NewHealthState(), h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	createBody, _ := json.Marshal(createSessionRequest{QuizID: "quiz-1", HostID: "host-1"})
	resp, err := http.Post(srv.URL+"/sessions", "application/json", bytes.NewReader(createBody))
	require.NoError(t, err)
	var created createSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	joinBody, _ := json.Marshal(joinRequest{Nickname: "alice", SocketID: "sock-1"})
	resp, err = http.Post(srv.URL+"/sessions/"+created.JoinCode+"/join", "application/json", bytes.NewReader(joinBody))
	require.NoError(t, err)
	var joined joinResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&joined))
	resp.Body.Close()

	coordAny, err := h.Registry.Lookup(created.SessionID)
	require.NoError(t, err)
	coord := coordAny.(*session.Coordinator)
	require.NoError(t, coord.StartQuiz(context.Background(), domain.RoleController))

	conn := dialWS(t, srv, "/sessions/"+created.SessionID+"/ws")

	authFrame, _ := json.Marshal(map[string]any{
		"type":    "authenticate",
		"payload": authenticatePayload{Token: joined.Token, SocketID: "sock-1"},
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, authFrame))

	submitFrame, _ := json.Marshal(map[string]any{
		"type": "submit_answer",
		"payload": map[string]any{
			"questionId":        "q1",
			"selectedOptionIds": []string{"a"},
		},
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, submitFrame))

	env := readEnvelope(t, conn, 2*time.Second)
	require.Equal(t, "answer_accepted", env.Type)
}

// TestWSHandshakeRejectsMalformedFirstFrame covers §4.8's handshake
// window: a connection whose first frame isn't authenticate or
// reconnect_session is rejected and closed rather than left open.
func TestWSHandshakeRejectsMalformedFirstFrame(t *testing.T) {
	h := newTestHandlers(t)
	mux := NewRouter(testLogger(), NewHealthState(), h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	createBody, _ := json.Marshal(createSessionRequest{QuizID: "quiz-1", HostID: "host-1"})
	resp, err := http.Post(srv.URL+"/sessions", "application/json", bytes.NewReader(createBody))
	require.NoError(t, err)
	var created createSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	conn := dialWS(t, srv, "/sessions/"+created.SessionID+"/ws")

	badFrame, _ := json.Marshal(map[string]any{"type": "submit_answer", "payload": map[string]any{}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, badFrame))

	env := readEnvelope(t, conn, 2*time.Second)
	require.Equal(t, "auth_error", env.Type)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}
