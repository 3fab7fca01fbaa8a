package opencode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/core"
)

// fakeServer is a minimal opencode-style server: REST endpoints plus a
// WebSocket event stream tests can push raw events into.
type fakeServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	wsConn   *websocket.Conn
	requests []string // "METHOD path"
	bodies   map[string]string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{t: t, bodies: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("/event", fs.handleEvent)
	mux.HandleFunc("/", fs.handleREST)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	require.NoError(fs.t, err)
	fs.mu.Lock()
	fs.wsConn = conn
	fs.mu.Unlock()
}

func (fs *fakeServer) handleREST(w http.ResponseWriter, r *http.Request) {
	body := make([]byte, 0)
	if r.Body != nil {
		var buf [4096]byte
		n, _ := r.Body.Read(buf[:])
		body = buf[:n]
	}
	fs.mu.Lock()
	key := r.Method + " " + r.URL.Path
	fs.requests = append(fs.requests, key)
	fs.bodies[key] = string(body)
	fs.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/session":
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ses_123"})
	case r.Method == http.MethodPost && r.URL.Path == "/session/ses_123/message":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"parts": []map[string]string{
				{"type": "step-start", "text": ""},
				{"type": "text", "text": "the answer"},
			},
		})
	case r.URL.Path == "/session/missing/abort":
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (fs *fakeServer) push(event string) {
	fs.mu.Lock()
	conn := fs.wsConn
	fs.mu.Unlock()
	require.NotNil(fs.t, conn, "websocket not connected yet")
	require.NoError(fs.t, conn.WriteMessage(websocket.TextMessage, []byte(event)))
}

func newConnectedClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	fs, srv := newFakeServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.wsConn != nil
	}, time.Second, 5*time.Millisecond)
	return c, fs
}

func recvEvent(t *testing.T, ch <-chan core.RuntimeEvent) core.RuntimeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runtime event")
		return core.RuntimeEvent{}
	}
}

func TestClient_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
	_, err = New("://nope")
	assert.Error(t, err)
}

func TestClient_SessionLifecycleCalls(t *testing.T) {
	c, fs := newConnectedClient(t)
	ctx := context.Background()

	id, err := c.CreateSession(ctx, "/work/project")
	require.NoError(t, err)
	assert.Equal(t, "ses_123", id)

	require.NoError(t, c.SendMessage(ctx, id, "hello"))
	require.NoError(t, c.AbortSession(ctx, id))
	require.NoError(t, c.ReplyToPermission(ctx, id, "perm-1", core.PermissionOnce))
	require.NoError(t, c.DeleteSession(ctx, id))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Contains(t, fs.requests, "POST /session")
	assert.Contains(t, fs.requests, "POST /session/ses_123/prompt")
	assert.Contains(t, fs.requests, "POST /session/ses_123/abort")
	assert.Contains(t, fs.requests, "POST /session/ses_123/permissions/perm-1")
	assert.Contains(t, fs.requests, "DELETE /session/ses_123")
	assert.Contains(t, fs.bodies["POST /session"], "/work/project")
	assert.Contains(t, fs.bodies["POST /session/ses_123/prompt"], "hello")
	assert.Contains(t, fs.bodies["POST /session/ses_123/permissions/perm-1"], "once")
}

func TestClient_SendMessageSyncJoinsTextParts(t *testing.T) {
	c, _ := newConnectedClient(t)

	reply, err := c.SendMessageSync(context.Background(), "ses_123", "question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", reply)
}

func TestClient_ServerErrorWrapsRuntimeFailure(t *testing.T) {
	c, _ := newConnectedClient(t)

	err := c.AbortSession(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRuntimeFailure)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_TranslatesEventStream(t *testing.T) {
	c, fs := newConnectedClient(t)

	fs.push(`{"type":"message.part.updated","properties":{"part":{"sessionID":"ses_123","type":"text","text":"chunk one"}}}`)
	ev := recvEvent(t, c.Events())
	assert.Equal(t, core.RuntimeMessageDelta, ev.Kind)
	assert.Equal(t, "ses_123", ev.SessionID)
	assert.Equal(t, "chunk one", ev.Text)

	// Non-text parts are skipped entirely.
	fs.push(`{"type":"message.part.updated","properties":{"part":{"sessionID":"ses_123","type":"tool","text":"ignored"}}}`)
	fs.push(`{"type":"session.status","properties":{"sessionID":"ses_123","status":"busy"}}`)
	ev = recvEvent(t, c.Events())
	assert.Equal(t, core.RuntimeSessionStatus, ev.Kind)
	assert.Equal(t, "busy", ev.Status)

	fs.push(`{"type":"permission.updated","properties":{"id":"perm-9","sessionID":"ses_123","title":"Run tests?","metadata":{"command":"go test"}}}`)
	ev = recvEvent(t, c.Events())
	assert.Equal(t, core.RuntimePermissionUpdated, ev.Kind)
	require.NotNil(t, ev.Permission)
	assert.Equal(t, "perm-9", ev.Permission.ID)
	assert.Equal(t, "Run tests?", ev.Permission.Title)
	assert.Equal(t, "go test", ev.Permission.Metadata["command"])

	fs.push(`{"type":"session.error","properties":{"sessionID":"ses_123","error":{"name":"ProviderError","data":{"message":"overloaded"}}}}`)
	ev = recvEvent(t, c.Events())
	assert.Equal(t, core.RuntimeSessionError, ev.Kind)
	assert.Equal(t, "overloaded", ev.Error)

	fs.push(`{"type":"session.idle","properties":{"sessionID":"ses_123"}}`)
	ev = recvEvent(t, c.Events())
	assert.Equal(t, core.RuntimeSessionIdle, ev.Kind)
}

func TestClient_UnknownEventsSkipped(t *testing.T) {
	c, fs := newConnectedClient(t)

	fs.push(`{"type":"lsp.diagnostics","properties":{}}`)
	fs.push(`{"type":"session.idle","properties":{"sessionID":"ses_123"}}`)

	ev := recvEvent(t, c.Events())
	assert.Equal(t, core.RuntimeSessionIdle, ev.Kind)
}

func TestClient_CloseEndsEventStream(t *testing.T) {
	c, _ := newConnectedClient(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // idempotent

	select {
	case _, open := <-c.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed after Close")
	}
}

func TestClient_CloseWithoutConnect(t *testing.T) {
	_, srv := newFakeServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	_, open := <-c.Events()
	assert.False(t, open)
}
