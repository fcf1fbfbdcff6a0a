package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/testutil"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades every request and answers each received envelope with
// an "echo:<event>" envelope carrying the same data.
type echoServer struct {
	*httptest.Server
	connects atomic.Int32
	authz    atomic.Value

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	es := &echoServer{}
	upgrader := websocket.Upgrader{}

	es.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.authz.Store(r.Header.Get("Authorization"))
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		es.connects.Add(1)
		es.mu.Lock()
		es.conns = append(es.conns, ws)
		es.mu.Unlock()

		go func() {
			defer ws.Close()
			for {
				_, raw, err := ws.ReadMessage()
				if err != nil {
					return
				}
				var env protocol.Envelope
				if err := json.Unmarshal(raw, &env); err != nil {
					continue
				}
				env.Event = "echo:" + env.Event
				out, _ := json.Marshal(env)
				if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(es.Close)
	return es
}

// dropAll closes every server side socket without a close handshake.
func (es *echoServer) dropAll() {
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, c := range es.conns {
		c.UnderlyingConn().Close()
	}
	es.conns = nil
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testSession(id string) types.Session {
	return types.Session{UserId: id, Username: "user-" + id, Token: "token-" + id}
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	assert.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, 10*time.Millisecond,
		"expected state %s, got %s", want, m.State())
}

func TestManager_ConnectEmitSubscribe(t *testing.T) {
	es := newEchoServer(t)
	m := NewManager(wsURL(es.Server), testutil.TestLogger(t))
	defer m.Disconnect()

	got := make(chan protocol.RoomRef, 1)
	unsub := m.Subscribe("echo:"+protocol.EventJoinRoom, func(env *protocol.Envelope) {
		var ref protocol.RoomRef
		if err := env.Decode(&ref); err == nil {
			got <- ref
		}
	})
	defer unsub()

	require.NoError(t, m.Connect(context.Background(), testSession("u1")))
	waitForState(t, m, Connected)
	assert.Equal(t, "Bearer token-u1", es.authz.Load(), "expected bearer token on handshake")

	require.NoError(t, m.Emit(protocol.EventJoinRoom, protocol.RoomRef{RoomId: "b1", UserId: "u1"}))

	select {
	case ref := <-got:
		assert.Equal(t, protocol.RoomRef{RoomId: "b1", UserId: "u1"}, ref)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: no echo received")
	}
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	es := newEchoServer(t)
	m := NewManager(wsURL(es.Server), testutil.TestLogger(t))
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background(), testSession("u1")))
	require.NoError(t, m.Connect(context.Background(), testSession("u1")))
	waitForState(t, m, Connected)
	assert.Equal(t, int32(1), es.connects.Load(), "expected a single connection for the same session")

	require.NoError(t, m.Connect(context.Background(), testSession("u2")))
	waitForState(t, m, Connected)
	assert.Equal(t, int32(2), es.connects.Load(), "expected a new connection for a different identity")

	s, ok := m.Session()
	assert.True(t, ok)
	assert.Equal(t, "u2", s.UserId)
}

func TestManager_EmitWhileDisconnected(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws", testutil.TestLogger(t))
	err := m.Emit(protocol.EventRequestActiveUsers, protocol.RoomRef{RoomId: "b1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_ConnectRequiresSession(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws", testutil.TestLogger(t))
	err := m.Connect(context.Background(), types.Session{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_ConnectDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewManager(wsURL(srv), testutil.TestLogger(t))
	err := m.Connect(context.Background(), testSession("u1"))
	assert.Error(t, err, "expected handshake rejection to fail Connect")
	assert.Equal(t, Disconnected, m.State())

	_, ok := m.Session()
	assert.False(t, ok, "expected no session after failed connect")
}

func TestManager_Disconnect(t *testing.T) {
	es := newEchoServer(t)
	m := NewManager(wsURL(es.Server), testutil.TestLogger(t))

	var states []State
	var mu sync.Mutex
	cancel := m.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer cancel()

	require.NoError(t, m.Connect(context.Background(), testSession("u1")))
	waitForState(t, m, Connected)

	m.Disconnect()
	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, m.Emit(protocol.EventLeaveRoom, nil), ErrNotConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Connected, Disconnected}, states)

	// a second disconnect is a no-op
	m.Disconnect()
}

func TestManager_Reconnects(t *testing.T) {
	es := newEchoServer(t)
	m := NewManager(wsURL(es.Server), testutil.TestLogger(t), WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	defer m.Disconnect()

	reconnected := make(chan struct{}, 4)
	cancel := m.OnStateChange(func(s State) {
		if s == Connected {
			reconnected <- struct{}{}
		}
	})
	defer cancel()

	require.NoError(t, m.Connect(context.Background(), testSession("u1")))
	<-reconnected

	es.dropAll()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: manager did not reconnect")
	}
	assert.Equal(t, int32(2), es.connects.Load(), "expected a second handshake after the drop")
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager("ws://unused", testutil.TestLogger(t))

	var calls int
	unsub := m.Subscribe(protocol.EventUserJoined, func(*protocol.Envelope) { calls++ })
	m.dispatch(&protocol.Envelope{Event: protocol.EventUserJoined})
	unsub()
	m.dispatch(&protocol.Envelope{Event: protocol.EventUserJoined})

	assert.Equal(t, 1, calls, "expected handler to stop receiving after unsubscribe")
	assert.NotContains(t, m.handlers, protocol.EventUserJoined, "expected empty handler set to be removed")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
}
