package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	connects atomic.Int32

	mu      sync.Mutex
	conns   []*websocket.Conn
	headers []http.Header
	queries []string
	got     chan []byte
}

func newTestServer(t *testing.T, greeting string) *testServer {
	t.Helper()
	ts := &testServer{got: make(chan []byte, 16)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.connects.Add(1)
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.headers = append(ts.headers, r.Header.Clone())
		ts.queries = append(ts.queries, r.URL.RawQuery)
		ts.mu.Unlock()

		if greeting != "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(greeting))
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.got <- data
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat/"
}

// dropAll closes every server-side socket without a close handshake.
func (ts *testServer) dropAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		c.UnderlyingConn().Close()
	}
	ts.conns = nil
}

func waitFor(t *testing.T, m *Manager, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for connection event")
			return Event{}
		}
	}
}

func isState(s State) func(Event) bool {
	return func(ev Event) bool { return ev.Kind == EventState && ev.State == s }
}

func TestManager_OpenReceivesFrames(t *testing.T) {
	ts := newTestServer(t, `{"type":"connection","message":"hi","user":"ann"}`)
	m := New(ts.wsURL(), WithToken("secret"))
	defer m.Close()

	assert.Equal(t, StateDisconnected, m.State())
	m.Open()

	waitFor(t, m, isState(StateConnecting))
	waitFor(t, m, isState(StateOpen))
	frame := waitFor(t, m, func(ev Event) bool { return ev.Kind == EventFrame })
	assert.JSONEq(t, `{"type":"connection","message":"hi","user":"ann"}`, string(frame.Data))

	ts.mu.Lock()
	assert.Equal(t, "Bearer secret", ts.headers[0].Get("Authorization"))
	assert.Equal(t, "token=secret", ts.queries[0])
	ts.mu.Unlock()
}

func TestManager_SendWhileOpen(t *testing.T) {
	ts := newTestServer(t, "")
	m := New(ts.wsURL())
	defer m.Close()

	m.Open()
	waitFor(t, m, isState(StateOpen))
	require.NoError(t, m.Send([]byte(`{"type":"load_history","conversation_id":1}`)))

	select {
	case got := <-ts.got:
		assert.Equal(t, `{"type":"load_history","conversation_id":1}`, string(got))
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive frame")
	}
}

func TestManager_SendWhileClosedFails(t *testing.T) {
	m := New("ws://127.0.0.1:1/ws/chat/")
	defer m.Close()
	assert.ErrorIs(t, m.Send([]byte("x")), ErrNotOpen)
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	ts := newTestServer(t, "")
	m := New(ts.wsURL(), WithPolicy(ReconnectPolicy{Delay: 20 * time.Millisecond}))
	defer m.Close()

	m.Open()
	waitFor(t, m, isState(StateOpen))

	ts.dropAll()
	errEv := waitFor(t, m, func(ev Event) bool { return ev.Kind == EventError })
	assert.Error(t, errEv.Err)
	waitFor(t, m, isState(StateDisconnected))
	waitFor(t, m, isState(StateConnecting))
	waitFor(t, m, isState(StateOpen))

	assert.Equal(t, int32(2), ts.connects.Load())
}

func TestManager_ManualOpenCancelsScheduledRetry(t *testing.T) {
	ts := newTestServer(t, "")
	m := New(ts.wsURL(), WithPolicy(ReconnectPolicy{Delay: 150 * time.Millisecond}))
	defer m.Close()

	m.Open()
	waitFor(t, m, isState(StateOpen))

	ts.dropAll()
	waitFor(t, m, isState(StateDisconnected))

	m.Open()
	waitFor(t, m, isState(StateOpen))

	// Outlive the first retry delay: no third connection may appear.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(2), ts.connects.Load())
	assert.Equal(t, StateOpen, m.State())
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	m := New("ws://127.0.0.1:1/ws/chat/", WithPolicy(ReconnectPolicy{Delay: 10 * time.Millisecond, MaxAttempts: 2}))
	defer m.Close()

	m.Open()
	failures := 0
	timeout := time.After(3 * time.Second)
	for failures < 3 {
		select {
		case ev := <-m.Events():
			if ev.Kind == EventError {
				failures++
			}
		case <-timeout:
			t.Fatalf("saw %d failures, want 3", failures)
		}
	}

	select {
	case ev := <-m.Events():
		if ev.Kind == EventState && ev.State == StateConnecting {
			t.Fatal("retried beyond MaxAttempts")
		}
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_CloseStopsReconnecting(t *testing.T) {
	ts := newTestServer(t, "")
	m := New(ts.wsURL(), WithPolicy(ReconnectPolicy{Delay: 20 * time.Millisecond}))

	m.Open()
	waitFor(t, m, isState(StateOpen))
	m.Close()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), ts.connects.Load())
	assert.Equal(t, StateDisconnected, m.State())
	assert.ErrorIs(t, m.Send([]byte("x")), ErrNotOpen)
}

func TestReconnectPolicy_DelayFor(t *testing.T) {
	tests := []struct {
		name    string
		policy  ReconnectPolicy
		attempt int
		want    time.Duration
		ok      bool
	}{
		{"constant", DefaultReconnectPolicy(), 5, 3 * time.Second, true},
		{"backoff", ReconnectPolicy{Delay: time.Second, Multiplier: 2}, 3, 4 * time.Second, true},
		{"capped", ReconnectPolicy{Delay: time.Second, Multiplier: 10, MaxDelay: 5 * time.Second}, 4, 5 * time.Second, true},
		{"within limit", ReconnectPolicy{Delay: time.Second, MaxAttempts: 2}, 2, time.Second, true},
		{"exhausted", ReconnectPolicy{Delay: time.Second, MaxAttempts: 2}, 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.policy.delayFor(tt.attempt)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
