package loopline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// WebSocket test server
// ============================================================================

type wsServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	paths chan string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		conns: make(chan *websocket.Conn, 8),
		paths: make(chan string, 8),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.paths <- r.URL.Path
		s.conns <- c
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) client(t *testing.T) *Client {
	t.Helper()
	return NewClient(testSession(), WithBaseURL(s.srv.URL))
}

func (s *wsServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return frame
}

func expectState(t *testing.T, states <-chan ChannelState, want ChannelState) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

// ============================================================================
// Tests
// ============================================================================

func TestChannelDialsConversationPath(t *testing.T) {
	s := newWSServer(t)
	ch := s.client(t).Channel(ConversationTarget("c-1"), nil)
	ch.Connect(context.Background())
	defer ch.Close()

	s.waitConn(t)
	select {
	case p := <-s.paths:
		if p != "/ws/conversations/c-1" {
			t.Errorf("path = %q", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no path recorded")
	}
}

func TestChannelReconnectsAfterAbnormalClose(t *testing.T) {
	s := newWSServer(t)
	ch := s.client(t).Channel(ConversationTarget("c-1"), nil)

	states := make(chan ChannelState, 16)
	ch.OnStateChange(func(st ChannelState) { states <- st })

	ch.Connect(context.Background())
	defer ch.Close()

	conn1 := s.waitConn(t)
	expectState(t, states, StateOpen)

	// Server drops the connection abruptly. The same channel must come back
	// without the caller re-instantiating it.
	conn1.Close(websocket.StatusInternalError, "boom")

	expectState(t, states, StateConnecting)
	s.waitConn(t)
	expectState(t, states, StateOpen)
}

func TestConnectWithoutTokenIsNoop(t *testing.T) {
	s := newWSServer(t)
	client := NewClient(&Session{}, WithBaseURL(s.srv.URL))
	ch := client.Channel(ConversationTarget("c-1"), nil)

	ch.Connect(context.Background())
	time.Sleep(100 * time.Millisecond)

	if st := ch.State(); st != StateIdle {
		t.Errorf("state = %q, want idle", st)
	}
	select {
	case <-s.conns:
		t.Fatal("channel connected without a token")
	default:
	}
}

func TestSendDroppedWhenNotOpen(t *testing.T) {
	client := NewClient(testSession(), WithBaseURL("http://127.0.0.1:1"))
	ch := client.Channel(ConversationTarget("c-1"), nil)

	// Must not panic or block; the caller's input loop keeps running.
	ch.Send(EventMessage, Message{Body: "lost"})
	ch.SendMarkRead()

	if st := ch.State(); st != StateIdle {
		t.Errorf("state = %q, want idle", st)
	}
}

func TestSendWritesEnvelope(t *testing.T) {
	s := newWSServer(t)
	ch := s.client(t).Channel(ConversationTarget("c-1"), nil)
	states := make(chan ChannelState, 16)
	ch.OnStateChange(func(st ChannelState) { states <- st })
	ch.Connect(context.Background())
	defer ch.Close()

	conn := s.waitConn(t)
	expectState(t, states, StateOpen)

	ch.SendMarkRead()

	frame := readFrame(t, conn)
	if frame["event"] != "mark_read" {
		t.Errorf("event = %v", frame["event"])
	}
	data, ok := frame["data"].(map[string]interface{})
	if !ok || data["conversationId"] != "c-1" {
		t.Errorf("data = %v", frame["data"])
	}
}

func TestInboundDispatchPreservesArrivalOrder(t *testing.T) {
	s := newWSServer(t)
	ch := s.client(t).Channel(ConversationTarget("c-1"), nil)

	var mu sync.Mutex
	var bodies []string
	var typers []string
	done := make(chan struct{}, 8)

	ch.OnMessage(func(m Message) {
		mu.Lock()
		bodies = append(bodies, m.Body)
		mu.Unlock()
		done <- struct{}{}
	})
	ch.OnTyping(func(ev TypingEvent) {
		mu.Lock()
		typers = append(typers, ev.Sender)
		mu.Unlock()
		done <- struct{}{}
	})

	states := make(chan ChannelState, 16)
	ch.OnStateChange(func(st ChannelState) { states <- st })
	ch.Connect(context.Background())
	defer ch.Close()

	conn := s.waitConn(t)
	expectState(t, states, StateOpen)

	// Inbound frames are flattened: the discriminator sits next to the
	// payload fields. An unknown kind in the middle must be skipped without
	// disturbing later events.
	writeFrame(t, conn, map[string]interface{}{"event": "message", "conversationId": "c-1", "body": "first"})
	writeFrame(t, conn, map[string]interface{}{"event": "typing", "conversationId": "c-1", "sender": "Ana"})
	writeFrame(t, conn, map[string]interface{}{"event": "reaction_added", "emoji": "+1"})
	writeFrame(t, conn, map[string]interface{}{"event": "message", "conversationId": "c-1", "body": "second"})

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != "first" || bodies[1] != "second" {
		t.Errorf("message order = %v", bodies)
	}
	if len(typers) != 1 || typers[0] != "Ana" {
		t.Errorf("typing events = %v", typers)
	}
}

func TestCloseStopsReconnecting(t *testing.T) {
	s := newWSServer(t)
	ch := s.client(t).Channel(ConversationTarget("c-1"), nil)
	states := make(chan ChannelState, 16)
	ch.OnStateChange(func(st ChannelState) { states <- st })
	ch.Connect(context.Background())

	s.waitConn(t)
	expectState(t, states, StateOpen)

	ch.Close()
	if st := ch.State(); st != StateClosed {
		t.Errorf("state = %q, want closed", st)
	}

	select {
	case <-s.conns:
		t.Fatal("channel reconnected after Close")
	case <-time.After(300 * time.Millisecond):
	}

	// Connect after Close stays a no-op.
	ch.Connect(context.Background())
	select {
	case <-s.conns:
		t.Fatal("closed channel reconnected")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMaxReconnectAttempts(t *testing.T) {
	// Nothing listens on this port; every dial fails fast.
	client := NewClient(testSession(), WithBaseURL("http://127.0.0.1:1"))
	ch := client.Channel(ConversationTarget("c-1"), &ChannelConfig{
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 3,
		DialTimeout:          200 * time.Millisecond,
	})

	states := make(chan ChannelState, 16)
	ch.OnStateChange(func(st ChannelState) { states <- st })
	ch.Connect(context.Background())
	defer ch.Close()

	expectState(t, states, StateConnecting)
	expectState(t, states, StateIdle)
}
