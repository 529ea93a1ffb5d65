package loopline

import (
	"context"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestUnreadCountDerivation(t *testing.T) {
	msgs := []Message{
		{Body: "theirs unread", Read: false, Sender: UserSummary{ID: "u-ana"}},
		{Body: "theirs read", Read: true, Sender: UserSummary{ID: "u-ana"}},
		{Body: "mine unread", Read: false, Sender: UserSummary{ID: "u-self"}},
		{Body: "theirs unread 2", Read: false, Sender: UserSummary{ID: "u-ana"}},
	}
	if got := UnreadCount(msgs, "u-self"); got != 2 {
		t.Errorf("UnreadCount = %d, want 2", got)
	}
	if got := UnreadCount(nil, "u-self"); got != 0 {
		t.Errorf("UnreadCount(nil) = %d, want 0", got)
	}
}

func TestActivateViewSendsMarkRead(t *testing.T) {
	s := newWSServer(t)
	ch := s.client(t).Channel(ConversationTarget("c-1"), nil)
	states := make(chan ChannelState, 16)
	ch.OnStateChange(func(st ChannelState) { states <- st })
	ch.Connect(context.Background())
	defer ch.Close()

	conn := s.waitConn(t)
	expectState(t, states, StateOpen)

	rs := NewReadSync(ch)
	rs.ActivateView()

	frame := readFrame(t, conn)
	if frame["event"] != "mark_read" {
		t.Errorf("event = %v", frame["event"])
	}
}

func TestActivateOnOpenReachesServer(t *testing.T) {
	s := newWSServer(t)
	ch := s.client(t).Channel(ConversationTarget("c-1"), nil)

	// Views mark the backlog read from the open transition, not from some
	// point after Connect returns: Connect is asynchronous, and a send
	// issued while the channel is still connecting is dropped.
	rs := NewReadSync(ch)
	ch.OnStateChange(func(st ChannelState) {
		if st == StateOpen {
			rs.ActivateView()
		}
	})
	ch.Connect(context.Background())
	defer ch.Close()

	conn := s.waitConn(t)
	frame := readFrame(t, conn)
	if frame["event"] != "mark_read" {
		t.Errorf("event = %v", frame["event"])
	}

	// The same wiring re-marks the conversation after a reconnect.
	conn.Close(websocket.StatusInternalError, "boom")
	conn2 := s.waitConn(t)
	frame = readFrame(t, conn2)
	if frame["event"] != "mark_read" {
		t.Errorf("event after reconnect = %v", frame["event"])
	}
}

func TestScrolledThreshold(t *testing.T) {
	s := newWSServer(t)
	ch := s.client(t).Channel(ConversationTarget("c-1"), nil)
	states := make(chan ChannelState, 16)
	ch.OnStateChange(func(st ChannelState) { states <- st })
	ch.Connect(context.Background())
	defer ch.Close()

	conn := s.waitConn(t)
	expectState(t, states, StateOpen)

	rs := NewReadSync(ch)

	// Above the threshold nothing is sent.
	rs.Scrolled(ReadScrollThreshold + 1)

	// At the threshold the conversation counts as viewed.
	rs.Scrolled(ReadScrollThreshold)

	frame := readFrame(t, conn)
	if frame["event"] != "mark_read" {
		t.Errorf("event = %v", frame["event"])
	}

	// Exactly one frame: the out-of-threshold scroll sent nothing.
	readCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, _, err := conn.Read(readCtx); err == nil {
		t.Error("unexpected second frame")
	}
}

func TestUnreadReachesZeroAfterRoundTrip(t *testing.T) {
	cache := NewCache()
	cache.PutConversation(Conversation{
		ID: "c-1",
		Messages: []Message{
			{Body: "a", Read: false, Sender: UserSummary{ID: "u-ana"}},
			{Body: "b", Read: false, Sender: UserSummary{ID: "u-ana"}},
		},
	})
	if got := cache.UnreadCount("c-1", "u-self"); got != 2 {
		t.Fatalf("initial unread = %d", got)
	}

	// messages_marked_read arrives: the count is not mutated locally, the
	// entry is invalidated and refetched.
	cache.Invalidate("c-1")
	if !cache.Stale("c-1") {
		t.Fatal("conversation not marked stale")
	}
	if got := cache.UnreadCount("c-1", "u-self"); got != 2 {
		t.Errorf("unread mutated locally: %d", got)
	}

	// The refetch returns the authoritative read-set.
	cache.PutConversation(Conversation{
		ID: "c-1",
		Messages: []Message{
			{Body: "a", Read: true, Sender: UserSummary{ID: "u-ana"}},
			{Body: "b", Read: true, Sender: UserSummary{ID: "u-ana"}},
		},
	})
	if cache.Stale("c-1") {
		t.Error("refetch did not clear staleness")
	}
	if got := cache.UnreadCount("c-1", "u-self"); got != 0 {
		t.Errorf("unread after round trip = %d, want 0", got)
	}
}

func TestTotalUnread(t *testing.T) {
	cache := NewCache()
	cache.PutConversations([]Conversation{
		{ID: "c-1", Messages: []Message{
			{Read: false, Sender: UserSummary{ID: "u-ana"}},
		}},
		{ID: "c-2", Messages: []Message{
			{Read: false, Sender: UserSummary{ID: "u-bo"}},
			{Read: false, Sender: UserSummary{ID: "u-self"}},
		}},
	})
	if got := cache.TotalUnread("u-self"); got != 2 {
		t.Errorf("TotalUnread = %d, want 2", got)
	}
}
