package loopline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BufferName names one of the two rendered message runs.
type BufferName string

const (
	BufferBacklog BufferName = "backlog"
	BufferLive    BufferName = "live"
)

// TimelineEntry is one render-ready message, keyed by (buffer, position) so
// rendering stays stable even when identifiers collide across buffers.
type TimelineEntry struct {
	Key     string
	Buffer  BufferName
	Message Message
}

// Timeline produces the single ordered message sequence rendered for an open
// conversation. It holds two independent runs: the backlog seeded from the
// history fetch, and the live run appended from channel events. The backlog
// always renders before the live run regardless of timestamps, and within
// each run the order is strict arrival order.
//
// No de-duplication is performed across the runs. A message echoed
// optimistically into the live run and later returned by a backlog refetch
// renders twice; that matches the production behavior and is kept rather
// than silently merged away.
type Timeline struct {
	mu      sync.Mutex
	backlog []Message
	live    []Message
}

// NewTimeline creates an empty timeline. One timeline belongs to exactly one
// conversation view; views never share one.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Seed replaces the backlog run with the fetched history, preserving server
// order. The live run is untouched.
func (t *Timeline) Seed(backlog []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backlog = append(t.backlog[:0], backlog...)
}

// Append adds a channel-delivered message to the live run.
func (t *Timeline) Append(m Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = append(t.live, m)
}

// AppendLocal optimistically renders a message the current user just sent,
// before the server confirms it. The returned copy carries a client-local id
// in ClientID; the server-assigned ID stays empty until the persisted copy
// arrives through some later fetch.
func (t *Timeline) AppendLocal(conversationID, body string, sender, recipient UserSummary) Message {
	m := Message{
		ClientID:       uuid.NewString(),
		ConversationID: conversationID,
		Body:           body,
		Sender:         sender,
		Recipient:      recipient,
		CreatedAt:      time.Now(),
	}
	t.Append(m)
	return m
}

// Entries returns the full rendered sequence: the backlog run, then the live
// run.
func (t *Timeline) Entries() []TimelineEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TimelineEntry, 0, len(t.backlog)+len(t.live))
	for i, m := range t.backlog {
		out = append(out, TimelineEntry{
			Key:     entryKey(BufferBacklog, i),
			Buffer:  BufferBacklog,
			Message: m,
		})
	}
	for i, m := range t.live {
		out = append(out, TimelineEntry{
			Key:     entryKey(BufferLive, i),
			Buffer:  BufferLive,
			Message: m,
		})
	}
	return out
}

// Len returns the total rendered message count.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.backlog) + len(t.live)
}

func entryKey(buf BufferName, pos int) string {
	return fmt.Sprintf("%s:%d", buf, pos)
}
