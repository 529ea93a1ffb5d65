package loopline

// Invalidator marks a cached conversation stale so its next read refetches
// from the server. The Cache implements it; view layers may wrap their own
// query cache instead.
type Invalidator interface {
	Invalidate(conversationID string)
}

// ReadScrollThreshold is how close (in pixels) to the bottom edge the message
// list must be scrolled before the conversation counts as viewed.
const ReadScrollThreshold = 50

// UnreadCount derives the unread count from a message set: messages not yet
// read whose sender is someone other than the current user.
func UnreadCount(msgs []Message, selfID string) int {
	n := 0
	for _, m := range msgs {
		if !m.Read && m.Sender.ID != selfID {
			n++
		}
	}
	return n
}

// ReadSync keeps server-side read state consistent with user attention for
// one open conversation. It emits mark_read over the conversation's channel;
// the server answers on the notification channel with messages_marked_read,
// at which point consumers invalidate derived counts rather than mutating
// them locally.
type ReadSync struct {
	ch *Channel
}

// NewReadSync binds a synchronizer to an open conversation's channel.
func NewReadSync(ch *Channel) *ReadSync {
	return &ReadSync{ch: ch}
}

// ActivateView reports that the conversation view just became visible.
// Always emits mark_read.
func (rs *ReadSync) ActivateView() {
	rs.ch.SendMarkRead()
}

// Scrolled reports the message list's distance from its bottom edge after a
// scroll. Within the threshold the conversation counts as viewed.
func (rs *ReadSync) Scrolled(distanceFromBottom int) {
	if distanceFromBottom <= ReadScrollThreshold {
		rs.ch.SendMarkRead()
	}
}
