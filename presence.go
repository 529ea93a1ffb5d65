package loopline

import (
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing signal stays active without renewal.
const DefaultTypingTTL = 3 * time.Second

// TypingTracker derives the transient "<name> is typing" state from inbound
// typing pulses. A pulse from the current user is ignored; any other pulse
// sets the active typer and restarts the expiry timer. Renewals restart the
// timer rather than stacking. When the timer elapses the state clears.
type TypingTracker struct {
	self string
	ttl  time.Duration

	// OnChange, if set, is called with the active typer's name, or "" when
	// the signal expires. Set it before the first Observe call.
	OnChange func(name string)

	mu     sync.Mutex
	active string
	timer  *time.Timer
	gen    uint64
}

// NewTypingTracker creates a tracker for a view owned by the named user.
// ttl <= 0 selects DefaultTypingTTL.
func NewTypingTracker(selfName string, ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{self: selfName, ttl: ttl}
}

// Observe consumes one typing pulse from the channel.
func (tt *TypingTracker) Observe(ev TypingEvent) {
	if ev.Sender == "" || ev.Sender == tt.self {
		return
	}

	tt.mu.Lock()
	tt.active = ev.Sender
	// A timer that already fired may have its expiry waiting on the mutex;
	// bumping the generation makes that stale expiry a no-op.
	tt.gen++
	gen := tt.gen
	if tt.timer != nil {
		tt.timer.Stop()
	}
	tt.timer = time.AfterFunc(tt.ttl, func() { tt.expire(gen) })
	tt.mu.Unlock()

	if tt.OnChange != nil {
		tt.OnChange(ev.Sender)
	}
}

// Active returns the name of the counterpart currently typing, or "".
func (tt *TypingTracker) Active() string {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.active
}

// Stop cancels the expiry timer and clears the state. Call on view teardown.
func (tt *TypingTracker) Stop() {
	tt.mu.Lock()
	tt.gen++
	if tt.timer != nil {
		tt.timer.Stop()
		tt.timer = nil
	}
	tt.active = ""
	tt.mu.Unlock()
}

func (tt *TypingTracker) expire(gen uint64) {
	tt.mu.Lock()
	if gen != tt.gen {
		tt.mu.Unlock()
		return
	}
	tt.active = ""
	tt.timer = nil
	tt.mu.Unlock()

	if tt.OnChange != nil {
		tt.OnChange("")
	}
}
