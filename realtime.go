package loopline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Targets & Configuration
// ============================================================================

// ChannelTarget identifies the endpoint a Channel binds to: either a single
// conversation, or the session-wide notification stream.
type ChannelTarget struct {
	conversationID string
	notifications  bool
}

// ConversationTarget binds a channel to one conversation's live stream.
func ConversationTarget(conversationID string) ChannelTarget {
	return ChannelTarget{conversationID: conversationID}
}

// NotificationTarget binds a channel to the session-wide notification stream.
func NotificationTarget() ChannelTarget {
	return ChannelTarget{notifications: true}
}

// ConversationID returns the bound conversation id, or "" for the
// notification target.
func (t ChannelTarget) ConversationID() string {
	return t.conversationID
}

func (t ChannelTarget) String() string {
	if t.notifications {
		return "notifications"
	}
	return "conversation/" + t.conversationID
}

func (t ChannelTarget) path() string {
	if t.notifications {
		return "/ws/notifications"
	}
	return "/ws/conversations/" + t.conversationID
}

// ChannelConfig configures channel behavior. The zero value matches the
// production contract: redial immediately and indefinitely after any drop.
type ChannelConfig struct {
	// ReconnectDelay is the pause between reconnect attempts. Zero means
	// immediate retry.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts caps consecutive failed dials. Zero means
	// unlimited; the counter resets on every successful handshake.
	MaxReconnectAttempts int
	// DialTimeout bounds a single handshake attempt.
	DialTimeout time.Duration
	// SendTimeout bounds a single outbound write so callers never block.
	SendTimeout time.Duration
}

func (c *ChannelConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 5 * time.Second
	}
}

// ChannelState is the connection lifecycle state.
type ChannelState string

const (
	StateIdle       ChannelState = "idle"
	StateConnecting ChannelState = "connecting"
	StateOpen       ChannelState = "open"
	StateClosed     ChannelState = "closed"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// GenericHandler receives the raw frame for any event kind.
type GenericHandler func(kind string, raw json.RawMessage)

type channelDispatcher struct {
	mu             sync.RWMutex
	onMessage      []func(Message)
	onTyping       []func(TypingEvent)
	onNotification []func(NotificationEvent)
	onMarkedRead   []func(MarkedReadEvent)
	onState        []func(ChannelState)
	generic        map[string][]GenericHandler
}

func newChannelDispatcher() *channelDispatcher {
	return &channelDispatcher{generic: make(map[string][]GenericHandler)}
}

// Handlers run synchronously on the read loop goroutine so every subscriber
// observes events in the exact order the channel received them.
func (d *channelDispatcher) dispatchMessage(m Message) {
	d.mu.RLock()
	handlers := d.onMessage
	d.mu.RUnlock()
	for _, h := range handlers {
		h(m)
	}
}

func (d *channelDispatcher) dispatchTyping(ev TypingEvent) {
	d.mu.RLock()
	handlers := d.onTyping
	d.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (d *channelDispatcher) dispatchNotification(ev NotificationEvent) {
	d.mu.RLock()
	handlers := d.onNotification
	d.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (d *channelDispatcher) dispatchMarkedRead(ev MarkedReadEvent) {
	d.mu.RLock()
	handlers := d.onMarkedRead
	d.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (d *channelDispatcher) dispatchGeneric(kind string, raw json.RawMessage) {
	d.mu.RLock()
	handlers := d.generic[kind]
	d.mu.RUnlock()
	for _, h := range handlers {
		h(kind, raw)
	}
}

func (d *channelDispatcher) emitState(s ChannelState) {
	d.mu.RLock()
	handlers := d.onState
	d.mu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

// ============================================================================
// Channel
// ============================================================================

// Channel owns one persistent bidirectional connection to a single target
// and re-establishes it automatically whenever it drops. Inbound frames are
// kind-tagged; unrecognized kinds are ignored. Transport failures never
// escape the channel: they are logged and absorbed by the reconnect loop.
type Channel struct {
	baseURL    string
	target     ChannelTarget
	session    *Session
	cfg        ChannelConfig
	log        zerolog.Logger
	dispatcher *channelDispatcher

	mu      sync.Mutex
	state   ChannelState
	conn    *websocket.Conn
	cancel  context.CancelFunc
	started bool
}

// Channel creates a channel bound to the given target. Call Connect to start
// it. cfg may be nil for the default relentless-reconnect behavior.
func (c *Client) Channel(target ChannelTarget, cfg *ChannelConfig) *Channel {
	var conf ChannelConfig
	if cfg != nil {
		conf = *cfg
	}
	conf.defaults()
	return &Channel{
		baseURL:    c.baseURL,
		target:     target,
		session:    c.session,
		cfg:        conf,
		log:        c.log.With().Str("channel", target.String()).Logger(),
		dispatcher: newChannelDispatcher(),
		state:      StateIdle,
	}
}

// Target returns the bound target.
func (ch *Channel) Target() ChannelTarget {
	return ch.target
}

// State returns the current lifecycle state.
func (ch *Channel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// OnMessage registers a handler for inbound chat messages.
func (ch *Channel) OnMessage(h func(Message)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onMessage = append(ch.dispatcher.onMessage, h)
	ch.dispatcher.mu.Unlock()
}

// OnTyping registers a handler for typing presence pulses.
func (ch *Channel) OnTyping(h func(TypingEvent)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onTyping = append(ch.dispatcher.onTyping, h)
	ch.dispatcher.mu.Unlock()
}

// OnNotification registers a handler for new-message notifications.
func (ch *Channel) OnNotification(h func(NotificationEvent)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onNotification = append(ch.dispatcher.onNotification, h)
	ch.dispatcher.mu.Unlock()
}

// OnMarkedRead registers a handler for server read-state confirmations.
func (ch *Channel) OnMarkedRead(h func(MarkedReadEvent)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onMarkedRead = append(ch.dispatcher.onMarkedRead, h)
	ch.dispatcher.mu.Unlock()
}

// OnStateChange registers an observer for lifecycle transitions.
func (ch *Channel) OnStateChange(h func(ChannelState)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onState = append(ch.dispatcher.onState, h)
	ch.dispatcher.mu.Unlock()
}

// On registers a generic handler for a raw event kind.
func (ch *Channel) On(kind string, h GenericHandler) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.generic[kind] = append(ch.dispatcher.generic[kind], h)
	ch.dispatcher.mu.Unlock()
}

// Connect starts the connection loop. Without a session token it is a no-op:
// missing auth disables the channel rather than erroring. Connect returns
// immediately; observe OnStateChange for progress. Calling Connect on a
// started or closed channel does nothing.
func (ch *Channel) Connect(ctx context.Context) {
	if !ch.session.Authenticated() {
		ch.log.Debug().Msg("no session token, channel disabled")
		return
	}

	ch.mu.Lock()
	if ch.started || ch.state == StateClosed {
		ch.mu.Unlock()
		return
	}
	ch.started = true
	runCtx, cancel := context.WithCancel(ctx)
	ch.cancel = cancel
	ch.mu.Unlock()

	go ch.run(runCtx)
}

// Close releases the connection and stops reconnecting. The channel cannot
// be reused afterwards; the owning view constructs a fresh one.
func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.state == StateClosed {
		ch.mu.Unlock()
		return
	}
	ch.state = StateClosed
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	conn := ch.conn
	ch.conn = nil
	ch.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "teardown")
	}
	ch.dispatcher.emitState(StateClosed)
	ch.log.Debug().Msg("channel closed")
}

// Send marshals {"event": kind, "data": payload} onto the wire. It never
// returns an error: sends on a channel that is not open are dropped with a
// log line so the caller's input loop is never blocked by connectivity.
func (ch *Channel) Send(kind string, data interface{}) {
	ch.mu.Lock()
	conn := ch.conn
	state := ch.state
	ch.mu.Unlock()

	if state != StateOpen || conn == nil {
		ch.log.Warn().Str("event", kind).Str("state", string(state)).Msg("channel not open, dropping send")
		return
	}

	b, err := json.Marshal(Envelope{Event: kind, Data: data})
	if err != nil {
		ch.log.Warn().Err(err).Str("event", kind).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ch.cfg.SendTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		ch.log.Warn().Err(err).Str("event", kind).Msg("send failed")
	}
}

// SendMessage sends a chat message on a conversation channel.
func (ch *Channel) SendMessage(m Message) {
	ch.Send(EventMessage, m)
}

// SendTyping emits a typing pulse for the bound conversation. Senders flood
// one pulse per keystroke; the receiving side does all the smoothing.
func (ch *Channel) SendTyping(sender string) {
	ch.Send(EventTyping, TypingEvent{
		ConversationID: ch.target.conversationID,
		Sender:         sender,
	})
}

// SendMarkRead tells the server the bound conversation has been viewed.
func (ch *Channel) SendMarkRead() {
	ch.Send(EventMarkRead, map[string]string{
		"conversationId": ch.target.conversationID,
	})
}

// ============================================================================
// Connection loop
// ============================================================================

func (ch *Channel) run(ctx context.Context) {
	attempts := 0
	for {
		if ctx.Err() != nil || ch.State() == StateClosed {
			return
		}

		ch.setState(StateConnecting)

		conn, err := ch.dial(ctx)
		if err != nil {
			if ch.State() == StateClosed {
				return
			}
			attempts++
			ch.log.Debug().Err(err).Int("attempt", attempts).Msg("dial failed")
			if ch.cfg.MaxReconnectAttempts > 0 && attempts >= ch.cfg.MaxReconnectAttempts {
				ch.log.Warn().Int("attempts", attempts).Msg("reconnect attempts exhausted")
				ch.setState(StateIdle)
				return
			}
			if !sleepCtx(ctx, ch.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		attempts = 0
		ch.mu.Lock()
		if ch.state == StateClosed {
			ch.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "teardown")
			return
		}
		ch.conn = conn
		ch.mu.Unlock()
		ch.setState(StateOpen)
		ch.log.Debug().Msg("channel open")

		ch.readLoop(ctx, conn)

		ch.mu.Lock()
		ch.conn = nil
		closed := ch.state == StateClosed
		ch.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		// Abnormal close: fall through and redial.
		ch.log.Debug().Msg("connection dropped, reconnecting")
	}
}

func (ch *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := httpToWS(ch.baseURL) + ch.target.path() + "?token=" + ch.session.Token

	dialCtx, cancel := context.WithTimeout(ctx, ch.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	return conn, err
}

func (ch *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		ch.handleFrame(data)
	}
}

// handleFrame decodes one inbound frame. The event discriminator sits next
// to the flattened payload fields, so the matched payload type re-unmarshals
// the whole frame. Malformed frames and unknown kinds are dropped, never
// surfaced.
func (ch *Channel) handleFrame(data []byte) {
	var frame struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		ch.log.Debug().Msg("ignoring malformed frame")
		return
	}

	switch frame.Event {
	case EventMessage:
		var m Message
		if json.Unmarshal(data, &m) == nil {
			ch.dispatcher.dispatchMessage(m)
		}
	case EventTyping:
		var ev TypingEvent
		if json.Unmarshal(data, &ev) == nil {
			ch.dispatcher.dispatchTyping(ev)
		}
	case EventNewMessageNotification:
		var ev NotificationEvent
		if json.Unmarshal(data, &ev) == nil {
			ch.dispatcher.dispatchNotification(ev)
		}
	case EventMessagesMarkedRead:
		var ev MarkedReadEvent
		if json.Unmarshal(data, &ev) == nil {
			ch.dispatcher.dispatchMarkedRead(ev)
		}
	default:
		ch.log.Debug().Str("event", frame.Event).Msg("ignoring unknown event kind")
	}

	ch.dispatcher.dispatchGeneric(frame.Event, data)
}

func (ch *Channel) setState(s ChannelState) {
	ch.mu.Lock()
	if ch.state == s || ch.state == StateClosed {
		ch.mu.Unlock()
		return
	}
	ch.state = s
	ch.mu.Unlock()
	ch.dispatcher.emitState(s)
}

func httpToWS(u string) string {
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

// sleepCtx waits for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
