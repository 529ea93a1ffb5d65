package loopline

import (
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// AlertFunc delivers one local alert (toast plus audio cue). Failures such as
// a blocked audio device are swallowed by the Notifier, never surfaced.
type AlertFunc func(title, body string) error

func beeepAlert(title, body string) error {
	return beeep.Alert(title, body, "")
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithAlertFunc replaces the default beeep alert sink.
func WithAlertFunc(f AlertFunc) NotifierOption {
	return func(n *Notifier) { n.alert = f }
}

// WithNotifierLogger installs a structured logger.
func WithNotifierLogger(log zerolog.Logger) NotifierOption {
	return func(n *Notifier) { n.log = log }
}

// Notifier consumes the session-wide notification channel. New-message
// notifications trigger a local alert, collapsed when the body matches the
// immediately preceding notification's body; the same body recurring after a
// different one in between alerts again. Read-state confirmations invalidate
// the cached unread derivation instead of mutating it locally.
type Notifier struct {
	alert       AlertFunc
	invalidator Invalidator
	log         zerolog.Logger

	mu       sync.Mutex
	seen     bool
	lastBody string
}

// NewNotifier creates a notifier that invalidates through inv on read-state
// confirmations. inv may be nil when no cache is attached.
func NewNotifier(inv Invalidator, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		alert:       beeepAlert,
		invalidator: inv,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Bind subscribes the notifier to a notification channel.
func (n *Notifier) Bind(ch *Channel) {
	ch.OnNotification(n.handleNotification)
	ch.OnMarkedRead(n.handleMarkedRead)
}

func (n *Notifier) handleNotification(ev NotificationEvent) {
	n.mu.Lock()
	// Only a real preceding notification can collapse this one; the zero
	// lastBody must not swallow a first empty-bodied notification.
	dup := n.seen && ev.Body == n.lastBody
	n.seen = true
	n.lastBody = ev.Body
	n.mu.Unlock()

	if dup {
		n.log.Debug().Msg("suppressing duplicate notification")
		return
	}

	title := "New message"
	if ev.Sender != "" {
		title = "New message from " + ev.Sender
	}
	if err := n.alert(title, ev.Body); err != nil {
		n.log.Debug().Err(err).Msg("alert delivery failed")
	}
}

func (n *Notifier) handleMarkedRead(ev MarkedReadEvent) {
	if n.invalidator != nil {
		n.invalidator.Invalidate(ev.ConversationID)
	}
}
