package loopline

import "errors"

// ErrNotAuthenticated is returned by REST calls made without a session token.
// Missing auth is a precondition, not a failure: channels simply refuse to
// connect, and callers are expected to treat this as "feature disabled".
var ErrNotAuthenticated = errors.New("loopline: no session token")

// Session carries the bearer token and the current user's identity. It is
// injected explicitly into every component that needs it rather than read
// from ambient global state, so the core stays testable.
type Session struct {
	Token string
	User  UserSummary
}

// Authenticated reports whether the session holds a usable token.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}
