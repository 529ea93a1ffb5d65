package loopline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRefreshInterval is how often the conversation list refetches in the
// background.
const DefaultRefreshInterval = 60 * time.Second

// DefaultPageSize is the conversation page size used when none is given.
const DefaultPageSize = 20

// ConversationSummary is one row of the conversation picker: the conversation
// annotated with its derived unread count and a preview of the latest
// message.
type ConversationSummary struct {
	Conversation
	Unread        int
	Preview       string
	PreviewSender string
}

// ConversationList drives the infinite-paginated conversation index. Pages
// load strictly sequentially: page N+1 is requested only after page N has
// resolved, and no further requests are issued once the server flags the
// last page. A background refresh re-runs page 1 every RefreshInterval
// without disturbing pages already loaded.
type ConversationList struct {
	conversations *ConversationsClient
	cache         *Cache
	selfID        string
	perPage       int
	log           zerolog.Logger

	// RefreshInterval overrides DefaultRefreshInterval when set before Run.
	RefreshInterval time.Duration
	// OnUpdate, if set, runs after every successful page load or refresh.
	OnUpdate func()

	mu       sync.Mutex
	nextPage int
	lastPage bool
	loading  bool
}

// NewConversationList creates a controller backed by the client's REST layer
// and the shared cache. perPage <= 0 selects DefaultPageSize.
func NewConversationList(c *Client, cache *Cache, perPage int) *ConversationList {
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	return &ConversationList{
		conversations: c.Conversations(),
		cache:         cache,
		selfID:        c.session.User.ID,
		perPage:       perPage,
		log:           c.log.With().Str("component", "conversation_list").Logger(),
		nextPage:      1,
	}
}

// LoadNextPage fetches the next unloaded page into the cache. It is a no-op
// when the last page has been reached or a page load is already in flight;
// there is no speculative prefetch.
func (l *ConversationList) LoadNextPage(ctx context.Context) error {
	l.mu.Lock()
	if l.lastPage || l.loading {
		l.mu.Unlock()
		return nil
	}
	l.loading = true
	page := l.nextPage
	l.mu.Unlock()

	p, err := l.conversations.Page(ctx, page, l.perPage)

	l.mu.Lock()
	l.loading = false
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.nextPage = page + 1
	l.lastPage = p.LastPage
	l.mu.Unlock()

	l.cache.PutConversations(p.Conversations)
	if l.OnUpdate != nil {
		l.OnUpdate()
	}
	return nil
}

// Exhausted reports whether the last page has been loaded.
func (l *ConversationList) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPage
}

// Refresh re-runs page 1 and merges it into the cache. Pages loaded beyond
// the first are left as they are. Used by the background ticker and by
// manual refreshes, e.g. right after starting a new conversation.
func (l *ConversationList) Refresh(ctx context.Context) error {
	p, err := l.conversations.Page(ctx, 1, l.perPage)
	if err != nil {
		return err
	}
	l.cache.PutConversations(p.Conversations)
	if l.OnUpdate != nil {
		l.OnUpdate()
	}
	return nil
}

// Run refreshes the list in the background until ctx is cancelled. Fetch
// failures are logged and retried on the next tick.
func (l *ConversationList) Run(ctx context.Context) {
	interval := l.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				l.log.Warn().Err(err).Msg("background refresh failed")
			}
		}
	}
}

// Snapshot returns the cached conversations, most recent first, annotated
// with unread counts and latest-message previews.
func (l *ConversationList) Snapshot() []ConversationSummary {
	convs := l.cache.Conversations()
	out := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		s := ConversationSummary{
			Conversation: conv,
			Unread:       UnreadCount(conv.Messages, l.selfID),
		}
		if last := conv.LastMessage(); last != nil {
			s.Preview = last.Body
			s.PreviewSender = last.Sender.DisplayName
		}
		out = append(out, s)
	}
	return out
}
