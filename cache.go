package loopline

import (
	"sort"
	"sync"
)

// Cache is the single shared store of conversations read by the list view
// and the unread badge. It is keyed by conversation id so every consumer
// observes the same state; no consumer keeps its own copy.
//
// Unread counts are never stored. They are derived from the cached message
// sets on every read, which keeps them drift-free against the server's
// authoritative read flags.
type Cache struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	stale         map[string]bool
}

func NewCache() *Cache {
	return &Cache{
		conversations: make(map[string]Conversation),
		stale:         make(map[string]bool),
	}
}

// PutConversation stores or replaces one conversation and clears its
// staleness mark.
func (s *Cache) PutConversation(conv Conversation) {
	s.mu.Lock()
	s.conversations[conv.ID] = conv
	delete(s.stale, conv.ID)
	s.mu.Unlock()
}

// PutConversations stores a batch, typically one fetched page.
func (s *Cache) PutConversations(convs []Conversation) {
	s.mu.Lock()
	for _, conv := range convs {
		s.conversations[conv.ID] = conv
		delete(s.stale, conv.ID)
	}
	s.mu.Unlock()
}

// Conversation returns one cached conversation by id.
func (s *Cache) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	return conv, ok
}

// Conversations returns all cached conversations ordered by most recent
// activity.
func (s *Cache) Conversations() []Conversation {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// UnreadCount derives the unread count for one conversation.
func (s *Cache) UnreadCount(conversationID, selfID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0
	}
	return UnreadCount(conv.Messages, selfID)
}

// TotalUnread derives the unread count across all conversations, for the
// navbar badge.
func (s *Cache) TotalUnread(selfID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, conv := range s.conversations {
		total += UnreadCount(conv.Messages, selfID)
	}
	return total
}

// Invalidate marks one conversation stale. The next refresh refetches it;
// nothing is mutated locally because the authoritative read-set lives
// server-side.
func (s *Cache) Invalidate(conversationID string) {
	s.mu.Lock()
	s.stale[conversationID] = true
	s.mu.Unlock()
}

// Stale reports whether a conversation has been invalidated since its last
// put.
func (s *Cache) Stale(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale[conversationID]
}
