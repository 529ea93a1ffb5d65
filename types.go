package loopline

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// API Error & Result Envelope
// ============================================================================

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// APIResult is the generic REST response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into v.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return fmt.Errorf("no data in response")
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Domain Types
// ============================================================================

// UserSummary is the compact user representation embedded in conversations
// and messages.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Online      bool   `json:"online"`
}

// Message is one chat message. Once the server has assigned ID the message is
// immutable except for Read, which only ever transitions false to true.
// ClientID is set locally on optimistically rendered messages and carries no
// meaning once the server copy exists.
type Message struct {
	ID             string      `json:"id,omitempty"`
	ClientID       string      `json:"clientId,omitempty"`
	ConversationID string      `json:"conversationId"`
	Body           string      `json:"body"`
	Sender         UserSummary `json:"sender"`
	Recipient      UserSummary `json:"recipient"`
	CreatedAt      time.Time   `json:"createdAt"`
	Read           bool        `json:"read"`
}

// Conversation is a direct chat between exactly two participants. The server
// embeds the full message backlog in detail responses and in list pages, so
// unread counts can always be derived from the message set rather than stored.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []UserSummary `json:"participants"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Messages     []Message     `json:"messages,omitempty"`
}

// LastMessage returns the most recent message, or nil for an empty backlog.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Counterpart returns the participant that is not the given user.
func (c *Conversation) Counterpart(userID string) *UserSummary {
	for i := range c.Participants {
		if c.Participants[i].ID != userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// ConversationPage is one page of the user's conversation index, ordered by
// most recent activity.
type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	Page          int            `json:"page"`
	LastPage      bool           `json:"lastPage"`
}

// ============================================================================
// Channel Wire Format
// ============================================================================

// Event kinds on the conversation channel.
const (
	EventMessage  = "message"
	EventTyping   = "typing"
	EventMarkRead = "mark_read"
)

// Event kinds on the notification channel.
const (
	EventNewMessageNotification = "new_message_notification"
	EventMessagesMarkedRead     = "messages_marked_read"
)

// Envelope is the outbound wire format: {"event": <kind>, "data": <payload>}.
// Inbound frames are the flattened equivalent: the event discriminator plus
// the payload fields at the top level of the same object.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// TypingEvent is an ephemeral presence pulse. Not persisted, never part of
// the message set.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender"`
}

// NotificationEvent announces a new message somewhere in the user's
// conversations, delivered on the session-wide notification channel.
type NotificationEvent struct {
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender"`
	Body           string `json:"body"`
}

// MarkedReadEvent confirms a server-side read-state change. Consumers must
// refetch derived unread counts rather than mutate them locally.
type MarkedReadEvent struct {
	ConversationID string `json:"conversationId"`
}
