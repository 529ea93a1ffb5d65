package loopline

import (
	"context"
	"fmt"
	"strconv"
)

// ConversationsClient fetches the durable conversation index and message
// backlog over REST, independent of any live channel. It performs no retries:
// a failed fetch is surfaced to the caller, whose view decides whether to
// retry interactively.
type ConversationsClient struct {
	client *Client
}

// Page fetches one page of the user's conversations, ordered by most recent
// activity. Callers must not request page N+1 before page N has resolved, and
// must stop once LastPage is set.
func (cv *ConversationsClient) Page(ctx context.Context, page, perPage int) (*ConversationPage, error) {
	if page < 1 {
		page = 1
	}
	query := map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(perPage),
	}
	result, err := cv.client.doResult(ctx, "GET", "/api/chat/conversations", nil, query)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultError(result)
	}
	var p ConversationPage
	if err := result.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode conversation page: %w", err)
	}
	return &p, nil
}

// Detail fetches one conversation with both participants and the full ordered
// message backlog as of the call. Called exactly once per conversation view
// activation, before the live channel is relied on for rendering.
func (cv *ConversationsClient) Detail(ctx context.Context, conversationID string) (*Conversation, error) {
	result, err := cv.client.doResult(ctx, "GET", "/api/chat/conversations/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultError(result)
	}
	var conv Conversation
	if err := result.Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

// Start opens a direct conversation with the given user. Idempotent: if a
// conversation between the two users already exists the server returns it
// unchanged, so calling Start twice yields the same conversation id.
func (cv *ConversationsClient) Start(ctx context.Context, userID string) (*Conversation, error) {
	payload := map[string]string{"userId": userID}
	result, err := cv.client.doResult(ctx, "POST", "/api/chat/conversations/direct", payload, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultError(result)
	}
	var conv Conversation
	if err := result.Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}
