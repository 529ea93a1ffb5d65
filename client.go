// Package loopline is the Go client SDK for the Loopline social network's
// real-time conversational messaging core.
//
// It covers the conversation index, message backlog fetches, the per-target
// persistent channel (live messages, typing presence, read-state sync), and
// the session-wide notification stream.
//
// Example:
//
//	session := &loopline.Session{Token: token, User: me}
//	client := loopline.NewClient(session)
//
//	page, _ := client.Conversations().Page(ctx, 1, 20)
//	conv, _ := client.Conversations().Start(ctx, "user-42")
//
//	ch := client.Channel(loopline.ConversationTarget(conv.ID), nil)
//	ch.OnMessage(func(m loopline.Message) { fmt.Println(m.Body) })
//	ch.Connect(ctx)
package loopline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://loopline.social"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST entry point. All calls require an authenticated Session;
// without a token they return ErrNotAuthenticated before touching the network.
type Client struct {
	baseURL       string
	session       *Session
	httpClient    *http.Client
	log           zerolog.Logger
	conversations *ConversationsClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger installs a structured logger. The default is a no-op logger;
// CLI and service callers typically pass a console or JSON zerolog.Logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a Loopline client bound to the given session.
func NewClient(session *Session, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		session: session,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.conversations = &ConversationsClient{client: c}
	return c
}

// Session returns the injected session context.
func (c *Client) Session() *Session {
	return c.session
}

// Conversations returns the conversation index and backlog sub-client.
func (c *Client) Conversations() *ConversationsClient {
	return c.conversations
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	if !c.session.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.session.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) doResult(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResult](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Account surface
// ============================================================================

// Health checks chat service health.
func (c *Client) Health(ctx context.Context) (*APIResult, error) {
	return c.doResult(ctx, "GET", "/api/chat/health", nil, nil)
}

// Me fetches the authenticated user's summary.
func (c *Client) Me(ctx context.Context) (*UserSummary, error) {
	result, err := c.doResult(ctx, "GET", "/api/chat/me", nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultError(result)
	}
	var me UserSummary
	if err := result.Decode(&me); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &me, nil
}

func resultError(r *APIResult) error {
	if r.Error != nil {
		return r.Error
	}
	return fmt.Errorf("request rejected")
}
