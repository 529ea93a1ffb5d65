package loopline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

func testSession() *Session {
	return &Session{
		Token: "test-token",
		User:  UserSummary{ID: "u-self", DisplayName: "Self"},
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(testSession(), WithBaseURL(srv.URL))
}

func okResult(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	body, err := json.Marshal(APIResult{OK: true, Data: data})
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return body
}

// ============================================================================
// Tests
// ============================================================================

func TestBearerTokenHeader(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write(okResult(t, map[string]string{"status": "ok"}))
	}))

	if _, err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
}

func TestRequestsGatedWithoutToken(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(&Session{}, WithBaseURL(srv.URL))

	_, err := client.Conversations().Page(context.Background(), 1, 10)
	if err != ErrNotAuthenticated {
		t.Fatalf("Page error = %v, want ErrNotAuthenticated", err)
	}
	if _, err := client.Me(context.Background()); err != ErrNotAuthenticated {
		t.Fatalf("Me error = %v, want ErrNotAuthenticated", err)
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("server received %d requests, want 0", n)
	}
}

func TestMe(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/me" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write(okResult(t, UserSummary{ID: "u-self", DisplayName: "Self", Online: true}))
	}))

	me, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.ID != "u-self" || !me.Online {
		t.Errorf("unexpected user: %+v", me)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(APIResult{
			OK:    false,
			Error: &APIError{Code: "USER_NOT_FOUND", Message: "no such user"},
		})
		w.Write(body)
	}))

	_, err := client.Conversations().Start(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Code != "USER_NOT_FOUND" {
		t.Errorf("code = %q", apiErr.Code)
	}
}
