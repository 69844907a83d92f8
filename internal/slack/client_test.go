package slack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "hubbub/pkg/logx"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{
		BaseURL:       srv.URL,
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		RetryInitial:  time.Millisecond,
		RatePerMinute: 600000,
	}, logx.Nop())
	return c, srv
}

func TestHistoryHappyPath(t *testing.T) {
	t.Parallel()
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/conversations.history") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxp-test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("channel"); got != "C1" {
			t.Errorf("channel = %q", got)
		}
		if got := r.URL.Query().Get("oldest"); got != "100.0" {
			t.Errorf("oldest = %q", got)
		}
		w.Write([]byte(`{"ok":true,"messages":[
			{"ts":"200.0","text":"<@U1> hello","user":"U2"},
			{"ts":"150.0","text":"reply","user":"U3","thread_ts":"100.0"}
		]}`))
	}))

	msgs, err := c.History(context.Background(), "xoxp-test", "C1", "100.0", 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].TS != "200.0" || msgs[0].Text != "<@U1> hello" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].ThreadTS != "100.0" {
		t.Fatalf("thread_ts not decoded: %+v", msgs[1])
	}
}

func TestCallRetriesOn429ThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true,"url":"https://acme.slack.com/","user_id":"U0"}`))
	}))

	info, err := c.AuthTest(context.Background(), "tok")
	if err != nil {
		t.Fatalf("AuthTest: %v", err)
	}
	if info.URL != "https://acme.slack.com/" {
		t.Fatalf("unexpected auth info: %+v", info)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("made %d requests, want 2", n)
	}
}

func TestCallRateLimitExhaustion(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hint only on the final attempt, so the test never sleeps for it.
		if calls.Add(1) == 3 {
			w.Header().Set("Retry-After", "7")
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.ListChannels(context.Background(), "tok")
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("errors.Is(ErrRateLimited) = false for %v", err)
	}
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("errors.As(*RateLimitError) = false for %v", err)
	}
	if rl.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3 (initial + MaxRetries)", rl.Attempts)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Fatalf("RetryAfter = %v, want 7s", rl.RetryAfter)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("made %d requests, want 3", n)
	}
}

func TestCallEnvelopeFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// HTTP 200, application-level failure.
		w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
	}))

	_, err := c.History(context.Background(), "bad", "C1", "", 10)
	if err == nil {
		t.Fatal("expected envelope error")
	}
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("errors.As(*APIError) = false for %v", err)
	}
	if ae.Reason != "invalid_auth" {
		t.Fatalf("Reason = %q", ae.Reason)
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatal("envelope failure must not look like a rate limit")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("envelope failures must not retry, made %d requests", n)
	}
}

func TestCallServerErrorRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true,"channels":[]}`))
	}))

	if _, err := c.ListChannels(context.Background(), "tok"); err != nil {
		t.Fatalf("ListChannels after 5xx retries: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("made %d requests, want 3", n)
	}
}

func TestCallClientErrorFailsFast(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	if _, err := c.ListChannels(context.Background(), "tok"); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("4xx must fail fast, made %d requests", n)
	}
}

func TestListChannelsPagination(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			if cur := r.URL.Query().Get("cursor"); cur != "" {
				t.Errorf("first page got cursor %q", cur)
			}
			w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"general","is_member":true}],"response_metadata":{"next_cursor":"p2"}}`))
		default:
			if cur := r.URL.Query().Get("cursor"); cur != "p2" {
				t.Errorf("second page cursor = %q", cur)
			}
			w.Write([]byte(`{"ok":true,"channels":[{"id":"D1","is_im":true,"user":"U9"}],"response_metadata":{"next_cursor":""}}`))
		}
	}))

	chans, err := c.ListChannels(context.Background(), "tok")
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(chans) != 2 {
		t.Fatalf("got %d channels, want 2", len(chans))
	}
	if chans[0].ID != "C1" || !chans[0].IsMember {
		t.Fatalf("unexpected first channel: %+v", chans[0])
	}
	if !chans[1].IsIM || chans[1].User != "U9" {
		t.Fatalf("unexpected im channel: %+v", chans[1])
	}
}

func TestBackoffAndRetryAfter(t *testing.T) {
	t.Parallel()
	c := New(Config{RetryInitial: 100 * time.Millisecond}, logx.Nop())

	if got := c.backoff(1, 0); got != 100*time.Millisecond {
		t.Fatalf("backoff(1) = %v", got)
	}
	if got := c.backoff(3, 0); got != 400*time.Millisecond {
		t.Fatalf("backoff(3) = %v, want initial*2^2", got)
	}
	if got := c.backoff(3, 5*time.Second); got != 5*time.Second {
		t.Fatalf("hint must win, got %v", got)
	}

	h := http.Header{}
	if got := retryAfterHint(h); got != 0 {
		t.Fatalf("no header: %v", got)
	}
	h.Set("Retry-After", "3")
	if got := retryAfterHint(h); got != 3*time.Second {
		t.Fatalf("parse: %v", got)
	}
	h.Set("Retry-After", "junk")
	if got := retryAfterHint(h); got != 0 {
		t.Fatalf("junk header: %v", got)
	}
	h.Set("Retry-After", "-2")
	if got := retryAfterHint(h); got != 0 {
		t.Fatalf("negative header: %v", got)
	}
}
