// Package slack is a rate-limit-aware client for the subset of the Slack Web
// API the chat watcher polls: auth identity, conversation listing, and
// channel history. It knows nothing about notifications.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "hubbub/pkg/logx"
)

const DefaultBaseURL = "https://slack.com/api"

type Config struct {
	BaseURL string
	Timeout time.Duration

	// Retry budget for 429s and transient transport failures.
	MaxRetries   int
	RetryInitial time.Duration

	// Proactive pacing, requests per minute. Slack's read tiers sit around
	// 50/min; staying under it avoids most 429s in the first place.
	RatePerMinute int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = time.Second
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 50
	}
	return c
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 5),
		log:     log,
	}
}

// AuthTest resolves the identity behind a token, including the workspace URL.
func (c *Client) AuthTest(ctx context.Context, token string) (AuthInfo, error) {
	var resp authTestResponse
	if err := c.call(ctx, "auth.test", token, nil, &resp); err != nil {
		return AuthInfo{}, err
	}
	return resp.AuthInfo, nil
}

// ListChannels returns every conversation visible to the token, following
// pagination to the end. Includes public/private channels and IMs.
func (c *Client) ListChannels(ctx context.Context, token string) ([]Channel, error) {
	var out []Channel
	cursor := ""
	for {
		params := url.Values{}
		params.Set("types", "public_channel,private_channel,mpim,im")
		params.Set("exclude_archived", "false")
		params.Set("limit", "200")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp listResponse
		if err := c.call(ctx, "conversations.list", token, params, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Channels...)

		cursor = strings.TrimSpace(resp.ResponseMetadata.NextCursor)
		if cursor == "" {
			return out, nil
		}
	}
}

// History reads recent messages from one channel, newest first, as the API
// returns them. oldest is passed through when non-empty; callers still have
// to cut at their own cursor because the bound is not exact across edits.
func (c *Client) History(ctx context.Context, token, channelID, oldest string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{}
	params.Set("channel", channelID)
	params.Set("limit", strconv.Itoa(limit))
	if strings.TrimSpace(oldest) != "" {
		params.Set("oldest", oldest)
	}

	var resp historyResponse
	if err := c.call(ctx, "conversations.history", token, params, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// apiResponse is satisfied by every response struct via the embedded
// envelope.
type apiResponse interface {
	ok() (bool, string)
}

// call performs one Web API method with pacing, retries and envelope
// validation. out must unmarshal the full response body and embed envelope.
func (c *Client) call(ctx context.Context, method, token string, params url.Values, out apiResponse) error {
	var lastHint time.Duration
	attempts := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		attempts++

		status, body, err := c.do(ctx, method, token, params)
		if err != nil {
			// Transport-level failure. Retry within budget unless the
			// context is gone.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempts > c.cfg.MaxRetries {
				return fmt.Errorf("slack: %s: %w", method, err)
			}
			if err := c.sleep(ctx, c.backoff(attempts, 0)); err != nil {
				return err
			}
			continue
		}

		if status == http.StatusTooManyRequests {
			hint := retryAfterHint(body.header)
			lastHint = hint
			if attempts > c.cfg.MaxRetries {
				return &RateLimitError{Method: method, Attempts: attempts, RetryAfter: lastHint}
			}
			c.log.Debug("slack rate limited",
				logx.String("method", method),
				logx.Int("attempt", attempts),
				logx.Duration("retry_after", hint))
			if err := c.sleep(ctx, c.backoff(attempts, hint)); err != nil {
				return err
			}
			continue
		}

		if status >= 500 {
			if attempts > c.cfg.MaxRetries {
				return fmt.Errorf("slack: %s: http %d", method, status)
			}
			if err := c.sleep(ctx, c.backoff(attempts, 0)); err != nil {
				return err
			}
			continue
		}
		if status != http.StatusOK {
			return fmt.Errorf("slack: %s: http %d", method, status)
		}

		if err := json.Unmarshal(body.data, out); err != nil {
			return fmt.Errorf("slack: %s: decode: %w", method, err)
		}
		if ok, reason := out.ok(); !ok {
			return &APIError{Method: method, Reason: reason}
		}
		return nil
	}
}

// rawResponse bundles the body with the headers retries need.
type rawResponse struct {
	data   []byte
	header http.Header
}

func (c *Client) do(ctx context.Context, method, token string, params url.Values) (int, rawResponse, error) {
	u := c.cfg.BaseURL + "/" + method
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, rawResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, rawResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, rawResponse{}, err
	}
	return resp.StatusCode, rawResponse{data: data, header: resp.Header}, nil
}

// backoff picks the wait before the next attempt: the server's Retry-After
// hint when present, else initial*2^(attempt-1).
func (c *Client) backoff(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	d := c.cfg.RetryInitial
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryAfterHint(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (e envelope) ok() (bool, string) { return e.OK, e.Error }
