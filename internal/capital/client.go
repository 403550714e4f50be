package capital

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds everything the client needs to talk to the broker.
type Config struct {
	APIKey     string
	Identifier string
	Password   string
	BaseURL    string

	SessionTTL          time.Duration
	RenewalThreshold    time.Duration
	HealthCheckInterval time.Duration

	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RateLimitCooldown time.Duration
	FailureCeiling    int

	MarketDataBatchSize int
	BatchDelay          time.Duration
	RequestTimeout      time.Duration
}

// Client owns one authenticated session to the Capital.com API.
// renewMu serializes session creation; mu guards token and counters.
// All methods are safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	limiter    *rateLimiter
	store      *SessionStore // optional warm-restart token cache

	renewMu sync.Mutex // renewal critical section

	mu           sync.Mutex
	token        *SessionToken
	failureCount int
	renewals     int64
	lastPing     time.Time
	lastError    string
}

// NewClient builds a client. The store may be nil when Redis is disabled.
func NewClient(cfg Config, store *SessionStore, logger zerolog.Logger) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger.With().Str("component", "capital").Logger(),
		limiter:    newRateLimiter(cfg.RateLimitCooldown),
		store:      store,
	}

	// Warm restart: reuse a cached token if it is still fresh.
	if store != nil {
		if tok, err := store.Load(context.Background()); err == nil && tok.Valid(time.Now()) {
			c.token = tok
			c.logger.Info().Msg("restored session token from cache")
		}
	}
	return c
}

// LastError returns the most recent request failure, for status reports.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// SessionRenewals returns how many sessions have been created.
func (c *Client) SessionRenewals() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewals
}

// FailureCount returns the rolling request failure counter.
func (c *Client) FailureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCount
}

// doRequest performs one HTTP call with retry, backoff and 429 handling.
// 4xx responses are terminal (auth 401s surface as SessionError so the
// caller can renew once); network errors and 5xx retry with exponential
// backoff capped at RetryMaxDelay.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, authed bool) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			c.logger.Debug().Str("path", path).Int("attempt", attempt).Dur("delay", delay).Msg("retrying request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &NetworkError{Op: path, Err: ctx.Err()}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{Op: path, Err: err}
		}

		data, err := c.attempt(ctx, method, path, body, authed)
		if err == nil {
			c.recordSuccess()
			return data, nil
		}
		lastErr = err

		if rl, ok := err.(*RateLimitError); ok {
			c.logger.Warn().Str("path", path).Dur("cooldown", rl.RetryAfter).Msg("rate limited")
			continue
		}
		if !IsRetryable(err) {
			break
		}
	}

	c.recordFailure(lastErr)
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, body interface{}, authed bool) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &ValidationError{Field: "payload", Reason: err.Error()}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, &ValidationError{Field: "request", Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CAP-API-KEY", c.cfg.APIKey)

	if authed {
		c.mu.Lock()
		tok := c.token
		c.mu.Unlock()
		if tok == nil || tok.CST == "" {
			return nil, &SessionError{Op: path}
		}
		req.Header.Set("CST", tok.CST)
		req.Header.Set("X-SECURITY-TOKEN", tok.SecurityToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &NetworkError{Op: path, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		cooldown := c.limiter.TriggerCooldown()
		return nil, &RateLimitError{RetryAfter: cooldown}
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidateSession()
		return nil, &SessionError{Op: path, Err: fmt.Errorf("http 401: %s", truncate(data))}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if resp.StatusCode == http.StatusNotFound && strings.Contains(path, "/positions/") {
			return nil, ErrPositionNotFound
		}
		return nil, &BrokerRejection{StatusCode: resp.StatusCode, Reason: truncate(data)}
	default:
		return nil, &NetworkError{Op: path, Err: fmt.Errorf("http %d: %s", resp.StatusCode, truncate(data))}
	}
}

// authedRequest runs a request against an ensured-valid session. A 401
// mid-flight gets exactly one renewal and one retry before surfacing.
func (c *Client) authedRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := c.EnsureValidSession(ctx); err != nil {
		return err
	}

	data, err := c.doRequest(ctx, method, path, body, true)
	if _, ok := err.(*SessionError); ok {
		c.logger.Warn().Str("path", path).Err(err).Msg("session rejected mid-flight, renewing once")
		if err = c.EnsureValidSession(ctx); err != nil {
			return err
		}
		data, err = c.doRequest(ctx, method, path, body, true)
	}
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("error parsing %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.RetryBaseDelay << (attempt - 1)
	if delay > c.cfg.RetryMaxDelay || delay <= 0 {
		delay = c.cfg.RetryMaxDelay
	}
	return delay
}

func (c *Client) recordFailure(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.failureCount++
	c.lastError = err.Error()
	c.mu.Unlock()
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	if c.failureCount > 0 {
		c.failureCount--
	}
	c.mu.Unlock()
}

func truncate(data []byte) string {
	s := string(data)
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
