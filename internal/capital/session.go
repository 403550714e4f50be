package capital

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const apiBase = "/api/v1"

type sessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// CreateSession authenticates against POST /session and stores the token
// pair returned in the CST and X-SECURITY-TOKEN response headers.
// Network errors and 5xx retry with capped exponential backoff; 4xx auth
// failures are terminal on the first attempt.
func (c *Client) CreateSession(ctx context.Context) error {
	c.renewMu.Lock()
	defer c.renewMu.Unlock()
	return c.createSessionLocked(ctx)
}

// createSessionLocked must be called with renewMu held.
func (c *Client) createSessionLocked(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			c.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying session creation")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &SessionError{Op: "create_session", Err: ctx.Err()}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return &SessionError{Op: "create_session", Err: err}
		}

		tok, err := c.authenticate(ctx)
		if err == nil {
			c.mu.Lock()
			c.token = tok
			c.failureCount = 0
			c.renewals++
			c.lastPing = time.Now()
			c.mu.Unlock()

			if c.store != nil {
				if err := c.store.Save(ctx, tok); err != nil {
					c.logger.Warn().Err(err).Msg("failed to cache session token")
				}
			}
			c.logger.Info().Msg("session created")
			return nil
		}
		lastErr = err

		// Bad credentials will not improve with retries.
		if !IsRetryable(err) {
			break
		}
	}

	c.recordFailure(lastErr)
	return &SessionError{Op: "create_session", Err: lastErr}
}

// authenticate performs one POST /session attempt and extracts the token
// pair from the response headers.
func (c *Client) authenticate(ctx context.Context) (*SessionToken, error) {
	payload, err := json.Marshal(sessionRequest{
		Identifier: c.cfg.Identifier,
		Password:   c.cfg.Password,
	})
	if err != nil {
		return nil, &ValidationError{Field: "credentials", Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+apiBase+"/session", bytes.NewReader(payload))
	if err != nil {
		return nil, &ValidationError{Field: "request", Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CAP-API-KEY", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "create_session", Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to token extraction below
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: c.limiter.TriggerCooldown()}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &BrokerRejection{StatusCode: resp.StatusCode, Reason: truncate(data)}
	default:
		return nil, &NetworkError{Op: "create_session", Err: fmt.Errorf("http %d: %s", resp.StatusCode, truncate(data))}
	}

	cst := resp.Header.Get("CST")
	secToken := resp.Header.Get("X-SECURITY-TOKEN")
	if cst == "" || secToken == "" {
		return nil, &BrokerRejection{StatusCode: resp.StatusCode, Reason: "auth response missing session token headers"}
	}

	var body sessionResponse
	if err := json.Unmarshal(data, &body); err == nil && body.AccountID != "" {
		c.logger.Debug().Str("account", body.AccountID).Msg("authenticated")
	}

	return &SessionToken{
		CST:              cst,
		SecurityToken:    secToken,
		CreatedAt:        time.Now(),
		TTL:              c.cfg.SessionTTL,
		RenewalThreshold: c.cfg.RenewalThreshold,
	}, nil
}

// EnsureValidSession is called before every authenticated request. It
// renews proactively once the token age crosses the renewal threshold or
// the failure counter hits its ceiling. Concurrent callers serialize on
// one renewal critical section and re-check validity after acquiring it,
// so one breach produces exactly one CreateSession call. A still-valid
// session gets a lightweight ping at most once per health-check interval.
func (c *Client) EnsureValidSession(ctx context.Context) error {
	if c.sessionHealthy(time.Now()) {
		return c.maybePing(ctx)
	}

	c.renewMu.Lock()
	defer c.renewMu.Unlock()

	// Another caller may have renewed while we waited for the lock.
	if c.sessionHealthy(time.Now()) {
		return nil
	}
	return c.createSessionLocked(ctx)
}

func (c *Client) sessionHealthy(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.Valid(now) && c.failureCount < c.cfg.FailureCeiling
}

// maybePing issues GET /ping when the last one is older than the
// health-check interval. Ping failures don't fail the caller; the next
// real request will surface any problem.
func (c *Client) maybePing(ctx context.Context) error {
	c.mu.Lock()
	due := time.Since(c.lastPing) >= c.cfg.HealthCheckInterval
	if due {
		c.lastPing = time.Now()
	}
	c.mu.Unlock()
	if !due {
		return nil
	}

	if _, err := c.doRequest(ctx, http.MethodGet, apiBase+"/ping", nil, true); err != nil {
		c.logger.Warn().Err(err).Msg("session ping failed")
	}
	return nil
}

// invalidateSession drops the token after an HTTP 401.
func (c *Client) invalidateSession() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(context.Background()); err != nil {
			c.logger.Debug().Err(err).Msg("failed to clear cached session token")
		}
	}
}
