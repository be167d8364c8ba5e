package alipan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "alipan-go/0.1"
)

// Default API endpoints.
const (
	DefaultAPIURL  = "https://api.aliyundrive.com"
	DefaultAuthURL = "https://auth.aliyundrive.com"
)

// Client is an HTTP client for the Alipan drive API. It handles request
// construction, authentication, transparent token refresh, retry with
// exponential backoff, and error classification.
//
// All drive endpoints are JSON-over-POST; part uploads and content
// downloads go to pre-signed URLs outside the client (see UploadPart and
// the transfer package).
type Client struct {
	apiURL     string
	authURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string

	mu      sync.Mutex
	session *Session

	// onSession is called after every token refresh so the caller can
	// persist the rotated refresh token. Nil is allowed.
	onSession func(*Session) error

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints overrides the API and auth base URLs. Tests point them
// at an httptest server.
func WithEndpoints(apiURL, authURL string) Option {
	return func(c *Client) {
		c.apiURL = apiURL
		c.authURL = authURL
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent overrides the User-Agent header sent on API requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithSessionCallback registers a callback invoked after every token
// refresh with the updated session.
func WithSessionCallback(fn func(*Session) error) Option {
	return func(c *Client) {
		c.onSession = fn
	}
}

// NewClient creates an Alipan API client for the given session.
func NewClient(session *Session, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		apiURL:     DefaultAPIURL,
		authURL:    DefaultAuthURL,
		httpClient: http.DefaultClient,
		logger:     logger,
		userAgent:  userAgent,
		session:    session,
		sleepFunc:  timeSleep,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Session returns a copy of the current session.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return *c.session
}

// DriveID returns the default drive identifier of the session.
func (c *Client) DriveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.DriveID
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.AccessToken
}

// post executes a JSON POST against the API, decoding the response into
// out (which may be nil). It retries transient failures and refreshes
// the access token once per call when the server reports it invalid.
func (c *Client) post(ctx context.Context, path string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("alipan: encoding request: %w", err)
	}

	var (
		attempt   int
		refreshed bool
	)

	for {
		resp, err := c.doOnce(ctx, c.apiURL+path, payload)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return fmt.Errorf("alipan: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return fmt.Errorf("alipan: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return fmt.Errorf("alipan: POST %s failed after %d retries: %w", path, maxRetries, err)
		}

		body, readErr := readBody(resp)
		if readErr != nil {
			return fmt.Errorf("alipan: reading response: %w", readErr)
		}

		// 2xx success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			if out == nil {
				return nil
			}

			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("alipan: decoding response: %w", err)
			}

			return nil
		}

		apiErr := parseAPIError(resp.StatusCode, body)

		// Expired access token: refresh once, then replay the request.
		if apiErr.Err == ErrTokenExpired && !refreshed {
			refreshed = true

			c.logger.Info("access token expired, refreshing", slog.String("path", path))

			if err := c.Refresh(ctx); err != nil {
				return fmt.Errorf("alipan: refreshing expired token: %w", err)
			}

			continue
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return fmt.Errorf("alipan: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return apiErr
	}
}

// doOnce executes a single POST (no retry). The payload is re-wrapped in
// a fresh reader per attempt so retries replay the full body.
func (c *Client) doOnce(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.accessToken())
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// readBody drains and closes a response body.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// parseAPIError builds an APIError from an error response body.
func parseAPIError(status int, body []byte) *APIError {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	// Non-JSON error bodies keep the raw text as the message.
	if err := json.Unmarshal(body, &payload); err != nil {
		payload.Message = string(body)
	}

	return &APIError{
		StatusCode: status,
		Code:       payload.Code,
		Message:    payload.Message,
		Err:        classify(payload.Code, status),
	}
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Apply ±25% jitter.
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
