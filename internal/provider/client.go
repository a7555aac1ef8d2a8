package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout  = 60 * time.Second
	maxRetries      = 3
	initialBackoff  = time.Second
	maxResponseSize = 4 << 20
)

// Client dispatches prompts to providers, retrying transient failures with
// exponential backoff.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-attempt timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// networkError is a transport-level failure (no HTTP status). It is retried
// like a 429 or 503.
type networkError struct {
	msg string
	err error
}

func (e *networkError) Error() string { return e.msg }
func (e *networkError) Unwrap() error { return e.err }

func shouldRetry(err error) bool {
	var ne *networkError
	return IsRetryable(err) || errors.As(err, &ne)
}

// Call validates cfg, sends prompt to the provider and returns the cleaned
// content. Invalid configs fail before any network traffic. Rate limits,
// unavailable services and network errors are retried up to three times,
// waiting 1s, 2s and 4s.
func (c *Client) Call(ctx context.Context, d Descriptor, cfg Config, prompt string) (string, error) {
	if err := validate(d, cfg); err != nil {
		return "", err
	}

	body, err := d.BuildRequest(prompt, cfg)
	if err != nil {
		return "", fmt.Errorf("building %s request: %w", d.ID(), err)
	}
	endpoint := d.Endpoint(cfg)
	headers := d.Headers(cfg)
	host := endpointHost(endpoint)

	for attempt := 0; ; attempt++ {
		content, err := c.do(ctx, d, cfg, endpoint, headers, body)
		if err == nil {
			return content, nil
		}
		if !shouldRetry(err) || attempt >= maxRetries {
			return "", err
		}

		backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
		c.logger.Warn("provider call failed, retrying",
			"provider", d.ID(), "host", host, "attempt", attempt+1, "backoff", backoff, "error", err)
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return "", err
		}
	}
}

func (c *Client) do(ctx context.Context, d Descriptor, cfg Config, endpoint string, headers http.Header, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header = headers.Clone()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", c.networkErr(d, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", c.networkErr(d, err)
	}

	c.logger.Debug("provider response", "provider", d.ID(), "status", resp.StatusCode,
		"duration", time.Since(start), "bytes", len(raw))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		info := classifyFor(d, cfg, resp.StatusCode, raw)
		return "", &Error{Status: resp.StatusCode, Retryable: info.Retryable, Message: info.Message}
	}

	content, err := ParseResponse(d, raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s response: %w", d.ID(), err)
	}
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func classifyFor(d Descriptor, cfg Config, status int, body []byte) ErrorInfo {
	if cc, ok := d.(interface {
		classifyWithConfig(int, []byte, Config) ErrorInfo
	}); ok {
		return cc.classifyWithConfig(status, body, cfg)
	}
	return d.ClassifyError(status, body)
}

func (c *Client) networkErr(d Descriptor, err error) error {
	if nm, ok := d.(interface{ networkMessage(error) string }); ok {
		return &networkError{msg: nm.networkMessage(err), err: err}
	}
	// url.Error embeds the full URL, which carries the key for some vendors.
	cause := err
	var ue *url.Error
	if errors.As(err, &ue) {
		cause = ue.Err
	}
	return &networkError{msg: fmt.Sprintf("Network error: %v", cause), err: err}
}

// Dispatch looks up the provider, fills its defaults and folds the outcome
// of Call into a Result.
func (c *Client) Dispatch(ctx context.Context, id ID, cfg Config, prompt string) Result {
	d, err := Get(id)
	if err != nil {
		return Result{Error: err.Error()}
	}
	content, err := c.Call(ctx, d, WithDefaults(d, cfg), prompt)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true, Content: content}
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}
