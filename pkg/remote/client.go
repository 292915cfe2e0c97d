// Package remote executes HTTP requests against managed cloud services with
// a uniform resilience policy: per-attempt timeout, bounded retry, and fixed
// backoff. Every service client in this repository goes through this package
// so that retry discipline is applied in exactly one place.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
)

// Request describes a single outbound call. The same request is replayed on
// retry, so callers must only route operations through Do that are safe to
// repeat (GET/HEAD always; mutations only when the remote operation is
// idempotent for the given payload, e.g. delete-by-id).
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string

	// Body is marshalled to JSON unless RawBody is set.
	Body    interface{}
	RawBody []byte

	// ContentType overrides the default application/json when RawBody is set.
	ContentType string
}

// Client executes requests against one remote service with the resilience
// policy from its Config. Construction is pure; no network call is made.
type Client struct {
	cfg  *Config
	http *http.Client
	log  hclog.Logger
}

// NewClient creates a client bound to cfg's base address. It fails fast on
// invalid configuration, before any token acquisition or network activity.
func NewClient(cfg *Config, log hclog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	defaults := DefaultConfig()
	if cfg.TLSVerify == nil {
		cfg.TLSVerify = defaults.TLSVerify
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	return &Client{
		cfg:  cfg,
		http: cfg.NewHTTPClient(),
		log:  log,
	}, nil
}

// BaseURL returns the base address the client is bound to.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Do executes the request and decodes the response body into result (when
// result is non-nil and the body is non-empty). Transport failures and 5xx
// responses are retried up to MaxRetries times with a fixed delay between
// attempts; 4xx responses are terminal after a single attempt. The returned
// error is always a *Error on remote failure.
func (c *Client) Do(ctx context.Context, req Request, result interface{}) error {
	endpoint, err := c.endpoint(req)
	if err != nil {
		return err
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return err
	}

	var respBody []byte
	attempt := 0

	operation := func() error {
		attempt++
		respBody, err = c.attempt(ctx, req, endpoint, body, contentType)
		if err == nil {
			return nil
		}

		re, ok := err.(*Error)
		if !ok {
			return backoff.Permanent(err)
		}
		if !re.Retryable() {
			return backoff.Permanent(re)
		}

		c.log.Warn("retrying remote call",
			"method", req.Method,
			"path", req.Path,
			"status", re.StatusCode,
			"reason", re.Reason,
			"attempt", attempt,
		)
		return re
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(c.cfg.RetryDelay),
			uint64(c.cfg.MaxRetries),
		),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response from %s %s: %w", req.Method, req.Path, err)
		}
	}

	return nil
}

// DoBestEffort executes the request and downgrades any failure to a "nothing
// found" outcome: it returns false and logs a warning instead of propagating
// the error. Higher-level existence checks use this so that "not found" and
// "service temporarily unreachable" look identical on read paths.
func (c *Client) DoBestEffort(ctx context.Context, req Request, result interface{}) bool {
	if err := c.Do(ctx, req, result); err != nil {
		c.log.Warn("best-effort remote call failed, treating as empty",
			"method", req.Method,
			"path", req.Path,
			"error", err,
		)
		return false
	}
	return true
}

// attempt issues the request exactly once and classifies the outcome.
func (c *Client) attempt(ctx context.Context, req Request, endpoint string, body []byte, contentType string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, newTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newRemoteError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

func (c *Client) endpoint(req Request) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL + req.Path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", req.Path, err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(req Request) ([]byte, string, error) {
	if req.RawBody != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		return req.RawBody, contentType, nil
	}
	if req.Body == nil {
		return nil, "", nil
	}
	b, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request body: %w", err)
	}
	return b, "application/json", nil
}
