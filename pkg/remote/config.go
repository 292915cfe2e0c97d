package remote

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config contains the connection settings for a single remote service.
// A Config is immutable after the client is constructed.
type Config struct {
	// BaseURL is the base URL of the remote service.
	// Example: "https://keyvault.example.com"
	BaseURL string `hcl:"base_url"`

	// AuthToken is the bearer token attached to every request. Callers that
	// exchange an API key for a short-lived token construct a fresh client
	// per top-level operation.
	AuthToken string `hcl:"auth_token,optional"`

	// TLSVerify controls TLS certificate verification.
	// Set to false only for development with self-signed certs.
	TLSVerify *bool `hcl:"tls_verify,optional"`

	// Timeout bounds each individual request attempt.
	// Default: 30 seconds
	Timeout time.Duration `hcl:"timeout,optional"`

	// MaxRetries is the number of additional attempts after the first.
	// Default: 3
	MaxRetries int `hcl:"max_retries,optional"`

	// RetryDelay is the fixed delay between attempts.
	// Default: 1 second
	RetryDelay time.Duration `hcl:"retry_delay,optional"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	tlsVerify := true
	return &Config{
		TLSVerify:  &tlsVerify,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// Validate checks if the configuration is valid. Validation happens once,
// synchronously, before any network activity, so misconfiguration never
// manifests as a confusing remote-call failure.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL,
			validation.Required.Error("base_url is required"),
			validation.By(validateHTTPURL),
		),
		validation.Field(&c.Timeout,
			validation.Min(time.Duration(0)).Exclusive().Error("timeout must be positive"),
		),
		validation.Field(&c.MaxRetries,
			validation.Min(0).Error("max_retries must be non-negative"),
		),
		validation.Field(&c.RetryDelay,
			validation.Min(time.Duration(0)).Error("retry_delay must be non-negative"),
		),
	)
}

func validateHTTPURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme, got: %s", u.Scheme)
	}
	return nil
}

// WithToken returns a copy of the config carrying the given bearer token.
func (c *Config) WithToken(token string) *Config {
	dup := *c
	dup.AuthToken = token
	return &dup
}

// NewHTTPClient creates a configured HTTP client for this config.
func (c *Config) NewHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	if c.TLSVerify != nil && !*c.TLSVerify {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &http.Client{
		Timeout:   c.Timeout,
		Transport: transport,
	}
}
