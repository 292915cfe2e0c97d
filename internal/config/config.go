// Package config loads and validates the steward configuration file. The
// parsed Config value is passed explicitly into client and workflow
// constructors; there is no process-global configuration state.
package config

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/tildeworks/steward/pkg/credentials"
	"github.com/tildeworks/steward/pkg/remote"
)

// Config is the root configuration, one block per remote service.
type Config struct {
	Docstore *DocstoreConfig `hcl:"docstore,block"`
	Identity *IdentityConfig `hcl:"identity,block"`
	Keyvault *KeyvaultConfig `hcl:"keyvault,block"`
}

// DocstoreConfig configures the document store connection.
type DocstoreConfig struct {
	BaseURL      string `hcl:"base_url"`
	APIKey       string `hcl:"api_key"`
	TokenURL     string `hcl:"token_url"`
	MaxRetries   int    `hcl:"max_retries,optional"`
	RetryDelayMs int    `hcl:"retry_delay_ms,optional"`
	TimeoutMs    int    `hcl:"timeout_ms,optional"`
}

// IdentityConfig configures the identity service connection.
type IdentityConfig struct {
	BaseURL      string `hcl:"base_url"`
	TenantID     string `hcl:"tenant_id"`
	APIKey       string `hcl:"api_key"`
	TokenURL     string `hcl:"token_url"`
	MaxRetries   int    `hcl:"max_retries,optional"`
	RetryDelayMs int    `hcl:"retry_delay_ms,optional"`
	TimeoutMs    int    `hcl:"timeout_ms,optional"`
}

// KeyvaultConfig configures the key service connection.
type KeyvaultConfig struct {
	BaseURL      string `hcl:"base_url"`
	InstanceID   string `hcl:"instance_id"`
	APIKey       string `hcl:"api_key"`
	TokenURL     string `hcl:"token_url"`
	MaxRetries   int    `hcl:"max_retries,optional"`
	RetryDelayMs int    `hcl:"retry_delay_ms,optional"`
	TimeoutMs    int    `hcl:"timeout_ms,optional"`
}

// NewConfig parses and validates the configuration file at path. Validation
// happens here, before any token acquisition or network activity.
func NewConfig(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every configured block. All three service blocks are
// required.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Docstore == nil {
		result = multierror.Append(result, fmt.Errorf("docstore block is required"))
	} else if err := c.Docstore.validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("docstore: %w", err))
	}

	if c.Identity == nil {
		result = multierror.Append(result, fmt.Errorf("identity block is required"))
	} else if err := c.Identity.validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("identity: %w", err))
	}

	if c.Keyvault == nil {
		result = multierror.Append(result, fmt.Errorf("keyvault block is required"))
	} else if err := c.Keyvault.validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("keyvault: %w", err))
	}

	return result.ErrorOrNil()
}

func (c *DocstoreConfig) validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required.Error("base_url is required")),
		validation.Field(&c.APIKey, validation.Required.Error("api_key is required")),
		validation.Field(&c.TokenURL, validation.Required.Error("token_url is required")),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.RetryDelayMs, validation.Min(0)),
		validation.Field(&c.TimeoutMs, validation.Min(0)),
	)
}

func (c *IdentityConfig) validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required.Error("base_url is required")),
		validation.Field(&c.TenantID, validation.Required.Error("tenant_id is required")),
		validation.Field(&c.APIKey, validation.Required.Error("api_key is required")),
		validation.Field(&c.TokenURL, validation.Required.Error("token_url is required")),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.RetryDelayMs, validation.Min(0)),
		validation.Field(&c.TimeoutMs, validation.Min(0)),
	)
}

func (c *KeyvaultConfig) validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required.Error("base_url is required")),
		validation.Field(&c.InstanceID, validation.Required.Error("instance_id is required")),
		validation.Field(&c.APIKey, validation.Required.Error("api_key is required")),
		validation.Field(&c.TokenURL, validation.Required.Error("token_url is required")),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.RetryDelayMs, validation.Min(0)),
		validation.Field(&c.TimeoutMs, validation.Min(0)),
	)
}

func remoteConfig(baseURL string, maxRetries, retryDelayMs, timeoutMs int) *remote.Config {
	cfg := remote.DefaultConfig()
	cfg.BaseURL = baseURL
	if maxRetries > 0 {
		cfg.MaxRetries = maxRetries
	}
	if retryDelayMs > 0 {
		cfg.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	}
	if timeoutMs > 0 {
		cfg.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return cfg
}

func tokenSource(tokenURL, apiKey string, retry *remote.Config, log hclog.Logger) (credentials.TokenSource, error) {
	cfg := remote.DefaultConfig()
	cfg.BaseURL = tokenURL
	cfg.MaxRetries = retry.MaxRetries
	cfg.RetryDelay = retry.RetryDelay
	cfg.Timeout = retry.Timeout
	return credentials.NewAPIKeyTokenSource(cfg, apiKey, "", log)
}

// RemoteConfig builds the connection settings for the document store.
func (c *DocstoreConfig) RemoteConfig() *remote.Config {
	return remoteConfig(c.BaseURL, c.MaxRetries, c.RetryDelayMs, c.TimeoutMs)
}

// TokenSource builds the token source for the document store.
func (c *DocstoreConfig) TokenSource(log hclog.Logger) (credentials.TokenSource, error) {
	return tokenSource(c.TokenURL, c.APIKey, c.RemoteConfig(), log)
}

// RemoteConfig builds the connection settings for the identity service.
func (c *IdentityConfig) RemoteConfig() *remote.Config {
	return remoteConfig(c.BaseURL, c.MaxRetries, c.RetryDelayMs, c.TimeoutMs)
}

// TokenSource builds the management token source for the identity service.
func (c *IdentityConfig) TokenSource(log hclog.Logger) (credentials.TokenSource, error) {
	return tokenSource(c.TokenURL, c.APIKey, c.RemoteConfig(), log)
}

// RemoteConfig builds the connection settings for the key service.
func (c *KeyvaultConfig) RemoteConfig() *remote.Config {
	return remoteConfig(c.BaseURL, c.MaxRetries, c.RetryDelayMs, c.TimeoutMs)
}

// TokenSource builds the token source for the key service.
func (c *KeyvaultConfig) TokenSource(log hclog.Logger) (credentials.TokenSource, error) {
	return tokenSource(c.TokenURL, c.APIKey, c.RemoteConfig(), log)
}
