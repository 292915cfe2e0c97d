// Package credentials supplies bearer tokens for the service clients. The
// default source exchanges a service API key for a short-lived token; each
// top-level operation fetches a fresh token unless the caller opts into the
// caching source.
package credentials

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"

	"github.com/tildeworks/steward/pkg/remote"
)

// TokenSource supplies a bearer token for authenticated calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same pre-issued token on every call.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("static token is empty")
	}
	return string(s), nil
}

// APIKeyTokenSource exchanges a service API key for a bearer token at a
// token endpoint. Failures from the endpoint are propagated as-is.
type APIKeyTokenSource struct {
	client *remote.Client
	apiKey string
	path   string
}

// NewAPIKeyTokenSource creates a token source for the given endpoint. cfg's
// BaseURL addresses the token service; tokenPath defaults to "/token".
func NewAPIKeyTokenSource(cfg *remote.Config, apiKey, tokenPath string, log hclog.Logger) (*APIKeyTokenSource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if tokenPath == "" {
		tokenPath = "/token"
	}

	client, err := remote.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create token client: %w", err)
	}

	return &APIKeyTokenSource{
		client: client,
		apiKey: apiKey,
		path:   tokenPath,
	}, nil
}

// Token posts the API key as a form grant and returns the issued bearer
// token.
func (s *APIKeyTokenSource) Token(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"apikey"},
		"apikey":     {s.apiKey},
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}

	err := s.client.Do(ctx, remote.Request{
		Method:      "POST",
		Path:        s.path,
		RawBody:     []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}

	if resp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	return resp.AccessToken, nil
}
