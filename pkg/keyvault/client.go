// Package keyvault is a thin client for the managed key service: named key
// records carrying base64-encoded JSON payloads, plus the reconciliation
// workflow that keeps at most one live key per name.
package keyvault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/tildeworks/steward/pkg/remote"
)

// KeyRecord is a single named key as reported by the key service. Payload is
// an opaque base64-encoded JSON blob; this codebase never decrypts or
// interprets it.
type KeyRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreationDate time.Time `json:"creationDate"`
	Payload      string    `json:"payload,omitempty"`
}

// Client wraps the key service REST API. One client is created per top-level
// operation with a freshly acquired token.
type Client struct {
	client     *remote.Client
	instanceID string
	log        hclog.Logger
}

// NewClient creates a key service client. Construction is pure and fails
// fast on missing configuration.
func NewClient(cfg *remote.Config, instanceID string, log hclog.Logger) (*Client, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instance_id is required")
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	rc, err := remote.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create key service client: %w", err)
	}

	return &Client{
		client:     rc,
		instanceID: instanceID,
		log:        log,
	}, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"X-Service-Instance-Id": c.instanceID,
	}
}

// keyEnvelope is the wire shape shared by list, get, and create responses.
type keyEnvelope struct {
	Resources []KeyRecord `json:"resources"`
}

// ListKeys returns every key record in the instance.
func (c *Client) ListKeys(ctx context.Context) ([]KeyRecord, error) {
	var env keyEnvelope
	err := c.client.Do(ctx, remote.Request{
		Method:  "GET",
		Path:    "/api/v2/keys",
		Headers: c.headers(),
	}, &env)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return env.Resources, nil
}

// ListKeysBestEffort returns every key record, degrading to an empty list
// with a warning when the service is unreachable. Callers treat "no keys"
// and "service temporarily down" identically on this path.
func (c *Client) ListKeysBestEffort(ctx context.Context) []KeyRecord {
	var env keyEnvelope
	c.client.DoBestEffort(ctx, remote.Request{
		Method:  "GET",
		Path:    "/api/v2/keys",
		Headers: c.headers(),
	}, &env)
	return env.Resources
}

// GetKey fetches a single key record including its payload.
func (c *Client) GetKey(ctx context.Context, id string) (*KeyRecord, error) {
	var env keyEnvelope
	err := c.client.Do(ctx, remote.Request{
		Method:  "GET",
		Path:    "/api/v2/keys/" + url.PathEscape(id),
		Headers: c.headers(),
	}, &env)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", id, err)
	}
	if len(env.Resources) == 0 {
		return nil, fmt.Errorf("key %s: empty response", id)
	}
	return &env.Resources[0], nil
}

// GetKeyBestEffort fetches a single key record, returning nil when the key
// is absent or the service is unreachable.
func (c *Client) GetKeyBestEffort(ctx context.Context, id string) *KeyRecord {
	var env keyEnvelope
	ok := c.client.DoBestEffort(ctx, remote.Request{
		Method:  "GET",
		Path:    "/api/v2/keys/" + url.PathEscape(id),
		Headers: c.headers(),
	}, &env)
	if !ok || len(env.Resources) == 0 {
		return nil
	}
	return &env.Resources[0]
}

// CreateKey encodes payload as base64 JSON and submits a create request,
// returning the new key's ID. Failures propagate: silently swallowing a
// failed create would corrupt the one-key-per-name invariant.
func (c *Client) CreateKey(ctx context.Context, name string, payload interface{}) (string, error) {
	encoded, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload for key %q: %w", name, err)
	}

	body := keyEnvelope{
		Resources: []KeyRecord{{
			Name:    name,
			Payload: encoded,
		}},
	}

	var env keyEnvelope
	err = c.client.Do(ctx, remote.Request{
		Method:  "POST",
		Path:    "/api/v2/keys",
		Headers: c.headers(),
		Body:    body,
	}, &env)
	if err != nil {
		return "", fmt.Errorf("failed to create key %q: %w", name, err)
	}
	if len(env.Resources) == 0 || env.Resources[0].ID == "" {
		return "", fmt.Errorf("create key %q: response carries no key ID", name)
	}

	c.log.Info("created key", "name", name, "id", env.Resources[0].ID)
	return env.Resources[0].ID, nil
}

// DeleteKey removes a key by ID. Delete-by-id is idempotent on the remote,
// so the call is safe to retry; a 404 is treated as already deleted.
func (c *Client) DeleteKey(ctx context.Context, id string) error {
	err := c.client.Do(ctx, remote.Request{
		Method:  "DELETE",
		Path:    "/api/v2/keys/" + url.PathEscape(id),
		Headers: c.headers(),
	}, nil)
	if err != nil && !remote.IsNotFound(err) {
		return fmt.Errorf("failed to delete key %s: %w", id, err)
	}

	c.log.Info("deleted key", "id", id)
	return nil
}

// encodePayload marshals payload to JSON and base64-encodes the result, the
// wire format the key service expects for key material.
func encodePayload(payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodePayload reverses encodePayload into result.
func DecodePayload(encoded string, result interface{}) error {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to base64-decode payload: %w", err)
	}
	if err := json.Unmarshal(b, result); err != nil {
		return fmt.Errorf("failed to decode payload JSON: %w", err)
	}
	return nil
}
