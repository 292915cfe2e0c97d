// Package identity is a thin client for the managed identity service:
// password-grant login plus directory management (users, roles, profile
// attributes), and the ensure-user provisioning workflow built on top.
package identity

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"

	"github.com/tildeworks/steward/pkg/remote"
)

// UserAccount is a directory account as reported by the identity service.
type UserAccount struct {
	ID     string  `json:"id"`
	Name   Name    `json:"name"`
	Emails []Email `json:"emails"`
	Active bool    `json:"active"`
}

// Name holds the profile name fields.
type Name struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

// Email is a directory email entry; the primary entry doubles as the login
// username.
type Email struct {
	Value   string `json:"value"`
	Primary bool   `json:"primary"`
}

// PrimaryEmail returns the account's primary email, falling back to the
// first entry.
func (u *UserAccount) PrimaryEmail() string {
	for _, e := range u.Emails {
		if e.Primary {
			return e.Value
		}
	}
	if len(u.Emails) > 0 {
		return u.Emails[0].Value
	}
	return ""
}

// Role is a grantable role in the directory.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client wraps the identity service REST API for one tenant. Management
// operations require a client constructed with a management-level token;
// Login works without one.
type Client struct {
	client   *remote.Client
	tenantID string
	log      hclog.Logger
}

// NewClient creates an identity service client bound to a tenant.
// Construction is pure and fails fast on missing configuration.
func NewClient(cfg *remote.Config, tenantID string, log hclog.Logger) (*Client, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	rc, err := remote.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	return &Client{
		client:   rc,
		tenantID: tenantID,
		log:      log,
	}, nil
}

func (c *Client) managementPath(suffix string) string {
	return fmt.Sprintf("/management/v1/%s%s", url.PathEscape(c.tenantID), suffix)
}

// Login performs a password-grant login and returns the user's access token.
// A failed login surfaces the remote error untouched; callers decide whether
// to treat it as "wrong password" or "no such account" (the remote does not
// distinguish the two).
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}

	err := c.client.Do(ctx, remote.Request{
		Method:      "POST",
		Path:        fmt.Sprintf("/oauth/v1/%s/token", url.PathEscape(c.tenantID)),
		RawBody:     []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("login failed for %s: %w", username, err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("login for %s returned no access token", username)
	}

	return resp.AccessToken, nil
}

// ListUsers returns every account in the tenant directory.
func (c *Client) ListUsers(ctx context.Context) ([]UserAccount, error) {
	var resp struct {
		Users []UserAccount `json:"users"`
	}
	err := c.client.Do(ctx, remote.Request{
		Method: "GET",
		Path:   c.managementPath("/users"),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return resp.Users, nil
}

// FindUserByEmail looks an account up by primary email in the directory
// listing. Returns nil when no account matches.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*UserAccount, error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		for _, e := range users[i].Emails {
			if e.Value == email {
				return &users[i], nil
			}
		}
	}
	return nil, nil
}

// CreateUser provisions a new directory account.
func (c *Client) CreateUser(ctx context.Context, account UserAccount, password string) error {
	body := struct {
		UserAccount
		Password string `json:"password"`
	}{
		UserAccount: account,
		Password:    password,
	}

	err := c.client.Do(ctx, remote.Request{
		Method: "POST",
		Path:   c.managementPath("/users"),
		Body:   body,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", account.PrimaryEmail(), err)
	}

	c.log.Info("created directory account", "email", account.PrimaryEmail())
	return nil
}

// ListRoles returns every grantable role in the tenant.
func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	var resp struct {
		Roles []Role `json:"roles"`
	}
	err := c.client.Do(ctx, remote.Request{
		Method: "GET",
		Path:   c.managementPath("/roles"),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return resp.Roles, nil
}

// SetUserRoles assigns the given role IDs to an account, replacing its
// current set.
func (c *Client) SetUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	body := map[string]interface{}{
		"roles": map[string]interface{}{
			"ids": roleIDs,
		},
	}

	err := c.client.Do(ctx, remote.Request{
		Method: "PUT",
		Path:   c.managementPath("/users/" + url.PathEscape(userID) + "/roles"),
		Body:   body,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to set roles for user %s: %w", userID, err)
	}

	c.log.Info("assigned roles", "user_id", userID, "role_count", len(roleIDs))
	return nil
}

// SetUserAttributes merges the given attributes into an account's profile.
func (c *Client) SetUserAttributes(ctx context.Context, userID string, attributes map[string]string) error {
	body := map[string]interface{}{
		"attributes": attributes,
	}

	err := c.client.Do(ctx, remote.Request{
		Method: "PUT",
		Path:   c.managementPath("/users/" + url.PathEscape(userID) + "/profile"),
		Body:   body,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to set attributes for user %s: %w", userID, err)
	}

	c.log.Info("set profile attributes", "user_id", userID)
	return nil
}

// Healthy reports whether the service's public-key endpoint answers. The
// check is best-effort: an unreachable service reads as unhealthy, never as
// an error.
func (c *Client) Healthy(ctx context.Context) bool {
	var resp struct {
		Keys []interface{} `json:"keys"`
	}
	return c.client.DoBestEffort(ctx, remote.Request{
		Method: "GET",
		Path:   fmt.Sprintf("/oauth/v1/%s/publickeys", url.PathEscape(c.tenantID)),
	}, &resp)
}
