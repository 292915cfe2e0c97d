package identity

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/tildeworks/steward/pkg/credentials"
	"github.com/tildeworks/steward/pkg/remote"
)

// ProvisionState tracks how far a provisioning run progressed. Mutations
// applied before a mid-sequence failure are not rolled back; the state lets
// a retry resume diagnosis from the last completed step instead of guessing.
type ProvisionState int

const (
	StateNotStarted ProvisionState = iota
	StateAccountCreated
	StateRolesAssigned
	StateAttributesSet
)

// String returns the state name for logs.
func (s ProvisionState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateAccountCreated:
		return "account_created"
	case StateRolesAssigned:
		return "roles_assigned"
	case StateAttributesSet:
		return "attributes_set"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Result reports what EnsureUser did.
type Result struct {
	// Provisioned is false when the account already existed and the
	// credentials were valid (the idempotent no-op path).
	Provisioned bool

	// State is how far provisioning progressed. StateAttributesSet means the
	// full sequence completed.
	State ProvisionState

	// UserID is the directory ID of the account, when known.
	UserID string
}

// Provisioner runs the ensure-user workflow. Each run acquires a fresh
// management token from the token source; no client state is shared between
// runs.
type Provisioner struct {
	cfg        *remote.Config
	tenantID   string
	tokens     credentials.TokenSource
	givenName  string
	familyName string
	attributes map[string]string
	log        hclog.Logger
}

// ProvisionerOptions configures a Provisioner.
type ProvisionerOptions struct {
	// Config addresses the identity service; the auth token field is
	// ignored, tokens come from Tokens.
	Config *remote.Config

	// TenantID selects the directory tenant.
	TenantID string

	// Tokens supplies management-level tokens (service API key flow, not the
	// end user's credentials).
	Tokens credentials.TokenSource

	// GivenName/FamilyName fill the fixed profile name fields on newly
	// created accounts. Defaults: "Service" / "Account".
	GivenName  string
	FamilyName string

	// Attributes are set on the new account's profile, typically the
	// tenant-identifying attribute.
	Attributes map[string]string
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(opts ProvisionerOptions, log hclog.Logger) (*Provisioner, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("identity config is required")
	}
	if opts.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("management token source is required")
	}
	if opts.GivenName == "" {
		opts.GivenName = "Service"
	}
	if opts.FamilyName == "" {
		opts.FamilyName = "Account"
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Provisioner{
		cfg:        opts.Config,
		tenantID:   opts.TenantID,
		tokens:     opts.Tokens,
		givenName:  opts.GivenName,
		familyName: opts.FamilyName,
		attributes: opts.Attributes,
		log:        log,
	}, nil
}

// EnsureUser makes sure an account exists for username with the given
// password, fully provisioned with every grantable role and the configured
// profile attributes.
//
// A successful login short-circuits: the account is considered provisioned
// and nothing is mutated. A failed login is treated as "user does not exist"
// even though the remote cannot distinguish that from a wrong password; the
// subsequent create surfaces a conflict in the latter case.
//
// Any failure mid-sequence aborts the remaining steps. Already-applied
// mutations stay in place; the returned Result reports how far the run got.
func (p *Provisioner) EnsureUser(ctx context.Context, username, password string) (*Result, error) {
	result := &Result{State: StateNotStarted}

	loginClient, err := NewClient(p.cfg, p.tenantID, p.log)
	if err != nil {
		return result, err
	}

	if _, err := loginClient.Login(ctx, username, password); err == nil {
		p.log.Info("user already provisioned", "username", username)
		return result, nil
	}

	p.log.Info("login failed, provisioning account", "username", username)
	result.Provisioned = true

	// Management client with a fresh token for this run.
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to acquire management token: %w", err)
	}
	mgmt, err := NewClient(p.cfg.WithToken(token), p.tenantID, p.log)
	if err != nil {
		return result, err
	}

	// Role IDs must be known before the account can be granted them.
	roles, err := mgmt.ListRoles(ctx)
	if err != nil {
		return result, err
	}
	roleIDs := make([]string, len(roles))
	for i, r := range roles {
		roleIDs[i] = r.ID
	}

	account := UserAccount{
		Name: Name{
			GivenName:  p.givenName,
			FamilyName: p.familyName,
		},
		Emails: []Email{{Value: username, Primary: true}},
		Active: true,
	}
	if err := mgmt.CreateUser(ctx, account, password); err != nil {
		return result, err
	}
	result.State = StateAccountCreated

	// Logging in verifies the account took, and the directory listing is
	// where the new account's ID comes from.
	if _, err := loginClient.Login(ctx, username, password); err != nil {
		return result, fmt.Errorf("new account failed verification login: %w", err)
	}
	created, err := mgmt.FindUserByEmail(ctx, username)
	if err != nil {
		return result, err
	}
	if created == nil {
		return result, fmt.Errorf("created account %s not found in directory listing", username)
	}
	result.UserID = created.ID

	if err := mgmt.SetUserRoles(ctx, created.ID, roleIDs); err != nil {
		return result, err
	}
	result.State = StateRolesAssigned

	if len(p.attributes) > 0 {
		if err := mgmt.SetUserAttributes(ctx, created.ID, p.attributes); err != nil {
			return result, err
		}
	}
	result.State = StateAttributesSet

	p.log.Info("user provisioned",
		"username", username,
		"user_id", created.ID,
		"roles", len(roleIDs),
	)
	return result, nil
}
