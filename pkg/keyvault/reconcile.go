package keyvault

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Manager runs the key reconciliation workflow on top of a Client. The
// invariant it enforces: at most one key record per name survives, and the
// newest by creation timestamp wins.
//
// Concurrent EnsureKey calls with the same name race between list, delete,
// and create; callers are expected to serialize per name.
type Manager struct {
	client *Client
	log    hclog.Logger
}

// NewManager creates a reconciliation manager for the given client.
func NewManager(client *Client, log hclog.Logger) *Manager {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Manager{
		client: client,
		log:    log,
	}
}

// EnsureKey returns the ID of the newest key named name, deleting stale
// duplicates found along the way. When no key with that name exists one is
// created from payload. Callers that want an always-fresh key use CreateKey
// instead.
func (m *Manager) EnsureKey(ctx context.Context, name string, payload interface{}) (string, error) {
	survivorID, err := m.reconcileName(ctx, name)
	if err != nil {
		return "", err
	}

	if survivorID != "" {
		m.log.Debug("key already exists", "name", name, "id", survivorID)
		return survivorID, nil
	}

	return m.client.CreateKey(ctx, name, payload)
}

// CreateKey deletes every current holder of name and creates a fresh key
// from payload, returning the new ID. Prior keys under the name do not
// survive this operation.
func (m *Manager) CreateKey(ctx context.Context, name string, payload interface{}) (string, error) {
	survivorID, err := m.reconcileName(ctx, name)
	if err != nil {
		return "", err
	}

	if survivorID != "" {
		if err := m.client.DeleteKey(ctx, survivorID); err != nil {
			return "", err
		}
	}

	return m.client.CreateKey(ctx, name, payload)
}

// reconcileName scans the key listing for name, tracking the maximum
// creation timestamp seen so far and deleting the previous maximum whenever
// a later record appears. Equal timestamps are broken by listing order: the
// later-listed record is treated as newer. Returns the surviving key ID, or
// "" when no key with that name was seen.
//
// The listing is best-effort: an unreachable service looks like an empty
// listing, so the read path stays a simple existence check. Delete failures
// are fatal and aggregated, since a silently skipped delete would leave a
// stale duplicate live.
func (m *Manager) reconcileName(ctx context.Context, name string) (string, error) {
	keys := m.client.ListKeysBestEffort(ctx)

	var (
		survivorID   string
		survivorTime time.Time
		found        bool
		deleteErrs   *multierror.Error
	)

	for _, k := range keys {
		if k.Name != name {
			continue
		}

		if !found {
			survivorID = k.ID
			survivorTime = k.CreationDate
			found = true
			continue
		}

		// Later-or-equal timestamp supersedes the current survivor. The
		// equal case keeps the later-listed record, matching the stable
		// list-order tie-break.
		if !k.CreationDate.Before(survivorTime) {
			m.log.Info("deleting stale duplicate key",
				"name", name,
				"id", survivorID,
				"superseded_by", k.ID,
			)
			if err := m.client.DeleteKey(ctx, survivorID); err != nil {
				deleteErrs = multierror.Append(deleteErrs, err)
			}
			survivorID = k.ID
			survivorTime = k.CreationDate
		}
	}

	if err := deleteErrs.ErrorOrNil(); err != nil {
		return "", err
	}

	return survivorID, nil
}
