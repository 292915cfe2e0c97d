// Package docstore is a thin client for the managed document store:
// partitioned databases, design-document views, document CRUD, bulk upsert,
// and server-side UUID minting.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"github.com/tildeworks/steward/pkg/randid"
	"github.com/tildeworks/steward/pkg/remote"
)

// Client wraps the document store REST API. One client is created per
// top-level operation with a freshly acquired token.
type Client struct {
	client *remote.Client
	log    hclog.Logger
}

// NewClient creates a document store client. Construction is pure and fails
// fast on invalid configuration.
func NewClient(cfg *remote.Config, log hclog.Logger) (*Client, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	rc, err := remote.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create document store client: %w", err)
	}

	return &Client{
		client: rc,
		log:    log,
	}, nil
}

// DatabaseExists reports whether the named database exists. The check is
// best-effort: an unreachable store reads as "does not exist".
func (c *Client) DatabaseExists(ctx context.Context, db string) bool {
	return c.client.DoBestEffort(ctx, remote.Request{
		Method: "GET",
		Path:   "/" + url.PathEscape(db),
	}, nil)
}

// EnsureDatabase creates the named database with partitioning enabled when
// it does not already exist. Creating an existing database is tolerated.
func (c *Client) EnsureDatabase(ctx context.Context, db string) error {
	if c.DatabaseExists(ctx, db) {
		c.log.Debug("database already exists", "db", db)
		return nil
	}

	err := c.client.Do(ctx, remote.Request{
		Method: "PUT",
		Path:   "/" + url.PathEscape(db),
		Query:  url.Values{"partitioned": {"true"}},
	}, nil)
	if err != nil {
		// Another writer may have created it between the check and the PUT.
		var re *remote.Error
		if errors.As(err, &re) && re.StatusCode == http.StatusPreconditionFailed {
			c.log.Debug("database created concurrently", "db", db)
			return nil
		}
		return fmt.Errorf("failed to create database %s: %w", db, err)
	}

	c.log.Info("created database", "db", db, "partitioned", true)
	return nil
}

// View is a single map/reduce view inside a design document.
type View struct {
	Map    string `json:"map"`
	Reduce string `json:"reduce,omitempty"`
}

// DesignDocument defines the secondary indexes for a database.
type DesignDocument struct {
	ID       string          `json:"_id"`
	Rev      string          `json:"_rev,omitempty"`
	Language string          `json:"language,omitempty"`
	Views    map[string]View `json:"views"`
	Options  struct {
		Partitioned bool `json:"partitioned"`
	} `json:"options"`
}

// EnsureDesignDocument creates or updates the design document, carrying the
// current revision forward when one already exists.
func (c *Client) EnsureDesignDocument(ctx context.Context, db string, ddoc DesignDocument) error {
	if ddoc.ID == "" {
		return fmt.Errorf("design document requires an _id")
	}
	if ddoc.Language == "" {
		ddoc.Language = "javascript"
	}

	path := "/" + url.PathEscape(db) + "/" + ddoc.ID

	// Fetch the current revision; absence (or an unreachable store) means a
	// plain create.
	var current struct {
		Rev string `json:"_rev"`
	}
	if c.client.DoBestEffort(ctx, remote.Request{Method: "GET", Path: path}, &current) {
		ddoc.Rev = current.Rev
	}

	err := c.client.Do(ctx, remote.Request{
		Method: "PUT",
		Path:   path,
		Body:   ddoc,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to write design document %s/%s: %w", db, ddoc.ID, err)
	}

	c.log.Info("wrote design document", "db", db, "ddoc", ddoc.ID, "views", len(ddoc.Views))
	return nil
}

// UUIDs mints n identifiers from the store's UUID service. When the service
// is unreachable the identifiers are generated locally instead, so callers
// always get n usable IDs back.
func (c *Client) UUIDs(ctx context.Context, n int) []string {
	var resp struct {
		UUIDs []string `json:"uuids"`
	}
	ok := c.client.DoBestEffort(ctx, remote.Request{
		Method: "GET",
		Path:   "/_uuids",
		Query:  url.Values{"count": {strconv.Itoa(n)}},
	}, &resp)
	if ok && len(resp.UUIDs) == n {
		return resp.UUIDs
	}

	c.log.Warn("uuid service degraded, generating identifiers locally", "count", n)
	ids := make([]string, n)
	for i := range ids {
		ids[i] = randid.New().Compact()
	}
	return ids
}
