package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mitchellh/mapstructure"

	"github.com/tildeworks/steward/pkg/remote"
)

// WriteResult reports the outcome of a single-document mutation.
type WriteResult struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
	OK  bool   `json:"ok"`
}

// GetDocument fetches a document by ID into result.
func (c *Client) GetDocument(ctx context.Context, db, id string, result interface{}) error {
	err := c.client.Do(ctx, remote.Request{
		Method: "GET",
		Path:   "/" + url.PathEscape(db) + "/" + url.PathEscape(id),
	}, result)
	if err != nil {
		return fmt.Errorf("failed to get document %s/%s: %w", db, id, err)
	}
	return nil
}

// PutDocument writes a document under the given ID. The document must carry
// the current _rev when updating an existing document.
func (c *Client) PutDocument(ctx context.Context, db, id string, doc interface{}) (*WriteResult, error) {
	var result WriteResult
	err := c.client.Do(ctx, remote.Request{
		Method: "PUT",
		Path:   "/" + url.PathEscape(db) + "/" + url.PathEscape(id),
		Body:   doc,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to put document %s/%s: %w", db, id, err)
	}
	return &result, nil
}

// DeleteDocument removes a document. The current revision is looked up
// first; a document that is already gone is treated as deleted.
func (c *Client) DeleteDocument(ctx context.Context, db, id string) error {
	var current struct {
		Rev string `json:"_rev"`
	}
	err := c.client.Do(ctx, remote.Request{
		Method: "GET",
		Path:   "/" + url.PathEscape(db) + "/" + url.PathEscape(id),
	}, &current)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up document %s/%s for delete: %w", db, id, err)
	}

	err = c.client.Do(ctx, remote.Request{
		Method: "DELETE",
		Path:   "/" + url.PathEscape(db) + "/" + url.PathEscape(id),
		Query:  url.Values{"rev": {current.Rev}},
	}, nil)
	if err != nil && !remote.IsNotFound(err) {
		return fmt.Errorf("failed to delete document %s/%s: %w", db, id, err)
	}
	return nil
}

// BulkDocs upserts a batch of documents in one round trip.
func (c *Client) BulkDocs(ctx context.Context, db string, docs []interface{}) ([]WriteResult, error) {
	var results []WriteResult
	err := c.client.Do(ctx, remote.Request{
		Method: "POST",
		Path:   "/" + url.PathEscape(db) + "/_bulk_docs",
		Body:   map[string]interface{}{"docs": docs},
	}, &results)
	if err != nil {
		return nil, fmt.Errorf("bulk write to %s failed: %w", db, err)
	}
	return results, nil
}

// ViewRow is one row of a view query result.
type ViewRow struct {
	ID    string                 `json:"id"`
	Key   json.RawMessage        `json:"key"`
	Value json.RawMessage        `json:"value"`
	Doc   map[string]interface{} `json:"doc"`
}

// ViewOptions narrows a view query.
type ViewOptions struct {
	Key         string
	IncludeDocs bool
	Limit       int
}

// QueryView runs a partitioned view query and returns the matching rows.
func (c *Client) QueryView(ctx context.Context, db, partition, ddoc, view string, opts ViewOptions) ([]ViewRow, error) {
	query := url.Values{}
	if opts.Key != "" {
		keyJSON, err := json.Marshal(opts.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to encode view key: %w", err)
		}
		query.Set("key", string(keyJSON))
	}
	if opts.IncludeDocs {
		query.Set("include_docs", "true")
	}
	if opts.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	path := fmt.Sprintf("/%s/_partition/%s/_design/%s/_view/%s",
		url.PathEscape(db),
		url.PathEscape(partition),
		url.PathEscape(ddoc),
		url.PathEscape(view),
	)

	var resp struct {
		Rows []ViewRow `json:"rows"`
	}
	err := c.client.Do(ctx, remote.Request{
		Method: "GET",
		Path:   path,
		Query:  query,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("view query %s/%s/%s failed: %w", db, ddoc, view, err)
	}
	return resp.Rows, nil
}

// DecodeDocs decodes the included docs of rows into out, which must be a
// pointer to a slice of structs. Field matching follows json tags.
func DecodeDocs(rows []ViewRow, out interface{}) error {
	docs := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		if row.Doc != nil {
			docs = append(docs, row.Doc)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to build row decoder: %w", err)
	}
	if err := decoder.Decode(docs); err != nil {
		return fmt.Errorf("failed to decode view docs: %w", err)
	}
	return nil
}
