// Copyright 2025 The FireREST Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package firerest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.chromium.org/luci/common/errors"
)

// DefaultDatabase is the database id used when none is configured.
const DefaultDatabase = "(default)"

// Transport performs the RPCs the client compiles. Implementations own the
// base URL and authentication; path is relative to the API version root and
// may carry query parameters.
type Transport interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// ClientOptions configure NewClient beyond the required arguments.
type ClientOptions struct {
	// Database selects a named database; defaults to DefaultDatabase.
	Database string
}

// Client is a typed client for one database. All reads and writes go through
// the Transport it was constructed with; the Client itself holds no
// connection state and is cheap to copy around.
type Client struct {
	transport Transport
	projectID string
	database  string
	root      string
}

// NewClient builds a client for the project's database.
func NewClient(projectID string, t Transport, opts ...ClientOptions) *Client {
	db := DefaultDatabase
	if len(opts) > 0 && opts[0].Database != "" {
		db = opts[0].Database
	}
	return &Client{
		transport: t,
		projectID: projectID,
		database:  db,
		root:      fmt.Sprintf("projects/%s/databases/%s/documents", projectID, db),
	}
}

// Root returns the database's document root resource name,
// "projects/<project>/databases/<db>/documents".
func (c *Client) Root() string { return c.root }

// post sends one RPC and decodes the response into out (unless nil).
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := c.transport.Post(ctx, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Fmt("firerest: decoding %s response: %w", path, err)
	}
	return nil
}

// get fetches one resource and decodes the response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	raw, err := c.transport.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Fmt("firerest: decoding %s response: %w", path, err)
	}
	return nil
}

// Query starts a query over the given collections under the document root.
func (c *Client) Query(collections ...string) *Query {
	q := NewQuery(c.root, c.runQuery, collections...)
	q.aggRunner = c.runAggregationQuery
	return q
}

// QueryGroups starts a query over the given collection groups.
func (c *Client) QueryGroups(groups ...string) *Query {
	q := NewQuery(c.root, c.runQuery)
	q.aggRunner = c.runAggregationQuery
	return q.AddCollectionGroups(groups...)
}

// Batch returns an empty write batch committed through this client.
func (c *Client) Batch() *WriteBatch {
	return NewWriteBatch(c.root, c.batchWrite)
}

type runQueryRow struct {
	Document *wireDocument `json:"document,omitempty"`
	ReadTime string        `json:"readTime,omitempty"`
}

// runQuery is the QueryRunner of client-built queries.
func (c *Client) runQuery(ctx context.Context, parent string, sq *StructuredQuery) ([]*Document, error) {
	req := map[string]any{"structuredQuery": sq}
	var rows []runQueryRow
	if err := c.post(ctx, parent+":runQuery", req, &rows); err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(rows))
	for _, row := range rows {
		if row.Document == nil {
			continue // progress-only row
		}
		d, err := row.Document.document(row.ReadTime)
		if err != nil {
			return nil, errors.Fmt("firerest: decoding query result: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

type aggregationRow struct {
	Result *struct {
		AggregateFields map[string]Value `json:"aggregateFields"`
	} `json:"result,omitempty"`
	ReadTime string `json:"readTime,omitempty"`
}

// runAggregationQuery is the AggregationRunner of client-built queries.
func (c *Client) runAggregationQuery(ctx context.Context, parent string, saq *StructuredAggregationQuery) (map[string]Value, error) {
	req := map[string]any{"structuredAggregationQuery": saq}
	var rows []aggregationRow
	if err := c.post(ctx, parent+":runAggregationQuery", req, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Result != nil {
			return row.Result.AggregateFields, nil
		}
	}
	return nil, errors.New("firerest: aggregation response carried no result row")
}

// batchWrite is the BatchCommitFunc of client-built batches.
func (c *Client) batchWrite(ctx context.Context, writes []Write) (*BatchWriteResponse, error) {
	req := map[string]any{"writes": writes}
	resp := &BatchWriteResponse{}
	if err := c.post(ctx, c.root+":batchWrite", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

type batchGetRequest struct {
	Documents   []string `json:"documents"`
	Transaction string   `json:"transaction,omitempty"`
}

type batchGetRow struct {
	Found    *wireDocument `json:"found,omitempty"`
	Missing  string        `json:"missing,omitempty"`
	ReadTime string        `json:"readTime,omitempty"`
}

// batchGet reads documents by full resource name, optionally pinned to a
// transaction. Missing documents are omitted from the result.
func (c *Client) batchGet(ctx context.Context, names []string, txnID string) ([]*Document, error) {
	req := &batchGetRequest{Documents: names, Transaction: txnID}
	var rows []batchGetRow
	if err := c.post(ctx, c.root+":batchGet", req, &rows); err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(rows))
	for _, row := range rows {
		if row.Found == nil {
			continue
		}
		d, err := row.Found.document(row.ReadTime)
		if err != nil {
			return nil, errors.Fmt("firerest: decoding batch read: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// GetDocument reads a single document by path relative to the document root.
// Returns ErrNoSuchDocument if it does not exist.
func (c *Client) GetDocument(ctx context.Context, path string) (*Document, error) {
	name, err := documentName(c.root, path)
	if err != nil {
		return nil, err
	}
	var w wireDocument
	if err := c.get(ctx, name, &w); err != nil {
		var remoteErr *RemoteError
		if errors.As(err, &remoteErr) && (remoteErr.Code == 404 || remoteErr.Status == "NOT_FOUND") {
			return nil, ErrNoSuchDocument
		}
		return nil, err
	}
	if len(w.Fields) == 0 {
		return nil, ErrNoSuchDocument
	}
	return w.document("")
}

// GetDocuments reads several documents in one RPC. Missing documents are
// omitted from the result.
func (c *Client) GetDocuments(ctx context.Context, paths ...string) ([]*Document, error) {
	names := make([]string, len(paths))
	for i, p := range paths {
		name, err := documentName(c.root, p)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	return c.batchGet(ctx, names, "")
}

type listDocumentsResponse struct {
	Documents     []wireDocument `json:"documents"`
	NextPageToken string         `json:"nextPageToken"`
}

// ListDocuments reads every document of a collection, following pagination.
func (c *Client) ListDocuments(ctx context.Context, collectionPath string) ([]*Document, error) {
	name, err := collectionName(c.root, collectionPath)
	if err != nil {
		return nil, err
	}
	var docs []*Document
	pageToken := ""
	for {
		path := name
		if pageToken != "" {
			path += "?pageToken=" + url.QueryEscape(pageToken)
		}
		var resp listDocumentsResponse
		if err := c.get(ctx, path, &resp); err != nil {
			return nil, err
		}
		for i := range resp.Documents {
			d, err := resp.Documents[i].document("")
			if err != nil {
				return nil, errors.Fmt("firerest: decoding document list: %w", err)
			}
			docs = append(docs, d)
		}
		if resp.NextPageToken == "" {
			return docs, nil
		}
		pageToken = resp.NextPageToken
	}
}

// CreateDocument creates a document in the collection. With an empty id a
// random 20-character id is generated client-side. Fails if the document
// already exists.
func (c *Client) CreateDocument(ctx context.Context, collectionPath, id string, fields map[string]any) (*Document, error) {
	name, err := collectionName(c.root, collectionPath)
	if err != nil {
		return nil, err
	}
	if id == "" {
		if id, err = autoDocumentID(ctx); err != nil {
			return nil, err
		}
	}
	fv, err := wrapFields(fields)
	if err != nil {
		return nil, err
	}
	path := name + "?documentId=" + url.QueryEscape(id)
	var w wireDocument
	if err := c.post(ctx, path, &wireDocument{Fields: fv}, &w); err != nil {
		return nil, err
	}
	return w.document("")
}

// SetDocument overwrites (or creates) a document as a single-write commit.
func (c *Client) SetDocument(ctx context.Context, path string, fields map[string]any) error {
	wl := writeList{root: c.root}
	if err := wl.stageSet(path, fields, false); err != nil {
		return err
	}
	return c.commitWrites(ctx, wl.writes)
}

// UpdateDocument applies a masked update to an existing document as a
// single-write commit. With no mask paths the mask covers the given field
// names.
func (c *Client) UpdateDocument(ctx context.Context, path string, fields map[string]any, mask ...string) error {
	wl := writeList{root: c.root}
	if err := wl.stageUpdate(path, fields, mask, true); err != nil {
		return err
	}
	return c.commitWrites(ctx, wl.writes)
}

// DeleteDocument deletes a document as a single-write commit.
func (c *Client) DeleteDocument(ctx context.Context, path string) error {
	wl := writeList{root: c.root}
	if err := wl.stageDelete(path); err != nil {
		return err
	}
	return c.commitWrites(ctx, wl.writes)
}

func (c *Client) commitWrites(ctx context.Context, writes []Write) error {
	return c.post(ctx, c.root+":commit", &commitRequest{Writes: writes}, nil)
}

type listCollectionIDsResponse struct {
	CollectionIDs []string `json:"collectionIds"`
	NextPageToken string   `json:"nextPageToken"`
}

// Collections lists the ids of the collections directly under a document
// (or under the root with an empty path), following pagination.
func (c *Client) Collections(ctx context.Context, documentPath string) ([]string, error) {
	parent := c.root
	if documentPath != "" {
		name, err := documentName(c.root, documentPath)
		if err != nil {
			return nil, err
		}
		parent = name
	}
	var ids []string
	pageToken := ""
	for {
		req := map[string]any{}
		if pageToken != "" {
			req["pageToken"] = pageToken
		}
		var resp listCollectionIDsResponse
		if err := c.post(ctx, parent+":listCollectionIds", req, &resp); err != nil {
			return nil, err
		}
		ids = append(ids, resp.CollectionIDs...)
		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}
