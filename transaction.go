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
	"strings"
	"time"

	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry"
	"go.chromium.org/luci/common/retry/transient"
)

type txnState int

const (
	txnInactive txnState = iota
	txnActive
)

// TransactionOptions configure Begin and RunTransaction.
type TransactionOptions struct {
	// ReadOnly pins the transaction to a consistent snapshot and rejects
	// writes server-side.
	ReadOnly bool
	// ReadTime reads documents as of the given time. Requires ReadOnly.
	ReadTime time.Time
	// Attempts is the total number of attempts RunTransaction makes,
	// including the first. 0 means DefaultTransactionAttempts.
	Attempts int
}

// DefaultTransactionAttempts is the attempt budget of RunTransaction: one
// initial attempt plus five retries.
const DefaultTransactionAttempts = 6

// Transaction provides reads pinned to a server-issued transaction id and
// write staging identical to WriteBatch, committed atomically.
//
// A Transaction starts Inactive, becomes Active on Begin, and returns to
// Inactive on Commit or Rollback regardless of outcome, after which the same
// instance may Begin again.
type Transaction struct {
	writeList
	c     *Client
	id    string
	state txnState
}

// NewTransaction returns an inactive transaction bound to the client.
func (c *Client) NewTransaction() *Transaction {
	return &Transaction{writeList: writeList{root: c.root}, c: c}
}

// Active reports whether the transaction has begun and not yet committed or
// rolled back.
func (t *Transaction) Active() bool { return t.state == txnActive }

// ID returns the server-issued transaction token (URL-safe encoding), or ""
// when inactive.
func (t *Transaction) ID() string { return t.id }

func (t *Transaction) reset() {
	t.state = txnInactive
	t.id = ""
	t.clear()
}

type beginTransactionRequest struct {
	Options *transactionOptionsSpec `json:"options,omitempty"`
}

type transactionOptionsSpec struct {
	ReadOnly  *readOnlySpec `json:"readOnly,omitempty"`
	ReadWrite *struct{}     `json:"readWrite,omitempty"`
}

type readOnlySpec struct {
	ReadTime string `json:"readTime,omitempty"`
}

type beginTransactionResponse struct {
	Transaction string `json:"transaction"`
}

// Begin requests a new transaction id from the service. Valid only when
// inactive.
//
// The returned opaque token is normalized to a URL-safe encoding so it can
// be reused as a request parameter.
func (t *Transaction) Begin(ctx context.Context, opts *TransactionOptions) error {
	if t.state != txnInactive {
		return stateErr("transaction is already active")
	}
	req := &beginTransactionRequest{}
	if opts != nil && opts.ReadOnly {
		ro := &readOnlySpec{}
		if !opts.ReadTime.IsZero() {
			ro.ReadTime = opts.ReadTime.UTC().Format(time.RFC3339Nano)
		}
		req.Options = &transactionOptionsSpec{ReadOnly: ro}
	}
	var resp beginTransactionResponse
	if err := t.c.post(ctx, t.root+":beginTransaction", req, &resp); err != nil {
		return err
	}
	t.id = urlSafeToken(resp.Transaction)
	t.state = txnActive
	return nil
}

// urlSafeToken rewrites a standard-base64 token to its URL-safe alphabet.
func urlSafeToken(token string) string {
	return strings.NewReplacer("+", "-", "/", "_").Replace(token)
}

// Get performs a single read pinned to the transaction. It fails with
// ErrNoSuchDocument if the document does not exist (equivalently: has no
// fields). Valid only when active.
func (t *Transaction) Get(ctx context.Context, path string) (*Document, error) {
	if t.state != txnActive {
		return nil, stateErr("read on an inactive transaction")
	}
	name, err := documentName(t.root, path)
	if err != nil {
		return nil, err
	}
	docs, err := t.c.batchGet(ctx, []string{name}, t.id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 || len(docs[0].Fields) == 0 {
		return nil, ErrNoSuchDocument
	}
	return docs[0], nil
}

// GetAll performs a pinned batch read. Unlike Get, documents that do not
// exist are silently omitted from the result. Valid only when active.
func (t *Transaction) GetAll(ctx context.Context, paths ...string) ([]*Document, error) {
	if t.state != txnActive {
		return nil, stateErr("read on an inactive transaction")
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		name, err := documentName(t.root, p)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	return t.c.batchGet(ctx, names, t.id)
}

func (t *Transaction) checkActiveWrite() error {
	if t.state != txnActive {
		return stateErr("write on an inactive transaction")
	}
	return nil
}

// Create stages a create-only write; see WriteBatch.Create.
func (t *Transaction) Create(path string, fields map[string]any) error {
	if err := t.checkActiveWrite(); err != nil {
		return err
	}
	return t.stageCreate(path, fields)
}

// Set stages an overwrite of the whole document.
func (t *Transaction) Set(path string, fields map[string]any) error {
	if err := t.checkActiveWrite(); err != nil {
		return err
	}
	return t.stageSet(path, fields, false)
}

// SetMerge stages an overwrite limited to the given top-level fields.
func (t *Transaction) SetMerge(path string, fields map[string]any) error {
	if err := t.checkActiveWrite(); err != nil {
		return err
	}
	return t.stageSet(path, fields, true)
}

// Update stages an overwrite that requires the document to exist.
func (t *Transaction) Update(path string, fields map[string]any) error {
	if err := t.checkActiveWrite(); err != nil {
		return err
	}
	return t.stageUpdate(path, fields, nil, false)
}

// UpdateMasked stages a masked update; see WriteBatch.UpdateMasked.
func (t *Transaction) UpdateMasked(path string, fields map[string]any, mask ...string) error {
	if err := t.checkActiveWrite(); err != nil {
		return err
	}
	return t.stageUpdate(path, fields, mask, true)
}

// Delete stages a delete by document path.
func (t *Transaction) Delete(path string) error {
	if err := t.checkActiveWrite(); err != nil {
		return err
	}
	return t.stageDelete(path)
}

// Transform stages server-side field transforms for one document.
func (t *Transaction) Transform(path string, transforms map[string]TransformOp) error {
	if err := t.checkActiveWrite(); err != nil {
		return err
	}
	return t.stageTransform(path, transforms)
}

// Size reports the number of staged writes.
func (t *Transaction) Size() int { return t.size() }

type commitRequest struct {
	Writes      []Write `json:"writes"`
	Transaction string  `json:"transaction,omitempty"`
}

type commitResponse struct {
	WriteResults []WriteResult `json:"writeResults"`
}

// Commit sends the staged writes plus the transaction id in one RPC. The
// transaction resets to inactive whether or not the commit succeeds. Valid
// only when active.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != txnActive {
		return stateErr("commit of an inactive transaction")
	}
	req := &commitRequest{Writes: t.writes, Transaction: t.id}
	if req.Writes == nil {
		req.Writes = []Write{}
	}
	defer t.reset()
	var resp commitResponse
	return t.c.post(ctx, t.root+":commit", req, &resp)
}

type rollbackRequest struct {
	Transaction string `json:"transaction"`
}

// Rollback abandons the transaction with an explicit rollback RPC. The
// transaction resets to inactive whether or not the RPC succeeds. Valid only
// when active.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.state != txnActive {
		return stateErr("rollback of an inactive transaction")
	}
	defer t.reset()
	return t.c.post(ctx, t.root+":rollback", &rollbackRequest{Transaction: t.id}, nil)
}

// transactionBackoff is the retry schedule of RunTransaction: 1s, 2s, 4s,
// 8s, then 10s caps.
func transactionBackoff(retries int) retry.Factory {
	return func() retry.Iterator {
		return &retry.ExponentialBackoff{
			Limited: retry.Limited{
				Delay:   time.Second,
				Retries: retries,
			},
			Multiplier: 2,
			MaxDelay:   10 * time.Second,
		}
	}
}

// RunTransaction runs fn inside a transaction, retrying contention failures
// with exponential backoff.
//
// Each attempt begins a fresh Transaction, invokes fn, and commits. When
// begin, fn or commit fails, a still-active transaction is rolled back (a
// rollback failure is logged and swallowed so it never masks the original
// error). The failure is retried only if its message matches the fixed
// retryable keyword set (abort, conflict, contention, deadline exceeded,
// case-insensitive) and attempts remain.
//
// No state is carried across attempts, so fn must be safe to re-run.
func RunTransaction(ctx context.Context, c *Client, fn func(ctx context.Context, t *Transaction) error, opts *TransactionOptions) error {
	attempts := DefaultTransactionAttempts
	if opts != nil && opts.Attempts > 0 {
		attempts = opts.Attempts
	}
	attempt := func() error {
		t := c.NewTransaction()
		err := t.Begin(ctx, opts)
		if err == nil {
			if err = fn(ctx, t); err == nil {
				err = t.Commit(ctx)
			}
		}
		if err == nil {
			return nil
		}
		if t.Active() {
			if rbErr := t.Rollback(ctx); rbErr != nil {
				logging.Warningf(ctx, "firerest: rollback after failed attempt: %s", rbErr)
			}
		}
		if isRetryable(err) {
			err = transient.Tag.Apply(err)
		}
		return err
	}
	return retry.Retry(ctx, transient.Only(transactionBackoff(attempts-1)), attempt, func(err error, wait time.Duration) {
		logging.Warningf(ctx, "firerest: transaction attempt failed, retrying in %s: %s", wait, err)
	})
}
