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
)

// WriteResult reports the outcome of one applied write.
type WriteResult struct {
	UpdateTime       string  `json:"updateTime,omitempty"`
	TransformResults []Value `json:"transformResults,omitempty"`
}

// RPCStatus is the per-operation status of a non-atomic batch write.
type RPCStatus struct {
	Code    int32  `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// BatchWriteResponse is the wire response of the batchWrite RPC.
type BatchWriteResponse struct {
	WriteResults []WriteResult `json:"writeResults"`
	Status       []RPCStatus   `json:"status"`
}

// BatchCommitFunc performs the batchWrite RPC for a batch's staged writes.
type BatchCommitFunc func(ctx context.Context, writes []Write) (*BatchWriteResponse, error)

// WriteBatch accumulates write operations and commits them non-atomically in
// a single RPC. After Commit the batch is empty and may be reused.
//
// A batch is owned by a single caller; nothing synchronizes concurrent use.
type WriteBatch struct {
	writeList
	commit BatchCommitFunc
}

// NewWriteBatch builds a batch rooted at the given document root, committed
// by commit. Most callers obtain batches from Client.Batch instead.
func NewWriteBatch(root string, commit BatchCommitFunc) *WriteBatch {
	return &WriteBatch{writeList: writeList{root: root}, commit: commit}
}

// Create stages a create-only write. The path must include a concrete
// document id and the write fails on the server if the document exists.
func (b *WriteBatch) Create(path string, fields map[string]any) error {
	return b.stageCreate(path, fields)
}

// Set stages an overwrite of the whole document.
func (b *WriteBatch) Set(path string, fields map[string]any) error {
	return b.stageSet(path, fields, false)
}

// SetMerge stages an overwrite limited to the given top-level fields,
// preserving the rest of the document.
func (b *WriteBatch) SetMerge(path string, fields map[string]any) error {
	return b.stageSet(path, fields, true)
}

// Update stages an overwrite that requires the document to exist.
func (b *WriteBatch) Update(path string, fields map[string]any) error {
	return b.stageUpdate(path, fields, nil, false)
}

// UpdateMasked stages a masked update that requires the document to exist.
// With no explicit mask paths the mask covers the given field names; an
// empty resulting mask is a validation error.
func (b *WriteBatch) UpdateMasked(path string, fields map[string]any, mask ...string) error {
	return b.stageUpdate(path, fields, mask, true)
}

// Delete stages a delete by document path.
func (b *WriteBatch) Delete(path string) error {
	return b.stageDelete(path)
}

// Transform stages server-side field transforms for one document.
func (b *WriteBatch) Transform(path string, transforms map[string]TransformOp) error {
	return b.stageTransform(path, transforms)
}

// Size reports the number of staged writes.
func (b *WriteBatch) Size() int { return b.size() }

// Commit sends all staged writes in one RPC and clears the batch whether or
// not the call succeeds.
//
// Writes are NOT atomic: the response carries a status per operation, and
// when any status is non-zero Commit returns a *PartialCommitError naming
// the first failing index. Operations before it may already have taken
// effect.
func (b *WriteBatch) Commit(ctx context.Context) ([]WriteResult, error) {
	if b.size() == 0 {
		return nil, validationErr("commit of an empty batch")
	}
	writes := b.writes
	b.clear()

	resp, err := b.commit(ctx, writes)
	if err != nil {
		return nil, err
	}
	for i, st := range resp.Status {
		if st.Code != 0 {
			return resp.WriteResults, &PartialCommitError{
				Index:   i,
				Code:    st.Code,
				Message: st.Message,
			}
		}
	}
	return resp.WriteResults, nil
}
