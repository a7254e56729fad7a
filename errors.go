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
	"fmt"
	"strings"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/errors/errtag"
)

// ValidationErrTag marks errors raised by client-side request validation
// before any RPC was attempted. They are never retried.
var ValidationErrTag = errtag.Make("the request failed client-side validation", true)

// StateErrTag marks errors caused by using a transaction in the wrong state
// (e.g. reading before Begin). They indicate a caller bug and are never
// retried.
var StateErrTag = errtag.Make("operation invalid in the current transaction state", true)

// ErrNoSuchDocument is returned when a read targets a document that does not
// exist (or exists with no fields, which the protocol reports identically).
var ErrNoSuchDocument = errors.New("firerest: no such document")

// ErrInvalidOperator is returned when a filter operator is not in the closed
// operator set.
var ErrInvalidOperator = ValidationErrTag.Apply(errors.New("firerest: invalid filter operator"))

func validationErr(format string, args ...any) error {
	return ValidationErrTag.Apply(errors.Fmt("firerest: "+format, args...))
}

func stateErr(format string, args ...any) error {
	return StateErrTag.Apply(errors.Fmt("firerest: "+format, args...))
}

// RemoteError is an error payload returned by the remote service, surfaced
// verbatim. Code and Status carry the RPC status; Message is the service's
// own description of the failure.
type RemoteError struct {
	Code    int    // canonical RPC code or HTTP status
	Status  string // e.g. "ABORTED", "NOT_FOUND"
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("firerest: remote error %d %s: %s", e.Code, e.Status, e.Message)
}

// PartialCommitError reports the first failing operation of a non-atomic
// batch commit. Writes before Index in the same commit may already have
// taken effect.
type PartialCommitError struct {
	Index   int
	Code    int32
	Message string
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("firerest: batch write %d failed with code %d: %s", e.Index, e.Code, e.Message)
}

// retryableSubstrings is the closed keyword set the transaction retry driver
// matches (case-insensitively) against error messages to decide whether a
// failed attempt may be retried.
var retryableSubstrings = []string{
	"abort",
	"conflict",
	"contention",
	"deadline exceeded",
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range retryableSubstrings {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
