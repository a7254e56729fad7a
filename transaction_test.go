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
	"strings"
	"testing"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/clock/testclock"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

// txnTransport scripts the transaction RPC suite by path suffix.
func txnTransport(commitErr func(calls int) error) *fakeTransport {
	commits := 0
	return &fakeTransport{respond: func(call recordedCall) (json.RawMessage, error) {
		switch {
		case strings.HasSuffix(call.Path, ":beginTransaction"):
			return json.RawMessage(`{"transaction": "dG9r+/=="}`), nil
		case strings.HasSuffix(call.Path, ":batchGet"):
			return json.RawMessage(`[
				{"found": {"name": "` + testRoot + `/cities/LA", "fields": {"pop": {"integerValue": "10"}}}, "readTime": "2026-01-01T00:00:00Z"},
				{"missing": "` + testRoot + `/cities/Nowhere"}
			]`), nil
		case strings.HasSuffix(call.Path, ":commit"):
			commits++
			if commitErr != nil {
				if err := commitErr(commits); err != nil {
					return nil, err
				}
			}
			return json.RawMessage(`{"writeResults": []}`), nil
		case strings.HasSuffix(call.Path, ":rollback"):
			return json.RawMessage(`{}`), nil
		}
		return json.RawMessage(`{}`), nil
	}}
}

func countCalls(ft *fakeTransport, suffix string) int {
	n := 0
	for _, call := range ft.calls {
		if strings.HasSuffix(call.Path, suffix) {
			n++
		}
	}
	return n
}

func TestTransactionLifecycle(t *testing.T) {
	t.Parallel()

	ftt.Run("Transaction lifecycle", t, func(t *ftt.Test) {
		ctx := context.Background()

		t.Run("reads and writes require an active transaction", func(t *ftt.Test) {
			txn := NewClient("p", &fakeTransport{}).NewTransaction()

			_, err := txn.Get(ctx, "cities/LA")
			assert.Loosely(t, StateErrTag.In(err), should.BeTrue)

			_, err = txn.GetAll(ctx, "cities/LA")
			assert.Loosely(t, StateErrTag.In(err), should.BeTrue)

			assert.Loosely(t, StateErrTag.In(txn.Set("cities/LA", nil)), should.BeTrue)
			assert.Loosely(t, StateErrTag.In(txn.Delete("cities/LA")), should.BeTrue)
			assert.Loosely(t, StateErrTag.In(txn.Commit(ctx)), should.BeTrue)
			assert.Loosely(t, StateErrTag.In(txn.Rollback(ctx)), should.BeTrue)
		})

		t.Run("Begin stores a URL-safe token", func(t *ftt.Test) {
			txn := NewClient("p", txnTransport(nil)).NewTransaction()
			assert.NoErr(t, txn.Begin(ctx, nil))
			assert.Loosely(t, txn.Active(), should.BeTrue)
			assert.Loosely(t, txn.ID(), should.Equal("dG9r-_=="))
		})

		t.Run("Begin twice is a state error", func(t *ftt.Test) {
			txn := NewClient("p", txnTransport(nil)).NewTransaction()
			assert.NoErr(t, txn.Begin(ctx, nil))
			err := txn.Begin(ctx, nil)
			assert.Loosely(t, err, should.ErrLike("already active"))
			assert.Loosely(t, StateErrTag.In(err), should.BeTrue)
		})

		t.Run("read-only options reach the wire", func(t *ftt.Test) {
			ft := txnTransport(nil)
			txn := NewClient("p", ft).NewTransaction()
			at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			assert.NoErr(t, txn.Begin(ctx, &TransactionOptions{ReadOnly: true, ReadTime: at}))
			assert.Loosely(t, ft.calls[0].Body, should.ContainSubstring(`"readOnly":{"readTime":"2026-01-01T00:00:00Z"}`))
		})

		t.Run("Get returns pinned documents, missing is an error", func(t *ftt.Test) {
			ft := txnTransport(nil)
			txn := NewClient("p", ft).NewTransaction()
			assert.NoErr(t, txn.Begin(ctx, nil))

			doc, err := txn.Get(ctx, "cities/LA")
			assert.NoErr(t, err)
			assert.Loosely(t, doc.Data(), should.Match(map[string]any{"pop": int64(10)}))
			assert.Loosely(t, ft.lastCall().Body, should.ContainSubstring(`"transaction":"dG9r-_=="`))

			ft.respond = func(call recordedCall) (json.RawMessage, error) {
				return json.RawMessage(`[{"missing": "` + testRoot + `/cities/Nowhere"}]`), nil
			}
			_, err = txn.Get(ctx, "cities/Nowhere")
			assert.Loosely(t, err, should.Equal(ErrNoSuchDocument))
		})

		t.Run("GetAll omits missing documents", func(t *ftt.Test) {
			txn := NewClient("p", txnTransport(nil)).NewTransaction()
			assert.NoErr(t, txn.Begin(ctx, nil))

			docs, err := txn.GetAll(ctx, "cities/LA", "cities/Nowhere")
			assert.NoErr(t, err)
			assert.Loosely(t, docs, should.HaveLength(1))
			assert.Loosely(t, docs[0].ID(), should.Equal("LA"))
		})

		t.Run("Commit sends the staged writes and resets", func(t *ftt.Test) {
			ft := txnTransport(nil)
			txn := NewClient("p", ft).NewTransaction()
			assert.NoErr(t, txn.Begin(ctx, nil))
			assert.NoErr(t, txn.Set("cities/LA", map[string]any{"pop": 11}))
			assert.Loosely(t, txn.Size(), should.Equal(1))

			assert.NoErr(t, txn.Commit(ctx))
			body := ft.lastCall().Body
			assert.Loosely(t, body, should.ContainSubstring(`"transaction":"dG9r-_=="`))
			assert.Loosely(t, body, should.ContainSubstring(`"integerValue":"11"`))
			assert.Loosely(t, txn.Active(), should.BeFalse)
			assert.Loosely(t, txn.ID(), should.BeEmpty)
			assert.Loosely(t, txn.Size(), should.BeZero)
		})

		t.Run("a read-only commit sends an empty write list", func(t *ftt.Test) {
			ft := txnTransport(nil)
			txn := NewClient("p", ft).NewTransaction()
			assert.NoErr(t, txn.Begin(ctx, nil))
			assert.NoErr(t, txn.Commit(ctx))
			assert.Loosely(t, ft.lastCall().Body, should.ContainSubstring(`"writes":[]`))
		})

		t.Run("Commit resets even when the RPC fails", func(t *ftt.Test) {
			ft := txnTransport(func(int) error {
				return &RemoteError{Code: 409, Status: "ABORTED", Message: "contention"}
			})
			txn := NewClient("p", ft).NewTransaction()
			assert.NoErr(t, txn.Begin(ctx, nil))
			assert.Loosely(t, txn.Commit(ctx), should.ErrLike("contention"))
			assert.Loosely(t, txn.Active(), should.BeFalse)
		})

		t.Run("Rollback resets and the transaction can Begin again", func(t *ftt.Test) {
			txn := NewClient("p", txnTransport(nil)).NewTransaction()
			assert.NoErr(t, txn.Begin(ctx, nil))
			assert.NoErr(t, txn.Set("cities/LA", map[string]any{"a": 1}))
			assert.NoErr(t, txn.Rollback(ctx))
			assert.Loosely(t, txn.Active(), should.BeFalse)
			assert.Loosely(t, txn.Size(), should.BeZero)

			assert.NoErr(t, txn.Begin(ctx, nil))
			assert.Loosely(t, txn.Active(), should.BeTrue)
		})
	})
}

func TestRunTransaction(t *testing.T) {
	t.Parallel()

	ftt.Run("RunTransaction", t, func(t *ftt.Test) {
		ctx, tc := testclock.UseTime(context.Background(), testclock.TestTimeUTC)
		var delays []time.Duration
		tc.SetTimerCallback(func(d time.Duration, _ clock.Timer) {
			delays = append(delays, d)
			tc.Add(d)
		})

		t.Run("commits on first success", func(t *ftt.Test) {
			ft := txnTransport(nil)
			c := NewClient("p", ft)

			err := RunTransaction(ctx, c, func(ctx context.Context, txn *Transaction) error {
				return txn.Set("cities/LA", map[string]any{"pop": 11})
			}, nil)
			assert.NoErr(t, err)
			assert.Loosely(t, countCalls(ft, ":beginTransaction"), should.Equal(1))
			assert.Loosely(t, countCalls(ft, ":commit"), should.Equal(1))
			assert.Loosely(t, countCalls(ft, ":rollback"), should.BeZero)
			assert.Loosely(t, delays, should.BeEmpty)
		})

		t.Run("retries contention with exponential backoff", func(t *ftt.Test) {
			ft := txnTransport(func(commits int) error {
				if commits <= 2 {
					return &RemoteError{Code: 409, Status: "ABORTED", Message: "transaction aborted"}
				}
				return nil
			})
			c := NewClient("p", ft)

			err := RunTransaction(ctx, c, func(ctx context.Context, txn *Transaction) error {
				return txn.Set("cities/LA", map[string]any{"pop": 11})
			}, nil)
			assert.NoErr(t, err)
			assert.Loosely(t, countCalls(ft, ":beginTransaction"), should.Equal(3))
			assert.Loosely(t, countCalls(ft, ":commit"), should.Equal(3))
			assert.Loosely(t, delays, should.Match([]time.Duration{time.Second, 2 * time.Second}))
		})

		t.Run("a failed fn rolls the attempt back", func(t *ftt.Test) {
			ft := txnTransport(nil)
			c := NewClient("p", ft)

			err := RunTransaction(ctx, c, func(ctx context.Context, txn *Transaction) error {
				return ErrNoSuchDocument
			}, nil)
			assert.Loosely(t, err, should.Equal(ErrNoSuchDocument))
			assert.Loosely(t, countCalls(ft, ":rollback"), should.Equal(1))
			assert.Loosely(t, countCalls(ft, ":commit"), should.BeZero)
			assert.Loosely(t, delays, should.BeEmpty)
		})

		t.Run("gives up after the attempt budget", func(t *ftt.Test) {
			ft := txnTransport(func(int) error {
				return &RemoteError{Code: 409, Status: "ABORTED", Message: "transaction aborted"}
			})
			c := NewClient("p", ft)

			err := RunTransaction(ctx, c, func(ctx context.Context, txn *Transaction) error {
				return nil
			}, &TransactionOptions{Attempts: 3})
			assert.Loosely(t, err, should.ErrLike("transaction aborted"))
			assert.Loosely(t, countCalls(ft, ":commit"), should.Equal(3))
			assert.Loosely(t, delays, should.Match([]time.Duration{time.Second, 2 * time.Second}))
		})

		t.Run("the backoff caps at 10s", func(t *ftt.Test) {
			ft := txnTransport(func(int) error {
				return &RemoteError{Code: 409, Status: "ABORTED", Message: "transaction aborted"}
			})
			c := NewClient("p", ft)

			err := RunTransaction(ctx, c, func(ctx context.Context, txn *Transaction) error {
				return nil
			}, &TransactionOptions{Attempts: 7})
			assert.Loosely(t, err, should.ErrLike("transaction aborted"))
			assert.Loosely(t, delays, should.Match([]time.Duration{
				time.Second,
				2 * time.Second,
				4 * time.Second,
				8 * time.Second,
				10 * time.Second,
				10 * time.Second,
			}))
		})

		t.Run("a rollback failure never masks the original error", func(t *ftt.Test) {
			ft := txnTransport(nil)
			base := ft.respond
			ft.respond = func(call recordedCall) (json.RawMessage, error) {
				if strings.HasSuffix(call.Path, ":rollback") {
					return nil, &RemoteError{Code: 500, Status: "INTERNAL", Message: "rollback broke"}
				}
				return base(call)
			}
			c := NewClient("p", ft)

			err := RunTransaction(ctx, c, func(ctx context.Context, txn *Transaction) error {
				return ErrNoSuchDocument
			}, nil)
			assert.Loosely(t, err, should.Equal(ErrNoSuchDocument))
		})
	})
}
