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
	"testing"

	"go.chromium.org/luci/common/data/rand/cryptorand"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

const testRoot = "projects/p/databases/(default)/documents"

func TestPaths(t *testing.T) {
	t.Parallel()

	ftt.Run("documentName", t, func(t *ftt.Test) {
		t.Run("resolves relative paths", func(t *ftt.Test) {
			name, err := documentName(testRoot, "cities/LA")
			assert.NoErr(t, err)
			assert.Loosely(t, name, should.Equal(testRoot+"/cities/LA"))
		})

		t.Run("accepts already-absolute names", func(t *ftt.Test) {
			name, err := documentName(testRoot, testRoot+"/cities/LA")
			assert.NoErr(t, err)
			assert.Loosely(t, name, should.Equal(testRoot+"/cities/LA"))
		})

		t.Run("tolerates stray slashes", func(t *ftt.Test) {
			name, err := documentName(testRoot, "/cities/LA/")
			assert.NoErr(t, err)
			assert.Loosely(t, name, should.Equal(testRoot+"/cities/LA"))
		})

		t.Run("rejects collection paths", func(t *ftt.Test) {
			_, err := documentName(testRoot, "cities")
			assert.Loosely(t, err, should.ErrLike("missing a document id"))
			assert.Loosely(t, ValidationErrTag.In(err), should.BeTrue)
		})

		t.Run("rejects empty segments", func(t *ftt.Test) {
			_, err := documentName(testRoot, "cities//LA/x")
			assert.Loosely(t, err, should.ErrLike("empty segment"))
		})
	})

	ftt.Run("collectionName", t, func(t *ftt.Test) {
		name, err := collectionName(testRoot, "cities/LA/landmarks")
		assert.NoErr(t, err)
		assert.Loosely(t, name, should.Equal(testRoot+"/cities/LA/landmarks"))

		_, err = collectionName(testRoot, "cities/LA")
		assert.Loosely(t, err, should.ErrLike("does not name a collection"))
	})
}

func TestEscapeFieldPath(t *testing.T) {
	t.Parallel()

	ftt.Run("escapeFieldPath", t, func(t *ftt.Test) {
		t.Run("leaves simple identifiers alone", func(t *ftt.Test) {
			assert.Loosely(t, escapeFieldPath("a.b_2.c"), should.Equal("a.b_2.c"))
		})

		t.Run("quotes awkward segments", func(t *ftt.Test) {
			assert.Loosely(t, escapeFieldPath("a.the city.b"), should.Equal("a.`the city`.b"))
			assert.Loosely(t, escapeFieldPath("1st"), should.Equal("`1st`"))
		})

		t.Run("round-trips the quote character itself", func(t *ftt.Test) {
			assert.Loosely(t, escapeFieldPath("a`b"), should.Equal("`a\\`b`"))
			assert.Loosely(t, escapeFieldPath(`a\b`), should.Equal("`a\\\\b`"))
		})
	})
}

func TestAutoDocumentID(t *testing.T) {
	t.Parallel()

	ftt.Run("autoDocumentID", t, func(t *ftt.Test) {
		ctx := cryptorand.MockForTest(context.Background(), 0)
		id, err := autoDocumentID(ctx)
		assert.NoErr(t, err)
		assert.Loosely(t, id, should.HaveLength(autoIDLength))
		for _, r := range id {
			assert.Loosely(t, strings.ContainsRune(autoIDAlphabet, r), should.BeTrue)
		}

		other, err := autoDocumentID(context.Background())
		assert.NoErr(t, err)
		assert.Loosely(t, other, should.NotEqual(id))
	})
}
