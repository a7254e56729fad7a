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
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

func TestQueryFilters(t *testing.T) {
	t.Parallel()

	ftt.Run("Query filters", t, func(t *ftt.Test) {
		q := NewQuery(testRoot, nil, "cities")

		t.Run("single Where is the filter root", func(t *ftt.Test) {
			sq, err := q.Where("pop", ">", 100).StructuredQuery()
			assert.NoErr(t, err)
			assert.Loosely(t, sq.Where.FieldFilter, should.NotBeNil)
			assert.Loosely(t, sq.Where.FieldFilter.Op, should.Equal("GREATER_THAN"))
		})

		t.Run("sequential Wheres conjoin under one AND", func(t *ftt.Test) {
			sq, err := q.
				Where("a", "==", 1).
				Where("b", ">", 2).
				Where("c", "<", 3).
				StructuredQuery()
			assert.NoErr(t, err)
			comp := sq.Where.CompositeFilter
			assert.Loosely(t, comp, should.NotBeNil)
			assert.Loosely(t, comp.Op, should.Equal("AND"))
			assert.Loosely(t, comp.Filters, should.HaveLength(3))
			assert.Loosely(t, comp.Filters[0].FieldFilter.Field.FieldPath, should.Equal("a"))
			assert.Loosely(t, comp.Filters[2].FieldFilter.Op, should.Equal("LESS_THAN"))
		})

		t.Run("WhereOr alone is the filter root", func(t *ftt.Test) {
			sq, err := q.WhereOr(
				FieldFilter("state", "==", "CA"),
				FieldFilter("state", "==", "WA"),
			).StructuredQuery()
			assert.NoErr(t, err)
			comp := sq.Where.CompositeFilter
			assert.Loosely(t, comp.Op, should.Equal("OR"))
			assert.Loosely(t, comp.Filters, should.HaveLength(2))
		})

		t.Run("WhereOr after Where nests under the AND", func(t *ftt.Test) {
			sq, err := q.
				Where("pop", ">", 100).
				WhereOr(FieldFilter("state", "==", "CA"), FieldFilter("state", "==", "WA")).
				StructuredQuery()
			assert.NoErr(t, err)
			root := sq.Where.CompositeFilter
			assert.Loosely(t, root.Op, should.Equal("AND"))
			assert.Loosely(t, root.Filters, should.HaveLength(2))
			assert.Loosely(t, root.Filters[0].FieldFilter, should.NotBeNil)
			assert.Loosely(t, root.Filters[1].CompositeFilter.Op, should.Equal("OR"))
		})

		t.Run("WhereOr with fewer than 2 filters is rejected", func(t *ftt.Test) {
			_, err := q.WhereOr(FieldFilter("a", "==", 1)).StructuredQuery()
			assert.Loosely(t, err, should.ErrLike("at least 2 filters"))
			assert.Loosely(t, ValidationErrTag.In(err), should.BeTrue)
		})

		t.Run("Where with nil compiles to IS_NULL", func(t *ftt.Test) {
			sq, err := q.Where("deleted", "==", nil).StructuredQuery()
			assert.NoErr(t, err)
			assert.Loosely(t, sq.Where.UnaryFilter.Op, should.Equal("IS_NULL"))
		})

		t.Run("bad operator surfaces at compile time", func(t *ftt.Test) {
			_, err := q.Where("a", "<>", 1).StructuredQuery()
			assert.Loosely(t, err, should.ErrLike("invalid filter operator"))
		})
	})
}

func TestQueryBuilder(t *testing.T) {
	t.Parallel()

	ftt.Run("Query builder", t, func(t *ftt.Test) {
		q := NewQuery(testRoot, nil, "cities")

		t.Run("Select accumulates and maps blank to __name__", func(t *ftt.Test) {
			sq, err := q.Select("name").Select().StructuredQuery()
			assert.NoErr(t, err)
			assert.Loosely(t, sq.Select.Fields, should.Match([]FieldReference{
				{FieldPath: "name"},
				{FieldPath: "__name__"},
			}))
		})

		t.Run("OrderBy defaults to ascending", func(t *ftt.Test) {
			sq, err := q.OrderBy("pop", "").OrderBy("name", Descending).StructuredQuery()
			assert.NoErr(t, err)
			assert.Loosely(t, sq.OrderBy, should.Match([]Order{
				{Field: FieldReference{FieldPath: "pop"}, Direction: Ascending},
				{Field: FieldReference{FieldPath: "name"}, Direction: Descending},
			}))
		})

		t.Run("Range maps to offset and limit", func(t *ftt.Test) {
			sq, err := q.Range(2, 5).StructuredQuery()
			assert.NoErr(t, err)
			assert.Loosely(t, sq.Offset, should.Equal(int32(2)))
			assert.Loosely(t, *sq.Limit, should.Equal(int32(3)))
		})

		t.Run("inverted Range is rejected", func(t *ftt.Test) {
			_, err := q.Range(5, 2).StructuredQuery()
			assert.Loosely(t, err, should.ErrLike("must be less than"))
		})

		t.Run("negative Offset and Limit are rejected", func(t *ftt.Test) {
			_, err := NewQuery(testRoot, nil, "c").Offset(-1).StructuredQuery()
			assert.Loosely(t, err, should.ErrLike("negative"))

			_, err = NewQuery(testRoot, nil, "c").Limit(-1).StructuredQuery()
			assert.Loosely(t, err, should.ErrLike("negative"))
		})

		t.Run("cursors carry the inclusivity flag", func(t *ftt.Test) {
			sq, err := q.StartAt(100).EndBefore(500).StructuredQuery()
			assert.NoErr(t, err)
			assert.Loosely(t, sq.StartAt.Before, should.BeTrue)
			assert.Loosely(t, sq.StartAt.Values[0].Equal(IntegerValue(100)), should.BeTrue)
			assert.Loosely(t, sq.EndAt.Before, should.BeTrue)

			sq, err = q.StartAfter(200).EndAt(400).StructuredQuery()
			assert.NoErr(t, err)
			assert.Loosely(t, sq.StartAt.Before, should.BeFalse)
			assert.Loosely(t, sq.EndAt.Before, should.BeFalse)
		})

		t.Run("a repeated cursor overwrites the prior one", func(t *ftt.Test) {
			sq, err := q.StartAt(1).StartAt(2).StructuredQuery()
			assert.NoErr(t, err)
			assert.Loosely(t, sq.StartAt.Values, should.HaveLength(1))
			assert.Loosely(t, sq.StartAt.Values[0].Equal(IntegerValue(2)), should.BeTrue)
		})

		t.Run("the first latched error wins", func(t *ftt.Test) {
			_, err := q.Offset(-1).Limit(-2).StructuredQuery()
			assert.Loosely(t, err, should.ErrLike("offset -1"))
		})
	})
}

func TestQuerySources(t *testing.T) {
	t.Parallel()

	ftt.Run("Query sources", t, func(t *ftt.Test) {
		t.Run("re-adding a collection is a no-op", func(t *ftt.Test) {
			q := NewQuery(testRoot, nil, "a", "b", "a")
			assert.Loosely(t, q.Collections(), should.Match([]string{"a", "b"}))
		})

		t.Run("groups set allDescendants", func(t *ftt.Test) {
			q := NewQuery(testRoot, nil).AddCollectionGroups("landmarks")
			sq, err := q.StructuredQuery()
			assert.NoErr(t, err)
			assert.Loosely(t, sq.From, should.Match([]CollectionSelector{
				{CollectionID: "landmarks", AllDescendants: true},
			}))
		})

		t.Run("RemoveCollections drops and allows re-adding", func(t *ftt.Test) {
			q := NewQuery(testRoot, nil, "a", "b", "c").RemoveCollections("b")
			assert.Loosely(t, q.Collections(), should.Match([]string{"a", "c"}))
			q.AddCollections("b")
			assert.Loosely(t, q.Collections(), should.Match([]string{"a", "c", "b"}))
		})

		t.Run("a query with no sources does not compile", func(t *ftt.Test) {
			_, err := NewQuery(testRoot, nil).StructuredQuery()
			assert.Loosely(t, err, should.ErrLike("no collection selectors"))
		})

		t.Run("an empty collection id is rejected", func(t *ftt.Test) {
			_, err := NewQuery(testRoot, nil, "").StructuredQuery()
			assert.Loosely(t, err, should.ErrLike("empty collection id"))
		})
	})
}

func TestQueryExecute(t *testing.T) {
	t.Parallel()

	ftt.Run("Execute", t, func(t *ftt.Test) {
		t.Run("hands the compiled query to the runner", func(t *ftt.Test) {
			var gotParent string
			var gotSQ *StructuredQuery
			runner := func(ctx context.Context, parent string, sq *StructuredQuery) ([]*Document, error) {
				gotParent = parent
				gotSQ = sq
				return []*Document{{Name: testRoot + "/cities/LA"}}, nil
			}
			docs, err := NewQuery(testRoot, runner, "cities").Where("pop", ">", 100).Execute(context.Background())
			assert.NoErr(t, err)
			assert.Loosely(t, docs, should.HaveLength(1))
			assert.Loosely(t, gotParent, should.Equal(testRoot))
			assert.Loosely(t, gotSQ.From[0].CollectionID, should.Equal("cities"))
			assert.Loosely(t, gotSQ.Where.FieldFilter, should.NotBeNil)
		})

		t.Run("a latched error skips the runner", func(t *ftt.Test) {
			called := false
			runner := func(ctx context.Context, parent string, sq *StructuredQuery) ([]*Document, error) {
				called = true
				return nil, nil
			}
			_, err := NewQuery(testRoot, runner, "cities").Limit(-1).Execute(context.Background())
			assert.Loosely(t, err, should.ErrLike("negative"))
			assert.Loosely(t, called, should.BeFalse)
		})
	})
}
