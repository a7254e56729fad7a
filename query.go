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

	"go.chromium.org/luci/common/data/stringset"
)

// nameFieldPath is the reserved field path that orders and projects by
// document name.
const nameFieldPath = "__name__"

// Direction orders query results.
type Direction string

// The two wire sort directions.
const (
	Ascending  Direction = "ASCENDING"
	Descending Direction = "DESCENDING"
)

// StructuredQuery is the compiled wire shape of a query.
type StructuredQuery struct {
	Select  *Projection          `json:"select,omitempty"`
	From    []CollectionSelector `json:"from,omitempty"`
	Where   *FilterSpec          `json:"where,omitempty"`
	OrderBy []Order              `json:"orderBy,omitempty"`
	StartAt *Cursor              `json:"startAt,omitempty"`
	EndAt   *Cursor              `json:"endAt,omitempty"`
	Offset  int32                `json:"offset,omitempty"`
	Limit   *int32               `json:"limit,omitempty"`
}

// Projection selects the fields to return.
type Projection struct {
	Fields []FieldReference `json:"fields"`
}

// CollectionSelector names one queried collection; AllDescendants makes it a
// collection-group selector.
type CollectionSelector struct {
	CollectionID   string `json:"collectionId"`
	AllDescendants bool   `json:"allDescendants,omitempty"`
}

// Order is one orderBy clause.
type Order struct {
	Field     FieldReference `json:"field"`
	Direction Direction      `json:"direction"`
}

// Cursor is a pagination boundary: ordered field values plus an inclusivity
// flag.
type Cursor struct {
	Values []Value `json:"values"`
	Before bool    `json:"before,omitempty"`
}

// QueryRunner executes a compiled query against the remote service and
// materializes the response. Queries perform no I/O themselves.
type QueryRunner func(ctx context.Context, parent string, sq *StructuredQuery) ([]*Document, error)

// Query assembles a structured query over one or more collections or
// collection groups.
//
// It is a single owned mutable builder: every method mutates the receiver
// and returns it for chaining. Methods that cannot return an error latch the
// first failure, which then surfaces from StructuredQuery or Execute.
type Query struct {
	parent    string
	runner    QueryRunner
	aggRunner AggregationRunner

	sources    []CollectionSelector
	sourceIDs  stringset.Set
	filter     *Filter
	projection []FieldReference
	orders     []Order
	startAt    *Cursor
	endAt      *Cursor
	offset     int32
	limit      *int32

	err error
}

// NewQuery builds a query rooted at the given parent resource, executed by
// runner. Most callers obtain queries from Client.Query instead.
func NewQuery(parent string, runner QueryRunner, collections ...string) *Query {
	q := &Query{
		parent:    parent,
		runner:    runner,
		sourceIDs: stringset.New(len(collections)),
	}
	return q.AddCollections(collections...)
}

func (q *Query) recordErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

// addFilter grafts f onto the filter tree. The first filter becomes the
// root; afterwards the root is wrapped in an AND composite (if it is not one
// already) and f appended, so sequential calls conjoin.
func (q *Query) addFilter(f Filter) {
	if f.err != nil {
		q.recordErr(f.err)
		return
	}
	switch {
	case q.filter == nil:
		q.filter = &f
	case q.filter.isAnd():
		combined := q.filter.appendChild(f)
		q.filter = &combined
	default:
		combined := andFilters(*q.filter, f)
		q.filter = &combined
	}
}

// Where adds a field predicate, conjoined with any previously added filters.
// See FieldFilter for the operator and null/NaN rules.
func (q *Query) Where(field, op string, value any) *Query {
	q.addFilter(FieldFilter(field, op, value))
	return q
}

// WhereOr adds a disjunction of at least two standalone filters. If a filter
// root already exists it is combined with the OR composite under an AND.
func (q *Query) WhereOr(filters ...Filter) *Query {
	if len(filters) < 2 {
		q.recordErr(validationErr("WhereOr needs at least 2 filters, got %d", len(filters)))
		return q
	}
	for _, f := range filters {
		if f.err != nil {
			q.recordErr(f.err)
			return q
		}
	}
	q.addFilter(orFilters(filters...))
	return q
}

// Select appends projected fields. Repeated calls accumulate. A blank field
// name resolves to the reserved document-name field.
func (q *Query) Select(fields ...string) *Query {
	if len(fields) == 0 {
		fields = []string{""}
	}
	for _, f := range fields {
		if f == "" {
			f = nameFieldPath
		}
		q.projection = append(q.projection, FieldReference{FieldPath: escapeFieldPath(f)})
	}
	return q
}

// OrderBy appends a sort clause. Repeated calls accumulate.
func (q *Query) OrderBy(field string, dir Direction) *Query {
	if dir == "" {
		dir = Ascending
	}
	q.orders = append(q.orders, Order{
		Field:     FieldReference{FieldPath: escapeFieldPath(field)},
		Direction: dir,
	})
	return q
}

// Offset skips the first n results. Negative input is a validation error.
func (q *Query) Offset(n int) *Query {
	if n < 0 {
		q.recordErr(validationErr("offset %d is negative", n))
		return q
	}
	q.offset = int32(n)
	return q
}

// Limit caps the result count. Negative input is a validation error.
func (q *Query) Limit(n int) *Query {
	if n < 0 {
		q.recordErr(validationErr("limit %d is negative", n))
		return q
	}
	lim := int32(n)
	q.limit = &lim
	return q
}

// Range returns results [start, end): offset=start, limit=end-start.
// start must be less than end.
func (q *Query) Range(start, end int) *Query {
	if start < 0 || end < 0 {
		q.recordErr(validationErr("range [%d, %d) is negative", start, end))
		return q
	}
	if start >= end {
		q.recordErr(validationErr("range start %d must be less than end %d", start, end))
		return q
	}
	return q.Offset(start).Limit(end - start)
}

func (q *Query) cursor(values []any, before bool) *Cursor {
	vs := make([]Value, len(values))
	for i, raw := range values {
		v, err := NewValue(raw)
		if err != nil {
			q.recordErr(err)
			return nil
		}
		vs[i] = v
	}
	return &Cursor{Values: vs, Before: before}
}

// StartAt starts results at the boundary, inclusive. A repeated start cursor
// overwrites the prior one.
func (q *Query) StartAt(values ...any) *Query {
	if c := q.cursor(values, true); c != nil {
		q.startAt = c
	}
	return q
}

// StartAfter starts results after the boundary, exclusive.
func (q *Query) StartAfter(values ...any) *Query {
	if c := q.cursor(values, false); c != nil {
		q.startAt = c
	}
	return q
}

// EndAt ends results at the boundary, inclusive.
func (q *Query) EndAt(values ...any) *Query {
	if c := q.cursor(values, false); c != nil {
		q.endAt = c
	}
	return q
}

// EndBefore ends results before the boundary, exclusive.
func (q *Query) EndBefore(values ...any) *Query {
	if c := q.cursor(values, true); c != nil {
		q.endAt = c
	}
	return q
}

func (q *Query) addSource(id string, allDescendants bool) {
	if id == "" {
		q.recordErr(validationErr("empty collection id"))
		return
	}
	if !q.sourceIDs.Add(id) {
		return // already selected
	}
	q.sources = append(q.sources, CollectionSelector{
		CollectionID:   id,
		AllDescendants: allDescendants,
	})
}

// AddCollections appends collection selectors. Re-adding a selected id is a
// no-op.
func (q *Query) AddCollections(ids ...string) *Query {
	for _, id := range ids {
		q.addSource(id, false)
	}
	return q
}

// AddCollectionGroups appends collection-group selectors (all collections
// with the id, regardless of parent). Re-adding a selected id is a no-op.
func (q *Query) AddCollectionGroups(ids ...string) *Query {
	for _, id := range ids {
		q.addSource(id, true)
	}
	return q
}

// RemoveCollections drops the selectors with the given ids.
func (q *Query) RemoveCollections(ids ...string) *Query {
	drop := stringset.NewFromSlice(ids...)
	kept := q.sources[:0]
	for _, s := range q.sources {
		if drop.Has(s.CollectionID) {
			q.sourceIDs.Del(s.CollectionID)
			continue
		}
		kept = append(kept, s)
	}
	q.sources = kept
	return q
}

// Collections reports the currently selected collection ids in insertion
// order.
func (q *Query) Collections() []string {
	ids := make([]string, len(q.sources))
	for i, s := range q.sources {
		ids[i] = s.CollectionID
	}
	return ids
}

// StructuredQuery compiles the builder to its wire shape, surfacing any
// latched builder error.
func (q *Query) StructuredQuery() (*StructuredQuery, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(q.sources) == 0 {
		return nil, validationErr("query has no collection selectors")
	}
	sq := &StructuredQuery{
		From:    q.sources,
		OrderBy: q.orders,
		StartAt: q.startAt,
		EndAt:   q.endAt,
		Offset:  q.offset,
		Limit:   q.limit,
	}
	if len(q.projection) > 0 {
		sq.Select = &Projection{Fields: q.projection}
	}
	if q.filter != nil {
		spec, err := q.filter.spec()
		if err != nil {
			return nil, err
		}
		sq.Where = &spec
	}
	return sq, nil
}

// Execute compiles the query and hands it to the runner, which owns
// serialization, the RPC, and response materialization.
func (q *Query) Execute(ctx context.Context) ([]*Document, error) {
	sq, err := q.StructuredQuery()
	if err != nil {
		return nil, err
	}
	return q.runner(ctx, q.parent, sq)
}
