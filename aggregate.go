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

// maxAggregations is the protocol cap on aggregations per query.
const maxAggregations = 5

// StructuredAggregationQuery is the compiled wire shape of an aggregation
// query.
type StructuredAggregationQuery struct {
	StructuredQuery *StructuredQuery `json:"structuredQuery"`
	Aggregations    []Aggregation    `json:"aggregations"`
}

// Aggregation is one aliased count/sum/avg over the base query.
type Aggregation struct {
	Alias string            `json:"alias,omitempty"`
	Count *CountAggregation `json:"count,omitempty"`
	Sum   *FieldAggregation `json:"sum,omitempty"`
	Avg   *FieldAggregation `json:"avg,omitempty"`
}

// CountAggregation counts matching documents, optionally stopping at UpTo.
type CountAggregation struct {
	UpTo int64 `json:"upTo,string,omitempty"`
}

// FieldAggregation aggregates over one field.
type FieldAggregation struct {
	Field FieldReference `json:"field"`
}

// AggregationRunner executes a compiled aggregation query and returns the
// single result row (alias to wire value).
type AggregationRunner func(ctx context.Context, parent string, saq *StructuredAggregationQuery) (map[string]Value, error)

// AggregateQuery assembles a structured aggregation (between 1 and 5
// count/sum/avg clauses) over a base query.
type AggregateQuery struct {
	q      *Query
	runner AggregationRunner
	aggs   []Aggregation
}

// NewAggregationQuery starts an aggregation over the query. The runner is
// inherited from the query's client unless overridden with RunWith.
func (q *Query) NewAggregationQuery() *AggregateQuery {
	return &AggregateQuery{q: q, runner: q.aggRunner}
}

// RunWith replaces the runner executing this aggregation.
func (a *AggregateQuery) RunWith(runner AggregationRunner) *AggregateQuery {
	a.runner = runner
	return a
}

// Count appends a count aggregation. An empty alias defaults to "count".
func (a *AggregateQuery) Count(alias string) *AggregateQuery {
	return a.CountUpTo(alias, 0)
}

// CountUpTo appends a count aggregation that stops counting at upTo
// (0 means unbounded). An empty alias defaults to "count".
func (a *AggregateQuery) CountUpTo(alias string, upTo int64) *AggregateQuery {
	if alias == "" {
		alias = "count"
	}
	a.aggs = append(a.aggs, Aggregation{
		Alias: alias,
		Count: &CountAggregation{UpTo: upTo},
	})
	return a
}

// Sum appends a sum aggregation over field. An empty alias defaults to
// "sum_<field>".
func (a *AggregateQuery) Sum(field, alias string) *AggregateQuery {
	if alias == "" {
		alias = "sum_" + field
	}
	a.aggs = append(a.aggs, Aggregation{
		Alias: alias,
		Sum:   &FieldAggregation{Field: FieldReference{FieldPath: escapeFieldPath(field)}},
	})
	return a
}

// Avg appends an average aggregation over field. An empty alias defaults to
// "avg_<field>".
func (a *AggregateQuery) Avg(field, alias string) *AggregateQuery {
	if alias == "" {
		alias = "avg_" + field
	}
	a.aggs = append(a.aggs, Aggregation{
		Alias: alias,
		Avg:   &FieldAggregation{Field: FieldReference{FieldPath: escapeFieldPath(field)}},
	})
	return a
}

// StructuredAggregationQuery compiles the aggregation to its wire shape,
// validating the 1..5 aggregation count and any latched query error.
func (a *AggregateQuery) StructuredAggregationQuery() (*StructuredAggregationQuery, error) {
	if len(a.aggs) == 0 {
		return nil, validationErr("aggregation query has no aggregations")
	}
	if len(a.aggs) > maxAggregations {
		return nil, validationErr("aggregation query has %d aggregations, the maximum is %d", len(a.aggs), maxAggregations)
	}
	sq, err := a.q.StructuredQuery()
	if err != nil {
		return nil, err
	}
	return &StructuredAggregationQuery{
		StructuredQuery: sq,
		Aggregations:    a.aggs,
	}, nil
}

// Get validates and executes the aggregation, decoding the single result row
// to native values keyed by alias.
func (a *AggregateQuery) Get(ctx context.Context) (map[string]any, error) {
	saq, err := a.StructuredAggregationQuery()
	if err != nil {
		return nil, err
	}
	if a.runner == nil {
		return nil, validationErr("aggregation query has no runner")
	}
	row, err := a.runner(ctx, a.q.parent, saq)
	if err != nil {
		return nil, err
	}
	return unwrapFields(row), nil
}
