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
	"math"

	"go.chromium.org/luci/common/errors"
)

// operator is the closed set of binary field-filter operators.
type operator int

const (
	opUnknown operator = iota
	opEqual
	opNotEqual
	opLessThan
	opLessThanOrEqual
	opGreaterThan
	opGreaterThanOrEqual
	opArrayContains
	opArrayContainsAny
	opIn
	opNotIn
)

func (o operator) wire() string {
	switch o {
	case opEqual:
		return "EQUAL"
	case opNotEqual:
		return "NOT_EQUAL"
	case opLessThan:
		return "LESS_THAN"
	case opLessThanOrEqual:
		return "LESS_THAN_OR_EQUAL"
	case opGreaterThan:
		return "GREATER_THAN"
	case opGreaterThanOrEqual:
		return "GREATER_THAN_OR_EQUAL"
	case opArrayContains:
		return "ARRAY_CONTAINS"
	case opArrayContainsAny:
		return "ARRAY_CONTAINS_ANY"
	case opIn:
		return "IN"
	case opNotIn:
		return "NOT_IN"
	}
	return "OPERATOR_UNSPECIFIED"
}

// parseOperator resolves the public operator spelling. Both the symbolic
// forms and the wire enum names are accepted; anything else is
// ErrInvalidOperator.
func parseOperator(op string) (operator, error) {
	switch op {
	case "==", "=", "EQUAL":
		return opEqual, nil
	case "!=", "NOT_EQUAL":
		return opNotEqual, nil
	case "<", "LESS_THAN":
		return opLessThan, nil
	case "<=", "LESS_THAN_OR_EQUAL":
		return opLessThanOrEqual, nil
	case ">", "GREATER_THAN":
		return opGreaterThan, nil
	case ">=", "GREATER_THAN_OR_EQUAL":
		return opGreaterThanOrEqual, nil
	case "array-contains", "contains", "ARRAY_CONTAINS":
		return opArrayContains, nil
	case "array-contains-any", "ARRAY_CONTAINS_ANY":
		return opArrayContainsAny, nil
	case "in", "IN":
		return opIn, nil
	case "not-in", "NOT_IN":
		return opNotIn, nil
	}
	return opUnknown, errors.Fmt("operator %q: %w", op, ErrInvalidOperator)
}

type filterKind int

const (
	fieldFilterKind filterKind = iota
	unaryFilterKind
	compositeFilterKind
)

// Filter is one node of a filter tree: a field comparison, a parameterless
// unary predicate (IS_NULL / IS_NAN), or an AND/OR composite of children.
//
// Construction errors are latched inside the Filter and surface when it is
// attached to a query.
type Filter struct {
	kind     filterKind
	field    string // escaped field path
	op       operator
	unaryOp  string // "IS_NULL" or "IS_NAN"
	compOp   string // "AND" or "OR"
	value    Value
	children []Filter
	err      error
}

// FieldFilter builds a standalone filter usable with WhereOr without
// attaching it to any query.
//
// The operator must be in the closed operator set. A nil value with an
// omitted or equality operator builds the IS_NULL unary filter; a NaN value
// with an omitted or equality operator builds IS_NAN. Any other combination
// with nil or NaN is invalid.
func FieldFilter(field, op string, value any) Filter {
	fieldPath := escapeFieldPath(field)

	equalish := op == "" || op == "==" || op == "=" || op == "EQUAL"
	if value == nil {
		if equalish {
			return Filter{kind: unaryFilterKind, field: fieldPath, unaryOp: "IS_NULL"}
		}
		return Filter{err: errors.Fmt("null with operator %q: %w", op, ErrInvalidOperator)}
	}
	if f, ok := value.(float64); ok && math.IsNaN(f) {
		if equalish {
			return Filter{kind: unaryFilterKind, field: fieldPath, unaryOp: "IS_NAN"}
		}
		return Filter{err: errors.Fmt("NaN with operator %q: %w", op, ErrInvalidOperator)}
	}

	o, err := parseOperator(op)
	if err != nil {
		return Filter{err: err}
	}
	v, err := NewValue(value)
	if err != nil {
		return Filter{err: err}
	}
	return Filter{kind: fieldFilterKind, field: fieldPath, op: o, value: v}
}

// andFilters combines filters under an AND composite.
func andFilters(children ...Filter) Filter {
	return Filter{kind: compositeFilterKind, compOp: "AND", children: children}
}

// orFilters combines filters under an OR composite.
func orFilters(children ...Filter) Filter {
	return Filter{kind: compositeFilterKind, compOp: "OR", children: children}
}

// isAnd reports whether the filter is an AND composite.
func (f Filter) isAnd() bool {
	return f.kind == compositeFilterKind && f.compOp == "AND"
}

// appendChild returns the filter with one more composite child.
func (f Filter) appendChild(child Filter) Filter {
	f.children = append(f.children, child)
	return f
}

// FilterSpec is the wire shape of one filter tree node.
type FilterSpec struct {
	FieldFilter     *FieldFilterSpec     `json:"fieldFilter,omitempty"`
	UnaryFilter     *UnaryFilterSpec     `json:"unaryFilter,omitempty"`
	CompositeFilter *CompositeFilterSpec `json:"compositeFilter,omitempty"`
}

// FieldFilterSpec is the wire shape of a field comparison.
type FieldFilterSpec struct {
	Field FieldReference `json:"field"`
	Op    string         `json:"op"`
	Value Value          `json:"value"`
}

// UnaryFilterSpec is the wire shape of an IS_NULL / IS_NAN predicate.
type UnaryFilterSpec struct {
	Field FieldReference `json:"field"`
	Op    string         `json:"op"`
}

// CompositeFilterSpec is the wire shape of an AND/OR combination.
type CompositeFilterSpec struct {
	Op      string       `json:"op"`
	Filters []FilterSpec `json:"filters"`
}

// FieldReference is the wire shape of an escaped field path.
type FieldReference struct {
	FieldPath string `json:"fieldPath"`
}

// spec compiles the filter tree to its wire shape.
func (f Filter) spec() (FilterSpec, error) {
	if f.err != nil {
		return FilterSpec{}, f.err
	}
	switch f.kind {
	case fieldFilterKind:
		return FilterSpec{FieldFilter: &FieldFilterSpec{
			Field: FieldReference{FieldPath: f.field},
			Op:    f.op.wire(),
			Value: f.value,
		}}, nil
	case unaryFilterKind:
		return FilterSpec{UnaryFilter: &UnaryFilterSpec{
			Field: FieldReference{FieldPath: f.field},
			Op:    f.unaryOp,
		}}, nil
	case compositeFilterKind:
		children := make([]FilterSpec, len(f.children))
		for i, c := range f.children {
			cs, err := c.spec()
			if err != nil {
				return FilterSpec{}, err
			}
			children[i] = cs
		}
		return FilterSpec{CompositeFilter: &CompositeFilterSpec{
			Op:      f.compOp,
			Filters: children,
		}}, nil
	}
	return FilterSpec{}, errors.New("firerest: malformed filter")
}
