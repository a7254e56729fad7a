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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"time"

	"go.chromium.org/luci/common/errors"
)

// ValueKind enumerates the wire types a Value can hold.
type ValueKind int

// The closed set of wire value kinds.
const (
	VKNull ValueKind = iota
	VKBoolean
	VKInteger
	VKDouble
	VKTimestamp
	VKString
	VKBytes
	VKReference
	VKGeoPoint
	VKArray
	VKMap
)

var valueKindNames = map[ValueKind]string{
	VKNull:      "VKNull",
	VKBoolean:   "VKBoolean",
	VKInteger:   "VKInteger",
	VKDouble:    "VKDouble",
	VKTimestamp: "VKTimestamp",
	VKString:    "VKString",
	VKBytes:     "VKBytes",
	VKReference: "VKReference",
	VKGeoPoint:  "VKGeoPoint",
	VKArray:     "VKArray",
	VKMap:       "VKMap",
}

func (k ValueKind) String() string {
	if s, ok := valueKindNames[k]; ok {
		return s
	}
	return "VKUnknown"
}

// LatLng is a geographic point. A value of this shape encodes as the wire
// geoPointValue.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Value is the tagged wire value of a document field.
//
// It is a closed union: exactly one of the kind payloads is meaningful, and
// the zero Value is the null value. Integers are carried as decimal strings
// on the wire to avoid precision loss.
type Value struct {
	kind ValueKind

	b   bool
	i   int64
	f   float64
	t   time.Time
	s   string // string and reference payloads
	bs  []byte
	geo LatLng
	arr []Value
	m   map[string]Value
}

// NullValue returns the null Value. It is also the zero Value.
func NullValue() Value { return Value{kind: VKNull} }

// BooleanValue returns a boolean Value.
func BooleanValue(b bool) Value { return Value{kind: VKBoolean, b: b} }

// IntegerValue returns an integer Value.
func IntegerValue(i int64) Value { return Value{kind: VKInteger, i: i} }

// DoubleValue returns a double Value. NaN and infinities are representable.
func DoubleValue(f float64) Value { return Value{kind: VKDouble, f: f} }

// TimestampValue returns a timestamp Value, truncated to millisecond
// precision (the finest granularity the protocol guarantees to round-trip).
func TimestampValue(t time.Time) Value {
	return Value{kind: VKTimestamp, t: t.Truncate(time.Millisecond)}
}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: VKString, s: s} }

// BytesValue returns a bytes Value.
func BytesValue(bs []byte) Value { return Value{kind: VKBytes, bs: bs} }

// ReferenceValue returns a document-reference Value for a full resource name
// ("projects/.../databases/.../documents/...").
func ReferenceValue(name string) Value { return Value{kind: VKReference, s: name} }

// GeoPointValue returns a geographic point Value.
func GeoPointValue(ll LatLng) Value { return Value{kind: VKGeoPoint, geo: ll} }

// ArrayValue returns an array Value of the given elements.
func ArrayValue(vs ...Value) Value { return Value{kind: VKArray, arr: vs} }

// MapValue returns a map Value of the given fields.
func MapValue(fields map[string]Value) Value { return Value{kind: VKMap, m: fields} }

// Kind reports which member of the union this Value holds.
func (v Value) Kind() ValueKind { return v.kind }

// Equal reports whether two Values are the same wire value. NaN doubles
// compare equal to each other; timestamps compare as instants.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case VKNull:
		return true
	case VKBoolean:
		return v.b == o.b
	case VKInteger:
		return v.i == o.i
	case VKDouble:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case VKTimestamp:
		return v.t.Equal(o.t)
	case VKString, VKReference:
		return v.s == o.s
	case VKBytes:
		return bytes.Equal(v.bs, o.bs)
	case VKGeoPoint:
		return v.geo == o.geo
	case VKArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case VKMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, vv := range v.m {
			ov, ok := o.m[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// NewValue encodes a native Go value as a wire Value.
//
// nil encodes as null; bool as boolean; every integer kind as integer;
// float32/float64 as double; string as string, except strings matching the
// document resource-name pattern which encode as reference; time.Time as
// timestamp (millisecond precision); []byte as bytes; LatLng as geoPoint;
// slices as array and string-keyed maps as map, both recursively. Named
// types of those underlying kinds are upconverted. Anything else is a
// validation error.
func NewValue(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return x, nil
	case bool:
		return BooleanValue(x), nil
	case int:
		return IntegerValue(int64(x)), nil
	case int8:
		return IntegerValue(int64(x)), nil
	case int16:
		return IntegerValue(int64(x)), nil
	case int32:
		return IntegerValue(int64(x)), nil
	case int64:
		return IntegerValue(x), nil
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return IntegerValue(int64(x)), nil
	case uint16:
		return IntegerValue(int64(x)), nil
	case uint32:
		return IntegerValue(int64(x)), nil
	case uint64:
		return uintValue(x)
	case float32:
		return DoubleValue(float64(x)), nil
	case float64:
		return DoubleValue(x), nil
	case string:
		if isDocumentName(x) {
			return ReferenceValue(x), nil
		}
		return StringValue(x), nil
	case []byte:
		return BytesValue(x), nil
	case time.Time:
		return TimestampValue(x), nil
	case LatLng:
		return GeoPointValue(x), nil
	case *LatLng:
		if x == nil {
			return NullValue(), nil
		}
		return GeoPointValue(*x), nil
	case []any:
		arr := make([]Value, len(x))
		for i, el := range x {
			ev, err := NewValue(el)
			if err != nil {
				return Value{}, err
			}
			arr[i] = ev
		}
		return Value{kind: VKArray, arr: arr}, nil
	case map[string]any:
		return newMapValue(x)
	}
	return newValueReflect(v)
}

func uintValue(x uint64) (Value, error) {
	if x > math.MaxInt64 {
		return Value{}, validationErr("integer %d overflows the wire integer range", x)
	}
	return IntegerValue(int64(x)), nil
}

func newMapValue(m map[string]any) (Value, error) {
	fields, err := wrapFields(m)
	if err != nil {
		return Value{}, err
	}
	return Value{kind: VKMap, m: fields}, nil
}

// newValueReflect handles named types and slice/map kinds that the fast
// path's type switch does not enumerate.
func newValueReflect(v any) (Value, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return BooleanValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntegerValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintValue(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return DoubleValue(rv.Float()), nil
	case reflect.String:
		return NewValue(rv.String())
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return NullValue(), nil
		}
		return NewValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		arr := make([]Value, rv.Len())
		for i := range arr {
			ev, err := NewValue(rv.Index(i).Interface())
			if err != nil {
				return Value{}, err
			}
			arr[i] = ev
		}
		return Value{kind: VKArray, arr: arr}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, validationErr("cannot encode map with %s keys", rv.Type().Key())
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := NewValue(iter.Value().Interface())
			if err != nil {
				return Value{}, err
			}
			fields[iter.Key().String()] = ev
		}
		return Value{kind: VKMap, m: fields}, nil
	}
	return Value{}, validationErr("cannot encode value of type %T", v)
}

// Interface decodes the Value back into a native Go value, the exact inverse
// of NewValue: null→nil, boolean→bool, integer→int64, double→float64,
// timestamp→time.Time, string and reference→string, bytes→[]byte,
// geoPoint→LatLng, array→[]any, map→map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case VKNull:
		return nil
	case VKBoolean:
		return v.b
	case VKInteger:
		return v.i
	case VKDouble:
		return v.f
	case VKTimestamp:
		return v.t
	case VKString, VKReference:
		return v.s
	case VKBytes:
		return v.bs
	case VKGeoPoint:
		return v.geo
	case VKArray:
		out := make([]any, len(v.arr))
		for i, el := range v.arr {
			out[i] = el.Interface()
		}
		return out
	case VKMap:
		return unwrapFields(v.m)
	}
	return nil
}

// wrapFields encodes a native field map.
func wrapFields(fields map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(fields))
	for k, raw := range fields {
		v, err := NewValue(raw)
		if err != nil {
			return nil, errors.Fmt("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// unwrapFields decodes a wire field map.
func unwrapFields(fields map[string]Value) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v.Interface()
	}
	return out
}

type arrayPayload struct {
	Values []Value `json:"values,omitempty"`
}

type mapPayload struct {
	Fields map[string]Value `json:"fields,omitempty"`
}

// MarshalJSON emits the tagged single-key wire object for this Value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case VKNull:
		return []byte(`{"nullValue":null}`), nil
	case VKBoolean:
		return marshalTagged("booleanValue", v.b)
	case VKInteger:
		return marshalTagged("integerValue", strconv.FormatInt(v.i, 10))
	case VKDouble:
		switch {
		case math.IsNaN(v.f):
			return marshalTagged("doubleValue", "NaN")
		case math.IsInf(v.f, 1):
			return marshalTagged("doubleValue", "Infinity")
		case math.IsInf(v.f, -1):
			return marshalTagged("doubleValue", "-Infinity")
		default:
			return marshalTagged("doubleValue", v.f)
		}
	case VKTimestamp:
		return marshalTagged("timestampValue", v.t.UTC().Format(time.RFC3339Nano))
	case VKString:
		return marshalTagged("stringValue", v.s)
	case VKBytes:
		return marshalTagged("bytesValue", base64.StdEncoding.EncodeToString(v.bs))
	case VKReference:
		return marshalTagged("referenceValue", v.s)
	case VKGeoPoint:
		return marshalTagged("geoPointValue", v.geo)
	case VKArray:
		return marshalTagged("arrayValue", arrayPayload{Values: v.arr})
	case VKMap:
		return marshalTagged("mapValue", mapPayload{Fields: v.m})
	}
	return nil, errors.Fmt("firerest: cannot marshal value of kind %s", v.kind)
}

func marshalTagged(key string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{key: payload})
}

// UnmarshalJSON decodes the tagged wire object. An unrecognized or missing
// tag is an error, never silently dropped.
func (v *Value) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return errors.Fmt("firerest: malformed value: %w", err)
	}
	if len(tagged) != 1 {
		return errors.Fmt("firerest: value must carry exactly one kind, got %d", len(tagged))
	}
	for key, raw := range tagged {
		decoded, err := unmarshalTagged(key, raw)
		if err != nil {
			return err
		}
		*v = decoded
	}
	return nil
}

func unmarshalTagged(key string, raw json.RawMessage) (Value, error) {
	switch key {
	case "nullValue":
		return NullValue(), nil
	case "booleanValue":
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, errors.Fmt("firerest: bad booleanValue: %w", err)
		}
		return BooleanValue(b), nil
	case "integerValue":
		s, err := flexibleString(raw)
		if err != nil {
			return Value{}, errors.Fmt("firerest: bad integerValue: %w", err)
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, errors.Fmt("firerest: bad integerValue %q: %w", s, err)
		}
		return IntegerValue(i), nil
	case "doubleValue":
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return DoubleValue(f), nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, errors.Fmt("firerest: bad doubleValue: %w", err)
		}
		switch s {
		case "NaN":
			return DoubleValue(math.NaN()), nil
		case "Infinity":
			return DoubleValue(math.Inf(1)), nil
		case "-Infinity":
			return DoubleValue(math.Inf(-1)), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, errors.Fmt("firerest: bad doubleValue %q: %w", s, err)
		}
		return DoubleValue(f), nil
	case "timestampValue":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, errors.Fmt("firerest: bad timestampValue: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, errors.Fmt("firerest: bad timestampValue %q: %w", s, err)
		}
		return TimestampValue(t), nil
	case "stringValue":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, errors.Fmt("firerest: bad stringValue: %w", err)
		}
		return StringValue(s), nil
	case "bytesValue":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, errors.Fmt("firerest: bad bytesValue: %w", err)
		}
		bs, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, errors.Fmt("firerest: bad bytesValue: %w", err)
		}
		return BytesValue(bs), nil
	case "referenceValue":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, errors.Fmt("firerest: bad referenceValue: %w", err)
		}
		return ReferenceValue(s), nil
	case "geoPointValue":
		var ll LatLng
		if err := json.Unmarshal(raw, &ll); err != nil {
			return Value{}, errors.Fmt("firerest: bad geoPointValue: %w", err)
		}
		return GeoPointValue(ll), nil
	case "arrayValue":
		var p arrayPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Value{}, errors.Fmt("firerest: bad arrayValue: %w", err)
		}
		return Value{kind: VKArray, arr: p.Values}, nil
	case "mapValue":
		var p mapPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Value{}, errors.Fmt("firerest: bad mapValue: %w", err)
		}
		if p.Fields == nil {
			p.Fields = map[string]Value{}
		}
		return Value{kind: VKMap, m: p.Fields}, nil
	}
	return Value{}, errors.Fmt("firerest: unrecognized value kind %q", key)
}

// flexibleString accepts a JSON string or bare number and returns its text.
func flexibleString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
