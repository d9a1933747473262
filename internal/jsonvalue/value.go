// Package jsonvalue provides a tagged representation of free-form JSON
// documents.
//
// Documents in the store have no fixed schema, so content is carried as a
// Value rather than a Go struct. A Value is immutable once built; the
// constructors and Parse copy their inputs.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"unicode/utf8"
)

// Kind identifies the JSON type held by a Value.
type Kind int

const (
	// KindNull is the JSON null literal. The zero Value is null.
	KindNull Kind = iota
	// KindBool is true or false.
	KindBool
	// KindNumber is a JSON number, kept in its textual form.
	KindNumber
	// KindString is a JSON string.
	KindString
	// KindArray is an ordered list of values.
	KindArray
	// KindObject is a set of string-keyed members.
	KindObject
)

// String returns the JSON name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// ErrSyntax is returned by Parse when the input is not exactly one JSON value.
var ErrSyntax = errors.New("invalid JSON")

// Value is a JSON value of any kind.
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a number value from its JSON text. It fails if n is not a
// valid JSON number.
func Number(n string) (Value, error) {
	if n == "" || !(n[0] == '-' || (n[0] >= '0' && n[0] <= '9')) || !json.Valid([]byte(n)) {
		return Value{}, fmt.Errorf("%w: bad number %q", ErrSyntax, n)
	}
	return Value{kind: KindNumber, n: json.Number(n)}, nil
}

// Int returns a number value holding i.
func Int(i int64) Value {
	return Value{kind: KindNumber, n: json.Number(fmt.Sprintf("%d", i))}
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array holding a copy of items.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

// Object returns an object holding a copy of members.
func Object(members map[string]Value) Value {
	cp := make(map[string]Value, len(members))
	for k, v := range members {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

// Parse decodes exactly one JSON value from data. Trailing non-whitespace
// input and invalid UTF-8 are syntax errors.
func Parse(data []byte) (Value, error) {
	if !utf8.Valid(data) {
		return Value{}, fmt.Errorf("%w: invalid UTF-8", ErrSyntax)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("%w: trailing data after value", ErrSyntax)
	}
	return FromAny(raw)
}

// FromAny converts the output of encoding/json (or any tree of maps, slices,
// strings, bools, numbers and nil) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(string(t))
	case string:
		return String(t), nil
	case float64:
		return Number(formatFloat(t))
	case float32:
		return Number(formatFloat(float64(t)))
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case int32:
		return Int(int64(t)), nil
	case uint64:
		return Value{kind: KindNumber, n: json.Number(fmt.Sprintf("%d", t))}, nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return Value{kind: KindArray, arr: items}, nil
	case map[string]any:
		members := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			members[k] = v
		}
		return Value{kind: KindObject, obj: members}, nil
	default:
		// Fall back to a JSON round trip for structs and other types.
		data, err := json.Marshal(x)
		if err != nil {
			return Value{}, fmt.Errorf("unsupported type %T: %w", x, err)
		}
		return Parse(data)
	}
}

func formatFloat(f float64) string {
	data, err := json.Marshal(f)
	if err != nil {
		return "0"
	}
	return string(data)
}

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number text held by v.
func (v Value) AsNumber() (json.Number, bool) { return v.n, v.kind == KindNumber }

// AsText returns the string held by v.
func (v Value) AsText() (string, bool) { return v.s, v.kind == KindString }

// Text returns the string held by v, or "" when v is not a string.
func (v Value) Text() string { return v.s }

// Len returns the number of items of an array or members of an object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// Index returns the i'th array item, or null when out of range or v is not
// an array.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Null()
	}
	return v.arr[i]
}

// Items returns a copy of the array items.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.arr))
	copy(cp, v.arr)
	return cp
}

// Get returns the object member named key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Null(), false
	}
	m, ok := v.obj[key]
	return m, ok
}

// Lookup follows a chain of object keys and returns null if any step is
// missing.
func (v Value) Lookup(path ...string) Value {
	cur := v
	for _, key := range path {
		next, ok := cur.Get(key)
		if !ok {
			return Null()
		}
		cur = next
	}
	return cur
}

// Keys returns the object member names in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of the object v with key set to member. A non-object
// v is treated as an empty object.
func (v Value) With(key string, member Value) Value {
	members := make(map[string]Value, len(v.obj)+1)
	if v.kind == KindObject {
		for k, m := range v.obj {
			members[k] = m
		}
	}
	members[key] = member
	return Value{kind: KindObject, obj: members}
}

// ToAny converts v to plain Go values: nil, bool, json.Number, string,
// []any and map[string]any.
func (v Value) ToAny() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, m := range v.obj {
			out[k] = m.ToAny()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether v and o are structurally equal. Numbers compare by
// numeric value, so 1.0 equals 1 and 1e2 equals 100.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return numbersEqual(v.n, o.n)
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, m := range v.obj {
			om, ok := o.obj[k]
			if !ok || !m.Equal(om) {
				return false
			}
		}
		return true
	}
	return false
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	ra, ok := new(big.Rat).SetString(string(a))
	if !ok {
		return false
	}
	rb, ok := new(big.Rat).SetString(string(b))
	if !ok {
		return false
	}
	return ra.Cmp(rb) == 0
}

// MarshalJSON encodes v compactly with object keys in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes data with the same rules as Parse.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// String returns the compact JSON encoding of v.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return string(data)
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(string(v.n))
	case KindString:
		if err := encodeString(buf, v.s); err != nil {
			return err
		}
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := v.obj[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown kind %d", v.kind)
	}
	return nil
}

// encodeString writes s as a JSON string without HTML escaping, so & < >
// survive a save unchanged.
func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// Pretty encodes v as two-space indented JSON followed by a newline. This is
// the on-disk document format.
func Pretty(v Value) ([]byte, error) {
	compact, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
