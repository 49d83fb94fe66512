package polystore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strings"
)

// ValueKind identifies the variant held by a Value
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueArray
	ValueObject
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueBool:
		return "bool"
	case ValueNumber:
		return "number"
	case ValueString:
		return "string"
	case ValueArray:
		return "array"
	case ValueObject:
		return "object"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is an immutable JSON value. The zero Value is JSON null.
//
// Analyzers switch on Kind instead of asserting on interface{} so that
// every shape of input (object, array, scalar) is handled explicitly.
type Value struct {
	kind ValueKind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  map[string]Value
}

// ParseValue decodes a single JSON document. Numbers keep their literal
// form so integers and floats stay distinguishable.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Value{}, WithContext(ErrAnalysis, map[string]interface{}{
			"reason": "malformed JSON",
			"error":  err.Error(),
		})
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, WithContext(ErrAnalysis, map[string]interface{}{
			"reason": "trailing data after JSON value",
		})
	}
	return ValueOf(raw)
}

// ValueOf converts an already decoded Go value into a Value. Types that
// have no JSON representation (channels, funcs, NaN) are an analysis error.
func ValueOf(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return Value{}, nil
		}
		return *t, nil
	case bool:
		return Value{kind: ValueBool, b: t}, nil
	case json.Number:
		if _, err := t.Float64(); err != nil {
			return Value{}, unserializable(x, "invalid number literal")
		}
		return Value{kind: ValueNumber, num: t}, nil
	case float64:
		return floatValue(t)
	case float32:
		return floatValue(float64(t))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Value{kind: ValueNumber, num: json.Number(fmt.Sprint(t))}, nil
	case string:
		return Value{kind: ValueString, str: t}, nil
	case []interface{}:
		arr := make([]Value, len(t))
		for i, item := range t {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Value{kind: ValueArray, arr: arr}, nil
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Value{kind: ValueObject, obj: obj}, nil
	case json.RawMessage:
		return ParseValue(t)
	}

	// Structs, typed maps and slices go through encoding/json.
	data, err := json.Marshal(x)
	if err != nil {
		return Value{}, unserializable(x, err.Error())
	}
	return ParseValue(data)
}

func floatValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, unserializable(f, "non-finite number")
	}
	data, err := json.Marshal(f)
	if err != nil {
		return Value{}, unserializable(f, err.Error())
	}
	return Value{kind: ValueNumber, num: json.Number(data)}, nil
}

func unserializable(x interface{}, reason string) error {
	return WithContext(ErrAnalysis, map[string]interface{}{
		"reason": "non-JSON-serializable value",
		"type":   reflect.TypeOf(x).String(),
		"detail": reason,
	})
}

// Kind reports the variant held by v
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is JSON null
func (v Value) IsNull() bool { return v.kind == ValueNull }

// Bool returns the boolean value, false for other kinds
func (v Value) Bool() bool { return v.b }

// Number returns the number literal, empty for other kinds
func (v Value) Number() json.Number { return v.num }

// Float64 returns the numeric value, 0 for other kinds
func (v Value) Float64() float64 {
	f, _ := v.num.Float64()
	return f
}

// IsInteger reports whether v is a number written without fraction or exponent
func (v Value) IsInteger() bool {
	return v.kind == ValueNumber && !strings.ContainsAny(string(v.num), ".eE")
}

// Text returns the string value, empty for other kinds
func (v Value) Text() string { return v.str }

// Len returns the number of elements of an array or fields of an object
func (v Value) Len() int {
	switch v.kind {
	case ValueArray:
		return len(v.arr)
	case ValueObject:
		return len(v.obj)
	}
	return 0
}

// NewArray builds an array value from elems
func NewArray(elems []Value) Value {
	return Value{kind: ValueArray, arr: append([]Value{}, elems...)}
}

// Index returns the i-th array element
func (v Value) Index(i int) Value { return v.arr[i] }

// Elems returns the array elements. The slice must not be modified.
func (v Value) Elems() []Value { return v.arr }

// Field returns the named object field
func (v Value) Field(key string) (Value, bool) {
	f, ok := v.obj[key]
	return f, ok
}

// Keys returns the object keys in sorted order
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sample returns the representative record: the first element of a
// non-empty array, otherwise v itself.
func (v Value) Sample() Value {
	if v.kind == ValueArray && len(v.arr) > 0 {
		return v.arr[0]
	}
	return v
}

// TypeName returns the schema type name of v
func (v Value) TypeName() string {
	switch v.kind {
	case ValueBool:
		return "boolean"
	case ValueNumber:
		if v.IsInteger() {
			return "integer"
		}
		return "float"
	case ValueString:
		return "string"
	case ValueArray:
		return "array"
	case ValueObject:
		return "object"
	}
	return "null"
}

// Interface converts v back into plain Go values (map[string]interface{},
// []interface{}, json.Number, string, bool, nil).
func (v Value) Interface() interface{} {
	switch v.kind {
	case ValueBool:
		return v.b
	case ValueNumber:
		return v.num
	case ValueString:
		return v.str
	case ValueArray:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case ValueObject:
		out := make(map[string]interface{}, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	}
	return nil
}

// Equal reports structural equality. Numbers compare by value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueNull:
		return true
	case ValueBool:
		return v.b == o.b
	case ValueNumber:
		return v.num == o.num || v.Float64() == o.Float64()
	case ValueString:
		return v.str == o.str
	case ValueArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case ValueObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, item := range v.obj {
			other, ok := o.obj[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON renders compact JSON with object keys sorted. Two equal
// documents always serialize to the same bytes.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case ValueNull:
		buf.WriteString("null")
	case ValueBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case ValueNumber:
		buf.WriteString(string(v.num))
	case ValueString:
		s, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(s)
	case ValueArray:
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
	case ValueObject:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := v.obj[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// String returns the canonical JSON text of v
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}
