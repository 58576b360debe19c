// ABOUTME: Schema-less structured value used for contexts, extras and breadcrumb data
// ABOUTME: Tagged union over null, bool, number, string, list and map with JSON encoding

package scope

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

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
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable structured value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value. Non-finite numbers are rejected when the
// value reaches a Scope setter.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int is a convenience for Number(float64(i)).
func Int(i int64) Value { return Number(float64(i)) }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list value holding copies of vs.
func List(vs ...Value) Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = v.Clone()
	}
	return Value{kind: KindList, list: out}
}

// Map returns a map value holding copies of m.
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: cloneValues(m)}
}

// ValueOf converts a plain Go value into a Value. Supported inputs are nil,
// bool, integer and float kinds, string, []any, []string, []Value,
// map[string]any, map[string]string, map[string]Value and Value itself.
func ValueOf(v any) (Value, error) {
	return valueOf("value", v)
}

// MustValue is like ValueOf but panics on unsupported input. Intended for
// literals in tests and static setup code.
func MustValue(v any) Value {
	out, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return out
}

func valueOf(path string, v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		if err := x.validate(path); err != nil {
			return Value{}, err
		}
		return x.Clone(), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case float32:
		return checkedNumber(path, float64(x))
	case float64:
		return checkedNumber(path, x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, invalid(path, "number %q: %v", x.String(), err)
		}
		return checkedNumber(path, f)
	case []Value:
		if err := validateList(path, x); err != nil {
			return Value{}, err
		}
		return List(x...), nil
	case []string:
		out := make([]Value, len(x))
		for i, s := range x {
			out[i] = String(s)
		}
		return Value{kind: KindList, list: out}, nil
	case []any:
		out := make([]Value, len(x))
		for i, item := range x {
			conv, err := valueOf(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return Value{}, err
			}
			out[i] = conv
		}
		return Value{kind: KindList, list: out}, nil
	case map[string]Value:
		if err := validateMap(path, x); err != nil {
			return Value{}, err
		}
		return Map(x), nil
	case map[string]string:
		out := make(map[string]Value, len(x))
		for k, s := range x {
			out[k] = String(s)
		}
		return Value{kind: KindMap, m: out}, nil
	case map[string]any:
		out := make(map[string]Value, len(x))
		for k, item := range x {
			conv, err := valueOf(path+"."+k, item)
			if err != nil {
				return Value{}, err
			}
			out[k] = conv
		}
		return Value{kind: KindMap, m: out}, nil
	default:
		return Value{}, invalid(path, "unsupported type %T", v)
	}
}

func checkedNumber(path string, f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, invalid(path, "non-finite number %v", f)
	}
	return Number(f), nil
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v holds one.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number and whether v holds one.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string and whether v holds one.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns a copy of the list and whether v holds one.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return List(v.list...).list, true
}

// AsMap returns a copy of the map and whether v holds one.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return cloneValues(v.m), true
}

// Len returns the number of elements of a list or map, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Interface converts v back into plain Go values (nil, bool, float64, string,
// []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		out := make([]Value, len(v.list))
		for i, item := range v.list {
			out[i] = item.Clone()
		}
		return Value{kind: KindList, list: out}
	case KindMap:
		return Value{kind: KindMap, m: cloneValues(v.m)}
	default:
		return v
	}
}

// Equal reports deep equality.
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
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes v as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	if err := v.validate("value"); err != nil {
		return nil, err
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func (v Value) validate(path string) error {
	switch v.kind {
	case KindNull, KindBool, KindString:
		return nil
	case KindNumber:
		_, err := checkedNumber(path, v.n)
		return err
	case KindList:
		return validateList(path, v.list)
	case KindMap:
		return validateMap(path, v.m)
	default:
		return invalid(path, "unknown kind %d", uint8(v.kind))
	}
}

func validateList(path string, vs []Value) error {
	for i, item := range vs {
		if err := item.validate(fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateMap(path string, m map[string]Value) error {
	for k, item := range m {
		if err := item.validate(path + "." + k); err != nil {
			return err
		}
	}
	return nil
}

func cloneValues(m map[string]Value) map[string]Value {
	if m == nil {
		return nil
	}
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}
