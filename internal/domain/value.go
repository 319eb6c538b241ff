package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies which member of the Value union is populated.
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
		return "unknown"
	}
}

// Value is an arbitrary JSON value received from a client. The zero Value is null.
// Numbers keep their original JSON text so they round-trip unchanged.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	list []Value
	m    map[string]Value
}

func NullValue() Value                { return Value{} }
func BoolValue(b bool) Value          { return Value{kind: KindBool, b: b} }
func NumberValue(n json.Number) Value { return Value{kind: KindNumber, num: n} }
func StringValue(s string) Value      { return Value{kind: KindString, str: s} }

// IntValue is a convenience constructor for integral numbers.
func IntValue(i int64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(i, 10))}
}

// ListValue copies vs into a list value.
func ListValue(vs ...Value) Value {
	out := make([]Value, len(vs))
	copy(out, vs)
	return Value{kind: KindList, list: out}
}

// MapValue wraps m without copying. A nil map is treated as empty.
func MapValue(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() (bool, bool)          { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (json.Number, bool) { return v.num, v.kind == KindNumber }
func (v Value) AsString() (string, bool)      { return v.str, v.kind == KindString }

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Get returns the member stored under key when v is a map.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	child, ok := v.m[key]
	return child, ok
}

// ValidNumber reports whether n parses as a finite float64. JSON text such as
// 1e400 is syntactically valid but overflows.
func ValidNumber(n json.Number) bool {
	_, err := strconv.ParseFloat(string(n), 64)
	return err == nil
}

// IsScalar reports whether v is null, a bool, a number or a string.
func (v Value) IsScalar() bool {
	return v.kind <= KindString
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if !ValidNumber(v.num) {
			return fmt.Errorf("invalid number %q", string(v.num))
		}
		buf.WriteString(string(v.num))
	case KindString:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.m[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value kind %d", v.kind)
	}
	return nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Value{}
	case bool:
		return BoolValue(t)
	case json.Number:
		return NumberValue(t)
	case float64:
		return NumberValue(json.Number(strconv.FormatFloat(t, 'f', -1, 64)))
	case string:
		return StringValue(t)
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			out[i] = fromAny(item)
		}
		return Value{kind: KindList, list: out}
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = fromAny(item)
		}
		return Value{kind: KindMap, m: out}
	default:
		return Value{}
	}
}
