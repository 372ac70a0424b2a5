// Package jsonvalue is a small typed JSON variant with pure accessors.
// Responses from the service have no fixed top-level shape, so callers inspect
// documents through these accessors instead of decoding into fixed structs.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Value is a sealed interface: only the types in this file implement it.
type Value interface {
	jsonValue()
}

type Null struct{}

type Bool bool

// Number holds the literal text of a JSON number, so integer ids wider than
// a float64 mantissa are not rounded.
type Number string

// Float builds the shortest Number that reads back as f.
func Float(f float64) Number {
	return Number(strconv.FormatFloat(f, 'f', -1, 64))
}

// Float64 parses the literal. Out-of-range literals fail.
func (n Number) Float64() (float64, error) {
	return strconv.ParseFloat(string(n), 64)
}

// Integer returns the literal when it is a plain integer, and the shortest
// integer form of any other integral value.
func (n Number) Integer() (string, bool) {
	if isIntegerLiteral(string(n)) {
		return string(n), true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func isIntegerLiteral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

type String string

type Array []Value

type Object map[string]Value

func (Null) jsonValue()   {}
func (Bool) jsonValue()   {}
func (Number) jsonValue() {}
func (String) jsonValue() {}
func (Array) jsonValue()  {}
func (Object) jsonValue() {}

// Parse decodes exactly one JSON document.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("jsonvalue: decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("jsonvalue: trailing data after document")
	}
	return FromAny(raw)
}

// FromAny converts the output of encoding/json (with or without UseNumber).
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		if _, err := val.Float64(); err != nil {
			return nil, fmt.Errorf("jsonvalue: number %q: %w", val, err)
		}
		return Number(val), nil
	case float64:
		return Float(val), nil
	case int:
		return Number(strconv.Itoa(val)), nil
	case int64:
		return Number(strconv.FormatInt(val, 10)), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	case Value:
		return val, nil
	default:
		return nil, fmt.Errorf("jsonvalue: unsupported type %T", v)
	}
}

// Get returns the member stored under key.
func (o Object) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o[key]
	return v, ok
}

// Object returns the member under key when it is an object.
func (o Object) Object(key string) (Object, bool) {
	v, ok := o.Get(key)
	if !ok {
		return nil, false
	}
	return AsObject(v)
}

// Array returns the member under key when it is an array.
func (o Object) Array(key string) (Array, bool) {
	v, ok := o.Get(key)
	if !ok {
		return nil, false
	}
	return AsArray(v)
}

// SortedKeys returns member names in byte order.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func AsObject(v Value) (Object, bool) {
	o, ok := v.(Object)
	return o, ok
}

func AsArray(v Value) (Array, bool) {
	a, ok := v.(Array)
	return a, ok
}

func AsBool(v Value) (bool, bool) {
	b, ok := v.(Bool)
	return bool(b), ok
}

// AsString returns the raw string without trimming.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

func AsNumber(v Value) (float64, bool) {
	n, ok := v.(Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

// AsInteger returns the exact text of an integral number.
func AsInteger(v Value) (string, bool) {
	n, ok := v.(Number)
	if !ok {
		return "", false
	}
	return n.Integer()
}

// Objects keeps only the object elements of arr, preserving order.
func Objects(arr Array) []Object {
	out := make([]Object, 0, len(arr))
	for _, elem := range arr {
		if o, ok := elem.(Object); ok {
			out = append(out, o)
		}
	}
	return out
}

// Describe summarises the top-level shape of v for diagnostics.
func Describe(v Value) string {
	switch val := v.(type) {
	case nil:
		return "missing"
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array[" + strconv.Itoa(len(val)) + "]"
	case Object:
		return "object{" + strings.Join(val.SortedKeys(), ",") + "}"
	default:
		return fmt.Sprintf("%T", v)
	}
}
