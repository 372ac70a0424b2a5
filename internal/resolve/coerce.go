package resolve

import (
	"math"
	"strconv"
	"strings"
	"time"

	"receipt-agent/internal/jsonvalue"
)

// Strategy extracts one typed value from an object, reporting whether it did.
type Strategy[T any] func(jsonvalue.Object) (T, bool)

// First tries each strategy in order.
func First[T any](strategies ...Strategy[T]) Strategy[T] {
	return func(o jsonvalue.Object) (T, bool) {
		for _, s := range strategies {
			if v, ok := s(o); ok {
				return v, true
			}
		}
		var zero T
		return zero, false
	}
}

// StringAt reads the first non-empty trimmed string under keys.
func StringAt(keys ...string) Strategy[string] {
	return func(o jsonvalue.Object) (string, bool) {
		for _, k := range keys {
			v, ok := o.Get(k)
			if !ok {
				continue
			}
			if s, ok := coerceString(v); ok {
				return s, true
			}
		}
		return "", false
	}
}

// IDAt is StringAt that also accepts integral numbers.
func IDAt(keys ...string) Strategy[string] {
	return func(o jsonvalue.Object) (string, bool) {
		for _, k := range keys {
			v, ok := o.Get(k)
			if !ok {
				continue
			}
			if s, ok := coerceString(v); ok {
				return s, true
			}
			if id, ok := jsonvalue.AsInteger(v); ok {
				return id, true
			}
		}
		return "", false
	}
}

// NumberAt reads a JSON number or a numeric string.
func NumberAt(keys ...string) Strategy[float64] {
	return func(o jsonvalue.Object) (float64, bool) {
		for _, k := range keys {
			v, ok := o.Get(k)
			if !ok {
				continue
			}
			if n, ok := coerceNumber(v); ok {
				return n, true
			}
		}
		return 0, false
	}
}

// TimeAt reads an ISO-8601 string, one of the explicit layouts, or a unix
// timestamp in seconds or milliseconds.
func TimeAt(keys ...string) Strategy[time.Time] {
	return func(o jsonvalue.Object) (time.Time, bool) {
		for _, k := range keys {
			v, ok := o.Get(k)
			if !ok {
				continue
			}
			if t, ok := coerceTime(v); ok {
				return t, true
			}
		}
		return time.Time{}, false
	}
}

// TextAt reads a string, a content-parts array, or an object carrying text,
// joining fragments with sep.
func TextAt(sep string, keys ...string) Strategy[string] {
	return func(o jsonvalue.Object) (string, bool) {
		for _, k := range keys {
			v, ok := o.Get(k)
			if !ok {
				continue
			}
			if s := strings.TrimSpace(text(v, sep)); s != "" {
				return s, true
			}
		}
		return "", false
	}
}

func coerceString(v jsonvalue.Value) (string, bool) {
	s, ok := jsonvalue.AsString(v)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func coerceNumber(v jsonvalue.Value) (float64, bool) {
	if n, ok := jsonvalue.AsNumber(v); ok {
		return n, true
	}
	s, ok := coerceString(v)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// unixMillisThreshold separates second from millisecond timestamps.
const unixMillisThreshold = 1e12

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func coerceTime(v jsonvalue.Value) (time.Time, bool) {
	if n, ok := coerceNumber(v); ok {
		return fromUnix(n), true
	}
	s, ok := coerceString(v)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromUnix(n float64) time.Time {
	if math.Abs(n) > unixMillisThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// text flattens strings, parts arrays and {text|content|value} objects.
func text(v jsonvalue.Value, sep string) string {
	switch val := v.(type) {
	case jsonvalue.String:
		return string(val)
	case jsonvalue.Array:
		parts := make([]string, 0, len(val))
		for _, elem := range val {
			if t := text(elem, sep); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, sep)
	case jsonvalue.Object:
		for _, k := range []string{"text", "content", "value"} {
			if inner, ok := val.Get(k); ok {
				if t := text(inner, sep); t != "" {
					return t
				}
			}
		}
	}
	return ""
}
