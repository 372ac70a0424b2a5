// Package resolve locates and coerces domain records inside service responses
// whose top-level shape is not fixed. Lookups are ordered lists of candidate
// keys and typed extractors; the first match wins. The key lists are a
// compatibility contract with deployed servers, so extend them, don't reorder.
package resolve

import (
	"log/slog"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/jsonvalue"
)

// Candidate top-level keys holding each kind of list.
var (
	ChatListKeys = []string{"chats", "data"}
	MessageKeys  = []string{"messages", "history", "items", "data", "conversation"}
	RecordKeys   = []string{"records", "items", "data", "results", "rows"}
)

// payloadKeys name objects that may wrap a record's business fields.
var payloadKeys = []string{"data", "record", "value"}

// Resolver extracts typed records from raw response bodies.
type Resolver struct {
	logger *slog.Logger
}

// New returns a Resolver that reports unrecognised shapes to logger
// (slog.Default when nil).
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Document parses a response body, classifying non-JSON as a parse error.
func Document(body []byte) (jsonvalue.Value, error) {
	doc, err := jsonvalue.Parse(body)
	if err != nil {
		return nil, domain.Parse("response_not_json", err)
	}
	return doc, nil
}

// Rows finds the list of row objects in doc. A bare array wins, then the
// candidate keys at the top level, then the same keys one level under "data".
// An unrecognised shape yields an empty slice, never an error.
func (r *Resolver) Rows(kind string, doc jsonvalue.Value, keys []string) []jsonvalue.Object {
	if arr, ok := jsonvalue.AsArray(doc); ok {
		return jsonvalue.Objects(arr)
	}
	if obj, ok := jsonvalue.AsObject(doc); ok {
		if rows, ok := rowsAt(obj, keys); ok {
			return rows
		}
		if data, ok := obj.Object("data"); ok {
			if rows, ok := rowsAt(data, keys); ok {
				return rows
			}
		}
	}
	r.logger.Warn("resolve: unrecognized response shape",
		"kind", kind,
		"shape", jsonvalue.Describe(doc),
	)
	return []jsonvalue.Object{}
}

func rowsAt(obj jsonvalue.Object, keys []string) ([]jsonvalue.Object, bool) {
	for _, k := range keys {
		if arr, ok := obj.Array(k); ok {
			return jsonvalue.Objects(arr), true
		}
	}
	return nil, false
}

// payloads returns the row followed by any nested payload objects, which is
// the order every field lookup follows.
func payloads(row jsonvalue.Object) []jsonvalue.Object {
	out := []jsonvalue.Object{row}
	for _, k := range payloadKeys {
		if nested, ok := row.Object(k); ok {
			out = append(out, nested)
		}
	}
	return out
}

// field applies s to the row, then to each nested payload.
func field[T any](row jsonvalue.Object, s Strategy[T]) (T, bool) {
	for _, p := range payloads(row) {
		if v, ok := s(p); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
