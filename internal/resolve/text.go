package resolve

import (
	"strings"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/jsonvalue"
)

func firstChoice(o jsonvalue.Object) (jsonvalue.Object, bool) {
	arr, ok := o.Array("choices")
	if !ok {
		return nil, false
	}
	objs := jsonvalue.Objects(arr)
	if len(objs) == 0 {
		return nil, false
	}
	return objs[0], true
}

func choicePath(inner string, s Strategy[string]) Strategy[string] {
	return func(o jsonvalue.Object) (string, bool) {
		choice, ok := firstChoice(o)
		if !ok {
			return "", false
		}
		if inner == "" {
			return s(choice)
		}
		nested, ok := choice.Object(inner)
		if !ok {
			return "", false
		}
		return s(nested)
	}
}

// rawStringAt returns untrimmed non-empty strings; stream deltas carry
// meaningful leading whitespace.
func rawStringAt(key string) Strategy[string] {
	return func(o jsonvalue.Object) (string, bool) {
		v, ok := o.Get(key)
		if !ok {
			return "", false
		}
		s, ok := jsonvalue.AsString(v)
		return s, ok && s != ""
	}
}

func partsAt(key string) Strategy[string] {
	return func(o jsonvalue.Object) (string, bool) {
		arr, ok := o.Array(key)
		if !ok {
			return "", false
		}
		s := text(arr, "")
		return s, s != ""
	}
}

var streamChunk = First(
	choicePath("delta", rawStringAt("content")),
	choicePath("delta", partsAt("content")),
	choicePath("message", First(rawStringAt("content"), partsAt("content"))),
	First(rawStringAt("text"), choicePath("", rawStringAt("text")), choicePath("delta", rawStringAt("text"))),
)

// StreamChunk extracts the text fragment carried by one stream event: the
// delta text, then delta content parts, then full message content, then a
// plain text field.
func StreamChunk(event jsonvalue.Object) (string, bool) {
	return streamChunk(event)
}

var assistantText = First(
	choicePath("message", TextAt("", "content")),
	choicePath("", TextAt("", "text")),
	TextAt("", "output_text", "answer", "response", "reply", "content", "text", "message"),
)

// AssistantText extracts the assistant's answer from a completion response.
func AssistantText(body []byte) (string, error) {
	doc, err := Document(body)
	if err != nil {
		return "", err
	}
	obj, ok := jsonvalue.AsObject(doc)
	if !ok {
		return "", domain.InvalidResponse("assistant_text_missing", nil)
	}
	if s, ok := assistantText(obj); ok {
		return s, nil
	}
	if data, ok := obj.Object("data"); ok {
		if s, ok := assistantText(data); ok {
			return s, nil
		}
	}
	return "", domain.InvalidResponse("assistant_text_missing", nil)
}

// NormalizeJSONObject turns model output into one canonical JSON object:
// markdown fences are stripped, the outermost {...} span is taken and
// re-serialised with sorted keys.
func NormalizeJSONObject(raw string) (string, error) {
	s := stripFences(strings.TrimSpace(raw))
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", domain.Parse("json_object_not_found", nil)
	}
	v, err := jsonvalue.Parse([]byte(s[start : end+1]))
	if err != nil {
		return "", domain.Parse("json_object_invalid", err)
	}
	if _, ok := jsonvalue.AsObject(v); !ok {
		return "", domain.Parse("json_object_not_found", nil)
	}
	out, err := jsonvalue.MarshalCanonical(v)
	if err != nil {
		return "", domain.Parse("json_object_invalid", err)
	}
	return string(out), nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
