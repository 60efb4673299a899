package lookup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoJSONObject is returned when a response carries no JSON object.
var ErrNoJSONObject = errors.New("no JSON object in response")

// ParseAttributes extracts attribute values from a free-form model response.
// It accepts a bare object, an object inside a code fence, or an object
// surrounded by prose. Keys are matched case-insensitively against names and
// placeholder values such as "n/a" are dropped.
func ParseAttributes(text string, names []string) (Result, error) {
	var lastErr error
	for _, candidate := range jsonCandidates(text) {
		obj, err := decodeObject(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		return matchValues(obj, names), nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("decode response object: %w", lastErr)
	}
	return nil, ErrNoJSONObject
}

// jsonCandidates yields the fenced block first, then the outermost braces.
func jsonCandidates(text string) []string {
	var out []string
	if fenced, ok := fencedBlock(text); ok {
		if obj, found := outermostObject(fenced); found {
			out = append(out, obj)
		}
	}
	if obj, found := outermostObject(text); found {
		out = append(out, obj)
	}
	return out
}

func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return rest, true
	}
	return rest[:end], true
}

func outermostObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func decodeObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func matchValues(obj map[string]any, names []string) Result {
	raw := make(Result, len(obj))
	for k, v := range obj {
		raw[k] = stringify(v)
	}
	return Result(raw.Select(names))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := stringify(e); !IsEmptyValue(s) {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
