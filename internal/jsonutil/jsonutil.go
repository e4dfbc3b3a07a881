// Package jsonutil recovers structured payloads from model output that may
// be wrapped in prose, fenced in markdown, or otherwise decorated. Parsing
// is layered: strict first, then progressively more forgiving, and callers
// fail closed when every layer misses.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSON = errors.New("jsonutil: no JSON object found")

// UnmarshalFlex unmarshals raw into v with best effort:
//  1. direct unmarshal
//  2. content of the first markdown code fence
//  3. first balanced JSON object in the text
//
// It returns ErrNoJSON when nothing parses.
func UnmarshalFlex(raw []byte, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ErrNoJSON
	}
	if err := json.Unmarshal(trimmed, v); err == nil {
		return nil
	}
	if fenced, ok := StripFences(string(trimmed)); ok {
		if err := json.Unmarshal([]byte(fenced), v); err == nil {
			return nil
		}
	}
	if obj, ok := FirstJSONObject(string(trimmed)); ok {
		if err := json.Unmarshal([]byte(obj), v); err == nil {
			return nil
		}
	}
	return ErrNoJSON
}

// StripFences returns the body of the first ``` code fence, tolerating an
// optional language tag on the opening line.
func StripFences(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "go", ...), if any.
		head := strings.TrimSpace(rest[:nl])
		if head == "" || !strings.ContainsAny(head, "{}[]") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// FirstJSONObject scans for the first balanced top-level JSON object,
// honoring string literals and escapes. It does not validate the content
// beyond brace balance; callers still unmarshal the result.
func FirstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// MarshalNoEscape encodes v into JSON without escaping <, >, & into <
// and friends, which keeps prompt payloads readable for the model.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
