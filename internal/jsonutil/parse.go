// Package jsonutil decodes JSON objects out of model text responses, which
// may arrive wrapped in markdown fences or prefixed with prose.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripMarkdownFences removes a leading ```json (or bare ```) fence and the
// matching closing fence. Text without fences is returned trimmed.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		return text
	}
	body := text[nl+1:]
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ExtractObject returns the span from the first '{' to the last '}'.
func ExtractObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found")
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		return "", fmt.Errorf("unterminated JSON object")
	}
	return text[start : end+1], nil
}

// ParseObject strips fences, locates the JSON object and unmarshals it into T.
func ParseObject[T any](raw string) (T, error) {
	var out T
	obj, err := ExtractObject(StripMarkdownFences(raw))
	if err != nil {
		return out, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview(obj, 200))
	}
	return out, nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
