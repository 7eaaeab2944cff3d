package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoPayload is returned when a completion contains no decodable JSON
// object. Callers are expected to degrade to their documented fallback
// behaviour rather than abort.
var ErrNoPayload = errors.New("llm: no json payload in completion")

// DecodePayload extracts the first balanced JSON object from a free-form
// completion and unmarshals it into T. Model output routinely wraps the JSON
// in prose or markdown fences; both are tolerated.
func DecodePayload[T any](raw string) (T, error) {
	var zero T
	fragment := ExtractJSONFragment(raw)
	if fragment == "" {
		return zero, ErrNoPayload
	}
	var decoded T
	if err := json.Unmarshal([]byte(fragment), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

// ExtractJSONFragment returns the first balanced {...} span of the input, or
// an empty string when none exists. Brace counting is quote-aware so braces
// inside string values do not unbalance the scan.
func ExtractJSONFragment(raw string) string {
	text := trimCodeFence(raw)
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1]
			}
		}
	}
	return ""
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
