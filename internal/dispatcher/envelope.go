package dispatcher

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/starkbot-agent/core/pkg/models"
)

// Envelope is the JSON shape the system prompt requires every model
// response to take: a user-facing body and an optional single tool call.
type Envelope struct {
	Body     string           `json:"body"`
	ToolCall *models.ToolCall `json:"tool_call"`
}

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// parseEnvelope decodes raw model output into an Envelope, following the
// same fallback chain as parse_agent_response: direct parse, then a fenced
// code block, then the first balanced top-level object, then raw text as a
// plain body with no tool call.
func parseEnvelope(raw string) Envelope {
	trimmed := strings.TrimSpace(raw)

	if env, ok := tryDecodeEnvelope(trimmed); ok {
		return env
	}

	if m := fencedBlockPattern.FindStringSubmatch(trimmed); m != nil {
		if env, ok := tryDecodeEnvelope(strings.TrimSpace(m[1])); ok {
			return env
		}
	}

	if candidate, ok := extractBalancedObject(trimmed); ok {
		if env, ok := tryDecodeEnvelope(candidate); ok {
			return env
		}
	}

	return Envelope{Body: raw}
}

func tryDecodeEnvelope(s string) (Envelope, bool) {
	if s == "" {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}

// extractBalancedObject finds the first '{' in s and scans forward tracking
// brace depth (ignoring braces inside string literals) until it returns to
// zero, returning the substring spanning that top-level object.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
