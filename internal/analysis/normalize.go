package analysis

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidResponse is returned when an assistant reply cannot be parsed
// as JSON after normalization.
var ErrInvalidResponse = eris.New("analysis: invalid response format from assistant")

var quoteReplacer = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
)

// extractJSON returns its input unchanged when it already looks like JSON
// (starts with '{' or '['). Otherwise it scans for the first balanced
// {...} block and returns that. The brace counter is deliberately not
// string-aware; assistants that embed unbalanced braces inside string
// values produce replies we reject at parse time anyway.
func extractJSON(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return s
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}

	candidate := s[start:]
	depth := 0
	for i := 0; i < len(candidate); i++ {
		switch candidate[i] {
		case '{':
			depth++
		case '}':
			depth--
		}
		if depth == 0 && i > 0 {
			return candidate[:i+1]
		}
	}
	return s
}

// parseAssistantJSON turns an assistant reply into canonical JSON. It
// strips any prose surrounding the first JSON object, replaces typographic
// quotes that break parsing, validates, and re-serializes compactly.
func parseAssistantJSON(reply string) (json.RawMessage, error) {
	cleaned := quoteReplacer.Replace(extractJSON(reply))

	var parsed any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, eris.Wrap(ErrInvalidResponse, err.Error())
	}

	out, err := json.Marshal(parsed)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: re-serialize response")
	}
	return out, nil
}
