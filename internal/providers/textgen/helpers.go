package textgen

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON indicates no JSON fragment could be located in the model output.
var ErrNoJSON = errors.New("textgen: no json found in model output")

// DecodeJSONPayload extracts the JSON fragment from noisy model output and
// decodes it into T. Providers rarely return pure JSON, so the extraction is
// its own fatal-error path rather than a parse crash.
func DecodeJSONPayload[T any](raw string) (T, error) {
	var zero T
	cleaned := ExtractJSONFragment(raw)
	if cleaned == "" {
		return zero, ErrNoJSON
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

// ExtractJSONFragment locates the best-effort JSON portion of free-form text:
// the first code-fenced block, else the outermost bracket pair spanning the
// text. Returns "" when nothing JSON-like is present.
func ExtractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = TrimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

// TrimCodeFence strips a surrounding ``` block when present.
func TrimCodeFence(text string) string {
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
