// Package textextract pulls structured payloads out of free-form VLM text
// output: JSON possibly wrapped in a markdown code fence, and simple
// tagged regions like `<decision>...</decision>`.
package textextract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSON strips an optional ```json / ``` fence and unmarshals the remainder,
// matching the forgiving extraction the VLM-reflection prompt relies on (models routinely wrap JSON in a code fence despite being asked
// not to).
func JSON(text string, v interface{}) error {
	stripped := StripFence(text)
	if err := json.Unmarshal([]byte(stripped), v); err != nil {
		return fmt.Errorf("textextract: invalid JSON: %w", err)
	}
	return nil
}

// StripFence removes a leading/trailing triple-backtick fence (optionally
// tagged, e.g. ```json) if present, otherwise returns the input trimmed.
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Tag extracts the content between `<name>` and `</name>` tags. ok is false
// if the tag isn't present.
func Tag(text, name string) (string, bool) {
	open := "<" + name + ">"
	close := "</" + name + ">"
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.Index(text[start:], close)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(text[start : start+end]), true
}
