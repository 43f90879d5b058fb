package llm

import (
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of a model response. Models routinely
// wrap JSON in markdown fences or preamble text, so this strips ``` fences
// and trims to the outermost braces before handing the result to the caller's
// decoder.
func ExtractJSON(content string) (string, error) {
	s := strings.TrimSpace(content)

	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line (``` or ```json) and the closing fence.
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return s[start : end+1], nil
}
