package llm

import (
	"fmt"
	"strings"
)

// ExtractJSONObject returns the first balanced {...} block in an LLM
// response. Models wrap JSON in prose and markdown fences; callers parse
// only the extracted block. Returns an error when no complete object is
// found.
func ExtractJSONObject(response string) (string, error) {
	start := strings.IndexByte(response, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
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
				return response[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unbalanced JSON object in response")
}
