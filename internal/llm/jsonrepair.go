package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// JSONRepairer cleans and sanitizes JSON-ish text returned by LLMs so that
// agents can rely on encoding/json.Unmarshal succeeding on the result.
type JSONRepairer struct{}

// NewJSONRepairer creates a new repairer.
func NewJSONRepairer() *JSONRepairer { return &JSONRepairer{} }

// Repair runs the full cleanup pipeline: strip markdown fences, fix common
// formatting mistakes, extract the JSON value from surrounding prose, then
// validate and patch structural issues.
func (r *JSONRepairer) Repair(response string) (string, error) {
	original := response
	response = r.removeMarkdownBlocks(response)
	response = r.fixFormatting(response)
	response = r.extractJSONValue(response)
	response = r.fixCommonIssues(response)

	if !r.IsValid(response) {
		return "", &RepairError{Original: original, Cleaned: response, Message: "cleaned response is still not valid JSON"}
	}
	return response, nil
}

func (r *JSONRepairer) removeMarkdownBlocks(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

func (r *JSONRepairer) fixFormatting(response string) string {
	response = strings.ReplaceAll(response, "`", "\"")
	response = regexp.MustCompile(`\*\*([^*]+)\*\*`).ReplaceAllString(response, `"$1"`)
	response = regexp.MustCompile(`\*([^*]+)\*`).ReplaceAllString(response, `"$1"`)
	return response
}

// extractJSONValue finds the first top-level JSON object or array in mixed
// content and returns only that substring, matching braces/brackets while
// ignoring ones that appear inside string literals.
func (r *JSONRepairer) extractJSONValue(response string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(response); i++ {
		switch response[i] {
		case '{':
			start, open, close = i, '{', '}'
		case '[':
			start, open, close = i, '[', ']'
		}
		if start != -1 {
			break
		}
	}
	if start == -1 {
		return response
	}

	depth := 0
	inString := false
	escaped := false
	end := start
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				end = i
				return response[start : end+1]
			}
		}
	}
	return response[start:]
}

func (r *JSONRepairer) fixCommonIssues(response string) string {
	if r.IsValid(response) {
		return response
	}
	// Trailing commas before a closing bracket/brace.
	response = regexp.MustCompile(`,(\s*[}\]])`).ReplaceAllString(response, "$1")
	// Unquoted object keys.
	response = regexp.MustCompile(`([{,]\s*)(\w+)(\s*:)`).ReplaceAllString(response, `$1"$2"$3`)
	// Single-quoted strings to double-quoted.
	response = strings.ReplaceAll(response, "'", "\"")
	return response
}

// IsValid reports whether s parses as JSON.
func (r *JSONRepairer) IsValid(s string) bool {
	var v interface{}
	return json.Unmarshal([]byte(s), &v) == nil
}

// RepairError is returned when a response could not be repaired into valid JSON.
type RepairError struct {
	Original string
	Cleaned  string
	Message  string
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("%s (original length=%d)", e.Message, len(e.Original))
}
