package llm

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// fenceRe matches ```json ... ``` and bare ``` ... ``` blocks.
var fenceRe = regexp.MustCompile("(?s)```(?:[jJ][sS][oO][nN])?[ \t]*\r?\n?(.*?)```")

// ExtractJSON finds the JSON object or array inside a model response. Scalars and
// null are not results.
//
// Strategies, in order:
//  1. the first fenced block whose interior is a valid JSON object or array;
//  2. a bracket-depth scan from the first '{' or '[', string-literal aware,
//     resuming at the next opening bracket when a candidate does not parse.
//
// When both fail the error is JSON_PARSE_ERROR with details.rawContent.
func ExtractJSON(raw string) (json.RawMessage, *CompletionError) {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		inner := strings.TrimSpace(m[1])
		if isComposite(inner) && json.Valid([]byte(inner)) {
			return json.RawMessage(inner), nil
		}
	}

	if span, ok := scanBalanced(raw); ok {
		return json.RawMessage(span), nil
	}

	return nil, NewError(CodeJSONParse, "no valid JSON value found in response", map[string]any{
		"rawContent": raw,
	})
}

// DecodeJSON extracts the JSON value in raw and decodes it into T.
func DecodeJSON[T any](raw string) (T, *CompletionError) {
	var out T
	msg, perr := ExtractJSON(raw)
	if perr != nil {
		return out, perr
	}
	if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return out, NewError(CodeJSONParse, "response JSON is null", map[string]any{"rawContent": raw})
	}
	dec := json.NewDecoder(bytes.NewReader(msg))
	if err := dec.Decode(&out); err != nil {
		var zero T
		return zero, NewError(CodeJSONParse, "decode JSON: "+err.Error(), map[string]any{
			"rawContent": raw,
		})
	}
	return out, nil
}

// isComposite reports whether s starts with an object or array opener.
func isComposite(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && (s[0] == '{' || s[0] == '[')
}

// scanBalanced returns the first balanced, valid JSON object or array in s.
func scanBalanced(s string) (string, bool) {
	for start := nextOpen(s, 0); start >= 0; start = nextOpen(s, start+1) {
		end, ok := matchClose(s, start)
		if !ok {
			continue
		}
		candidate := s[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

func nextOpen(s string, from int) int {
	if from >= len(s) {
		return -1
	}
	i := strings.IndexAny(s[from:], "{[")
	if i < 0 {
		return -1
	}
	return from + i
}

// matchClose walks from the opening bracket at start and returns the index where the
// nesting depth returns to zero. Brackets inside string literals are ignored.
// A mismatched closer or an unterminated scan returns false.
func matchClose(s string, start int) (int, bool) {
	stack := make([]byte, 0, 8)
	inString, escaped := false, false

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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
