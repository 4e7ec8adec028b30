package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jonathan/plan-compliance/internal/schemas"
)

var (
	arraySpanRe  = regexp.MustCompile(`(?s)\[.*\]`)
	objectSpanRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// CleanJSONBlock removes markdown code block wrappers from JSON responses.
// LLMs often wrap JSON in ```json ... ``` blocks even when instructed not to.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip a language identifier on the first line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			if len(firstLine) < 20 && !strings.ContainsAny(firstLine, " {[") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	return text
}

// ExtractJSON returns the JSON document embedded in a model response. It tries
// the cleaned text as-is, then the widest span starting at the first bracket,
// then the balanced span starting there.
func ExtractJSON(text string) (json.RawMessage, error) {
	cleaned := CleanJSONBlock(text)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}
	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned), nil
	}

	start := strings.IndexAny(cleaned, "[{")
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON found", ErrMalformedOutput)
	}

	re := objectSpanRe
	if cleaned[start] == '[' {
		re = arraySpanRe
	}
	if loc := re.FindStringIndex(cleaned[start:]); loc != nil && loc[0] == 0 {
		if span := cleaned[start : start+loc[1]]; json.Valid([]byte(span)) {
			return json.RawMessage(span), nil
		}
	}

	if span, ok := balancedSpan(cleaned[start:]); ok && json.Valid([]byte(span)) {
		return json.RawMessage(span), nil
	}

	return nil, fmt.Errorf("%w: no valid JSON span", ErrMalformedOutput)
}

// balancedSpan returns the prefix of s up to the bracket closing s[0], ignoring
// brackets inside string literals.
func balancedSpan(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// ParseResult is one item of a model response: either a decoded value or the
// reason it was rejected.
type ParseResult[T any] struct {
	Value T
	Raw   json.RawMessage
	Err   error
}

// OK reports whether the item decoded and validated.
func (r ParseResult[T]) OK() bool {
	return r.Err == nil
}

// ParseItems extracts the list of items from a model response and decodes each
// one independently. An object wrapping an array of objects is unwrapped and a
// single object is treated as a one-item list. When schemaName is set every
// item is validated against that schema before decoding. The error is non-nil
// only when the response as a whole holds no usable JSON.
func ParseItems[T any](text string, schemaName string) ([]ParseResult[T], error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	items, err := splitItems(raw)
	if err != nil {
		return nil, err
	}

	results := make([]ParseResult[T], 0, len(items))
	for _, item := range items {
		results = append(results, decodeItem[T](item, schemaName))
	}
	return results, nil
}

func decodeItem[T any](item json.RawMessage, schemaName string) ParseResult[T] {
	res := ParseResult[T]{Raw: item}
	if schemaName != "" {
		if err := schemas.Validate(schemaName, item); err != nil {
			res.Err = fmt.Errorf("%w: %v", ErrMalformedOutput, err)
			return res
		}
	}
	if err := json.Unmarshal(item, &res.Value); err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return res
}

func splitItems(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty JSON", ErrMalformedOutput)
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		return items, nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		if items, ok := wrappedArray(fields); ok {
			return items, nil
		}
		if len(fields) == 1 {
			for _, v := range fields {
				if v := bytes.TrimSpace(v); bytes.Equal(v, []byte("[]")) {
					return nil, nil
				}
			}
		}
		return []json.RawMessage{trimmed}, nil
	default:
		return nil, fmt.Errorf("%w: expected an array or object", ErrMalformedOutput)
	}
}

// wrappedArray finds the first field, in key order, holding a non-empty array of objects.
func wrappedArray(fields map[string]json.RawMessage) ([]json.RawMessage, bool) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var items []json.RawMessage
		if err := json.Unmarshal(fields[k], &items); err != nil || len(items) == 0 {
			continue
		}
		if first := bytes.TrimSpace(items[0]); len(first) > 0 && first[0] == '{' {
			return items, true
		}
	}
	return nil, false
}
