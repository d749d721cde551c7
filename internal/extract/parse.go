package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
)

// Strategy names the parse step that produced a value.
type Strategy string

const (
	// StrategyWhole parsed the entire response.
	StrategyWhole Strategy = "whole"
	// StrategyFenced parsed the first ```json block.
	StrategyFenced Strategy = "fenced"
	// StrategyScan parsed the outermost bracket or brace pair.
	StrategyScan Strategy = "scan"
)

var (
	errEmptyResponse = errors.New("empty response")
	errNoJSON        = errors.New("no parseable JSON found")

	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")
)

// Parse recovers a JSON value from free-form text.
// It tries the whole text, then the first fenced json block, then a bracket scan.
func Parse(raw string) (any, Strategy, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, "", errEmptyResponse
	}

	if v, ok := decode(text); ok {
		return v, StrategyWhole, nil
	}

	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if v, ok := decode(strings.TrimSpace(m[1])); ok {
			return v, StrategyFenced, nil
		}
	}

	if v, ok := scan(text); ok {
		return v, StrategyScan, nil
	}

	return nil, "", errNoJSON
}

func decode(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// maxScanCandidates bounds how many balanced spans scan will try to decode.
const maxScanCandidates = 64

// scan returns the first balanced span, by opening position, that decodes.
// Brackets inside string literals are ignored.
func scan(text string) (any, bool) {
	for _, span := range balancedSpans(text) {
		if v, ok := decode(text[span[0] : span[1]+1]); ok {
			return v, true
		}
	}
	return nil, false
}

// balancedSpans finds bracket pairs in a single pass and returns up to
// maxScanCandidates of them ordered by opening index. A mismatched closer
// discards every opener still pending, since none of them can close.
// Quotes only open string literals inside a pending span.
func balancedSpans(text string) [][2]int {
	type opener struct {
		pos   int
		close byte
	}
	var (
		stack    []opener
		spans    [][2]int
		inString bool
		escaped  bool
	)

	for i := 0; i < len(text); i++ {
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
			inString = len(stack) > 0
		case '{':
			stack = append(stack, opener{pos: i, close: '}'})
		case '[':
			stack = append(stack, opener{pos: i, close: ']'})
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			if top.close != c {
				stack = stack[:0]
				continue
			}
			stack = stack[:len(stack)-1]
			spans = append(spans, [2]int{top.pos, i})
		}
	}

	sort.Slice(spans, func(a, b int) bool { return spans[a][0] < spans[b][0] })
	if len(spans) > maxScanCandidates {
		spans = spans[:maxScanCandidates]
	}
	return spans
}

// CodeBlock returns the body of the first fenced block tagged lang.
// It falls back to any fenced block, then to the trimmed text itself.
func CodeBlock(text, lang string) string {
	if lang != "" {
		re := regexp.MustCompile("(?s)```" + regexp.QuoteMeta(lang) + "[ \\t]*\\n?(.*?)```")
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	anyFence := regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \\t]*\\n?(.*?)```")
	if m := anyFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
