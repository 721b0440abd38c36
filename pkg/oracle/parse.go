package oracle

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The judgment service is asked for JSON but answers in free text often
// enough that parsing must be permissive. ParseInto runs a small ordered
// chain of strategies and reports which one succeeded as a tagged result;
// total failure is a first-class outcome, never a panic or error value the
// caller has to branch on with errors.As.

// Strategy identifies which parse strategy produced a result.
type Strategy string

const (
	StrategyStrict   Strategy = "strict"   // whole response is valid JSON
	StrategyFenced   Strategy = "fenced"   // JSON inside a ``` code fence
	StrategyBalanced Strategy = "balanced" // first balanced {...} or [...] substring
	StrategyNone     Strategy = ""         // nothing parsed
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseInto extracts a JSON document from free text into v.
// Returns the strategy that succeeded, or (StrategyNone, false) when all
// three strategies fail - the caller then substitutes its neutral fallback.
func ParseInto(text string, v any) (Strategy, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return StrategyNone, false
	}

	if json.Unmarshal([]byte(trimmed), v) == nil {
		return StrategyStrict, true
	}

	for _, m := range fencedBlockRe.FindAllStringSubmatch(trimmed, -1) {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" && json.Unmarshal([]byte(candidate), v) == nil {
			return StrategyFenced, true
		}
	}

	if candidate := firstBalanced(trimmed); candidate != "" {
		if json.Unmarshal([]byte(candidate), v) == nil {
			return StrategyBalanced, true
		}
	}

	return StrategyNone, false
}

// firstBalanced scans for the first balanced {...} or [...] substring,
// tracking string literals and escapes so braces inside strings don't
// confuse the depth count.
func firstBalanced(s string) string {
	start := -1
	var opener, closer byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, opener, closer = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, opener, closer = i, '[', ']'
			break
		}
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == opener:
			depth++
		case ch == closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
