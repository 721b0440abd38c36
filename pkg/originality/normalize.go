// Package originality verifies that a code submission was independently
// authored. It layers a content-addressable cache, cheap local heuristics,
// embedding-similarity search against previously seen solutions, and an
// oracle judgment pass into one bounded verdict.
package originality

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes code for content-addressable caching: NFKC unicode
// normalization, per-line comment stripping, per-line whitespace trimming,
// and blank-line removal. Two submissions that differ only in comments or
// formatting normalize to the same text.
func Normalize(code string) string {
	code = norm.NFKC.String(code)

	var kept []string
	for _, line := range strings.Split(code, "\n") {
		line = stripLineComment(line)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Hash returns the hex SHA-256 of the normalized code body.
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// stripLineComment removes a trailing // or # comment. String literals are
// respected so URLs and format strings survive.
func stripLineComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '#':
			return line[:i]
		case '/':
			if i+1 < len(line) && line[i+1] == '/' {
				return line[:i]
			}
		}
	}
	return line
}

// isCommentLine reports whether a raw line is a full-line comment. Used by
// the heuristic pass, which looks at the submission before normalization.
func isCommentLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "--") ||
		strings.HasPrefix(trimmed, "*")
}
