package repository

import (
	"regexp"
	"strings"
)

var (
	leadingComment = regexp.MustCompile(`(?s)^\s*(--[^\n]*\n?|/\*.*?\*/)`)
	returningWord  = regexp.MustCompile(`(?i)\bRETURNING\b`)
)

var readOnlyKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"EXPLAIN": true,
	"PRAGMA":  true,
	"SHOW":    true,
	"VALUES":  true,
}

// Keyword returns the upper-cased leading keyword of a statement, skipping
// comments, whitespace and opening parentheses.
func Keyword(query string) string {
	s := query
	for {
		loc := leadingComment.FindStringIndex(s)
		if loc == nil {
			break
		}
		s = s[loc[1]:]
	}
	s = strings.TrimLeft(s, " \t\r\n(")
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end >= 0 {
		s = s[:end]
	}
	return strings.ToUpper(s)
}

// IsReadOnly reports whether a statement only reads. WITH is treated as a
// read even though a data-modifying CTE is possible on postgres.
func IsReadOnly(query string) bool {
	return readOnlyKeywords[Keyword(query)]
}

// ReturnsRows reports whether a statement produces a result set. Writes
// with a RETURNING clause do.
func ReturnsRows(query string) bool {
	return IsReadOnly(query) || returningWord.MatchString(query)
}
