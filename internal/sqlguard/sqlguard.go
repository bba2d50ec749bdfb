// Package sqlguard decides whether SQL text is a single read-only statement
// before it reaches the store. It scans characters rather than parsing SQL.
package sqlguard

import (
	"regexp"
	"strings"
)

// Rejection reasons.
const (
	ReasonEmpty           = "empty statement"
	ReasonMultiple        = "multiple statements"
	ReasonTrailing        = "trailing content after terminator"
	ReasonForbiddenPrefix = "forbidden keyword: "
	ReasonLeadingKeyword  = "statement must begin with SELECT, WITH or EXPLAIN"
)

var (
	forbiddenRe = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|REPLACE|VACUUM|ATTACH|DETACH|PRAGMA|REINDEX|ANALYZE)\b`)
	leadingRe   = regexp.MustCompile(`[A-Za-z_]+`)

	allowedLeading = map[string]bool{"SELECT": true, "WITH": true, "EXPLAIN": true}
)

// Result is the outcome of Validate. Reason is empty when OK.
type Result struct {
	OK     bool
	Reason string
}

func reject(reason string) Result { return Result{Reason: reason} }

// Validate accepts only one SELECT, WITH or EXPLAIN statement with no
// mutating keyword outside literals, comments and quoted identifiers.
func Validate(sql string) Result {
	if strings.TrimSpace(sql) == "" {
		return reject(ReasonEmpty)
	}

	stmt := strings.TrimSpace(Sanitize(sql))
	if last := strings.LastIndexByte(stmt, ';'); last >= 0 {
		head, tail := stmt[:last], stmt[last+1:]
		if strings.IndexByte(head, ';') >= 0 {
			return reject(ReasonMultiple)
		}
		if strings.TrimSpace(tail) != "" {
			return reject(ReasonTrailing)
		}
		stmt = head
	}
	if strings.TrimSpace(stmt) == "" {
		return reject(ReasonEmpty)
	}

	if m := forbiddenRe.FindString(stmt); m != "" {
		return reject(ReasonForbiddenPrefix + strings.ToUpper(m))
	}
	if lead := strings.ToUpper(leadingRe.FindString(stmt)); !allowedLeading[lead] {
		return reject(ReasonLeadingKeyword)
	}
	return Result{OK: true}
}

// Sanitize blanks out comments and the interiors of string literals and
// quoted identifiers. The output has the same length as the input and keeps
// line breaks, so positions still line up.
func Sanitize(sql string) string {
	b := []byte(sql)
	out := make([]byte, len(b))
	copy(out, b)

	blank := func(from, to int) {
		for i := from; i < to && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}

	for i := 0; i < len(b); {
		switch c := b[i]; {
		case c == '-' && i+1 < len(b) && b[i+1] == '-':
			end := i
			for end < len(b) && b[end] != '\n' {
				end++
			}
			blank(i, end)
			i = end
		case c == '/' && i+1 < len(b) && b[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				blank(i, len(b))
				return string(out)
			}
			end += i + 4
			blank(i, end)
			i = end
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			end := closingQuote(b, i+1, closer)
			blank(i+1, end)
			i = end + 1
		default:
			i++
		}
	}
	return string(out)
}

// closingQuote returns the index of the delimiter closing a region opened
// before start, honoring doubled-delimiter escapes. An unterminated region
// runs to the end of the input.
func closingQuote(b []byte, start int, closer byte) int {
	for i := start; i < len(b); i++ {
		if b[i] != closer {
			continue
		}
		if i+1 < len(b) && b[i+1] == closer {
			i++
			continue
		}
		return i
	}
	return len(b)
}
