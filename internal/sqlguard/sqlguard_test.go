package sqlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		sql    string
		ok     bool
		reason string
	}{
		{"select", "SELECT * FROM types", true, ""},
		{"lower case", "select id from files", true, ""},
		{"with", "WITH t AS (SELECT 1) SELECT * FROM t", true, ""},
		{"explain", "EXPLAIN QUERY PLAN SELECT * FROM lines", true, ""},
		{"single terminator", "SELECT 1;", true, ""},
		{"terminator with whitespace", "SELECT 1;  \n", true, ""},
		{"keyword in literal", "SELECT * FROM t WHERE name = 'DROP TABLE'", true, ""},
		{"escaped quote in literal", "SELECT 'it''s; DELETE' FROM t", true, ""},
		{"keyword in double quotes", `SELECT "delete" FROM t`, true, ""},
		{"keyword in backticks", "SELECT `update` FROM t", true, ""},
		{"keyword in brackets", "SELECT [drop]]x] FROM t", true, ""},
		{"keyword in line comment", "SELECT 1 -- DROP TABLE x\n", true, ""},
		{"keyword in block comment", "SELECT /* ; DELETE */ 1", true, ""},
		{"leading comment", "/* note */ SELECT 1", true, ""},
		{"column named like keyword prefix", "SELECT created_at, updates FROM t", true, ""},

		{"empty", "", false, ReasonEmpty},
		{"whitespace", "  \n\t ", false, ReasonEmpty},
		{"only comment", "-- nothing", false, ReasonEmpty},
		{"only terminator", ";", false, ReasonEmpty},
		{"two statements", "SELECT 1; DROP TABLE x;", false, ReasonMultiple},
		{"double terminator", "SELECT 1;; ", false, ReasonMultiple},
		{"trailing statement", "SELECT 1; SELECT 2", false, ReasonTrailing},
		{"pragma", "PRAGMA foreign_keys=ON", false, ReasonForbiddenPrefix + "PRAGMA"},
		{"delete", "DELETE FROM files", false, ReasonForbiddenPrefix + "DELETE"},
		{"mixed case", "SeLeCt 1 FROM t WHERE x IN (dRoP)", false, ReasonForbiddenPrefix + "DROP"},
		{"cte with insert", "WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x", false, ReasonForbiddenPrefix + "INSERT"},
		{"replace function", "SELECT replace(name, 'a', 'b') FROM t", false, ReasonForbiddenPrefix + "REPLACE"},
		{"attach", "ATTACH DATABASE 'x.db' AS x", false, ReasonForbiddenPrefix + "ATTACH"},
		{"values", "VALUES (1)", false, ReasonLeadingKeyword},
		{"begin", "BEGIN", false, ReasonLeadingKeyword},
		{"unterminated literal hides terminator", "SELECT 'abc; DROP", true, ""},
		{"unterminated comment", "SELECT 1 /* DROP", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Validate(tt.sql)
			assert.Equal(t, tt.ok, got.OK)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestSanitize_PreservesShape(t *testing.T) {
	t.Parallel()
	in := "SELECT 'a;b' -- x\nFROM \"t\" /* c */ [d]"
	out := Sanitize(in)
	assert.Len(t, out, len(in))
	assert.Equal(t, "SELECT '   '     \nFROM \" \"         [ ]", out)
}
