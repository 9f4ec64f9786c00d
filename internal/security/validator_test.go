package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidator_Defaults(t *testing.T) {
	v := NewValidator(Options{})

	require.NotNil(t, v)
	assert.Equal(t, DefaultMaxResultRows, v.MaxResultRows())
	assert.Equal(t, DefaultMaxQueryLength, v.maxQueryLength)
	assert.Len(t, v.keywords, len(blockedKeywords))
	assert.Len(t, v.patterns, len(blockedPatterns))
}

func TestValidate_Scenarios(t *testing.T) {
	v := NewValidator(Options{})

	tests := []struct {
		name   string
		sql    string
		valid  bool
		reason ReasonCode
	}{
		{
			name:   "drop statement is not a select",
			sql:    "DROP TABLE users",
			reason: ReasonNotSelect,
		},
		{
			name:   "stacked drop is caught by keyword scan",
			sql:    "SELECT * FROM users; DROP TABLE users;",
			reason: BlockedKeyword("drop"),
		},
		{
			name:   "two trailing semicolons",
			sql:    "SELECT name FROM users;;",
			reason: ReasonMultipleStatements,
		},
		{
			name:  "semicolon inside a string literal is not counted",
			sql:   "SELECT name FROM users WHERE note = 'a;b';",
			valid: true,
		},
		{
			name:  "semicolon inside a double quoted identifier is not counted",
			sql:   `SELECT "odd;name" FROM users;`,
			valid: true,
		},
		{
			name:  "keyword as part of an identifier is ignored",
			sql:   "SELECT created_insert_by, updated_at FROM checklist",
			valid: true,
		},
		{
			name:  "cte is allowed",
			sql:   "WITH pending AS (SELECT * FROM checklist WHERE submission_date IS NULL) SELECT COUNT(*) FROM pending",
			valid: true,
		},
		{
			name:   "with without select",
			sql:    "WITH x AS (VALUES (1)) DELETE FROM users",
			reason: ReasonNotSelect,
		},
		{
			name:  "varchar cast is not a char constructor",
			sql:   "SELECT CAST(task_id AS varchar(20)) FROM checklist",
			valid: true,
		},
		{
			name:  "between date range is not a tautology",
			sql:   "SELECT COUNT(*) FROM checklist WHERE task_start_date BETWEEN '2024-01-01' AND '2024-01-31'",
			valid: true,
		},
		{
			name:   "empty",
			sql:    "   \n\t ",
			reason: ReasonEmptyQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := v.Validate(tt.sql)
			assert.Equal(t, tt.valid, d.Valid)
			assert.Equal(t, tt.reason, d.Reason)
			if tt.valid {
				assert.NotEmpty(t, d.SanitizedSQL)
				assert.Empty(t, d.Message)
			} else {
				assert.Empty(t, d.SanitizedSQL)
				assert.NotEmpty(t, d.Message)
			}
		})
	}
}

func TestValidate_LengthExceeded(t *testing.T) {
	v := NewValidator(Options{MaxQueryLength: 40})

	d := v.Validate("SELECT name FROM checklist WHERE department = 'ADMIN'")
	assert.False(t, d.Valid)
	assert.Equal(t, ReasonLengthExceeded, d.Reason)

	// length is counted in characters, not bytes
	short := NewValidator(Options{MaxQueryLength: 30})
	d = short.Validate("SELECT 'ééééééééé' FROM t")
	assert.True(t, d.Valid, d.Message)
}

func TestValidate_EmptyWinsOverLength(t *testing.T) {
	v := NewValidator(Options{MaxQueryLength: 5})

	d := v.Validate(strings.Repeat(" ", 50))
	assert.Equal(t, ReasonEmptyQuery, d.Reason)
}

func TestValidate_BlockedKeywordsAnyCase(t *testing.T) {
	v := NewValidator(Options{})

	for _, word := range blockedKeywords {
		for _, variant := range []string{strings.ToLower(word), strings.ToUpper(word), strings.Title(word)} {
			sql := "SELECT a FROM t WHERE x = 1 " + variant + " y"
			t.Run(variant, func(t *testing.T) {
				d := v.Validate(sql)
				require.False(t, d.Valid)
				assert.True(t, d.Reason.IsKeyword(), "got %s", d.Reason)
			})
		}
	}
}

func TestValidate_KeywordReportedUpperCase(t *testing.T) {
	v := NewValidator(Options{})

	d := v.Validate("select * from t where pg_read_file('x') is not null")
	assert.Equal(t, ReasonCode("BLOCKED_KEYWORD:PG_READ_FILE"), d.Reason)

	d = v.Validate("select * from t into   outfile '/tmp/x'")
	assert.Equal(t, ReasonCode("BLOCKED_KEYWORD:INTO OUTFILE"), d.Reason)
}

func TestValidate_NotSelectWinsOverKeyword(t *testing.T) {
	v := NewValidator(Options{})

	for _, sql := range []string{
		"UPDATE users SET role = 'admin'",
		"insert into users values (1)",
		"EXPLAIN SELECT * FROM users",
		"(SELECT 1)",
		"GRANT ALL ON users TO public",
	} {
		t.Run(sql, func(t *testing.T) {
			assert.Equal(t, ReasonNotSelect, v.Validate(sql).Reason)
		})
	}
}

func TestValidate_BlockedPatterns(t *testing.T) {
	v := NewValidator(Options{})

	tests := []struct {
		name    string
		sql     string
		pattern string
	}{
		{"comment open", "SELECT a /* hidden */ FROM t", `/\*`},
		{"line comment", "SELECT a FROM t -- trailing", `--`},
		{"hex escape", `SELECT '\x41' FROM t`, `\\x[0-9a-f]+`},
		{"chr constructor", "SELECT chr(65) FROM t", `\bchr\s*\(`},
		{"ascii function", "SELECT ascii (name) FROM t", `\bascii\s*\(`},
		{"stacked select", "SELECT 1; SELECT 2", `;\s*(select|insert|update|delete|drop|create)\b`},
		{"pg_sleep", "SELECT pg_sleep(10)", `\bpg_sleep\s*\(`},
		{"or tautology", "SELECT * FROM users WHERE name = '' or ''", `'\s*or\s+'`},
		{"numeric tautology", "SELECT * FROM users WHERE 1 = 1", `\b1\s*=\s*1\b`},
		{"quote equals quote", "SELECT * FROM users WHERE name = ''='' ", `'='`},
		{"oracle package", "SELECT dbms_random.value FROM dual", `\bdbms_`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := v.Validate(tt.sql)
			require.False(t, d.Valid)
			assert.Equal(t, BlockedPattern(tt.pattern), d.Reason)
			assert.True(t, d.Reason.IsPattern())
		})
	}
}

func TestSanitize(t *testing.T) {
	v := NewValidator(Options{MaxResultRows: 200})

	tests := []struct {
		name     string
		sql      string
		expected string
	}{
		{"appends limit", "SELECT * FROM checklist", "SELECT * FROM checklist LIMIT 200"},
		{"strips trailing semicolon", "SELECT * FROM checklist;", "SELECT * FROM checklist LIMIT 200"},
		{"strips semicolon and whitespace", "  SELECT * FROM checklist ;  ", "SELECT * FROM checklist LIMIT 200"},
		{"keeps existing limit", "SELECT * FROM checklist LIMIT 5;", "SELECT * FROM checklist LIMIT 5"},
		{"limit in any case", "select * from checklist limit 5", "select * from checklist limit 5"},
		{"column named limit_value still gets a limit", "SELECT limit_value FROM quotas", "SELECT limit_value FROM quotas LIMIT 200"},
		{"limit inside a subquery does not cap the outer query",
			"SELECT * FROM checklist WHERE task_id IN (SELECT task_id FROM checklist ORDER BY task_id LIMIT 1)",
			"SELECT * FROM checklist WHERE task_id IN (SELECT task_id FROM checklist ORDER BY task_id LIMIT 1) LIMIT 200"},
		{"limit inside a cte body does not cap the outer query",
			"WITH recent AS (SELECT * FROM checklist LIMIT 10) SELECT name FROM recent",
			"WITH recent AS (SELECT * FROM checklist LIMIT 10) SELECT name FROM recent LIMIT 200"},
		{"limit inside a string literal", "SELECT * FROM quotas WHERE note = 'over limit'", "SELECT * FROM quotas WHERE note = 'over limit' LIMIT 200"},
		{"outer limit after a subquery is kept",
			"SELECT * FROM checklist WHERE task_id IN (SELECT task_id FROM checklist) LIMIT 7",
			"SELECT * FROM checklist WHERE task_id IN (SELECT task_id FROM checklist) LIMIT 7"},
		{"limit with offset", "SELECT * FROM checklist LIMIT 5 OFFSET 10", "SELECT * FROM checklist LIMIT 5 OFFSET 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, v.Sanitize(tt.sql))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	v := NewValidator(Options{})

	for _, sql := range []string{
		"SELECT * FROM checklist",
		"SELECT * FROM checklist;",
		"SELECT COUNT(*) FROM delegation WHERE submission_date IS NULL LIMIT 10;",
		"WITH x AS (SELECT 1 AS n) SELECT n FROM x",
		"SELECT name FROM users WHERE note = 'a;b';",
		"SELECT * FROM checklist WHERE task_id IN (SELECT task_id FROM checklist LIMIT 1)",
	} {
		t.Run(sql, func(t *testing.T) {
			d := v.Validate(sql)
			require.True(t, d.Valid, d.Message)
			once := v.Sanitize(sql)
			assert.Equal(t, once, v.Sanitize(once))
			assert.Equal(t, once, d.SanitizedSQL)
		})
	}
}

func TestReasonCode_Category(t *testing.T) {
	assert.Equal(t, "BLOCKED_KEYWORD", BlockedKeyword("drop").Category())
	assert.Equal(t, "BLOCKED_PATTERN", BlockedPattern(`/\*`).Category())
	assert.Equal(t, "NOT_SELECT", ReasonNotSelect.Category())
}
