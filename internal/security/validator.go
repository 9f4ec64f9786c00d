// Package security implements the deterministic SQL authorization and
// sanitization layer that every statement passes before it reaches the
// database. Checks run in a fixed order and the first failure wins.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxQueryLength bounds the size of a statement in characters.
	DefaultMaxQueryLength = 50000
	// DefaultMaxResultRows is the LIMIT appended to statements that lack one.
	DefaultMaxResultRows = 200
)

// ReasonCode identifies why a statement was rejected.
type ReasonCode string

const (
	ReasonNone               ReasonCode = ""
	ReasonEmptyQuery         ReasonCode = "EMPTY_QUERY"
	ReasonLengthExceeded     ReasonCode = "LENGTH_EXCEEDED"
	ReasonNotSelect          ReasonCode = "NOT_SELECT"
	ReasonMultipleStatements ReasonCode = "MULTIPLE_STATEMENTS"

	blockedKeywordPrefix = "BLOCKED_KEYWORD:"
	blockedPatternPrefix = "BLOCKED_PATTERN:"
)

// BlockedKeyword builds the reason code for a blocked keyword.
func BlockedKeyword(word string) ReasonCode {
	return ReasonCode(blockedKeywordPrefix + strings.ToUpper(word))
}

// BlockedPattern builds the reason code for a blocked injection pattern.
func BlockedPattern(pattern string) ReasonCode {
	return ReasonCode(blockedPatternPrefix + pattern)
}

// IsKeyword reports whether the reason is a BLOCKED_KEYWORD rejection.
func (r ReasonCode) IsKeyword() bool {
	return strings.HasPrefix(string(r), blockedKeywordPrefix)
}

// IsPattern reports whether the reason is a BLOCKED_PATTERN rejection.
func (r ReasonCode) IsPattern() bool {
	return strings.HasPrefix(string(r), blockedPatternPrefix)
}

// Category strips the detail from keyword and pattern reasons, for metric labels.
func (r ReasonCode) Category() string {
	switch {
	case r.IsKeyword():
		return strings.TrimSuffix(blockedKeywordPrefix, ":")
	case r.IsPattern():
		return strings.TrimSuffix(blockedPatternPrefix, ":")
	default:
		return string(r)
	}
}

// Decision is the immutable outcome of one validation call.
type Decision struct {
	Valid        bool       `json:"valid"`
	Reason       ReasonCode `json:"reason_code,omitempty"`
	Message      string     `json:"message,omitempty"`
	SanitizedSQL string     `json:"sanitized_sql,omitempty"`
}

// Options configures a Validator.
type Options struct {
	MaxQueryLength int
	MaxResultRows  int
}

// Validator is safe for concurrent use; it holds no mutable state.
type Validator struct {
	maxQueryLength int
	maxResultRows  int
	keywords       []keywordRule
	patterns       []*regexp.Regexp
}

type keywordRule struct {
	word string
	re   *regexp.Regexp
}

// blockedKeywords are matched as whole words against the lowercased statement.
// Order matters: the first match is the one reported.
var blockedKeywords = []string{
	// data modification
	"delete", "update", "insert", "merge", "upsert", "replace",
	// ddl
	"drop", "alter", "create", "truncate", "rename",
	// privileges
	"grant", "revoke", "deny",
	// transaction control and maintenance
	"commit", "rollback", "savepoint", "vacuum", "analyze", "reindex", "cluster",
	// execution primitives
	"exec", "execute", "call", "prepare",
	// export and file access
	"copy", "pg_dump", "pg_restore", "load", "pg_read_file", "pg_write_file",
	"lo_import", "lo_export", "into outfile", "into dumpfile", "load_file",
	// role management
	"createuser", "dropuser", "createrole", "droprole", "set role", "set session",
	// side channels and catalog access
	"benchmark", "sleep", "waitfor",
	"information_schema", "pg_catalog", "pg_shadow", "pg_authid",
}

// blockedPatterns are injection idioms, checked in order after keywords.
var blockedPatterns = []string{
	`/\*`,
	`\*/`,
	`--`,
	`\\x[0-9a-f]+`,
	`\bchr\s*\(`,
	`\bchar\s*\(`,
	`\bascii\s*\(`,
	`;\s*(select|insert|update|delete|drop|create)\b`,
	`\bpg_sleep\s*\(`,
	`\bsleep\s*\(`,
	`\bwaitfor\s+delay\b`,
	`\bbenchmark\s*\(`,
	`'\s*or\s+'`,
	`'\s*and\s+'`,
	`\b1\s*=\s*1\b`,
	`'='`,
	`\bxp_cmdshell\b`,
	`\bsp_executesql\b`,
	`\bdbms_`,
	`\butl_`,
	`\bdns\s*\(`,
	`\bhttp\s*\(`,
	`\bload_file\s*\(`,
}

var (
	selectPrefix    = regexp.MustCompile(`^select\b`)
	withPrefix      = regexp.MustCompile(`^with\b`)
	selectWord      = regexp.MustCompile(`\bselect\b`)
	limitWord       = regexp.MustCompile(`(?i)\blimit\b`)
	singleQuoted    = regexp.MustCompile(`'(?:[^']|'')*'`)
	doubleQuoted    = regexp.MustCompile(`"(?:[^"]|"")*"`)
	whitespaceInRun = regexp.MustCompile(`\s+`)
	// BETWEEN 'a' AND 'b' is a range, not a tautology.
	betweenLiterals = regexp.MustCompile(`\bbetween\s+'(?:[^']|'')*'\s+and\s+'(?:[^']|'')*'`)
)

// NewValidator compiles the keyword and pattern tables.
func NewValidator(opts Options) *Validator {
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = DefaultMaxQueryLength
	}
	if opts.MaxResultRows <= 0 {
		opts.MaxResultRows = DefaultMaxResultRows
	}

	v := &Validator{
		maxQueryLength: opts.MaxQueryLength,
		maxResultRows:  opts.MaxResultRows,
	}

	for _, word := range blockedKeywords {
		expr := whitespaceInRun.ReplaceAllString(regexp.QuoteMeta(word), `\s+`)
		v.keywords = append(v.keywords, keywordRule{
			word: word,
			re:   regexp.MustCompile(`\b` + expr + `\b`),
		})
	}
	for _, pattern := range blockedPatterns {
		v.patterns = append(v.patterns, regexp.MustCompile(pattern))
	}

	return v
}

// MaxResultRows returns the row cap applied by Sanitize.
func (v *Validator) MaxResultRows() int {
	return v.maxResultRows
}

// Validate runs the ordered checks against sql. A valid decision carries the
// sanitized statement.
func (v *Validator) Validate(sql string) Decision {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return reject(ReasonEmptyQuery, "query is empty")
	}

	if n := utf8.RuneCountInString(sql); n > v.maxQueryLength {
		return reject(ReasonLengthExceeded, fmt.Sprintf("query is %d characters, maximum is %d", n, v.maxQueryLength))
	}

	lower := strings.ToLower(trimmed)
	if !isSelect(lower) {
		return reject(ReasonNotSelect, "only SELECT statements and WITH ... SELECT queries are allowed")
	}

	for _, kw := range v.keywords {
		if kw.re.MatchString(lower) {
			return reject(BlockedKeyword(kw.word), fmt.Sprintf("query contains blocked keyword %q", strings.ToUpper(kw.word)))
		}
	}

	scan := betweenLiterals.ReplaceAllString(lower, "between ? and ?")
	for _, re := range v.patterns {
		if re.MatchString(scan) {
			return reject(BlockedPattern(re.String()), "query contains a blocked pattern")
		}
	}

	if countStatementSeparators(trimmed) > 1 {
		return reject(ReasonMultipleStatements, "only a single statement is allowed")
	}

	return Decision{Valid: true, SanitizedSQL: v.Sanitize(trimmed)}
}

// Sanitize strips one trailing semicolon and appends a LIMIT when the outer
// query has none. A LIMIT inside a subquery, CTE body or string literal does
// not cap the result set. Sanitize(Sanitize(x)) == Sanitize(x).
func (v *Validator) Sanitize(sql string) string {
	s := strings.TrimSpace(sql)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	if !limitWord.MatchString(topLevel(s)) {
		s = fmt.Sprintf("%s LIMIT %d", s, v.maxResultRows)
	}
	return s
}

// topLevel blanks quoted literals and drops everything inside parentheses,
// leaving the clauses of the outermost query.
func topLevel(sql string) string {
	s := singleQuoted.ReplaceAllString(sql, "''")
	s = doubleQuoted.ReplaceAllString(s, `""`)

	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
			if depth == 0 {
				b.WriteByte(' ')
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSelect(lower string) bool {
	if selectPrefix.MatchString(lower) {
		return true
	}
	return withPrefix.MatchString(lower) && selectWord.MatchString(lower)
}

// countStatementSeparators counts semicolons outside quoted literals.
func countStatementSeparators(sql string) int {
	stripped := singleQuoted.ReplaceAllString(sql, "''")
	stripped = doubleQuoted.ReplaceAllString(stripped, `""`)
	return strings.Count(stripped, ";")
}

func reject(reason ReasonCode, message string) Decision {
	return Decision{Valid: false, Reason: reason, Message: message}
}
