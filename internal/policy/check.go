package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// ViolationKind classifies a static policy violation.
type ViolationKind string

const (
	ViolationUnknownTable    ViolationKind = "unknown_table"
	ViolationForbiddenColumn ViolationKind = "forbidden_column"
)

// Violation is one policy breach found in a SQL statement.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	Table   string        `json:"table"`
	Column  string        `json:"column,omitempty"`
	Message string        `json:"message"`
}

var (
	literalPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
	// EXTRACT(x FROM col) and friends use FROM without naming a table.
	fromFunctions = regexp.MustCompile(`(?i)\b(extract|substring|trim|position|overlay)\s*\([^()]*\)`)
	tableRef      = regexp.MustCompile(`(?i)\b(?:from|join)\s+("?[a-z_][\w.]*"?)`)
	cteName       = regexp.MustCompile(`(?i)(?:\bwith\s+(?:recursive\s+)?|,\s*)([a-z_]\w*)\s+as\s*\(`)
)

// ReferencedTables returns the distinct tables a statement reads from,
// lowercased, without schema qualifiers and excluding CTE names.
func ReferencedTables(sql string) []string {
	scan := literalPattern.ReplaceAllString(sql, "''")
	scan = fromFunctions.ReplaceAllString(scan, "$1()")

	ctes := make(map[string]bool)
	for _, m := range cteName.FindAllStringSubmatch(scan, -1) {
		ctes[strings.ToLower(m[1])] = true
	}

	seen := make(map[string]bool)
	var tables []string
	for _, m := range tableRef.FindAllStringSubmatch(scan, -1) {
		name := strings.ToLower(strings.Trim(m[1], `"`))
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if name == "" || ctes[name] || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// Check statically analyses sql against the document. A forbidden column is
// reported only when no other referenced table allows a column of that name.
func (d *Document) Check(sql string) []Violation {
	var violations []Violation

	var known []*Table
	for _, name := range ReferencedTables(sql) {
		t, ok := d.Table(name)
		if !ok {
			violations = append(violations, Violation{
				Kind:    ViolationUnknownTable,
				Table:   name,
				Message: fmt.Sprintf("table %s is not part of the %s schema; use one of: %s", name, d.Namespace, strings.Join(d.TableNames(), ", ")),
			})
			continue
		}
		known = append(known, t)
	}

	scan := strings.ToLower(literalPattern.ReplaceAllString(sql, "''"))
	for _, t := range known {
		for i, re := range t.forbiddenPatterns() {
			col := t.Forbidden[i]
			if !re.MatchString(scan) || allowedByAny(known, col) {
				continue
			}
			violations = append(violations, Violation{
				Kind:    ViolationForbiddenColumn,
				Table:   t.Name,
				Column:  col,
				Message: fmt.Sprintf("column %s.%s is forbidden", t.Name, col),
			})
		}
	}

	return violations
}

// Feedback renders violations as a correction instruction for the generator.
func Feedback(violations []Violation) string {
	if len(violations) == 0 {
		return ""
	}
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Message
	}
	return "Schema policy violations: " + strings.Join(msgs, "; ")
}

func allowedByAny(tables []*Table, column string) bool {
	for _, t := range tables {
		if t.Allows(column) {
			return true
		}
	}
	return false
}
