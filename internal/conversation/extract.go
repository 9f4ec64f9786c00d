package conversation

import (
	"regexp"
	"strings"

	"github.com/seanankenbruck/nl2sql-guard/internal/policy"
)

var (
	// column = 'v', LOWER(column) = LOWER('v'), column ILIKE '%v%'
	equalityFilter = regexp.MustCompile(`(?i)(?:lower\s*\(\s*)?\b([a-z_][\w.]*)\s*\)?\s*(=|ilike|like)\s*(?:lower\s*\(\s*)?'((?:[^']|'')*)'`)

	dateLowerBound = regexp.MustCompile(`(?i)\b([a-z_][\w.]*)\s*(>=|>)\s*((?:'[^']*'|[a-z_]+\s*\([^()]*\)|current_date|current_timestamp)(?:\s*[-+]\s*interval\s*'[^']*')?)`)

	nullCheck = regexp.MustCompile(`(?i)\b([a-z_][\w.]*_date)\s+is\s+(not\s+)?null\b`)

	groupByColumn = regexp.MustCompile(`(?i)\bgroup\s+by\s+([a-z_][\w.]*)`)

	aggregateCall = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max)\s*\(`)
)

// Fragments is what one executed statement contributes to a session context.
type Fragments struct {
	Filters        map[FilterKind]Filter
	GroupBy        string
	Table          string
	WasAggregation bool
}

// ExtractFragments runs the structural recognizers over an executed statement.
// The first match per slot wins.
func ExtractFragments(sql string) Fragments {
	f := Fragments{Filters: make(map[FilterKind]Filter)}

	for _, m := range equalityFilter.FindAllStringSubmatch(sql, -1) {
		column := bareColumn(m[1])
		kind, ok := classifyEquality(column)
		if !ok {
			continue
		}
		if _, seen := f.Filters[kind]; seen {
			continue
		}
		f.Filters[kind] = Filter{
			Column:   column,
			Operator: strings.ToUpper(m[2]),
			Value:    "'" + m[3] + "'",
		}
	}

	for _, m := range dateLowerBound.FindAllStringSubmatch(sql, -1) {
		column := bareColumn(m[1])
		if !isDateColumn(column) {
			continue
		}
		f.Filters[FilterDate] = Filter{Column: column, Operator: m[2], Value: m[3]}
		break
	}

	if _, ok := f.Filters[FilterStatus]; !ok {
		if m := nullCheck.FindStringSubmatch(sql); m != nil {
			op := "IS NULL"
			if m[2] != "" {
				op = "IS NOT NULL"
			}
			f.Filters[FilterStatus] = Filter{Column: bareColumn(m[1]), Operator: op}
		}
	}

	if m := groupByColumn.FindStringSubmatch(sql); m != nil {
		f.GroupBy = bareColumn(m[1])
	}

	if tables := policy.ReferencedTables(sql); len(tables) > 0 {
		f.Table = tables[0]
	}

	f.WasAggregation = aggregateCall.MatchString(sql)
	return f
}

func classifyEquality(column string) (FilterKind, bool) {
	switch {
	case strings.Contains(column, "status"):
		return FilterStatus, true
	case strings.Contains(column, "department"), strings.Contains(column, "dept"), strings.Contains(column, "category"):
		return FilterDepartment, true
	case column == "name", strings.HasSuffix(column, "_name"), strings.HasSuffix(column, "_by"), column == "assigned_to", column == "doer":
		return FilterName, true
	}
	return "", false
}

func isDateColumn(column string) bool {
	return strings.HasSuffix(column, "_date") || strings.HasSuffix(column, "_at") ||
		strings.HasPrefix(column, "planned") || column == "date" || column == "timestamp"
}

// bareColumn lowercases and drops a table alias prefix.
func bareColumn(ref string) string {
	ref = strings.ToLower(ref)
	if i := strings.LastIndex(ref, "."); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
