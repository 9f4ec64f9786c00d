package resolver

import (
	"fmt"
	"sort"
)

// DefaultDisplayRows is how many rows a result carries when not configured.
const DefaultDisplayRows = 15

// FormattedRows is a result set trimmed for presentation. TotalRows always
// holds the full count.
type FormattedRows struct {
	Rows      []map[string]any
	Columns   []string
	TotalRows int
	Truncated bool
	Summary   string
}

// ResultFormatter handles truncation and summaries of executed results
type ResultFormatter struct {
	displayRows int
}

// NewResultFormatter creates a formatter that keeps at most displayRows rows.
func NewResultFormatter(displayRows int) *ResultFormatter {
	if displayRows <= 0 {
		displayRows = DefaultDisplayRows
	}
	return &ResultFormatter{displayRows: displayRows}
}

// Format trims rows to the display limit and summarizes them.
func (f *ResultFormatter) Format(rows []map[string]any) FormattedRows {
	out := FormattedRows{
		Rows:      rows,
		Columns:   columnsOf(rows),
		TotalRows: len(rows),
	}
	if out.Rows == nil {
		out.Rows = []map[string]any{}
	}

	if len(rows) > f.displayRows {
		out.Rows = rows[:f.displayRows]
		out.Truncated = true
	}

	out.Summary = f.summarize(out)
	return out
}

func (f *ResultFormatter) summarize(r FormattedRows) string {
	switch {
	case r.TotalRows == 0:
		return "No rows returned."
	case r.TotalRows == 1 && len(r.Columns) == 1:
		col := r.Columns[0]
		return fmt.Sprintf("%s: %v", col, r.Rows[0][col])
	case r.TotalRows == 1:
		return "1 row returned."
	case r.Truncated:
		return fmt.Sprintf("Showing %d of %d rows.", len(r.Rows), r.TotalRows)
	default:
		return fmt.Sprintf("%d rows returned.", r.TotalRows)
	}
}

// columnsOf returns the sorted union of column names across rows.
func columnsOf(rows []map[string]any) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols
}
