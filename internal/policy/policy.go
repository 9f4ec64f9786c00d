// Package policy models the schema policy of each namespace as a typed,
// versioned document: which tables and columns generated SQL may use, the
// enum domains of those columns, the columns it must never touch and the
// business rules the generator has to follow.
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the schema policy for one namespace.
type Document struct {
	Namespace   string   `yaml:"namespace" json:"namespace"`
	Version     int      `yaml:"version" json:"version"`
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords" json:"keywords,omitempty"`
	Tables      []Table  `yaml:"tables" json:"tables"`
	Rules       []string `yaml:"rules" json:"rules,omitempty"`
}

// Table lists the allowed and forbidden columns of one table.
type Table struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Keywords    []string `yaml:"keywords" json:"keywords,omitempty"`
	Columns     []Column `yaml:"columns" json:"columns"`
	Forbidden   []string `yaml:"forbidden" json:"forbidden,omitempty"`

	// forbidden[i] matches Forbidden[i] as a whole word.
	forbidden []*regexp.Regexp
}

// Column is an allowed column. Values, when set, is the complete enum domain.
type Column struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Values      []string `yaml:"values" json:"values,omitempty"`
}

// Parse decodes and validates a YAML policy document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	doc.normalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	doc.compile()
	return &doc, nil
}

// compile builds the forbidden-column matchers of every table. Tables that
// already have them are left alone.
func (d *Document) compile() {
	for i := range d.Tables {
		t := &d.Tables[i]
		if len(t.forbidden) != len(t.Forbidden) {
			t.forbidden = wordPatterns(t.Forbidden)
		}
	}
}

func wordPatterns(words []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(w)) + `\b`)
	}
	return patterns
}

// forbiddenPatterns returns the compiled matchers, building throwaway ones
// for a table that never went through Parse or Register.
func (t *Table) forbiddenPatterns() []*regexp.Regexp {
	if len(t.forbidden) == len(t.Forbidden) {
		return t.forbidden
	}
	return wordPatterns(t.Forbidden)
}

func (d *Document) normalize() {
	d.Namespace = strings.TrimSpace(d.Namespace)
	for i := range d.Tables {
		t := &d.Tables[i]
		t.Name = strings.ToLower(strings.TrimSpace(t.Name))
		for j := range t.Columns {
			t.Columns[j].Name = strings.ToLower(strings.TrimSpace(t.Columns[j].Name))
		}
		for j := range t.Forbidden {
			t.Forbidden[j] = strings.ToLower(strings.TrimSpace(t.Forbidden[j]))
		}
	}
}

// Validate checks the document for structural mistakes.
func (d *Document) Validate() error {
	if d.Namespace == "" {
		return fmt.Errorf("policy document has no namespace")
	}
	if len(d.Tables) == 0 {
		return fmt.Errorf("policy %s: no tables defined", d.Namespace)
	}

	seen := make(map[string]bool, len(d.Tables))
	for _, t := range d.Tables {
		if t.Name == "" {
			return fmt.Errorf("policy %s: table without a name", d.Namespace)
		}
		if seen[t.Name] {
			return fmt.Errorf("policy %s: duplicate table %s", d.Namespace, t.Name)
		}
		seen[t.Name] = true

		for _, f := range t.Forbidden {
			if t.Allows(f) {
				return fmt.Errorf("policy %s: column %s.%s is both allowed and forbidden", d.Namespace, t.Name, f)
			}
		}
	}
	return nil
}

// Table returns the named table, case-insensitively.
func (d *Document) Table(name string) (*Table, bool) {
	name = strings.ToLower(name)
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i], true
		}
	}
	return nil, false
}

// TableNames returns the table names in document order.
func (d *Document) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for _, t := range d.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Allows reports whether column is an allowed column of the table.
func (t *Table) Allows(column string) bool {
	column = strings.ToLower(column)
	for _, c := range t.Columns {
		if c.Name == column {
			return true
		}
	}
	return false
}

// Forbids reports whether column is explicitly forbidden on the table.
func (t *Table) Forbids(column string) bool {
	column = strings.ToLower(column)
	for _, f := range t.Forbidden {
		if f == column {
			return true
		}
	}
	return false
}

// Terms returns the lowercase vocabulary that identifies a table in a
// question: its name, the parts of a snake_case name and its keywords.
func (t *Table) Terms() []string {
	set := map[string]bool{t.Name: true}
	for _, part := range strings.Split(t.Name, "_") {
		if len(part) > 2 {
			set[part] = true
		}
	}
	for _, kw := range t.Keywords {
		set[strings.ToLower(kw)] = true
	}
	return sortedKeys(set)
}

// Terms returns the namespace vocabulary: document keywords plus the terms of every table.
func (d *Document) Terms() []string {
	set := make(map[string]bool)
	for _, kw := range d.Keywords {
		set[strings.ToLower(kw)] = true
	}
	for i := range d.Tables {
		for _, term := range d.Tables[i].Terms() {
			set[term] = true
		}
	}
	return sortedKeys(set)
}

// Render produces the schema context handed to the SQL generator.
func (d *Document) Render() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("DATABASE: %s (policy v%d)\n", d.Namespace, d.Version))
	if d.Description != "" {
		sb.WriteString(strings.TrimSpace(d.Description))
		sb.WriteString("\n")
	}

	for _, t := range d.Tables {
		sb.WriteString(fmt.Sprintf("\nTABLE %s", t.Name))
		if t.Description != "" {
			sb.WriteString(fmt.Sprintf(": %s", t.Description))
		}
		sb.WriteString("\nAllowed columns:\n")
		for _, c := range t.Columns {
			sb.WriteString(fmt.Sprintf("- %s (%s)", c.Name, c.Type))
			if c.Description != "" {
				sb.WriteString(fmt.Sprintf(": %s", c.Description))
			}
			if len(c.Values) > 0 {
				sb.WriteString(fmt.Sprintf(" Values: [%s]", strings.Join(quoteAll(c.Values), ", ")))
			}
			sb.WriteString("\n")
		}
		if len(t.Forbidden) > 0 {
			sb.WriteString(fmt.Sprintf("FORBIDDEN columns (never use): %s\n", strings.Join(t.Forbidden, ", ")))
		}
	}

	if len(d.Rules) > 0 {
		sb.WriteString("\nRULES:\n")
		for i, rule := range d.Rules {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, rule))
		}
	}

	return sb.String()
}

func quoteAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = "'" + v + "'"
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
