// Package conversation keeps the filters of each session's last executed
// query and turns them into hints for follow-up questions.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by backends for sessions without stored context.
var ErrNotFound = errors.New("conversation context not found")

// FilterKind names a context slot.
type FilterKind string

const (
	FilterName       FilterKind = "name"
	FilterDepartment FilterKind = "department"
	FilterDate       FilterKind = "date"
	FilterStatus     FilterKind = "status"
)

// filterOrder fixes the rendering order of hint lines.
var filterOrder = []FilterKind{FilterName, FilterDepartment, FilterDate, FilterStatus}

var filterLabels = map[FilterKind]string{
	FilterName:       "Person filter",
	FilterDepartment: "Department filter",
	FilterDate:       "Date filter",
	FilterStatus:     "Status filter",
}

// Filter is one recognized predicate, e.g. {department, =, 'ADMIN'}.
type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %s", f.Column, f.Operator, f.Value)
}

// Context is the extracted state of a session's last successful query.
type Context struct {
	SessionID      string                `json:"session_id"`
	Namespace      string                `json:"namespace,omitempty"`
	Filters        map[FilterKind]Filter `json:"filters,omitempty"`
	GroupBy        string                `json:"group_by,omitempty"`
	Table          string                `json:"table,omitempty"`
	WasAggregation bool                  `json:"was_aggregation"`
	LastQuestion   string                `json:"last_question,omitempty"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Populated reports whether any slot a hint could render is set.
func (c *Context) Populated() bool {
	return c != nil && (len(c.Filters) > 0 || c.GroupBy != "" || c.Table != "")
}

func (c *Context) clone() *Context {
	cp := *c
	cp.Filters = make(map[FilterKind]Filter, len(c.Filters))
	for k, v := range c.Filters {
		cp.Filters[k] = v
	}
	return &cp
}

// Backend persists contexts by session id.
type Backend interface {
	Load(ctx context.Context, sessionID string) (*Context, error)
	Save(ctx context.Context, c *Context) error
	Delete(ctx context.Context, sessionID string) error
}
