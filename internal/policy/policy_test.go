package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry("checklist", "")
	require.NoError(t, err)
	return r
}

func TestNewDefaultRegistry(t *testing.T) {
	r := loadDefaults(t)

	assert.Equal(t, []string{"checklist", "lead_to_order", "maintenance"}, r.Namespaces())
	assert.Equal(t, "checklist", r.DefaultNamespace())

	doc, err := r.Get("checklist")
	require.NoError(t, err)
	assert.Equal(t, []string{"checklist", "delegation", "users", "leave_request"}, doc.TableNames())

	_, err = r.Get("billing")
	assert.True(t, errors.Is(err, ErrUnknownNamespace))
}

func TestNewDefaultRegistry_UnknownDefault(t *testing.T) {
	_, err := NewDefaultRegistry("billing", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownNamespace))
}

func TestNewDefaultRegistry_OverrideFromDir(t *testing.T) {
	dir := t.TempDir()
	override := []byte(`
namespace: maintenance
version: 9
tables:
  - name: machines
    columns:
      - {name: machine_name, type: TEXT}
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maintenance.yaml"), override, 0o600))

	r, err := NewDefaultRegistry("checklist", dir)
	require.NoError(t, err)

	doc, err := r.Get("maintenance")
	require.NoError(t, err)
	assert.Equal(t, 9, doc.Version)
	assert.Equal(t, []string{"machines"}, doc.TableNames())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing namespace",
			yaml:    "version: 1\ntables: [{name: a}]",
			wantErr: "no namespace",
		},
		{
			name:    "no tables",
			yaml:    "namespace: x",
			wantErr: "no tables",
		},
		{
			name:    "duplicate table",
			yaml:    "namespace: x\ntables: [{name: a}, {name: A}]",
			wantErr: "duplicate table a",
		},
		{
			name:    "allowed and forbidden",
			yaml:    "namespace: x\ntables: [{name: a, columns: [{name: Status}], forbidden: [status]}]",
			wantErr: "both allowed and forbidden",
		},
		{
			name:    "malformed yaml",
			yaml:    "namespace: [",
			wantErr: "failed to parse",
		},
		{
			name: "valid",
			yaml: "namespace: x\ntables: [{name: A, columns: [{name: Id, type: INT}]}]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tbl, ok := doc.Table("a")
			require.True(t, ok)
			assert.True(t, tbl.Allows("ID"))
		})
	}
}

func TestRender(t *testing.T) {
	doc, err := loadDefaults(t).Get("checklist")
	require.NoError(t, err)

	out := doc.Render()
	assert.Contains(t, out, "DATABASE: checklist (policy v3)")
	assert.Contains(t, out, "TABLE checklist")
	assert.Contains(t, out, "- submission_date (TIMESTAMP)")
	assert.Contains(t, out, "Values: ['Daily', 'Weekly', 'Monthly']")
	assert.Contains(t, out, "FORBIDDEN columns (never use): status, remark, image, delay, planned_date")
	assert.Contains(t, out, "RULES:\n1. Pending tasks")
}

func TestTerms(t *testing.T) {
	doc, err := loadDefaults(t).Get("maintenance")
	require.NoError(t, err)

	tbl, ok := doc.Table("maintenance_task_assign")
	require.True(t, ok)
	terms := tbl.Terms()
	assert.Contains(t, terms, "maintenance_task_assign")
	assert.Contains(t, terms, "task")
	assert.Contains(t, terms, "assign")
	assert.Contains(t, terms, "technician")
	assert.Contains(t, doc.Terms(), "breakdown")
}

func TestReferencedTables(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{"simple", "SELECT * FROM checklist", []string{"checklist"}},
		{"join and schema prefix", "SELECT * FROM public.checklist c JOIN users u ON u.user_name = c.name", []string{"checklist", "users"}},
		{"quoted", `SELECT * FROM "Delegation"`, []string{"delegation"}},
		{"cte excluded", "WITH pending AS (SELECT * FROM checklist) SELECT COUNT(*) FROM pending", []string{"checklist"}},
		{"two ctes", "WITH a AS (SELECT * FROM checklist), b AS (SELECT * FROM delegation) SELECT * FROM a UNION ALL SELECT * FROM b", []string{"checklist", "delegation"}},
		{"extract is not a table", "SELECT EXTRACT(MONTH FROM task_start_date) FROM checklist", []string{"checklist"}},
		{"literal is not a table", "SELECT * FROM checklist WHERE task_description = 'copy from ledger'", []string{"checklist"}},
		{"union dedupes", "SELECT name FROM checklist UNION ALL SELECT name FROM checklist", []string{"checklist"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ReferencedTables(tt.sql))
		})
	}
}

func TestCheck(t *testing.T) {
	doc, err := loadDefaults(t).Get("checklist")
	require.NoError(t, err)

	t.Run("compliant", func(t *testing.T) {
		v := doc.Check("SELECT COUNT(*) FROM checklist WHERE submission_date IS NULL AND LOWER(department) = LOWER('admin')")
		assert.Empty(t, v)
	})

	t.Run("forbidden column", func(t *testing.T) {
		v := doc.Check("SELECT COUNT(*) FROM checklist WHERE status = 'pending'")
		require.Len(t, v, 1)
		assert.Equal(t, ViolationForbiddenColumn, v[0].Kind)
		assert.Equal(t, "checklist", v[0].Table)
		assert.Equal(t, "status", v[0].Column)
	})

	t.Run("forbidden column allowed by a sibling table", func(t *testing.T) {
		v := doc.Check("SELECT name, planned_date FROM delegation UNION ALL SELECT name, NULL AS planned_date FROM checklist")
		assert.Empty(t, v)
	})

	t.Run("column name inside a literal is ignored", func(t *testing.T) {
		v := doc.Check("SELECT * FROM checklist WHERE task_description = 'check status'")
		assert.Empty(t, v)
	})

	t.Run("unknown table", func(t *testing.T) {
		v := doc.Check("SELECT * FROM fms_leads")
		require.Len(t, v, 1)
		assert.Equal(t, ViolationUnknownTable, v[0].Kind)
		assert.Contains(t, v[0].Message, "use one of: checklist, delegation, users, leave_request")
	})

	t.Run("feedback", func(t *testing.T) {
		fb := Feedback(doc.Check("SELECT status, remark FROM checklist"))
		assert.Equal(t, "Schema policy violations: column checklist.status is forbidden; column checklist.remark is forbidden", fb)
		assert.Empty(t, Feedback(nil))
	})

	t.Run("forbidden matchers are built once at load", func(t *testing.T) {
		tbl, ok := doc.Table("checklist")
		require.True(t, ok)
		require.Len(t, tbl.forbidden, len(tbl.Forbidden))

		first := tbl.forbidden[0]
		doc.Check("SELECT status FROM checklist")
		assert.Same(t, first, tbl.forbidden[0])
	})
}

func TestCheck_UnparsedDocument(t *testing.T) {
	doc := &Document{
		Namespace: "ops",
		Tables: []Table{{
			Name:      "jobs",
			Columns:   []Column{{Name: "id", Type: "integer"}},
			Forbidden: []string{"secret"},
		}},
	}

	v := doc.Check("SELECT secret FROM jobs")
	require.Len(t, v, 1)
	assert.Equal(t, "secret", v[0].Column)
	assert.Nil(t, doc.Tables[0].forbidden)

	NewRegistry("ops").Register(doc)
	assert.Len(t, doc.Tables[0].forbidden, 1)
	assert.Len(t, doc.Check("SELECT secret FROM jobs"), 1)
	assert.Empty(t, doc.Check("SELECT secrets FROM jobs"))
}

func TestRoute(t *testing.T) {
	r := loadDefaults(t)

	tests := []struct {
		name       string
		question   string
		expected   string
		candidates []string
	}{
		{"checklist vocabulary", "How many pending tasks in the ADMIN department?", "checklist", nil},
		{"sales vocabulary", "Show quotations for each customer", "lead_to_order", nil},
		{"maintenance vocabulary", "Which machine repairs are still pending?", "maintenance", nil},
		{"phrase keyword", "tasks given by Ravi", "checklist", nil},
		{"no overlap uses default", "hello there", "checklist", nil},
		{"tie is ambiguous", "show every task", "", []string{"checklist", "maintenance"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, err := r.Route(tt.question)
			if tt.candidates != nil {
				var amb *AmbiguousError
				require.True(t, errors.As(err, &amb), "expected ambiguity, got %v", err)
				assert.Equal(t, tt.candidates, amb.Candidates)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ns)
		})
	}
}

func TestRoute_NoDefault(t *testing.T) {
	r := NewRegistry("")
	doc, err := Parse([]byte("namespace: x\nkeywords: [widget]\ntables: [{name: widgets}]"))
	require.NoError(t, err)
	r.Register(doc)

	_, err = r.Route("gadgets please")
	assert.True(t, errors.Is(err, ErrNoMatch))

	ns, err := r.Route("count the widgets")
	require.NoError(t, err)
	assert.Equal(t, "x", ns)
}
