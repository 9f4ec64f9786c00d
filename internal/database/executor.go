package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
)

// DefaultQueryTimeout bounds a single statement when Options.Timeout is unset.
const DefaultQueryTimeout = 30 * time.Second

// QueryExecutor runs one read-only statement and returns its rows keyed by
// column name.
type QueryExecutor interface {
	Execute(ctx context.Context, query string) ([]map[string]any, error)
}

// Options configures an Executor.
type Options struct {
	Timeout time.Duration
	// PlainTx starts transactions without the read-only flag, for drivers
	// that reject it.
	PlainTx bool
}

// Executor runs statements against the target database inside read-only
// transactions.
type Executor struct {
	db      *sql.DB
	timeout time.Duration
	txOpts  *sql.TxOptions
}

// NewExecutor creates an executor over db.
func NewExecutor(db *sql.DB, opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultQueryTimeout
	}
	txOpts := &sql.TxOptions{ReadOnly: true}
	if opts.PlainTx {
		txOpts = nil
	}
	return &Executor{db: db, timeout: opts.Timeout, txOpts: txOpts}
}

// Execute runs query and returns every row. The transaction is always
// rolled back.
func (e *Executor) Execute(ctx context.Context, query string) (rows []map[string]any, err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBMetrics("execute", time.Since(start), len(rows), err)
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, e.txOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer result.Close()

	rows, err = scanRows(result)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Ping tests the database connection
func (e *Executor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func scanRows(result *sql.Rows) ([]map[string]any, error) {
	columns, err := result.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	rows := make([]map[string]any, 0)
	for result.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := result.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return rows, nil
}
