package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	apperrors "github.com/seanankenbruck/nl2sql-guard/internal/errors"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE checklist (id INTEGER PRIMARY KEY, name TEXT, task TEXT, payload BLOB, submission_date TEXT);
		INSERT INTO checklist (id, name, task, payload, submission_date) VALUES
			(1, 'Rahul', 'Daily report', X'6869', '2024-01-05'),
			(2, 'Priya', 'Weekly audit', NULL, NULL);
	`)
	require.NoError(t, err)
	return db
}

func TestConfig_DSNAndURL(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", Database: "ops", Username: "reader", Password: "p@ss"}

	assert.Equal(t, "host=db port=5432 user=reader password=p@ss dbname=ops sslmode=disable", cfg.DSN())
	assert.Equal(t, "postgres://reader:p%40ss@db:5432/ops?sslmode=disable", cfg.URL())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
	assert.Contains(t, cfg.URL(), "sslmode=require")
}

func TestExecutor_Execute(t *testing.T) {
	exec := NewExecutor(openTestDB(t), Options{PlainTx: true})

	rows, err := exec.Execute(context.Background(), "SELECT id, name, payload, submission_date FROM checklist ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.EqualValues(t, 1, rows[0]["id"])
	assert.Equal(t, "Rahul", rows[0]["name"])
	assert.Equal(t, "hi", rows[0]["payload"])
	assert.Nil(t, rows[1]["payload"])
	assert.Nil(t, rows[1]["submission_date"])
}

func TestExecutor_EmptyResult(t *testing.T) {
	exec := NewExecutor(openTestDB(t), Options{PlainTx: true})

	rows, err := exec.Execute(context.Background(), "SELECT id FROM checklist WHERE name = 'nobody'")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestExecutor_QueryError(t *testing.T) {
	exec := NewExecutor(openTestDB(t), Options{PlainTx: true})

	_, err := exec.Execute(context.Background(), "SELECT missing_column FROM checklist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query failed")
}

func TestExecutor_RollsBack(t *testing.T) {
	db := openTestDB(t)
	exec := NewExecutor(db, Options{PlainTx: true})

	_, err := exec.Execute(context.Background(), "DELETE FROM checklist")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM checklist").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestExecutor_CancelledContext(t *testing.T) {
	exec := NewExecutor(openTestDB(t), Options{PlainTx: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, "SELECT 1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewExecutor_Defaults(t *testing.T) {
	exec := NewExecutor(nil, Options{})
	assert.Equal(t, DefaultQueryTimeout, exec.timeout)
	require.NotNil(t, exec.txOpts)
	assert.True(t, exec.txOpts.ReadOnly)

	assert.Nil(t, NewExecutor(nil, Options{PlainTx: true}).txOpts)
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
	rows  []map[string]any
}

func (f *fakeExecutor) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rows, f.err
}

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    time.Second,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	}
}

func TestCircuitBreakerExecutor(t *testing.T) {
	fake := &fakeExecutor{rows: []map[string]any{{"n": 1}}}
	cb := NewCircuitBreakerExecutor(fake, "target-db", testBreakerConfig())

	rows, err := cb.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, fake.rows, rows)
	assert.NoError(t, cb.Ping(context.Background()))

	fake.err = errors.New("connection refused")
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), "SELECT 1")
		assert.ErrorIs(t, err, fake.err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.ErrorIs(t, cb.Ping(context.Background()), gobreaker.ErrOpenState)

	_, err = cb.Execute(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, apperrors.ErrCodeDatabaseConnection, apperrors.CodeOf(err))
	assert.Equal(t, 3, fake.calls)

	time.Sleep(100 * time.Millisecond)
	fake.err = nil
	_, err = cb.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerExecutor_PingDelegates(t *testing.T) {
	db := openTestDB(t)
	cb := NewCircuitBreakerExecutor(NewExecutor(db, Options{PlainTx: true}), "target-db", DefaultCircuitBreakerConfig(nil))
	assert.NoError(t, cb.Ping(context.Background()))

	db.Close()
	assert.Error(t, cb.Ping(context.Background()))
}
