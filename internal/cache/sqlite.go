package cache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/seanankenbruck/nl2sql-guard/internal/embedding"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS query_cache (
	id         TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	question   TEXT NOT NULL,
	sql_text   TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	cached_at  INTEGER NOT NULL,
	hit_count  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_query_cache_namespace ON query_cache(namespace);
`

// SQLiteStore persists the cache in a single SQLite file. Nearest scans the
// namespace's vectors in Go since SQLite has no vector operators.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// a single connection keeps ":memory:" coherent and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure cache database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Nearest(ctx context.Context, namespace string, vector []float32) (*Neighbor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, question, sql_text, embedding, cached_at, hit_count
		FROM query_cache
		WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	defer rows.Close()

	var best *Neighbor
	for rows.Next() {
		var (
			e      Entry
			blob   []byte
			cached int64
		)
		if err := rows.Scan(&e.ID, &e.Namespace, &e.Question, &e.SQL, &blob, &cached, &e.HitCount); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		e.CachedAt = time.UnixMilli(cached).UTC()

		d := embedding.L2Distance(vector, decodeVector(blob))
		if best == nil || d < best.Distance {
			best = &Neighbor{Entry: e, Distance: d}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache rows: %w", err)
	}
	return best, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, entry Entry, vector []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_cache (id, namespace, question, sql_text, embedding, cached_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			sql_text = excluded.sql_text,
			embedding = excluded.embedding,
			cached_at = excluded.cached_at`,
		entry.ID, entry.Namespace, entry.Question, entry.SQL, encodeVector(vector), entry.CachedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE query_cache SET hit_count = hit_count + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to update hit count: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_cache WHERE namespace = ?`, namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, namespace string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ping tests the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
