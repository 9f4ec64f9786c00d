package cache

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps the cache in the query_cache table created by the
// migrations, using pgvector's L2 distance operator for lookups.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool to the cache database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (ps *PostgresStore) Nearest(ctx context.Context, namespace string, vector []float32) (*Neighbor, error) {
	query := `
		SELECT id, namespace, question, sql_text, cached_at, hit_count,
		       embedding <-> $2 AS distance
		FROM query_cache
		WHERE namespace = $1
		ORDER BY embedding <-> $2
		LIMIT 1
	`

	var n Neighbor
	err := ps.db.QueryRowContext(ctx, query, namespace, pgvector.NewVector(vector)).Scan(
		&n.Entry.ID,
		&n.Entry.Namespace,
		&n.Entry.Question,
		&n.Entry.SQL,
		&n.Entry.CachedAt,
		&n.Entry.HitCount,
		&n.Distance,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest cache entry: %w", err)
	}
	return &n, nil
}

func (ps *PostgresStore) Upsert(ctx context.Context, entry Entry, vector []float32) error {
	query := `
		INSERT INTO query_cache (id, namespace, question, sql_text, embedding, cached_at, hit_count)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (id) DO UPDATE SET
			sql_text = EXCLUDED.sql_text,
			embedding = EXCLUDED.embedding,
			cached_at = EXCLUDED.cached_at
	`

	_, err := ps.db.ExecContext(ctx, query,
		entry.ID, entry.Namespace, entry.Question, entry.SQL, pgvector.NewVector(vector), entry.CachedAt)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := ps.db.ExecContext(ctx, `DELETE FROM query_cache WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Touch(ctx context.Context, id string) error {
	if _, err := ps.db.ExecContext(ctx, `UPDATE query_cache SET hit_count = hit_count + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to update hit count: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := ps.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_cache WHERE namespace = $1`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

func (ps *PostgresStore) Purge(ctx context.Context, namespace string) (int, error) {
	res, err := ps.db.ExecContext(ctx, `DELETE FROM query_cache WHERE namespace = $1`, namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ping tests the database connection
func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}

// Close closes the database connection
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
