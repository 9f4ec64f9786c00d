// Package cache implements the similarity cache that maps questions to
// previously validated SQL, isolated by namespace.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/seanankenbruck/nl2sql-guard/internal/embedding"
	"github.com/seanankenbruck/nl2sql-guard/internal/errors"
	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
)

// DefaultThreshold is the minimum similarity for a hit.
const DefaultThreshold = 0.90

// Entry is one cached question and the SQL that answered it.
type Entry struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Question  string    `json:"question"`
	SQL       string    `json:"sql"`
	CachedAt  time.Time `json:"cached_at"`
	HitCount  int       `json:"hit_count"`
}

// Neighbor is the closest stored entry and its L2 distance to the query vector.
type Neighbor struct {
	Entry    Entry
	Distance float64
}

// Store is the similarity store behind the cache. Nearest returns nil and
// no error when the namespace holds no entries.
type Store interface {
	Nearest(ctx context.Context, namespace string, vector []float32) (*Neighbor, error)
	Upsert(ctx context.Context, entry Entry, vector []float32) error
	Delete(ctx context.Context, id string) error
	Touch(ctx context.Context, id string) error
	Count(ctx context.Context, namespace string) (int, error)
	Purge(ctx context.Context, namespace string) (int, error)
	Close() error
}

// Hit is a successful lookup.
type Hit struct {
	Entry      Entry   `json:"entry"`
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
}

// Stats summarizes cache activity since start.
type Stats struct {
	Hits       int64          `json:"hits"`
	Misses     int64          `json:"misses"`
	Errors     int64          `json:"errors"`
	HitRate    float64        `json:"hit_rate"`
	Threshold  float64        `json:"threshold"`
	Namespaces map[string]int `json:"namespaces"`
}

// Options configures a SemanticCache.
type Options struct {
	Threshold  float64
	Namespaces []string
}

// SemanticCache looks questions up by embedding similarity.
type SemanticCache struct {
	store      Store
	embedder   embedding.Embedder
	threshold  float64
	namespaces map[string]bool
	order      []string
	logger     *observability.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// New creates a cache over store. Only the listed namespaces are cached.
func New(store Store, embedder embedding.Embedder, opts Options, logger *observability.Logger) *SemanticCache {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if embedder == nil {
		embedder = embedding.NewHashEmbedder(embedding.DefaultDimension)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := &SemanticCache{
		store:      store,
		embedder:   embedder,
		threshold:  opts.Threshold,
		namespaces: make(map[string]bool, len(opts.Namespaces)),
		logger:     logger,
	}
	for _, ns := range opts.Namespaces {
		ns = strings.TrimSpace(ns)
		if ns == "" || c.namespaces[ns] {
			continue
		}
		c.namespaces[ns] = true
		c.order = append(c.order, ns)
	}
	return c
}

// Normalize lowercases, trims and collapses whitespace.
func Normalize(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// EntryID is the stable key of a normalized question within a namespace.
func EntryID(namespace, normalized string) string {
	sum := sha256.Sum256([]byte(namespace + ":" + normalized))
	return hex.EncodeToString(sum[:])
}

// Similarity maps an L2 distance to (0, 1].
func Similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

// Enabled reports whether namespace is cached.
func (c *SemanticCache) Enabled(namespace string) bool {
	return c.namespaces[namespace]
}

// Threshold returns the configured hit threshold.
func (c *SemanticCache) Threshold() float64 {
	return c.threshold
}

// Find returns the cached entry closest to question, or nil on a miss. A
// store failure is reported as a CACHE_SERVICE_FAILED error alongside a nil
// hit; callers treat it as a miss.
func (c *SemanticCache) Find(ctx context.Context, question, namespace string) (*Hit, error) {
	normalized := Normalize(question)
	if !c.Enabled(namespace) || normalized == "" {
		c.misses.Add(1)
		return nil, nil
	}

	neighbor, err := c.store.Nearest(ctx, namespace, c.embedder.Embed(normalized))
	if err != nil {
		c.errs.Add(1)
		c.misses.Add(1)
		observability.GetGlobalMetrics().Inc(observability.MetricCacheErrors, map[string]string{"operation": "find"})
		c.logger.Warn(ctx, "Cache lookup failed, treating as miss", map[string]interface{}{
			"namespace": namespace,
			"error":     err.Error(),
		})
		return nil, errors.NewCacheServiceError(err, "find")
	}
	if neighbor == nil {
		c.misses.Add(1)
		return nil, nil
	}

	similarity := Similarity(neighbor.Distance)
	if similarity < c.threshold {
		c.misses.Add(1)
		c.logger.Debug(ctx, "Nearest cached question below threshold", map[string]interface{}{
			"namespace":  namespace,
			"similarity": similarity,
			"threshold":  c.threshold,
		})
		return nil, nil
	}

	if err := c.store.Touch(ctx, neighbor.Entry.ID); err != nil {
		c.logger.Warn(ctx, "Failed to record cache hit", map[string]interface{}{"error": err.Error()})
	} else {
		neighbor.Entry.HitCount++
	}

	c.hits.Add(1)
	return &Hit{Entry: neighbor.Entry, Similarity: similarity, Distance: neighbor.Distance}, nil
}

// Put stores sql for question, overwriting any entry for the same normalized question.
func (c *SemanticCache) Put(ctx context.Context, question, sql, namespace string) error {
	normalized := Normalize(question)
	if !c.Enabled(namespace) || normalized == "" || strings.TrimSpace(sql) == "" {
		return nil
	}

	entry := Entry{
		ID:        EntryID(namespace, normalized),
		Namespace: namespace,
		Question:  normalized,
		SQL:       sql,
		CachedAt:  time.Now().UTC(),
	}
	if err := c.store.Upsert(ctx, entry, c.embedder.Embed(normalized)); err != nil {
		c.errs.Add(1)
		observability.GetGlobalMetrics().Inc(observability.MetricCacheErrors, map[string]string{"operation": "put"})
		return errors.NewCacheServiceError(err, "put")
	}
	return nil
}

// Invalidate removes the entry for question. Removing a missing entry is not an error.
func (c *SemanticCache) Invalidate(ctx context.Context, question, namespace string) error {
	return c.InvalidateID(ctx, EntryID(namespace, Normalize(question)))
}

// InvalidateID removes an entry by id, as returned in a Hit.
func (c *SemanticCache) InvalidateID(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		c.errs.Add(1)
		observability.GetGlobalMetrics().Inc(observability.MetricCacheErrors, map[string]string{"operation": "invalidate"})
		return errors.NewCacheServiceError(err, "invalidate")
	}
	observability.GetGlobalMetrics().Inc(observability.MetricCacheInvalidations, nil)
	return nil
}

// Purge removes every entry in namespace and returns how many were removed.
func (c *SemanticCache) Purge(ctx context.Context, namespace string) (int, error) {
	n, err := c.store.Purge(ctx, namespace)
	if err != nil {
		return 0, errors.NewCacheServiceError(err, "purge")
	}
	return n, nil
}

// Stats reports counters and per-namespace entry counts. Namespaces whose
// count cannot be read are reported as -1.
func (c *SemanticCache) Stats(ctx context.Context) Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		Hits:       hits,
		Misses:     misses,
		Errors:     c.errs.Load(),
		Threshold:  c.threshold,
		Namespaces: make(map[string]int, len(c.order)),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	for _, ns := range c.order {
		n, err := c.store.Count(ctx, ns)
		if err != nil {
			n = -1
		}
		s.Namespaces[ns] = n
	}
	return s
}

// Close releases the underlying store.
func (c *SemanticCache) Close() error {
	return c.store.Close()
}

// Ping checks the store when it supports it.
func (c *SemanticCache) Ping(ctx context.Context) error {
	if p, ok := c.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
