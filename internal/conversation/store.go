package conversation

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/seanankenbruck/nl2sql-guard/internal/errors"
	"github.com/seanankenbruck/nl2sql-guard/internal/embedding"
	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
	"github.com/seanankenbruck/nl2sql-guard/internal/policy"
)

// HintHeader opens every rendered hint.
const HintHeader = "CONTEXT FROM PREVIOUS QUERY:"

var (
	aggregationPhrasing = regexp.MustCompile(`(?i)\b(how many|count|total|sum|average|avg|breakdown|break it down|group(ed)? by|per|each|split by)\b`)
	anaphora            = regexp.MustCompile(`(?i)\b(that|those|these|their|them|they|same|it|its)\b`)
	leadingPreposition  = regexp.MustCompile(`(?i)^\s*(and|for|in|by|with|from|of|only|just|what about|how about)\b`)

	explicitFilterPhrase = regexp.MustCompile(`(?i)('[^']+'|"[^"]+"|\b(department|dept|today|yesterday|tomorrow|since|between|before|after|this (week|month|quarter|year)|last (week|month|quarter|year|\d+ (days?|weeks?|months?))|january|february|march|april|may|june|july|august|september|october|november|december|\d{4}-\d{2}-\d{2})\b)`)
	// "for Ravi", "by Sheetal": a capitalized word after a preposition reads as a person
	namedPerson = regexp.MustCompile(`\b(?:for|by|of|from|to)\s+[A-Z][a-z]+`)
)

// Store extracts and renders per-session context on top of a Backend.
type Store struct {
	backend  Backend
	policies *policy.Registry
	logger   *observability.Logger
	now      func() time.Time
}

// NewStore creates a store. policies may be nil; it only widens the
// vocabulary used by the topic-continuity check.
func NewStore(backend Backend, policies *policy.Registry, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{
		backend:  backend,
		policies: policies,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the stored context for a session.
func (s *Store) Get(ctx context.Context, sessionID string) (*Context, error) {
	c, err := s.backend.Load(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.NewContextStoreError(err, "get")
	}
	return c, nil
}

// Clear deletes a session's context.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.backend.Delete(ctx, sessionID); err != nil {
		return apperrors.NewContextStoreError(err, "clear")
	}
	return nil
}

// Extract merges the fragments recognized in an executed statement into the
// session's context. Slots the statement does not mention keep their values.
func (s *Store) Extract(ctx context.Context, sessionID, namespace, question, sql string) error {
	if sessionID == "" {
		return nil
	}

	current, err := s.backend.Load(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		current = &Context{SessionID: sessionID}
	case err != nil:
		return apperrors.NewContextStoreError(err, "load")
	default:
		current = current.clone()
	}
	if current.Filters == nil {
		current.Filters = make(map[FilterKind]Filter)
	}

	frags := ExtractFragments(sql)
	for kind, f := range frags.Filters {
		current.Filters[kind] = f
	}
	if frags.GroupBy != "" {
		current.GroupBy = frags.GroupBy
	}
	if frags.Table != "" {
		current.Table = frags.Table
	}
	if namespace != "" {
		current.Namespace = namespace
	}
	current.WasAggregation = frags.WasAggregation
	current.LastQuestion = question
	current.UpdatedAt = s.now().UTC()

	if err := s.backend.Save(ctx, current); err != nil {
		return apperrors.NewContextStoreError(err, "save")
	}

	s.logger.Debug(ctx, "Conversation context updated", map[string]interface{}{
		"session_id": sessionID,
		"table":      current.Table,
		"filters":    len(current.Filters),
	})
	return nil
}

// BuildHint returns advisory context for question, or "" when the question
// does not look like a continuation of the session's last query. Context
// stored under another namespace is never offered.
func (s *Store) BuildHint(ctx context.Context, sessionID, namespace, question string) string {
	if sessionID == "" {
		return ""
	}

	c, err := s.backend.Load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn(ctx, "Failed to load conversation context", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
		return ""
	}

	if !c.Populated() {
		return ""
	}
	if namespace != "" && c.Namespace != "" && c.Namespace != namespace {
		s.logger.Debug(ctx, "Stored context belongs to another namespace", map[string]interface{}{
			"session_id": sessionID,
			"stored":     c.Namespace,
		})
		return ""
	}
	if !IsFollowUp(question) && HasExplicitFilter(question) {
		return ""
	}
	if !s.continuesTopic(c, question) {
		s.logger.Debug(ctx, "Question does not continue the previous topic", map[string]interface{}{
			"session_id": sessionID,
			"table":      c.Table,
		})
		return ""
	}

	observability.GetGlobalMetrics().Inc(observability.MetricContextHints, nil)
	return Render(c)
}

// IsFollowUp reports follow-up phrasing: aggregation words, anaphora or a
// leading preposition.
func IsFollowUp(question string) bool {
	return aggregationPhrasing.MatchString(question) ||
		anaphora.MatchString(question) ||
		leadingPreposition.MatchString(question)
}

// HasExplicitFilter reports whether the question names its own filter.
func HasExplicitFilter(question string) bool {
	return explicitFilterPhrase.MatchString(question) || namedPerson.MatchString(question)
}

// continuesTopic requires the question to refer back explicitly or to share
// vocabulary with the stored table, its policy terms or the stored filters.
func (s *Store) continuesTopic(c *Context, question string) bool {
	if anaphora.MatchString(question) || leadingPreposition.MatchString(question) {
		return true
	}

	words := make(map[string]bool)
	for _, w := range embedding.Tokens(question) {
		words[w] = true
		words[strings.TrimSuffix(w, "s")] = true
	}

	for _, term := range s.topicTerms(c) {
		if words[term] || words[strings.TrimSuffix(term, "s")] {
			return true
		}
	}
	return false
}

func (s *Store) topicTerms(c *Context) []string {
	var terms []string
	addIdent := func(ident string) {
		if ident == "" {
			return
		}
		terms = append(terms, ident)
		for _, part := range strings.Split(ident, "_") {
			if len(part) > 2 {
				terms = append(terms, part)
			}
		}
	}

	addIdent(c.Table)
	addIdent(c.GroupBy)
	for _, f := range c.Filters {
		terms = append(terms, embedding.Tokens(f.Value)...)
	}

	if s.policies != nil && c.Namespace != "" && c.Table != "" {
		if doc, err := s.policies.Get(c.Namespace); err == nil {
			if t, ok := doc.Table(c.Table); ok {
				terms = append(terms, t.Terms()...)
			}
		}
	}
	return terms
}

// Render formats every populated slot, one per line, under HintHeader.
func Render(c *Context) string {
	var b strings.Builder
	b.WriteString(HintHeader)
	b.WriteString("\n")

	if c.LastQuestion != "" {
		b.WriteString("Previous question: " + c.LastQuestion + "\n")
	}
	if c.Table != "" {
		b.WriteString("Table: " + c.Table + "\n")
	}
	for _, kind := range filterOrder {
		if f, ok := c.Filters[kind]; ok {
			b.WriteString(filterLabels[kind] + ": " + strings.TrimSpace(f.String()) + "\n")
		}
	}
	if c.GroupBy != "" {
		b.WriteString("Grouped by: " + c.GroupBy + "\n")
	}
	if c.WasAggregation {
		b.WriteString("Previous query was an aggregation\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
