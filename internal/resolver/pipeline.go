// Package resolver turns a question into executed, policy-checked SQL: cache
// lookup, bounded generate/review retries, security validation and
// execution, with cooperative cancellation between steps.
package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seanankenbruck/nl2sql-guard/internal/cache"
	"github.com/seanankenbruck/nl2sql-guard/internal/conversation"
	"github.com/seanankenbruck/nl2sql-guard/internal/errors"
	"github.com/seanankenbruck/nl2sql-guard/internal/llm"
	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
	"github.com/seanankenbruck/nl2sql-guard/internal/policy"
	"github.com/seanankenbruck/nl2sql-guard/internal/security"
)

// DefaultMaxAttempts bounds generate calls per question.
const DefaultMaxAttempts = 3

// Checkpoints at which cancellation is observed.
const (
	CheckpointStart    = "start"
	CheckpointGenerate = "generate"
	CheckpointExecute  = "execute"
)

// Outcome labels used for logs and metrics.
const (
	OutcomeSuccess            = "success"
	OutcomeBlocked            = "blocked"
	OutcomeCancelled          = "cancelled"
	OutcomeExecutionFailed    = "execution_failed"
	OutcomeGenerationFailed   = "generation_failed"
	OutcomeValidationRejected = "validation_rejected"
)

const noSQLFeedback = "The previous reply contained no SQL statement. Reply with exactly one SELECT statement in a sql code block."

// Generator produces one candidate statement per call.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerationRequest) (string, error)
}

// Reviewer judges whether a candidate answers the question within the schema rules.
type Reviewer interface {
	Review(ctx context.Context, req llm.ReviewRequest) (llm.Verdict, error)
}

// Executor runs sanitized, read-only SQL.
type Executor interface {
	Execute(ctx context.Context, query string) ([]map[string]any, error)
}

// Request is one question to resolve.
type Request struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	// ClientID owns the request; only the same client may cancel it.
	ClientID string `json:"-"`
}

// ValidationAttempt records one generate/review round.
type ValidationAttempt struct {
	Number   int    `json:"attempt_number"`
	SQL      string `json:"candidate_sql"`
	Feedback string `json:"feedback,omitempty"`
	Approved bool   `json:"approved"`
}

// Result is the terminal outcome of one question. Error holds a stable code
// only; Failure adds user-facing detail.
type Result struct {
	RequestID   string                `json:"request_id"`
	Namespace   string                `json:"namespace"`
	SQL         string                `json:"sql,omitempty"`
	Rows        []map[string]any      `json:"rows"`
	Columns     []string              `json:"columns,omitempty"`
	TotalRows   int                   `json:"total_rows"`
	Truncated   bool                  `json:"truncated"`
	Summary     string                `json:"summary,omitempty"`
	CacheHit    bool                  `json:"cache_hit"`
	Similarity  float64               `json:"similarity,omitempty"`
	Blocked     bool                  `json:"blocked"`
	Reason      string                `json:"reason,omitempty"`
	Error       string                `json:"error,omitempty"`
	Failure     *errors.EnhancedError `json:"failure,omitempty"`
	Cancelled   bool                  `json:"cancelled"`
	HintApplied bool                  `json:"hint_applied"`
	Attempts    []ValidationAttempt   `json:"attempts,omitempty"`
	Duration    time.Duration         `json:"-"`
	DurationMS  int64                 `json:"duration_ms"`
	outcome     string
}

// Options configures a Pipeline.
type Options struct {
	MaxAttempts int
	// FailClosed refuses to execute when no candidate was approved within
	// MaxAttempts. The default executes the last candidate.
	FailClosed  bool
	DisplayRows int
}

// Dependencies are the pipeline's collaborators. Cache, Context and Reviewer
// are optional.
type Dependencies struct {
	Validator *security.Validator
	Policies  *policy.Registry
	Cache     *cache.SemanticCache
	Context   *conversation.Store
	Generator Generator
	Reviewer  Reviewer
	Executor  Executor
	Logger    *observability.Logger
}

// Pipeline resolves questions. It is safe for concurrent use; requests share
// only the cache, the context store and the cancellation registry.
type Pipeline struct {
	validator   *security.Validator
	policies    *policy.Registry
	cache       *cache.SemanticCache
	context     *conversation.Store
	generator   Generator
	reviewer    Reviewer
	executor    Executor
	formatter   *ResultFormatter
	registry    *Registry
	logger      *observability.Logger
	maxAttempts int
	failClosed  bool
}

// New wires a pipeline.
func New(deps Dependencies, opts Options) (*Pipeline, error) {
	switch {
	case deps.Validator == nil:
		return nil, fmt.Errorf("security validator is required")
	case deps.Policies == nil:
		return nil, fmt.Errorf("policy registry is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("generator is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Pipeline{
		validator:   deps.Validator,
		policies:    deps.Policies,
		cache:       deps.Cache,
		context:     deps.Context,
		generator:   deps.Generator,
		reviewer:    deps.Reviewer,
		executor:    deps.Executor,
		formatter:   NewResultFormatter(opts.DisplayRows),
		registry:    NewRegistry(),
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
		failClosed:  opts.FailClosed,
	}, nil
}

// Cancel flags an in-flight request on behalf of clientID. It returns false
// if the id is unknown, already finished or owned by another client.
func (p *Pipeline) Cancel(requestID, clientID string) bool {
	ok := p.registry.Cancel(requestID, clientID)
	if ok {
		p.logger.Info(context.Background(), "Cancellation requested", map[string]interface{}{
			"request_id": requestID,
			"client_id":  clientID,
		})
	}
	return ok
}

// ActiveRequests returns the number of questions currently being resolved.
func (p *Pipeline) ActiveRequests() int {
	return p.registry.Active()
}

// Resolve answers one question. The error return is reserved for caller
// mistakes (empty question, unknown or ambiguous namespace, duplicate
// request id); every pipeline outcome, including blocked, failed and
// cancelled ones, is reported through the Result.
func (p *Pipeline) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, errors.NewInvalidInputError("question", "must not be empty")
	}

	doc, err := p.namespaceFor(question, req.Namespace)
	if err != nil {
		return nil, err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	handle, err := p.registry.Register(requestID, req.ClientID)
	if err != nil {
		return nil, errors.NewInvalidInputError("request_id", err.Error())
	}
	defer p.registry.Unregister(handle)

	if observability.RequestIDFrom(ctx) == "" {
		ctx = observability.WithRequestID(ctx, requestID)
	}
	ctx = observability.WithNamespace(ctx, doc.Namespace)

	r := &run{
		pipeline: p,
		handle:   handle,
		doc:      doc,
		question: question,
		session:  req.SessionID,
		result: &Result{
			RequestID: requestID,
			Namespace: doc.Namespace,
			Rows:      []map[string]any{},
		},
	}

	r.resolve(ctx)

	result := r.result
	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Milliseconds()
	observability.RecordQuestionMetrics(doc.Namespace, result.Duration, result.outcome, result.CacheHit)

	p.logger.Info(ctx, "Question resolved", map[string]interface{}{
		"outcome":     result.outcome,
		"cache_hit":   result.CacheHit,
		"attempts":    len(result.Attempts),
		"total_rows":  result.TotalRows,
		"duration_ms": result.DurationMS,
	})

	return result, nil
}

// Route returns the namespace a question would be resolved against, with the
// same errors Resolve reports for unknown or ambiguous namespaces.
func (p *Pipeline) Route(question, namespace string) (string, error) {
	doc, err := p.namespaceFor(strings.TrimSpace(question), namespace)
	if err != nil {
		return "", err
	}
	return doc.Namespace, nil
}

func (p *Pipeline) namespaceFor(question, namespace string) (*policy.Document, error) {
	if namespace == "" {
		routed, err := p.policies.Route(question)
		if err != nil {
			var ambiguous *policy.AmbiguousError
			if stderrors.As(err, &ambiguous) {
				return nil, errors.NewAmbiguousNamespaceError(ambiguous.Candidates)
			}
			return nil, errors.NewUnknownNamespaceError("")
		}
		namespace = routed
	}

	doc, err := p.policies.Get(namespace)
	if err != nil {
		return nil, errors.NewUnknownNamespaceError(namespace)
	}
	return doc, nil
}

// run is the request-scoped state of one resolution.
type run struct {
	pipeline *Pipeline
	handle   *Handle
	doc      *policy.Document
	question string
	session  string
	result   *Result
}

func (r *run) resolve(ctx context.Context) {
	p := r.pipeline

	if r.cancelled(ctx, CheckpointStart) {
		return
	}

	var hint string
	if p.context != nil && r.session != "" {
		hint = p.context.BuildHint(ctx, r.session, r.doc.Namespace, r.question)
		r.result.HintApplied = hint != ""
	}

	if p.cache != nil {
		// a lookup error is already logged and counted by the cache; proceed as a miss
		if hit, _ := p.cache.Find(ctx, r.question, r.doc.Namespace); hit != nil {
			p.logger.Debug(ctx, "Cache hit", map[string]interface{}{
				"namespace":  r.doc.Namespace,
				"similarity": hit.Similarity,
				"entry_id":   hit.Entry.ID,
			})
			r.result.CacheHit = true
			r.result.Similarity = hit.Similarity
			r.execute(ctx, hit.Entry.SQL, hit.Entry.ID)
			return
		}
	}

	candidate, ok := r.generateValidated(ctx, hint)
	if !ok {
		return
	}
	r.execute(ctx, candidate, "")
}

// generateValidated runs the bounded generate/review loop. It returns the
// statement to execute, or false when the result is already terminal.
func (r *run) generateValidated(ctx context.Context, hint string) (string, bool) {
	p := r.pipeline
	schema := r.doc.Render()

	var candidate, feedback string
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if r.cancelled(ctx, CheckpointGenerate) {
			return "", false
		}

		sql, err := p.generator.Generate(ctx, llm.GenerationRequest{
			Question:    r.question,
			Schema:      schema,
			Hint:        hint,
			Feedback:    feedback,
			PreviousSQL: candidate,
		})
		switch {
		case stderrors.Is(err, llm.ErrNoSQL):
			feedback = noSQLFeedback
			r.recordAttempt(ctx, ValidationAttempt{Number: attempt, Feedback: feedback})
			continue
		case err != nil:
			if ctx.Err() != nil {
				r.cancel(ctx, CheckpointGenerate)
				return "", false
			}
			p.logger.Error(ctx, "SQL generation failed", err, map[string]interface{}{
				"namespace": r.doc.Namespace,
				"attempt":   attempt,
			})
			r.fail(OutcomeGenerationFailed, errors.NewGenerationError(err))
			return "", false
		}

		candidate = sql
		approved, fb := r.review(ctx, sql)
		r.recordAttempt(ctx, ValidationAttempt{Number: attempt, SQL: sql, Feedback: fb, Approved: approved})
		if approved {
			return candidate, true
		}
		feedback = fb
	}

	if candidate == "" {
		r.fail(OutcomeGenerationFailed, errors.NewGenerationError(llm.ErrNoSQL))
		return "", false
	}

	if p.failClosed {
		p.logger.Warn(ctx, "No candidate approved, refusing to execute", map[string]interface{}{
			"namespace": r.doc.Namespace,
			"attempts":  p.maxAttempts,
		})
		r.result.SQL = candidate
		r.fail(OutcomeValidationRejected, errors.NewValidationRejectedError(p.maxAttempts, feedback))
		return "", false
	}

	p.logger.Warn(ctx, "No candidate approved, executing last candidate", map[string]interface{}{
		"namespace": r.doc.Namespace,
		"attempts":  p.maxAttempts,
		"feedback":  feedback,
	})
	return candidate, true
}

// review applies the static policy check and then the reviewer. Reviewer
// transport failures approve the candidate.
func (r *run) review(ctx context.Context, sql string) (bool, string) {
	p := r.pipeline

	if violations := r.doc.Check(sql); len(violations) > 0 {
		return false, policy.Feedback(violations)
	}
	if p.reviewer == nil {
		return true, ""
	}

	verdict, err := p.reviewer.Review(ctx, llm.ReviewRequest{
		Question: r.question,
		SQL:      sql,
		Schema:   r.doc.Render(),
	})
	if err != nil {
		p.logger.Warn(ctx, "Reviewer unavailable, approving candidate", map[string]interface{}{
			"namespace": r.doc.Namespace,
			"error":     err.Error(),
		})
		return true, ""
	}
	return verdict.Approved, verdict.Feedback
}

func (r *run) recordAttempt(ctx context.Context, a ValidationAttempt) {
	r.result.Attempts = append(r.result.Attempts, a)
	observability.RecordValidationAttempt(r.doc.Namespace, a.Approved)
	r.pipeline.logger.Debug(ctx, "Validation attempt", map[string]interface{}{
		"attempt":  a.Number,
		"approved": a.Approved,
		"feedback": a.Feedback,
	})
}

// execute re-validates sql, runs the sanitized statement and records the
// outcome. cacheID is set when sql came from the cache.
func (r *run) execute(ctx context.Context, sql, cacheID string) {
	p := r.pipeline
	fromCache := cacheID != ""

	if r.cancelled(ctx, CheckpointExecute) {
		return
	}

	decision := p.validator.Validate(sql)
	if !decision.Valid {
		observability.RecordSecurityBlock(decision.Reason.Category())
		p.logger.Warn(ctx, "SQL blocked by security policy", map[string]interface{}{
			"namespace":  r.doc.Namespace,
			"reason":     string(decision.Reason),
			"from_cache": fromCache,
		})
		if fromCache {
			r.invalidate(ctx, cacheID)
		}
		r.result.Blocked = true
		r.result.Reason = string(decision.Reason)
		r.fail(OutcomeBlocked, errors.NewSecurityBlockedError(string(decision.Reason)))
		return
	}

	sanitized := decision.SanitizedSQL
	r.result.SQL = sanitized

	start := time.Now()
	rows, err := p.executor.Execute(ctx, sanitized)
	if err != nil {
		p.logger.Error(ctx, "SQL execution failed", err, map[string]interface{}{
			"namespace":   r.doc.Namespace,
			"from_cache":  fromCache,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		// An unreachable database says nothing about the cached SQL.
		var unavailable *errors.EnhancedError
		if stderrors.As(err, &unavailable) && unavailable.Code == errors.ErrCodeDatabaseConnection {
			r.fail(OutcomeExecutionFailed, unavailable)
			return
		}
		if fromCache {
			r.invalidate(ctx, cacheID)
		}
		r.fail(OutcomeExecutionFailed, errors.NewExecutionError(err, fromCache))
		return
	}

	formatted := p.formatter.Format(rows)
	r.result.Rows = formatted.Rows
	r.result.Columns = formatted.Columns
	r.result.TotalRows = formatted.TotalRows
	r.result.Truncated = formatted.Truncated
	r.result.Summary = formatted.Summary
	r.result.outcome = OutcomeSuccess

	if p.cache != nil && !fromCache {
		if err := p.cache.Put(ctx, r.question, sql, r.doc.Namespace); err != nil {
			p.logger.Warn(ctx, "Failed to cache SQL", map[string]interface{}{"error": err.Error()})
		}
	}
	if p.context != nil && r.session != "" {
		if err := p.context.Extract(ctx, r.session, r.doc.Namespace, r.question, sanitized); err != nil {
			p.logger.Warn(ctx, "Failed to update conversation context", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (r *run) invalidate(ctx context.Context, cacheID string) {
	if err := r.pipeline.cache.InvalidateID(ctx, cacheID); err != nil {
		r.pipeline.logger.Warn(ctx, "Failed to invalidate cache entry", map[string]interface{}{
			"entry_id": cacheID,
			"error":    err.Error(),
		})
	}
}

// cancelled checks the cancellation flag at a checkpoint and, if set,
// turns the result into a cancelled one.
func (r *run) cancelled(ctx context.Context, checkpoint string) bool {
	if !r.handle.Cancelled() && ctx.Err() == nil {
		return false
	}
	r.cancel(ctx, checkpoint)
	return true
}

func (r *run) cancel(ctx context.Context, checkpoint string) {
	observability.RecordCancellation(checkpoint)
	r.pipeline.logger.Info(ctx, "Request cancelled", map[string]interface{}{
		"checkpoint": checkpoint,
	})
	r.result.Cancelled = true
	r.result.Reason = "cancelled before " + checkpoint
	r.result.SQL = ""
	r.result.outcome = OutcomeCancelled
}

func (r *run) fail(outcome string, err *errors.EnhancedError) {
	r.result.Error = string(err.Code)
	r.result.Failure = err
	r.result.outcome = outcome
}
