package observability

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is one labelled series. For histograms Value is the running mean
// and Count, Sum, Min and Max summarize the observations.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Count     uint64            `json:"count,omitempty"`
	Sum       float64           `json:"sum,omitempty"`
	Min       float64           `json:"min,omitempty"`
	Max       float64           `json:"max,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector keeps in-process counters, gauges and histograms keyed
// by name and label set.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*Metric),
	}
}

// metricKey renders name{k=v,...} with labels sorted.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := slices.Sorted(maps.Keys(labels))

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k + "=" + labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// update applies fn to the series for name and labels, creating it first
// when absent.
func (mc *MetricsCollector) update(name string, kind MetricType, labels map[string]string, fn func(m *Metric, created bool)) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	m, exists := mc.metrics[key]
	if !exists {
		m = &Metric{Name: name, Type: kind, Labels: maps.Clone(labels)}
		mc.metrics[key] = m
	}
	fn(m, !exists)
	m.Timestamp = time.Now()
}

// Inc increments a counter metric
func (mc *MetricsCollector) Inc(name string, labels map[string]string) {
	mc.Add(name, 1, labels)
}

// Add adds a value to a counter metric
func (mc *MetricsCollector) Add(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeCounter, labels, func(m *Metric, _ bool) {
		m.Value += value
	})
}

// Set sets a gauge metric value
func (mc *MetricsCollector) Set(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeGauge, labels, func(m *Metric, _ bool) {
		m.Value = value
	})
}

// Observe records a histogram observation
func (mc *MetricsCollector) Observe(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeHistogram, labels, func(m *Metric, created bool) {
		if created || value < m.Min {
			m.Min = value
		}
		if created || value > m.Max {
			m.Max = value
		}
		m.Count++
		m.Sum += value
		m.Value = m.Sum / float64(m.Count)
	})
}

// Get returns a copy of the series for name and labels.
func (mc *MetricsCollector) Get(name string, labels map[string]string) (*Metric, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	metric, exists := mc.metrics[metricKey(name, labels)]
	if !exists {
		return nil, false
	}
	cp := *metric
	return &cp, true
}

// GetAll returns a copy of every series keyed by metricKey.
func (mc *MetricsCollector) GetAll() map[string]*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]*Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		cp := *v
		result[k] = &cp
	}
	return result
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
}

// Standard metric names
const (
	// Pipeline metrics
	MetricQuestions          = "nl2sql_questions_total"
	MetricQuestionDuration   = "nl2sql_question_duration_seconds"
	MetricCacheHits          = "nl2sql_cache_hits_total"
	MetricCacheMisses        = "nl2sql_cache_misses_total"
	MetricCacheErrors        = "nl2sql_cache_errors_total"
	MetricCacheInvalidations = "nl2sql_cache_invalidations_total"
	MetricSecurityBlocks     = "nl2sql_security_blocks_total"
	MetricValidationAttempts = "nl2sql_validation_attempts_total"
	MetricValidationRejects  = "nl2sql_validation_rejections_total"
	MetricCancellations      = "nl2sql_cancellations_total"
	MetricContextHints       = "nl2sql_context_hints_total"

	// LLM metrics
	MetricLLMRequests = "llm_requests_total"
	MetricLLMDuration = "llm_request_duration_seconds"
	MetricLLMErrors   = "llm_errors_total"
	MetricLLMTokens   = "llm_tokens_total"

	// Database metrics
	MetricDBQueries  = "database_queries_total"
	MetricDBDuration = "database_query_duration_seconds"
	MetricDBErrors   = "database_errors_total"
	MetricDBRows     = "database_rows_returned"

	// Auth metrics
	MetricAuthAttempts     = "auth_attempts_total"
	MetricAuthFailures     = "auth_failures_total"
	MetricAuthTokensIssued = "auth_tokens_issued_total"
	MetricAuthRateLimited  = "auth_rate_limited_total"
	MetricAuthForbidden    = "auth_namespace_forbidden_total"

	// HTTP metrics
	MetricHTTPRequests     = "http_requests_total"
	MetricHTTPDuration     = "http_request_duration_seconds"
	MetricHTTPErrors       = "http_errors_total"
	MetricHTTPResponseSize = "http_response_size_bytes"
)

var globalMetrics = NewMetricsCollector()

// GetGlobalMetrics returns the global metrics collector
func GetGlobalMetrics() *MetricsCollector {
	return globalMetrics
}

// RecordQuestionMetrics records the outcome of one resolved question.
// outcome is "success", "blocked", "cancelled" or an error code.
func RecordQuestionMetrics(namespace string, duration time.Duration, outcome string, cached bool) {
	metrics := GetGlobalMetrics()

	metrics.Inc(MetricQuestions, map[string]string{"namespace": namespace, "outcome": outcome})
	metrics.Observe(MetricQuestionDuration, duration.Seconds(), map[string]string{"namespace": namespace})

	if cached {
		metrics.Inc(MetricCacheHits, map[string]string{"namespace": namespace})
	} else {
		metrics.Inc(MetricCacheMisses, map[string]string{"namespace": namespace})
	}
}

// RecordSecurityBlock counts a statement rejected by the security validator.
func RecordSecurityBlock(reason string) {
	GetGlobalMetrics().Inc(MetricSecurityBlocks, map[string]string{"reason": reason})
}

// RecordValidationAttempt counts a generation attempt and whether it was approved.
func RecordValidationAttempt(namespace string, approved bool) {
	metrics := GetGlobalMetrics()
	labels := map[string]string{"namespace": namespace}
	metrics.Inc(MetricValidationAttempts, labels)
	if !approved {
		metrics.Inc(MetricValidationRejects, labels)
	}
}

// RecordCancellation counts a request that stopped at a cancellation checkpoint.
func RecordCancellation(checkpoint string) {
	GetGlobalMetrics().Inc(MetricCancellations, map[string]string{"checkpoint": checkpoint})
}

// RecordLLMMetrics records metrics for LLM operations
func RecordLLMMetrics(operation string, duration time.Duration, err error) {
	metrics := GetGlobalMetrics()
	labels := map[string]string{"operation": operation}

	metrics.Inc(MetricLLMRequests, labels)
	metrics.Observe(MetricLLMDuration, duration.Seconds(), labels)
	if err != nil {
		metrics.Inc(MetricLLMErrors, labels)
	}
}

// RecordLLMTokens adds the token usage reported by the model API.
func RecordLLMTokens(model string, input, output int) {
	metrics := GetGlobalMetrics()
	metrics.Add(MetricLLMTokens, float64(input), map[string]string{"model": model, "kind": "input"})
	metrics.Add(MetricLLMTokens, float64(output), map[string]string{"model": model, "kind": "output"})
}

// RecordDBMetrics records metrics for database operations
func RecordDBMetrics(operation string, duration time.Duration, rows int, err error) {
	metrics := GetGlobalMetrics()
	labels := map[string]string{"operation": operation}

	metrics.Inc(MetricDBQueries, labels)
	metrics.Observe(MetricDBDuration, duration.Seconds(), labels)
	if err != nil {
		metrics.Inc(MetricDBErrors, labels)
		return
	}
	metrics.Observe(MetricDBRows, float64(rows), labels)
}

// RecordHTTPMetrics records metrics for HTTP requests
func RecordHTTPMetrics(method, path string, statusCode int, duration time.Duration, responseSize int) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(statusCode),
	}

	metrics.Inc(MetricHTTPRequests, labels)
	metrics.Observe(MetricHTTPDuration, duration.Seconds(), labels)

	if statusCode >= 400 {
		metrics.Inc(MetricHTTPErrors, labels)
	}
	if responseSize > 0 {
		metrics.Observe(MetricHTTPResponseSize, float64(responseSize), labels)
	}
}

// RecordAuthAttempt counts a credential exchange and whether it succeeded.
func RecordAuthAttempt(success bool) {
	metrics := GetGlobalMetrics()
	metrics.Inc(MetricAuthAttempts, nil)
	if success {
		metrics.Inc(MetricAuthTokensIssued, nil)
		return
	}
	metrics.Inc(MetricAuthFailures, nil)
}

// RecordAuthRejection counts a request refused by the auth middleware.
// reason is "rate_limited", "forbidden" or "unauthenticated".
func RecordAuthRejection(reason string) {
	switch reason {
	case "rate_limited":
		GetGlobalMetrics().Inc(MetricAuthRateLimited, nil)
	case "forbidden":
		GetGlobalMetrics().Inc(MetricAuthForbidden, nil)
	default:
		GetGlobalMetrics().Inc(MetricAuthFailures, map[string]string{"reason": reason})
	}
}
