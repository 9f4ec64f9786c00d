// Package observability provides structured logging, metrics and health
// checks for the query gateway.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var levelRank = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a LOG_LEVEL value to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	level := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	if level == "warning" {
		return LevelWarn
	}
	if _, ok := levelRank[level]; ok {
		return level
	}
	return LevelInfo
}

// LogEntry is one JSON log line. Request, client and namespace come from
// the context so every line of a request can be joined up.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	ClientID  string                 `json:"client_id,omitempty"`
	Namespace string                 `json:"namespace,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes LogEntry lines. Loggers derived with Named or With share
// the output and its lock.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  LogLevel
	component string
	fields    map[string]interface{}
}

// NewLogger creates a logger writing to stdout at info level.
func NewLogger(component string) *Logger {
	return &Logger{
		mu:        &sync.Mutex{},
		output:    os.Stdout,
		minLevel:  LevelInfo,
		component: component,
	}
}

// WithOutput sets the output writer for the logger
func (l *Logger) WithOutput(w io.Writer) *Logger {
	l.output = w
	return l
}

// WithLevel sets the minimum log level
func (l *Logger) WithLevel(level LogLevel) *Logger {
	l.minLevel = level
	return l
}

// Named returns a logger for another component.
func (l *Logger) Named(component string) *Logger {
	child := l.clone()
	child.component = component
	return child
}

// With returns a logger that adds fields to every entry. Per-call fields win
// on conflicting keys.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	child := l.clone()
	child.fields = make(map[string]interface{}, len(l.fields)+len(fields))
	maps.Copy(child.fields, l.fields)
	maps.Copy(child.fields, fields)
	return child
}

func (l *Logger) clone() *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		fields:    l.fields,
	}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return NewLogger("nop").WithOutput(io.Discard).WithLevel(LevelError)
}

func (l *Logger) log(ctx context.Context, level LogLevel, message string, err error, fields map[string]interface{}) {
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Component: l.component,
		RequestID: RequestIDFrom(ctx),
		ClientID:  ClientIDFrom(ctx),
		Namespace: NamespaceFrom(ctx),
		Fields:    fields,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if len(l.fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(l.fields)+len(fields))
		maps.Copy(entry.Fields, l.fields)
		maps.Copy(entry.Fields, fields)
	}

	data, mErr := json.Marshal(entry)
	if mErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", mErr)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.output, string(data))
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, LevelDebug, message, nil, fields)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, LevelInfo, message, nil, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, LevelWarn, message, nil, fields)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	l.log(ctx, LevelError, message, err, fields)
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	clientIDKey  contextKey = "client_id"
	namespaceKey contextKey = "namespace"
)

// WithRequestID tags ctx with the id of the request being served.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id on ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithClientID tags ctx with the authenticated API client.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// ClientIDFrom returns the client id on ctx, or "".
func ClientIDFrom(ctx context.Context) string {
	return stringValue(ctx, clientIDKey)
}

// WithNamespace tags ctx with the namespace a question resolved to.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, namespaceKey, namespace)
}

// NamespaceFrom returns the namespace on ctx, or "".
func NamespaceFrom(ctx context.Context) string {
	return stringValue(ctx, namespaceKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
