package config

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by CACHE_BACKEND and CONTEXT_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all gateway configuration
type Config struct {
	// Target database the generated SQL runs against
	Database DatabaseConfig

	// pgvector database backing the semantic cache
	CacheDB DatabaseConfig

	Redis RedisConfig

	Claude ClaudeConfig

	Pipeline PipelineConfig

	Backends BackendConfig

	Auth AuthConfig

	Server ServerConfig
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string
	Port         string
	Database     string
	Username     string
	Password     string
	SSLMode      string
	MaxOpenConns int
	QueryTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClaudeConfig holds Claude API configuration
type ClaudeConfig struct {
	APIKey          string
	Model           string
	ReviewerEnabled bool
}

// PipelineConfig holds the query resolution options.
type PipelineConfig struct {
	MaxQueryLength        int
	MaxResultRows         int
	SimilarityThreshold   float64
	MaxValidationAttempts int
	CacheNamespaces       []string
	FailOpen              bool
	DisplayRows           int
	DefaultNamespace      string
	PolicyDir             string
}

// BackendConfig selects the semantic cache and context store implementations.
type BackendConfig struct {
	Cache           string
	CacheSQLitePath string
	Context         string
	// ContextTTL of zero keeps contexts until their session is cleared.
	ContextTTL time.Duration
}

// AuthConfig holds authentication and authorization configuration
type AuthConfig struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	RateLimit      int
	AllowAnonymous bool
	// Clients bootstraps API clients as "id:secret:ns1|ns2,...".
	Clients string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port     string
	GinMode  string
	LogLevel string
}

// Loader reads configuration through a SecretProvider
type Loader struct {
	provider SecretProvider
}

// NewLoader creates a new configuration loader with the given secret provider
func NewLoader(provider SecretProvider) *Loader {
	return &Loader{provider: provider}
}

// NewDefaultLoader reads mounted secret files first and falls back to the
// environment.
func NewDefaultLoader() *Loader {
	return NewLoader(NewChainProvider(
		NewFileProvider(DefaultSecretsPath),
		NewEnvProvider(),
	))
}

// Load loads the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	cfg.Database = l.loadDatabase(ctx, "DB_", "operations")
	cfg.CacheDB = l.loadDatabase(ctx, "CACHE_DB_", "nl2sql_cache")

	cfg.Redis = RedisConfig{
		Addr:     l.getString(ctx, "REDIS_ADDR", "localhost:6379"),
		Password: l.getString(ctx, "REDIS_PASSWORD", ""),
		DB:       l.getInt(ctx, "REDIS_DB", 0),
	}

	cfg.Claude = ClaudeConfig{
		APIKey:          l.getString(ctx, "CLAUDE_API_KEY", ""),
		Model:           l.getString(ctx, "CLAUDE_MODEL", "claude-3-5-sonnet-20241022"),
		ReviewerEnabled: l.getBool(ctx, "REVIEWER_ENABLED", true),
	}

	cfg.Pipeline = PipelineConfig{
		MaxQueryLength:        l.getInt(ctx, "MAX_QUERY_LENGTH", 50000),
		MaxResultRows:         l.getInt(ctx, "MAX_RESULT_ROWS", 200),
		SimilarityThreshold:   l.getFloat(ctx, "SIMILARITY_THRESHOLD", 0.90),
		MaxValidationAttempts: l.getInt(ctx, "MAX_VALIDATION_ATTEMPTS", 3),
		CacheNamespaces:       l.getSlice(ctx, "CACHE_NAMESPACES", []string{"checklist", "lead_to_order", "maintenance"}),
		FailOpen:              l.getBool(ctx, "FAIL_OPEN", true),
		DisplayRows:           l.getInt(ctx, "DISPLAY_ROWS", 15),
		DefaultNamespace:      l.getString(ctx, "DEFAULT_NAMESPACE", "checklist"),
		PolicyDir:             l.getString(ctx, "POLICY_DIR", ""),
	}

	cfg.Backends = BackendConfig{
		Cache:           strings.ToLower(l.getString(ctx, "CACHE_BACKEND", BackendMemory)),
		CacheSQLitePath: l.getString(ctx, "CACHE_SQLITE_PATH", "nl2sql-cache.db"),
		Context:         strings.ToLower(l.getString(ctx, "CONTEXT_BACKEND", BackendMemory)),
		ContextTTL:      l.getDuration(ctx, "CONTEXT_TTL", 0),
	}

	cfg.Auth = AuthConfig{
		JWTSecret:      l.getString(ctx, "JWT_SECRET", ""),
		JWTExpiry:      l.getDuration(ctx, "JWT_EXPIRY", 24*time.Hour),
		RateLimit:      l.getInt(ctx, "RATE_LIMIT", 60),
		AllowAnonymous: l.getBool(ctx, "ALLOW_ANONYMOUS", false),
		Clients:        l.getString(ctx, "AUTH_CLIENTS", ""),
	}

	cfg.Server = ServerConfig{
		Port:     l.getString(ctx, "PORT", "8080"),
		GinMode:  l.getString(ctx, "GIN_MODE", "debug"),
		LogLevel: strings.ToUpper(l.getString(ctx, "LOG_LEVEL", "INFO")),
	}

	return cfg, nil
}

func (l *Loader) loadDatabase(ctx context.Context, prefix, defaultName string) DatabaseConfig {
	return DatabaseConfig{
		Host:         l.getString(ctx, prefix+"HOST", "localhost"),
		Port:         l.getString(ctx, prefix+"PORT", "5432"),
		Database:     l.getString(ctx, prefix+"NAME", defaultName),
		Username:     l.getString(ctx, prefix+"USER", "nl2sql"),
		Password:     l.getString(ctx, prefix+"PASSWORD", ""),
		SSLMode:      l.getString(ctx, prefix+"SSLMODE", "disable"),
		MaxOpenConns: l.getInt(ctx, prefix+"MAX_OPEN_CONNS", 25),
		QueryTimeout: l.getDuration(ctx, prefix+"QUERY_TIMEOUT", 30*time.Second),
	}
}

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(l.getString(ctx, key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	i, err := strconv.Atoi(l.getString(ctx, key, ""))
	if err != nil {
		return defaultValue
	}
	return i
}

func (l *Loader) getFloat(ctx context.Context, key string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(l.getString(ctx, key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(l.getString(ctx, key, ""))
	if err != nil {
		return defaultValue
	}
	return d
}

func (l *Loader) getSlice(ctx context.Context, key string, defaultValue []string) []string {
	value := l.getString(ctx, key, "")
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
