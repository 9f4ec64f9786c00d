package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/seanankenbruck/nl2sql-guard/internal/policy"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation error(s):\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields returns the names of the invalid fields in order.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks every section and returns ValidationErrors listing each
// invalid field, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors

	c.validateDatabase(&errs, "Database", c.Database)
	if c.Backends.Cache == BackendPostgres {
		c.validateDatabase(&errs, "CacheDB", c.CacheDB)
	}
	c.validateRedis(&errs)
	c.validateClaude(&errs)
	c.validatePipeline(&errs)
	c.validateBackends(&errs)
	c.validateAuth(&errs)
	c.validateServer(&errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c *Config) validateDatabase(errs *ValidationErrors, section string, db DatabaseConfig) {
	if db.Host == "" {
		errs.add(section+".Host", "database host is required")
	}
	if db.Port == "" {
		errs.add(section+".Port", "database port is required")
	}
	if db.Database == "" {
		errs.add(section+".Database", "database name is required")
	}
	if db.Username == "" {
		errs.add(section+".Username", "database username is required")
	}
	if db.QueryTimeout < 0 {
		errs.add(section+".QueryTimeout", "query timeout must be non-negative")
	}
}

func (c *Config) validateRedis(errs *ValidationErrors) {
	if c.Backends.Context == BackendRedis && c.Redis.Addr == "" {
		errs.add("Redis.Addr", "redis address is required for the redis context backend")
	}
}

func (c *Config) validateClaude(errs *ValidationErrors) {
	if c.Claude.APIKey == "" {
		errs.add("Claude.APIKey", "Claude API key is required")
	}
	if c.Claude.Model == "" {
		errs.add("Claude.Model", "Claude model is required")
	}
}

func (c *Config) validatePipeline(errs *ValidationErrors) {
	p := c.Pipeline

	if p.MaxQueryLength <= 0 {
		errs.add("Pipeline.MaxQueryLength", "max query length must be positive")
	}
	if p.MaxResultRows <= 0 {
		errs.add("Pipeline.MaxResultRows", "max result rows must be positive")
	}
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		errs.add("Pipeline.SimilarityThreshold", "similarity threshold must be in (0, 1], got %v", p.SimilarityThreshold)
	}
	if p.MaxValidationAttempts < 1 {
		errs.add("Pipeline.MaxValidationAttempts", "at least one validation attempt is required")
	}
	if p.DisplayRows <= 0 {
		errs.add("Pipeline.DisplayRows", "display rows must be positive")
	} else if p.MaxResultRows > 0 && p.DisplayRows > p.MaxResultRows {
		errs.add("Pipeline.DisplayRows", "display rows (%d) exceed max result rows (%d)", p.DisplayRows, p.MaxResultRows)
	}

	registry, err := policy.NewDefaultRegistry("", p.PolicyDir)
	if err != nil {
		errs.add("Pipeline.PolicyDir", "failed to load policies: %v", err)
		return
	}
	if p.DefaultNamespace != "" {
		if _, err := registry.Get(p.DefaultNamespace); err != nil {
			errs.add("Pipeline.DefaultNamespace", "no policy document for namespace %q", p.DefaultNamespace)
		}
	}
	for _, ns := range p.CacheNamespaces {
		if _, err := registry.Get(ns); err != nil {
			errs.add("Pipeline.CacheNamespaces", "no policy document for namespace %q", ns)
		}
	}
}

func (c *Config) validateBackends(errs *ValidationErrors) {
	b := c.Backends

	if !slices.Contains([]string{BackendMemory, BackendSQLite, BackendPostgres}, b.Cache) {
		errs.add("Backends.Cache", "invalid cache backend: %s (must be 'memory', 'sqlite', or 'postgres')", b.Cache)
	}
	if b.Cache == BackendSQLite && b.CacheSQLitePath == "" {
		errs.add("Backends.CacheSQLitePath", "sqlite cache backend requires a path")
	}
	if !slices.Contains([]string{BackendMemory, BackendRedis}, b.Context) {
		errs.add("Backends.Context", "invalid context backend: %s (must be 'memory' or 'redis')", b.Context)
	}
	if b.ContextTTL < 0 {
		errs.add("Backends.ContextTTL", "context TTL must be non-negative")
	}
}

func (c *Config) validateAuth(errs *ValidationErrors) {
	if c.Auth.JWTSecret == "" {
		errs.add("Auth.JWTSecret", "JWT secret is required")
	}
	if c.Auth.JWTExpiry <= 0 {
		errs.add("Auth.JWTExpiry", "JWT expiry must be positive")
	}
	if c.Auth.RateLimit < 0 {
		errs.add("Auth.RateLimit", "rate limit must be non-negative")
	}
}

func (c *Config) validateServer(errs *ValidationErrors) {
	if c.Server.Port == "" {
		errs.add("Server.Port", "server port is required")
	}
	if !slices.Contains([]string{"debug", "release", "test"}, c.Server.GinMode) {
		errs.add("Server.GinMode", "invalid gin mode: %s (must be 'debug', 'release', or 'test')", c.Server.GinMode)
	}
	if !slices.Contains([]string{"DEBUG", "INFO", "WARN", "ERROR"}, c.Server.LogLevel) {
		errs.add("Server.LogLevel", "invalid log level: %s", c.Server.LogLevel)
	}
}

var insecureJWTSecrets = []string{
	"",
	"your-secret-key-change-in-production",
	"change-this-in-production",
	"secret",
	"jwt-secret",
}

// ValidateProduction rejects insecure defaults that must not reach a
// release deployment.
func (c *Config) ValidateProduction() error {
	var errs ValidationErrors

	if c.Database.Password == "" || c.Database.Password == "changeme" {
		errs.add("Database.Password", "production deployment must not use default or empty database password")
	}
	if slices.Contains(insecureJWTSecrets, c.Auth.JWTSecret) {
		errs.add("Auth.JWTSecret", "production deployment must not use default or insecure JWT secret")
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs.add("Auth.JWTSecret", "JWT secret should be at least 32 characters for production use")
	}
	if c.Claude.APIKey == "your-api-key-here" {
		errs.add("Claude.APIKey", "production deployment requires a valid Claude API key")
	}
	if c.Server.GinMode != "release" {
		errs.add("Server.GinMode", "production deployment should use 'release' mode")
	}
	if c.Auth.AllowAnonymous {
		errs.add("Auth.AllowAnonymous", "production deployment should not allow anonymous access")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Recommendations lists settings that are valid but discouraged in
// production. Callers log them; they never fail startup.
func (c *Config) Recommendations() []string {
	var out []string
	if c.Pipeline.FailOpen {
		out = append(out, "FAIL_OPEN=true executes the last candidate after the reviewer rejects every attempt; set FAIL_OPEN=false to block instead")
	}
	if !c.Claude.ReviewerEnabled {
		out = append(out, "REVIEWER_ENABLED=false skips the semantic review step")
	}
	if c.Backends.Cache == BackendMemory {
		out = append(out, "CACHE_BACKEND=memory loses cached queries on restart")
	}
	return out
}

// IsProduction determines if the current environment is production
// based on the GinMode setting
func (c *Config) IsProduction() bool {
	return c.Server.GinMode == "release"
}

// ValidateWithContext validates configuration and runs production checks if appropriate
func (c *Config) ValidateWithContext() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.IsProduction() {
		if err := c.ValidateProduction(); err != nil {
			return fmt.Errorf("production validation failed: %w", err)
		}
	}
	return nil
}
