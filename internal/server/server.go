// Package server exposes the query resolution pipeline over HTTP.
package server

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/nl2sql-guard/internal/auth"
	"github.com/seanankenbruck/nl2sql-guard/internal/cache"
	"github.com/seanankenbruck/nl2sql-guard/internal/conversation"
	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
	"github.com/seanankenbruck/nl2sql-guard/internal/policy"
	"github.com/seanankenbruck/nl2sql-guard/internal/resolver"
	"github.com/seanankenbruck/nl2sql-guard/internal/security"
)

// Dependencies are the collaborators behind the routes. Cache, Context,
// Auth and Health are optional.
type Dependencies struct {
	Pipeline  *resolver.Pipeline
	Validator *security.Validator
	Policies  *policy.Registry
	Cache     *cache.SemanticCache
	Context   *conversation.Store
	Auth      *auth.Manager
	Health    *observability.HealthChecker
	Metrics   *observability.MetricsCollector
	Logger    *observability.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	pipeline  *resolver.Pipeline
	validator *security.Validator
	policies  *policy.Registry
	cache     *cache.SemanticCache
	contexts  *conversation.Store
	auth      *auth.Manager
	health    *observability.HealthChecker
	metrics   *observability.MetricsCollector
	logger    *observability.Logger
}

// New validates the dependencies and builds a Server.
func New(deps Dependencies) (*Server, error) {
	switch {
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("pipeline is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("security validator is required")
	case deps.Policies == nil:
		return nil, fmt.Errorf("policy registry is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	health := deps.Health
	if health == nil {
		health = observability.NewHealthChecker()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.GetGlobalMetrics()
	}

	return &Server{
		pipeline:  deps.Pipeline,
		validator: deps.Validator,
		policies:  deps.Policies,
		cache:     deps.Cache,
		contexts:  deps.Context,
		auth:      deps.Auth,
		health:    health,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(
		observability.RecoveryMiddleware(s.logger),
		observability.RequestLoggingMiddleware(s.logger),
		observability.CORSWithLogging(s.logger),
	)

	r.GET("/health", observability.HealthHandler(s.health))
	r.GET("/metrics", observability.MetricsHandler(s.metrics))

	public := r.Group("/api/v1")
	if s.auth != nil {
		s.auth.RegisterPublicRoutes(public)
	}

	api := r.Group("/api/v1")
	if s.auth != nil {
		api.Use(s.auth.Middleware())
		s.auth.RegisterRoutes(api)
	}
	{
		api.POST("/query", s.handleQuery)
		api.GET("/requests", s.handleActiveRequests)
		api.POST("/requests/:id/cancel", s.handleCancel)
		api.POST("/validate", s.handleValidate)

		api.GET("/sessions/:id/context", s.handleGetContext)
		api.DELETE("/sessions/:id/context", s.handleClearContext)

		api.GET("/cache/stats", s.handleCacheStats)
		api.DELETE("/cache/:namespace", s.handlePurgeCache)

		api.GET("/policies", s.handleListPolicies)
		api.GET("/policies/:namespace", s.handleGetPolicy)
	}

	return r
}
