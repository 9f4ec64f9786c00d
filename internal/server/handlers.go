package server

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/nl2sql-guard/internal/auth"
	"github.com/seanankenbruck/nl2sql-guard/internal/conversation"
	"github.com/seanankenbruck/nl2sql-guard/internal/errors"
	"github.com/seanankenbruck/nl2sql-guard/internal/policy"
	"github.com/seanankenbruck/nl2sql-guard/internal/resolver"
	"github.com/seanankenbruck/nl2sql-guard/internal/security"
)

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Namespace string `json:"namespace"`
}

// ValidateRequest is the body of POST /api/v1/validate.
type ValidateRequest struct {
	SQL       string `json:"sql" binding:"required"`
	Namespace string `json:"namespace"`
}

// ValidateResponse reports the security decision and, when a namespace was
// given, the policy violations of the statement.
type ValidateResponse struct {
	security.Decision
	Namespace  string             `json:"namespace,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
}

func respondError(c *gin.Context, err error) {
	c.JSON(errors.HTTPStatus(err), errors.Response(err))
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, errors.NewInvalidInputError("request body", err.Error()))
		return false
	}
	return true
}

// handleQuery resolves a question. Blocked, cancelled and failed outcomes
// are reported in the 200 result body; only caller errors use the envelope.
func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if !bindJSON(c, &req) {
		return
	}

	namespace, err := s.pipeline.Route(req.Question, req.Namespace)
	if err != nil {
		respondError(c, err)
		return
	}
	if !auth.RequireNamespace(c, namespace) {
		return
	}

	clientID, _ := auth.CurrentClientID(c)
	result, err := s.pipeline.Resolve(c.Request.Context(), resolver.Request{
		Question:  req.Question,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Namespace: namespace,
		ClientID:  clientID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleActiveRequests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active": s.pipeline.ActiveRequests()})
}

func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")
	clientID, _ := auth.CurrentClientID(c)
	c.JSON(http.StatusOK, gin.H{
		"request_id": id,
		"cancelled":  s.pipeline.Cancel(id, clientID),
	})
}

func (s *Server) handleValidate(c *gin.Context) {
	var req ValidateRequest
	if !bindJSON(c, &req) {
		return
	}

	resp := ValidateResponse{Decision: s.validator.Validate(req.SQL)}
	if req.Namespace != "" {
		doc, err := s.policies.Get(req.Namespace)
		if err != nil {
			respondError(c, errors.NewUnknownNamespaceError(req.Namespace))
			return
		}
		if !auth.RequireNamespace(c, req.Namespace) {
			return
		}
		resp.Namespace = doc.Namespace
		resp.Violations = doc.Check(req.SQL)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetContext(c *gin.Context) {
	if s.contexts == nil {
		respondError(c, errors.NewContextStoreError(fmt.Errorf("context store disabled"), "get"))
		return
	}

	id := c.Param("id")
	stored, err := s.contexts.Get(c.Request.Context(), id)
	if stderrors.Is(err, conversation.ErrNotFound) {
		respondError(c, errors.NewSessionNotFoundError(id))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if stored.Namespace != "" && !auth.RequireNamespace(c, stored.Namespace) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"context": stored,
		"hint":    conversation.Render(stored),
	})
}

func (s *Server) handleClearContext(c *gin.Context) {
	if s.contexts == nil {
		respondError(c, errors.NewContextStoreError(fmt.Errorf("context store disabled"), "clear"))
		return
	}

	id := c.Param("id")
	if err := s.contexts.Clear(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "cleared": true})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": true,
		"stats":   s.cache.Stats(c.Request.Context()),
	})
}

func (s *Server) handlePurgeCache(c *gin.Context) {
	namespace := c.Param("namespace")
	if _, err := s.policies.Get(namespace); err != nil {
		respondError(c, errors.NewUnknownNamespaceError(namespace))
		return
	}
	if !auth.RequireNamespace(c, namespace) {
		return
	}

	removed := 0
	if s.cache != nil {
		n, err := s.cache.Purge(c.Request.Context(), namespace)
		if err != nil {
			respondError(c, err)
			return
		}
		removed = n
	}

	s.logger.Info(c.Request.Context(), "Cache purged", map[string]interface{}{
		"namespace": namespace,
		"removed":   removed,
	})
	c.JSON(http.StatusOK, gin.H{"namespace": namespace, "removed": removed})
}

type policySummary struct {
	Namespace   string `json:"namespace"`
	Version     int    `json:"version"`
	Description string `json:"description"`
	Tables      int    `json:"tables"`
}

func (s *Server) handleListPolicies(c *gin.Context) {
	principal, hasPrincipal := auth.CurrentPrincipal(c)

	summaries := make([]policySummary, 0)
	for _, ns := range s.policies.Namespaces() {
		if hasPrincipal && !principal.Allows(ns) {
			continue
		}
		doc, err := s.policies.Get(ns)
		if err != nil {
			continue
		}
		summaries = append(summaries, policySummary{
			Namespace:   doc.Namespace,
			Version:     doc.Version,
			Description: doc.Description,
			Tables:      len(doc.Tables),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"default_namespace": s.policies.DefaultNamespace(),
		"policies":          summaries,
	})
}

func (s *Server) handleGetPolicy(c *gin.Context) {
	namespace := c.Param("namespace")
	doc, err := s.policies.Get(namespace)
	if err != nil {
		respondError(c, errors.NewUnknownNamespaceError(namespace))
		return
	}
	if !auth.RequireNamespace(c, namespace) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"policy":   doc,
		"rendered": doc.Render(),
	})
}
