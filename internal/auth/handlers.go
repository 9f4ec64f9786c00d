package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/nl2sql-guard/internal/errors"
	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
)

// TokenRequest exchanges client credentials for a token
type TokenRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
}

// TokenResponse carries the issued token
type TokenResponse struct {
	Token      string   `json:"token"`
	ExpiresAt  string   `json:"expires_at"`
	Namespaces []string `json:"namespaces"`
}

// RegisterPublicRoutes mounts the unauthenticated token endpoint.
func (m *Manager) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/auth/token", m.HandleToken)
}

// RegisterRoutes mounts endpoints that need an authenticated principal.
func (m *Manager) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", m.HandleMe)
}

// HandleToken issues a JWT for valid client credentials.
func (m *Manager) HandleToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		enhanced := errors.NewInvalidInputError("request body", err.Error())
		c.JSON(errors.HTTPStatus(enhanced), errors.Response(enhanced))
		return
	}

	client, err := m.Authenticate(req.ClientID, req.ClientSecret)
	observability.RecordAuthAttempt(err == nil)
	if err != nil {
		c.JSON(errors.HTTPStatus(err), errors.Response(err))
		return
	}

	token, expiresAt, err := m.IssueToken(client)
	if err != nil {
		c.JSON(errors.HTTPStatus(err), errors.Response(err))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:      token,
		ExpiresAt:  expiresAt.Format(time.RFC3339),
		Namespaces: client.Namespaces,
	})
}

// HandleMe returns the caller's identity and namespaces.
func (m *Manager) HandleMe(c *gin.Context) {
	p, ok := CurrentPrincipal(c)
	if !ok {
		err := errors.NewNotAuthenticatedError()
		c.JSON(errors.HTTPStatus(err), errors.Response(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client_id":  p.ClientID,
		"namespaces": p.Namespaces,
		"anonymous":  p.Anonymous,
	})
}
