package auth

import (
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/nl2sql-guard/internal/errors"
	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
)

// AnonymousClientID identifies requests let through by AllowAnonymous.
const AnonymousClientID = "anonymous"

const (
	principalKey = "principal"
	clientIDKey  = "client_id"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	ClientID   string
	Namespaces []string
	Anonymous  bool
}

// Allows reports whether the principal may query namespace.
func (p *Principal) Allows(namespace string) bool {
	return slices.Contains(p.Namespaces, AllNamespaces) || slices.Contains(p.Namespaces, namespace)
}

// Middleware authenticates bearer tokens and applies the per-client rate limit.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := m.authenticate(c)
		if err != nil {
			observability.RecordAuthRejection("unauthenticated")
			c.AbortWithStatusJSON(errors.HTTPStatus(err), errors.Response(err))
			return
		}

		limitKey := principal.ClientID
		if principal.Anonymous {
			limitKey = AnonymousClientID + ":" + c.ClientIP()
		}
		if !m.limiter.Allow(limitKey, m.config.RateLimit) {
			observability.RecordAuthRejection("rate_limited")
			err := errors.NewRateLimitedError(m.config.RateLimit)
			c.AbortWithStatusJSON(errors.HTTPStatus(err), errors.Response(err))
			return
		}

		c.Set(principalKey, principal)
		c.Set(clientIDKey, principal.ClientID)
		c.Request = c.Request.WithContext(observability.WithClientID(c.Request.Context(), principal.ClientID))
		c.Next()
	}
}

func (m *Manager) authenticate(c *gin.Context) (*Principal, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if m.config.AllowAnonymous {
			return &Principal{
				ClientID:   AnonymousClientID,
				Namespaces: []string{AllNamespaces},
				Anonymous:  true,
			}, nil
		}
		return nil, errors.NewNotAuthenticatedError()
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, errors.NewNotAuthenticatedError()
	}

	claims, err := m.ValidateToken(strings.TrimSpace(token))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNotAuthenticated, "Authentication required").
			WithDetails("The bearer token is invalid or expired")
	}
	return &Principal{ClientID: claims.ClientID, Namespaces: claims.Namespaces}, nil
}

// CurrentPrincipal returns the principal set by Middleware.
func CurrentPrincipal(c *gin.Context) (*Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	p, ok := value.(*Principal)
	return p, ok
}

// CurrentClientID returns the authenticated client id from context
func CurrentClientID(c *gin.Context) (string, bool) {
	value, exists := c.Get(clientIDKey)
	if !exists {
		return "", false
	}
	id, ok := value.(string)
	return id, ok
}

// RequireNamespace aborts with NAMESPACE_FORBIDDEN unless the principal may
// query namespace. It reports whether the request may continue.
func RequireNamespace(c *gin.Context, namespace string) bool {
	p, ok := CurrentPrincipal(c)
	if !ok {
		// No middleware in front means no restriction.
		return true
	}
	if p.Allows(namespace) {
		return true
	}
	observability.RecordAuthRejection("forbidden")
	err := errors.NewNamespaceForbiddenError(namespace)
	c.AbortWithStatusJSON(errors.HTTPStatus(err), errors.Response(err))
	return false
}
