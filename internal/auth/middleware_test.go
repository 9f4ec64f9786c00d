package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(m *Manager) *gin.Engine {
	r := gin.New()
	public := r.Group("/api/v1")
	m.RegisterPublicRoutes(public)

	api := r.Group("/api/v1")
	api.Use(m.Middleware())
	m.RegisterRoutes(api)
	api.GET("/ns/:namespace", func(c *gin.Context) {
		if !RequireNamespace(c, c.Param("namespace")) {
			return
		}
		id, _ := CurrentClientID(c)
		c.JSON(http.StatusOK, gin.H{"client_id": id})
	})
	return r
}

func doRequest(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestTokenEndpoint(t *testing.T) {
	m := newTestManager(Config{})
	_, err := m.RegisterClient("ops", "s3cret", []string{"checklist"})
	require.NoError(t, err)
	r := newTestRouter(m)

	t.Run("valid credentials", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/api/v1/auth/token", "", `{"client_id":"ops","client_secret":"s3cret"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp TokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.NotEmpty(t, resp.ExpiresAt)
		assert.Equal(t, []string{"checklist"}, resp.Namespaces)

		me := doRequest(r, http.MethodGet, "/api/v1/auth/me", resp.Token, "")
		assert.Equal(t, http.StatusOK, me.Code)
		assert.Contains(t, me.Body.String(), `"client_id":"ops"`)
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/api/v1/auth/token", "", `{"client_id":"ops","client_secret":"nope"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, w))
	})

	t.Run("missing fields", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/api/v1/auth/token", "", `{"client_id":"ops"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, w))
	})
}

func TestMiddleware(t *testing.T) {
	m := newTestManager(Config{RateLimit: 100})
	client, err := m.RegisterClient("ops", "s3cret", []string{"checklist"})
	require.NoError(t, err)
	token, _, err := m.IssueToken(client)
	require.NoError(t, err)
	r := newTestRouter(m)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		code   string
	}{
		{"allowed namespace", "/api/v1/ns/checklist", "Bearer " + token, http.StatusOK, ""},
		{"forbidden namespace", "/api/v1/ns/maintenance", "Bearer " + token, http.StatusForbidden, "NAMESPACE_FORBIDDEN"},
		{"no header", "/api/v1/ns/checklist", "", http.StatusUnauthorized, "NOT_AUTHENTICATED"},
		{"wrong scheme", "/api/v1/ns/checklist", "Basic " + token, http.StatusUnauthorized, "NOT_AUTHENTICATED"},
		{"garbage token", "/api/v1/ns/checklist", "Bearer invalid.token.here", http.StatusUnauthorized, "NOT_AUTHENTICATED"},
		{"lower case scheme", "/api/v1/ns/checklist", "bearer " + token, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, w))
			} else {
				assert.Contains(t, w.Body.String(), `"client_id":"ops"`)
			}
		})
	}
}

func TestMiddleware_Anonymous(t *testing.T) {
	m := newTestManager(Config{AllowAnonymous: true})
	r := newTestRouter(m)

	w := doRequest(r, http.MethodGet, "/api/v1/ns/maintenance", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"client_id":"anonymous"`)

	w = doRequest(r, http.MethodGet, "/api/v1/ns/maintenance", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a bad token is rejected even when anonymous access is on")
}

func TestMiddleware_RateLimit(t *testing.T) {
	m := newTestManager(Config{RateLimit: 2})
	client, err := m.RegisterClient("ops", "s3cret", []string{"*"})
	require.NoError(t, err)
	token, _, err := m.IssueToken(client)
	require.NoError(t, err)
	r := newTestRouter(m)

	assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/api/v1/ns/checklist", token, "").Code)
	assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/api/v1/ns/maintenance", token, "").Code)

	w := doRequest(r, http.MethodGet, "/api/v1/ns/checklist", token, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))

	stats := m.RateLimitStats()
	assert.Equal(t, 1, stats["total_clients"])
}

func TestPrincipal_Allows(t *testing.T) {
	p := &Principal{Namespaces: []string{"checklist"}}
	assert.True(t, p.Allows("checklist"))
	assert.False(t, p.Allows("maintenance"))
	assert.True(t, (&Principal{Namespaces: []string{AllNamespaces}}).Allows("anything"))
}

func TestRequireNamespace_WithoutMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if RequireNamespace(c, "checklist") {
			c.Status(http.StatusNoContent)
		}
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
