package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/seanankenbruck/nl2sql-guard/internal/errors"
)

func newTestManager(cfg Config) *Manager {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "test-secret"
	}
	cfg.BcryptCost = bcrypt.MinCost
	return NewManager(cfg)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{})
	assert.NotEmpty(t, m.config.JWTSecret)
	assert.Equal(t, 24*time.Hour, m.config.JWTExpiry)
	assert.Equal(t, bcrypt.DefaultCost, m.config.BcryptCost)
}

func TestRegisterClient(t *testing.T) {
	m := newTestManager(Config{})

	client, err := m.RegisterClient("ops", "s3cret", []string{"maintenance", "checklist"})
	require.NoError(t, err)
	assert.Equal(t, "ops", client.ID)
	assert.Equal(t, []string{"checklist", "maintenance"}, client.Namespaces)
	assert.NotEqual(t, "s3cret", client.SecretHash)
	assert.True(t, client.Active)

	_, err = m.RegisterClient("ops", "other", []string{"checklist"})
	assert.ErrorContains(t, err, "already exists")

	_, err = m.RegisterClient("x", "", []string{"checklist"})
	assert.ErrorContains(t, err, "secret is required")

	_, err = m.RegisterClient("x", "secret", nil)
	assert.ErrorContains(t, err, "at least one namespace")

	generated, err := m.RegisterClient("", "secret", []string{"*"})
	require.NoError(t, err)
	assert.Len(t, generated.ID, 36)
}

func TestAuthenticate(t *testing.T) {
	m := newTestManager(Config{})
	_, err := m.RegisterClient("ops", "s3cret", []string{"checklist"})
	require.NoError(t, err)

	client, err := m.Authenticate("ops", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ops", client.ID)

	_, err = m.Authenticate("ops", "wrong")
	assert.Equal(t, errors.ErrCodeInvalidCredentials, errors.CodeOf(err))

	_, err = m.Authenticate("nobody", "s3cret")
	assert.Equal(t, errors.ErrCodeInvalidCredentials, errors.CodeOf(err))

	require.NoError(t, m.Revoke("ops"))
	_, err = m.Authenticate("ops", "s3cret")
	assert.Equal(t, errors.ErrCodeInvalidCredentials, errors.CodeOf(err))

	assert.Error(t, m.Revoke("nobody"))
}

func TestBootstrap(t *testing.T) {
	m := newTestManager(Config{})

	n, err := m.Bootstrap(" ops:pw1:checklist|maintenance , sales:pw2:lead_to_order,admin:pw:* ,")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	clients := m.ListClients()
	require.Len(t, clients, 3)
	assert.Equal(t, "admin", clients[0].ID)
	assert.Equal(t, "ops", clients[1].ID)
	assert.Equal(t, []string{"checklist", "maintenance"}, clients[1].Namespaces)

	assert.Equal(t, []string{"*"}, clients[0].Namespaces)

	_, err = newTestManager(Config{}).Bootstrap("broken-entry")
	assert.ErrorContains(t, err, "want id:secret:namespaces")

	_, err = newTestManager(Config{}).Bootstrap("ops:pw:")
	assert.ErrorContains(t, err, "at least one namespace")
}

func TestTokenRoundTrip(t *testing.T) {
	m := newTestManager(Config{JWTExpiry: time.Hour})
	client, err := m.RegisterClient("ops", "s3cret", []string{"checklist"})
	require.NoError(t, err)

	token, expiresAt, err := m.IssueToken(client)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.ClientID)
	assert.Equal(t, []string{"checklist"}, claims.Namespaces)
	assert.Equal(t, tokenIssuer, claims.Issuer)

	t.Run("other secret", func(t *testing.T) {
		other := newTestManager(Config{JWTSecret: "different"})
		_, err := other.RegisterClient("ops", "s3cret", []string{"checklist"})
		require.NoError(t, err)
		_, err = other.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("revoked client", func(t *testing.T) {
		require.NoError(t, m.Revoke("ops"))
		_, err := m.ValidateToken(token)
		assert.ErrorContains(t, err, "inactive")
	})

	t.Run("expired", func(t *testing.T) {
		expired := newTestManager(Config{JWTExpiry: -time.Minute})
		c, err := expired.RegisterClient("ops", "s3cret", []string{"checklist"})
		require.NoError(t, err)
		tok, _, err := expired.IssueToken(c)
		require.NoError(t, err)
		_, err = expired.ValidateToken(tok)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong signing method", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{ClientID: "ops"})
		s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.ValidateToken(s)
		assert.Error(t, err)
	})
}
