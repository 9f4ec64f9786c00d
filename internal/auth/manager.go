// Package auth authenticates API clients and scopes them to namespaces.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/seanankenbruck/nl2sql-guard/internal/errors"
)

// AllNamespaces grants access to every namespace.
const AllNamespaces = "*"

const tokenIssuer = "nl2sql-guard"

// Client is an API client allowed to query a set of namespaces.
type Client struct {
	ID         string    `json:"id"`
	SecretHash string    `json:"-"`
	Namespaces []string  `json:"namespaces"`
	CreatedAt  time.Time `json:"created_at"`
	Active     bool      `json:"active"`
}

// Claims are the JWT claims issued to a client.
type Claims struct {
	ClientID   string   `json:"client_id"`
	Namespaces []string `json:"namespaces"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	RateLimit      int
	AllowAnonymous bool
	BcryptCost     int
}

// Manager registers clients, issues tokens and verifies them.
type Manager struct {
	config  Config
	clients map[string]*Client
	limiter *RateLimiter
	mu      sync.RWMutex
}

// NewManager creates a manager. An empty JWT secret is replaced by a random
// one, which invalidates tokens across restarts.
func NewManager(config Config) *Manager {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	if config.JWTSecret == "" {
		config.JWTSecret = generateRandomString(32)
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}

	return &Manager{
		config:  config,
		clients: make(map[string]*Client),
		limiter: NewRateLimiter(time.Minute),
	}
}

// RegisterClient adds a client. An empty id gets a generated one.
func (m *Manager) RegisterClient(id, secret string, namespaces []string) (*Client, error) {
	if secret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if len(namespaces) == 0 {
		return nil, fmt.Errorf("client needs at least one namespace")
	}
	if id == "" {
		id = uuid.New().String()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), m.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[id]; exists {
		return nil, fmt.Errorf("client already exists: %s", id)
	}

	ns := slices.Clone(namespaces)
	sort.Strings(ns)
	client := &Client{
		ID:         id,
		SecretHash: string(hash),
		Namespaces: ns,
		CreatedAt:  time.Now(),
		Active:     true,
	}
	m.clients[id] = client
	return client, nil
}

// Bootstrap registers every client in spec, formatted as
// "id:secret:ns1|ns2,id2:secret2:*".
func (m *Manager) Bootstrap(spec string) (int, error) {
	count := 0
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return count, fmt.Errorf("invalid client entry %q: want id:secret:namespaces", entry)
		}

		var namespaces []string
		for _, ns := range strings.Split(parts[2], "|") {
			if ns = strings.TrimSpace(ns); ns != "" {
				namespaces = append(namespaces, ns)
			}
		}
		if _, err := m.RegisterClient(strings.TrimSpace(parts[0]), parts[1], namespaces); err != nil {
			return count, fmt.Errorf("client %s: %w", parts[0], err)
		}
		count++
	}
	return count, nil
}

// GetClient retrieves a client by ID
func (m *Manager) GetClient(id string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[id]
	if !exists {
		return nil, fmt.Errorf("client not found: %s", id)
	}
	return client, nil
}

// Authenticate checks a client secret.
func (m *Manager) Authenticate(id, secret string) (*Client, error) {
	client, err := m.GetClient(id)
	if err != nil || !client.Active {
		return nil, errors.NewInvalidCredentialsError()
	}
	if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)) != nil {
		return nil, errors.NewInvalidCredentialsError()
	}
	return client, nil
}

// Revoke deactivates a client. Tokens it already holds stop validating.
func (m *Manager) Revoke(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[id]
	if !exists {
		return fmt.Errorf("client not found: %s", id)
	}
	client.Active = false
	return nil
}

// ListClients returns all clients sorted by id
func (m *Manager) ListClients() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}

// IssueToken signs a JWT for client.
func (m *Manager) IssueToken(client *Client) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.JWTExpiry)

	claims := &Claims{
		ClientID:   client.ID,
		Namespaces: client.Namespaces,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   client.ID,
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, errors.NewTokenCreationError(err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies a JWT and that its client is still active.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	client, err := m.GetClient(claims.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, fmt.Errorf("client is inactive")
	}
	return claims, nil
}

// RateLimitStats exposes the limiter counters.
func (m *Manager) RateLimitStats() map[string]interface{} {
	return m.limiter.Stats()
}

func generateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}
