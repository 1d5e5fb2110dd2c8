package credential

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the opaque bearer token issued by the console's auth layer.
// When the token happens to be a JWT its exp claim is read (not verified)
// so an expired token is never presented to the gateway.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Parse wraps a raw token, extracting the expiry if one is readable.
func Parse(token string) Credential {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	c := Credential{Token: token}
	if strings.Count(token, ".") != 2 {
		return c
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return c
	}
	if claims.ExpiresAt != nil {
		c.ExpiresAt = claims.ExpiresAt.Time
	}
	return c
}

// Valid reports whether the credential can be presented at now.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Store holds the current credential. Readers always see the latest Set.
type Store struct {
	mu  sync.RWMutex
	cur Credential
}

// NewStore creates a store seeded with token (may be empty).
func NewStore(token string) *Store {
	return &Store{cur: Parse(token)}
}

// Get returns the current credential.
func (s *Store) Get() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set replaces the current credential.
func (s *Store) Set(token string) {
	c := Parse(token)
	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()
}

// Token returns the raw token for request headers.
func (s *Store) Token() string {
	return s.Get().Token
}
