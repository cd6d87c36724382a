package gateway

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// TokenPersister writes the current token where clients read it.
type TokenPersister interface {
	WriteToken(token string) error
}

// TokenAuthority owns the bearer token. Reads are lock free; Reset and
// Rotate are serialized.
type TokenAuthority struct {
	current  atomic.Pointer[string]
	generate func() (string, error)
	persist  TokenPersister

	mu sync.Mutex
}

// NewTokenAuthority creates an authority with no token; every request is
// rejected until Reset is called.
func NewTokenAuthority(generate func() (string, error), persist TokenPersister) *TokenAuthority {
	return &TokenAuthority{generate: generate, persist: persist}
}

// Token returns the current token, or "" before Reset.
func (a *TokenAuthority) Token() string {
	if t := a.current.Load(); t != nil {
		return *t
	}
	return ""
}

// Reset installs a fresh token without persisting it. The server writes
// the token together with the endpoint on start.
func (a *TokenAuthority) Reset() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	token, err := a.generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	a.current.Store(&token)
	return token, nil
}

// Rotate generates a new token and persists it before it takes effect.
// On a persist failure the old token stays valid.
func (a *TokenAuthority) Rotate() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	token, err := a.generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	if a.persist == nil {
		return "", errors.New("no token persister configured")
	}
	if err := a.persist.WriteToken(token); err != nil {
		return "", err
	}
	a.current.Store(&token)
	return token, nil
}

// Authorize checks an Authorization header value in constant time.
func (a *TokenAuthority) Authorize(header string) bool {
	token := a.Token()
	if token == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(token), []byte(presented)) == 1
}
