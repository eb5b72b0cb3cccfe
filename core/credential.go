package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialStore persists the credential in a single slot.
// Load returns an empty string when the slot is empty.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// TokenSource provides the bearer token for outgoing calls.
type TokenSource interface {
	Token() string
}

// CredentialHolder keeps the current credential in memory and mirrors every
// change into its store. The presence of a credential is the only gate for
// establishing a session.
type CredentialHolder struct {
	mu    sync.RWMutex
	token string
	store CredentialStore
}

func NewCredentialHolder(store CredentialStore) *CredentialHolder {
	if store == nil {
		store = &MemoryCredentialStore{}
	}
	return &CredentialHolder{store: store}
}

// Load reads the persisted credential into memory.
func (h *CredentialHolder) Load(ctx context.Context) error {
	token, err := h.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
	return nil
}

func (h *CredentialHolder) Set(ctx context.Context, token string) error {
	if token == "" {
		return h.Clear(ctx)
	}
	if err := h.store.Save(ctx, token); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
	return nil
}

// Clear drops the credential. The in-memory copy is dropped even when the
// store fails.
func (h *CredentialHolder) Clear(ctx context.Context) error {
	h.mu.Lock()
	h.token = ""
	h.mu.Unlock()
	if err := h.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func (h *CredentialHolder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

func (h *CredentialHolder) Present() bool {
	return h.Token() != ""
}

// ExpiresAt reads the exp claim of the credential without verifying its
// signature. ok is false when the credential is absent, is not a JWT or
// carries no expiry.
func (h *CredentialHolder) ExpiresAt() (exp time.Time, ok bool) {
	token := h.Token()
	if token == "" {
		return exp, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return exp, false
	}
	if claims.ExpiresAt == nil {
		return exp, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether the credential is known to be expired at now.
// Opaque credentials never expire client side.
func (h *CredentialHolder) Expired(now time.Time) bool {
	exp, ok := h.ExpiresAt()
	return ok && !now.Before(exp)
}

// MemoryCredentialStore keeps the credential for the lifetime of the process.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	token string
}

func (s *MemoryCredentialStore) Load(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryCredentialStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
