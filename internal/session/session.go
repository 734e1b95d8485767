// Package session holds the signed-in account.
//
// A Manager is the explicit session context passed to the services: Start on
// login, End on logout, Restore at startup for auto-login. The session is
// persisted in the local metadata table as the public profile plus an HS256
// token bounding its lifetime. The password hash is never stored here.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediscan/internal/local/metadata"
	"github.com/dmitrijs2005/mediscan/internal/models"
)

// MetadataKey is where the active session is persisted.
const MetadataKey = "session"

var ErrNoSession = errors.New("no active session")

type Session struct {
	User      models.UserAccount `json:"user"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

type Manager struct {
	meta   metadata.Repository
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	current *Session
}

func NewManager(meta metadata.Repository, secret string, ttl time.Duration) *Manager {
	return &Manager{meta: meta, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Start opens a session for u and persists it.
func (m *Manager) Start(ctx context.Context, u *models.UserAccount) (*Session, error) {
	token, expires, err := generateToken(u.ID, m.secret, m.now(), m.ttl)
	if err != nil {
		return nil, err
	}
	s := &Session{User: u.Public(), Token: token, ExpiresAt: expires}
	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return s, nil
}

// Restore loads the persisted session. A missing, expired or tampered session
// yields ErrNoSession and is removed.
func (m *Manager) Restore(ctx context.Context) (*Session, error) {
	raw, found, err := m.meta.Get(ctx, MetadataKey)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, ErrNoSession
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, m.discard(ctx)
	}
	claims, err := parseToken(s.Token, m.secret, m.now)
	if err != nil || claims.UserID != s.User.ID {
		return nil, m.discard(ctx)
	}

	m.mu.Lock()
	m.current = &s
	m.mu.Unlock()
	return &s, nil
}

func (m *Manager) discard(ctx context.Context) error {
	if err := m.meta.Delete(ctx, MetadataKey); err != nil {
		return fmt.Errorf("drop stale session: %w", err)
	}
	return ErrNoSession
}

// Current returns the signed-in account. The session is treated as ended once
// its token has expired.
func (m *Manager) Current() (models.UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || !m.now().Before(m.current.ExpiresAt) {
		return models.UserAccount{}, ErrNoSession
	}
	u := m.current.User
	u.Permissions = append([]models.Permission(nil), u.Permissions...)
	return u, nil
}

// Refresh replaces the cached profile when u is the signed-in account. It is
// a no-op for any other account.
func (m *Manager) Refresh(ctx context.Context, u *models.UserAccount) error {
	m.mu.Lock()
	if m.current == nil || m.current.User.ID != u.ID {
		m.mu.Unlock()
		return nil
	}
	next := *m.current
	next.User = u.Public()
	m.mu.Unlock()

	if err := m.persist(ctx, &next); err != nil {
		return err
	}

	m.mu.Lock()
	if m.current != nil && m.current.User.ID == u.ID {
		m.current = &next
	}
	m.mu.Unlock()
	return nil
}

// End clears the session in memory and on disk.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	if err := m.meta.Delete(ctx, MetadataKey); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.meta.Set(ctx, MetadataKey, raw); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
