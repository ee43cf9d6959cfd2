package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/user"
)

// Memory is a mutex-guarded in-memory store implementing both the user
// and the session store contracts. Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]user.User
	sessions map[string]session.Session
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]user.User),
		sessions: make(map[string]session.Session),
	}
}

// InsertUser stores a new user, assigning CreatedTime.
func (m *Memory) InsertUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.Username]; exists {
		return user.User{}, ErrConflict
	}
	u.CreatedTime = time.Now().UTC().Format(time.RFC3339)
	m.users[u.Username] = u
	return u, nil
}

// GetUser returns the user registered under username.
func (m *Memory) GetUser(_ context.Context, username string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return user.User{}, ErrNotFound
	}
	return u, nil
}

// UpdateUserPassword replaces the stored password hash.
func (m *Memory) UpdateUserPassword(_ context.Context, username, hash string) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return user.User{}, ErrNotFound
	}
	u.Password = hash
	m.users[username] = u
	return u, nil
}

// InsertSession stores a session record.
func (m *Memory) InsertSession(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.Token]; exists {
		return ErrConflict
	}
	m.sessions[s.Token] = s
	return nil
}

// GetSession returns the session stored under token.
func (m *Memory) GetSession(_ context.Context, token string) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return session.Session{}, ErrNotFound
	}
	return s, nil
}

// DeleteSession removes and returns the session stored under token.
func (m *Memory) DeleteSession(_ context.Context, token string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return session.Session{}, ErrNotFound
	}
	delete(m.sessions, token)
	return s, nil
}
