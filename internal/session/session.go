// Package session implements the cookie-backed session service. A
// session is a server-side record keyed by a random token; the token
// travels in an HMAC-signed cookie.
package session

import (
	"context"
	"time"

	"github.com/pborman/uuid"
)

// Session is one authenticated session. A zero Session means no session
// is established.
type Session struct {
	Username    string `json:"username"`
	Token       string `json:"token"`
	CreatedTime string `json:"createdTime"`
}

// Active reports whether the session carries an authenticated identity.
func (s Session) Active() bool {
	return s.Username != ""
}

// New mints a session for username with a fresh random token.
func New(username string) Session {
	return Session{
		Username:    username,
		Token:       uuid.NewRandom().String(),
		CreatedTime: time.Now().UTC().Format(time.RFC3339),
	}
}

// Store is the persistence contract for sessions.
type Store interface {
	// InsertSession stores a new session record.
	InsertSession(ctx context.Context, s Session) error

	// GetSession returns the session stored under token.
	GetSession(ctx context.Context, token string) (Session, error)

	// DeleteSession removes the session stored under token and returns
	// the removed record.
	DeleteSession(ctx context.Context, token string) (Session, error)
}
