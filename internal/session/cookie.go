package session

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieName is the name of the session cookie.
const CookieName = "token"

// Service restores and manages sessions against a transport request
// context. Restore works for any transport that carries an HTTP request
// (the WS upgrade request included); Start and End additionally need a
// response to write the cookie to, which only the HTTP transport has.
type Service interface {
	Restore(ctx context.Context, r *http.Request) (Session, error)
	Start(ctx context.Context, w http.ResponseWriter, r *http.Request, username string) (Session, error)
	End(ctx context.Context, w http.ResponseWriter, r *http.Request) (Session, error)
}

// CookieService is the Service implementation: the session token is
// persisted in a Store and travels in an HMAC-signed cookie.
type CookieService struct {
	store Store
	codec *securecookie.SecureCookie
}

// NewCookieService builds a cookie-backed session service. hashKey
// signs the cookie value; it should be 32 or 64 bytes.
func NewCookieService(store Store, hashKey []byte) *CookieService {
	return &CookieService{
		store: store,
		codec: securecookie.New(hashKey, nil),
	}
}

// Restore resolves the session referenced by the request's cookie. A
// missing, unverifiable or unknown token yields the zero session, not an
// error: an unauthenticated request is a normal condition.
func (s *CookieService) Restore(ctx context.Context, r *http.Request) (Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Session{}, nil
	}
	var token string
	if err := s.codec.Decode(CookieName, cookie.Value, &token); err != nil {
		return Session{}, nil
	}
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		return Session{}, nil
	}
	return sess, nil
}

// Start mints and persists a session for username and sets the signed
// session cookie on the response.
func (s *CookieService) Start(ctx context.Context, w http.ResponseWriter, r *http.Request, username string) (Session, error) {
	sess := New(username)
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return Session{}, err
	}
	encoded, err := s.codec.Encode(CookieName, sess.Token)
	if err != nil {
		return Session{}, err
	}
	http.SetCookie(w, s.cookie(r, encoded, 0))
	return sess, nil
}

// End deletes the session referenced by the request's cookie and clears
// the cookie with an expiry in the past.
func (s *CookieService) End(ctx context.Context, w http.ResponseWriter, r *http.Request) (Session, error) {
	restored, err := s.Restore(ctx, r)
	if err != nil || !restored.Active() {
		return Session{}, err
	}
	deleted, err := s.store.DeleteSession(ctx, restored.Token)
	if err != nil {
		return Session{}, err
	}
	expired := s.cookie(r, "", 0)
	expired.Expires = time.Unix(0, 0)
	http.SetCookie(w, expired)
	return deleted, nil
}

// cookie builds the session cookie with the attributes the protocol
// promises: Path=/, Domain=<request host>, SameSite=None, Secure,
// HttpOnly.
func (s *CookieService) cookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   hostOnly(r.Host),
		MaxAge:   maxAge,
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
		HttpOnly: true,
	}
}

// hostOnly strips a port suffix from a Host header value.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
