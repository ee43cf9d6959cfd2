// Package user holds the identity model and the user service consumed
// by the dispatch core and the auth module.
package user

import "context"

// Roles known to the built-in modules. Method schemas may reference any
// role string; these are just the defaults the auth module assigns.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a registered principal. Password holds the bcrypt hash, never
// the clear text. A zero User is the anonymous identity.
type User struct {
	Username    string `json:"username"`
	Password    string `json:"-"`
	Role        string `json:"role"`
	CreatedTime string `json:"createdTime"`
}

// Anonymous reports whether the user carries no authenticated identity.
func (u User) Anonymous() bool {
	return u.Username == ""
}

// Store is the persistence contract for users.
type Store interface {
	// InsertUser stores a new user and returns it with storage-assigned
	// fields (CreatedTime) filled in. Duplicate usernames fail with a
	// conflict error.
	InsertUser(ctx context.Context, u User) (User, error)

	// GetUser returns the user registered under username.
	GetUser(ctx context.Context, username string) (User, error)

	// UpdateUserPassword replaces the stored password hash and returns
	// the updated user.
	UpdateUserPassword(ctx context.Context, username, hash string) (User, error)
}

// Service wraps a Store with the operations the core consumes.
type Service struct {
	store Store
}

// NewService returns a user service over store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Save registers username with the given password hash and the default
// role.
func (s *Service) Save(ctx context.Context, username, hash string) (User, error) {
	return s.store.InsertUser(ctx, User{Username: username, Password: hash, Role: RoleUser})
}

// GetByUsername looks a user up by name.
func (s *Service) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.store.GetUser(ctx, username)
}

// UpdatePassword replaces the stored password hash for username.
func (s *Service) UpdatePassword(ctx context.Context, username, hash string) (User, error) {
	return s.store.UpdateUserPassword(ctx, username, hash)
}
