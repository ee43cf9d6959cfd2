// Package auth is the built-in account module: registration, login and
// logout over cookie sessions, identity lookup, and password change.
// The session-modifying methods are restricted to the HTTP transport
// because only it can carry the session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/rpcgate/rpcgate/internal/modules"
	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/schema"
	"github.com/rpcgate/rpcgate/internal/storage"
	"github.com/rpcgate/rpcgate/internal/user"
)

// ModuleName is the name the auth module registers under.
const ModuleName = "auth"

var accountResult = &schema.Shape{
	Required: []string{"username", "role", "createdTime"},
	Properties: map[string]*schema.Shape{
		"username":    {Type: schema.TypeString},
		"role":        {Type: schema.TypeString},
		"createdTime": {Type: schema.TypeString},
	},
}

var credentialsParams = &schema.Shape{
	Required: []string{"username", "password"},
	Properties: map[string]*schema.Shape{
		"username": {Type: schema.TypeString, Description: "Account name"},
		"password": {Type: schema.TypeString},
	},
}

// Definition builds the auth module definition over the given user
// service and error catalog.
func Definition(users *user.Service, catalog *rpcerr.Catalog) *modules.Definition {
	return &modules.Definition{
		Schema: map[string]*modules.Method{
			"register": {
				Public:      true,
				Description: "Register a new account and start its session",
				Params:      credentialsParams,
				Result:      accountResult,
				Transport:   modules.TransportHTTP,
			},
			"login": {
				Public:    true,
				Params:    credentialsParams,
				Result:    accountResult,
				Transport: modules.TransportHTTP,
			},
			"logout": {
				Transport: modules.TransportHTTP,
			},
			"me": {
				Result: accountResult,
			},
			"changePassword": {
				Params: &schema.Shape{
					Required: []string{"username", "oldPassword", "newPassword"},
					Properties: map[string]*schema.Shape{
						"username":    {Type: schema.TypeString},
						"oldPassword": {Type: schema.TypeString},
						"newPassword": {Type: schema.TypeString},
					},
				},
				Result: accountResult,
			},
		},
		New: func() modules.Module {
			return &auth{users: users, catalog: catalog}
		},
	}
}

type auth struct {
	users   *user.Service
	catalog *rpcerr.Catalog
}

func (a *auth) Invoke(ctx context.Context, method string, params map[string]any, caller modules.Caller) (map[string]any, error) {
	switch method {
	case "register":
		return a.register(ctx, params, caller)
	case "login":
		return a.login(ctx, params, caller)
	case "logout":
		return a.logout(caller)
	case "me":
		return accountOf(caller.User()), nil
	case "changePassword":
		return a.changePassword(ctx, params, caller)
	default:
		return nil, modules.ErrUnknownMethod
	}
}

func (a *auth) register(ctx context.Context, params map[string]any, caller modules.Caller) (map[string]any, error) {
	username := params["username"].(string)
	password := params["password"].(string)

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	u, err := a.users.Save(ctx, username, hash)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, a.catalog.NewWithData(rpcerr.DataConflict, map[string]any{"username": username})
		}
		return nil, fmt.Errorf("auth: save user: %w", err)
	}
	if err := caller.StartSession(u); err != nil {
		return nil, err
	}
	return accountOf(u), nil
}

func (a *auth) login(ctx context.Context, params map[string]any, caller modules.Caller) (map[string]any, error) {
	username := params["username"].(string)
	password := params["password"].(string)

	// Already logged in as this user: no password check, the active
	// session stands.
	if caller.Session().Username != username {
		u, err := a.users.GetByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, a.catalog.New(rpcerr.AuthenticationFailed)
			}
			return nil, fmt.Errorf("auth: look up user: %w", err)
		}
		if !validatePassword(password, u.Password) {
			return nil, a.catalog.New(rpcerr.AuthenticationFailed)
		}
		if err := caller.StartSession(u); err != nil {
			return nil, err
		}
	}
	return accountOf(caller.User()), nil
}

func (a *auth) logout(caller modules.Caller) (map[string]any, error) {
	if err := caller.DeleteSession(); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (a *auth) changePassword(ctx context.Context, params map[string]any, caller modules.Caller) (map[string]any, error) {
	username := params["username"].(string)
	oldPassword := params["oldPassword"].(string)
	newPassword := params["newPassword"].(string)

	current := caller.User()
	if !validatePassword(oldPassword, current.Password) {
		return nil, a.catalog.New(rpcerr.AuthenticationFailed)
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	u, err := a.users.UpdatePassword(ctx, username, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, a.catalog.NewWithData(rpcerr.DataError, map[string]any{"username": username})
		}
		return nil, fmt.Errorf("auth: update password: %w", err)
	}
	return accountOf(u), nil
}

func accountOf(u user.User) map[string]any {
	return map[string]any{
		"username":    u.Username,
		"role":        u.Role,
		"createdTime": u.CreatedTime,
	}
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

func validatePassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
