package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcgate/rpcgate/internal/modules"
	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/storage"
	"github.com/rpcgate/rpcgate/internal/user"
)

// stubCaller simulates the HTTP transport's session handling well
// enough for module-level tests.
type stubCaller struct {
	usr  user.User
	sess session.Session
}

func (s *stubCaller) User() user.User          { return s.usr }
func (s *stubCaller) Session() session.Session { return s.sess }
func (s *stubCaller) CheckConnection() bool    { return true }

func (s *stubCaller) Emit(string, map[string]any) error { return nil }

func (s *stubCaller) StartSession(u user.User) error {
	s.usr = u
	s.sess = session.New(u.Username)
	return nil
}

func (s *stubCaller) DeleteSession() error {
	s.usr = user.User{}
	s.sess = session.Session{}
	return nil
}

func newAuth(t *testing.T) (modules.Module, *rpcerr.Catalog) {
	t.Helper()
	catalog := rpcerr.NewCatalog()
	def := Definition(user.NewService(storage.NewMemory()), catalog)
	return def.New(), catalog
}

func register(t *testing.T, m modules.Module, caller modules.Caller, username, password string) map[string]any {
	t.Helper()
	result, err := m.Invoke(context.Background(), "register",
		map[string]any{"username": username, "password": password}, caller)
	require.NoError(t, err)
	return result
}

func TestRegister(t *testing.T) {
	m, _ := newAuth(t)
	caller := &stubCaller{}

	result := register(t, m, caller, "alice", "secret")

	assert.Equal(t, "alice", result["username"])
	assert.Equal(t, user.RoleUser, result["role"])
	assert.NotEmpty(t, result["createdTime"])
	assert.Equal(t, "alice", caller.User().Username, "registering starts a session")
	assert.NotContains(t, result, "password")
}

func TestRegisterConflict(t *testing.T) {
	m, _ := newAuth(t)
	register(t, m, &stubCaller{}, "alice", "secret")

	_, err := m.Invoke(context.Background(), "register",
		map[string]any{"username": "alice", "password": "other"}, &stubCaller{})
	pe, ok := rpcerr.AsError(err)
	require.True(t, ok, "duplicate registration should be passable: %v", err)
	assert.Equal(t, -40409, pe.Code)
	assert.Equal(t, "alice", pe.Data.(map[string]any)["username"])
}

func TestLogin(t *testing.T) {
	m, _ := newAuth(t)
	register(t, m, &stubCaller{}, "alice", "secret")

	caller := &stubCaller{}
	result, err := m.Invoke(context.Background(), "login",
		map[string]any{"username": "alice", "password": "secret"}, caller)
	require.NoError(t, err)
	assert.Equal(t, "alice", result["username"])
	assert.Equal(t, "alice", caller.Session().Username)
}

func TestLoginWrongPassword(t *testing.T) {
	m, _ := newAuth(t)
	register(t, m, &stubCaller{}, "alice", "secret")

	caller := &stubCaller{}
	_, err := m.Invoke(context.Background(), "login",
		map[string]any{"username": "alice", "password": "wrong"}, caller)
	pe, ok := rpcerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, -40300, pe.Code)
	assert.True(t, caller.User().Anonymous(), "no session on failed login")
}

func TestLoginUnknownUser(t *testing.T) {
	m, _ := newAuth(t)

	// Indistinguishable from a wrong password, so usernames cannot be
	// probed.
	_, err := m.Invoke(context.Background(), "login",
		map[string]any{"username": "nobody", "password": "x"}, &stubCaller{})
	pe, ok := rpcerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, -40300, pe.Code)
}

func TestLoginAlreadyLoggedIn(t *testing.T) {
	m, _ := newAuth(t)
	caller := &stubCaller{}
	register(t, m, caller, "alice", "secret")
	token := caller.Session().Token

	// The active session stands, even with a wrong password.
	result, err := m.Invoke(context.Background(), "login",
		map[string]any{"username": "alice", "password": "wrong"}, caller)
	require.NoError(t, err)
	assert.Equal(t, "alice", result["username"])
	assert.Equal(t, token, caller.Session().Token, "session must not be re-minted")
}

func TestLogout(t *testing.T) {
	m, _ := newAuth(t)
	caller := &stubCaller{}
	register(t, m, caller, "alice", "secret")

	result, err := m.Invoke(context.Background(), "logout", map[string]any{}, caller)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, result)
	assert.True(t, caller.User().Anonymous())
}

func TestMe(t *testing.T) {
	m, _ := newAuth(t)
	caller := &stubCaller{}
	register(t, m, caller, "alice", "secret")

	result, err := m.Invoke(context.Background(), "me", map[string]any{}, caller)
	require.NoError(t, err)
	assert.Equal(t, "alice", result["username"])
	assert.Equal(t, user.RoleUser, result["role"])
}

func TestChangePassword(t *testing.T) {
	m, _ := newAuth(t)
	caller := &stubCaller{}
	register(t, m, caller, "alice", "secret")

	_, err := m.Invoke(context.Background(), "changePassword",
		map[string]any{"username": "alice", "oldPassword": "secret", "newPassword": "rotated"}, caller)
	require.NoError(t, err)

	// Old password no longer works, the new one does.
	_, err = m.Invoke(context.Background(), "login",
		map[string]any{"username": "alice", "password": "secret"}, &stubCaller{})
	pe, ok := rpcerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, -40300, pe.Code)

	_, err = m.Invoke(context.Background(), "login",
		map[string]any{"username": "alice", "password": "rotated"}, &stubCaller{})
	assert.NoError(t, err)
}

func TestChangePasswordWrongOld(t *testing.T) {
	m, _ := newAuth(t)
	caller := &stubCaller{}
	register(t, m, caller, "alice", "secret")

	_, err := m.Invoke(context.Background(), "changePassword",
		map[string]any{"username": "alice", "oldPassword": "wrong", "newPassword": "rotated"}, caller)
	pe, ok := rpcerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, -40300, pe.Code)
}

func TestUnknownMethod(t *testing.T) {
	m, _ := newAuth(t)

	_, err := m.Invoke(context.Background(), "selfDestruct", map[string]any{}, &stubCaller{})
	assert.ErrorIs(t, err, modules.ErrUnknownMethod)
}

func TestDefinitionSchemaTransports(t *testing.T) {
	def := Definition(user.NewService(storage.NewMemory()), rpcerr.NewCatalog())

	// The session-modifying methods must be pinned to HTTP, where the
	// cookie can travel; identity reads work on any transport.
	assert.Equal(t, modules.TransportHTTP, def.Schema["register"].Transport)
	assert.Equal(t, modules.TransportHTTP, def.Schema["login"].Transport)
	assert.Equal(t, modules.TransportHTTP, def.Schema["logout"].Transport)
	assert.Equal(t, modules.Transport(""), def.Schema["me"].Transport)
	assert.Equal(t, modules.Transport(""), def.Schema["changePassword"].Transport)

	assert.True(t, def.Schema["register"].Public)
	assert.True(t, def.Schema["login"].Public)
	assert.False(t, def.Schema["logout"].Public)
	assert.False(t, def.Schema["me"].Public)
}
