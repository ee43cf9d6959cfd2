package modules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/schema"
	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/user"
)

// fakeCaller is a principal stub for pipeline tests.
type fakeCaller struct {
	usr    user.User
	emits  []string
	onEmit error
}

func (f *fakeCaller) User() user.User                       { return f.usr }
func (f *fakeCaller) Session() session.Session              { return session.Session{} }
func (f *fakeCaller) CheckConnection() bool                 { return true }
func (f *fakeCaller) StartSession(u user.User) error        { f.usr = u; return nil }
func (f *fakeCaller) DeleteSession() error                  { f.usr = user.User{}; return nil }
func (f *fakeCaller) Emit(event string, _ map[string]any) error {
	f.emits = append(f.emits, event)
	return f.onEmit
}

// echo is a test module: ping returns its params back, misbehave
// returns a result violating its declared shape, missing is declared in
// the schema but not implemented.
type echo struct{}

func (echo) Invoke(_ context.Context, method string, params map[string]any, _ Caller) (map[string]any, error) {
	switch method {
	case "ping":
		return map[string]any{"pong": params["msg"]}, nil
	case "quiet":
		return nil, nil
	case "misbehave":
		return map[string]any{"unexpected": true}, nil
	case "fail":
		return nil, errors.New("echo: exploded")
	default:
		return nil, ErrUnknownMethod
	}
}

func testDefs() map[string]*Definition {
	msgParams := &schema.Shape{
		Required:   []string{"msg"},
		Properties: map[string]*schema.Shape{"msg": {Type: schema.TypeString}},
	}
	return map[string]*Definition{
		"echo": {
			New: func() Module { return echo{} },
			Schema: map[string]*Method{
				"ping": {
					Public: true,
					Params: msgParams,
					Result: &schema.Shape{
						Required:   []string{"pong"},
						Properties: map[string]*schema.Shape{"pong": {Type: schema.TypeString}},
					},
				},
				"quiet":     {Public: true},
				"misbehave": {Public: true},
				"fail":      {Public: true},
				"missing":   {Public: true},
				"private":   nil,
				"adminOnly": {Roles: []string{user.RoleAdmin}},
				"httpOnly":  {Public: true, Transport: TransportHTTP},
			},
		},
	}
}

func build(t *testing.T) *Compiled {
	t.Helper()
	c, err := Build(testDefs(), rpcerr.NewCatalog())
	require.NoError(t, err)
	return c
}

func passable(t *testing.T, err error) *rpcerr.Error {
	t.Helper()
	pe, ok := rpcerr.AsError(err)
	require.True(t, ok, "expected a protocol error, got %v", err)
	return pe
}

func TestCallSuccess(t *testing.T) {
	c := build(t)

	result, err := c.Call(context.Background(), "echo", "ping",
		map[string]any{"msg": "hi"}, &fakeCaller{}, TransportWS)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pong": "hi"}, result)
}

func TestCallNilParamsDefaultToEmptyObject(t *testing.T) {
	c := build(t)

	result, err := c.Call(context.Background(), "echo", "quiet", nil, &fakeCaller{}, TransportWS)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, result, "nil result must arrive as the empty object")
}

func TestCallUnknownModule(t *testing.T) {
	c := build(t)

	_, err := c.Call(context.Background(), "nowhere", "ping", nil, &fakeCaller{}, TransportWS)
	pe := passable(t, err)
	assert.Equal(t, -32601, pe.Code)
	assert.Equal(t, "nowhere/ping", pe.Data.(map[string]any)["method"])
}

func TestCallUnknownMethod(t *testing.T) {
	c := build(t)

	_, err := c.Call(context.Background(), "echo", "nothere", nil, &fakeCaller{}, TransportWS)
	pe := passable(t, err)
	assert.Equal(t, -32601, pe.Code)
}

func TestCallSchemaMethodNotImplemented(t *testing.T) {
	c := build(t)

	// Declared in the schema, not implemented by the instance: the
	// caller still sees not-found.
	_, err := c.Call(context.Background(), "echo", "missing", nil, &fakeCaller{}, TransportWS)
	pe := passable(t, err)
	assert.Equal(t, -32601, pe.Code)
}

func TestCallInvalidParams(t *testing.T) {
	c := build(t)

	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing required", map[string]any{}},
		{"wrong type", map[string]any{"msg": 1.0}},
		{"undeclared property", map[string]any{"msg": "hi", "extra": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Call(context.Background(), "echo", "ping", tt.params, &fakeCaller{}, TransportWS)
			pe := passable(t, err)
			assert.Equal(t, -32602, pe.Code)
			assert.Equal(t, tt.params, pe.Data.(map[string]any)["params"], "offending params must be echoed in data")
		})
	}
}

func TestCallValidationBeforeAuth(t *testing.T) {
	c := build(t)

	// An anonymous caller with bad params on a private method gets the
	// validation error, not the auth error.
	_, err := c.Call(context.Background(), "echo", "adminOnly",
		map[string]any{"bogus": 1.0}, &fakeCaller{}, TransportWS)
	pe := passable(t, err)
	assert.Equal(t, -32602, pe.Code)
}

func TestCallUnauthorized(t *testing.T) {
	c := build(t)

	_, err := c.Call(context.Background(), "echo", "private", nil, &fakeCaller{}, TransportWS)
	pe := passable(t, err)
	assert.Equal(t, -40401, pe.Code)
}

func TestCallForbidden(t *testing.T) {
	c := build(t)
	caller := &fakeCaller{usr: user.User{Username: "bob", Role: user.RoleUser}}

	_, err := c.Call(context.Background(), "echo", "adminOnly", nil, caller, TransportWS)
	pe := passable(t, err)
	assert.Equal(t, -40403, pe.Code)
}

func TestCallRoleAllowed(t *testing.T) {
	c := build(t)
	caller := &fakeCaller{usr: user.User{Username: "root", Role: user.RoleAdmin}}

	// adminOnly is not implemented by the instance, so passing the role
	// check surfaces as not-found rather than forbidden.
	_, err := c.Call(context.Background(), "echo", "adminOnly", nil, caller, TransportWS)
	pe := passable(t, err)
	assert.Equal(t, -32601, pe.Code)
}

func TestCallBadTransport(t *testing.T) {
	c := build(t)

	_, err := c.Call(context.Background(), "echo", "httpOnly", nil, &fakeCaller{}, TransportWS)
	pe := passable(t, err)
	assert.Equal(t, -50405, pe.Code)

	_, err = c.Call(context.Background(), "echo", "httpOnly", nil, &fakeCaller{}, TransportHTTP)
	pe = passable(t, err)
	assert.Equal(t, -32601, pe.Code, "matching transport should reach the instance")
}

func TestCallResultViolationIsInternal(t *testing.T) {
	resultShape := &schema.Shape{
		Required:   []string{"ok"},
		Properties: map[string]*schema.Shape{"ok": {Type: schema.TypeBoolean}},
	}
	defs := testDefs()
	defs["echo"].Schema["misbehave"].Result = resultShape

	c, err := Build(defs, rpcerr.NewCatalog())
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "echo", "misbehave", nil, &fakeCaller{}, TransportWS)
	require.Error(t, err)
	_, ok := rpcerr.AsError(err)
	assert.False(t, ok, "a result contract fault must not be passable")
}

func TestCallModuleErrorPassesThrough(t *testing.T) {
	c := build(t)

	_, err := c.Call(context.Background(), "echo", "fail", nil, &fakeCaller{}, TransportWS)
	require.Error(t, err)
	_, ok := rpcerr.AsError(err)
	assert.False(t, ok)
}

func TestBuildReservedName(t *testing.T) {
	defs := testDefs()
	defs[IntrospectionModule] = defs["echo"]

	_, err := Build(defs, rpcerr.NewCatalog())
	assert.Error(t, err)
}

func TestBuildMalformedShape(t *testing.T) {
	defs := testDefs()
	defs["echo"].Schema["broken"] = &Method{
		Params: &schema.Shape{Type: "integer"},
	}

	_, err := Build(defs, rpcerr.NewCatalog())
	assert.Error(t, err)
}

func TestBuildNilConstructor(t *testing.T) {
	_, err := Build(map[string]*Definition{"bad": {Schema: map[string]*Method{}}}, rpcerr.NewCatalog())
	assert.Error(t, err)
}

func TestEmitValidator(t *testing.T) {
	defs := testDefs()
	defs["echo"].Schema["ticks"] = &Method{
		Public: true,
		Emit: &schema.Shape{
			Required:   []string{"counter"},
			Properties: map[string]*schema.Shape{"counter": {Type: schema.TypeNumber}},
		},
	}
	c, err := Build(defs, rpcerr.NewCatalog())
	require.NoError(t, err)

	validate, ok := c.EmitValidator("echo", "ticks")
	require.True(t, ok)
	assert.True(t, validate(map[string]any{"counter": 1.0}))
	assert.False(t, validate(map[string]any{}))

	_, ok = c.EmitValidator("echo", "nothere")
	assert.False(t, ok)
	_, ok = c.EmitValidator("nowhere", "ticks")
	assert.False(t, ok)
}

func TestIntrospectionGetModules(t *testing.T) {
	c := build(t)

	result, err := c.Call(context.Background(), IntrospectionModule, "getModules", nil, &fakeCaller{}, TransportWS)
	require.NoError(t, err)

	echoDump, ok := result["echo"].(map[string]any)
	require.True(t, ok, "dump should contain the echo module: %v", result)

	ping := echoDump["ping"].(map[string]any)
	params := ping["params"].(map[string]any)
	assert.Equal(t, []any{"msg"}, params["required"])
	assert.Equal(t, true, ping["public"])

	// The introspection module itself is part of the dump.
	_, ok = result[IntrospectionModule]
	assert.True(t, ok)
}

func TestIntrospectionGetErrors(t *testing.T) {
	catalog := rpcerr.NewCatalog()
	require.NoError(t, catalog.Register("CUSTOM_FAULT", -40999, "Custom."))

	c, err := Build(testDefs(), catalog)
	require.NoError(t, err)

	result, err := c.Call(context.Background(), IntrospectionModule, "getErrors", nil, &fakeCaller{}, TransportHTTP)
	require.NoError(t, err)

	parseErr := result[rpcerr.ParseError].(map[string]any)
	assert.Equal(t, -32700.0, parseErr["code"])

	custom := result["CUSTOM_FAULT"].(map[string]any)
	assert.Equal(t, -40999.0, custom["code"])
}

func TestNormalizeDefaults(t *testing.T) {
	norm := normalize(nil)
	assert.False(t, norm.Public)
	assert.Empty(t, norm.Roles)
	assert.NotNil(t, norm.Roles, "roles must serialize as [], not null")
	assert.Nil(t, norm.Params)
	assert.Equal(t, Transport(""), norm.Transport)
}
