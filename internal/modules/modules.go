// Package modules turns declarative module definitions into a compiled,
// immutable registry and runs the procedure-call pipeline against it.
//
// A module is a named collection of methods plus their declared schemas.
// Definitions are compiled once at server start: each implementation is
// instantiated exactly once, every method schema is merged with
// defaults, and params/result/emit validators are compiled up front so a
// malformed schema fails startup instead of a request. An introspection
// module is synthesized from the full registry so clients can discover
// the API surface and the error catalog over the wire.
package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpcgate/rpcgate/internal/rpcerr"
	"github.com/rpcgate/rpcgate/internal/schema"
	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/user"
)

// IntrospectionModule is the reserved name the synthesized introspection
// module is registered under.
const IntrospectionModule = "introspection"

// Transport identifies which adapter a call arrived on, for methods that
// restrict themselves to one transport.
type Transport string

// The transports a method schema may restrict itself to.
const (
	TransportHTTP Transport = "http"
	TransportWS   Transport = "ws"
)

// ErrUnknownMethod is returned by a Module's Invoke for method names it
// does not implement. The pipeline maps it to METHOD_NOT_FOUND.
var ErrUnknownMethod = errors.New("modules: unknown method")

// Caller is the transport-independent principal a method is invoked on
// behalf of. The server's Client satisfies it.
type Caller interface {
	// User returns the caller's current identity; the zero User is
	// anonymous.
	User() user.User

	// Session returns the caller's current session, if any.
	Session() session.Session

	// Emit pushes an event notification to this caller if it is
	// currently reachable over a live transport.
	Emit(event string, data map[string]any) error

	// CheckConnection reports whether the caller has a live, usable
	// transport registered.
	CheckConnection() bool

	// StartSession establishes a session for u on the caller's
	// transport. Fails with BAD_TRANSPORT where the transport cannot
	// persist sessions.
	StartSession(u user.User) error

	// DeleteSession ends the caller's session on its transport.
	DeleteSession() error
}

// Module is one long-lived module instance. Invoke dispatches a method
// call; unknown names return ErrUnknownMethod.
type Module interface {
	Invoke(ctx context.Context, method string, params map[string]any, caller Caller) (map[string]any, error)
}

// Method is one method's declared contract. Nil shapes mean "no
// constraints declared" and compile to the closed empty-object
// validator.
type Method struct {
	Params      *schema.Shape `json:"params,omitempty"`
	Result      *schema.Shape `json:"result,omitempty"`
	Emit        *schema.Shape `json:"emit,omitempty"`
	Public      bool          `json:"public"`
	Roles       []string      `json:"roles"`
	Transport   Transport     `json:"transport,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Definition declares one module: its method schemas and a constructor.
// Constructors must not capture request-scoped state; request context
// arrives per call through the Caller argument.
type Definition struct {
	Schema map[string]*Method
	New    func() Module
}

type methodValidators struct {
	params schema.Validator
	result schema.Validator
	emit   schema.Validator
}

type compiledModule struct {
	instance   Module
	schema     map[string]*Method
	validators map[string]*methodValidators
}

// Compiled is the immutable registry built from a set of definitions.
// It is read-only after Build and safe for concurrent use.
type Compiled struct {
	modules map[string]*compiledModule
	catalog *rpcerr.Catalog

	// schemaDump is the precomputed introspection/getModules result.
	schemaDump map[string]any
}

// Build compiles defs into a registry, synthesizing the introspection
// module under its reserved name. It fails for a nil constructor, a
// malformed shape, or a definition reusing the reserved name.
func Build(defs map[string]*Definition, catalog *rpcerr.Catalog) (*Compiled, error) {
	if catalog == nil {
		catalog = rpcerr.NewCatalog()
	}
	if _, ok := defs[IntrospectionModule]; ok {
		return nil, fmt.Errorf("modules: %q is a reserved module name", IntrospectionModule)
	}

	c := &Compiled{
		modules: make(map[string]*compiledModule, len(defs)+1),
		catalog: catalog,
	}

	all := make(map[string]*Definition, len(defs)+1)
	for name, def := range defs {
		all[name] = def
	}
	all[IntrospectionModule] = introspectionDefinition(c)

	for name, def := range all {
		if def == nil || def.New == nil {
			return nil, fmt.Errorf("modules: module %q has no constructor", name)
		}
		cm := &compiledModule{
			instance:   def.New(),
			schema:     make(map[string]*Method, len(def.Schema)),
			validators: make(map[string]*methodValidators, len(def.Schema)),
		}
		if cm.instance == nil {
			return nil, fmt.Errorf("modules: module %q constructor returned nil", name)
		}
		for methodName, m := range def.Schema {
			norm := normalize(m)
			v, err := compileValidators(norm)
			if err != nil {
				return nil, fmt.Errorf("modules: %s/%s: %w", name, methodName, err)
			}
			cm.schema[methodName] = norm
			cm.validators[methodName] = v
		}
		c.modules[name] = cm
	}

	dump, err := c.buildSchemaDump()
	if err != nil {
		return nil, err
	}
	c.schemaDump = dump
	return c, nil
}

// normalize merges a declared method with the defaults: empty shapes,
// not public, no role restriction, any transport.
func normalize(m *Method) *Method {
	norm := &Method{Roles: []string{}}
	if m == nil {
		return norm
	}
	norm.Params = m.Params
	norm.Result = m.Result
	norm.Emit = m.Emit
	norm.Public = m.Public
	norm.Transport = m.Transport
	norm.Description = m.Description
	if len(m.Roles) > 0 {
		norm.Roles = append([]string{}, m.Roles...)
	}
	return norm
}

func compileValidators(m *Method) (*methodValidators, error) {
	params, err := schema.Compile(m.Params)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	result, err := schema.Compile(m.Result)
	if err != nil {
		return nil, fmt.Errorf("result: %w", err)
	}
	emit, err := schema.Compile(m.Emit)
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	return &methodValidators{params: params, result: result, emit: emit}, nil
}

// Catalog returns the error catalog the registry was built against.
func (c *Compiled) Catalog() *rpcerr.Catalog {
	return c.catalog
}

// Names returns the registered module names.
func (c *Compiled) Names() []string {
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	return names
}

// EmitValidator returns the compiled emit validator for an event name of
// the form "module/method". The second return is false when no such
// method is registered.
func (c *Compiled) EmitValidator(moduleName, methodName string) (schema.Validator, bool) {
	m, ok := c.modules[moduleName]
	if !ok {
		return nil, false
	}
	v, ok := m.validators[methodName]
	if !ok {
		return nil, false
	}
	return v.emit, true
}

// Call runs the procedure-call pipeline. The check order is part of the
// protocol contract and must not change: module existence, method
// existence, params validation, authentication, role membership. The
// transport restriction and the invocation follow, and the result is
// re-validated against the declared result shape; a violation there is a
// server-side contract fault, returned as a plain (non-passable) error.
func (c *Compiled) Call(ctx context.Context, moduleName, methodName string, params map[string]any, caller Caller, transport Transport) (map[string]any, error) {
	full := moduleName + "/" + methodName
	notFound := func() error {
		return c.catalog.NewWithData(rpcerr.MethodNotFound, map[string]any{"method": full})
	}

	m, ok := c.modules[moduleName]
	if !ok {
		return nil, notFound()
	}
	ms, ok := m.schema[methodName]
	if !ok {
		return nil, notFound()
	}

	if params == nil {
		params = map[string]any{}
	}
	if !m.validators[methodName].params(params) {
		return nil, c.catalog.NewWithData(rpcerr.InvalidParams, map[string]any{"params": params})
	}

	if !ms.Public && caller.User().Anonymous() {
		return nil, c.catalog.New(rpcerr.Unauthorized)
	}
	if len(ms.Roles) > 0 && !contains(ms.Roles, caller.User().Role) {
		return nil, c.catalog.New(rpcerr.Forbidden)
	}
	if ms.Transport != "" && ms.Transport != transport {
		return nil, c.catalog.New(rpcerr.BadTransport)
	}

	result, err := m.instance.Invoke(ctx, methodName, params, caller)
	if err != nil {
		// A schema entry whose instance does not implement the method
		// is still "not found" to the caller.
		if errors.Is(err, ErrUnknownMethod) {
			return nil, notFound()
		}
		return nil, err
	}
	if result == nil {
		result = map[string]any{}
	}
	if !m.validators[methodName].result(result) {
		return nil, fmt.Errorf("modules: invalid result from %s: %v", full, result)
	}
	return result, nil
}

func contains(list []string, v string) bool {
	for _, vv := range list {
		if vv == v {
			return true
		}
	}
	return false
}

// buildSchemaDump renders every module's normalized schema to plain JSON
// values once, at build time, for introspection/getModules.
func (c *Compiled) buildSchemaDump() (map[string]any, error) {
	dump := make(map[string]any, len(c.modules))
	for name, m := range c.modules {
		raw, err := json.Marshal(m.schema)
		if err != nil {
			return nil, fmt.Errorf("modules: render schema for %q: %w", name, err)
		}
		var plain map[string]any
		if err := json.Unmarshal(raw, &plain); err != nil {
			return nil, fmt.Errorf("modules: render schema for %q: %w", name, err)
		}
		dump[name] = plain
	}
	return dump, nil
}
