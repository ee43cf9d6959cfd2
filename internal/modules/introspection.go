package modules

import (
	"context"

	"github.com/rpcgate/rpcgate/internal/schema"
)

// introspectionDefinition declares the synthesized introspection module.
// Both methods are public: self-discovery must work for anonymous
// clients.
func introspectionDefinition(c *Compiled) *Definition {
	return &Definition{
		New: func() Module { return &introspection{registry: c} },
		Schema: map[string]*Method{
			"getModules": {
				Public:      true,
				Description: "Return server api schema.",
				Result: &schema.Shape{
					Description:          "Object with api schema.",
					AdditionalProperties: true,
				},
			},
			"getErrors": {
				Public:      true,
				Description: "Return error dictionary from server.",
				Result: &schema.Shape{
					Description:          "Dictionary of server possible errors.",
					AdditionalProperties: true,
				},
			},
		},
	}
}

// introspection exposes the compiled registry and the error catalog over
// the wire.
type introspection struct {
	registry *Compiled
}

func (m *introspection) Invoke(_ context.Context, method string, _ map[string]any, _ Caller) (map[string]any, error) {
	switch method {
	case "getModules":
		return m.registry.schemaDump, nil
	case "getErrors":
		errs := make(map[string]any)
		for label, entry := range m.registry.catalog.Snapshot() {
			errs[label] = map[string]any{
				"code":    float64(entry.Code),
				"message": entry.Message,
			}
		}
		return errs, nil
	default:
		return nil, ErrUnknownMethod
	}
}
