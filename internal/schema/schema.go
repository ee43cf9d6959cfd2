// Package schema compiles declarative data-shape descriptions into
// validator functions.
//
// A Shape is a small, closed structural language: object shapes with
// required fields and per-field sub-shapes, array shapes with an item
// shape, and the primitive tags string, number and boolean. Shapes are
// compiled once at server startup; a malformed shape fails compilation
// immediately rather than at request time.
//
// Objects are closed by default: a property not listed in Properties
// fails validation unless AdditionalProperties is set. A nil shape
// compiles to the closed empty-object validator, which accepts exactly
// the empty object and is used as "no constraints declared".
package schema

import (
	"fmt"
	"regexp"
)

// Type tags accepted in a Shape. An empty Type on a top-level shape
// defaults to TypeObject, matching how method schemas are written.
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Shape is a declarative description of the structure a value must have.
type Shape struct {
	// Type is one of the Type* tags. Empty means object.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Required lists object properties that must be present.
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`

	// Properties maps object property names to their shapes.
	Properties map[string]*Shape `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Items is the shape of every element of an array.
	Items *Shape `json:"items,omitempty" yaml:"items,omitempty"`

	// AdditionalProperties opens an object shape to properties not
	// listed in Properties.
	AdditionalProperties bool `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`

	// Pattern is an anchored regular expression a string value must
	// match. Only meaningful for string shapes.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Description is carried through to introspection output and has no
	// effect on validation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validator reports whether a decoded JSON value satisfies the shape it
// was compiled from. Values are the encoding/json default decoding:
// map[string]any, []any, string, float64, bool, nil.
type Validator func(v any) bool

// Compile builds a Validator from a shape. A nil shape compiles to the
// closed empty-object validator. Compile returns an error for unknown
// type tags, invalid patterns, and sub-shape errors, so that a bad
// schema fails at startup.
func Compile(s *Shape) (Validator, error) {
	if s == nil {
		s = &Shape{}
	}
	typ := s.Type
	if typ == "" {
		typ = TypeObject
	}

	switch typ {
	case TypeObject:
		return compileObject(s)
	case TypeArray:
		return compileArray(s)
	case TypeString:
		return compileString(s)
	case TypeNumber:
		if s.Pattern != "" {
			return nil, fmt.Errorf("schema: pattern is only valid for string shapes")
		}
		return func(v any) bool {
			_, ok := v.(float64)
			return ok
		}, nil
	case TypeBoolean:
		return func(v any) bool {
			_, ok := v.(bool)
			return ok
		}, nil
	default:
		return nil, fmt.Errorf("schema: unknown type tag %q", s.Type)
	}
}

// MustCompile is like Compile but panics on error. It is intended for
// package-level schema literals that are validated by tests.
func MustCompile(s *Shape) Validator {
	v, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return v
}

func compileObject(s *Shape) (Validator, error) {
	props := make(map[string]Validator, len(s.Properties))
	for name, sub := range s.Properties {
		v, err := Compile(sub)
		if err != nil {
			return nil, fmt.Errorf("schema: property %q: %w", name, err)
		}
		props[name] = v
	}

	required := make([]string, len(s.Required))
	copy(required, s.Required)
	open := s.AdditionalProperties

	return func(v any) bool {
		obj, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for _, name := range required {
			if _, ok := obj[name]; !ok {
				return false
			}
		}
		for name, val := range obj {
			sub, declared := props[name]
			if !declared {
				if open {
					continue
				}
				return false
			}
			if !sub(val) {
				return false
			}
		}
		return true
	}, nil
}

func compileArray(s *Shape) (Validator, error) {
	item := Validator(func(any) bool { return true })
	if s.Items != nil {
		var err error
		item, err = Compile(s.Items)
		if err != nil {
			return nil, fmt.Errorf("schema: items: %w", err)
		}
	}
	return func(v any) bool {
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		for _, el := range arr {
			if !item(el) {
				return false
			}
		}
		return true
	}, nil
}

func compileString(s *Shape) (Validator, error) {
	if s.Pattern == "" {
		return func(v any) bool {
			_, ok := v.(string)
			return ok
		}, nil
	}
	re, err := regexp.Compile("^(?:" + s.Pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("schema: invalid pattern %q: %w", s.Pattern, err)
	}
	return func(v any) bool {
		str, ok := v.(string)
		return ok && re.MatchString(str)
	}, nil
}
