// Package schema implements tool parameter schemas as tagged-union values
// plus a small interpreter that validates and coerces
// raw JSON arguments against them, with no reflection.
package schema

import (
	"fmt"
	"sort"
)

// Value is a schema node. The sealed set of implementations below is the
// tagged union: StringSchema, EnumSchema, NumberSchema, ObjectSchema,
// ArraySchema, OptionalSchema.
type Value interface {
	isSchemaValue()
	// describe returns the JSON-Schema-shaped map for this node, used by
	// ToJSONSchema.
	describe() map[string]any
}

// StringSchema describes a string-typed field.
type StringSchema struct {
	Description string
	MinLength   int
	MaxLength   int // 0 means unbounded
	Pattern     string
}

func (StringSchema) isSchemaValue() {}

func (s StringSchema) describe() map[string]any {
	m := map[string]any{"type": "string"}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.MinLength > 0 {
		m["minLength"] = s.MinLength
	}
	if s.MaxLength > 0 {
		m["maxLength"] = s.MaxLength
	}
	if s.Pattern != "" {
		m["pattern"] = s.Pattern
	}
	return m
}

// EnumSchema describes a field restricted to a fixed set of string
// values.
type EnumSchema struct {
	Description string
	Values      []string
}

func (EnumSchema) isSchemaValue() {}

func (e EnumSchema) describe() map[string]any {
	m := map[string]any{"type": "string", "enum": append([]string(nil), e.Values...)}
	if e.Description != "" {
		m["description"] = e.Description
	}
	return m
}

// NumberSchema describes a numeric field, optionally constrained to
// integers and/or a [Min, Max] range.
type NumberSchema struct {
	Description string
	Min, Max    *float64
	Int         bool
}

func (NumberSchema) isSchemaValue() {}

func (n NumberSchema) describe() map[string]any {
	t := "number"
	if n.Int {
		t = "integer"
	}
	m := map[string]any{"type": t}
	if n.Description != "" {
		m["description"] = n.Description
	}
	if n.Min != nil {
		m["minimum"] = *n.Min
	}
	if n.Max != nil {
		m["maximum"] = *n.Max
	}
	return m
}

// ObjectSchema describes a map of named fields, a subset of which are
// Required.
type ObjectSchema struct {
	Description string
	Fields      map[string]Value
	Required    []string
}

func (ObjectSchema) isSchemaValue() {}

func (o ObjectSchema) describe() map[string]any {
	props := make(map[string]any, len(o.Fields))
	names := make([]string, 0, len(o.Fields))
	for name := range o.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		props[name] = o.Fields[name].describe()
	}
	m := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if o.Description != "" {
		m["description"] = o.Description
	}
	if len(o.Required) > 0 {
		m["required"] = append([]string(nil), o.Required...)
	}
	return m
}

// ArraySchema describes a homogeneous list of Item-schema elements.
type ArraySchema struct {
	Description string
	Item        Value
	MinItems    int
}

func (ArraySchema) isSchemaValue() {}

func (a ArraySchema) describe() map[string]any {
	m := map[string]any{"type": "array", "items": a.Item.describe()}
	if a.Description != "" {
		m["description"] = a.Description
	}
	if a.MinItems > 0 {
		m["minItems"] = a.MinItems
	}
	return m
}

// OptionalSchema wraps Inner to mark it not required; ObjectSchema fields
// not named in Required are already optional, but OptionalSchema lets a
// standalone Value (e.g. at the top level of a union) declare the same.
type OptionalSchema struct {
	Inner Value
}

func (OptionalSchema) isSchemaValue() {}

func (o OptionalSchema) describe() map[string]any { return o.Inner.describe() }

// ToJSONSchema renders v as a JSON-Schema-shaped map[string]any, the wire
// format most provider tool-definition payloads expect.
func ToJSONSchema(v Value) map[string]any {
	return v.describe()
}

// ValidationError describes one field that failed interpretation.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors aggregates every field failure found during one
// Validate call.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	if len(es) == 0 {
		return "schema: no errors"
	}
	msg := es[0].Error()
	for _, e := range es[1:] {
		msg += "; " + e.Error()
	}
	return msg
}
