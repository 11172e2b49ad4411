package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Compile renders v to the JSON Schema wire format and compiles it with
// santhosh-tekuri/jsonschema, giving tools a second, stricter validation
// pass (format keywords, $ref, additionalProperties) beyond the
// tagged-union interpreter in validate.go. url is an arbitrary identifier
// used only for the compiler's internal resource cache.
func Compile(url string, v Value) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(ToJSONSchema(v))
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return compiled, nil
}

// ValidateJSON runs the compiled schema against already-decoded JSON data
// (map[string]any / []any / scalars), the shape jsonschema.Validate
// expects.
func ValidateJSON(compiled *jsonschema.Schema, data any) error {
	return compiled.Validate(data)
}

// FromGoType reflects a Go struct type (passed as a zero value or
// pointer, per invopop/jsonschema's convention) into a JSON-Schema-shaped
// map[string]any. Unlike the tagged-union interpreter above, this path is
// explicitly reflection-based: it exists for tool authors who'd rather
// declare parameters as a native Go struct with jsonschema tags than hand
// build a schema.Value tree, and invopop/jsonschema is the library the
// rest of the retrieval pack reaches for to do exactly that.
func FromGoType(goValue any) (map[string]any, error) {
	reflector := &invopop.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	s := reflector.Reflect(goValue)
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal reflected schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("schema: unmarshal reflected schema: %w", err)
	}
	return m, nil
}
