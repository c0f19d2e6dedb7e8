package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// schemaFor reflects a parameter struct into the inline JSON schema shape
// chat-completion tool definitions expect: a flat object with properties
// and required, no $ref indirection.
func schemaFor(v any) map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema for %T: %v", v, err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("tools: decode schema for %T: %v", v, err))
	}

	// Version metadata is noise in a function declaration.
	delete(out, "$schema")
	delete(out, "additionalProperties")
	return out
}

// decodeArgs maps loose model-provided arguments onto a typed parameter
// struct.
func decodeArgs(args map[string]any, v any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
