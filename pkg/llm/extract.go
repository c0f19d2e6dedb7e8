package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// ExtractJSON recovers a JSON object from a model reply. Models asked for
// JSON still wrap it in prose or markdown fences often enough that strict
// parsing alone loses usable answers, so parsing degrades through:
//
//  1. strict JSON on the trimmed reply
//  2. strict JSON on the first fenced code block, if any
//  3. YAML (accepts unquoted keys, single quotes, trailing commas)
//  4. the substring from the first '{' to the last '}', strict then YAML
//
// The first stage that yields a JSON object wins.
func ExtractJSON(content string) (map[string]any, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("extract json: empty content")
	}

	candidates := []string{trimmed}
	if fenced := stripCodeFence(trimmed); fenced != "" && fenced != trimmed {
		candidates = append(candidates, fenced)
	}

	for _, candidate := range candidates {
		var doc map[string]any
		if err := json.Unmarshal([]byte(candidate), &doc); err == nil && doc != nil {
			return doc, nil
		}
	}
	for _, candidate := range candidates {
		if doc := yamlObject(candidate); doc != nil {
			return doc, nil
		}
	}

	// Last resort: slice out the outermost braces. Catches replies like
	// "Sure, here is the plan: {...} Let me know if ...".
	last := candidates[len(candidates)-1]
	start := strings.Index(last, "{")
	end := strings.LastIndex(last, "}")
	if start >= 0 && end > start {
		sliced := last[start : end+1]
		var doc map[string]any
		if err := json.Unmarshal([]byte(sliced), &doc); err == nil && doc != nil {
			return doc, nil
		}
		if doc := yamlObject(sliced); doc != nil {
			return doc, nil
		}
	}

	return nil, fmt.Errorf("extract json: no object found in %d bytes of content", len(content))
}

// ExtractInto extracts a JSON object from content and decodes it into v.
func ExtractInto(content string, v any) error {
	return ExtractIntoSchema(content, nil, v)
}

// ExtractIntoSchema extracts a JSON object from content, validates it
// against a JSON schema, then decodes it into v. Extraction is permissive
// about fences and prose; the schema keeps the recovered object strict.
func ExtractIntoSchema(content string, schemaBytes []byte, v any) error {
	doc, err := ExtractJSON(content)
	if err != nil {
		return err
	}
	if err := ValidateAgainstSchema(doc, schemaBytes); err != nil {
		return fmt.Errorf("extract json: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("extract json: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("extract json: decode into %T: %w", v, err)
	}
	return nil
}

// stripCodeFence returns the body of the first markdown code fence, or ""
// when the content has none. The info string ("json", "yaml", ...) is
// ignored.
func stripCodeFence(content string) string {
	start := strings.Index(content, "```")
	if start < 0 {
		return ""
	}
	rest := content[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// yamlObject parses candidate as YAML and returns it only when it is a
// mapping. YAML scalars and sequences are not useful here.
func yamlObject(candidate string) map[string]any {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil
	}
	return doc
}

// ValidateAgainstSchema checks doc against a JSON schema document. A nil or
// empty schema passes everything.
func ValidateAgainstSchema(doc any, schemaBytes []byte) error {
	if len(schemaBytes) == 0 {
		return nil
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("reply.schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("reply.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
