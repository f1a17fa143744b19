package llm

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// schemaInstruction renders the hidden system instruction that steers the
// model toward schema-shaped JSON output.
func schemaInstruction(schema Schema) string {
	hint, err := json.Marshal(schema)
	if err != nil || len(schema) == 0 {
		return "Respond with a single JSON object and nothing else."
	}
	return "Respond with a single JSON object and nothing else. " +
		"The object must have exactly these fields: " + string(hint)
}

// schemaDocument derives a JSON Schema from the hint map. Hint values
// supply the type: "" means string, 0 means number, false means boolean,
// a map means object, a slice means array. Unrecognized hints leave the
// field untyped. All hinted keys are required.
func schemaDocument(schema Schema) map[string]any {
	properties := make(map[string]any, len(schema))
	required := make([]string, 0, len(schema))
	for name, hint := range schema {
		prop := map[string]any{}
		if typ := hintType(hint); typ != "" {
			prop["type"] = typ
		}
		properties[name] = prop
		required = append(required, name)
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func hintType(hint any) string {
	switch hint.(type) {
	case string:
		return "string"
	case float64, int:
		return "number"
	case bool:
		return "boolean"
	case map[string]any, Schema:
		return "object"
	case []any, []string:
		return "array"
	}
	return ""
}

// validateStructured checks the decoded reply against the schema hints.
// Keys beyond the schema are allowed; missing or mistyped hinted keys are
// a service error carrying every violation.
func validateStructured(provider string, schema Schema, data map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDocument(schema)))
	if err != nil {
		return &Error{Kind: ErrService, Provider: provider, Message: "failed to compile response schema", Cause: err}
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return &Error{Kind: ErrService, Provider: provider, Message: "failed to validate structured response", Cause: err}
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return &Error{
		Kind:     ErrService,
		Provider: provider,
		Message:  "structured response does not match schema: " + strings.Join(violations, "; "),
	}
}

// decodeStructured parses reply text as a JSON object and validates it.
func decodeStructured(provider string, schema Schema, text string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, &Error{
			Kind:     ErrService,
			Provider: provider,
			Message:  "structured response is not valid JSON",
			Cause:    err,
			Raw:      []byte(text),
		}
	}
	if err := validateStructured(provider, schema, data); err != nil {
		return nil, err
	}
	return data, nil
}
