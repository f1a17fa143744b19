package llm

import "fmt"

// Tool is a tool descriptor in the chat-completions wire shape:
//
//	{"type": "function", "function": {"name": ..., "description": ..., "parameters": {...}}}
//
// Descriptors stay loosely typed so provider-specific extensions pass
// through verbatim; validateTools enforces the minimum shape before any
// network call.
type Tool map[string]any

// NewFunctionTool builds a function-type Tool. parameters is a JSON Schema
// object describing the function's arguments; nil means no arguments.
func NewFunctionTool(name, description string, parameters map[string]any) Tool {
	if parameters == nil {
		parameters = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return Tool{
		"type": "function",
		"function": map[string]any{
			"name":        name,
			"description": description,
			"parameters":  parameters,
		},
	}
}

// FunctionName returns the declared function name, or "" when the
// descriptor does not carry one.
func (t Tool) FunctionName() string {
	fn, ok := t["function"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := fn["name"].(string)
	return name
}

// validateTools checks the shape rules every driver applies before sending:
// each tool must carry a "type"; "function" tools must carry a function
// mapping with a non-empty name; any other type value is rejected.
func validateTools(provider string, tools []Tool) error {
	for i, t := range tools {
		typ, ok := t["type"].(string)
		if !ok || typ == "" {
			return &Error{
				Kind:     ErrInvalidRequest,
				Provider: provider,
				Message:  fmtToolError(i, "missing type"),
			}
		}
		if typ != "function" {
			return &Error{
				Kind:     ErrInvalidRequest,
				Provider: provider,
				Message:  fmtToolError(i, "unsupported type "+typ),
			}
		}
		if t.FunctionName() == "" {
			return &Error{
				Kind:     ErrInvalidRequest,
				Provider: provider,
				Message:  fmtToolError(i, "function tool missing name"),
			}
		}
	}
	return nil
}

func fmtToolError(index int, detail string) string {
	return fmt.Sprintf("invalid tool descriptor at index %d: %s", index, detail)
}
