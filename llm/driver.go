package llm

import "context"

// Option keys recognized by the bundled drivers. Options is an open bag:
// drivers ignore keys they do not recognize.
const (
	OptModel            = "model"
	OptTemperature      = "temperature"
	OptMaxTokens        = "max_tokens"
	OptTopP             = "top_p"
	OptPresencePenalty  = "presence_penalty"
	OptFrequencyPenalty = "frequency_penalty"
	OptStop             = "stop"
	OptResponseFormat   = "response_format"
	OptToolChoice       = "tool_choice"
	OptBaseURL          = "base_url"
	OptAPIKey           = "api_key"
)

// Options carries per-call tunables. It stays loosely typed at the boundary
// because the set of provider tunables is open-ended; drivers normalize it
// into a typed request structure before any network call.
type Options map[string]any

// String returns the string value for the given key.
func (o Options) String(name string) (string, bool) {
	v, ok := o[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float64 returns the float64 value for the given key. Integer values are
// widened so callers can write Options{"max_tokens": 100} naturally.
func (o Options) Float64(name string) (float64, bool) {
	v, ok := o[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Int returns the value for the given key as an int (truncating any decimal).
func (o Options) Int(name string) (int, bool) {
	f, ok := o.Float64(name)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Bool returns the boolean value for the given key.
func (o Options) Bool(name string) (bool, bool) {
	v, ok := o[name]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Strings returns the value for the given key as a string slice. A bare
// string value becomes a one-element slice.
func (o Options) Strings(name string) ([]string, bool) {
	v, ok := o[name]
	if !ok {
		return nil, false
	}
	switch s := v.(type) {
	case []string:
		return s, true
	case string:
		return []string{s}, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// with returns a copy of the options with one key set, leaving the
// caller's map untouched.
func (o Options) with(name string, value any) Options {
	out := make(Options, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	out[name] = value
	return out
}

// Schema describes the expected keys of a structured reply as a mapping of
// field name to type hint, e.g. Schema{"name": "", "count": 0}.
type Schema map[string]any

// Driver is the contract every model backend implements: one Dialog in,
// one assistant turn out.
type Driver interface {
	// ChatDialog produces the model's next assistant row given the full
	// conversation history.
	ChatDialog(ctx context.Context, dialog Dialog, opts Options) (Row, error)

	// ChatDialogStructured coerces the reply into data conforming to schema.
	ChatDialogStructured(ctx context.Context, dialog Dialog, schema Schema, opts Options) (map[string]any, error)

	// ChatDialogWithTools lets the model invoke one of the supplied tools
	// instead of replying in free text. A tool reply has empty Text and
	// Metadata.FunctionCalls populated.
	ChatDialogWithTools(ctx context.Context, dialog Dialog, tools []Tool, opts Options) (Row, error)
}

// Chat wraps prompt as a single-row user Dialog, sends it through the
// driver, and returns the reply text. It works for any Driver; drivers do
// not reimplement it.
func Chat(ctx context.Context, driver Driver, prompt string, opts Options) (string, error) {
	dialog := NewDialogWith(prompt, RoleUser)
	row, err := driver.ChatDialog(ctx, dialog, opts)
	if err != nil {
		return "", err
	}
	return row.Text, nil
}
