package llm

import "time"

// Role identifies who produced a Row. The type is deliberately open:
// values outside the constants are carried through the Dialog unchanged
// and fall back to RoleUser at the wire boundary.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TokenUsage holds the token counters reported for one completion.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// FunctionCall is one tool invocation attributed to the assistant.
type FunctionCall struct {
	Name       string
	Parameters map[string]any

	// Result is recorded by the caller after executing the function.
	// Drivers never set it.
	Result any

	CompletionID string
	FinishReason string
}

// RowMetadata carries the optional companion data of a Row.
// All fields are independently optional.
type RowMetadata struct {
	FunctionCalls []FunctionCall
	Hidden        bool // excluded from outgoing wire messages
	Usage         *TokenUsage
	Extra         map[string]any // provider diagnostics: model, completion id, finish reason
}

// Row is a single utterance in a Dialog.
type Row struct {
	Text      string
	Role      Role
	Timestamp time.Time
	Metadata  *RowMetadata
	Images    []string // image URLs, in order
	Processed bool
}

// NewRow creates a Row with the current timestamp.
func NewRow(role Role, text string, opts ...RowOption) Row {
	r := Row{
		Text:      text,
		Role:      role,
		Timestamp: time.Now(),
		Processed: true,
	}
	for _, o := range opts {
		o(&r)
	}
	return r
}

// RowOption configures an optional attribute of a new Row.
type RowOption func(*Row)

// WithRowMetadata attaches metadata to the row.
func WithRowMetadata(md RowMetadata) RowOption {
	return func(r *Row) {
		r.Metadata = &md
	}
}

// WithRowImages attaches image URLs to the row.
func WithRowImages(urls ...string) RowOption {
	return func(r *Row) {
		r.Images = append([]string(nil), urls...)
	}
}

// Hidden reports whether the row is excluded from outgoing wire messages.
func (r Row) Hidden() bool {
	return r.Metadata != nil && r.Metadata.Hidden
}

// Dialog is an ordered conversation history. Dialog values are immutable:
// every mutating operation returns a new Dialog and never touches the
// receiver's rows.
type Dialog struct {
	Rows []Row
}

// NewDialog creates an empty Dialog.
func NewDialog() Dialog {
	return Dialog{}
}

// NewDialogWith creates a Dialog seeded with one row.
func NewDialogWith(text string, role Role) Dialog {
	return Dialog{Rows: []Row{NewRow(role, text)}}
}

// Add returns a new Dialog with one more row appended.
func (d Dialog) Add(role Role, text string, opts ...RowOption) Dialog {
	rows := make([]Row, len(d.Rows), len(d.Rows)+1)
	copy(rows, d.Rows)
	return Dialog{Rows: append(rows, NewRow(role, text, opts...))}
}

// AddUser appends a user row.
func (d Dialog) AddUser(text string) Dialog {
	return d.Add(RoleUser, text)
}

// AddAssistant appends an assistant row.
func (d Dialog) AddAssistant(text string) Dialog {
	return d.Add(RoleAssistant, text)
}

// AddSystem appends a visible system row.
func (d Dialog) AddSystem(text string) Dialog {
	return d.Add(RoleSystem, text)
}

// AddHiddenSystem appends a system row that steers the model without
// appearing in the outgoing message list.
func (d Dialog) AddHiddenSystem(text string) Dialog {
	return d.Add(RoleSystem, text, WithRowMetadata(RowMetadata{Hidden: true}))
}

// AddRow appends an already-constructed row, typically a driver reply.
func (d Dialog) AddRow(row Row) Dialog {
	rows := make([]Row, len(d.Rows), len(d.Rows)+1)
	copy(rows, d.Rows)
	return Dialog{Rows: append(rows, row)}
}

// LastText returns the text of the final row, or "" for an empty Dialog.
func (d Dialog) LastText() string {
	if len(d.Rows) == 0 {
		return ""
	}
	return d.Rows[len(d.Rows)-1].Text
}

// lastUserText returns the text of the most recent user row, searching from
// the end. The second return is false when the dialog has no user rows.
func (d Dialog) lastUserText() (string, bool) {
	for i := len(d.Rows) - 1; i >= 0; i-- {
		if d.Rows[i].Role == RoleUser {
			return d.Rows[i].Text, true
		}
	}
	return "", false
}

// DialogMessage is the (role, text, images) projection of one Row.
type DialogMessage struct {
	Role   Role
	Text   string
	Images []string
}

// Messages returns the rows projected to DialogMessages in insertion order.
// With no arguments every row is returned; otherwise only rows whose role
// matches one of the given roles, preserving relative order.
func (d Dialog) Messages(roles ...Role) []DialogMessage {
	out := make([]DialogMessage, 0, len(d.Rows))
	for _, r := range d.Rows {
		if len(roles) > 0 && !roleIn(r.Role, roles) {
			continue
		}
		out = append(out, DialogMessage{Role: r.Role, Text: r.Text, Images: r.Images})
	}
	return out
}

func roleIn(role Role, roles []Role) bool {
	for _, r := range roles {
		if role == r {
			return true
		}
	}
	return false
}
