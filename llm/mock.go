package llm

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// mockNoInput is echoed when the dialog has no user rows.
const mockNoInput = "empty"

// MockDriver is a deterministic, network-free Driver. Each instance owns
// its own preset slots, so parallel tests get isolation by constructing one
// double per test. A slot is consumed exactly once: the call after a preset
// reverts to the default f(x) behavior. MockDriver never returns an error.
type MockDriver struct {
	mu             sync.Mutex
	nextResponse   *string
	nextStructured map[string]any
	nextTool       *mockToolReply
}

type mockToolReply struct {
	text *string
	call *FunctionCall
}

// NewMockDriver creates a MockDriver with all slots empty.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

// SetNextResponse presets the reply text for the next ChatDialog call.
func (m *MockDriver) SetNextResponse(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextResponse = &text
}

// SetNextStructuredResponse presets the map returned by the next
// ChatDialogStructured call.
func (m *MockDriver) SetNextStructuredResponse(data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextStructured = data
}

// SetNextToolResponseText presets a plain-text reply for the next
// ChatDialogWithTools call.
func (m *MockDriver) SetNextToolResponseText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTool = &mockToolReply{text: &text}
}

// SetNextToolResponseCall presets a function-call reply for the next
// ChatDialogWithTools call.
func (m *MockDriver) SetNextToolResponseCall(call FunctionCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTool = &mockToolReply{call: &call}
}

// Reset clears all preset slots.
func (m *MockDriver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextResponse = nil
	m.nextStructured = nil
	m.nextTool = nil
}

// takeNextResponse consumes the plain-response slot, if set.
func (m *MockDriver) takeNextResponse() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextResponse == nil {
		return "", false
	}
	text := *m.nextResponse
	m.nextResponse = nil
	return text, true
}

func (m *MockDriver) takeNextStructured() (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextStructured == nil {
		return nil, false
	}
	data := m.nextStructured
	m.nextStructured = nil
	return data, true
}

func (m *MockDriver) takeNextTool() (*mockToolReply, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextTool == nil {
		return nil, false
	}
	reply := m.nextTool
	m.nextTool = nil
	return reply, true
}

// echo computes the default reply from the most recent user row.
func (m *MockDriver) echo(dialog Dialog) (input, reply string) {
	input, ok := dialog.lastUserText()
	if !ok {
		input = mockNoInput
	}
	return input, "f(" + input + ")"
}

// reply builds an assistant row with shape-preserving metadata. Token
// counts are derived from text lengths so they are stable across runs.
func (m *MockDriver) reply(input, text string, calls []FunctionCall) Row {
	usage := TokenUsage{
		Prompt:     len(input),
		Completion: len(text),
	}
	usage.Total = usage.Prompt + usage.Completion
	md := RowMetadata{
		FunctionCalls: calls,
		Usage:         &usage,
		Extra: map[string]any{
			"model":         "mock",
			"completion_id": "mock-" + uuid.NewString(),
			"finish_reason": "stop",
		},
	}
	return NewRow(RoleAssistant, text, WithRowMetadata(md))
}

// ChatDialog returns the preset response if one is queued, otherwise
// "f(<last user text>)".
func (m *MockDriver) ChatDialog(_ context.Context, dialog Dialog, _ Options) (Row, error) {
	input, reply := m.echo(dialog)
	if preset, ok := m.takeNextResponse(); ok {
		reply = preset
	}
	return m.reply(input, reply, nil), nil
}

// ChatDialogStructured returns the preset map if one is queued, otherwise
// one "f(x).<key>" entry per schema key. An empty schema falls back to a
// single "result" key.
func (m *MockDriver) ChatDialogStructured(_ context.Context, dialog Dialog, schema Schema, _ Options) (map[string]any, error) {
	if preset, ok := m.takeNextStructured(); ok {
		return preset, nil
	}
	_, base := m.echo(dialog)
	if len(schema) == 0 {
		return map[string]any{"result": base}, nil
	}
	data := make(map[string]any, len(schema))
	for key := range schema {
		data[key] = base + "." + key
	}
	return data, nil
}

// ChatDialogWithTools calls the first tool with {input: "f(x)"} when tools
// are supplied, and degenerates to ChatDialog semantics when the tool list
// is empty. A preset tool reply takes priority over both.
func (m *MockDriver) ChatDialogWithTools(ctx context.Context, dialog Dialog, tools []Tool, opts Options) (Row, error) {
	input, base := m.echo(dialog)
	if preset, ok := m.takeNextTool(); ok {
		if preset.call != nil {
			return m.reply(input, "", []FunctionCall{*preset.call}), nil
		}
		return m.reply(input, *preset.text, nil), nil
	}
	if len(tools) == 0 {
		return m.ChatDialog(ctx, dialog, opts)
	}
	call := FunctionCall{
		Name:       tools[0].FunctionName(),
		Parameters: map[string]any{"input": base},
	}
	return m.reply(input, "", []FunctionCall{call}), nil
}
