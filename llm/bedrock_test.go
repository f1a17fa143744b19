package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// mockConverser is a test double for BedrockConverser.
type mockConverser struct {
	input  *bedrockruntime.ConverseInput
	output *bedrockruntime.ConverseOutput
	err    error
}

func (m *mockConverser) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return m.output, nil
}

func textConverseOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: text},
				},
			},
		},
		StopReason: types.StopReasonEndTurn,
		Usage: &types.TokenUsage{
			InputTokens:  int32Ptr(10),
			OutputTokens: int32Ptr(5),
			TotalTokens:  int32Ptr(15),
		},
	}
}

func int32Ptr(v int32) *int32 { return &v }

func newBedrockTestDriver(t *testing.T, mock *mockConverser) *BedrockDriver {
	t.Helper()
	d, err := NewBedrockDriver(context.Background(), WithBedrockClient(mock), WithBedrockModel("test-model"))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestBedrockChatDialog(t *testing.T) {
	mock := &mockConverser{output: textConverseOutput("Hello!")}
	d := newBedrockTestDriver(t, mock)

	dialog := NewDialog().AddSystem("be helpful").AddUser("hi")
	row, err := d.ChatDialog(context.Background(), dialog, Options{OptMaxTokens: 1024})
	if err != nil {
		t.Fatal(err)
	}
	if row.Text != "Hello!" {
		t.Errorf("Text = %q", row.Text)
	}
	if row.Role != RoleAssistant {
		t.Errorf("Role = %q", row.Role)
	}
	usage := row.Metadata.Usage
	if usage.Prompt != 10 || usage.Completion != 5 || usage.Total != 15 {
		t.Errorf("Usage = %+v", usage)
	}

	if *mock.input.ModelId != "test-model" {
		t.Errorf("ModelId = %q", *mock.input.ModelId)
	}
	if len(mock.input.System) != 1 {
		t.Fatalf("System len = %d", len(mock.input.System))
	}
	sys := mock.input.System[0].(*types.SystemContentBlockMemberText)
	if sys.Value != "be helpful" {
		t.Errorf("System text = %q", sys.Value)
	}
	if len(mock.input.Messages) != 1 {
		t.Fatalf("Messages len = %d", len(mock.input.Messages))
	}
	if mock.input.Messages[0].Role != types.ConversationRoleUser {
		t.Errorf("Role = %v", mock.input.Messages[0].Role)
	}
	if *mock.input.InferenceConfig.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d", *mock.input.InferenceConfig.MaxTokens)
	}
}

func TestBedrockHiddenRowsExcluded(t *testing.T) {
	mock := &mockConverser{output: textConverseOutput("ok")}
	d := newBedrockTestDriver(t, mock)

	dialog := NewDialog().AddHiddenSystem("hidden").AddUser("visible")
	if _, err := d.ChatDialog(context.Background(), dialog, nil); err != nil {
		t.Fatal(err)
	}
	if len(mock.input.System) != 0 {
		t.Errorf("System len = %d, want 0", len(mock.input.System))
	}
	if len(mock.input.Messages) != 1 {
		t.Errorf("Messages len = %d, want 1", len(mock.input.Messages))
	}
}

func TestBedrockUnknownRoleFallsBackToUser(t *testing.T) {
	mock := &mockConverser{output: textConverseOutput("ok")}
	d := newBedrockTestDriver(t, mock)

	dialog := NewDialog().Add(Role("narrator"), "scene opens")
	if _, err := d.ChatDialog(context.Background(), dialog, nil); err != nil {
		t.Fatal(err)
	}
	if mock.input.Messages[0].Role != types.ConversationRoleUser {
		t.Errorf("Role = %v", mock.input.Messages[0].Role)
	}
}

func TestBedrockNoInferenceConfigWhenUnset(t *testing.T) {
	mock := &mockConverser{output: textConverseOutput("ok")}
	d := newBedrockTestDriver(t, mock)

	if _, err := d.ChatDialog(context.Background(), NewDialog().AddUser("hi"), nil); err != nil {
		t.Fatal(err)
	}
	if mock.input.InferenceConfig != nil {
		t.Error("InferenceConfig should be omitted when no options are set")
	}
}

func TestBedrockToolUseOutput(t *testing.T) {
	mock := &mockConverser{output: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
						ToolUseId: strPtr("call-1"),
						Name:      strPtr("get_weather"),
						Input:     document.NewLazyDocument(map[string]any{"location": "SF"}),
					}},
				},
			},
		},
		StopReason: types.StopReasonToolUse,
		Usage:      &types.TokenUsage{InputTokens: int32Ptr(5), OutputTokens: int32Ptr(10), TotalTokens: int32Ptr(15)},
	}}
	d := newBedrockTestDriver(t, mock)

	tools := []Tool{NewFunctionTool("get_weather", "Get weather", map[string]any{
		"type":       "object",
		"properties": map[string]any{"location": map[string]any{"type": "string"}},
	})}
	row, err := d.ChatDialogWithTools(context.Background(), NewDialog().AddUser("weather?"), tools, nil)
	if err != nil {
		t.Fatal(err)
	}
	if row.Text != "" {
		t.Errorf("Text = %q, want empty", row.Text)
	}
	calls := row.Metadata.FunctionCalls
	if len(calls) != 1 {
		t.Fatalf("FunctionCalls len = %d", len(calls))
	}
	if calls[0].Name != "get_weather" {
		t.Errorf("Name = %q", calls[0].Name)
	}
	if calls[0].Parameters["location"] != "SF" {
		t.Errorf("location = %v", calls[0].Parameters["location"])
	}
	if calls[0].CompletionID != "call-1" {
		t.Errorf("CompletionID = %q", calls[0].CompletionID)
	}

	if mock.input.ToolConfig == nil {
		t.Fatal("ToolConfig is nil")
	}
	spec := mock.input.ToolConfig.Tools[0].(*types.ToolMemberToolSpec)
	if *spec.Value.Name != "get_weather" {
		t.Errorf("tool name = %q", *spec.Value.Name)
	}
}

func TestBedrockToolValidation(t *testing.T) {
	mock := &mockConverser{output: textConverseOutput("ok")}
	d := newBedrockTestDriver(t, mock)

	badTools := []Tool{{"type": "retrieval"}}
	_, err := d.ChatDialogWithTools(context.Background(), NewDialog().AddUser("hi"), badTools, nil)
	var llmErr *Error
	if !errors.As(err, &llmErr) || llmErr.Kind != ErrInvalidRequest {
		t.Fatalf("err = %v", err)
	}
	if mock.input != nil {
		t.Error("no Converse call should be made for invalid tools")
	}
}

func TestBedrockStructured(t *testing.T) {
	mock := &mockConverser{output: textConverseOutput(`{"name": "nova"}`)}
	d := newBedrockTestDriver(t, mock)

	data, err := d.ChatDialogStructured(context.Background(), NewDialog().AddUser("structured"), Schema{"name": ""}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if data["name"] != "nova" {
		t.Errorf("name = %v", data["name"])
	}

	// The steering instruction rides along as a system block.
	if len(mock.input.System) != 1 {
		t.Fatalf("System len = %d, want 1", len(mock.input.System))
	}
}

func TestBedrockStructuredSchemaViolation(t *testing.T) {
	mock := &mockConverser{output: textConverseOutput(`{"wrong": "shape"}`)}
	d := newBedrockTestDriver(t, mock)

	_, err := d.ChatDialogStructured(context.Background(), NewDialog().AddUser("x"), Schema{"name": ""}, nil)
	var llmErr *Error
	if !errors.As(err, &llmErr) || llmErr.Kind != ErrService {
		t.Fatalf("err = %v", err)
	}
}

func TestBedrockErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"throttling", &types.ThrottlingException{Message: strPtr("slow down")}, ErrRateLimited},
		{"quota exceeded", &types.ServiceQuotaExceededException{Message: strPtr("quota")}, ErrRateLimited},
		{"access denied", &types.AccessDeniedException{Message: strPtr("no")}, ErrAuthentication},
		{"validation", &types.ValidationException{Message: strPtr("bad")}, ErrInvalidRequest},
		{"internal", &types.InternalServerException{Message: strPtr("oops")}, ErrService},
		{"model error", &types.ModelErrorException{Message: strPtr("oops")}, ErrService},
		{"service unavailable", &types.ServiceUnavailableException{Message: strPtr("busy")}, ErrService},
		{"model not ready", &types.ModelNotReadyException{Message: strPtr("warming up")}, ErrService},
		{"generic", errors.New("dial tcp: connection refused"), ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockConverser{err: tt.err}
			d := newBedrockTestDriver(t, mock)

			_, err := d.ChatDialog(context.Background(), NewDialog().AddUser("hi"), nil)
			var llmErr *Error
			if !errors.As(err, &llmErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if llmErr.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", llmErr.Kind, tt.want)
			}
		})
	}
}

func TestBedrockChatConvenience(t *testing.T) {
	mock := &mockConverser{output: textConverseOutput("Hello!")}
	d := newBedrockTestDriver(t, mock)

	reply, err := Chat(context.Background(), d, "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Hello!" {
		t.Errorf("reply = %q", reply)
	}
}
