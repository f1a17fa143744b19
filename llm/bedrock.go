package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

const (
	bedrockProvider     = "bedrock"
	defaultBedrockModel = "us.anthropic.claude-haiku-4-5-20251001-v1:0"
)

// BedrockConverser abstracts the Bedrock Converse call for testing.
type BedrockConverser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockDriver implements Driver over the AWS Bedrock Converse API.
// Credentials come from the ambient AWS configuration chain rather than a
// bearer token.
type BedrockDriver struct {
	client BedrockConverser
	model  string
}

// BedrockOption configures a BedrockDriver.
type BedrockOption func(*BedrockDriver)

// WithBedrockModel sets the default model for calls that don't specify one.
func WithBedrockModel(model string) BedrockOption {
	return func(d *BedrockDriver) { d.model = model }
}

// WithBedrockClient replaces the Converse client, typically with a test
// double.
func WithBedrockClient(c BedrockConverser) BedrockOption {
	return func(d *BedrockDriver) { d.client = c }
}

// NewBedrockDriver creates a BedrockDriver, loading the default AWS
// configuration unless a client is supplied.
func NewBedrockDriver(ctx context.Context, opts ...BedrockOption) (*BedrockDriver, error) {
	d := &BedrockDriver{model: defaultBedrockModel}
	for _, o := range opts {
		o(d)
	}
	if d.client == nil {
		conf, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, &Error{Kind: ErrAuthentication, Provider: bedrockProvider, Message: "failed to load AWS config", Cause: err}
		}
		d.client = bedrockruntime.NewFromConfig(conf)
	}
	return d, nil
}

// buildConverseInput maps visible rows and options to a ConverseInput.
// System rows become system blocks; other rows become conversation
// messages, with unknown roles falling back to user. extraSystem carries
// steering text that must reach the model without living in the Dialog.
func (d *BedrockDriver) buildConverseInput(dialog Dialog, tools []Tool, opts Options, extraSystem string) *bedrockruntime.ConverseInput {
	model := d.model
	if m, ok := opts.String(OptModel); ok {
		model = m
	}
	input := &bedrockruntime.ConverseInput{ModelId: &model}

	for _, row := range dialog.Rows {
		if row.Hidden() {
			continue
		}
		if row.Role == RoleSystem {
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: row.Text})
			continue
		}
		role := types.ConversationRoleUser
		if row.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: row.Text}},
		})
	}
	if extraSystem != "" {
		input.System = append(input.System, &types.SystemContentBlockMemberText{Value: extraSystem})
	}

	ic := &types.InferenceConfiguration{}
	configured := false
	if v, ok := opts.Int(OptMaxTokens); ok {
		n := int32(v)
		ic.MaxTokens = &n
		configured = true
	}
	if v, ok := opts.Float64(OptTemperature); ok {
		f := float32(v)
		ic.Temperature = &f
		configured = true
	}
	if v, ok := opts.Float64(OptTopP); ok {
		f := float32(v)
		ic.TopP = &f
		configured = true
	}
	if stop, ok := opts.Strings(OptStop); ok {
		ic.StopSequences = stop
		configured = true
	}
	if configured {
		input.InferenceConfig = ic
	}

	if len(tools) > 0 {
		tc := &types.ToolConfiguration{}
		for _, t := range tools {
			spec := types.ToolSpecification{Name: strPtr(t.FunctionName())}
			fn, _ := t["function"].(map[string]any)
			if desc, ok := fn["description"].(string); ok && desc != "" {
				spec.Description = &desc
			}
			if params, ok := fn["parameters"]; ok {
				spec.InputSchema = &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(params)}
			}
			tc.Tools = append(tc.Tools, &types.ToolMemberToolSpec{Value: spec})
		}
		input.ToolConfig = tc
	}

	return input
}

// converse issues the call and maps the output to an assistant Row.
func (d *BedrockDriver) converse(ctx context.Context, dialog Dialog, tools []Tool, opts Options, extraSystem string) (Row, error) {
	input := d.buildConverseInput(dialog, tools, opts, extraSystem)
	out, err := d.client.Converse(ctx, input)
	if err != nil {
		return Row{}, classifyBedrockError(err)
	}
	return rowFromConverseOutput(out)
}

// rowFromConverseOutput maps a ConverseOutput to an assistant Row. Text
// blocks concatenate into the row text; tool-use blocks normalize into
// FunctionCalls.
func rowFromConverseOutput(out *bedrockruntime.ConverseOutput) (Row, error) {
	msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Row{}, &Error{
			Kind:     ErrService,
			Provider: bedrockProvider,
			Message:  fmt.Sprintf("unexpected output type %T", out.Output),
		}
	}

	text := ""
	var calls []FunctionCall
	finish := string(out.StopReason)
	for _, block := range msgOut.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text += b.Value
		case *types.ContentBlockMemberToolUse:
			params := map[string]any{}
			if b.Value.Input != nil {
				raw, err := b.Value.Input.MarshalSmithyDocument()
				if err != nil {
					params = map[string]any{"error": err.Error()}
				} else {
					params = parseCallArguments(string(raw))
				}
			}
			calls = append(calls, FunctionCall{
				Name:         derefStr(b.Value.Name),
				Parameters:   params,
				CompletionID: derefStr(b.Value.ToolUseId),
				FinishReason: finish,
			})
		}
	}

	usage := &TokenUsage{}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			usage.Prompt = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			usage.Completion = int(*out.Usage.OutputTokens)
		}
		if out.Usage.TotalTokens != nil {
			usage.Total = int(*out.Usage.TotalTokens)
		}
	}

	md := RowMetadata{
		FunctionCalls: calls,
		Usage:         usage,
		Extra: map[string]any{
			"model":         bedrockProvider,
			"finish_reason": finish,
		},
	}
	return NewRow(RoleAssistant, text, WithRowMetadata(md)), nil
}

// classifyBedrockError maps Bedrock typed exceptions to the error
// taxonomy. Any other API error is a service error; only failures where
// the call never completed are transport errors.
func classifyBedrockError(err error) error {
	var kind ErrorKind

	var accessDenied *types.AccessDeniedException
	var validation *types.ValidationException
	var throttling *types.ThrottlingException
	var quota *types.ServiceQuotaExceededException
	var apiErr smithy.APIError

	switch {
	case errors.As(err, &accessDenied):
		kind = ErrAuthentication
	case errors.As(err, &validation):
		kind = ErrInvalidRequest
	case errors.As(err, &throttling), errors.As(err, &quota):
		kind = ErrRateLimited
	case errors.As(err, &apiErr):
		kind = ErrService
	default:
		kind = ErrTransport
	}

	return &Error{
		Kind:     kind,
		Provider: bedrockProvider,
		Message:  err.Error(),
		Cause:    err,
	}
}

// ChatDialog produces the model's next assistant row.
func (d *BedrockDriver) ChatDialog(ctx context.Context, dialog Dialog, opts Options) (Row, error) {
	return d.converse(ctx, dialog, nil, opts, "")
}

// ChatDialogStructured steers the model toward schema-shaped JSON via a
// system block (Converse has no JSON response format) and decodes and
// validates the reply.
func (d *BedrockDriver) ChatDialogStructured(ctx context.Context, dialog Dialog, schema Schema, opts Options) (map[string]any, error) {
	row, err := d.converse(ctx, dialog, nil, opts, schemaInstruction(schema))
	if err != nil {
		return nil, err
	}
	return decodeStructured(bedrockProvider, schema, row.Text)
}

// ChatDialogWithTools validates the tool descriptors and converts them to
// Bedrock tool specifications.
func (d *BedrockDriver) ChatDialogWithTools(ctx context.Context, dialog Dialog, tools []Tool, opts Options) (Row, error) {
	if err := validateTools(bedrockProvider, tools); err != nil {
		return Row{}, err
	}
	return d.converse(ctx, dialog, tools, opts, "")
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
