package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	openaiProvider       = "openai"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 60 * time.Second

	// EnvOpenAIAPIKey names the environment variable consulted for the
	// bearer token when neither the driver nor the call supplies one.
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	// Keys shorter than this cannot be real; reject them before dialing.
	minPlausibleKeyLen = 8
)

// OpenAIDriver implements Driver against an OpenAI-compatible
// chat-completions endpoint. Each call is self-contained; the driver holds
// no mutable state, so one instance may be shared freely.
type OpenAIDriver struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
}

// OpenAIOption configures an OpenAIDriver.
type OpenAIOption func(*OpenAIDriver)

// WithAPIKey sets a fixed bearer token, bypassing the environment lookup.
func WithAPIKey(key string) OpenAIOption {
	return func(d *OpenAIDriver) { d.apiKey = key }
}

// WithModel sets the default model for calls that don't specify one.
func WithModel(model string) OpenAIOption {
	return func(d *OpenAIDriver) { d.model = model }
}

// WithBaseURL points the driver at a compatible alternate deployment.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(d *OpenAIDriver) { d.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(d *OpenAIDriver) { d.httpClient = c }
}

// NewOpenAIDriver creates an OpenAIDriver with the given options.
func NewOpenAIDriver(opts ...OpenAIOption) *OpenAIDriver {
	d := &OpenAIDriver{
		httpClient: &http.Client{Timeout: defaultOpenAITimeout},
		baseURL:    defaultOpenAIBaseURL,
		model:      defaultOpenAIModel,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// --- wire request types ---

type openaiRequest struct {
	Model            string                `json:"model"`
	Messages         []openaiMessage       `json:"messages"`
	Temperature      *float64              `json:"temperature,omitempty"`
	MaxTokens        *int                  `json:"max_tokens,omitempty"`
	Stream           bool                  `json:"stream"`
	ResponseFormat   *openaiResponseFormat `json:"response_format,omitempty"`
	Tools            []Tool                `json:"tools,omitempty"`
	ToolChoice       any                   `json:"tool_choice,omitempty"`
	TopP             *float64              `json:"top_p,omitempty"`
	PresencePenalty  *float64              `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64              `json:"frequency_penalty,omitempty"`
	Stop             []string              `json:"stop,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []openaiContentPart for image rows
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiResponseFormat struct {
	Type string `json:"type"`
}

// --- wire response types ---

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message      *openaiRespMsg `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type openaiRespMsg struct {
	Role         string              `json:"role"`
	Content      *string             `json:"content"`
	ToolCalls    []openaiToolCall    `json:"tool_calls,omitempty"`
	FunctionCall *openaiToolFunction `json:"function_call,omitempty"` // legacy single-call shape
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatConfig is the typed form of the per-call Options bag. Nil pointer
// fields are omitted from the payload so provider defaults apply.
type chatConfig struct {
	model            string
	baseURL          string
	temperature      *float64
	topP             *float64
	presencePenalty  *float64
	frequencyPenalty *float64
	maxTokens        *int
	stop             []string
	responseFormat   string
	toolChoice       any
}

// newChatConfig normalizes Options into a chatConfig. Unrecognized keys
// are ignored.
func (d *OpenAIDriver) newChatConfig(opts Options) chatConfig {
	cfg := chatConfig{
		model:   d.model,
		baseURL: d.baseURL,
	}
	if model, ok := opts.String(OptModel); ok {
		cfg.model = model
	}
	if baseURL, ok := opts.String(OptBaseURL); ok {
		cfg.baseURL = strings.TrimRight(baseURL, "/")
	}
	if v, ok := opts.Float64(OptTemperature); ok {
		cfg.temperature = &v
	}
	if v, ok := opts.Float64(OptTopP); ok {
		cfg.topP = &v
	}
	if v, ok := opts.Float64(OptPresencePenalty); ok {
		cfg.presencePenalty = &v
	}
	if v, ok := opts.Float64(OptFrequencyPenalty); ok {
		cfg.frequencyPenalty = &v
	}
	if v, ok := opts.Int(OptMaxTokens); ok {
		cfg.maxTokens = &v
	}
	if stop, ok := opts.Strings(OptStop); ok {
		cfg.stop = stop
	}
	if format, ok := opts.String(OptResponseFormat); ok {
		cfg.responseFormat = format
	}
	if choice, ok := opts[OptToolChoice]; ok {
		cfg.toolChoice = choice
	}
	return cfg
}

// resolveAPIKey resolves the bearer token at call time: per-call option,
// then constructor value, then environment. Resolving at call time lets a
// test swap credentials between calls.
func (d *OpenAIDriver) resolveAPIKey(opts Options) (string, error) {
	key, ok := opts.String(OptAPIKey)
	if !ok {
		key = d.apiKey
	}
	if key == "" {
		key = os.Getenv(EnvOpenAIAPIKey)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", &Error{Kind: ErrAuthentication, Provider: openaiProvider, Message: "no API key configured"}
	}
	if len(key) < minPlausibleKeyLen {
		return "", &Error{Kind: ErrAuthentication, Provider: openaiProvider, Message: "API key is implausibly short"}
	}
	return key, nil
}

// buildMessages maps visible rows to wire messages. Hidden rows are
// skipped; unknown roles fall back to user; rows with images become
// content-part arrays. extraSystem carries steering text that must reach
// the model without living in the Dialog; it leads the message list.
func buildMessages(dialog Dialog, extraSystem string) []openaiMessage {
	messages := make([]openaiMessage, 0, len(dialog.Rows)+1)
	if extraSystem != "" {
		messages = append(messages, openaiMessage{Role: string(RoleSystem), Content: extraSystem})
	}
	for _, row := range dialog.Rows {
		if row.Hidden() {
			continue
		}
		msg := openaiMessage{Role: wireRole(row.Role)}
		if len(row.Images) > 0 {
			parts := make([]openaiContentPart, 0, len(row.Images)+1)
			parts = append(parts, openaiContentPart{Type: "text", Text: row.Text})
			for _, url := range row.Images {
				parts = append(parts, openaiContentPart{Type: "image_url", ImageURL: &openaiImageURL{URL: url}})
			}
			msg.Content = parts
		} else {
			msg.Content = row.Text
		}
		messages = append(messages, msg)
	}
	return messages
}

func wireRole(role Role) string {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return string(role)
	default:
		return string(RoleUser)
	}
}

// complete issues one chat-completions call and maps the response to an
// assistant Row.
func (d *OpenAIDriver) complete(ctx context.Context, dialog Dialog, tools []Tool, opts Options, extraSystem string) (Row, error) {
	cfg := d.newChatConfig(opts)
	key, err := d.resolveAPIKey(opts)
	if err != nil {
		return Row{}, err
	}

	req := openaiRequest{
		Model:            cfg.model,
		Messages:         buildMessages(dialog, extraSystem),
		Temperature:      cfg.temperature,
		MaxTokens:        cfg.maxTokens,
		TopP:             cfg.topP,
		PresencePenalty:  cfg.presencePenalty,
		FrequencyPenalty: cfg.frequencyPenalty,
		Stop:             cfg.stop,
		Tools:            tools,
		ToolChoice:       cfg.toolChoice,
	}
	if cfg.responseFormat != "" {
		req.ResponseFormat = &openaiResponseFormat{Type: cfg.responseFormat}
	}

	resp, err := d.do(ctx, cfg.baseURL, key, req)
	if err != nil {
		return Row{}, err
	}
	return buildAssistantRow(resp)
}

func (d *OpenAIDriver) do(ctx context.Context, baseURL, key string, req openaiRequest) (*openaiResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidRequest, Provider: openaiProvider, Message: "failed to marshal request", Cause: err}
	}

	endpoint := baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: ErrInvalidRequest, Provider: openaiProvider, Message: "failed to build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	httpResp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Provider: openaiProvider, Message: "request did not complete", Cause: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Provider: openaiProvider, Message: "failed to read response body", Cause: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, statusError(openaiProvider, httpResp.StatusCode, body)
	}

	var resp openaiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: ErrService, Provider: openaiProvider, Message: "failed to decode response body", Cause: err, Raw: body}
	}
	return &resp, nil
}

// buildAssistantRow maps a decoded wire response to an assistant Row.
// Missing choices or a missing message body is a service error; a missing
// content field becomes text "" so tool-only replies round-trip.
func buildAssistantRow(resp *openaiResponse) (Row, error) {
	if len(resp.Choices) == 0 {
		return Row{}, &Error{Kind: ErrService, Provider: openaiProvider, Message: "response has no choices"}
	}
	choice := resp.Choices[0]
	if choice.Message == nil {
		return Row{}, &Error{Kind: ErrService, Provider: openaiProvider, Message: "response choice has no message"}
	}

	text := ""
	if choice.Message.Content != nil {
		text = *choice.Message.Content
	}

	md := RowMetadata{
		Usage: &TokenUsage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		Extra: map[string]any{
			"model":         resp.Model,
			"completion_id": resp.ID,
			"finish_reason": choice.FinishReason,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		md.FunctionCalls = append(md.FunctionCalls, FunctionCall{
			Name:         tc.Function.Name,
			Parameters:   parseCallArguments(tc.Function.Arguments),
			CompletionID: resp.ID,
			FinishReason: choice.FinishReason,
		})
	}
	if len(choice.Message.ToolCalls) == 0 && choice.Message.FunctionCall != nil {
		md.FunctionCalls = append(md.FunctionCalls, FunctionCall{
			Name:         choice.Message.FunctionCall.Name,
			Parameters:   parseCallArguments(choice.Message.FunctionCall.Arguments),
			CompletionID: resp.ID,
			FinishReason: choice.FinishReason,
		})
	}

	return NewRow(RoleAssistant, text, WithRowMetadata(md)), nil
}

// parseCallArguments decodes a serialized argument blob. A parse failure
// substitutes a diagnostic placeholder so one bad blob cannot void an
// otherwise-successful response.
func parseCallArguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return map[string]any{
			"error": err.Error(),
			"raw":   raw,
		}
	}
	return params
}

// ChatDialog produces the model's next assistant row.
func (d *OpenAIDriver) ChatDialog(ctx context.Context, dialog Dialog, opts Options) (Row, error) {
	return d.complete(ctx, dialog, nil, opts, "")
}

// ChatDialogStructured forces JSON-object output, steers the model toward
// the schema's fields via a system message that never enters the Dialog,
// and decodes and validates the reply.
func (d *OpenAIDriver) ChatDialogStructured(ctx context.Context, dialog Dialog, schema Schema, opts Options) (map[string]any, error) {
	row, err := d.complete(ctx, dialog, nil, opts.with(OptResponseFormat, "json_object"), schemaInstruction(schema))
	if err != nil {
		return nil, err
	}
	return decodeStructured(openaiProvider, schema, row.Text)
}

// ChatDialogWithTools validates the tool descriptors and sends them
// verbatim. A descriptor failing validation is rejected before any network
// call.
func (d *OpenAIDriver) ChatDialogWithTools(ctx context.Context, dialog Dialog, tools []Tool, opts Options) (Row, error) {
	if err := validateTools(openaiProvider, tools); err != nil {
		return Row{}, err
	}
	return d.complete(ctx, dialog, tools, opts, "")
}
