package drivers

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/elevatelaw/prompt-scaler/internal/prompt"
	"github.com/elevatelaw/prompt-scaler/internal/retry"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// NativeDriver talks to vendor-specific chat-completion APIs (Chat
// Completions wire format, as opposed to the Responses API the
// OpenAICompatibleDriver uses) through a second, independent SDK:
// sashabaranov/go-openai. SPEC_FULL.md's DOMAIN STACK table calls for the Native variant to
// be implemented against a distinct client library rather than reusing
// openai-go/v3, so a vendor that only implements the older
// chat-completions shape (many self-hosted and third-party "OpenAI
// compatible" gateways) is exercised by code that never assumes the
// newer Responses API is present.
type NativeDriver struct {
	client *openai.Client
}

// NewNativeDriver builds a driver against apiKey, optionally pointed at a
// non-default baseURL.
func NewNativeDriver(apiKey, baseURL string) *NativeDriver {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &NativeDriver{client: openai.NewClientWithConfig(cfg)}
}

func (d *NativeDriver) Name() string { return "native" }

func (d *NativeDriver) ChatCompletion(
	ctx context.Context,
	model string,
	modelInfo *ModelInfo,
	rendered prompt.RenderedPrompt,
	sch schema.Schema,
	opts LlmOpts,
) (ChatResult, error) {
	doc, err := sch.JSONSchema()
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: fmt.Errorf("native: resolving schema: %w", err)}
	}

	messages, err := toChatCompletionMessages(rendered)
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: err}
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "structured_output",
				Schema: openai.JSONSchemaDefinition(doc),
				Strict: true,
			},
		},
	}
	if opts.MaxCompletionTokens != nil {
		req.MaxCompletionTokens = *opts.MaxCompletionTokens
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.TopP != nil {
		req.TopP = float32(*opts.TopP)
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return ChatResult{}, classifyNativeError(err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, &retry.SchemaValidationError{Err: fmt.Errorf("native: no choices in response")}
	}

	return ChatResult{
		Response: []byte(resp.Choices[0].Message.Content),
		TokenUsage: &work.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func toChatCompletionMessages(rendered prompt.RenderedPrompt) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(rendered.Messages)+1)
	if rendered.Developer != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: rendered.Developer,
		})
	}
	for _, m := range rendered.Messages {
		switch m.Role {
		case prompt.RoleUser:
			parts := make([]openai.ChatMessagePart, 0, 1+len(m.Images))
			if m.Text != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Text})
			}
			for _, dataURL := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
				})
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			})
		case prompt.RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: string(m.AssistantJSON),
			})
		default:
			return nil, fmt.Errorf("native: unknown message role %q", m.Role)
		}
	}
	return messages, nil
}

func classifyNativeError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &retry.HTTPError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	return &retry.HTTPError{Status: 0, Message: err.Error()}
}
