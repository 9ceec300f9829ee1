package drivers

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/elevatelaw/prompt-scaler/internal/prompt"
	"github.com/elevatelaw/prompt-scaler/internal/retry"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// OpenAICompatibleDriver talks to any OpenAI-compatible Responses endpoint
// (OpenAI itself, or a self-hosted gateway using the same wire format).
// Grounded on the teacher's internal/llm/openai.go, which called
// client.Responses.New with a single fixed parsedDocumentSchema; here the
// schema, model, and rendered prompt are all parameters of a single
// uniform call instead of baked into one document-parsing function.
type OpenAICompatibleDriver struct {
	client  openai.Client
	baseURL string
}

// NewOpenAICompatibleDriver builds a driver against apiKey, optionally
// pointed at a non-default baseURL (self-hosted gateways).
func NewOpenAICompatibleDriver(apiKey, baseURL string) *OpenAICompatibleDriver {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompatibleDriver{client: openai.NewClient(opts...), baseURL: baseURL}
}

func (d *OpenAICompatibleDriver) Name() string { return "openai-compatible" }

func (d *OpenAICompatibleDriver) ChatCompletion(
	ctx context.Context,
	model string,
	modelInfo *ModelInfo,
	rendered prompt.RenderedPrompt,
	sch schema.Schema,
	opts LlmOpts,
) (ChatResult, error) {
	doc, err := sch.JSONSchema()
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: fmt.Errorf("openai: resolving schema: %w", err)}
	}

	input, err := toResponsesInput(rendered)
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: err}
	}

	params := responses.ResponseNewParams{
		Model: responses.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: input},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigParamOfJSONSchema("structured_output", doc),
		},
	}
	if rendered.Developer != "" {
		params.Instructions = openai.String(rendered.Developer)
	}
	if opts.MaxCompletionTokens != nil {
		params.MaxOutputTokens = openai.Int(int64(*opts.MaxCompletionTokens))
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = openai.Float(*opts.TopP)
	}

	resp, err := d.client.Responses.New(ctx, params)
	if err != nil {
		return ChatResult{}, classifyOpenAIError(err)
	}

	result := ChatResult{Response: []byte(resp.OutputText())}
	if resp.Usage.InputTokens != 0 || resp.Usage.OutputTokens != 0 {
		result.TokenUsage = &work.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		}
	}
	return result, nil
}

// toResponsesInput maps a RenderedPrompt's alternating user/assistant
// messages onto the Responses API's input-item list, attaching images as
// input_image parts on user messages.
func toResponsesInput(rendered prompt.RenderedPrompt) (responses.ResponseInputParam, error) {
	items := make(responses.ResponseInputParam, 0, len(rendered.Messages))
	for _, m := range rendered.Messages {
		switch m.Role {
		case prompt.RoleUser:
			content := make(responses.ResponseInputMessageContentListParam, 0, 1+len(m.Images))
			if m.Text != "" {
				content = append(content, responses.ResponseInputContentParamOfInputText(m.Text))
			}
			for _, dataURL := range m.Images {
				content = append(content, responses.ResponseInputContentUnionParam{
					OfInputImage: &responses.ResponseInputImageParam{
						ImageURL: openai.String(dataURL),
					},
				})
			}
			items = append(items, responses.ResponseInputItemParamOfMessage(content, "user"))
		case prompt.RoleAssistant:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				responses.ResponseInputMessageContentListParam{
					responses.ResponseInputContentParamOfInputText(string(m.AssistantJSON)),
				},
				"assistant",
			))
		default:
			return nil, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}
	return items, nil
}

// classifyOpenAIError wraps an openai-go error in the retry package's
// typed sentinels so internal/retry.Classify can make the transient/fatal
// call without substring matching, replacing the teacher's approach of
// letting every API error propagate unclassified.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &retry.HTTPError{Status: apiErr.StatusCode, Message: apiErr.Message}
	}
	return &retry.HTTPError{Status: 0, Message: err.Error()}
}
