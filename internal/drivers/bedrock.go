package drivers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/document"

	"github.com/elevatelaw/prompt-scaler/internal/prompt"
	"github.com/elevatelaw/prompt-scaler/internal/retry"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// reportResultToolName is the single tool every Bedrock call forces the
// model to invoke; its input schema IS the caller's requested response
// schema, which is how Converse's API obtains structured output since it
// has no native JSON-schema response-format field.
const reportResultToolName = "report_result"

// BedrockDriver adapts Amazon Bedrock's Converse API to the uniform
// Driver contract via aws-sdk-go-v2, the only AWS SDK present anywhere in
// the retrieval pack. There is no teacher precedent for a Bedrock call;
// this is built directly from SPEC_FULL.md §4.5's "forced single tool
// call" strategy, following the same request/response shape the OpenAI
// driver already established.
type BedrockDriver struct {
	client *bedrockruntime.Client
}

// NewBedrockDriver builds a driver using ambient AWS credentials
// discovered the standard SDK way (environment, shared config, IAM role).
func NewBedrockDriver(ctx context.Context, region string) (*BedrockDriver, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: loading AWS config: %w", err)
	}
	return &BedrockDriver{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (d *BedrockDriver) Name() string { return "bedrock" }

func (d *BedrockDriver) ChatCompletion(
	ctx context.Context,
	model string,
	modelInfo *ModelInfo,
	rendered prompt.RenderedPrompt,
	sch schema.Schema,
	opts LlmOpts,
) (ChatResult, error) {
	doc, err := sch.JSONSchema()
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: fmt.Errorf("bedrock: resolving schema: %w", err)}
	}

	messages, err := toBedrockMessages(rendered)
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: err}
	}

	toolSpec := types.ToolSpecification{
		Name:        aws.String(reportResultToolName),
		Description: aws.String("Report the structured result of this task."),
		InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(doc)},
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
		ToolConfig: &types.ToolConfiguration{
			Tools: []types.Tool{&types.ToolMemberToolSpec{Value: toolSpec}},
			ToolChoice: &types.ToolChoiceMemberTool{
				Value: types.SpecificToolChoice{Name: aws.String(reportResultToolName)},
			},
		},
	}
	if rendered.Developer != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: rendered.Developer}}
	}
	inferenceConfig := &types.InferenceConfiguration{}
	if opts.MaxCompletionTokens != nil {
		v := int32(*opts.MaxCompletionTokens)
		inferenceConfig.MaxTokens = &v
	}
	if opts.Temperature != nil {
		v := float32(*opts.Temperature)
		inferenceConfig.Temperature = &v
	}
	if opts.TopP != nil {
		v := float32(*opts.TopP)
		inferenceConfig.TopP = &v
	}
	input.InferenceConfig = inferenceConfig

	out, err := d.client.Converse(ctx, input)
	if err != nil {
		return ChatResult{}, classifyBedrockError(err)
	}

	toolInput, err := extractToolUseInput(out)
	if err != nil {
		return ChatResult{}, &retry.SchemaValidationError{Err: err}
	}

	result := ChatResult{Response: toolInput}
	if out.Usage != nil {
		result.TokenUsage = &work.TokenUsage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return result, nil
}

func toBedrockMessages(rendered prompt.RenderedPrompt) ([]types.Message, error) {
	messages := make([]types.Message, 0, len(rendered.Messages))
	for _, m := range rendered.Messages {
		var role types.ConversationRole
		var blocks []types.ContentBlock
		switch m.Role {
		case prompt.RoleUser:
			role = types.ConversationRoleUser
			if m.Text != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Text})
			}
			for _, dataURL := range m.Images {
				mediaType, raw, err := decodeDataURL(dataURL)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, &types.ContentBlockMemberImage{
					Value: types.ImageBlock{
						Format: imageFormatFor(mediaType),
						Source: &types.ImageSourceMemberBytes{Value: raw},
					},
				})
			}
		case prompt.RoleAssistant:
			role = types.ConversationRoleAssistant
			blocks = append(blocks, &types.ContentBlockMemberText{Value: string(m.AssistantJSON)})
		default:
			return nil, fmt.Errorf("bedrock: unknown message role %q", m.Role)
		}
		messages = append(messages, types.Message{Role: role, Content: blocks})
	}
	return messages, nil
}

func extractToolUseInput(out *bedrockruntime.ConverseOutput) (json.RawMessage, error) {
	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock: response has no message output")
	}
	for _, block := range msgOutput.Value.Content {
		use, ok := block.(*types.ContentBlockMemberToolUse)
		if !ok {
			continue
		}
		// use.Value.Input is a smithy document.Interface; marshaling it
		// through encoding/json round-trips it to the plain JSON object
		// the model produced as the tool call's arguments.
		b, err := json.Marshal(use.Value.Input)
		if err != nil {
			return nil, fmt.Errorf("bedrock: marshaling tool input: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("bedrock: model did not call %s", reportResultToolName)
}

// decodeDataURL parses a "data:<mediatype>;base64,<data>" URL as produced
// by internal/prompt's imageDataURL helper.
func decodeDataURL(dataURL string) (mediaType string, raw []byte, err error) {
	const prefix = "data:"
	if !strings.HasPrefix(dataURL, prefix) {
		return "", nil, fmt.Errorf("bedrock: not a data URL")
	}
	rest := dataURL[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("bedrock: malformed data URL")
	}
	header, payload := rest[:comma], rest[comma+1:]
	mediaType = strings.TrimSuffix(header, ";base64")
	raw, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("bedrock: decoding base64 image data: %w", err)
	}
	return mediaType, raw, nil
}

func classifyBedrockError(err error) error {
	var throttling *types.ThrottlingException
	if errors.As(err, &throttling) {
		return &retry.VendorError{Code: "throttling", Message: throttling.Error()}
	}
	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return &retry.VendorError{Code: "unavailable", Message: unavailable.Error()}
	}
	var modelNotReady *types.ModelNotReadyException
	if errors.As(err, &modelNotReady) {
		return &retry.VendorError{Code: "model_not_ready", Message: modelNotReady.Error()}
	}
	var internalErr *types.InternalServerException
	if errors.As(err, &internalErr) {
		return &retry.VendorError{Code: "internal", Message: internalErr.Error()}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &retry.FatalError{Err: err}
	}
	return &retry.HTTPError{Status: 0, Message: err.Error()}
}

func imageFormatFor(mediaType string) types.ImageFormat {
	switch mediaType {
	case "image/png":
		return types.ImageFormatPng
	case "image/gif":
		return types.ImageFormatGif
	case "image/webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}
