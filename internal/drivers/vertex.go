package drivers

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/elevatelaw/prompt-scaler/internal/prompt"
	"github.com/elevatelaw/prompt-scaler/internal/retry"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// VertexDriver adapts Google's Vertex AI (Gemini) models via
// google.golang.org/genai, the only Google SDK in the retrieval pack. It
// uses genai's native ResponseSchema/ResponseMIMEType config for
// structured output, mirroring the OpenAI driver's JSON-schema-mode
// approach rather than Bedrock's forced-tool-call workaround, since genai
// exposes a first-class schema field.
type VertexDriver struct {
	client *genai.Client
}

// NewVertexDriver builds a driver against the given GCP project/location
// using Application Default Credentials, the standard genai client setup.
func NewVertexDriver(ctx context.Context, project, location string) (*VertexDriver, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex: creating genai client: %w", err)
	}
	return &VertexDriver{client: client}, nil
}

func (d *VertexDriver) Name() string { return "vertex" }

func (d *VertexDriver) ChatCompletion(
	ctx context.Context,
	model string,
	modelInfo *ModelInfo,
	rendered prompt.RenderedPrompt,
	sch schema.Schema,
	opts LlmOpts,
) (ChatResult, error) {
	doc, err := sch.JSONSchema()
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: fmt.Errorf("vertex: resolving schema: %w", err)}
	}
	responseSchema, err := toGenaiSchema(doc)
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: err}
	}

	contents, err := toGenaiContents(rendered)
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: err}
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
	}
	if rendered.Developer != "" {
		config.SystemInstruction = genai.NewContentFromText(rendered.Developer, genai.RoleUser)
	}
	if opts.MaxCompletionTokens != nil {
		config.MaxOutputTokens = int32(*opts.MaxCompletionTokens)
	}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		config.Temperature = &t
	}
	if opts.TopP != nil {
		p := float32(*opts.TopP)
		config.TopP = &p
	}

	resp, err := d.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return ChatResult{}, classifyVertexError(err)
	}
	if len(resp.Candidates) == 0 {
		return ChatResult{}, &retry.SchemaValidationError{Err: fmt.Errorf("vertex: no candidates in response")}
	}

	result := ChatResult{Response: []byte(resp.Text())}
	if resp.UsageMetadata != nil {
		result.TokenUsage = &work.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

// toGenaiContents maps a RenderedPrompt onto genai's Content/Part model.
func toGenaiContents(rendered prompt.RenderedPrompt) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(rendered.Messages))
	for _, m := range rendered.Messages {
		var role genai.Role
		var parts []*genai.Part
		switch m.Role {
		case prompt.RoleUser:
			role = genai.RoleUser
			if m.Text != "" {
				parts = append(parts, genai.NewPartFromText(m.Text))
			}
			for _, dataURL := range m.Images {
				mediaType, raw, err := decodeDataURL(dataURL)
				if err != nil {
					return nil, err
				}
				parts = append(parts, genai.NewPartFromBytes(raw, mediaType))
			}
		case prompt.RoleAssistant:
			role = genai.RoleModel
			parts = append(parts, genai.NewPartFromText(string(m.AssistantJSON)))
		default:
			return nil, fmt.Errorf("vertex: unknown message role %q", m.Role)
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

// toGenaiSchema translates a resolved JSON Schema document (already
// strict-mode shaped by internal/schema) into genai's own Schema struct,
// which genai requires instead of accepting a raw JSON Schema document.
func toGenaiSchema(doc map[string]any) (*genai.Schema, error) {
	typ, _ := doc["type"].(string)
	s := &genai.Schema{Type: genaiType(typ)}
	if desc, ok := doc["description"].(string); ok {
		s.Description = desc
	}
	switch typ {
	case "object":
		props, _ := doc["properties"].(map[string]any)
		s.Properties = make(map[string]*genai.Schema, len(props))
		required := make([]string, 0, len(props))
		for name, raw := range props {
			child, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("vertex: malformed schema property %q", name)
			}
			childSchema, err := toGenaiSchema(child)
			if err != nil {
				return nil, err
			}
			s.Properties[name] = childSchema
			required = append(required, name)
		}
		s.Required = required
	case "array":
		items, ok := doc["items"].(map[string]any)
		if ok {
			childSchema, err := toGenaiSchema(items)
			if err != nil {
				return nil, err
			}
			s.Items = childSchema
		}
	}
	if enumRaw, ok := doc["enum"].([]any); ok {
		enum := make([]string, 0, len(enumRaw))
		for _, v := range enumRaw {
			if s, ok := v.(string); ok {
				enum = append(enum, s)
			}
		}
		s.Enum = enum
	}
	return s, nil
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func classifyVertexError(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "429"):
		return &retry.VendorError{Code: "throttling", Message: msg}
	case strings.Contains(lower, "unavailable") || strings.Contains(lower, "503"):
		return &retry.VendorError{Code: "unavailable", Message: msg}
	case strings.Contains(lower, "deadline") || strings.Contains(lower, "504"):
		return &retry.VendorError{Code: "timeout", Message: msg}
	case strings.Contains(lower, "internal") || strings.Contains(lower, "500"):
		return &retry.VendorError{Code: "internal", Message: msg}
	default:
		return &retry.FatalError{Err: err}
	}
}
