package drivers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elevatelaw/prompt-scaler/internal/prompt"
	"github.com/elevatelaw/prompt-scaler/internal/retry"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
)

// EchoDriver is the deterministic test-only harness driver (§4.5): it
// validates the schema is a single-object {echo: string} and returns
// {"echo": last_user_text}, with zero token usage. Grounded literally on
// original_source/src/drivers/echo.rs.
type EchoDriver struct{}

func (EchoDriver) Name() string { return "echo" }

func (EchoDriver) ChatCompletion(
	ctx context.Context,
	model string,
	modelInfo *ModelInfo,
	rendered prompt.RenderedPrompt,
	sch schema.Schema,
	opts LlmOpts,
) (ChatResult, error) {
	if err := validateEchoSchema(sch); err != nil {
		return ChatResult{}, &retry.FatalError{Err: err}
	}

	text, ok := lastUserText(rendered)
	if !ok {
		return ChatResult{}, &retry.FatalError{Err: fmt.Errorf("echo driver: no user message found in rendered prompt")}
	}

	response, err := json.Marshal(map[string]string{"echo": text})
	if err != nil {
		return ChatResult{}, &retry.FatalError{Err: err}
	}

	return ChatResult{Response: response, TokenUsage: nil}, nil
}

func validateEchoSchema(sch schema.Schema) error {
	doc, err := sch.JSONSchema()
	if err != nil {
		return fmt.Errorf("echo driver: resolving schema: %w", err)
	}
	if doc["type"] != "object" {
		return fmt.Errorf("echo driver: schema must be type=object")
	}
	props, _ := doc["properties"].(map[string]any)
	if len(props) != 1 {
		return fmt.Errorf("echo driver: schema must have exactly one property, got %d", len(props))
	}
	echoProp, ok := props["echo"].(map[string]any)
	if !ok {
		return fmt.Errorf("echo driver: schema's single property must be named 'echo'")
	}
	if echoProp["type"] != "string" {
		return fmt.Errorf("echo driver: 'echo' property must be type=string")
	}
	return nil
}

func lastUserText(rendered prompt.RenderedPrompt) (string, bool) {
	for i := len(rendered.Messages) - 1; i >= 0; i-- {
		m := rendered.Messages[i]
		if m.Role == prompt.RoleUser && m.Text != "" {
			return m.Text, true
		}
	}
	return "", false
}
