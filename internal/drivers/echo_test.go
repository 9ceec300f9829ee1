package drivers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/elevatelaw/prompt-scaler/internal/prompt"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
)

func echoSchema() schema.Schema {
	return schema.Internal(&schema.Node{
		Type: "object",
		Properties: map[string]*schema.Node{
			"echo": {Type: "string"},
		},
	})
}

func TestEchoDriver_EchoesLastUserMessage(t *testing.T) {
	d := EchoDriver{}
	rendered := prompt.RenderedPrompt{
		Messages: []prompt.Message{
			{Role: prompt.RoleUser, Text: "first"},
			{Role: prompt.RoleAssistant, AssistantJSON: []byte(`{}`)},
			{Role: prompt.RoleUser, Text: "second"},
		},
	}

	result, err := d.ChatCompletion(context.Background(), "echo-model", nil, rendered, echoSchema(), LlmOpts{})
	if err != nil {
		t.Fatalf("ChatCompletion returned error: %v", err)
	}
	if result.TokenUsage != nil {
		t.Fatalf("got TokenUsage %+v, want nil", result.TokenUsage)
	}

	var got map[string]string
	if err := json.Unmarshal(result.Response, &got); err != nil {
		t.Fatalf("response not valid JSON: %v", err)
	}
	if got["echo"] != "second" {
		t.Fatalf("got echo %q, want %q", got["echo"], "second")
	}
}

func TestEchoDriver_RejectsWrongSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema schema.Schema
	}{
		{"two properties", schema.Internal(&schema.Node{
			Type: "object",
			Properties: map[string]*schema.Node{
				"echo":  {Type: "string"},
				"extra": {Type: "string"},
			},
		})},
		{"wrong name", schema.Internal(&schema.Node{
			Type:       "object",
			Properties: map[string]*schema.Node{"message": {Type: "string"}},
		})},
		{"wrong type", schema.Internal(&schema.Node{
			Type:       "object",
			Properties: map[string]*schema.Node{"echo": {Type: "integer"}},
		})},
		{"not an object", schema.Internal(&schema.Node{Type: "string"})},
	}

	d := EchoDriver{}
	rendered := prompt.RenderedPrompt{Messages: []prompt.Message{{Role: prompt.RoleUser, Text: "hi"}}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.ChatCompletion(context.Background(), "m", nil, rendered, tt.schema, LlmOpts{}); err == nil {
				t.Fatalf("expected a schema validation error, got nil")
			}
		})
	}
}

func TestEchoDriver_NoUserMessageIsFatal(t *testing.T) {
	d := EchoDriver{}
	rendered := prompt.RenderedPrompt{Messages: []prompt.Message{{Role: prompt.RoleAssistant, AssistantJSON: []byte(`{}`)}}}
	if _, err := d.ChatCompletion(context.Background(), "m", nil, rendered, echoSchema(), LlmOpts{}); err == nil {
		t.Fatalf("expected an error when no user message is present")
	}
}
