package chatpipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/elevatelaw/prompt-scaler/internal/drivers"
	"github.com/elevatelaw/prompt-scaler/internal/prompt"
	"github.com/elevatelaw/prompt-scaler/internal/retry"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// fakeDriver is a single-attempt stub satisfying drivers.Driver, used so
// these tests never make a real vendor call.
type fakeDriver struct {
	calls    int
	response json.RawMessage
	err      error
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) ChatCompletion(ctx context.Context, model string, info *drivers.ModelInfo, rendered prompt.RenderedPrompt, sch schema.Schema, opts drivers.LlmOpts) (drivers.ChatResult, error) {
	f.calls++
	if f.err != nil {
		return drivers.ChatResult{}, f.err
	}
	return drivers.ChatResult{Response: f.response}, nil
}

func testTemplate() *prompt.PromptTemplate {
	return &prompt.PromptTemplate{
		Messages: []prompt.MessageTemplate{
			{Role: prompt.RoleUser, TextTemplate: "{{.question}}"},
		},
	}
}

func testSchema() schema.Schema {
	return schema.Internal(&schema.Node{
		Type:       "object",
		Properties: map[string]*schema.Node{"answer": {Type: "string"}},
	})
}

func TestPipeline_Process_Ok(t *testing.T) {
	driver := &fakeDriver{response: json.RawMessage(`{"answer":"42"}`)}
	compiled, err := schema.Compile(testSchema())
	if err != nil {
		t.Fatalf("schema.Compile: %v", err)
	}
	p := &Pipeline{Template: testTemplate(), Model: "m", Driver: driver, Schema: testSchema(), Compiled: compiled}

	out := p.Process(context.Background(), work.WorkInput[ChatInput]{
		ID:   json.RawMessage(`"1"`),
		Data: ChatInput{Bindings: map[string]any{"question": "what is it"}},
	})

	if out.Status != work.StatusOk {
		t.Fatalf("got status %v, errors %v", out.Status, out.Errors)
	}
	if string(out.Data.Response) != `{"answer":"42"}` {
		t.Fatalf("got response %s", out.Data.Response)
	}
	if driver.calls != 1 {
		t.Fatalf("got %d driver calls, want 1", driver.calls)
	}
}

func TestPipeline_Process_SkipsProcessing(t *testing.T) {
	driver := &fakeDriver{}
	p := &Pipeline{Template: testTemplate(), Model: "m", Driver: driver, Schema: testSchema()}

	out := p.Process(context.Background(), work.WorkInput[ChatInput]{
		ID:   json.RawMessage(`"1"`),
		Data: ChatInput{SkipProcessing: true, PassthroughData: json.RawMessage(`{"k":"v"}`)},
	})

	if out.Status != work.StatusSkipped {
		t.Fatalf("got status %v, want skipped", out.Status)
	}
	if driver.calls != 0 {
		t.Fatalf("got %d driver calls, want 0 for a skipped input", driver.calls)
	}
	if string(out.PassthroughData) != `{"k":"v"}` {
		t.Fatalf("got passthrough %s", out.PassthroughData)
	}
}

func TestPipeline_Process_SchemaValidationFailureIsRetriedThenFails(t *testing.T) {
	driver := &fakeDriver{response: json.RawMessage(`{"answer":123}`)} // wrong type
	compiled, err := schema.Compile(testSchema())
	if err != nil {
		t.Fatalf("schema.Compile: %v", err)
	}
	p := &Pipeline{Template: testTemplate(), Model: "m", Driver: driver, Schema: testSchema(), Compiled: compiled}

	out := p.Process(context.Background(), work.WorkInput[ChatInput]{
		ID:   json.RawMessage(`"1"`),
		Data: ChatInput{Bindings: map[string]any{"question": "what is it"}},
	})

	if out.Status != work.StatusFailed {
		t.Fatalf("got status %v, want failed", out.Status)
	}
	if driver.calls != 6 {
		t.Fatalf("got %d driver calls, want exactly 6 (schema errors are transient: 1 attempt + 5 retries)", driver.calls)
	}
}

func TestPipeline_Process_RenderErrorIsFailed(t *testing.T) {
	driver := &fakeDriver{}
	badTemplate := &prompt.PromptTemplate{
		Messages: []prompt.MessageTemplate{{Role: prompt.RoleUser, TextTemplate: "{{.missing.nested}}"}},
	}
	p := &Pipeline{Template: badTemplate, Model: "m", Driver: driver, Schema: testSchema()}

	out := p.Process(context.Background(), work.WorkInput[ChatInput]{
		ID:   json.RawMessage(`"1"`),
		Data: ChatInput{Bindings: map[string]any{}},
	})

	if out.Status != work.StatusFailed {
		t.Fatalf("got status %v, want failed", out.Status)
	}
	if driver.calls != 0 {
		t.Fatalf("got %d driver calls, want 0 (render fails before any call)", driver.calls)
	}
}

func TestPipeline_Process_DriverFatalErrorNeverRetries(t *testing.T) {
	driver := &fakeDriver{err: &retry.FatalError{Err: errors.New("bad api key")}}
	p := &Pipeline{Template: testTemplate(), Model: "m", Driver: driver, Schema: testSchema()}

	out := p.Process(context.Background(), work.WorkInput[ChatInput]{
		ID:   json.RawMessage(`"1"`),
		Data: ChatInput{Bindings: map[string]any{"question": "hi"}},
	})

	if out.Status != work.StatusFailed {
		t.Fatalf("got status %v, want failed", out.Status)
	}
	if driver.calls != 1 {
		t.Fatalf("got %d driver calls, want 1 (fatal errors are never retried)", driver.calls)
	}
}
