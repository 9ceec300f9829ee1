// Package drivers implements the uniform chat-completion driver contract
// (SPEC_FULL.md §4.5) and its five variants: OpenAI-compatible, Bedrock,
// Vertex, native multi-vendor, and Echo (test-only). Each driver performs
// exactly one attempt and reports failure via the typed sentinel errors
// in internal/retry so the outer retry engine (internal/retry, driven
// from internal/chatpipeline) can classify and retry it — drivers never
// retry themselves.
package drivers

import (
	"context"
	"encoding/json"

	"github.com/elevatelaw/prompt-scaler/internal/prompt"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// ModelInfo is optional per-model metadata (e.g. from the LiteLLM-style
// model-info cache in internal/modelinfo) a driver may use to pick
// sensible defaults such as a max-output-token ceiling.
type ModelInfo struct {
	Name               string
	MaxInputTokens     int
	MaxOutputTokens    int
	SupportsImages     bool
}

// LlmOpts is the enumerated per-call option set (§3 LlmOpts).
type LlmOpts struct {
	MaxCompletionTokens *int
	Temperature         *float64
	TopP                *float64
	TimeoutSeconds      *int
}

// ChatResult is the successful payload of one chat-completion attempt.
type ChatResult struct {
	Response   json.RawMessage
	TokenUsage *work.TokenUsage
}

// Driver is the uniform contract every vendor adapter implements. A
// single call is a single attempt: on failure the driver returns an
// error wrapped in one of internal/retry's typed sentinels so the caller
// can classify it; the driver itself never sleeps or retries.
type Driver interface {
	// Name identifies the driver variant for logging ("openai-compatible",
	// "bedrock", "vertex", "native", "echo").
	Name() string

	ChatCompletion(
		ctx context.Context,
		model string,
		modelInfo *ModelInfo,
		rendered prompt.RenderedPrompt,
		sch schema.Schema,
		opts LlmOpts,
	) (ChatResult, error)
}
