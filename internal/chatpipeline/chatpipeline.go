// Package chatpipeline implements the per-input chat pipeline
// (SPEC_FULL.md §4.9): render the prompt, retry the driver call under the
// rate limiter, validate the response against the schema, and map the
// retry.Outcome onto a work.WorkOutput. Grounded on the teacher's
// internal/llm.ParseDocument/ParsePDFPage call shape (render a prompt,
// call a single vendor, unmarshal a structured JSON response), here
// generalized across drivers and wrapped in the retry engine instead of
// calling the vendor directly.
package chatpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elevatelaw/prompt-scaler/internal/drivers"
	"github.com/elevatelaw/prompt-scaler/internal/logger"
	"github.com/elevatelaw/prompt-scaler/internal/prompt"
	"github.com/elevatelaw/prompt-scaler/internal/ratelimit"
	"github.com/elevatelaw/prompt-scaler/internal/retry"
	"github.com/elevatelaw/prompt-scaler/internal/schema"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// ChatInput is the chat input record (§6.2): an opaque set of template
// bindings plus the two control fields.
type ChatInput struct {
	SkipProcessing  bool
	PassthroughData json.RawMessage
	Bindings        map[string]any
}

// ChatOutput is the chat output record's Data payload (§6.2); the
// envelope fields (status, errors, etc.) live on work.WorkOutput itself.
type ChatOutput struct {
	Response   json.RawMessage
	TokenUsage *work.TokenUsage
}

// Pipeline holds everything a chat work-queue's workFn needs to process
// one input end to end.
type Pipeline struct {
	Template *prompt.PromptTemplate
	Model    string
	Driver   drivers.Driver
	ModelInfo *drivers.ModelInfo
	Schema   schema.Schema
	Compiled *schema.Compiled
	Opts     drivers.LlmOpts
	Limiter  *ratelimit.Limiter // nil means no rate limiting
	Log      logger.Logger
}

// Process implements §4.9 steps 1-5 for a single input.
func (p *Pipeline) Process(ctx context.Context, input work.WorkInput[ChatInput]) work.WorkOutput[ChatOutput] {
	if input.Data.SkipProcessing {
		return work.WorkOutput[ChatOutput]{
			ID:              input.ID,
			Status:          work.StatusSkipped,
			PassthroughData: input.Data.PassthroughData,
		}
	}

	rendered, err := p.Template.Render(input.Data.Bindings)
	if err != nil {
		return work.WorkOutput[ChatOutput]{
			ID:              input.ID,
			Status:          work.StatusFailed,
			Errors:          []string{fmt.Sprintf("rendering prompt: %v", err)},
			PassthroughData: input.Data.PassthroughData,
		}
	}
	// input.Data.Bindings is not referenced again; it may carry large
	// image data URLs and is free to be collected once rendered exists.

	counter := &retry.AttemptCounter{}
	outcome := retry.Run(ctx, counter, func(ctx context.Context, attempt int) (ChatOutput, error) {
		if p.Limiter != nil {
			if err := p.Limiter.Acquire(ctx); err != nil {
				return ChatOutput{}, &retry.FatalError{Err: err}
			}
		}
		if p.Opts.TimeoutSeconds != nil {
			// An elapsed per-call timeout surfaces as context.DeadlineExceeded,
			// which retry.Classify treats as transient.
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(*p.Opts.TimeoutSeconds)*time.Second)
			defer cancel()
		}
		result, err := p.Driver.ChatCompletion(ctx, p.Model, p.ModelInfo, rendered, p.Schema, p.Opts)
		if err != nil {
			return ChatOutput{}, err
		}
		if p.Compiled != nil {
			if err := p.Compiled.Validate(result.Response); err != nil {
				return ChatOutput{}, &retry.SchemaValidationError{Err: err}
			}
		}
		return ChatOutput{Response: result.Response, TokenUsage: result.TokenUsage}, nil
	}, retry.Classify)

	return toWorkOutput(input.ID, input.Data.PassthroughData, outcome)
}

func toWorkOutput(id, passthrough json.RawMessage, outcome retry.Outcome[ChatOutput]) work.WorkOutput[ChatOutput] {
	ok, errs := outcome.StatusErrors()
	out := work.WorkOutput[ChatOutput]{
		ID:              id,
		Errors:          errs,
		PassthroughData: passthrough,
		Data:            outcome.Value,
		TokenUsage:      outcome.Value.TokenUsage,
	}
	if ok {
		out.Status = work.StatusOk
	} else {
		out.Status = work.StatusFailed
	}
	return out
}
