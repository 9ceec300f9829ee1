// Package work defines the envelope types shared by the work queue,
// retry engine, and both pipelines: WorkInput, WorkOutput, and the status
// enumeration they carry.
package work

import "encoding/json"

// Status is the outcome enumeration attached to every WorkOutput. The
// wire values are exactly "ok", "incomplete", "skipped", "failed" per the
// stable record schema.
type Status string

const (
	StatusOk         Status = "ok"
	StatusIncomplete Status = "incomplete"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// TokenUsage is the {prompt, completion} pair reported by a driver or
// summed across an OCR document's pages.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add returns the element-wise sum of two token usages, treating a nil
// operand as zero.
func (t *TokenUsage) Add(other *TokenUsage) *TokenUsage {
	if other == nil {
		return t
	}
	if t == nil {
		cp := *other
		return &cp
	}
	return &TokenUsage{
		PromptTokens:     t.PromptTokens + other.PromptTokens,
		CompletionTokens: t.CompletionTokens + other.CompletionTokens,
	}
}

// WorkInput is the envelope `{id, data}` submitted to a work queue. The id
// is opaque JSON and is never interpreted by the core; it is threaded
// through to the matching WorkOutput unchanged.
type WorkInput[T any] struct {
	ID   json.RawMessage
	Data T
}

// WorkOutput is the envelope produced for every WorkInput. Invariant:
// Status == StatusOk implies Data is populated; Status == StatusFailed
// means Data is a best-effort placeholder only.
type WorkOutput[T any] struct {
	ID             json.RawMessage
	Status         Status
	Errors         []string
	EstimatedCost  *float64
	TokenUsage     *TokenUsage
	Data           T
	PassthroughData json.RawMessage
}

// Failed constructs a WorkOutput in the Failed state carrying the given
// error history and a zero-value Data placeholder.
func Failed[T any](id json.RawMessage, errs []string) WorkOutput[T] {
	var zero T
	return WorkOutput[T]{ID: id, Status: StatusFailed, Errors: errs, Data: zero}
}
