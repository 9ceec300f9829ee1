// Package models defines the stable wire-format records read from and
// written to JSONL/CSV input and output files (SPEC_FULL.md §6.2),
// distinct from the internal pipeline types in internal/chatpipeline and
// internal/ocrpipeline: these carry json tags for the exact wire shape,
// while the internal types carry only what a pipeline needs to run.
package models

import "encoding/json"

// ChatInputRecord is one line of a chat-batch JSONL/CSV input file. Any
// field not named here is treated as a template binding.
type ChatInputRecord struct {
	ID              json.RawMessage `json:"id"`
	SkipProcessing  bool            `json:"skip_processing,omitempty"`
	PassthroughData json.RawMessage `json:"passthrough_data,omitempty"`
	Bindings        map[string]any  `json:"-"`
}

// ChatOutputRecord is one line of a chat-batch JSONL/CSV output file.
type ChatOutputRecord struct {
	ID              json.RawMessage  `json:"id"`
	Status          string           `json:"status"`
	Errors          []string         `json:"errors"`
	EstimatedCost   *float64         `json:"estimated_cost,omitempty"`
	TokenUsage      *TokenUsage      `json:"token_usage,omitempty"`
	Response        json.RawMessage  `json:"response,omitempty"`
	PassthroughData json.RawMessage  `json:"passthrough_data,omitempty"`
}

// TokenUsage mirrors internal/work.TokenUsage with json tags for the wire
// format.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// OcrInputRecord is one line of an OCR-batch JSONL/CSV input file.
type OcrInputRecord struct {
	ID       json.RawMessage `json:"id"`
	Path     string          `json:"path"`
	Password string          `json:"password,omitempty"`
}

// OcrOutputRecord is one line of an OCR-batch JSONL output file. The CSV
// form drops TokenUsage/EstimatedCost/Analysis and joins Errors with
// "\n\n" (SPEC_FULL.md §6.2); ToCSVRow produces that form.
type OcrOutputRecord struct {
	ID            json.RawMessage `json:"id"`
	Status        string          `json:"status"`
	Errors        []string        `json:"errors"`
	EstimatedCost *float64        `json:"estimated_cost,omitempty"`
	TokenUsage    *TokenUsage     `json:"token_usage,omitempty"`
	Path          string          `json:"path"`
	Text          string          `json:"text,omitempty"`
	PageCount     int             `json:"page_count,omitempty"`
	Analysis      *OcrAnalysis    `json:"analysis,omitempty"`
}

// OcrAnalysis is the wire form of internal/ocrpipeline.OcrAnalysis
// (supplemented feature).
type OcrAnalysis struct {
	HasHandwriting bool          `json:"has_handwriting"`
	HasSignature   bool          `json:"has_signature"`
	HasStamp       bool          `json:"has_stamp"`
	HasWatermark   bool          `json:"has_watermark"`
	IsBlank        bool          `json:"is_blank"`
	IsRotated      bool          `json:"is_rotated"`
	ImageSources   []ImageSource `json:"image_sources,omitempty"`
}

// ImageSource is the wire form of internal/ocrpipeline.ImageSource.
type ImageSource struct {
	Description string      `json:"description"`
	BoundingBox *[4]float64 `json:"bounding_box,omitempty"`
}

// ToCSVRow flattens an OcrOutputRecord the way the original
// implementation's to_csv_row did: errors joined with "\n\n",
// token_usage/estimated_cost/analysis dropped since CSV has no
// nested-object cells (SPEC_FULL.md SUPPLEMENTED FEATURES).
func (r OcrOutputRecord) ToCSVRow() map[string]string {
	errs := ""
	for i, e := range r.Errors {
		if i > 0 {
			errs += "\n\n"
		}
		errs += e
	}
	return map[string]string{
		"id":     string(r.ID),
		"status": r.Status,
		"errors": errs,
		"path":   r.Path,
		"text":   r.Text,
	}
}
