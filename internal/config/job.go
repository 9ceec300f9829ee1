package config

import (
	"github.com/elevatelaw/prompt-scaler/internal/prompt"
)

// JobConfig is the per-run document read via records.ReadJSONOrTOML
// (§6.1): everything needed to build one chat or OCR batch that isn't an
// ambient environment variable. Mirrors the shape the teacher used for
// its own LogConfig — a small, flat, directly-unmarshalable struct.
type JobConfig struct {
	Driver      DriverKind `json:"driver" toml:"driver"`
	Model       string     `json:"model" toml:"model"`
	Concurrency int        `json:"concurrency" toml:"concurrency"`
	RateLimit   string     `json:"rate_limit" toml:"rate_limit"`

	AllowedFailureRate float64 `json:"allowed_failure_rate" toml:"allowed_failure_rate"`

	// Chat-only.
	SchemaFile string                  `json:"schema_file" toml:"schema_file"`
	Prompt     *prompt.PromptTemplate  `json:"prompt" toml:"prompt"`

	// OCR-only.
	MaxPages      int  `json:"max_pages" toml:"max_pages"`
	Rasterize     bool `json:"rasterize" toml:"rasterize"`
	DPI           int  `json:"dpi" toml:"dpi"`
	UsePageBreaks bool `json:"use_page_breaks" toml:"use_page_breaks"`

	Input    string `json:"input" toml:"input"`
	Output   string `json:"output" toml:"output"`
	OutputCSV bool  `json:"output_csv" toml:"output_csv"`
}
