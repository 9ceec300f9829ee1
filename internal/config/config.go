// Package config is the ambient configuration surface: the environment
// variables SPEC_FULL.md §6.5 lists, plus the per-run knobs (concurrency,
// allowed failure rate, rate limit string) a driver/queue construction
// needs. Grounded on the teacher's pattern of reading small, explicit
// os.Getenv-backed settings at startup (cmd/academic-mcp-local-server)
// rather than adopting a generic config-framework dependency; no example
// repo in the retrieval pack used a config-file-parsing library for
// anything beyond environment variables, so this stays stdlib-based
// (see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/elevatelaw/prompt-scaler/internal/ratelimit"
)

// DriverKind selects which Driver variant a run constructs.
type DriverKind string

const (
	DriverOpenAICompatible DriverKind = "openai-compatible"
	DriverBedrock          DriverKind = "bedrock"
	DriverVertex           DriverKind = "vertex"
	DriverNative           DriverKind = "native"
	DriverEcho             DriverKind = "echo"
)

// Config is the resolved set of run-level settings.
type Config struct {
	Driver             DriverKind
	Model              string
	Concurrency        int
	AllowedFailureRate float64
	RateLimit          *ratelimit.RateLimit
	MaxPages           int

	OpenAIAPIKey   string
	OpenAIAPIBase  string
	AWSRegion      string
	GCPProject     string
	VertexLocation string

	ExperimentalOCRAnalysis bool
}

// FromEnv reads the ambient environment variables SPEC_FULL.md §6.5
// names. None are required for the core's own behavior; driver-specific
// credentials are validated lazily by the driver constructors.
func FromEnv() Config {
	location := os.Getenv("GOOGLE_CLOUD_LOCATION")
	if location == "" {
		location = "us-central1"
	}
	return Config{
		OpenAIAPIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIAPIBase:           os.Getenv("OPENAI_API_BASE"),
		AWSRegion:               os.Getenv("AWS_REGION"),
		GCPProject:              os.Getenv("GOOGLE_CLOUD_PROJECT"),
		VertexLocation:          location,
		ExperimentalOCRAnalysis: os.Getenv("EXPERIMENTAL_OCR_ANALYSIS") == "1" || os.Getenv("EXPERIMENTAL_OCR_ANALYSIS") == "true",
	}
}

// ParseRateLimit parses the §6.4 rate-limit grammar ("N/s" | "N/m") if s
// is non-empty, returning nil (no limiting) if s is empty.
func ParseRateLimit(s string) (*ratelimit.RateLimit, error) {
	if s == "" {
		return nil, nil
	}
	rl, err := ratelimit.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("config: parsing rate limit %q: %w", s, err)
	}
	return &rl, nil
}

// ParseConcurrency parses a concurrency flag/env value, defaulting to def
// when s is empty.
func ParseConcurrency(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("config: invalid concurrency %q", s)
	}
	return n, nil
}
