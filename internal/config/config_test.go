package config

import (
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_CLOUD_LOCATION", "")
	t.Setenv("EXPERIMENTAL_OCR_ANALYSIS", "")

	c := FromEnv()
	if c.VertexLocation != "us-central1" {
		t.Fatalf("got VertexLocation %q, want default us-central1", c.VertexLocation)
	}
	if c.ExperimentalOCRAnalysis {
		t.Fatalf("got ExperimentalOCRAnalysis true, want false by default")
	}
}

func TestFromEnv_ReadsOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_API_BASE", "https://example.test/v1")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "my-project")
	t.Setenv("GOOGLE_CLOUD_LOCATION", "europe-west4")
	t.Setenv("EXPERIMENTAL_OCR_ANALYSIS", "true")

	c := FromEnv()
	if c.OpenAIAPIKey != "sk-test" || c.OpenAIAPIBase != "https://example.test/v1" {
		t.Fatalf("got OpenAI settings %+v", c)
	}
	if c.AWSRegion != "us-west-2" || c.GCPProject != "my-project" || c.VertexLocation != "europe-west4" {
		t.Fatalf("got GCP/AWS settings %+v", c)
	}
	if !c.ExperimentalOCRAnalysis {
		t.Fatalf("got ExperimentalOCRAnalysis false, want true")
	}
}

func TestParseRateLimit(t *testing.T) {
	if rl, err := ParseRateLimit(""); err != nil || rl != nil {
		t.Fatalf("ParseRateLimit(\"\") = (%v, %v), want (nil, nil)", rl, err)
	}
	rl, err := ParseRateLimit("10/s")
	if err != nil {
		t.Fatalf("ParseRateLimit(10/s) error: %v", err)
	}
	if rl.MaxRequests != 10 {
		t.Fatalf("got MaxRequests %d, want 10", rl.MaxRequests)
	}
	if _, err := ParseRateLimit("bogus"); err == nil {
		t.Fatalf("expected an error for a malformed rate limit string")
	}
}

func TestParseConcurrency(t *testing.T) {
	n, err := ParseConcurrency("", 4)
	if err != nil || n != 4 {
		t.Fatalf("ParseConcurrency(\"\", 4) = (%d, %v), want (4, nil)", n, err)
	}
	n, err = ParseConcurrency("8", 4)
	if err != nil || n != 8 {
		t.Fatalf("ParseConcurrency(8) = (%d, %v), want (8, nil)", n, err)
	}
	if _, err := ParseConcurrency("0", 4); err == nil {
		t.Fatalf("expected an error for concurrency 0")
	}
	if _, err := ParseConcurrency("abc", 4); err == nil {
		t.Fatalf("expected an error for non-numeric concurrency")
	}
}

