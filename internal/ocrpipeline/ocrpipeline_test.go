package ocrpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/elevatelaw/prompt-scaler/internal/pageiter"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// onePxPNG is a valid, minimal 1x1 transparent PNG, used so pageiter.New
// takes the in-process single-image path with no external tools involved.
var onePxPNG = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
	0x42, 0x60, 0x82,
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.png")
	if err := os.WriteFile(path, onePxPNG, 0o644); err != nil {
		t.Fatalf("writing test image: %v", err)
	}
	return path
}

// pageAtATimeEngine succeeds for every page, returning a fixed string.
type pageAtATimeEngine struct{ text string }

func (e *pageAtATimeEngine) WholeFile() bool { return false }
func (e *pageAtATimeEngine) OCRWholeFile(ctx context.Context, path string) ([]string, []OcrAnalysis, error) {
	return nil, nil, fmt.Errorf("not a whole-file engine")
}
func (e *pageAtATimeEngine) OCRPage(ctx context.Context, page pageiter.Page) (string, *OcrAnalysis, error) {
	return e.text, nil, nil
}

// failingPageEngine fails every page.
type failingPageEngine struct{}

func (e *failingPageEngine) WholeFile() bool { return false }
func (e *failingPageEngine) OCRWholeFile(ctx context.Context, path string) ([]string, []OcrAnalysis, error) {
	return nil, nil, fmt.Errorf("not a whole-file engine")
}
func (e *failingPageEngine) OCRPage(ctx context.Context, page pageiter.Page) (string, *OcrAnalysis, error) {
	return "", nil, fmt.Errorf("boom")
}

// wholeFileEngine succeeds reading the entire document in one call.
type wholeFileEngine struct{ texts []string }

func (e *wholeFileEngine) WholeFile() bool { return true }
func (e *wholeFileEngine) OCRWholeFile(ctx context.Context, path string) ([]string, []OcrAnalysis, error) {
	return e.texts, make([]OcrAnalysis, len(e.texts)), nil
}
func (e *wholeFileEngine) OCRPage(ctx context.Context, page pageiter.Page) (string, *OcrAnalysis, error) {
	return "", nil, fmt.Errorf("not a page engine")
}

func TestPipeline_Process_PageAtATimeOk(t *testing.T) {
	p := &Pipeline{Engine: &pageAtATimeEngine{text: "hello"}, Concurrency: 2}
	out := p.Process(context.Background(), work.WorkInput[OcrInput]{
		ID:   json.RawMessage(`"1"`),
		Data: OcrInput{Path: writeTestImage(t)},
	})

	if out.Status != work.StatusOk {
		t.Fatalf("got status %v, errors %v", out.Status, out.Errors)
	}
	if out.Data.Text != "hello" {
		t.Fatalf("got text %q", out.Data.Text)
	}
	if out.Data.PageCount != 1 {
		t.Fatalf("got PageCount %d, want 1", out.Data.PageCount)
	}
	if string(out.ID) != `"1"` {
		t.Fatalf("got ID %s, want propagated from input", out.ID)
	}
}

func TestPipeline_Process_PageAtATimeFailureInsertsMarker(t *testing.T) {
	p := &Pipeline{Engine: &failingPageEngine{}, Concurrency: 1}
	out := p.Process(context.Background(), work.WorkInput[OcrInput]{
		ID:   json.RawMessage(`"1"`),
		Data: OcrInput{Path: writeTestImage(t)},
	})

	if out.Status != work.StatusFailed {
		t.Fatalf("got status %v, want failed (the only page failed)", out.Status)
	}
	if out.Data.Text != missingPageMarker {
		t.Fatalf("got text %q, want the missing-page marker", out.Data.Text)
	}
	if len(out.Errors) == 0 {
		t.Fatalf("expected a page-level error to be recorded")
	}
}

func TestPipeline_Process_WholeFileOk(t *testing.T) {
	p := &Pipeline{Engine: &wholeFileEngine{texts: []string{"page one text"}}}
	out := p.Process(context.Background(), work.WorkInput[OcrInput]{
		ID:   json.RawMessage(`"2"`),
		Data: OcrInput{Path: writeTestImage(t)},
	})

	if out.Status != work.StatusOk {
		t.Fatalf("got status %v, errors %v", out.Status, out.Errors)
	}
	if out.Data.Text != "page one text" {
		t.Fatalf("got text %q", out.Data.Text)
	}
}

func TestPipeline_Process_BadPathIsFailed(t *testing.T) {
	p := &Pipeline{Engine: &pageAtATimeEngine{text: "x"}}
	out := p.Process(context.Background(), work.WorkInput[OcrInput]{
		ID:   json.RawMessage(`"3"`),
		Data: OcrInput{Path: filepath.Join(t.TempDir(), "does-not-exist.png")},
	})

	if out.Status != work.StatusFailed {
		t.Fatalf("got status %v, want failed for a missing file", out.Status)
	}
	if string(out.ID) != `"3"` {
		t.Fatalf("got ID %s, want propagated even on early failure", out.ID)
	}
}

func TestPageJoiner(t *testing.T) {
	if pageJoiner(false) != "\n\n" {
		t.Fatalf("got %q, want blank-line joiner", pageJoiner(false))
	}
	if pageJoiner(true) != "\n\x0C\n" {
		t.Fatalf("got %q, want form-feed joiner", pageJoiner(true))
	}
}
