package ocrpipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/elevatelaw/prompt-scaler/internal/pageiter"
)

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mime pageiter.MimeType
		want string
	}{
		{pageiter.MimePNG, ".png"},
		{pageiter.MimeJPEG, ".jpg"},
		{pageiter.MimeWebP, ".webp"},
		{pageiter.MimeGIF, ".gif"},
		{pageiter.MimePDF, ".bin"},
	}
	for _, tt := range tests {
		if got := extensionFor(tt.mime); got != tt.want {
			t.Fatalf("extensionFor(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestRunCapture_Success(t *testing.T) {
	out, err := runCapture(context.Background(), "echo", "-n", "hello")
	if err != nil {
		t.Fatalf("runCapture: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("got %q, want hello", out)
	}
}

func TestRunCapture_MissingBinaryIsError(t *testing.T) {
	if _, err := runCapture(context.Background(), "prompt-scaler-definitely-not-a-real-binary"); err == nil {
		t.Fatalf("expected an error for a nonexistent binary")
	}
}

func TestRunCapture_NonZeroExitIsError(t *testing.T) {
	if _, err := runCapture(context.Background(), "false"); err == nil {
		t.Fatalf("expected an error for a nonzero exit status")
	}
}

func TestTesseractEngine_WholeFileUnsupported(t *testing.T) {
	e := &TesseractEngine{}
	if e.WholeFile() {
		t.Fatalf("TesseractEngine.WholeFile() = true, want false")
	}
	if _, _, err := e.OCRWholeFile(context.Background(), "irrelevant"); err == nil {
		t.Fatalf("expected OCRWholeFile to reject on a page-at-a-time engine")
	}
}

func TestPdftotextEngine_PageAtATimeUnsupported(t *testing.T) {
	e := &PdftotextEngine{}
	if !e.WholeFile() {
		t.Fatalf("PdftotextEngine.WholeFile() = false, want true")
	}
	if _, _, err := e.OCRPage(context.Background(), pageiter.Page{}); err == nil {
		t.Fatalf("expected OCRPage to reject on a whole-file engine")
	}
}
