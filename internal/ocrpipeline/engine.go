package ocrpipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/elevatelaw/prompt-scaler/internal/cpulimit"
	"github.com/elevatelaw/prompt-scaler/internal/pageiter"
)

// TesseractEngine OCRs one page image at a time by shelling out to the
// `tesseract` binary (§6.1 external process). It implements PageEngine
// page-at-a-time since tesseract's CLI takes one image per invocation.
type TesseractEngine struct {
	// Lang is the tesseract language pack name (e.g. "eng"); empty uses
	// tesseract's own default.
	Lang string
}

func (e *TesseractEngine) WholeFile() bool { return false }

func (e *TesseractEngine) OCRWholeFile(ctx context.Context, path string) ([]string, []OcrAnalysis, error) {
	return nil, nil, fmt.Errorf("ocrpipeline: TesseractEngine does not implement whole-file OCR")
}

func (e *TesseractEngine) OCRPage(ctx context.Context, page pageiter.Page) (string, *OcrAnalysis, error) {
	if err := cpulimit.Global().Acquire(ctx); err != nil {
		return "", nil, err
	}
	defer cpulimit.Global().Release()

	ext := extensionFor(page.MimeType)
	tmpFile, err := os.CreateTemp("", "prompt-scaler-ocr-page-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("ocrpipeline: creating temp page file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.Write(page.Data); err != nil {
		tmpFile.Close()
		return "", nil, fmt.Errorf("ocrpipeline: writing temp page file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", nil, fmt.Errorf("ocrpipeline: closing temp page file: %w", err)
	}

	args := []string{tmpFile.Name(), "stdout"}
	if e.Lang != "" {
		args = append(args, "-l", e.Lang)
	}
	out, err := runCapture(ctx, "tesseract", args...)
	if err != nil {
		return "", nil, err
	}
	return out, nil, nil
}

// PdftotextEngine extracts embedded text from a whole PDF in one shot by
// shelling out to `pdftotext` (§6.1 external process); it never runs an
// actual OCR model and is meant for text-layer PDFs, not scanned images.
type PdftotextEngine struct{}

func (e *PdftotextEngine) WholeFile() bool { return true }

func (e *PdftotextEngine) OCRPage(ctx context.Context, page pageiter.Page) (string, *OcrAnalysis, error) {
	return "", nil, fmt.Errorf("ocrpipeline: PdftotextEngine does not implement page-at-a-time OCR")
}

// OCRWholeFile shells `pdftotext -layout path -`, which separates pages
// with a form-feed (0x0C), and splits on that to recover per-page text.
func (e *PdftotextEngine) OCRWholeFile(ctx context.Context, path string) ([]string, []OcrAnalysis, error) {
	if err := cpulimit.Global().Acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer cpulimit.Global().Release()

	out, err := runCapture(ctx, "pdftotext", "-layout", path, "-")
	if err != nil {
		return nil, nil, err
	}
	pages := strings.Split(out, "\f")
	if len(pages) > 0 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages, nil, nil
}

func extensionFor(m pageiter.MimeType) string {
	switch m {
	case pageiter.MimePNG:
		return ".png"
	case pageiter.MimeJPEG:
		return ".jpg"
	case pageiter.MimeWebP:
		return ".webp"
	case pageiter.MimeGIF:
		return ".gif"
	default:
		return ".bin"
	}
}

func runCapture(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ocrpipeline: %s failed: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
