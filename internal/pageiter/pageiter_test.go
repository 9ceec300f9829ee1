package pageiter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// onePxPNG is a valid, minimal 1x1 transparent PNG.
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

func TestSniffMime(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   MimeType
	}{
		{"png", onePxPNG, MimePNG},
		{"pdf", []byte("%PDF-1.4 rest of file"), MimePDF},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, MimeJPEG},
		{"gif87", []byte("GIF87a"), MimeGIF},
		{"gif89", []byte("GIF89a"), MimeGIF},
		{"webp", append([]byte("RIFF\x00\x00\x00\x00"), []byte("WEBP")...), MimeWebP},
		{"tiff-le", []byte{0x49, 0x49, 0x2A, 0x00}, MimeTIFF},
		{"tiff-be", []byte{0x4D, 0x4D, 0x00, 0x2A}, MimeTIFF},
		{"unrecognized", []byte("not a document"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sniffMime(tt.header); got != tt.want {
				t.Fatalf("sniffMime(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestNew_SingleImageIsOnePageAndComplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.png")
	if err := os.WriteFile(path, onePxPNG, 0o644); err != nil {
		t.Fatalf("writing test PNG: %v", err)
	}

	iter, err := New(context.Background(), path, Options{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer iter.Close()

	if iter.TotalPages() != 1 || iter.Len() != 1 || !iter.Complete() {
		t.Fatalf("got TotalPages=%d Len=%d Complete=%v, want 1,1,true", iter.TotalPages(), iter.Len(), iter.Complete())
	}

	page, ok, err := iter.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = (%v, %v, %v), want a page", page, ok, err)
	}
	if page.MimeType != MimePNG {
		t.Fatalf("got MimeType %q, want image/png", page.MimeType)
	}
	if len(page.Data) != len(onePxPNG) {
		t.Fatalf("got %d bytes, want %d", len(page.Data), len(onePxPNG))
	}

	_, ok, err = iter.Next()
	if err != nil || ok {
		t.Fatalf("second Next() = (_, %v, %v), want exhausted", ok, err)
	}
}

func TestNew_UnrecognizedTypeIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mystery.bin")
	if err := os.WriteFile(path, []byte("not a known document format"), 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}

	if _, err := New(context.Background(), path, Options{}, nil); err == nil {
		t.Fatalf("expected an error for an unrecognized document type")
	}
}
