// Package pageiter implements the page iterator (SPEC_FULL.md §4.8): it
// sniffs a document's MIME type, splits or rasterizes it into per-page
// artifacts via pdfinfo/pdfseparate/pdftocairo (or walks a TIFF's IFD
// chain in-process), and exposes the pages as an ordered, once-consumed
// sequence backed by a scoped temporary directory. Grounded on the
// teacher's internal/documents.DetectDocumentType (MIME sniffing) and the
// deleted internal/pdf package's pdfcpu-based splitting, generalized to
// the spec's external-process-driven extraction contract.
package pageiter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/elevatelaw/prompt-scaler/internal/logger"
)

// MimeType is one of the five MIME types the core understands (§3 Page).
type MimeType string

const (
	MimePNG  MimeType = "image/png"
	MimeJPEG MimeType = "image/jpeg"
	MimeWebP MimeType = "image/webp"
	MimeGIF  MimeType = "image/gif"
	MimePDF  MimeType = "application/pdf"
	MimeTIFF MimeType = "image/tiff"
)

// Page is one page-level artifact: its MIME type plus its bytes.
type Page struct {
	MimeType MimeType
	Data     []byte
}

// Options controls PageIter construction.
type Options struct {
	// Password unlocks an encrypted PDF, if set.
	Password string
	// Rasterize forces PDF pages to be rendered to PNG via pdftocairo
	// instead of split into per-page PDFs via pdfseparate.
	Rasterize bool
	// DPI is the rasterization resolution (only meaningful with Rasterize).
	DPI int
	// MaxPages caps the number of pages produced; 0 means unlimited.
	MaxPages int
}

// PageIter is a once-consumed, ordered sequence of page artifacts backed
// by a scoped temporary directory that is removed when Close is called.
type PageIter struct {
	mimeType   MimeType
	totalPages int
	maxPages   int
	complete   bool
	warnings   []string
	paths      []string // per-page artifact paths, consumed in order
	singleShot []byte   // used when there is exactly one in-memory page (images)
	next       int
	tmpDir     string
	log        logger.Logger
}

// TotalPages is the document's true page count (before any MaxPages cap).
func (p *PageIter) TotalPages() int { return p.totalPages }

// Complete reports whether every page was produced, i.e. MaxPages (if
// set) did not truncate the document.
func (p *PageIter) Complete() bool { return p.complete }

// Warnings returns every warning line captured from external commands,
// even on success, per §4.8's "external command error policy".
func (p *PageIter) Warnings() []string { return p.warnings }

// Len reports the number of pages this PageIter will yield.
func (p *PageIter) Len() int {
	if p.singleShot != nil {
		return 1
	}
	return len(p.paths)
}

// Next returns the next page artifact, or ok=false when exhausted. Pages
// are consumed at most once, in order; each on-disk artifact is deleted
// immediately after being read.
func (p *PageIter) Next() (Page, bool, error) {
	if p.singleShot != nil {
		if p.next > 0 {
			return Page{}, false, nil
		}
		p.next++
		return Page{MimeType: p.mimeType, Data: p.singleShot}, true, nil
	}
	if p.next >= len(p.paths) {
		return Page{}, false, nil
	}
	path := p.paths[p.next]
	p.next++
	data, err := os.ReadFile(path)
	if err != nil {
		return Page{}, false, fmt.Errorf("pageiter: reading page artifact %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && p.log != nil {
		p.log.Debug("pageiter: failed to remove consumed artifact %s: %v", path, err)
	}
	mimeType := p.mimeType
	if mimeType == MimePDF {
		// pdfseparate yields individual PDFs, not images.
		mimeType = MimePDF
	} else {
		mimeType = MimePNG
	}
	return Page{MimeType: mimeType, Data: data}, true, nil
}

// Close removes the scoped temporary directory. Safe to call multiple
// times. Per §4.8's Drop contract, failure to remove is logged at error
// level rather than returned, since cleanup failure must never mask the
// iteration result.
func (p *PageIter) Close() {
	if p.tmpDir == "" {
		return
	}
	dir := p.tmpDir
	p.tmpDir = ""
	if err := os.RemoveAll(dir); err != nil && p.log != nil {
		p.log.Error("pageiter: failed to remove temp directory %s: %v", dir, err)
	}
}

// New sniffs path's content and constructs the appropriate PageIter.
func New(ctx context.Context, path string, opts Options, log logger.Logger) (*PageIter, error) {
	header := make([]byte, 512)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pageiter: opening %s: %w", path, err)
	}
	n, _ := f.Read(header)
	f.Close()
	header = header[:n]

	switch sniffMime(header) {
	case MimePNG, MimeJPEG, MimeWebP, MimeGIF:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("pageiter: reading %s: %w", path, err)
		}
		return &PageIter{
			mimeType:   sniffMime(header),
			totalPages: 1,
			maxPages:   1,
			complete:   true,
			singleShot: data,
			log:        log,
		}, nil
	case MimeTIFF:
		return newTIFFPageIter(path, opts, log)
	case MimePDF:
		return newPDFPageIter(ctx, path, opts, log)
	default:
		return nil, fmt.Errorf("pageiter: unrecognized or unsupported document type for %s", path)
	}
}

func sniffMime(header []byte) MimeType {
	switch {
	case bytes.HasPrefix(header, []byte("%PDF")):
		return MimePDF
	case bytes.HasPrefix(header, []byte("\x89PNG\r\n\x1a\n")):
		return MimePNG
	case bytes.HasPrefix(header, []byte{0xFF, 0xD8, 0xFF}):
		return MimeJPEG
	case len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WEBP")):
		return MimeWebP
	case bytes.HasPrefix(header, []byte("GIF87a")), bytes.HasPrefix(header, []byte("GIF89a")):
		return MimeGIF
	case bytes.HasPrefix(header, []byte{0x49, 0x49, 0x2A, 0x00}), bytes.HasPrefix(header, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return MimeTIFF
	default:
		return ""
	}
}

// pdfcpuPageCount counts a PDF's pages in-process. splitPDF calls it after
// pdfinfo has counted them and only logs a warning on a mismatch; an error
// from it is ignored, so it never rejects a file (§4.8, DOMAIN STACK:
// pdfcpu used for cross-check only, not extraction).
func pdfcpuPageCount(path string) (int, error) {
	count, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pageiter: pdfcpu page count: %w", err)
	}
	return count, nil
}

func sortedDirEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}
