// Package ocrpipeline implements the per-file OCR pipeline (SPEC_FULL.md
// §4.10): build a PageIter, dispatch to a whole-file or page-at-a-time
// engine, and aggregate per-page results (and the supplemented
// OcrAnalysis) into one document-level output. Grounded on the teacher's
// internal/llm.parsePDF, which fanned a PDF's pages out over per-page
// goroutines and joined results in page order — generalized here to run
// through a bounded inner work queue (one per document) instead of raw
// unbounded goroutines, and to support whole-file engines as an
// alternative path.
package ocrpipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/elevatelaw/prompt-scaler/internal/logger"
	"github.com/elevatelaw/prompt-scaler/internal/pageiter"
	"github.com/elevatelaw/prompt-scaler/internal/queue"
	"github.com/elevatelaw/prompt-scaler/internal/stream"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// missingPageMarker is substituted for a page that could not be OCR'd so
// the aggregated text stays positionally meaningful.
const missingPageMarker = "**COULD_NOT_OCR_PAGE**"

// OcrInput is the OCR input record (§6.2).
type OcrInput struct {
	Path     string
	Password string
}

// ImageSource is one embedded figure/photo detected during OCR analysis
// (supplemented feature, SPEC_FULL.md SUPPLEMENTED FEATURES).
type ImageSource struct {
	Description string
	BoundingBox *[4]float64
}

// OcrAnalysis is the richer per-document defect/feature report reinstated
// from original_source/ (supplemented feature), OR-merged across pages.
type OcrAnalysis struct {
	HasHandwriting bool
	HasSignature   bool
	HasStamp       bool
	HasWatermark   bool
	IsBlank        bool
	IsRotated      bool
	ImageSources   []ImageSource
}

func (a *OcrAnalysis) merge(other OcrAnalysis) {
	a.HasHandwriting = a.HasHandwriting || other.HasHandwriting
	a.HasSignature = a.HasSignature || other.HasSignature
	a.HasStamp = a.HasStamp || other.HasStamp
	a.HasWatermark = a.HasWatermark || other.HasWatermark
	a.IsBlank = a.IsBlank || other.IsBlank
	a.IsRotated = a.IsRotated || other.IsRotated
	a.ImageSources = append(a.ImageSources, other.ImageSources...)
}

// OcrOutput is the OCR output record's Data payload (§6.2).
type OcrOutput struct {
	Path      string
	Text      string
	PageCount int
	Analysis  *OcrAnalysis // nil unless EXPERIMENTAL_OCR_ANALYSIS is enabled
}

// PageEngine OCRs a single page (image or PDF-page) artifact.
type PageEngine interface {
	// WholeFile reports whether this engine consumes an entire document
	// in one call (pdftotext, Textract async) rather than page-at-a-time.
	WholeFile() bool
	// OCRWholeFile is only called when WholeFile() is true.
	OCRWholeFile(ctx context.Context, path string) (pageTexts []string, analysis []OcrAnalysis, err error)
	// OCRPage is only called when WholeFile() is false.
	OCRPage(ctx context.Context, page pageiter.Page) (string, *OcrAnalysis, error)
}

// Pipeline holds everything a OCR work-queue's workFn needs.
type Pipeline struct {
	Engine      PageEngine
	Concurrency int
	PageIterOpts pageiter.Options
	UsePageBreaks bool
	EnableAnalysis bool
	Log         logger.Logger
}

// Process implements §4.10 steps 1-4 for a single input. The signature
// matches queue.WorkFunc[OcrInput, OcrOutput] so a Pipeline can be handed
// directly to queue.New.
func (p *Pipeline) Process(ctx context.Context, req work.WorkInput[OcrInput]) work.WorkOutput[OcrOutput] {
	input := req.Data
	opts := p.PageIterOpts
	opts.Password = input.Password

	iter, err := pageiter.New(ctx, input.Path, opts, p.Log)
	if err != nil {
		return work.WorkOutput[OcrOutput]{
			ID:     req.ID,
			Status: work.StatusFailed,
			Errors: []string{fmt.Sprintf("building page iterator: %v", err)},
			Data:   OcrOutput{Path: input.Path},
		}
	}
	defer iter.Close()

	var out work.WorkOutput[OcrOutput]
	if p.Engine.WholeFile() {
		out = p.processWholeFile(ctx, input, iter)
	} else {
		out = p.processPageAtATime(ctx, input, iter)
	}
	out.ID = req.ID
	return out
}

func (p *Pipeline) processWholeFile(ctx context.Context, input OcrInput, iter *pageiter.PageIter) work.WorkOutput[OcrOutput] {
	texts, analyses, err := p.Engine.OCRWholeFile(ctx, input.Path)
	errs := append([]string{}, iter.Warnings()...)
	if err != nil {
		errs = append(errs, err.Error())
		return work.WorkOutput[OcrOutput]{
			Status: work.StatusFailed,
			Errors: errs,
			Data:   OcrOutput{Path: input.Path, PageCount: iter.TotalPages()},
		}
	}

	out := OcrOutput{
		Path:      input.Path,
		Text:      strings.Join(texts, pageJoiner(p.UsePageBreaks)),
		PageCount: iter.TotalPages(),
	}
	if p.EnableAnalysis {
		merged := &OcrAnalysis{}
		for _, a := range analyses {
			merged.merge(a)
		}
		out.Analysis = merged
	}

	status := work.StatusOk
	if !iter.Complete() {
		status = work.StatusIncomplete
	}
	return work.WorkOutput[OcrOutput]{Status: status, Errors: errs, Data: out}
}

type pageResult struct {
	index   int
	text    string
	analysis *OcrAnalysis
	err     error
}

// processPageAtATime wraps the PageIter in the blocking-iterator adapter
// (§4.1) and fans each page out over an inner work queue of width
// Concurrency, collecting results in page order (§4.10 step 3). The inner
// queue is built for this one document and closed when it is done; it is
// not shared with other documents.
func (p *Pipeline) processPageAtATime(ctx context.Context, input OcrInput, iter *pageiter.PageIter) work.WorkOutput[OcrOutput] {
	n := p.Concurrency
	if n < 1 {
		n = 1
	}

	workFn := func(ctx context.Context, in work.WorkInput[indexedPage]) work.WorkOutput[pageResult] {
		text, analysis, err := p.Engine.OCRPage(ctx, in.Data.page)
		return work.WorkOutput[pageResult]{
			Data: pageResult{index: in.Data.index, text: text, analysis: analysis, err: err},
		}
	}
	q, handle := queue.New(n, workFn, p.Log)
	defer q.Close()

	total := iter.Len()
	pages := stream.NewBlockingStream[pageiter.Page](iter, total)
	defer pages.Close()
	replies := make([]<-chan work.WorkOutput[pageResult], 0, total)
	for i := 0; i < total; i++ {
		page, ok, err := pages.Next()
		if err != nil {
			break
		}
		if !ok {
			break
		}
		ch, err := handle.Submit(ctx, work.WorkInput[indexedPage]{Data: indexedPage{index: i, page: page}})
		if err != nil {
			break
		}
		replies = append(replies, ch)
	}

	results := make([]pageResult, 0, len(replies))
	for _, ch := range replies {
		out := <-ch
		results = append(results, out.Data)
	}

	return aggregate(input, iter, results, p.UsePageBreaks, p.EnableAnalysis)
}

type indexedPage struct {
	index int
	page  pageiter.Page
}

func aggregate(input OcrInput, iter *pageiter.PageIter, results []pageResult, usePageBreaks, enableAnalysis bool) work.WorkOutput[OcrOutput] {
	byIndex := make(map[int]pageResult, len(results))
	for _, r := range results {
		byIndex[r.index] = r
	}

	total := iter.Len()
	texts := make([]string, total)
	var errs []string
	okCount := 0
	merged := &OcrAnalysis{}
	for i := 0; i < total; i++ {
		r, ok := byIndex[i]
		if !ok || r.err != nil {
			texts[i] = missingPageMarker
			if ok && r.err != nil {
				errs = append(errs, fmt.Sprintf("page %d: %v", i, r.err))
			} else if !ok {
				errs = append(errs, fmt.Sprintf("page %d: no result", i))
			}
			continue
		}
		texts[i] = r.text
		okCount++
		if enableAnalysis && r.analysis != nil {
			merged.merge(*r.analysis)
		}
	}
	errs = append(errs, iter.Warnings()...)

	out := OcrOutput{
		Path:      input.Path,
		Text:      strings.Join(texts, pageJoiner(usePageBreaks)),
		PageCount: iter.TotalPages(),
	}
	if enableAnalysis {
		out.Analysis = merged
	}

	var status work.Status
	switch {
	case okCount == total && iter.Complete():
		status = work.StatusOk
	case okCount > 0:
		status = work.StatusIncomplete
	default:
		status = work.StatusFailed
	}

	return work.WorkOutput[OcrOutput]{Status: status, Errors: errs, Data: out}
}

func pageJoiner(usePageBreaks bool) string {
	if usePageBreaks {
		return "\n\x0C\n"
	}
	return "\n\n"
}
