package pageiter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/elevatelaw/prompt-scaler/internal/cpulimit"
	"github.com/elevatelaw/prompt-scaler/internal/logger"
)

// errorLineRE matches poppler/pdfcpu diagnostic lines that indicate a
// real failure. The downgradePattern below excludes a known benign
// poppler warning so it doesn't trip a hard failure.
var errorLineRE = regexp.MustCompile(`(?i)error`)

// downgradePattern is poppler's "error: xref num" warning, emitted on
// many otherwise-valid PDFs with a malformed cross-reference table entry
// that poppler recovers from automatically.
const downgradePattern = "error: xref num"

func newPDFPageIter(ctx context.Context, path string, opts Options, log logger.Logger) (*PageIter, error) {
	// Rasterization is either explicitly requested, or forced because a
	// password was supplied: split+password falls back to the rasterized
	// path per §4.8's documented compromise.
	if opts.Rasterize || opts.Password != "" {
		return rasterizePDF(ctx, path, opts, log)
	}
	return splitPDF(ctx, path, opts, log)
}

func rasterizePDF(ctx context.Context, path string, opts Options, log logger.Logger) (*PageIter, error) {
	sem := cpulimit.Global()
	if err := sem.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("pageiter: acquiring CPU permit: %w", err)
	}
	defer sem.Release()

	tmpDir, err := os.MkdirTemp("", "prompt-scaler-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("pageiter: creating temp dir: %w", err)
	}

	dpi := opts.DPI
	if dpi == 0 {
		dpi = 150
	}
	outPrefix := tmpDir + "/page"

	args := []string{"-png", "-r", strconv.Itoa(dpi)}
	if opts.Password != "" {
		args = append(args, "-opw", opts.Password)
	}
	if opts.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(opts.MaxPages))
	}
	args = append(args, path, outPrefix)

	warnings, err := runExternalCommand(ctx, "pdftocairo", args...)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	paths, err := sortedDirEntries(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("pageiter: reading rasterized pages: %w", err)
	}

	total, countErr := countPDFPages(path, opts.Password)
	complete := true
	if countErr == nil && opts.MaxPages > 0 && opts.MaxPages < total {
		complete = false
	} else if countErr != nil {
		total = len(paths)
	}

	return &PageIter{
		mimeType:   MimePNG,
		totalPages: total,
		maxPages:   opts.MaxPages,
		complete:   complete,
		warnings:   warnings,
		paths:      paths,
		tmpDir:     tmpDir,
		log:        log,
	}, nil
}

func splitPDF(ctx context.Context, path string, opts Options, log logger.Logger) (*PageIter, error) {
	sem := cpulimit.Global()
	if err := sem.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("pageiter: acquiring CPU permit: %w", err)
	}
	defer sem.Release()

	total, err := countPDFPages(path, "")
	if err != nil {
		return nil, err
	}
	if crossCheck, ccErr := pdfcpuPageCount(path); ccErr == nil && crossCheck != total {
		if log != nil {
			log.Warn("pageiter: pdfinfo reports %d pages but pdfcpu reports %d for %s", total, crossCheck, path)
		}
	}

	tmpDir, err := os.MkdirTemp("", "prompt-scaler-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("pageiter: creating temp dir: %w", err)
	}

	args := []string{}
	if opts.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(opts.MaxPages))
	}
	args = append(args, path, tmpDir+"/page-%d.pdf")

	warnings, err := runExternalCommand(ctx, "pdfseparate", args...)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	paths, err := sortedDirEntries(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("pageiter: reading split pages: %w", err)
	}

	complete := opts.MaxPages == 0 || opts.MaxPages >= total

	return &PageIter{
		mimeType:   MimePDF,
		totalPages: total,
		maxPages:   opts.MaxPages,
		complete:   complete,
		warnings:   warnings,
		paths:      paths,
		tmpDir:     tmpDir,
		log:        log,
	}, nil
}

func countPDFPages(path, password string) (int, error) {
	args := []string{}
	if password != "" {
		args = append(args, "-opw", password)
	}
	args = append(args, path)
	cmd := exec.Command("pdfinfo", args...)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("pageiter: pdfinfo failed: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "Pages:") {
			fields := strings.Fields(line)
			if len(fields) == 2 {
				n, err := strconv.Atoi(fields[1])
				if err != nil {
					return 0, fmt.Errorf("pageiter: parsing pdfinfo page count: %w", err)
				}
				return n, nil
			}
		}
	}
	return 0, fmt.Errorf("pageiter: pdfinfo output had no Pages: line")
}

// runExternalCommand runs name with args, capturing stdout+stderr line by
// line. Non-zero exit or any error-line (per §4.8's case-insensitive
// "error" match, excluding the poppler xref-num downgrade) is a hard
// failure; all lines, even on success, are returned as warnings.
func runExternalCommand(ctx context.Context, name string, args ...string) ([]string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pageiter: %s: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pageiter: %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pageiter: starting %s: %w", name, err)
	}

	var lines []string
	var errorLines []string
	collect := func(r *bufio.Scanner) {
		for r.Scan() {
			line := r.Text()
			lines = append(lines, line)
			if errorLineRE.MatchString(line) && !strings.Contains(strings.ToLower(line), downgradePattern) {
				errorLines = append(errorLines, line)
			}
		}
	}
	collect(bufio.NewScanner(stdout))
	collect(bufio.NewScanner(stderr))

	waitErr := cmd.Wait()
	if waitErr != nil {
		return lines, fmt.Errorf("pageiter: %s failed: %w\n%s", name, waitErr, strings.Join(lines, "\n"))
	}
	if len(errorLines) > 0 {
		return lines, fmt.Errorf("pageiter: %s reported errors:\n%s", name, strings.Join(errorLines, "\n"))
	}
	return lines, nil
}
