package pageiter

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	hhtiff "github.com/hhrutter/tiff"
	"golang.org/x/image/tiff"

	"github.com/elevatelaw/prompt-scaler/internal/logger"
)

// NewSubfileType bits that are safe to skip per §4.8's SubIFD policy.
// Bit 0 (reduced-resolution), bit 2 (transparency mask), and the
// DNG-specific bits 0x8/0x10/0x10000 are known-benign; anything else,
// including zero, is ambiguous and must fail loudly rather than silently
// drop a page.
const (
	subfileReducedResolution = 0x1
	subfileTransparencyMask  = 0x4
	subfileDNGBit3           = 0x8
	subfileDNGBit4           = 0x10
	subfileDNGBit16          = 0x10000

	safeToSkipMask = subfileReducedResolution | subfileTransparencyMask | subfileDNGBit3 | subfileDNGBit4 | subfileDNGBit16
)

func newTIFFPageIter(path string, opts Options, log logger.Logger) (*PageIter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pageiter: reading TIFF %s: %w", path, err)
	}

	ifds, err := hhtiff.NewReader(bytes.NewReader(raw), nil)
	if err != nil {
		return nil, fmt.Errorf("pageiter: parsing TIFF IFD chain: %w", err)
	}
	mainIFDs := ifds.IFDs()
	for ifdIndex, ifd := range mainIFDs {
		for subIndex, sub := range ifd.SubIFDs() {
			subfileType := sub.NewSubfileType()
			if subfileType != 0 && subfileType&^safeToSkipMask == 0 {
				if log != nil {
					log.Debug("pageiter: skipping safe SubIFD %d of IFD %d (NewSubfileType=0x%x)", subIndex, ifdIndex, subfileType)
				}
				continue
			}
			return nil, fmt.Errorf(
				"pageiter: ambiguous SubIFD %d of IFD %d in %s (NewSubfileType=0x%x); convert to PDF instead of relying on TIFF page extraction",
				subIndex, ifdIndex, path, subfileType,
			)
		}
	}

	tmpDir, err := os.MkdirTemp("", "prompt-scaler-tiff-*")
	if err != nil {
		return nil, fmt.Errorf("pageiter: creating temp dir: %w", err)
	}

	total := len(mainIFDs)
	maxPages := opts.MaxPages
	limit := total
	if maxPages > 0 && maxPages < total {
		limit = maxPages
	}

	r := bytes.NewReader(raw)
	paths := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		img, err := decodeTIFFPage(r, i)
		if err != nil {
			os.RemoveAll(tmpDir)
			return nil, fmt.Errorf("pageiter: decoding TIFF page %d: %w", i, err)
		}
		outPath := fmt.Sprintf("%s/page-%04d.png", tmpDir, i)
		if err := writePNG(outPath, img); err != nil {
			os.RemoveAll(tmpDir)
			return nil, err
		}
		paths = append(paths, outPath)
	}

	return &PageIter{
		mimeType:   MimePNG,
		totalPages: total,
		maxPages:   maxPages,
		complete:   limit == total,
		paths:      paths,
		tmpDir:     tmpDir,
		log:        log,
	}, nil
}

// decodeTIFFPage decodes page index via golang.org/x/image/tiff (the
// standard-library-adjacent decoder) and down-shifts any 16-bit samples
// to 8-bit-per-channel, per §4.8.
func decodeTIFFPage(r *bytes.Reader, index int) (image.Image, error) {
	if _, err := r.Seek(0, 0); err != nil {
		return nil, err
	}
	imgs, err := tiff.DecodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	if index >= len(imgs) {
		return nil, fmt.Errorf("page index %d out of range (%d pages)", index, len(imgs))
	}
	return to8BitImage(imgs[index]), nil
}

func to8BitImage(src image.Image) image.Image {
	switch src.(type) {
	case *image.Gray, *image.RGBA, *image.NRGBA:
		return src
	}
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := src.At(x, y).RGBA()
			dst.Set(x, y, color.RGBA{
				R: uint8(r >> 8),
				G: uint8(g >> 8),
				B: uint8(b >> 8),
				A: uint8(a >> 8),
			})
		}
	}
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pageiter: creating %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("pageiter: encoding PNG %s: %w", path, err)
	}
	return nil
}
