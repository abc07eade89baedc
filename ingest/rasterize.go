package ingest

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	fitz "github.com/gen2brain/go-fitz"
)

// RasterDPI is the fixed resolution page 1 is rendered at before running
// the detector and OCR (spec.md §4.3 step 1).
const RasterDPI = 300.0

// RasterizeFirstPage renders page 1 of a PDF at RasterDPI and returns it
// PNG-encoded, along with its pixel dimensions and the document's total
// page count (Property #9 of spec.md §8 needs the real count, not an
// assumed single page).
func RasterizeFirstPage(pdfBytes []byte) (pngBytes []byte, width, height, pageCount int, err error) {
	doc, err := fitz.NewFromMemory(pdfBytes)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pageCount = doc.NumPage()
	if pageCount == 0 {
		return nil, 0, 0, 0, fmt.Errorf("pdf has no pages")
	}

	img, err := doc.ImageDPI(0, RasterDPI)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("render page 1: %w", err)
	}

	bounds := img.Bounds()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("encode page image: %w", err)
	}

	return buf.Bytes(), bounds.Dx(), bounds.Dy(), pageCount, nil
}

// pageSize is a helper for tests that want dimensions without a PNG round
// trip.
func pageSize(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
