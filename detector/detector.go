// Package detector implements the field-position detector (C7): given one
// rasterized form page and the original PDF bytes, it locates input slots
// and their labels using layout geometry first, falling back to
// keyword-anchored detection, and reports a font hint for the overlay
// renderer.
package detector

import (
	"fmt"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
)

// Config configures detector thresholds. Fields default to the values
// named in spec.md §4.4 when zero.
type Config struct {
	MinLabelConfidence float64
}

// Detector runs Strategy A then, if it underperforms, Strategy B.
type Detector struct {
	cfg Config
	log *common.ContextLogger
}

// New builds a Detector.
func New(cfg Config, log *common.ContextLogger) *Detector {
	return &Detector{cfg: cfg, log: log}
}

// Detect runs the full C7 pipeline on one page image (PNG/JPEG bytes at
// 300 DPI) and the original PDF bytes (for font inspection). Any internal
// failure is captured and reported as BBoxDetection.Error with empty
// field_positions — the worker must still persist the schema (spec.md
// §4.4 failure semantics).
func (d *Detector) Detect(pageImage []byte, pdfBytes []byte, pageWidth, pageHeight int) (result repository.BBoxDetection) {
	defer func() {
		if r := recover(); r != nil {
			result = repository.BBoxDetection{
				ImageWidth:  pageWidth,
				ImageHeight: pageHeight,
				Error:       fmt.Sprintf("detector panic: %v", r),
			}
			if d.log != nil {
				d.log.WithField("panic", r).Error("detector panicked")
			}
		}
	}()

	words, err := ocrWords(pageImage)
	if err != nil {
		return repository.BBoxDetection{ImageWidth: pageWidth, ImageHeight: pageHeight, Error: err.Error()}
	}

	underlines, err := detectUnderlines(pageImage)
	if err != nil {
		return repository.BBoxDetection{ImageWidth: pageWidth, ImageHeight: pageHeight, Error: err.Error()}
	}

	boxes, err := detectBoxes(pageImage, underlines)
	if err != nil {
		return repository.BBoxDetection{ImageWidth: pageWidth, ImageHeight: pageHeight, Error: err.Error()}
	}

	grouped := groupLabels(words, d.labelConfidence())

	positions := matchLabelsStrategyA(underlines, boxes, grouped)

	if len(positions) < 3 {
		positions = keywordAnchoredFallback(words, underlines)
		for i := range positions {
			positions[i].DetectionType = "keyword"
		}
	} else {
		for i := range positions {
			positions[i].DetectionType = "layout"
		}
	}

	font := detectFont(pdfBytes)

	return repository.BBoxDetection{
		ImageWidth:     pageWidth,
		ImageHeight:    pageHeight,
		FontInfo:       font,
		FieldPositions: positions,
	}
}

func (d *Detector) labelConfidence() float64 {
	if d.cfg.MinLabelConfidence > 0 {
		return d.cfg.MinLabelConfidence
	}
	return 0.30
}
