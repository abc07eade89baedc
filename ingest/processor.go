// Package ingest implements the form-understanding worker (C6): given one
// object-created event, it classifies, converts, rasterizes, detects field
// positions, extracts a typed schema, and upserts it.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
	"vnforms.dev/detector"
	"vnforms.dev/llm"
	"vnforms.dev/queue"
	"vnforms.dev/statemanager"
	"vnforms.dev/storage"
)

// Config configures a Processor.
type Config struct {
	Bucket string
}

// Processor runs the C6 pipeline for one StorageEvent at a time. It holds
// no per-event state, so a single Processor is safe to reuse across a
// worker pool's goroutines.
type Processor struct {
	cfg        Config
	store      *storage.Store
	detector   *detector.Detector
	capability llm.Capability
	forms      repository.FormRepository
	ops        *statemanager.Manager
	log        *common.ContextLogger
}

// New builds a Processor. ops tracks each ProcessEvent call as an
// operation so the /state routes can answer "what is the worker doing right
// now, and what did the last N events do"; pass nil to skip tracking.
func New(cfg Config, store *storage.Store, det *detector.Detector, capability llm.Capability, forms repository.FormRepository, ops *statemanager.Manager, log *common.ContextLogger) *Processor {
	return &Processor{cfg: cfg, store: store, detector: det, capability: capability, forms: forms, ops: ops, log: log}
}

// ProcessEvent runs the full pipeline for one event. It is idempotent on
// form_id: retrying the same event re-derives the same id and re-upserts
// (spec.md §4.3 invariants).
func (p *Processor) ProcessEvent(ctx context.Context, event queue.StorageEvent) (err error) {
	log := p.log.WithFields(map[string]interface{}{"bucket": event.Bucket, "key": event.Key})

	opID := event.Bucket + "/" + event.Key
	if p.ops != nil {
		p.ops.StartOperation(opID, "ingest-process", map[string]interface{}{"bucket": event.Bucket, "key": event.Key})
		defer func() { p.ops.CompleteOperation(opID, err) }()
	}

	data, err := p.store.Get(ctx, event.Key)
	if err != nil {
		return common.ExternalUnavailable("fetch source blob", err)
	}

	format := Classify(data)
	canonicalKey := event.Key
	pdfBytes := data

	if format.NeedsConversion() {
		converted, err := ConvertToPDF(ctx, data, format.Extension())
		if err != nil {
			return common.ConversionFailed(event.Key, err)
		}
		pdfBytes = converted

		stem := strings.TrimSuffix(event.Key, "."+format.Extension())
		canonicalKey = stem + ".pdf"
		if err := p.store.Put(ctx, canonicalKey, "application/pdf", pdfBytes); err != nil {
			return common.ExternalUnavailable("upload converted pdf", err)
		}
	} else if format == FormatUnknown {
		return fmt.Errorf("unrecognized document format for %s", event.Key)
	}

	formID := Slug(canonicalKey)

	pageImage, width, height, pageCount, err := RasterizeFirstPage(pdfBytes)
	if err != nil {
		return fmt.Errorf("rasterize page 1: %w", err)
	}

	bboxResult := p.detector.Detect(pageImage, pdfBytes, width, height)
	if bboxResult.Error != "" {
		log.WithField("detector_error", bboxResult.Error).Warn("field detection failed, persisting schema without bboxes")
	}

	ocrText, err := detector.OCRPlainText(pageImage)
	if err != nil {
		log.WithError(err).Warn("ocr plain text failed")
		ocrText = ""
	}

	extracted, err := p.capability.ExtractFields(ctx, ocrText)
	if err != nil || len(extracted) == 0 {
		extracted, _ = llm.NewFallbackCapability().ExtractFields(ctx, ocrText)
	}

	fields := BuildFieldDescriptors(extracted)
	AttachPositions(fields, bboxResult.FieldPositions)

	title, err := p.synthesizeTitle(ctx, ocrText)
	if err != nil {
		title = "Biểu mẫu"
	}

	schema := &repository.FormSchema{
		FormID:        formID,
		Title:         title,
		Aliases:       ExtractAliases(title, ocrText),
		PageCount:     pageCount,
		SourceBucket:  p.cfg.Bucket,
		SourceKey:     canonicalKey,
		Fields:        fields,
		BBoxDetection: bboxResult,
		CreatedAt:     time.Now(),
	}

	if err := p.forms.UpsertForm(ctx, schema); err != nil {
		return fmt.Errorf("upsert form schema: %w", err)
	}

	log.WithField("form_id", formID).Info("form schema upserted")
	return nil
}

// synthesizeTitle asks C10 only when the OCR text actually carries
// Vietnamese diacritics; otherwise the deterministic header-skipping
// fallback is at least as reliable (spec.md §4.3 step 6).
func (p *Processor) synthesizeTitle(ctx context.Context, ocrText string) (string, error) {
	if !hasVietnameseDiacritics(ocrText) {
		return llm.NewFallbackCapability().SynthesizeTitle(ctx, ocrText)
	}
	title, err := p.capability.SynthesizeTitle(ctx, ocrText)
	if err != nil || title == "" {
		return llm.NewFallbackCapability().SynthesizeTitle(ctx, ocrText)
	}
	return title, nil
}
