// Package llm provides the narrow capability contract (C10) used by the
// form-understanding worker (field extraction, title synthesis) and the
// session engine (question phrasing, answer classification, compound-field
// parsing, preview prose). Every method has a hard timeout and a
// deterministic rule-based fallback; callers never observe an unavailable
// remote as an error, only as a silent downgrade to the fallback.
package llm

import (
	"context"
	"time"

	"vnforms.dev/db/repository"
)

// Classification is the outcome of grading a regular-field answer.
type Classification string

const (
	ClassificationValid             Classification = "valid"
	ClassificationNeedsConfirmation Classification = "needs-confirmation"
	ClassificationInvalid           Classification = "invalid"
)

// ExtractedField is one field guessed from OCR text by field extraction.
type ExtractedField struct {
	Label string `json:"label"`
	Type  string `json:"type"`
}

// CompoundResult is the outcome of parsing a free-form compound answer.
type CompoundResult struct {
	Parsed             map[string]string `json:"parsed"`
	Missing            []string          `json:"missing"`
	NeedsClarification bool              `json:"needs_clarification"`
}

// PreviewItem is one rendered {label, value} row for the review preview.
type PreviewItem struct {
	Label string
	Value string
}

// Capability is the full C10 contract. Every implementation (remote-backed
// or pure fallback) must satisfy this interface so callers are agnostic to
// whether a real model is configured.
type Capability interface {
	ExtractFields(ctx context.Context, ocrText string) ([]ExtractedField, error)
	SynthesizeTitle(ctx context.Context, ocrText string) (string, error)
	GenerateQuestion(ctx context.Context, field repository.FieldDescriptor, recentLabels []string) (string, error)
	ValidateAnswer(ctx context.Context, field repository.FieldDescriptor, value string) (Classification, string, error)
	ParseCompound(ctx context.Context, field repository.FieldDescriptor, raw string) (CompoundResult, error)
	RenderPreview(ctx context.Context, items []PreviewItem) (string, error)
}

// DefaultTimeout is the hard per-call timeout from spec.md §5: "LLM calls
// 10s with zero retries — fail fast."
const DefaultTimeout = 10 * time.Second
