// Package repository defines the persistence contracts for form schemas,
// crawl dedup records, and filling sessions, with CouchDB- and Redis-backed
// implementations.
package repository

import (
	"context"
	"time"
)

// FormSchema is the durable, typed description of one form's fillable
// fields, keyed by form_id.
type FormSchema struct {
	FormID        string          `json:"form_id"`
	Rev           string          `json:"-"`
	Title         string          `json:"title"`
	Aliases       []string        `json:"aliases"`
	PageCount     int             `json:"page_count"`
	SourceBucket  string          `json:"source_bucket"`
	SourceKey     string          `json:"source_key"`
	Fields        []FieldDescriptor `json:"fields"`
	BBoxDetection BBoxDetection   `json:"bbox_detection"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FieldDescriptor is a tagged variant: Type selects whether Subfields is
// meaningful ("compound"). Validators/Normalizers are interpreted by
// session.applyValidator and session.applyNormalizer.
type FieldDescriptor struct {
	ID         string       `json:"id"`
	Label      string       `json:"label"`
	Type       string       `json:"type"` // text,email,tel,date,number,textarea,address,compound
	Required   bool         `json:"required"`
	Page       int          `json:"page"`
	BBox       *BBox        `json:"bbox,omitempty"`
	Subfields  []Subfield   `json:"subfields,omitempty"`
	Validators []Rule       `json:"validators,omitempty"`
	Normalizers []Rule      `json:"normalizers,omitempty"`
}

// Subfield is an element of a compound field.
type Subfield struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// Rule is a sum type over validator/normalizer kinds, interpreted by an
// apply function rather than a virtual dispatch hierarchy.
type Rule struct {
	Kind string            `json:"kind"` // strip,collapse_ws,upper,lower,title,regex,length,numeric_range,date_range
	Args map[string]string `json:"args,omitempty"`
}

// BBox is an axis-aligned rectangle in image-pixel space, top-left origin.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Page   int     `json:"page"`
}

// BBoxDetection carries C7's output for one form.
type BBoxDetection struct {
	ImageWidth    int             `json:"image_width"`
	ImageHeight   int             `json:"image_height"`
	FontInfo      FontInfo        `json:"font_info"`
	FieldPositions []FieldPosition `json:"field_positions"`
	Error         string          `json:"error,omitempty"`
}

// FieldPosition is one detected input region before it is matched to a
// FieldDescriptor.
type FieldPosition struct {
	FieldID       string `json:"field_id"`
	Label         string `json:"label"`
	BBox          BBox   `json:"bbox"`
	Confidence    float64 `json:"confidence"`
	DetectionType string `json:"detection_type"` // layout|keyword
}

// FontInfo records the page's dominant font, consumed by the overlay
// renderer when choosing a drawing font.
type FontInfo struct {
	Primary       string   `json:"primary"`
	Size          float64  `json:"size"`
	ObservedNames []string `json:"observed_names"`
}

// CrawledDocument records one deduplicated crawl fetch.
type CrawledDocument struct {
	URL           string    `json:"url"`
	ContentHash   string    `json:"content_hash"`
	Rev           string    `json:"-"`
	BlobKey       string    `json:"blob_key"`
	Bucket        string    `json:"bucket"`
	ByteSize      int64     `json:"byte_size"`
	Format        string    `json:"format"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// ErrNotFound is returned by Get-style methods when no record exists.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

// ErrConflict is returned when an insert loses a uniqueness race.
var ErrConflict = conflictError{}

type conflictError struct{}

func (conflictError) Error() string { return "conflict" }

// FormRepository persists FormSchema documents.
type FormRepository interface {
	UpsertForm(ctx context.Context, form *FormSchema) error
	GetForm(ctx context.Context, formID string) (*FormSchema, error)
	ListForms(ctx context.Context) ([]*FormSchema, error)
}

// DedupRepository persists crawl dedup records keyed by (url, content hash).
type DedupRepository interface {
	// InsertIfAbsent creates a CrawledDocument for (url, hash). It returns
	// ErrConflict, not an error the caller must retry, when a concurrent
	// insert already won the race.
	InsertIfAbsent(ctx context.Context, doc *CrawledDocument) error
	FindByHash(ctx context.Context, url, contentHash string) (*CrawledDocument, error)
	TouchLastChecked(ctx context.Context, url, contentHash string, at time.Time) error
}

// SessionRepository persists FillingSession blobs with TTL refresh-on-read.
type SessionRepository interface {
	SaveSession(ctx context.Context, sessionID string, blob []byte, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string, refreshTTL time.Duration) ([]byte, error)
	DeleteSession(ctx context.Context, sessionID string) error
}
