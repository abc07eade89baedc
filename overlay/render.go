// Package overlay implements the overlay renderer (C9): it composes a
// filling session's answers onto the original PDF at the detector's
// coordinates, or emits a summary page when no coordinates are known.
package overlay

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/signintech/gopdf"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
	"vnforms.dev/session"
)

const (
	lineHeight      = 12.0
	summaryTitle    = "Thông tin đã điền"
	summaryMinY     = 80.0
	rightPageMargin = 72.0
	summaryMargin   = 144.0
)

// Config configures a Renderer.
type Config struct {
	// FontPath overrides font discovery; empty probes candidateFontPaths.
	FontPath string
}

// Renderer renders a FillingSession's answers onto a FormSchema's original
// PDF. It never returns an error to its caller for an unexpected internal
// failure — it returns the original bytes unchanged instead, matching
// spec.md §4.7's "never emit a corrupted or partially overlaid document".
type Renderer struct {
	cfg Config
	log *common.ContextLogger
}

// New builds a Renderer.
func New(cfg Config, log *common.ContextLogger) *Renderer {
	return &Renderer{cfg: cfg, log: log}
}

// Render composes s's answers onto originalPDF per schema's field
// positions, falling back to a summary page or the unchanged original as
// spec.md §4.7 prescribes.
func (r *Renderer) Render(originalPDF []byte, schema *repository.FormSchema, s *session.FillingSession) (result []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.log != nil {
				r.log.WithField("panic", rec).Error("overlay panicked, returning original pdf")
			}
			result = originalPDF
		}
	}()

	if len(s.Answers) == 0 {
		return originalPDF
	}

	items := answeredItems(schema, s)
	anyPositioned := false
	for _, it := range items {
		if it.bbox != nil {
			anyPositioned = true
			break
		}
	}

	pageWidth, pageHeight := firstPageMediaBox(originalPDF)
	fontPath := resolveFontPath(r.cfg.FontPath, schema.BBoxDetection.FontInfo)

	if !anyPositioned {
		out, err := r.renderSummaryFallback(originalPDF, items, pageWidth, pageHeight, fontPath)
		if err != nil {
			if r.log != nil {
				r.log.WithError(err).Warn("summary fallback render failed, returning original pdf")
			}
			return originalPDF
		}
		return out
	}

	out, err := r.renderOverlay(originalPDF, items, schema.BBoxDetection, pageWidth, pageHeight, fontPath)
	if err != nil {
		if r.log != nil {
			r.log.WithError(err).Warn("overlay render failed, returning original pdf")
		}
		return originalPDF
	}
	return out
}

// answeredItem is one field's rendered {label, value, bbox}.
type answeredItem struct {
	label string
	value string
	bbox  *repository.BBox
}

func answeredItems(schema *repository.FormSchema, s *session.FillingSession) []answeredItem {
	items := make([]answeredItem, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		ans, ok := s.Answers[f.ID]
		if !ok {
			continue
		}
		items = append(items, answeredItem{label: f.Label, value: flattenAnswer(f, ans), bbox: f.BBox})
	}
	return items
}

// flattenAnswer joins a compound answer's subfields in declaration order,
// mirroring the flattening session's Preview applies so the preview and the
// final rendered document never disagree.
func flattenAnswer(f repository.FieldDescriptor, a session.Answer) string {
	if a.Subvalue == nil {
		return a.Value
	}
	parts := make([]string, 0, len(f.Subfields))
	for _, sf := range f.Subfields {
		if v, ok := a.Subvalue[sf.ID]; ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// renderOverlay stamps each answered field's text directly onto the
// original PDF's own pages via pdfcpu, one text watermark per field, so the
// source content stream is preserved exactly everywhere except the stamped
// text itself — no page is rasterized.
func (r *Renderer) renderOverlay(originalPDF []byte, items []answeredItem, det repository.BBoxDetection, pageWidth, pageHeight float64, fontPath string) ([]byte, error) {
	byPage := map[int][]answeredItem{}
	for _, it := range items {
		if it.bbox == nil {
			continue
		}
		page := it.bbox.Page
		if page <= 0 {
			page = 1
		}
		byPage[page] = append(byPage[page], it)
	}

	fontName, err := installWatermarkFont(fontPath)
	if err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	current := originalPDF
	for page, pageItems := range byPage {
		selected := []string{strconv.Itoa(page)}
		for _, it := range pageItems {
			x, y := drawPosition(*it.bbox, pageWidth, pageHeight, det.ImageWidth, det.ImageHeight)
			desc := fmt.Sprintf("fontname:%s, points:12, position:bl, offset:%.1f %.1f, opacity:1", fontName, x, y)
			wm, err := model.TextWatermark(it.value, desc, true, false, types.POINTS)
			if err != nil {
				return nil, fmt.Errorf("build stamp for field %q: %w", it.label, err)
			}

			var out bytes.Buffer
			if err := api.AddWatermarks(bytes.NewReader(current), &out, selected, wm, conf); err != nil {
				return nil, fmt.Errorf("stamp page %d: %w", page, err)
			}
			current = out.Bytes()
		}
	}
	return current, nil
}

// renderSummaryFallback merges the original document's pages through
// unchanged and appends a synthesized "Thông tin đã điền" page listing
// every answer, per spec.md §4.7's no-bbox fallback.
func (r *Renderer) renderSummaryFallback(originalPDF []byte, items []answeredItem, pageWidth, pageHeight float64, fontPath string) ([]byte, error) {
	summary, err := buildSummaryPages(items, pageWidth, pageHeight, fontPath)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	rsc := []io.ReadSeeker{bytes.NewReader(originalPDF), bytes.NewReader(summary)}
	if err := api.MergeCreate(rsc, &out, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("merge summary page onto original: %w", err)
	}
	return out.Bytes(), nil
}

// buildSummaryPages synthesizes only the trailing summary page(s); the
// original document's own pages are never touched here, they are merged in
// unchanged by renderSummaryFallback.
func buildSummaryPages(items []answeredItem, pageWidth, pageHeight float64, fontPath string) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: gopdf.Rect{W: pageWidth, H: pageHeight}})
	if err := registerFont(pdf, fontPath); err != nil {
		return nil, err
	}

	pdf.AddPageWithOption(gopdf.PageOption{PageSize: &gopdf.Rect{W: pageWidth, H: pageHeight}})
	pdf.SetXY(36, 36)
	pdf.Cell(nil, summaryTitle)

	y := 36.0 + lineHeight*2
	wrapWidth := pageWidth - summaryMargin
	for _, it := range items {
		// gopdf's y grows downward: start a new page once the next entry
		// would fall within summaryMinY of the bottom edge.
		if y > pageHeight-summaryMinY {
			pdf.AddPageWithOption(gopdf.PageOption{PageSize: &gopdf.Rect{W: pageWidth, H: pageHeight}})
			y = 36
		}
		pdf.SetXY(36, y)
		line := fmt.Sprintf("%s: %s", it.label, it.value)
		pdf.MultiCell(&gopdf.Rect{W: wrapWidth, H: lineHeight * 3}, line)
		y += lineHeight * 2
	}

	var out bytes.Buffer
	if _, err := pdf.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("write summary pages: %w", err)
	}
	return out.Bytes(), nil
}

func registerFont(pdf *gopdf.GoPdf, fontPath string) error {
	if fontPath == "" {
		return fmt.Errorf("no usable unicode font found")
	}
	if err := pdf.AddTTFFont("overlay", fontPath); err != nil {
		return fmt.Errorf("load font %s: %w", fontPath, err)
	}
	if err := pdf.SetFont("overlay", "", 12); err != nil {
		return fmt.Errorf("set font: %w", err)
	}
	return nil
}

// installWatermarkFont registers fontPath with pdfcpu's font subsystem so
// watermark descriptors can reference it by name, and returns that name.
func installWatermarkFont(fontPath string) (string, error) {
	if fontPath == "" {
		return "", fmt.Errorf("no usable unicode font found")
	}
	if err := font.InstallFonts([]string{fontPath}); err != nil {
		return "", fmt.Errorf("install stamp font %s: %w", fontPath, err)
	}
	return strings.TrimSuffix(filepath.Base(fontPath), filepath.Ext(fontPath)), nil
}
