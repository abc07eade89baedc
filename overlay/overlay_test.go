package overlay

import (
	"bytes"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vnforms.dev/db/repository"
	"vnforms.dev/session"
)

// vietnameseUnicodeFont is the DejaVu install path already probed by
// candidateFontPaths; tests that need a real TTF to embed skip themselves
// when it isn't present rather than failing the whole suite.
const vietnameseUnicodeFont = "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"

// buildMinimalPDF returns a syntactically valid single-page PDF with an
// xref table computed from the actual byte offsets written, so go-fitz and
// pdfcpu can both open it without needing a recovery/repair pass.
func buildMinimalPDF(width, height float64) []byte {
	var buf bytes.Buffer
	var offsets []int

	buf.WriteString("%PDF-1.4\n")

	write := func(s string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(s)
	}

	write("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	write("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	write(fmt.Sprintf("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %.0f %.0f] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>\nendobj\n", width, height))
	write("4 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	content := "BT /F1 24 Tf 72 700 Td (Sample) Tj ET"
	write(fmt.Sprintf("5 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content))

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	buf.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n")
	buf.WriteString(fmt.Sprintf("%d", xrefOffset))
	buf.WriteString("\n%%EOF")

	return buf.Bytes()
}

func skipIfFontMissing(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(vietnameseUnicodeFont); err != nil {
		t.Skipf("unicode TTF not installed at %s: %v", vietnameseUnicodeFont, err)
	}
}

func TestFirstPageMediaBox_ParsesExplicitBox(t *testing.T) {
	pdf := []byte("1 0 obj << /Type /Page /MediaBox [0 0 612 792] >> endobj")
	w, h := firstPageMediaBox(pdf)
	assert.Equal(t, 612.0, w)
	assert.Equal(t, 792.0, h)
}

func TestFirstPageMediaBox_FallsBackToA4WhenAbsent(t *testing.T) {
	w, h := firstPageMediaBox([]byte("%PDF-1.4 no box here"))
	assert.Equal(t, defaultPageWidth, w)
	assert.Equal(t, defaultPageHeight, h)
}

func TestDrawPosition_TransformsImageSpaceToPDFSpace(t *testing.T) {
	bbox := repository.BBox{X: 100, Y: 200, Width: 50, Height: 20, Page: 1}
	x, y := drawPosition(bbox, 595, 842, 1190, 1684)

	assert.InDelta(t, 50.0, x, 0.01)
	expectedY := 842.0 - 200.0*0.5 - 0.7*20*0.5
	assert.InDelta(t, expectedY, y, 0.01)
}

func TestDrawPosition_IdentityScaleWhenImageMatchesPageUnits(t *testing.T) {
	bbox := repository.BBox{X: 10, Y: 10, Width: 10, Height: 10, Page: 1}
	x, y := drawPosition(bbox, 100, 100, 100, 100)
	assert.InDelta(t, 10.0, x, 0.01)
	assert.InDelta(t, 100.0-10.0-7.0, y, 0.01)
}

func TestResolveFontPath_OverrideWins(t *testing.T) {
	got := resolveFontPath("/custom/font.ttf", repository.FontInfo{Primary: "Times New Roman"})
	assert.Equal(t, "/custom/font.ttf", got)
}

func TestResolveFontPath_EmptyWhenNothingOnDisk(t *testing.T) {
	old := candidateFontPaths
	candidateFontPaths = []string{"/nonexistent/a.ttf", "/nonexistent/b.ttf"}
	defer func() { candidateFontPaths = old }()

	got := resolveFontPath("", repository.FontInfo{Primary: "Arial"})
	assert.Equal(t, "", got)
}

func TestRender_EmptyAnswersReturnsOriginalBytesUnchanged(t *testing.T) {
	original := []byte("%PDF-1.4 fake original bytes")
	schema := &repository.FormSchema{
		FormID: "don-xin-nghi-phep",
		Fields: []repository.FieldDescriptor{
			{ID: "ho_ten", Label: "Họ và tên"},
		},
	}
	s := session.NewFillingSession("sess-1", schema.FormID, "", time.Now())

	r := New(Config{}, nil)
	out := r.Render(original, schema, s)

	assert.Equal(t, original, out)
}

func TestRender_UnresolvableFontFallsBackToOriginalBytes(t *testing.T) {
	original := []byte("%PDF-1.4 fake original bytes /MediaBox [0 0 595 842]")
	schema := &repository.FormSchema{
		FormID: "don-xin-nghi-phep",
		Fields: []repository.FieldDescriptor{
			{ID: "ho_ten", Label: "Họ và tên", BBox: &repository.BBox{X: 10, Y: 10, Width: 40, Height: 10, Page: 1}},
		},
	}
	s := session.NewFillingSession("sess-2", schema.FormID, "", time.Now())
	s.Answers["ho_ten"] = session.Answer{Value: "Nguyễn Văn A"}

	old := candidateFontPaths
	candidateFontPaths = []string{"/nonexistent/a.ttf"}
	defer func() { candidateFontPaths = old }()

	r := New(Config{}, nil)
	out := r.Render(original, schema, s)

	// No usable font to stamp with and no real PDF: overlay must fail closed
	// to the original bytes rather than emit a broken document.
	assert.Equal(t, original, out)
}

func TestFlattenAnswer_JoinsSubfieldsInDeclarationOrder(t *testing.T) {
	field := repository.FieldDescriptor{
		Subfields: []repository.Subfield{
			{ID: "so"},
			{ID: "cap_ngay"},
			{ID: "cap_tai"},
		},
	}
	answer := session.Answer{Subvalue: map[string]string{
		"cap_tai":  "Hà Nội",
		"so":       "001234567890",
		"cap_ngay": "15/05/2020",
	}}

	got := flattenAnswer(field, answer)
	require.Equal(t, "001234567890, 15/05/2020, Hà Nội", got)
}

func TestFlattenAnswer_ScalarValuePassesThrough(t *testing.T) {
	field := repository.FieldDescriptor{}
	answer := session.Answer{Value: "plain text"}
	assert.Equal(t, "plain text", flattenAnswer(field, answer))
}

// TestRender_PositionedFieldStampsOriginalPageInPlace covers scenario S3: a
// field with a known bbox is stamped onto the original page without adding
// or losing any page.
func TestRender_PositionedFieldStampsOriginalPageInPlace(t *testing.T) {
	skipIfFontMissing(t)

	original := buildMinimalPDF(612, 792)
	originalPages, err := api.PageCount(bytes.NewReader(original), model.NewDefaultConfiguration())
	require.NoError(t, err)
	require.Equal(t, 1, originalPages)

	schema := &repository.FormSchema{
		FormID: "don-xin-nghi-phep",
		Fields: []repository.FieldDescriptor{
			{ID: "ho_ten", Label: "Họ và tên", BBox: &repository.BBox{X: 100, Y: 100, Width: 200, Height: 20, Page: 1}},
		},
		BBoxDetection: repository.BBoxDetection{ImageWidth: 2550, ImageHeight: 3300},
	}
	s := session.NewFillingSession("sess-overlay", schema.FormID, "", time.Now())
	s.Answers["ho_ten"] = session.Answer{Value: "Nguyễn Văn A"}

	r := New(Config{FontPath: vietnameseUnicodeFont}, nil)
	out := r.Render(original, schema, s)

	assert.NotEqual(t, original, out)

	outPages, err := api.PageCount(bytes.NewReader(out), model.NewDefaultConfiguration())
	require.NoError(t, err)
	assert.Equal(t, originalPages, outPages)
}

// TestRender_NoPositionedFieldsAppendsSummaryPage covers Property #9's
// page_count(original)+M and the no-bbox fallback of spec.md §4.7: the
// original page survives unchanged and exactly one summary page is
// appended listing every answer.
func TestRender_NoPositionedFieldsAppendsSummaryPage(t *testing.T) {
	skipIfFontMissing(t)

	original := buildMinimalPDF(612, 792)
	originalPages, err := api.PageCount(bytes.NewReader(original), model.NewDefaultConfiguration())
	require.NoError(t, err)

	schema := &repository.FormSchema{
		FormID: "don-xin-nghi-phep",
		Fields: []repository.FieldDescriptor{
			{ID: "ho_ten", Label: "Họ và tên"},
			{ID: "ngay_sinh", Label: "Ngày sinh"},
		},
	}
	s := session.NewFillingSession("sess-summary", schema.FormID, "", time.Now())
	s.Answers["ho_ten"] = session.Answer{Value: "Nguyễn Văn A"}
	s.Answers["ngay_sinh"] = session.Answer{Value: "01/01/1990"}

	r := New(Config{FontPath: vietnameseUnicodeFont}, nil)
	out := r.Render(original, schema, s)

	assert.NotEqual(t, original, out)

	outPages, err := api.PageCount(bytes.NewReader(out), model.NewDefaultConfiguration())
	require.NoError(t, err)
	assert.Equal(t, originalPages+1, outPages)
}
