package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vnforms.dev/db/repository"
	"vnforms.dev/llm"
)

func TestClassify_RecognizesMagicBytes(t *testing.T) {
	assert.Equal(t, FormatPDF, Classify([]byte("%PDF-1.7 rest")))
	assert.Equal(t, FormatDOCX, Classify([]byte{'P', 'K', 0x03, 0x04, 'x'}))
	assert.Equal(t, FormatDOC, Classify([]byte{0xD0, 0xCF, 0x11, 0xE0, 0x00}))
	assert.Equal(t, FormatUnknown, Classify([]byte("garbage")))
}

func TestFormat_NeedsConversion(t *testing.T) {
	assert.True(t, FormatDOC.NeedsConversion())
	assert.True(t, FormatDOCX.NeedsConversion())
	assert.False(t, FormatPDF.NeedsConversion())
}

func TestSlug_StripsDiacriticsAndPunctuation(t *testing.T) {
	assert.Equal(t, "don-xin-nghi-phep", Slug("Đơn xin nghỉ phép"))
	assert.Equal(t, "raw-don-xin-viec-123-pdf", Slug("raw/don-xin-viec-123.pdf"))
}

func TestSlug_EmptyFallsBackToForm(t *testing.T) {
	assert.Equal(t, "form", Slug("???"))
}

func TestExtractAliases_MatchesKnownCategories(t *testing.T) {
	aliases := ExtractAliases("Đơn xin nghỉ phép năm 2024", "")
	require.Contains(t, aliases, "don-xin-nghi-phep")
}

func TestHasVietnameseDiacritics(t *testing.T) {
	assert.True(t, hasVietnameseDiacritics("Cộng hòa xã hội chủ nghĩa Việt Nam"))
	assert.False(t, hasVietnameseDiacritics("Plain ASCII text only"))
}

func TestBuildFieldDescriptors_FoldsIDTripleIntoCompound(t *testing.T) {
	extracted := []llm.ExtractedField{
		{Label: "Họ và tên", Type: "text"},
		{Label: "Số CMND/CCCD", Type: "text"},
		{Label: "Ngày cấp", Type: "date"},
		{Label: "Nơi cấp", Type: "text"},
		{Label: "Email", Type: "email"},
	}

	fields := BuildFieldDescriptors(extracted)

	var compound *repository.FieldDescriptor
	for i := range fields {
		if fields[i].Type == "compound" {
			compound = &fields[i]
		}
	}
	require.NotNil(t, compound)
	require.Len(t, compound.Subfields, 3)
	assert.Equal(t, "so", compound.Subfields[0].ID)
	assert.Equal(t, "cap_ngay", compound.Subfields[1].ID)
	assert.Equal(t, "cap_tai", compound.Subfields[2].ID)
}

func TestBuildFieldDescriptors_LoneIDFieldStaysRegular(t *testing.T) {
	extracted := []llm.ExtractedField{
		{Label: "Số CMND/CCCD", Type: "text"},
		{Label: "Email", Type: "email"},
	}

	fields := BuildFieldDescriptors(extracted)
	require.Len(t, fields, 2)
	assert.Equal(t, "text", fields[0].Type)
}

func TestAttachPositions_PicksBestFuzzyMatch(t *testing.T) {
	fields := []repository.FieldDescriptor{
		{ID: "ho_ten", Label: "Họ và tên"},
		{ID: "dia_chi", Label: "Địa chỉ"},
	}
	positions := []repository.FieldPosition{
		{FieldID: "field_1", Label: "Họ tên:", BBox: repository.BBox{X: 10, Y: 20, Page: 1}},
		{FieldID: "field_2", Label: "Địa chỉ thường trú:", BBox: repository.BBox{X: 10, Y: 60, Page: 1}},
	}

	AttachPositions(fields, positions)

	require.NotNil(t, fields[0].BBox)
	assert.Equal(t, 20.0, fields[0].BBox.Y)
	require.NotNil(t, fields[1].BBox)
	assert.Equal(t, 60.0, fields[1].BBox.Y)
}

func TestAttachPositions_LeavesBBoxNilBelowThreshold(t *testing.T) {
	fields := []repository.FieldDescriptor{{ID: "ho_ten", Label: "Họ và tên"}}
	positions := []repository.FieldPosition{{FieldID: "field_1", Label: "Ngày sinh nhật của bạn là gì", BBox: repository.BBox{Page: 1}}}

	AttachPositions(fields, positions)
	assert.Nil(t, fields[0].BBox)
}
