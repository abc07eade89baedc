package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupRects_MergesNearDuplicatesKeepingWidest(t *testing.T) {
	in := []rect{
		{X: 100, Y: 200, W: 40, H: 5},
		{X: 105, Y: 203, W: 60, H: 5},
		{X: 500, Y: 200, W: 50, H: 5},
	}
	out := dedupRects(in)
	require.Len(t, out, 2)
	assert.Equal(t, 60.0, out[0].W)
}

func TestGroupLabels_MergesCoLinearAdjacentWords(t *testing.T) {
	words := []word{
		{Text: "Họ", X: 10, Y: 100, W: 20, H: 15, Confidence: 90},
		{Text: "tên:", X: 35, Y: 100, W: 30, H: 15, Confidence: 92},
		{Text: "Ngày", X: 10, Y: 300, W: 30, H: 15, Confidence: 88},
	}
	groups := groupLabels(words, 0)
	require.Len(t, groups, 2)
	assert.Equal(t, "Họ tên:", groups[0].Text)
}

func TestBestLabelFor_PrefersColonSuffixAndLength(t *testing.T) {
	labels := []groupedLabel{
		{Text: "A", X: 10, Y: 90, W: 10, H: 15, Confidence: 90},
		{Text: "Họ tên:", X: 10, Y: 90, W: 60, H: 15, Confidence: 90},
	}
	el := rect{X: 20, Y: 150, W: 150, H: 5}

	best, ok := bestLabelFor(el, labels)
	require.True(t, ok)
	assert.Equal(t, "Họ tên:", best.Text)
}

func TestKeywordAnchoredFallback_AttachesNearestUnderline(t *testing.T) {
	words := []word{{Text: "Điện thoại:", X: 10, Y: 100, W: 80, H: 15, Confidence: 90}}
	underlines := []rect{{X: 10, Y: 150, W: 200, H: 2}}

	positions := keywordAnchoredFallback(words, underlines)
	require.Len(t, positions, 1)
	assert.Equal(t, "phone", positions[0].FieldID)
	assert.Equal(t, 150.0, positions[0].BBox.Y)
}

func TestKeywordAnchoredFallback_SynthesizesPositionWithoutUnderline(t *testing.T) {
	words := []word{{Text: "Email:", X: 10, Y: 100, W: 50, H: 15, Confidence: 90}}

	positions := keywordAnchoredFallback(words, nil)
	require.Len(t, positions, 1)
	assert.Equal(t, 200.0, positions[0].BBox.Width)
	assert.Equal(t, 10.0+50.0+10.0, positions[0].BBox.X)
}

func TestDetectFont_PrefersTimesOverArial(t *testing.T) {
	pdf := []byte("/BaseFont /ABCDEF+Arial /BaseFont /GHIJKL+TimesNewRomanPSMT")
	font := detectFont(pdf)
	assert.Equal(t, "TimesNewRomanPSMT", font.Primary)
	assert.Len(t, font.ObservedNames, 2)
}

func TestDetectFont_DefaultsWhenNoFontsFound(t *testing.T) {
	font := detectFont([]byte("no fonts here"))
	assert.Equal(t, "Helvetica", font.Primary)
}
