package detector

import (
	"fmt"
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"vnforms.dev/db/repository"
)

// rect is a geometry primitive shared by underline/box detection before
// it is turned into a repository.FieldPosition.
type rect struct {
	X, Y, W, H float64
}

func (r rect) centerX() float64 { return r.X + r.W/2 }
func (r rect) centerY() float64 { return r.Y + r.H/2 }

// underlineKernelWidths are the morphological kernel widths probed to
// catch underlines of varying length (spec.md §4.4 step 2).
var underlineKernelWidths = []int{25, 40, 60}

// detectUnderlines finds horizontal underline segments via morphological
// opening with increasing kernel widths, deduplicating near-identical
// detections across kernel sizes.
func detectUnderlines(pageImage []byte) ([]rect, error) {
	img, err := gocv.IMDecode(pageImage, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decode page image: empty result")
	}

	var all []rect
	for _, width := range underlineKernelWidths {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(width, 1))
		opened := gocv.NewMat()
		gocv.MorphologyExWithParams(img, &opened, gocv.MorphOpen, kernel, 2, gocv.BorderConstant)
		kernel.Close()

		contours := gocv.FindContours(opened, gocv.RetrievalExternal, gocv.ChainApproxSimple)
		for i := 0; i < contours.Size(); i++ {
			b := gocv.BoundingRect(contours.At(i))
			if b.Dx() < 30 {
				continue
			}
			all = append(all, rect{X: float64(b.Min.X), Y: float64(b.Min.Y), W: float64(b.Dx()), H: float64(b.Dy())})
		}
		contours.Close()
		opened.Close()
	}

	return dedupRects(all), nil
}

// dedupRects merges near-duplicate rects detected at different kernel
// sizes: |Δx|<30 ∧ |Δy|<10 ∧ |Δw|<50 (spec.md §4.4 step 2).
func dedupRects(in []rect) []rect {
	var out []rect
	for _, r := range in {
		merged := false
		for i, existing := range out {
			if math.Abs(r.X-existing.X) < 30 && math.Abs(r.Y-existing.Y) < 10 && math.Abs(r.W-existing.W) < 50 {
				if r.W > existing.W {
					out[i] = r
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, r)
		}
	}
	return out
}

// detectBoxes finds rectangular input boxes via Canny edges + contour
// extraction, rejecting anything already claimed by an underline (spec.md
// §4.4 step 3).
func detectBoxes(pageImage []byte, underlines []rect) ([]rect, error) {
	img, err := gocv.IMDecode(pageImage, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decode page image: empty result")
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(img, &edges, 50, 150)

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var boxes []rect
	for i := 0; i < contours.Size(); i++ {
		b := gocv.BoundingRect(contours.At(i))
		w, h := float64(b.Dx()), float64(b.Dy())
		if w <= 50 || w >= 1000 || h <= 10 || h >= 100 {
			continue
		}
		if h == 0 || w/h <= 2 {
			continue
		}
		candidate := rect{X: float64(b.Min.X), Y: float64(b.Min.Y), W: w, H: h}
		if overlapsAny(candidate, underlines) {
			continue
		}
		boxes = append(boxes, candidate)
	}
	return boxes, nil
}

func overlapsAny(r rect, others []rect) bool {
	for _, o := range others {
		if r.X < o.X+o.W && r.X+r.W > o.X && r.Y < o.Y+o.H && r.Y+r.H > o.Y {
			return true
		}
	}
	return false
}

// groupedLabel is a run of co-linear, adjacent OCR words treated as one
// label (spec.md §4.4 step 5).
type groupedLabel struct {
	Text       string
	X, Y, W, H float64
	Confidence float64
}

func (g groupedLabel) centerX() float64 { return g.X + g.W/2 }
func (g groupedLabel) centerY() float64 { return g.Y + g.H/2 }

// groupLabels merges words whose vertical centers are within 5px and
// horizontal gap under 100px, preserving left-to-right order and
// averaging confidence over each group's words. Groups whose averaged
// confidence is below minConfidence are dropped after grouping.
func groupLabels(words []word, minConfidence float64) []groupedLabel {
	filtered := append([]word(nil), words...)
	sort.Slice(filtered, func(i, j int) bool {
		if math.Abs(filtered[i].Y-filtered[j].Y) > 5 {
			return filtered[i].Y < filtered[j].Y
		}
		return filtered[i].X < filtered[j].X
	})

	var groups []groupedLabel
	var counts []int
	for _, w := range filtered {
		if len(groups) > 0 {
			last := &groups[len(groups)-1]
			lastWordRight := last.X + last.W
			if math.Abs((last.Y+last.H/2)-(w.Y+w.H/2)) < 5 && w.X-lastWordRight < 100 && w.X >= last.X {
				last.Text += " " + w.Text
				newRight := math.Max(lastWordRight, w.X+w.W)
				last.W = newRight - last.X
				last.H = math.Max(last.H, w.H)
				n := float64(counts[len(counts)-1])
				last.Confidence = (last.Confidence*n + w.Confidence) / (n + 1)
				counts[len(counts)-1]++
				continue
			}
		}
		groups = append(groups, groupedLabel{Text: w.Text, X: w.X, Y: w.Y, W: w.W, H: w.H, Confidence: w.Confidence})
		counts = append(counts, 1)
	}

	out := groups[:0]
	for _, g := range groups {
		if g.Confidence/100.0 >= minConfidence || minConfidence <= 0 {
			out = append(out, g)
		}
	}
	return out
}

// matchLabelsStrategyA pairs every detected input element (underline or
// box) with its best label, following the priority/tie-break rule in
// spec.md §4.4 step 6.
func matchLabelsStrategyA(underlines, boxes []rect, labels []groupedLabel) []repository.FieldPosition {
	elements := make([]rect, 0, len(underlines)+len(boxes))
	elements = append(elements, underlines...)
	elements = append(elements, boxes...)

	positions := make([]repository.FieldPosition, 0, len(elements))
	for i, el := range elements {
		best, ok := bestLabelFor(el, labels)
		if !ok {
			continue
		}
		positions = append(positions, repository.FieldPosition{
			FieldID: fmt.Sprintf("field_%d", i+1),
			Label:   best.Text,
			BBox:    repository.BBox{X: el.X, Y: el.Y, Width: el.W, Height: el.H, Page: 1},
		})
	}
	return positions
}

func bestLabelFor(el rect, labels []groupedLabel) (groupedLabel, bool) {
	var best groupedLabel
	bestScore := -1.0
	bestDist := math.MaxFloat64
	found := false

	for _, lbl := range labels {
		above := math.Abs(el.centerX()-lbl.centerX()) < 300 && (el.Y-lbl.Y) > 0 && (el.Y-lbl.Y) < 100
		left := math.Abs(el.centerY()-lbl.centerY()) < 30 && (el.X-lbl.X) > 0 && (el.X-lbl.X) < 400
		if !above && !left {
			continue
		}

		score := 10*float64(len(lbl.Text)) + boolScore(hasColonSuffix(lbl.Text))*50 + lbl.Confidence/10
		dist := math.Hypot(el.centerX()-lbl.centerX(), el.centerY()-lbl.centerY())

		if score > bestScore || (score == bestScore && dist < bestDist) {
			best = lbl
			bestScore = score
			bestDist = dist
			found = true
		}
	}
	return best, found
}

func hasColonSuffix(s string) bool {
	return len(s) > 0 && s[len(s)-1] == ':'
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
