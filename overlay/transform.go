package overlay

import "vnforms.dev/db/repository"

// drawPosition converts a detector bbox (image-pixel space, top-left
// origin) into a PDF draw position (point space, bottom-left origin),
// per spec.md §4.7's coordinate transform.
func drawPosition(bbox repository.BBox, pageWidth, pageHeight float64, imageWidth, imageHeight int) (x, y float64) {
	scaleX := pageWidth / float64(imageWidth)
	scaleY := pageHeight / float64(imageHeight)

	x = bbox.X * scaleX
	y = pageHeight - bbox.Y*scaleY - 0.7*bbox.Height*scaleY
	return x, y
}
