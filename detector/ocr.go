package detector

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// word is one OCR dictionary entry: text plus its bounding box in image
// pixel space and Tesseract's word-level confidence (0-100).
type word struct {
	Text       string
	X, Y, W, H float64
	Confidence float64
}

// ocrWords runs Tesseract over the page image and returns its per-word
// bounding boxes, dropping words shorter than 2 characters (spec.md §4.4
// step 4).
func ocrWords(pageImage []byte) ([]word, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage("vie", "eng"); err != nil {
		return nil, fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImageFromBytes(pageImage); err != nil {
		return nil, fmt.Errorf("load ocr image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("ocr bounding boxes: %w", err)
	}

	words := make([]word, 0, len(boxes))
	for _, b := range boxes {
		if len([]rune(b.Word)) < 2 {
			continue
		}
		words = append(words, word{
			Text:       b.Word,
			X:          float64(b.Box.Min.X),
			Y:          float64(b.Box.Min.Y),
			W:          float64(b.Box.Dx()),
			H:          float64(b.Box.Dy()),
			Confidence: b.Confidence,
		})
	}
	return words, nil
}

// OCRPlainText runs Tesseract and returns the full plain-text result used
// by the form-understanding worker for field extraction and title
// synthesis (spec.md §4.3 step 3).
func OCRPlainText(pageImage []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage("vie", "eng"); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImageFromBytes(pageImage); err != nil {
		return "", fmt.Errorf("load ocr image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr text: %w", err)
	}
	return text, nil
}
