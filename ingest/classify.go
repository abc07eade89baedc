package ingest

import "bytes"

// Format is the classified type of a fetched blob, by magic bytes
// (spec.md §4.3).
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatDOC     Format = "doc"
	FormatUnknown Format = "unknown"
)

var (
	pdfMagic  = []byte("%PDF")
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	oleMagic  = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// Classify inspects a blob's leading bytes to determine its format.
func Classify(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		return FormatPDF
	case bytes.HasPrefix(data, zipMagic):
		return FormatDOCX
	case bytes.HasPrefix(data, oleMagic):
		return FormatDOC
	default:
		return FormatUnknown
	}
}

// NeedsConversion reports whether a format must go through the external
// converter before C7/OCR can process it.
func (f Format) NeedsConversion() bool {
	return f == FormatDOC || f == FormatDOCX
}

// Extension is the file extension matching a Format, used to name the
// converter's input temp file.
func (f Format) Extension() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatDOCX:
		return "docx"
	case FormatDOC:
		return "doc"
	default:
		return "bin"
	}
}
