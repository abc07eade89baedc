package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ConvertTimeout is the hard timeout on the external office-format
// converter (spec.md §4.3: "30 s timeout").
const ConvertTimeout = 30 * time.Second

// ConvertToPDF shells out to a headless LibreOffice instance to convert a
// legacy .doc/.docx blob to PDF. Grounded on the teacher's convention of
// running external binaries via exec.CommandContext with an explicit
// timeout rather than a shell string.
func ConvertToPDF(ctx context.Context, data []byte, ext string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ConvertTimeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "vnforms-convert-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input."+ext)
	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write input file: %w", err)
	}

	cmd := exec.CommandContext(ctx, "soffice", "--headless", "--convert-to", "pdf", "--outdir", dir, inputPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("soffice convert: %w: %s", err, out)
	}

	outputPath := filepath.Join(dir, "input.pdf")
	pdfBytes, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read converted pdf: %w", err)
	}
	return pdfBytes, nil
}
