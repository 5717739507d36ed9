package extract

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// Mode selects the pdftotext layout strategy.
type Mode string

const (
	// ModeLayout preserves the physical layout; best for tables and
	// multi-column funding calls.
	ModeLayout Mode = "-layout"
	// ModeRaw emits text in content-stream order; recovers documents whose
	// layout reconstruction comes out scrambled.
	ModeRaw Mode = "-raw"
)

// PdfToText extracts the embedded text layer using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText backend. If binPath is empty, "pdftotext"
// is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// Run extracts the PDF at pdfPath to stdout in the given mode. Pages are
// separated by form feeds in the output.
func (p *PdfToText) Run(ctx context.Context, pdfPath string, mode Mode) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, string(mode), pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "extract: pdftotext %s failed for %s: %s", mode, pdfPath, stderr.String())
	}

	return stdout.String(), nil
}
