package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Tesseract recognizes PDF pages with self-hosted tools: pdftoppm renders
// each page to an image, then the tesseract CLI reads the image.
type Tesseract struct {
	tesseractPath string
	pdftoppmPath  string
	dpi           int
}

// NewTesseract creates a Tesseract provider. Empty paths fall back to the
// binaries on PATH.
func NewTesseract(tesseractPath, pdftoppmPath string) *Tesseract {
	if tesseractPath == "" {
		tesseractPath = "tesseract"
	}
	if pdftoppmPath == "" {
		pdftoppmPath = "pdftoppm"
	}
	return &Tesseract{
		tesseractPath: tesseractPath,
		pdftoppmPath:  pdftoppmPath,
		dpi:           200,
	}
}

func (t *Tesseract) Name() string { return "tesseract" }

// RecognizePDF renders every page to PNG in a scratch directory and runs
// tesseract over each image. Pages that fail recognition are skipped rather
// than failing the document.
func (t *Tesseract) RecognizePDF(ctx context.Context, pdfPath string) ([]PageText, error) {
	scratch, err := os.MkdirTemp("", "ocr-pages-")
	if err != nil {
		return nil, eris.Wrap(err, "ocr: scratch dir")
	}
	defer os.RemoveAll(scratch) //nolint:errcheck

	prefix := filepath.Join(scratch, "page")
	render := exec.CommandContext(ctx, t.pdftoppmPath,
		"-png", "-r", strconv.Itoa(t.dpi), pdfPath, prefix)

	var stderr bytes.Buffer
	render.Stderr = &stderr
	if err := render.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: pdftoppm failed for %s: %s", pdfPath, stderr.String())
	}

	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, eris.Wrap(err, "ocr: list rendered pages")
	}
	if len(images) == 0 {
		return nil, eris.Errorf("ocr: pdftoppm produced no pages for %s", pdfPath)
	}
	sort.Slice(images, func(i, j int) bool {
		return pageNumber(images[i]) < pageNumber(images[j])
	})

	pages := make([]PageText, 0, len(images))
	for _, img := range images {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text, err := t.recognizeImage(ctx, img)
		if err != nil {
			continue
		}
		pages = append(pages, PageText{Index: pageNumber(img) - 1, Text: text})
	}
	return pages, nil
}

func (t *Tesseract) recognizeImage(ctx context.Context, imagePath string) (string, error) {
	cmd := exec.CommandContext(ctx, t.tesseractPath, imagePath, "stdout")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: tesseract failed for %s: %s", imagePath, stderr.String())
	}
	return stdout.String(), nil
}

// pageNumber parses the 1-based page number out of a pdftoppm output name
// like page-3.png.
func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
