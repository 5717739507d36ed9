// Package extract turns fetched document bytes into text with a confidence
// score. PDFs go through pdftotext with an OCR fallback for image-only
// pages; HTML goes through selector-hinted DOM extraction.
package extract

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/reqagent/ingest-cli/internal/model"
	"github.com/reqagent/ingest-cli/internal/ocr"
	"github.com/reqagent/ingest-cli/internal/profile"
	"github.com/reqagent/ingest-cli/internal/resilience"
)

// ErrNoText marks a document where no page yielded any text, even after the
// OCR fallback. This is terminal: retrying extraction cannot help.
var ErrNoText = errors.New("extract: no text recovered from any page")

// Results from OCR never score above this cap.
const ocrConfidenceCap = 0.95

// Options configures the extraction engine.
type Options struct {
	// MaxPDFBytes caps accepted PDF size. Default: 20 MiB.
	MaxPDFBytes int64

	// MaxPages caps the page count of an accepted PDF. Default: 50.
	MaxPages int

	// RetryRawThreshold: when layout-mode aggregate confidence falls below
	// this, raw mode runs and the better result wins per page. Default: 0.6.
	RetryRawThreshold float64

	// OCRPageThreshold: pages scoring below this go to the OCR provider.
	// Default: 0.35.
	OCRPageThreshold float64
}

func (o Options) withDefaults() Options {
	if o.MaxPDFBytes <= 0 {
		o.MaxPDFBytes = 20 << 20
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 50
	}
	if o.RetryRawThreshold <= 0 {
		o.RetryRawThreshold = 0.6
	}
	if o.OCRPageThreshold <= 0 {
		o.OCRPageThreshold = 0.35
	}
	return o
}

// Engine extracts text from PDF, HTML, and plain-text documents.
type Engine struct {
	pdftotext *PdfToText
	ocr       ocr.Provider
	opts      Options
}

// NewEngine creates an Engine. A nil provider disables OCR.
func NewEngine(pdftotext *PdfToText, provider ocr.Provider, opts Options) *Engine {
	if provider == nil {
		provider = ocr.Disabled{}
	}
	return &Engine{
		pdftotext: pdftotext,
		ocr:       provider,
		opts:      opts.withDefaults(),
	}
}

// Extract dispatches on the declared content type, falling back to content
// sniffing when the header is absent or generic.
func (e *Engine) Extract(ctx context.Context, body []byte, contentType string, prof *profile.Profile) (*model.ExtractionResult, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, resilience.NewValidationError("empty document body")
	}

	switch {
	case isPDF(body, contentType):
		return e.extractPDF(ctx, body)
	case isHTML(body, contentType):
		return e.extractHTML(body, prof)
	default:
		return e.extractPlainText(body)
	}
}

func isPDF(body []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF"))
}

func isHTML(body []byte, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") || strings.Contains(ct, "xhtml") {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(body))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// extractPlainText treats the whole body as one page of text.
func (e *Engine) extractPlainText(body []byte) (*model.ExtractionResult, error) {
	text := strings.TrimSpace(string(body))
	conf := ScoreText(text)
	if text == "" || conf == 0 {
		return nil, ErrNoText
	}
	return &model.ExtractionResult{
		Text:       text,
		Pages:      []model.PageResult{{Number: 1, Text: text, Confidence: conf}},
		Confidence: conf,
		Backend:    "text",
		OCRStatus:  model.OCRStatusNotNeeded,
	}, nil
}
