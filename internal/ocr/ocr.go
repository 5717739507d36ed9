// Package ocr recovers text from scanned or image-only PDFs. It is the
// fallback behind the extraction engine: pages whose embedded text layer
// comes back empty or garbled are re-read through a configured provider.
package ocr

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/reqagent/ingest-cli/internal/config"
)

// ErrDisabled is returned by the disabled provider. Callers record the page
// as unrecovered rather than failing the whole document.
var ErrDisabled = errors.New("ocr: disabled by configuration")

// PageText is recognized text for one zero-based page index.
type PageText struct {
	Index int
	Text  string
}

// Provider recognizes text from a PDF on disk, page by page. Providers do
// not score what they return; the extraction engine assesses quality.
type Provider interface {
	Name() string
	RecognizePDF(ctx context.Context, pdfPath string) ([]PageText, error)
}

// NewProvider creates a Provider based on config.
func NewProvider(cfg config.OCRConfig, mistralKey string) (Provider, error) {
	switch cfg.Provider {
	case "none", "":
		return Disabled{}, nil
	case "mistral":
		if mistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistral(mistralKey, cfg.MistralModel), nil
	case "tesseract":
		return NewTesseract(cfg.TesseractPath, cfg.PdftoppmPath), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// Disabled is the no-op provider. Deployments without an OCR budget keep
// text-layer extraction and surface image-only pages as unrecovered.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) RecognizePDF(context.Context, string) ([]PageText, error) {
	return nil, ErrDisabled
}
