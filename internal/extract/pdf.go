package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/reqagent/ingest-cli/internal/model"
	"github.com/reqagent/ingest-cli/internal/ocr"
	"github.com/reqagent/ingest-cli/internal/resilience"
)

// extractPDF validates the document, runs the text layer through pdftotext,
// and sends weak pages to the OCR provider. Validation failures and fully
// empty documents are terminal.
func (e *Engine) extractPDF(ctx context.Context, body []byte) (*model.ExtractionResult, error) {
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		return nil, resilience.NewValidationError("not a PDF: missing %PDF header")
	}
	if int64(len(body)) > e.opts.MaxPDFBytes {
		return nil, resilience.NewValidationError(
			fmt.Sprintf("PDF exceeds %d byte cap", e.opts.MaxPDFBytes))
	}

	tmp, err := os.CreateTemp("", "ingest-*.pdf")
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	defer os.Remove(path) //nolint:errcheck
	if _, err := tmp.Write(body); err != nil {
		tmp.Close() //nolint:errcheck
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	pages, err := e.textLayerPages(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(pages) > e.opts.MaxPages {
		return nil, resilience.NewValidationError(
			fmt.Sprintf("PDF has %d pages, cap is %d", len(pages), e.opts.MaxPages))
	}

	res := &model.ExtractionResult{
		Pages:     pages,
		Backend:   "pdftotext",
		OCRStatus: model.OCRStatusNotNeeded,
	}
	e.recoverWeakPages(ctx, path, res)

	res.Confidence = overallConfidence(res.Pages, res.OCRUsed)

	var texts []string
	for _, p := range res.Pages {
		if strings.TrimSpace(p.Text) != "" {
			texts = append(texts, strings.TrimSpace(p.Text))
		}
	}
	if len(texts) == 0 {
		return nil, ErrNoText
	}
	res.Text = strings.Join(texts, "\n\n")
	return res, nil
}

// textLayerPages runs layout mode, and when the aggregate comes back weak,
// raw mode as well; the higher-scoring text wins page by page.
func (e *Engine) textLayerPages(ctx context.Context, path string) ([]model.PageResult, error) {
	layoutOut, layoutErr := e.pdftotext.Run(ctx, path, ModeLayout)
	pages := scorePages(layoutOut)

	if layoutErr == nil && aggregate(pages) >= e.opts.RetryRawThreshold {
		return pages, nil
	}

	rawOut, rawErr := e.pdftotext.Run(ctx, path, ModeRaw)
	if layoutErr != nil && rawErr != nil {
		return nil, layoutErr
	}
	rawPages := scorePages(rawOut)

	if layoutErr != nil {
		return rawPages, nil
	}
	if rawErr != nil {
		return pages, nil
	}

	// Same document, so page counts normally agree; when they differ the
	// longer split is trusted.
	if len(rawPages) > len(pages) {
		pages, rawPages = rawPages, pages
	}
	for i := range rawPages {
		if rawPages[i].Confidence > pages[i].Confidence {
			pages[i].Text = rawPages[i].Text
			pages[i].Confidence = rawPages[i].Confidence
		}
	}
	return pages, nil
}

// recoverWeakPages sends pages under the OCR threshold to the provider and
// keeps whichever text scores higher. OCR scores are capped below 1.
func (e *Engine) recoverWeakPages(ctx context.Context, path string, res *model.ExtractionResult) {
	var weak []int
	for i, p := range res.Pages {
		if p.Confidence < e.opts.OCRPageThreshold {
			weak = append(weak, i)
		}
	}
	if len(weak) == 0 && len(res.Pages) > 0 {
		return
	}

	recognized, err := e.ocr.RecognizePDF(ctx, path)
	if err != nil {
		res.OCRStatus = model.OCRStatusNotAttempted
		if !errors.Is(err, ocr.ErrDisabled) {
			zap.L().Warn("ocr fallback failed",
				zap.String("provider", e.ocr.Name()),
				zap.Error(err),
			)
		}
		return
	}

	byIndex := make(map[int]string, len(recognized))
	for _, p := range recognized {
		byIndex[p.Index] = p.Text
	}

	// An empty text layer can mean pdftotext saw no pages at all; in that
	// case the OCR result defines the page list.
	if len(res.Pages) == 0 {
		for _, p := range recognized {
			conf := ScoreText(p.Text)
			if conf > ocrConfidenceCap {
				conf = ocrConfidenceCap
			}
			res.Pages = append(res.Pages, model.PageResult{
				Number:     p.Index + 1,
				Text:       p.Text,
				Confidence: conf,
				OCRUsed:    true,
			})
		}
		res.OCRUsed = len(res.Pages) > 0
		res.OCRStatus = model.OCRStatusApplied
		return
	}

	res.OCRStatus = model.OCRStatusApplied
	for _, i := range weak {
		text, ok := byIndex[i]
		if !ok {
			continue
		}
		conf := ScoreText(text)
		if conf > ocrConfidenceCap {
			conf = ocrConfidenceCap
		}
		if conf > res.Pages[i].Confidence {
			res.Pages[i].Text = text
			res.Pages[i].Confidence = conf
			res.Pages[i].OCRUsed = true
			res.OCRUsed = true
		}
	}
}

// scorePages splits pdftotext output on form feeds and scores each page.
func scorePages(out string) []model.PageResult {
	if strings.TrimSpace(out) == "" {
		return nil
	}
	chunks := strings.Split(out, "\f")
	// pdftotext terminates the last page with a form feed.
	if len(chunks) > 1 && strings.TrimSpace(chunks[len(chunks)-1]) == "" {
		chunks = chunks[:len(chunks)-1]
	}

	pages := make([]model.PageResult, 0, len(chunks))
	for i, chunk := range chunks {
		pages = append(pages, model.PageResult{
			Number:     i + 1,
			Text:       chunk,
			Confidence: ScoreText(chunk),
		})
	}
	return pages
}
