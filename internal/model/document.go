package model

import "time"

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	DocumentStatusIngested    DocumentStatus = "ingested"
	DocumentStatusDuplicate   DocumentStatus = "duplicate"
	DocumentStatusNeedsReview DocumentStatus = "needs_review"
	DocumentStatusFailed      DocumentStatus = "failed"
)

// Document is a single ingested source document (PDF or rendered HTML).
type Document struct {
	ID          string         `json:"id"`
	SourceURL   string         `json:"source_url,omitempty"`
	Filename    string         `json:"filename,omitempty"`
	ContentHash string         `json:"content_hash"`
	ContentType string         `json:"content_type"`
	RawURI      string         `json:"raw_uri,omitempty"`
	TextURI     string         `json:"text_uri,omitempty"`
	Status      DocumentStatus `json:"status"`
	Extraction  *ExtractionMeta `json:"extraction,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ExtractionMeta is the persisted subset of an ExtractionResult.
type ExtractionMeta struct {
	Pages      int     `json:"pages"`
	Confidence float64 `json:"confidence"`
	Backend    string  `json:"backend"`
	OCRUsed    bool    `json:"ocr_used"`
	OCRStatus  string  `json:"ocr_status,omitempty"`
}

// OCR status labels on an extraction result.
const (
	OCRStatusNotNeeded    = "not_needed"
	OCRStatusNotAttempted = "not_attempted"
	OCRStatusApplied      = "applied"
)

// PageResult holds the extracted text and confidence for one page.
type PageResult struct {
	Number     int     `json:"number"`
	Text       string  `json:"-"`
	Confidence float64 `json:"confidence"`
	OCRUsed    bool    `json:"ocr_used,omitempty"`
}

// ExtractionResult is produced once per ingested document by the extraction
// engine and consumed by the structured parser. Overall confidence is a
// length-weighted aggregate over pages, in [0,1].
type ExtractionResult struct {
	Text       string       `json:"-"`
	Pages      []PageResult `json:"pages"`
	Confidence float64      `json:"confidence"`
	Backend    string       `json:"backend"`
	OCRUsed    bool         `json:"ocr_used"`
	OCRStatus  string       `json:"ocr_status"`
}

// Meta returns the persistable summary of the result.
func (r *ExtractionResult) Meta() *ExtractionMeta {
	return &ExtractionMeta{
		Pages:      len(r.Pages),
		Confidence: r.Confidence,
		Backend:    r.Backend,
		OCRUsed:    r.OCRUsed,
		OCRStatus:  r.OCRStatus,
	}
}
