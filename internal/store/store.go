package store

import (
	"context"
	"time"

	"github.com/reqagent/ingest-cli/internal/model"
)

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	Status model.DocumentStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// OpportunityRecord pairs a canonical opportunity with its assessment and
// source document.
type OpportunityRecord struct {
	ID          string                  `json:"id"`
	DocumentID  string                  `json:"document_id"`
	Opportunity model.Opportunity       `json:"opportunity"`
	Quality     model.QualityAssessment `json:"quality"`
	CreatedAt   time.Time               `json:"created_at"`
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error)

	// Opportunities
	SaveOpportunity(ctx context.Context, rec *OpportunityRecord) error
	GetOpportunityByDocument(ctx context.Context, documentID string) (*OpportunityRecord, error)

	// Idempotency. ReserveKey is atomic: when (kind, key) is free it binds
	// it to ref and reports reserved; otherwise it returns the holder.
	// ReleaseKey deletes a reservation so the key can be claimed again.
	ReserveKey(ctx context.Context, kind, key, ref string) (existing string, reserved bool, err error)
	ReleaseKey(ctx context.Context, kind, key string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
