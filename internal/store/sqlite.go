package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/reqagent/ingest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	source_url   TEXT,
	filename     TEXT,
	content_hash TEXT NOT NULL,
	content_type TEXT NOT NULL,
	raw_uri      TEXT,
	text_uri     TEXT,
	status       TEXT NOT NULL DEFAULT 'ingested',
	extraction   TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS opportunities (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	payload     TEXT NOT NULL,
	quality     TEXT NOT NULL,
	tier        TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	kind       TEXT NOT NULL,
	idem_key   TEXT NOT NULL,
	ref        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (kind, idem_key)
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_opportunities_document_id ON opportunities(document_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_tier ON opportunities(tier);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	var extractionJSON sql.NullString
	if doc.Extraction != nil {
		raw, err := json.Marshal(doc.Extraction)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal extraction")
		}
		extractionJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, source_url, filename, content_hash, content_type, raw_uri, text_uri, status, extraction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SourceURL, doc.Filename, doc.ContentHash, doc.ContentType,
		doc.RawURI, doc.TextURI, string(doc.Status), extractionJSON, doc.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert document")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_url, filename, content_hash, content_type, raw_uri, text_uri, status, extraction, created_at
		 FROM documents WHERE id = ?`,
		id,
	)
	return scanDocument(row)
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", id)
	}
	return checkRowsAffected(res, "document", id)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT id, source_url, filename, content_hash, content_type, raw_uri, text_uri, status, extraction, created_at
	          FROM documents WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) SaveOpportunity(ctx context.Context, rec *OpportunityRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(rec.Opportunity)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal opportunity")
	}
	qualityJSON, err := json.Marshal(rec.Quality)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quality")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO opportunities (id, document_id, payload, quality, tier, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DocumentID, string(payloadJSON), string(qualityJSON), string(rec.Quality.Tier), rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert opportunity for document %s", rec.DocumentID)
}

func (s *SQLiteStore) GetOpportunityByDocument(ctx context.Context, documentID string) (*OpportunityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, payload, quality, created_at FROM opportunities
		 WHERE document_id = ? ORDER BY created_at DESC LIMIT 1`,
		documentID,
	)

	var rec OpportunityRecord
	var payloadJSON, qualityJSON string
	err := row.Scan(&rec.ID, &rec.DocumentID, &payloadJSON, &qualityJSON, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get opportunity")
	}
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Opportunity); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal opportunity")
	}
	if err := json.Unmarshal([]byte(qualityJSON), &rec.Quality); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal quality")
	}
	return &rec, nil
}

func (s *SQLiteStore) ReserveKey(ctx context.Context, kind, key, ref string) (string, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (kind, idem_key, ref, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, idem_key) DO NOTHING`,
		kind, key, ref, time.Now().UTC(),
	)
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: reserve %s key", kind)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return "", true, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT ref FROM idempotency_keys WHERE kind = ? AND idem_key = ?`,
		kind, key,
	).Scan(&existing)
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: lookup %s key", kind)
	}
	return existing, false, nil
}

func (s *SQLiteStore) ReleaseKey(ctx context.Context, kind, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE kind = ? AND idem_key = ?`,
		kind, key,
	)
	return eris.Wrapf(err, "sqlite: release %s key", kind)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var sourceURL, filename, rawURI, textURI, extractionJSON sql.NullString

	err := row.Scan(&d.ID, &sourceURL, &filename, &d.ContentHash, &d.ContentType,
		&rawURI, &textURI, &d.Status, &extractionJSON, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("document not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}

	d.SourceURL = sourceURL.String
	d.Filename = filename.String
	d.RawURI = rawURI.String
	d.TextURI = textURI.String
	if extractionJSON.Valid {
		d.Extraction = &model.ExtractionMeta{}
		if err := json.Unmarshal([]byte(extractionJSON.String), d.Extraction); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal extraction")
		}
	}
	return &d, nil
}
