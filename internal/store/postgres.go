package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/reqagent/ingest-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Mock pools implement it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"insert_document": `INSERT INTO documents (id, source_url, filename, content_hash, content_type, raw_uri, text_uri, status, extraction, created_at)
	                    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"get_document":    `SELECT id, source_url, filename, content_hash, content_type, raw_uri, text_uri, status, extraction, created_at FROM documents WHERE id = $1`,
	"update_doc_status": `UPDATE documents SET status = $1 WHERE id = $2`,
	"insert_opportunity": `INSERT INTO opportunities (id, document_id, payload, quality, tier, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_opportunity": `SELECT id, document_id, payload, quality, created_at FROM opportunities WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1`,
	"reserve_key":     `INSERT INTO idempotency_keys (kind, idem_key, ref, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (kind, idem_key) DO NOTHING`,
	"lookup_key":      `SELECT ref FROM idempotency_keys WHERE kind = $1 AND idem_key = $2`,
	"release_key":     `DELETE FROM idempotency_keys WHERE kind = $1 AND idem_key = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use it with a mock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_url   TEXT,
	filename     TEXT,
	content_hash TEXT NOT NULL,
	content_type TEXT NOT NULL,
	raw_uri      TEXT,
	text_uri     TEXT,
	status       TEXT NOT NULL DEFAULT 'ingested',
	extraction   JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS opportunities (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id TEXT NOT NULL REFERENCES documents(id),
	payload     JSONB NOT NULL,
	quality     JSONB NOT NULL,
	tier        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	kind       TEXT NOT NULL,
	idem_key   TEXT NOT NULL,
	ref        TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, idem_key)
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_opportunities_document_id ON opportunities(document_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_tier ON opportunities(tier);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	var extractionJSON []byte
	if doc.Extraction != nil {
		raw, err := json.Marshal(doc.Extraction)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal extraction")
		}
		extractionJSON = raw
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, source_url, filename, content_hash, content_type, raw_uri, text_uri, status, extraction, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		doc.ID, doc.SourceURL, doc.Filename, doc.ContentHash, doc.ContentType,
		doc.RawURI, doc.TextURI, string(doc.Status), extractionJSON, doc.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert document")
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	var sourceURL, filename, rawURI, textURI *string
	var extractionJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, source_url, filename, content_hash, content_type, raw_uri, text_uri, status, extraction, created_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &sourceURL, &filename, &d.ContentHash, &d.ContentType,
		&rawURI, &textURI, &d.Status, &extractionJSON, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("document not found: %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}

	if sourceURL != nil {
		d.SourceURL = *sourceURL
	}
	if filename != nil {
		d.Filename = *filename
	}
	if rawURI != nil {
		d.RawURI = *rawURI
	}
	if textURI != nil {
		d.TextURI = *textURI
	}
	if len(extractionJSON) > 0 {
		d.Extraction = &model.ExtractionMeta{}
		if err := json.Unmarshal(extractionJSON, d.Extraction); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extraction")
		}
	}
	return &d, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1 WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("document not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT id, source_url, filename, content_hash, content_type, raw_uri, text_uri, status, extraction, created_at
	          FROM documents WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var sourceURL, filename, rawURI, textURI *string
		var extractionJSON []byte

		if err := rows.Scan(&d.ID, &sourceURL, &filename, &d.ContentHash, &d.ContentType,
			&rawURI, &textURI, &d.Status, &extractionJSON, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		if sourceURL != nil {
			d.SourceURL = *sourceURL
		}
		if filename != nil {
			d.Filename = *filename
		}
		if rawURI != nil {
			d.RawURI = *rawURI
		}
		if textURI != nil {
			d.TextURI = *textURI
		}
		if len(extractionJSON) > 0 {
			d.Extraction = &model.ExtractionMeta{}
			if err := json.Unmarshal(extractionJSON, d.Extraction); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal extraction")
			}
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) SaveOpportunity(ctx context.Context, rec *OpportunityRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(rec.Opportunity)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal opportunity")
	}
	qualityJSON, err := json.Marshal(rec.Quality)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal quality")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO opportunities (id, document_id, payload, quality, tier, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.DocumentID, payloadJSON, qualityJSON, string(rec.Quality.Tier), rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert opportunity for document %s", rec.DocumentID)
}

func (s *PostgresStore) GetOpportunityByDocument(ctx context.Context, documentID string) (*OpportunityRecord, error) {
	var rec OpportunityRecord
	var payloadJSON, qualityJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, document_id, payload, quality, created_at FROM opportunities
		 WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1`,
		documentID,
	).Scan(&rec.ID, &rec.DocumentID, &payloadJSON, &qualityJSON, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get opportunity")
	}
	if err := json.Unmarshal(payloadJSON, &rec.Opportunity); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal opportunity")
	}
	if err := json.Unmarshal(qualityJSON, &rec.Quality); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal quality")
	}
	return &rec, nil
}

func (s *PostgresStore) ReserveKey(ctx context.Context, kind, key, ref string) (string, bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (kind, idem_key, ref, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind, idem_key) DO NOTHING`,
		kind, key, ref, time.Now().UTC(),
	)
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: reserve %s key", kind)
	}
	if tag.RowsAffected() > 0 {
		return "", true, nil
	}

	var existing string
	err = s.pool.QueryRow(ctx,
		`SELECT ref FROM idempotency_keys WHERE kind = $1 AND idem_key = $2`,
		kind, key,
	).Scan(&existing)
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: lookup %s key", kind)
	}
	return existing, false, nil
}

func (s *PostgresStore) ReleaseKey(ctx context.Context, kind, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE kind = $1 AND idem_key = $2`,
		kind, key,
	)
	return eris.Wrapf(err, "postgres: release %s key", kind)
}
