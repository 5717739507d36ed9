// Package ingest orchestrates the document pipeline: dedupe, blob storage,
// text extraction, structured parsing, and persistence.
package ingest

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reqagent/ingest-cli/internal/dedup"
	"github.com/reqagent/ingest-cli/internal/extract"
	"github.com/reqagent/ingest-cli/internal/fetch"
	"github.com/reqagent/ingest-cli/internal/model"
	"github.com/reqagent/ingest-cli/internal/parse"
	"github.com/reqagent/ingest-cli/internal/profile"
	"github.com/reqagent/ingest-cli/internal/resilience"
	"github.com/reqagent/ingest-cli/internal/storage"
	"github.com/reqagent/ingest-cli/internal/store"
)

// warnDuplicateOpportunity flags a record whose title/donor/deadline tuple
// was already published under another document.
const warnDuplicateOpportunity = "duplicate_opportunity"

// Options configures pipeline behavior.
type Options struct {
	// MaxConcurrent bounds parallel URL ingestion in IngestBatch. Default: 4.
	MaxConcurrent int
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	fetcher  *fetch.Fetcher
	engine   *extract.Engine
	parser   *parse.Parser
	store    store.Store
	blobs    storage.Storage
	registry *profile.Registry
	deduper  *dedup.Deduper
	opts     Options
}

// New creates a Pipeline.
func New(fetcher *fetch.Fetcher, engine *extract.Engine, parser *parse.Parser,
	st store.Store, blobs storage.Storage, registry *profile.Registry, opts Options) *Pipeline {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return &Pipeline{
		fetcher:  fetcher,
		engine:   engine,
		parser:   parser,
		store:    st,
		blobs:    blobs,
		registry: registry,
		deduper:  dedup.NewDeduper(st),
		opts:     opts,
	}
}

// Result is the outcome of ingesting one document.
type Result struct {
	DocumentID  string                   `json:"document_id"`
	Status      model.DocumentStatus     `json:"status"`
	Opportunity *model.Opportunity       `json:"opportunity,omitempty"`
	Quality     *model.QualityAssessment `json:"quality,omitempty"`
}

// IngestURL fetches a document and runs it through the pipeline.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL string) (*Result, error) {
	fetched, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, fetched.Body, fetched.ContentType, fetched.FinalURL, "")
}

// IngestUpload runs uploaded document bytes through the pipeline.
func (p *Pipeline) IngestUpload(ctx context.Context, filename string, data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, eris.New("ingest: empty upload")
	}
	return p.ingest(ctx, data, detectContentType(filename, data), "", filename)
}

// BatchItem is the per-URL outcome of a batch ingest.
type BatchItem struct {
	URL    string  `json:"url"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// IngestBatch ingests URLs concurrently. Individual failures are recorded
// per item; only context cancellation aborts the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, urls []string) ([]BatchItem, error) {
	items := make([]BatchItem, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxConcurrent)
	for i, u := range urls {
		items[i].URL = u
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return err
			}
			res, err := p.IngestURL(ctx, u)
			if err != nil {
				zap.L().Warn("ingest: batch item failed",
					zap.String("url", u),
					zap.Error(err))
				items[i].Err = err
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, eris.Wrap(err, "ingest: batch")
	}
	return items, nil
}

func (p *Pipeline) ingest(ctx context.Context, body []byte, contentType, sourceURL, filename string) (*Result, error) {
	key := dedup.DocumentKey(body, contentType)
	docID := uuid.New().String()

	existing, reserved, err := p.deduper.LookupOrReserve(ctx, dedup.KindDocument, key, docID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		zap.L().Info("ingest: duplicate document",
			zap.String("document_id", existing),
			zap.String("source_url", sourceURL))
		res := &Result{DocumentID: existing, Status: model.DocumentStatusDuplicate}
		if rec, err := p.store.GetOpportunityByDocument(ctx, existing); err == nil && rec != nil {
			res.Opportunity = &rec.Opportunity
			res.Quality = &rec.Quality
		}
		return res, nil
	}

	// Until a document row exists the reservation points at nothing. Failure
	// paths below must release it, or retries of the same bytes would forever
	// resolve to a duplicate of a document that was never written.
	releaseKey := func(kind dedup.Kind, k string) {
		if rerr := p.deduper.Release(context.WithoutCancel(ctx), kind, k); rerr != nil {
			zap.L().Error("ingest: release reservation",
				zap.String("document_id", docID),
				zap.String("kind", string(kind)),
				zap.Error(rerr))
		}
	}

	rawURI, err := p.blobs.Put(ctx, key+extFor(contentType), body)
	if err != nil {
		releaseKey(dedup.KindDocument, key)
		return nil, eris.Wrap(err, "ingest: store raw blob")
	}

	doc := &model.Document{
		ID:          docID,
		SourceURL:   sourceURL,
		Filename:    filename,
		ContentHash: key,
		ContentType: contentType,
		RawURI:      rawURI,
		Status:      model.DocumentStatusIngested,
	}

	var text string
	extraction, err := p.engine.Extract(ctx, body, contentType, p.registry.Resolve(domainOf(sourceURL)))
	switch {
	case err == nil:
		doc.Extraction = extraction.Meta()
		text = extraction.Text
	case resilience.IsValidation(err):
		doc.Status = model.DocumentStatusFailed
		if cerr := p.store.CreateDocument(ctx, doc); cerr != nil {
			releaseKey(dedup.KindDocument, key)
			return nil, cerr
		}
		return nil, eris.Wrapf(err, "ingest: document %s rejected", docID)
	default:
		// Extraction trouble still produces a reviewable record: the parser
		// emits its all-placeholder fallback for empty text.
		zap.L().Warn("ingest: extraction failed",
			zap.String("document_id", docID),
			zap.Error(err))
	}

	if text != "" {
		textURI, err := p.blobs.Put(ctx, key+".txt", []byte(text))
		if err != nil {
			releaseKey(dedup.KindDocument, key)
			return nil, eris.Wrap(err, "ingest: store text blob")
		}
		doc.TextURI = textURI
	}

	opp, qa := p.parser.Parse(ctx, text, sourceURL)

	if qa.Tier != model.TierHigh {
		doc.Status = model.DocumentStatusNeedsReview
	}

	var pubKey string
	var pubReserved bool
	if opp.FieldPresent("title") && opp.FieldPresent("donor") && opp.FieldPresent("deadline") {
		pubKey = dedup.PublishKey(opp.Title, opp.Donor, opp.Deadline)
		pubExisting, reserved, err := p.deduper.LookupOrReserve(ctx, dedup.KindPublish, pubKey, docID)
		if err != nil {
			releaseKey(dedup.KindDocument, key)
			return nil, err
		}
		pubReserved = reserved
		if !pubReserved && pubExisting != docID {
			qa.Warnings = append(qa.Warnings, warnDuplicateOpportunity)
			doc.Status = model.DocumentStatusNeedsReview
			zap.L().Info("ingest: opportunity already published",
				zap.String("document_id", docID),
				zap.String("published_by", pubExisting))
		}
	}

	if err := p.store.CreateDocument(ctx, doc); err != nil {
		if pubReserved {
			releaseKey(dedup.KindPublish, pubKey)
		}
		releaseKey(dedup.KindDocument, key)
		return nil, err
	}
	rec := &store.OpportunityRecord{
		DocumentID:  docID,
		Opportunity: *opp,
		Quality:     *qa,
	}
	if err := p.store.SaveOpportunity(ctx, rec); err != nil {
		return nil, err
	}

	zap.L().Info("ingest: document processed",
		zap.String("document_id", docID),
		zap.String("status", string(doc.Status)),
		zap.String("tier", string(qa.Tier)),
		zap.String("parser_stage", qa.ParserStage))

	return &Result{DocumentID: docID, Status: doc.Status, Opportunity: opp, Quality: qa}, nil
}

func detectContentType(filename string, data []byte) string {
	switch {
	case strings.HasPrefix(string(data[:min(len(data), 5)]), "%PDF-"):
		return "application/pdf"
	case strings.HasSuffix(strings.ToLower(filename), ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(strings.ToLower(filename), ".html"),
		strings.HasSuffix(strings.ToLower(filename), ".htm"):
		return "text/html"
	default:
		return http.DetectContentType(data)
	}
}

func extFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return ".pdf"
	case strings.Contains(ct, "html"):
		return ".html"
	default:
		return ".txt"
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
