package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqagent/ingest-cli/internal/extract"
	"github.com/reqagent/ingest-cli/internal/fetch"
	"github.com/reqagent/ingest-cli/internal/model"
	"github.com/reqagent/ingest-cli/internal/parse"
	"github.com/reqagent/ingest-cli/internal/profile"
	"github.com/reqagent/ingest-cli/internal/storage"
	"github.com/reqagent/ingest-cli/internal/store"
)

const richDocument = `Community Development Grant Programme

Funded by: Example Foundation. Grants of £10,000 - £50,000 are available for local projects.

Deadline: 31 March 2025.
Eligible areas: United Kingdom.
Focus areas: education, community.

Eligibility:
- registered charities
- community interest companies
`

type testHarness struct {
	pipeline *Pipeline
	store    *store.SQLiteStore
	blobs    *storage.Local
}

// newTestPipeline builds a pipeline over a temp SQLite store and local blob
// storage, with the rules-only parser and no OCR.
func newTestPipeline(t *testing.T, registry *profile.Registry, srv *httptest.Server) *testHarness {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	blobs, err := storage.NewLocal(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	if registry == nil {
		registry = profile.NewRegistry(filepath.Join(t.TempDir(), "absent.yml"))
	}

	var fetcher *fetch.Fetcher
	if srv != nil {
		fetcher = fetch.NewFetcher(registry, fetch.Options{
			AllowPrivate: true,
			Client:       srv.Client(),
		})
	} else {
		fetcher = fetch.NewFetcher(registry, fetch.Options{})
	}

	engine := extract.NewEngine(nil, nil, extract.Options{})
	parser := parse.New(nil, parse.Config{})

	return &testHarness{
		pipeline: New(fetcher, engine, parser, st, blobs, registry, Options{MaxConcurrent: 2}),
		store:    st,
		blobs:    blobs,
	}
}

// fastRegistry maps the httptest host to a no-throttle profile so batch tests
// do not wait on default pacing.
func fastRegistry(t *testing.T, srv *httptest.Server) *profile.Registry {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	content := u.Hostname() + `:
  retry:
    max_attempts: 1
  rate_limit:
    requests_per_second: 1000
`
	path := filepath.Join(t.TempDir(), "sites.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return profile.NewRegistry(path)
}

func TestIngestUpload_RichDocument(t *testing.T) {
	h := newTestPipeline(t, nil, nil)
	ctx := context.Background()

	res, err := h.pipeline.IngestUpload(ctx, "grant.txt", []byte(richDocument))
	require.NoError(t, err)

	assert.Equal(t, model.DocumentStatusIngested, res.Status)
	require.NotNil(t, res.Quality)
	assert.Equal(t, model.TierHigh, res.Quality.Tier)
	assert.Equal(t, "rules", res.Quality.ParserStage)
	assert.Equal(t, "Community Development Grant Programme", res.Opportunity.Title)

	doc, err := h.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "grant.txt", doc.Filename)
	assert.NotEmpty(t, doc.ContentHash)
	assert.NotEmpty(t, doc.RawURI)
	assert.NotEmpty(t, doc.TextURI)
	require.NotNil(t, doc.Extraction)
	assert.Equal(t, "text", doc.Extraction.Backend)

	raw, err := h.blobs.Get(ctx, doc.RawURI)
	require.NoError(t, err)
	assert.Equal(t, richDocument, string(raw))

	rec, err := h.store.GetOpportunityByDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Example Foundation", rec.Opportunity.Donor)
}

func TestIngestUpload_DuplicateReturnsExistingRecord(t *testing.T) {
	h := newTestPipeline(t, nil, nil)
	ctx := context.Background()

	first, err := h.pipeline.IngestUpload(ctx, "grant.txt", []byte(richDocument))
	require.NoError(t, err)

	second, err := h.pipeline.IngestUpload(ctx, "copy-of-grant.txt", []byte(richDocument))
	require.NoError(t, err)

	assert.Equal(t, model.DocumentStatusDuplicate, second.Status)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	require.NotNil(t, second.Opportunity)
	assert.Equal(t, first.Opportunity.Title, second.Opportunity.Title)

	// No second document row was written.
	docs, err := h.store.ListDocuments(ctx, store.DocumentFilter{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIngestUpload_MinimalTextNeedsReview(t *testing.T) {
	h := newTestPipeline(t, nil, nil)

	res, err := h.pipeline.IngestUpload(context.Background(), "note.txt",
		[]byte("Grant available. Apply by email."))
	require.NoError(t, err)

	assert.Equal(t, model.DocumentStatusNeedsReview, res.Status)
	assert.Equal(t, model.TierLow, res.Quality.Tier)
	assert.Equal(t, model.PlaceholderUnknown, res.Opportunity.Title)
}

func TestIngestUpload_SamePublishTupleFlagsDuplicate(t *testing.T) {
	h := newTestPipeline(t, nil, nil)
	ctx := context.Background()

	first, err := h.pipeline.IngestUpload(ctx, "a.txt", []byte(richDocument))
	require.NoError(t, err)
	assert.NotContains(t, first.Quality.Warnings, warnDuplicateOpportunity)

	// Different bytes, same title/donor/deadline tuple.
	variant := richDocument + "\nLate applications will not be considered.\n"
	second, err := h.pipeline.IngestUpload(ctx, "b.txt", []byte(variant))
	require.NoError(t, err)

	assert.NotEqual(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, model.DocumentStatusNeedsReview, second.Status)
	assert.Contains(t, second.Quality.Warnings, warnDuplicateOpportunity)
}

func TestIngestUpload_EmptyBodyFails(t *testing.T) {
	h := newTestPipeline(t, nil, nil)

	_, err := h.pipeline.IngestUpload(context.Background(), "empty.txt", nil)
	assert.Error(t, err)

	res, err := h.pipeline.IngestUpload(context.Background(), "blank.txt", []byte("   \n  "))
	require.Error(t, err)
	assert.Nil(t, res)

	// The rejected document is still recorded for triage.
	docs, lerr := h.store.ListDocuments(context.Background(), store.DocumentFilter{Status: model.DocumentStatusFailed})
	require.NoError(t, lerr)
	assert.Len(t, docs, 1)
}

// flakyStorage fails a set number of Puts before delegating, modeling a
// transient blob store outage.
type flakyStorage struct {
	inner    storage.Storage
	failures int
}

func (f *flakyStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if f.failures > 0 {
		f.failures--
		return "", eris.New("blob store unavailable")
	}
	return f.inner.Put(ctx, key, data)
}

func (f *flakyStorage) Get(ctx context.Context, uri string) ([]byte, error) {
	return f.inner.Get(ctx, uri)
}

// A failed attempt must not leave its content hash reserved: retrying the
// same bytes after the outage clears has to produce a real document, not a
// duplicate pointing at nothing.
func TestIngestUpload_RetryAfterBlobOutage(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	local, err := storage.NewLocal(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	blobs := &flakyStorage{inner: local, failures: 1}

	registry := profile.NewRegistry(filepath.Join(t.TempDir(), "absent.yml"))
	p := New(fetch.NewFetcher(registry, fetch.Options{}),
		extract.NewEngine(nil, nil, extract.Options{}),
		parse.New(nil, parse.Config{}), st, blobs, registry, Options{})

	ctx := context.Background()
	_, err = p.IngestUpload(ctx, "grant.txt", []byte(richDocument))
	require.Error(t, err)

	res, err := p.IngestUpload(ctx, "grant.txt", []byte(richDocument))
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusIngested, res.Status)

	doc, err := st.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, res.DocumentID, doc.ID)
}

const grantPage = `<!doctype html>
<html>
<head><title>Grants</title></head>
<body>
<nav>Home | About | Contact</nav>
<main>
<h1>Community Development Grant Programme</h1>
<p>Funded by: Example Foundation. Grants of £10,000 - £50,000 are available for local projects.</p>
<p>Deadline: 31 March 2025.</p>
<p>Eligible areas: United Kingdom.</p>
<p>Focus areas: education, community.</p>
</main>
<footer>© Example Foundation</footer>
</body>
</html>`

func TestIngestURL_HTMLDocument(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(grantPage))
	}))
	defer srv.Close()

	h := newTestPipeline(t, fastRegistry(t, srv), srv)
	ctx := context.Background()

	res, err := h.pipeline.IngestURL(ctx, srv.URL+"/grants")
	require.NoError(t, err)

	assert.Equal(t, "Community Development Grant Programme", res.Opportunity.Title)
	assert.Equal(t, srv.URL+"/grants", res.Opportunity.OpportunityURL)

	doc, err := h.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/grants", doc.SourceURL)
	require.NotNil(t, doc.Extraction)
	assert.Equal(t, "html", doc.Extraction.Backend)
}

func TestIngestBatch_MixedOutcomes(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/other":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("Rural Housing Grant Scheme\n\nFunded by: Example Trust. Up to £5,000.\nDeadline: 30 June 2025.\n"))
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(grantPage))
		}
	}))
	defer srv.Close()

	h := newTestPipeline(t, fastRegistry(t, srv), srv)

	items, err := h.pipeline.IngestBatch(context.Background(), []string{
		srv.URL + "/grants",
		srv.URL + "/missing",
		srv.URL + "/other",
	})
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.NoError(t, items[0].Err)
	require.NotNil(t, items[0].Result)
	assert.Equal(t, "Community Development Grant Programme", items[0].Result.Opportunity.Title)

	assert.Error(t, items[1].Err)
	assert.Nil(t, items[1].Result)

	assert.NoError(t, items[2].Err)
	require.NotNil(t, items[2].Result)
	assert.Equal(t, "Rural Housing Grant Scheme", items[2].Result.Opportunity.Title)
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", detectContentType("scan.bin", []byte("%PDF-1.4 data")))
	assert.Equal(t, "application/pdf", detectContentType("report.PDF", []byte("not sniffed")))
	assert.Equal(t, "text/html", detectContentType("page.html", []byte("<div>hi</div>")))
	assert.Contains(t, detectContentType("notes.txt", []byte("plain words")), "text/plain")
}

func TestExtFor(t *testing.T) {
	assert.Equal(t, ".pdf", extFor("application/pdf"))
	assert.Equal(t, ".html", extFor("text/html; charset=utf-8"))
	assert.Equal(t, ".txt", extFor("text/plain"))
	assert.Equal(t, ".txt", extFor(""))
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.org", domainOf("https://www.example.org/grants"))
	assert.Equal(t, "funds.example.org", domainOf("https://funds.example.org:8443/x"))
	assert.Equal(t, "", domainOf(""))
}
