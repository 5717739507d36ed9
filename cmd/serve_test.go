package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqagent/ingest-cli/internal/extract"
	"github.com/reqagent/ingest-cli/internal/fetch"
	"github.com/reqagent/ingest-cli/internal/ingest"
	"github.com/reqagent/ingest-cli/internal/parse"
	"github.com/reqagent/ingest-cli/internal/profile"
	"github.com/reqagent/ingest-cli/internal/storage"
	"github.com/reqagent/ingest-cli/internal/store"
)

const uploadFixture = `Community Development Grant Programme

Funded by: Example Foundation. Grants of £10,000 - £50,000 are available for local projects.

Deadline: 31 March 2025.
Eligible areas: United Kingdom.
Focus areas: education, community.
`

// newTestEnv builds a pipeline environment over temp storage with the
// rules-only parser, enough for exercising the API routes.
func newTestEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(t.Context()))

	blobs, err := storage.NewLocal(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	sitesPath := filepath.Join(t.TempDir(), "sites.yml")
	require.NoError(t, os.WriteFile(sitesPath, []byte("example.org:\n  waits:\n    page_load_ms: 100\n"), 0o644))
	registry := profile.NewRegistry(sitesPath)

	fetcher := fetch.NewFetcher(registry, fetch.Options{})
	engine := extract.NewEngine(nil, nil, extract.Options{})
	parser := parse.New(nil, parse.Config{})

	return &pipelineEnv{
		Store:    st,
		Registry: registry,
		Pipeline: ingest.New(fetcher, engine, parser, st, blobs, registry, ingest.Options{}),
	}
}

func multipartUpload(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestRouter_Health(t *testing.T) {
	router := newRouter(newTestEnv(t), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_UploadThenGetDocument(t *testing.T) {
	router := newRouter(newTestEnv(t), nil)

	body, contentType := multipartUpload(t, "document", "grant.txt", uploadFixture)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		DocumentID string `json:"document_id"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, "ingested", res.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/"+res.DocumentID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		Document    map[string]any `json:"document"`
		Opportunity map[string]any `json:"opportunity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "grant.txt", doc.Document["filename"])
	assert.Equal(t, "Community Development Grant Programme", doc.Opportunity["title"])
}

func TestRouter_UploadMissingField(t *testing.T) {
	router := newRouter(newTestEnv(t), nil)

	body, contentType := multipartUpload(t, "attachment", "grant.txt", uploadFixture)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_IngestValidation(t *testing.T) {
	router := newRouter(newTestEnv(t), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`{"url":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_IngestRejectsNonHTTPS(t *testing.T) {
	router := newRouter(newTestEnv(t), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`{"url":"http://example.org/grants"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRouter_DocumentNotFound(t *testing.T) {
	router := newRouter(newTestEnv(t), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ProfilesReload(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/profiles/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Domains []string `json:"domains"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, res.Domains, "example.org")
}

func TestRouter_CORSHeaders(t *testing.T) {
	router := newRouter(newTestEnv(t), []string{"https://review.example.org"})

	req := httptest.NewRequest(http.MethodOptions, "/api/ingest", nil)
	req.Header.Set("Origin", "https://review.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://review.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}
