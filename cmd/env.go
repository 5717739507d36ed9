package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reqagent/ingest-cli/internal/extract"
	"github.com/reqagent/ingest-cli/internal/fetch"
	"github.com/reqagent/ingest-cli/internal/ingest"
	"github.com/reqagent/ingest-cli/internal/ocr"
	"github.com/reqagent/ingest-cli/internal/parse"
	"github.com/reqagent/ingest-cli/internal/profile"
	"github.com/reqagent/ingest-cli/internal/storage"
	"github.com/reqagent/ingest-cli/internal/store"
	anthropicpkg "github.com/reqagent/ingest-cli/pkg/anthropic"
)

// pipelineEnv holds the initialized store, registry, and pipeline needed by
// the ingest/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Registry *profile.Registry
	Pipeline *ingest.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		path := cfg.Store.Path
		if path == "" {
			path = "ingest.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, blob storage, profile registry, extraction
// engine, and parser. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	blobs, err := storage.NewLocal(cfg.Storage.Root)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := profile.NewRegistry(cfg.Profiles.Path)

	fetcher := fetch.NewFetcher(registry, fetch.Options{
		Timeout:          cfg.Fetch.Timeout(),
		MaxResponseBytes: cfg.Fetch.MaxResponseBytes,
		MaxRedirects:     cfg.Fetch.MaxRedirects,
		AllowPrivate:     cfg.Fetch.AllowPrivate,
	})

	ocrProvider, err := ocr.NewProvider(cfg.OCR, cfg.OCR.MistralKey)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if ocrProvider.Name() != "none" {
		zap.L().Info("ocr fallback enabled", zap.String("provider", ocrProvider.Name()))
	}

	engine := extract.NewEngine(
		extract.NewPdfToText(cfg.Extract.PdfToTextPath),
		ocrProvider,
		extract.Options{
			MaxPDFBytes:       cfg.Extract.MaxPDFBytes,
			MaxPages:          cfg.Extract.MaxPages,
			RetryRawThreshold: cfg.Extract.RetryRawThreshold,
			OCRPageThreshold:  cfg.Extract.OCRPageThreshold,
		},
	)

	var client anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		client = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Warn("REQAGENT_ANTHROPIC_KEY not set, parsing with rules stage only")
	}
	parser := parse.New(client, parse.Config{
		Model:          cfg.Anthropic.HaikuModel,
		MaxTokens:      int64(cfg.Parse.MaxTokens),
		Timeout:        cfg.Parse.Timeout(),
		MaxPromptChars: cfg.Parse.MaxPromptChars,
	})

	p := ingest.New(fetcher, engine, parser, st, blobs, registry, ingest.Options{
		MaxConcurrent: cfg.Batch.MaxConcurrent,
	})

	return &pipelineEnv{
		Store:    st,
		Registry: registry,
		Pipeline: p,
	}, nil
}
