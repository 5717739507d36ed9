package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reqagent/ingest-cli/internal/fetch"
	"github.com/reqagent/ingest-cli/internal/resilience"
)

// maxUploadBytes caps multipart uploads at the fetch response limit.
const maxUploadBytes = 20 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Profiles.Watch {
			go env.Registry.Watch(ctx, 5*time.Minute)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env, cfg.Server.AllowedOrigins),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// newRouter builds the API routes over an initialized pipeline environment.
func newRouter(env *pipelineEnv, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/ingest", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}

		res, err := env.Pipeline.IngestURL(r.Context(), req.URL)
		if err != nil {
			status := http.StatusBadGateway
			var ferr *fetch.Error
			if resilience.IsValidation(err) || (errors.As(err, &ferr) && ferr.Kind == fetch.KindValidation) {
				status = http.StatusUnprocessableEntity
			}
			zap.L().Warn("api: ingest failed",
				zap.String("url", req.URL),
				zap.Error(err))
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/api/ingest/upload", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("document")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart field 'document' is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
			return
		}

		res, err := env.Pipeline.IngestUpload(r.Context(), header.Filename, data)
		if err != nil {
			status := http.StatusInternalServerError
			if resilience.IsValidation(err) {
				status = http.StatusUnprocessableEntity
			}
			zap.L().Warn("api: upload failed",
				zap.String("filename", header.Filename),
				zap.Error(err))
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/api/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := env.Store.GetDocument(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}

		resp := map[string]any{"document": doc}
		if rec, err := env.Store.GetOpportunityByDocument(r.Context(), id); err == nil && rec != nil {
			resp["opportunity"] = rec.Opportunity
			resp["quality"] = rec.Quality
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/api/profiles/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := env.Registry.Reload(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"domains":   env.Registry.Domains(),
			"loaded_at": env.Registry.LoadedAt(),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
