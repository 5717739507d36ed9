package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "ingest.db", cfg.Store.Path)
	assert.Equal(t, "data/blobs", cfg.Storage.Root)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, int64(20*1024*1024), cfg.Fetch.MaxResponseBytes)
	assert.Equal(t, 5, cfg.Fetch.MaxRedirects)
	assert.False(t, cfg.Fetch.AllowPrivate)
	assert.Equal(t, "pdftotext", cfg.Extract.PdfToTextPath)
	assert.Equal(t, 50, cfg.Extract.MaxPages)
	assert.InDelta(t, 0.6, cfg.Extract.RetryRawThreshold, 0.001)
	assert.InDelta(t, 0.35, cfg.Extract.OCRPageThreshold, 0.001)
	assert.Equal(t, "none", cfg.OCR.Provider)
	assert.Equal(t, "pixtral-large-latest", cfg.OCR.MistralModel)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, 1800, cfg.Parse.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.Parse.Timeout())
	assert.Equal(t, "sites.yml", cfg.Profiles.Path)
	assert.False(t, cfg.Profiles.Watch)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrent)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/ingest
ocr:
  provider: tesseract
profiles:
  path: /etc/reqagent/sites.yml
  watch: true
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/ingest", cfg.Store.DatabaseURL)
	assert.Equal(t, "tesseract", cfg.OCR.Provider)
	assert.Equal(t, "/etc/reqagent/sites.yml", cfg.Profiles.Path)
	assert.True(t, cfg.Profiles.Watch)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Extract.MaxPages)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("REQAGENT_STORE_DRIVER", "postgres")
	t.Setenv("REQAGENT_LOG_LEVEL", "warn")
	t.Setenv("REQAGENT_ANTHROPIC_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "not-a-level"})
	assert.Error(t, err)
}
