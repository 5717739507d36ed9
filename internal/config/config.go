package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Parse     ParseConfig     `yaml:"parse" mapstructure:"parse"`
	Profiles  ProfilesConfig  `yaml:"profiles" mapstructure:"profiles"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// StorageConfig configures blob storage for raw documents and extracted text.
type StorageConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// FetchConfig configures the document fetcher.
type FetchConfig struct {
	TimeoutSecs      int   `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxResponseBytes int64 `yaml:"max_response_bytes" mapstructure:"max_response_bytes"`
	MaxRedirects     int   `yaml:"max_redirects" mapstructure:"max_redirects"`
	AllowPrivate     bool  `yaml:"allow_private" mapstructure:"allow_private"`
}

// Timeout returns the fetch timeout as a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ExtractConfig configures the text extraction engine.
type ExtractConfig struct {
	PdfToTextPath     string  `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MaxPDFBytes       int64   `yaml:"max_pdf_bytes" mapstructure:"max_pdf_bytes"`
	MaxPages          int     `yaml:"max_pages" mapstructure:"max_pages"`
	RetryRawThreshold float64 `yaml:"retry_raw_threshold" mapstructure:"retry_raw_threshold"`
	OCRPageThreshold  float64 `yaml:"ocr_page_threshold" mapstructure:"ocr_page_threshold"`
}

// OCRConfig configures the OCR fallback provider.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	PdftoppmPath  string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// ParseConfig configures the structured parser.
type ParseConfig struct {
	MaxTokens      int `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs    int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPromptChars int `yaml:"max_prompt_chars" mapstructure:"max_prompt_chars"`
}

// Timeout returns the parse timeout as a duration.
func (c ParseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ProfilesConfig configures the site profile registry.
type ProfilesConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Watch bool   `yaml:"watch" mapstructure:"watch"`
}

// BatchConfig configures batch ingestion.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REQAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "ingest.db")
	v.SetDefault("storage.root", "data/blobs")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_response_bytes", 20*1024*1024)
	v.SetDefault("fetch.max_redirects", 5)
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("extract.max_pdf_bytes", 20*1024*1024)
	v.SetDefault("extract.max_pages", 50)
	v.SetDefault("extract.retry_raw_threshold", 0.6)
	v.SetDefault("extract.ocr_page_threshold", 0.35)
	v.SetDefault("ocr.provider", "none")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("parse.max_tokens", 1800)
	v.SetDefault("parse.timeout_secs", 45)
	v.SetDefault("parse.max_prompt_chars", 24000)
	v.SetDefault("profiles.path", "sites.yml")
	v.SetDefault("profiles.watch", false)
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
