package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Feeds      FeedsConfig      `yaml:"feeds" mapstructure:"feeds"`
	Filter     FilterConfig     `yaml:"filter" mapstructure:"filter"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
}

// FeedSource is a single configured syndication feed.
type FeedSource struct {
	URL  string `yaml:"url" mapstructure:"url" validate:"required,url"`
	Name string `yaml:"name" mapstructure:"name"`
}

// FeedsConfig lists the feeds to scan. File uses the "URL | Source Name"
// line format; Sources are appended after the file entries.
type FeedsConfig struct {
	File    string       `yaml:"file" mapstructure:"file"`
	Sources []FeedSource `yaml:"sources" mapstructure:"sources" validate:"dive"`
}

// FilterConfig points at the keyword lists of the relevance prefilter.
// The prefilter is disabled when no list is configured.
type FilterConfig struct {
	Tier1File   string `yaml:"tier1_file" mapstructure:"tier1_file"`
	Tier2File   string `yaml:"tier2_file" mapstructure:"tier2_file"`
	ContextFile string `yaml:"context_file" mapstructure:"context_file"`
}

// Enabled reports whether any keyword list is configured.
func (f FilterConfig) Enabled() bool {
	return f.Tier1File != "" || f.Tier2File != ""
}

// ExtractConfig configures document retrieval.
type ExtractConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent" validate:"required"`
	MaxBodyMB      int     `yaml:"max_body_mb" mapstructure:"max_body_mb" validate:"min=1"`
	HostRPS        float64 `yaml:"host_rps" mapstructure:"host_rps" validate:"gt=0"`
	FollowPDFLinks bool    `yaml:"follow_pdf_links" mapstructure:"follow_pdf_links"`
}

// OCRConfig selects the fallback used for PDFs without a text layer.
// An empty provider disables OCR.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=pdftotext mistral"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// ArchiveConfig configures local PDF archiving.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	PDFDir  string `yaml:"pdf_dir" mapstructure:"pdf_dir"`
}

// IngestConfig configures the ingestion coordinator.
type IngestConfig struct {
	PersistFetchFailures bool `yaml:"persist_fetch_failures" mapstructure:"persist_fetch_failures"`
}

// ClassifierConfig selects and tunes the AI classifier.
type ClassifierConfig struct {
	Provider     string `yaml:"provider" mapstructure:"provider" validate:"oneof=anthropic gemini openai"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
	MaxTokens    int    `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=256"`
	PromptFile   string `yaml:"prompt_file" mapstructure:"prompt_file"`
	TaxonomyFile string `yaml:"taxonomy_file" mapstructure:"taxonomy_file"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI (or compatible gateway) settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnalysisConfig configures the analysis coordinator.
type AnalysisConfig struct {
	MaxChars         int `yaml:"max_chars" mapstructure:"max_chars" validate:"min=1"`
	MinIntervalSecs  int `yaml:"min_interval_secs" mapstructure:"min_interval_secs" validate:"min=0"`
	MaxRetries       int `yaml:"max_retries" mapstructure:"max_retries" validate:"min=0,max=5"`
	RetryBackoffSecs int `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs" validate:"min=0"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold" validate:"min=0"`
	Limit            int `yaml:"limit" mapstructure:"limit" validate:"min=0"`
}

// MetricsConfig configures Prometheus metric export.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// MonitoringConfig holds alert thresholds for the status command.
type MonitoringConfig struct {
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	MinFinished          int     `yaml:"min_finished" mapstructure:"min_finished" validate:"min=0"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold" validate:"min=0"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"min=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.policy-monitor")

	// Environment
	v.SetEnvPrefix("POLICY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "policy_monitor.db")
	v.SetDefault("feeds.file", "")
	v.SetDefault("filter.tier1_file", "")
	v.SetDefault("filter.tier2_file", "")
	v.SetDefault("filter.context_file", "")
	v.SetDefault("extract.timeout_secs", 15)
	v.SetDefault("extract.user_agent", "PolicyMonitor/1.0 (Climate Adaptation Research Bot)")
	v.SetDefault("extract.max_body_mb", 50)
	v.SetDefault("extract.host_rps", 2.0)
	v.SetDefault("extract.follow_pdf_links", true)
	v.SetDefault("ocr.provider", "")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.pdf_dir", "pdfs")
	v.SetDefault("ingest.persist_fetch_failures", true)
	v.SetDefault("classifier.provider", "anthropic")
	v.SetDefault("classifier.timeout_secs", 120)
	v.SetDefault("classifier.max_tokens", 2048)
	v.SetDefault("classifier.prompt_file", "")
	v.SetDefault("classifier.taxonomy_file", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("gemini.key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("analysis.max_chars", 20000)
	v.SetDefault("analysis.min_interval_secs", 4)
	v.SetDefault("analysis.max_retries", 1)
	v.SetDefault("analysis.retry_backoff_secs", 10)
	v.SetDefault("analysis.breaker_threshold", 5)
	v.SetDefault("analysis.limit", 0)
	v.SetDefault("metrics.textfile_path", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_finished", 5)
	v.SetDefault("monitoring.backlog_threshold", 500)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	return nil
}

// APIKey returns the credential for the configured classifier provider.
func (c *Config) APIKey() string {
	switch c.Classifier.Provider {
	case "gemini":
		return c.Gemini.Key
	case "openai":
		return c.OpenAI.Key
	default:
		return c.Anthropic.Key
	}
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
