package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/policy-monitor/internal/analysis"
	"github.com/sells-group/policy-monitor/internal/archive"
	"github.com/sells-group/policy-monitor/internal/classifier"
	"github.com/sells-group/policy-monitor/internal/config"
	"github.com/sells-group/policy-monitor/internal/extract"
	"github.com/sells-group/policy-monitor/internal/feed"
	"github.com/sells-group/policy-monitor/internal/ingest"
	"github.com/sells-group/policy-monitor/internal/metrics"
	"github.com/sells-group/policy-monitor/internal/ocr"
	"github.com/sells-group/policy-monitor/internal/ratelimit"
	"github.com/sells-group/policy-monitor/internal/relevance"
	"github.com/sells-group/policy-monitor/internal/resilience"
	"github.com/sells-group/policy-monitor/internal/store"
	"github.com/sells-group/policy-monitor/internal/taxonomy"
	anthropicpkg "github.com/sells-group/policy-monitor/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initExtractor() (*extract.Client, error) {
	opts := extract.Options{
		UserAgent:      cfg.Extract.UserAgent,
		Timeout:        time.Duration(cfg.Extract.TimeoutSecs) * time.Second,
		MaxBodyBytes:   int64(cfg.Extract.MaxBodyMB) << 20,
		HostRPS:        cfg.Extract.HostRPS,
		FollowPDFLinks: cfg.Extract.FollowPDFLinks,
	}
	o, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, err
	}
	if o != nil {
		zap.L().Info("ocr fallback enabled", zap.String("provider", cfg.OCR.Provider))
		opts.OCR = o
	}
	return extract.New(opts), nil
}

// loadSources reads the feeds file, then appends inline sources.
func loadSources() ([]feed.Source, error) {
	var sources []feed.Source
	if cfg.Feeds.File != "" {
		s, err := feed.LoadSources(cfg.Feeds.File)
		if err != nil {
			return nil, err
		}
		sources = s
	}
	for _, s := range cfg.Feeds.Sources {
		sources = append(sources, feed.Source{URL: s.URL, Name: s.Name})
	}
	if len(sources) == 0 {
		return nil, eris.New("no feeds configured (feeds.file or feeds.sources)")
	}
	return sources, nil
}

// initIngest wires the ingestion coordinator. The scanner shares the
// extractor's per-host limiter so feed and document requests to one host
// are spaced together.
func initIngest(st store.Store, m *metrics.Metrics) (*ingest.Coordinator, error) {
	ex, err := initExtractor()
	if err != nil {
		return nil, err
	}
	sc := feed.NewScanner(feed.Options{
		HTTPClient: ex.HTTPClient(),
		UserAgent:  ex.UserAgent(),
		Limiter:    ex,
	})

	opts := ingest.Options{
		Metrics:              m,
		PersistFetchFailures: cfg.Ingest.PersistFetchFailures,
	}
	if cfg.Filter.Enabled() {
		f, err := relevance.Load(cfg.Filter.Tier1File, cfg.Filter.Tier2File, cfg.Filter.ContextFile)
		if err != nil {
			return nil, err
		}
		tier1, tier2, ctxWords := f.Size()
		zap.L().Info("relevance prefilter loaded",
			zap.Int("tier1", tier1), zap.Int("tier2", tier2), zap.Int("context", ctxWords))
		opts.Filter = f
	}
	if cfg.Archive.Enabled {
		a, err := archive.NewFileArchiver(cfg.Archive.PDFDir)
		if err != nil {
			return nil, err
		}
		opts.Archiver = a
	}
	return ingest.New(st, sc, ex, opts), nil
}

func loadTaxonomy() (*taxonomy.Taxonomy, error) {
	if cfg.Classifier.TaxonomyFile != "" {
		return taxonomy.Load(cfg.Classifier.TaxonomyFile)
	}
	return taxonomy.Default()
}

func initClassifier(ctx context.Context) (classifier.Classifier, error) {
	if cfg.APIKey() == "" {
		return nil, eris.Errorf("missing API key for classifier provider %q", cfg.Classifier.Provider)
	}

	prompt := classifier.DefaultPrompt()
	if cfg.Classifier.PromptFile != "" {
		p, err := classifier.LoadPrompt(cfg.Classifier.PromptFile)
		if err != nil {
			return nil, err
		}
		prompt = p
	}
	opts := classifier.Options{
		Prompt:    prompt,
		Timeout:   time.Duration(cfg.Classifier.TimeoutSecs) * time.Second,
		MaxTokens: cfg.Classifier.MaxTokens,
	}

	switch cfg.Classifier.Provider {
	case "gemini":
		client, err := classifier.NewGeminiClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, err
		}
		return classifier.NewGemini(client.Models, cfg.Gemini.Model, opts), nil
	case "openai":
		client := classifier.NewOpenAIClient(cfg.OpenAI.Key, cfg.OpenAI.BaseURL)
		return classifier.NewOpenAI(client, cfg.OpenAI.Model, opts), nil
	default:
		return classifier.NewAnthropic(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, opts), nil
	}
}

// initAnalysis wires the analysis coordinator with the configured pacing,
// retry policy and breaker.
func initAnalysis(ctx context.Context, st store.Store, m *metrics.Metrics, limit int) (*analysis.Coordinator, error) {
	tax, err := loadTaxonomy()
	if err != nil {
		return nil, err
	}
	cl, err := initClassifier(ctx)
	if err != nil {
		return nil, err
	}
	return analysis.New(st, cl, tax, analysisLimiter(cfg.Analysis), analysisOptions(cfg.Analysis, m, limit))
}

func analysisLimiter(ac config.AnalysisConfig) *ratelimit.Limiter {
	return ratelimit.New(time.Duration(ac.MinIntervalSecs)*time.Second, ratelimit.RealClock{})
}

func analysisOptions(ac config.AnalysisConfig, m *metrics.Metrics, limit int) analysis.Options {
	if limit <= 0 {
		limit = ac.Limit
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = ac.MaxRetries + 1
	retry.InitialBackoff = time.Duration(ac.RetryBackoffSecs) * time.Second

	return analysis.Options{
		MaxChars: ac.MaxChars,
		Limit:    limit,
		Retry:    retry,
		Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: ac.BreakerThreshold,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("classifier circuit breaker state change",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
		Metrics: m,
	}
}

// writeMetrics exports m when a textfile path is configured.
func writeMetrics(m *metrics.Metrics) {
	if cfg.Metrics.TextfilePath == "" {
		return
	}
	if err := m.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		zap.L().Warn("write metrics textfile", zap.Error(err))
	}
}
