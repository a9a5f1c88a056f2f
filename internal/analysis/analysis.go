// Package analysis moves new documents to analyzed or failed by asking the
// classifier about each one, strictly one at a time and in id order.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/policy-monitor/internal/classifier"
	"github.com/sells-group/policy-monitor/internal/metrics"
	"github.com/sells-group/policy-monitor/internal/model"
	"github.com/sells-group/policy-monitor/internal/ratelimit"
	"github.com/sells-group/policy-monitor/internal/resilience"
	"github.com/sells-group/policy-monitor/internal/store"
	"github.com/sells-group/policy-monitor/internal/taxonomy"
)

const (
	// DefaultMaxChars is how much leading text the classifier sees. Policy
	// documents open with their executive summary.
	DefaultMaxChars = 20000
	// DefaultMinInterval spaces classifier calls.
	DefaultMinInterval = 4 * time.Second
	// NoTextReason is recorded for documents with nothing to classify.
	NoTextReason = "no extractable text"
)

// ErrProviderUnavailable stops a run after too many consecutive classifier
// failures. The document in flight stays new.
var ErrProviderUnavailable = eris.New("analysis: classifier provider unavailable")

// Limiter spaces classifier calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Options tunes a Coordinator. Zero values select the defaults.
type Options struct {
	MaxChars int
	// Limit caps the number of documents per run; 0 means all.
	Limit   int
	Retry   resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
	Metrics *metrics.Metrics
	Clock   ratelimit.Clock
}

// Result counts the outcome of one run.
type Result struct {
	RunID    string `json:"run_id"`
	Pending  int    `json:"pending"`
	Analyzed int    `json:"analyzed"`
	Relevant int    `json:"relevant"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
}

// Coordinator runs analysis.
type Coordinator struct {
	store      store.Store
	classifier classifier.Classifier
	tax        *taxonomy.Taxonomy
	validator  *Validator
	limiter    Limiter
	opts       Options
	log        *zap.Logger
}

// New creates a Coordinator.
func New(st store.Store, cl classifier.Classifier, tax *taxonomy.Taxonomy, limiter Limiter, opts Options) (*Coordinator, error) {
	v, err := NewValidator(tax)
	if err != nil {
		return nil, err
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.RealClock{}
	}
	if limiter == nil {
		limiter = ratelimit.New(DefaultMinInterval, opts.Clock)
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Now: opts.Clock.Now})
	}
	return &Coordinator{
		store:      st,
		classifier: cl,
		tax:        tax,
		validator:  v,
		limiter:    limiter,
		opts:       opts,
		log:        zap.L().With(zap.String("component", "analysis"), zap.String("provider", cl.Provider())),
	}, nil
}

// AnalyzePending classifies every new document. A single document's
// failure never ends the run; cancellation, store errors and
// ErrProviderUnavailable do, returning the partial result.
func (c *Coordinator) AnalyzePending(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	log := c.log.With(zap.String("run_id", res.RunID))

	docs, err := c.store.ListByStatus(ctx, model.StatusNew, c.opts.Limit)
	if err != nil {
		return res, eris.Wrap(err, "analysis: list pending")
	}
	res.Pending = len(docs)
	log.Info("analysis started", zap.Int("pending", len(docs)))

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "analysis: cancelled")
		}
		if err := c.analyze(ctx, log, &docs[i], res); err != nil {
			return res, err
		}
	}

	c.opts.Metrics.StageCompleted("analyze", c.opts.Clock.Now())
	log.Info("analysis finished",
		zap.Int("analyzed", res.Analyzed),
		zap.Int("relevant", res.Relevant),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (c *Coordinator) analyze(ctx context.Context, log *zap.Logger, doc *model.Document, res *Result) error {
	log = log.With(zap.Int64("doc_id", doc.ID), zap.String("url", doc.URL))

	if strings.TrimSpace(doc.FullText) == "" {
		return c.fail(ctx, log, doc, NoTextReason, res)
	}

	text := Truncate(doc.FullText, c.opts.MaxChars)
	if len(text) < len(doc.FullText) {
		log.Debug("text truncated", zap.Int("max_chars", c.opts.MaxChars))
	}

	a, err := c.classify(ctx, log, doc.ID, text)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "analysis: cancelled")
		}
		if errors.Is(err, ErrProviderUnavailable) {
			log.Error("classifier provider unavailable, stopping run", zap.Error(err))
			return err
		}
		return c.fail(ctx, log, doc, err.Error(), res)
	}

	if _, err := model.Transition(doc.Status, model.EventAnalysisSucceeded); err != nil {
		return err
	}
	a.AnalyzedAt = c.opts.Clock.Now()
	if err := c.store.Update(ctx, doc.ID, model.AnalyzedUpdate(*a)); err != nil {
		return c.updateError(log, err, res)
	}

	res.Analyzed++
	if a.IsRelevant {
		res.Relevant++
	}
	c.opts.Metrics.Document(string(model.StatusAnalyzed))
	log.Info("document analyzed", zap.Bool("is_relevant", a.IsRelevant), zap.String("model", a.Model))
	return nil
}

func (c *Coordinator) fail(ctx context.Context, log *zap.Logger, doc *model.Document, reason string, res *Result) error {
	if _, err := model.Transition(doc.Status, model.EventAnalysisFailed); err != nil {
		return err
	}
	if err := c.store.Update(ctx, doc.ID, model.FailedUpdate(reason)); err != nil {
		return c.updateError(log, err, res)
	}
	res.Failed++
	c.opts.Metrics.Document(string(model.StatusFailed))
	log.Warn("document failed", zap.String("reason", reason))
	return nil
}

// updateError skips documents whose status changed underneath us and
// aborts on anything else.
func (c *Coordinator) updateError(log *zap.Logger, err error, res *Result) error {
	if errors.Is(err, store.ErrStatusConflict) {
		res.Skipped++
		log.Warn("document no longer new, skipped", zap.Error(err))
		return nil
	}
	return eris.Wrap(err, "analysis: update document")
}

// classify calls the classifier under the limiter, retrying retryable
// failures, and returns the validated analysis.
func (c *Coordinator) classify(ctx context.Context, log *zap.Logger, docID int64, text string) (*model.Analysis, error) {
	cfg := c.opts.Retry
	cfg.ShouldRetry = retryable
	cfg.Sleep = c.opts.Clock.Sleep
	cfg.OnRetry = resilience.RetryLogger("classifier", "classify", zap.Int64("doc_id", docID))

	provider := c.classifier.Provider()
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.Analysis, error) {
		if err := c.opts.Breaker.Allow(); err != nil {
			return nil, eris.Wrap(ErrProviderUnavailable, err.Error())
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := c.opts.Clock.Now()
		out, err := c.classifier.Classify(ctx, text, c.tax)
		elapsed := c.opts.Clock.Now().Sub(start)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			outcome := "error"
			if ce, ok := classifier.AsError(err); ok {
				outcome = ce.Kind.String()
			}
			c.opts.Metrics.ClassifierCall(provider, outcome, elapsed)
			if !providerFault(err) {
				c.opts.Breaker.RecordSuccess()
				return nil, err
			}
			if c.opts.Breaker.RecordFailure() {
				return nil, eris.Wrapf(ErrProviderUnavailable, "%d consecutive failures, last: %v",
					c.opts.Breaker.ConsecutiveFailures(), err)
			}
			return nil, err
		}
		c.opts.Breaker.RecordSuccess()
		c.opts.Metrics.ClassifierCall(provider, "ok", elapsed)
		c.opts.Metrics.Tokens(out.Model, out.Usage.InputTokens, out.Usage.OutputTokens, out.Usage.CostUSD)

		a, err := c.validator.Validate(out.Payload)
		if err != nil {
			log.Warn("classifier response rejected", zap.Error(err))
			return nil, err
		}
		a.Model = out.Model
		return a, nil
	})
}

// providerFault reports whether err says the provider itself is unhealthy.
// A malformed reply still came from a working provider.
func providerFault(err error) bool {
	ce, ok := classifier.AsError(err)
	if !ok {
		return true
	}
	return ce.Kind != classifier.MalformedResponse
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrProviderUnavailable) {
		return false
	}
	if ce, ok := classifier.AsError(err); ok {
		return ce.Retryable()
	}
	var vf *ValidationFailure
	return errors.As(err, &vf)
}

// Truncate returns the first n characters (runes) of s. n <= 0 disables
// truncation.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
