// Package ingest moves feed candidates into the store. Each new URL is
// fetched once and written once: as a new document when text was
// extracted, or as a failed document when it could not be fetched.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/policy-monitor/internal/extract"
	"github.com/sells-group/policy-monitor/internal/feed"
	"github.com/sells-group/policy-monitor/internal/metrics"
	"github.com/sells-group/policy-monitor/internal/model"
	"github.com/sells-group/policy-monitor/internal/relevance"
	"github.com/sells-group/policy-monitor/internal/store"
)

// Scanner yields feed candidates.
type Scanner interface {
	Scan(ctx context.Context, sources []feed.Source) iter.Seq[model.Candidate]
}

// Extractor fetches a URL and extracts its text.
type Extractor interface {
	Fetch(ctx context.Context, url string) (*extract.Result, error)
}

// Prefilter rejects entries that are not worth downloading.
type Prefilter interface {
	Check(title, description string) relevance.Result
}

// Archiver stores PDF bytes and returns the local path.
type Archiver interface {
	Save(source, title, rawURL string, data []byte) (string, error)
}

// Stats summarizes one ingestion run.
type Stats struct {
	RunID           string `json:"run_id"`
	Sources         int    `json:"sources"`
	Candidates      int    `json:"candidates"`
	Filtered        int    `json:"filtered"`
	SkippedExisting int    `json:"skipped_existing"`
	Fetched         int    `json:"fetched"`
	FetchFailed     int    `json:"fetch_failed"`
	StoredNew       int    `json:"stored_new"`
	StoredFailed    int    `json:"stored_failed"`
	Archived        int    `json:"archived"`
}

// Stored returns the number of documents this run added to the store.
func (s *Stats) Stored() int { return s.StoredNew + s.StoredFailed }

// Options holds the optional collaborators of a Coordinator.
type Options struct {
	// Filter is nil when prefiltering is disabled.
	Filter Prefilter
	// Archiver is nil when PDF archiving is disabled.
	Archiver Archiver
	Metrics  *metrics.Metrics
	// PersistFetchFailures stores unfetchable URLs as failed documents so
	// they are not retried on every run.
	PersistFetchFailures bool
	Now                  func() time.Time
}

// Coordinator runs ingestion.
type Coordinator struct {
	store     store.Store
	scanner   Scanner
	extractor Extractor
	opts      Options
	log       *zap.Logger
}

// New creates a Coordinator.
func New(st store.Store, sc Scanner, ex Extractor, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:     st,
		scanner:   sc,
		extractor: ex,
		opts:      opts,
		log:       zap.L().With(zap.String("component", "ingest")),
	}
}

// Ingest scans all sources and stores every unseen candidate. Store errors
// and cancellation end the run; the stats gathered so far are returned
// with the error.
func (c *Coordinator) Ingest(ctx context.Context, sources []feed.Source) (*Stats, error) {
	stats := &Stats{RunID: uuid.NewString(), Sources: len(sources)}
	log := c.log.With(zap.String("run_id", stats.RunID))
	log.Info("ingestion started", zap.Int("sources", len(sources)))

	for cand := range c.scanner.Scan(ctx, sources) {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "ingest: cancelled")
		}
		stats.Candidates++
		if err := c.process(ctx, log, cand, stats); err != nil {
			return stats, err
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, eris.Wrap(err, "ingest: cancelled")
	}

	c.opts.Metrics.StageCompleted("ingest", c.opts.Now())
	log.Info("ingestion finished",
		zap.Int("candidates", stats.Candidates),
		zap.Int("filtered", stats.Filtered),
		zap.Int("skipped_existing", stats.SkippedExisting),
		zap.Int("stored_new", stats.StoredNew),
		zap.Int("stored_failed", stats.StoredFailed),
		zap.Int("archived", stats.Archived),
	)
	return stats, nil
}

func (c *Coordinator) process(ctx context.Context, log *zap.Logger, cand model.Candidate, stats *Stats) error {
	log = log.With(zap.String("url", cand.URL), zap.String("source", cand.SourceName))

	if c.opts.Filter != nil {
		res := c.opts.Filter.Check(cand.Title, cand.Description)
		if !res.Relevant {
			stats.Filtered++
			c.opts.Metrics.Candidate("filtered")
			return nil
		}
		log.Debug("candidate passed prefilter", zap.String("match", res.String()))
	}

	exists, err := c.store.Exists(ctx, cand.URL)
	if err != nil {
		return eris.Wrapf(err, "ingest: check %s", cand.URL)
	}
	if exists {
		stats.SkippedExisting++
		c.opts.Metrics.Candidate("skipped_existing")
		return nil
	}

	start := c.opts.Now()
	res, err := c.extractor.Fetch(ctx, cand.URL)
	fetchedAt := c.opts.Now()
	if err != nil {
		ff, ok := extract.AsFetchFailure(err)
		if !ok {
			return eris.Wrapf(err, "ingest: fetch %s", cand.URL)
		}
		c.opts.Metrics.Fetch("failed", fetchedAt.Sub(start))
		stats.FetchFailed++
		return c.storeFailure(ctx, log, cand, ff, fetchedAt, stats)
	}
	c.opts.Metrics.Fetch("ok", fetchedAt.Sub(start))
	stats.Fetched++

	status, err := model.Transition(model.StatusNone, model.EventExtracted)
	if err != nil {
		return err
	}
	doc := newDocument(cand, status, fetchedAt)
	doc.ContentType = res.Type
	doc.FullText = res.Text

	if res.Type == model.ContentTypePDF && len(res.PDF) > 0 && c.opts.Archiver != nil {
		path, err := c.opts.Archiver.Save(cand.SourceName, cand.Title, res.FinalURL, res.PDF)
		if err != nil {
			log.Warn("pdf archive failed", zap.Error(err))
		} else {
			doc.LocalFilePath = path
			stats.Archived++
		}
	}

	stored, err := c.insert(ctx, doc, stats)
	if err != nil || !stored {
		return err
	}
	stats.StoredNew++
	c.opts.Metrics.Candidate("stored_new")
	log.Info("document stored",
		zap.Int64("id", doc.ID),
		zap.String("content_type", string(doc.ContentType)),
		zap.Int("chars", len([]rune(doc.FullText))),
	)
	return nil
}

func (c *Coordinator) storeFailure(ctx context.Context, log *zap.Logger, cand model.Candidate, ff *extract.FetchFailure, at time.Time, stats *Stats) error {
	if !c.opts.PersistFetchFailures {
		log.Warn("fetch failed, not persisted", zap.String("reason", ff.Reason), zap.Error(ff.Err))
		c.opts.Metrics.Candidate("fetch_failed")
		return nil
	}

	status, err := model.Transition(model.StatusNone, model.EventExtractionFailed)
	if err != nil {
		return err
	}
	doc := newDocument(cand, status, at)
	doc.FailureReason = ff.Reason
	if ff.Err != nil {
		doc.FailureReason = fmt.Sprintf("%s: %v", ff.Reason, ff.Err)
	}

	stored, err := c.insert(ctx, doc, stats)
	if err != nil || !stored {
		return err
	}
	stats.StoredFailed++
	c.opts.Metrics.Candidate("stored_failed")
	log.Warn("fetch failed, stored as failed",
		zap.Int64("id", doc.ID),
		zap.String("reason", doc.FailureReason),
		zap.Int("status_code", ff.StatusCode),
	)
	return nil
}

// insert writes doc. A concurrent insert of the same URL is not an error:
// it reports stored=false and counts the candidate as already known.
func (c *Coordinator) insert(ctx context.Context, doc *model.Document, stats *Stats) (bool, error) {
	_, err := c.store.Insert(ctx, doc)
	if errors.Is(err, store.ErrAlreadyExists) {
		stats.SkippedExisting++
		c.opts.Metrics.Candidate("skipped_existing")
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "ingest: store %s", doc.URL)
	}
	return true, nil
}

func newDocument(cand model.Candidate, status model.Status, fetchedAt time.Time) *model.Document {
	return &model.Document{
		URL:             cand.URL,
		SourceName:      cand.SourceName,
		Title:           cand.Title,
		PublicationDate: cand.PublicationDate,
		FetchedAt:       &fetchedAt,
		Status:          status,
	}
}
