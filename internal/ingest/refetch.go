package ingest

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/policy-monitor/internal/extract"
	"github.com/sells-group/policy-monitor/internal/model"
	"github.com/sells-group/policy-monitor/internal/store"
)

// RefetchStats summarizes one refetch run.
type RefetchStats struct {
	RunID       string `json:"run_id"`
	Checked     int    `json:"checked"`
	FetchFailed int    `json:"fetch_failed"`
	NotPDF      int    `json:"not_pdf"`
	Archived    int    `json:"archived"`
	Skipped     int    `json:"skipped"`
}

// Refetch revisits new and analyzed documents without an archived file.
// When extraction now yields a PDF it is archived and the content fields
// are replaced; the processing status is never touched.
func (c *Coordinator) Refetch(ctx context.Context) (*RefetchStats, error) {
	stats := &RefetchStats{RunID: uuid.NewString()}
	if c.opts.Archiver == nil {
		return stats, eris.New("ingest: refetch requires an archiver")
	}
	log := c.log.With(zap.String("run_id", stats.RunID), zap.String("op", "refetch"))

	docs, err := c.store.ListWithoutArchive(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "ingest: list documents without archive")
	}
	log.Info("refetch started", zap.Int("documents", len(docs)))

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "ingest: cancelled")
		}
		if err := c.refetchOne(ctx, log, &docs[i], stats); err != nil {
			return stats, err
		}
	}

	log.Info("refetch finished",
		zap.Int("checked", stats.Checked),
		zap.Int("archived", stats.Archived),
		zap.Int("fetch_failed", stats.FetchFailed),
	)
	return stats, nil
}

func (c *Coordinator) refetchOne(ctx context.Context, log *zap.Logger, doc *model.Document, stats *RefetchStats) error {
	log = log.With(zap.Int64("doc_id", doc.ID), zap.String("url", doc.URL))
	stats.Checked++

	res, err := c.extractor.Fetch(ctx, doc.URL)
	fetchedAt := c.opts.Now()
	if err != nil {
		if _, ok := extract.AsFetchFailure(err); !ok {
			return eris.Wrapf(err, "ingest: refetch %s", doc.URL)
		}
		stats.FetchFailed++
		log.Warn("refetch failed", zap.Error(err))
		return nil
	}
	if res.Type != model.ContentTypePDF || len(res.PDF) == 0 {
		stats.NotPDF++
		return nil
	}

	path, err := c.opts.Archiver.Save(doc.SourceName, doc.Title, res.FinalURL, res.PDF)
	if err != nil {
		return eris.Wrapf(err, "ingest: archive %s", doc.URL)
	}

	contentType := res.Type
	upd := model.DocumentUpdate{
		From:          doc.Status,
		ContentType:   &contentType,
		FullText:      &res.Text,
		LocalFilePath: &path,
		FetchedAt:     &fetchedAt,
	}
	if err := c.store.Update(ctx, doc.ID, upd); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			stats.Skipped++
			log.Warn("document status changed during refetch, skipped")
			return nil
		}
		return eris.Wrap(err, "ingest: update document")
	}
	stats.Archived++
	log.Info("document archived", zap.String("path", path))
	return nil
}
