package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-monitor/internal/model"
	"github.com/sells-group/policy-monitor/internal/taxonomy"
)

var (
	// ErrAlreadyExists is returned by Insert when the URL is already stored.
	// Callers treat it as a benign "already known" outcome.
	ErrAlreadyExists = eris.New("store: document already exists")

	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = eris.New("store: document not found")

	// ErrStatusConflict is returned by Update when the row is no longer in
	// the expected source status.
	ErrStatusConflict = eris.New("store: document status changed concurrently")

	// ErrInvalidUpdate is returned for updates that would break a document
	// invariant, such as an analyzed row without complete analysis fields.
	ErrInvalidUpdate = eris.New("store: invalid document update")
)

// Store defines the persistence interface for the document pipeline.
type Store interface {
	// Exists reports whether a document with this exact URL is stored.
	Exists(ctx context.Context, url string) (bool, error)
	// Insert stores a new document and returns its id. The document status
	// must be new or failed.
	Insert(ctx context.Context, doc *model.Document) (int64, error)
	// Get returns a single document.
	Get(ctx context.Context, id int64) (*model.Document, error)
	// ListByStatus returns documents in id order. A limit <= 0 means all.
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Document, error)
	// ListWithoutArchive returns new and analyzed documents that have no
	// archived file, in id order.
	ListWithoutArchive(ctx context.Context) ([]model.Document, error)
	// Update applies the non-nil fields of upd.
	Update(ctx context.Context, id int64, upd model.DocumentUpdate) error
	// CountByStatus returns the number of documents per status.
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	// CountRelevant returns the number of analyzed documents judged relevant.
	CountRelevant(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const documentColumns = `id, url, source_name, title, publication_date, fetched_at, content_type,
	full_text, local_file_path, processing_status, failure_reason, is_relevant, ai_summary,
	ai_tasks_scores, ai_model, analyzed_at, created_at, updated_at`

// scannable is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.Document, error) {
	var (
		d           model.Document
		contentType string
		status      string
		isRelevant  *bool
		summary     *string
		scores      []byte
		aiModel     *string
		analyzedAt  *time.Time
	)
	err := row.Scan(
		&d.ID, &d.URL, &d.SourceName, &d.Title, &d.PublicationDate, &d.FetchedAt, &contentType,
		&d.FullText, &d.LocalFilePath, &status, &d.FailureReason, &isRelevant, &summary,
		&scores, &aiModel, &analyzedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ContentType = model.ContentType(contentType)
	d.Status = model.Status(status)

	if d.Status == model.StatusAnalyzed && summary != nil {
		a := &model.Analysis{Summary: *summary}
		if isRelevant != nil {
			a.IsRelevant = *isRelevant
		}
		if len(scores) > 0 {
			if err := json.Unmarshal(scores, &a.TaskScores); err != nil {
				return nil, eris.Wrapf(err, "store: decode scores for document %d", d.ID)
			}
		}
		if aiModel != nil {
			a.Model = *aiModel
		}
		if analyzedAt != nil {
			a.AnalyzedAt = *analyzedAt
		}
		d.Analysis = a
	}
	return &d, nil
}

func validateInsert(doc *model.Document) error {
	if doc == nil || strings.TrimSpace(doc.URL) == "" {
		return eris.Wrap(ErrInvalidUpdate, "insert requires a url")
	}
	if !model.CanTransition(model.StatusNone, doc.Status) {
		return eris.Wrapf(ErrInvalidUpdate, "cannot create document in status %q", doc.Status)
	}
	if doc.Analysis != nil {
		return eris.Wrap(ErrInvalidUpdate, "insert cannot carry analysis fields")
	}
	return nil
}

func validateUpdate(upd model.DocumentUpdate) error {
	if upd.Status == nil {
		if upd.Analysis != nil {
			return eris.Wrap(ErrInvalidUpdate, "analysis fields require a status change")
		}
		return nil
	}
	if !model.CanTransition(upd.From, *upd.Status) {
		return eris.Wrapf(ErrInvalidUpdate, "transition %q -> %q", upd.From, *upd.Status)
	}
	switch *upd.Status {
	case model.StatusAnalyzed:
		a := upd.Analysis
		if a == nil || strings.TrimSpace(a.Summary) == "" || len(a.TaskScores) != taxonomy.TaskCount {
			return eris.Wrap(ErrInvalidUpdate, "analyzed requires summary and all task scores")
		}
	case model.StatusFailed:
		if upd.Analysis != nil {
			return eris.Wrap(ErrInvalidUpdate, "failed documents carry no analysis")
		}
	}
	return nil
}

// buildUpdate renders the UPDATE statement for upd. ph returns the
// placeholder for the n-th (1-based) argument.
func buildUpdate(id int64, upd model.DocumentUpdate, now time.Time, ph func(n int) string) (string, []any, error) {
	if err := validateUpdate(upd); err != nil {
		return "", nil, err
	}

	var sets []string
	var args []any
	set := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = %s", col, ph(len(args))))
	}

	if upd.ContentType != nil {
		set("content_type", string(*upd.ContentType))
	}
	if upd.FullText != nil {
		set("full_text", *upd.FullText)
	}
	if upd.LocalFilePath != nil {
		set("local_file_path", *upd.LocalFilePath)
	}
	if upd.FetchedAt != nil {
		set("fetched_at", upd.FetchedAt.UTC())
	}
	if upd.FailureReason != nil {
		set("failure_reason", *upd.FailureReason)
	}
	if upd.Status != nil {
		set("processing_status", string(*upd.Status))
		switch *upd.Status {
		case model.StatusAnalyzed:
			scores, err := json.Marshal(upd.Analysis.TaskScores)
			if err != nil {
				return "", nil, eris.Wrap(err, "store: encode scores")
			}
			analyzedAt := upd.Analysis.AnalyzedAt
			if analyzedAt.IsZero() {
				analyzedAt = now
			}
			set("is_relevant", upd.Analysis.IsRelevant)
			set("ai_summary", upd.Analysis.Summary)
			set("ai_tasks_scores", string(scores))
			set("ai_model", upd.Analysis.Model)
			set("analyzed_at", analyzedAt.UTC())
		case model.StatusFailed:
			sets = append(sets,
				"is_relevant = NULL", "ai_summary = NULL", "ai_tasks_scores = NULL",
				"ai_model = NULL", "analyzed_at = NULL")
		}
	}
	if len(sets) == 0 {
		return "", nil, eris.Wrap(ErrInvalidUpdate, "no fields to update")
	}
	set("updated_at", now)

	args = append(args, id)
	query := fmt.Sprintf("UPDATE documents SET %s WHERE id = %s", strings.Join(sets, ", "), ph(len(args)))
	if upd.From != model.StatusNone {
		args = append(args, string(upd.From))
		query += fmt.Sprintf(" AND processing_status = %s", ph(len(args)))
	}
	return query, args, nil
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
