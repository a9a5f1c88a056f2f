package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/policy-monitor/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newDoc(url string) *model.Document {
	fetched := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return &model.Document{
		URL:         url,
		SourceName:  "Rijksoverheid",
		Title:       "Klimaatadaptatie " + url,
		FetchedAt:   &fetched,
		ContentType: model.ContentTypeHTML,
		FullText:    "tekst over hitte en droogte",
		Status:      model.StatusNew,
	}
}

func fullScores() model.TaskScores {
	s := make(model.TaskScores, 21)
	for i := 1; i <= 21; i++ {
		s[i] = float64(i % 11)
	}
	return s
}

func TestSQLite_InsertAndGet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	pub := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	doc := newDoc("https://example.nl/a")
	doc.PublicationDate = &pub

	id, err := s.Insert(ctx, doc)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, doc.ID)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.nl/a", got.URL)
	assert.Equal(t, "Rijksoverheid", got.SourceName)
	assert.Equal(t, model.StatusNew, got.Status)
	assert.Equal(t, model.ContentTypeHTML, got.ContentType)
	assert.Equal(t, "tekst over hitte en droogte", got.FullText)
	require.NotNil(t, got.PublicationDate)
	assert.True(t, pub.Equal(*got.PublicationDate))
	require.NotNil(t, got.FetchedAt)
	assert.Nil(t, got.Analysis)
}

func TestSQLite_ExistsAndDuplicate(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "https://example.nl/a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Insert(ctx, newDoc("https://example.nl/a"))
	require.NoError(t, err)

	ok, err = s.Exists(ctx, "https://example.nl/a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Insert(ctx, newDoc("https://example.nl/a"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusNew])
}

func TestSQLite_InsertFailedWithEmptyText(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	doc := &model.Document{URL: "https://example.nl/broken", Status: model.StatusFailed, FailureReason: "http 404"}
	id, err := s.Insert(ctx, doc)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "", got.FullText)
	assert.Equal(t, "http 404", got.FailureReason)
	assert.Nil(t, got.Analysis)
}

func TestSQLite_InsertRejectsInvalid(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	doc := newDoc("https://example.nl/x")
	doc.Status = model.StatusAnalyzed
	_, err := s.Insert(ctx, doc)
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = s.Insert(ctx, &model.Document{Status: model.StatusNew})
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestSQLite_ListByStatusOrderAndLimit(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Insert(ctx, newDoc(fmt.Sprintf("https://example.nl/%d", i)))
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, &model.Document{URL: "https://example.nl/failed", Status: model.StatusFailed})
	require.NoError(t, err)

	docs, err := s.ListByStatus(ctx, model.StatusNew, 0)
	require.NoError(t, err)
	require.Len(t, docs, 5)
	for i := 1; i < len(docs); i++ {
		assert.Less(t, docs[i-1].ID, docs[i].ID)
	}
	assert.Equal(t, "https://example.nl/0", docs[0].URL)

	docs, err = s.ListByStatus(ctx, model.StatusNew, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestSQLite_UpdateAnalyzed(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, newDoc("https://example.nl/a"))
	require.NoError(t, err)

	analysis := model.Analysis{IsRelevant: true, Summary: "Samenvatting", TaskScores: fullScores(), Model: "claude"}
	require.NoError(t, s.Update(ctx, id, model.AnalyzedUpdate(analysis)))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAnalyzed, got.Status)
	require.NotNil(t, got.Analysis)
	assert.True(t, got.Analysis.IsRelevant)
	assert.Equal(t, "Samenvatting", got.Analysis.Summary)
	assert.Equal(t, fullScores(), got.Analysis.TaskScores)
	assert.Len(t, got.Analysis.TaskScores, 21)
	assert.Equal(t, "claude", got.Analysis.Model)
	assert.False(t, got.Analysis.AnalyzedAt.IsZero())

	n, err := s.CountRelevant(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_UpdateFailedLeavesAnalysisUnset(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, newDoc("https://example.nl/a"))
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id, model.FailedUpdate("validation: missing task 17")))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "validation: missing task 17", got.FailureReason)
	assert.Nil(t, got.Analysis)

	var summary, scores *string
	var relevant *bool
	require.NoError(t, s.db.QueryRow(
		`SELECT ai_summary, ai_tasks_scores, is_relevant FROM documents WHERE id = ?`, id,
	).Scan(&summary, &scores, &relevant))
	assert.Nil(t, summary)
	assert.Nil(t, scores)
	assert.Nil(t, relevant)
}

func TestSQLite_TerminalStatusCannotChange(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, newDoc("https://example.nl/a"))
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id, model.FailedUpdate("boom")))

	analysis := model.Analysis{IsRelevant: false, Summary: "x", TaskScores: fullScores()}
	err = s.Update(ctx, id, model.AnalyzedUpdate(analysis))
	assert.ErrorIs(t, err, ErrStatusConflict)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
}

func TestSQLite_UpdateValidation(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	id, err := s.Insert(ctx, newDoc("https://example.nl/a"))
	require.NoError(t, err)

	partial := model.TaskScores{1: 3}
	err = s.Update(ctx, id, model.AnalyzedUpdate(model.Analysis{Summary: "x", TaskScores: partial}))
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	err = s.Update(ctx, id, model.DocumentUpdate{})
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	back := model.StatusNew
	err = s.Update(ctx, id, model.DocumentUpdate{From: model.StatusFailed, Status: &back})
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestSQLite_UpdateNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	err := s.Update(context.Background(), 999, model.FailedUpdate("x"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ContentUpdateAndArchiveListing(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	idA, err := s.Insert(ctx, newDoc("https://example.nl/a"))
	require.NoError(t, err)
	idB, err := s.Insert(ctx, newDoc("https://example.nl/b"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, &model.Document{URL: "https://example.nl/c", Status: model.StatusFailed})
	require.NoError(t, err)

	docs, err := s.ListWithoutArchive(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	ct := model.ContentTypePDF
	text := "pdf tekst"
	path := "pdfs/a.pdf"
	now := time.Now()
	require.NoError(t, s.Update(ctx, idA, model.DocumentUpdate{
		ContentType: &ct, FullText: &text, LocalFilePath: &path, FetchedAt: &now,
	}))

	docs, err = s.ListWithoutArchive(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, idB, docs[0].ID)

	got, err := s.Get(ctx, idA)
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypePDF, got.ContentType)
	assert.Equal(t, "pdf tekst", got.FullText)
	assert.Equal(t, "pdfs/a.pdf", got.LocalFilePath)
	assert.Equal(t, model.StatusNew, got.Status)
}

func TestSQLite_CountByStatus(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.Status]int{model.StatusNew: 0, model.StatusAnalyzed: 0, model.StatusFailed: 0}, counts)

	id, err := s.Insert(ctx, newDoc("https://example.nl/a"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, newDoc("https://example.nl/b"))
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id, model.FailedUpdate("x")))

	counts, err = s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusNew])
	assert.Equal(t, 1, counts[model.StatusFailed])
	assert.Equal(t, 0, counts[model.StatusAnalyzed])
}
