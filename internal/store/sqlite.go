package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/policy-monitor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serialises writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	url               TEXT NOT NULL UNIQUE,
	source_name       TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	publication_date  DATETIME,
	fetched_at        DATETIME,
	content_type      TEXT NOT NULL DEFAULT '',
	full_text         TEXT NOT NULL DEFAULT '',
	local_file_path   TEXT NOT NULL DEFAULT '',
	processing_status TEXT NOT NULL DEFAULT 'new'
		CHECK (processing_status IN ('new', 'analyzed', 'failed')),
	failure_reason    TEXT NOT NULL DEFAULT '',
	is_relevant       BOOLEAN,
	ai_summary        TEXT,
	ai_tasks_scores   TEXT,
	ai_model          TEXT,
	analyzed_at       DATETIME,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Exists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE url = ?`, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: exists %s", url)
	}
	return true, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, doc *model.Document) (int64, error) {
	if err := validateInsert(doc); err != nil {
		return 0, err
	}
	now := s.now()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO documents (url, source_name, title, publication_date, fetched_at, content_type,
			full_text, local_file_path, processing_status, failure_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING
		 RETURNING id`,
		doc.URL, doc.SourceName, doc.Title, nullableTime(doc.PublicationDate), nullableTime(doc.FetchedAt),
		string(doc.ContentType), doc.FullText, doc.LocalFilePath, string(doc.Status), doc.FailureReason,
		now, now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, eris.Wrapf(ErrAlreadyExists, "sqlite: insert %s", doc.URL)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert %s", doc.URL)
	}

	doc.ID = id
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get document %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %d", id)
	}
	return doc, nil
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE processing_status = ? ORDER BY id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.list(ctx, query, args...)
}

func (s *SQLiteStore) ListWithoutArchive(ctx context.Context) ([]model.Document, error) {
	return s.list(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE local_file_path = '' AND processing_status IN ('new', 'analyzed')
		 ORDER BY id ASC`,
	)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}

func (s *SQLiteStore) Update(ctx context.Context, id int64, upd model.DocumentUpdate) error {
	query, args, err := buildUpdate(id, upd, s.now(), func(int) string { return "?" })
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT processing_status FROM documents WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: update document %d", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document %d", id)
	}
	return eris.Wrapf(ErrStatusConflict, "sqlite: document %d is %s, expected %s", id, status, upd.From)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT processing_status, COUNT(*) FROM documents GROUP BY processing_status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.Status]int, 3)
	for _, st := range model.AllStatuses() {
		counts[st] = 0
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[model.Status(st)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate counts")
}

func (s *SQLiteStore) CountRelevant(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE processing_status = 'analyzed' AND is_relevant = 1`,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count relevant")
}
