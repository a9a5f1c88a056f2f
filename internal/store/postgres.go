package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-monitor/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool), nil
}

func newPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id                BIGSERIAL PRIMARY KEY,
	url               TEXT NOT NULL UNIQUE,
	source_name       TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	publication_date  TIMESTAMPTZ,
	fetched_at        TIMESTAMPTZ,
	content_type      TEXT NOT NULL DEFAULT '',
	full_text         TEXT NOT NULL DEFAULT '',
	local_file_path   TEXT NOT NULL DEFAULT '',
	processing_status TEXT NOT NULL DEFAULT 'new'
		CHECK (processing_status IN ('new', 'analyzed', 'failed')),
	failure_reason    TEXT NOT NULL DEFAULT '',
	is_relevant       BOOLEAN,
	ai_summary        TEXT,
	ai_tasks_scores   JSONB,
	ai_model          TEXT,
	analyzed_at       TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_name);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE url = $1)`, url,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists %s", url)
	}
	return exists, nil
}

func (s *PostgresStore) Insert(ctx context.Context, doc *model.Document) (int64, error) {
	if err := validateInsert(doc); err != nil {
		return 0, err
	}
	now := s.now()

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (url, source_name, title, publication_date, fetched_at, content_type,
			full_text, local_file_path, processing_status, failure_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (url) DO NOTHING
		 RETURNING id`,
		doc.URL, doc.SourceName, doc.Title, nullableTime(doc.PublicationDate), nullableTime(doc.FetchedAt),
		string(doc.ContentType), doc.FullText, doc.LocalFilePath, string(doc.Status), doc.FailureReason,
		now, now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return 0, eris.Wrapf(ErrAlreadyExists, "postgres: insert %s", doc.URL)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert %s", doc.URL)
	}

	doc.ID = id
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*model.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get document %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %d", id)
	}
	return doc, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE processing_status = $1 ORDER BY id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.list(ctx, query, args...)
}

func (s *PostgresStore) ListWithoutArchive(ctx context.Context) ([]model.Document, error) {
	return s.list(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE local_file_path = '' AND processing_status IN ('new', 'analyzed')
		 ORDER BY id ASC`,
	)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: iterate documents")
}

func (s *PostgresStore) Update(ctx context.Context, id int64, upd model.DocumentUpdate) error {
	query, args, err := buildUpdate(id, upd, s.now(), func(n int) string { return fmt.Sprintf("$%d", n) })
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document %d", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT processing_status FROM documents WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: update document %d", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update document %d", id)
	}
	return eris.Wrapf(ErrStatusConflict, "postgres: document %d is %s, expected %s", id, status, upd.From)
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT processing_status, COUNT(*) FROM documents GROUP BY processing_status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
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
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[model.Status(st)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate counts")
}

func (s *PostgresStore) CountRelevant(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE processing_status = 'analyzed' AND is_relevant`,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count relevant")
}
