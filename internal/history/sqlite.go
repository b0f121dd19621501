package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	format      TEXT NOT NULL DEFAULT '',
	quality     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	output_path TEXT NOT NULL DEFAULT '',
	total_size  INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	error_kind  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_finished_at ON jobs (finished_at);`

// SQLiteStore keeps history in a local sqlite database.
type SQLiteStore struct {
	DB *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	// one writer; sqlite serialises anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening history: creating schema: %w", err)
	}
	return &SQLiteStore{DB: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if _, err := s.DB.ExecContext(ctx, recordQuery,
		e.ID, e.URL, e.Title, e.Format, e.Quality, e.Status, e.OutputPath,
		e.TotalSize, e.Error, e.ErrorKind, toUnix(e.CreatedAt), toUnix(e.FinishedAt),
	); err != nil {
		return fmt.Errorf("recording job %s: %w", e.ID, err)
	}
	return nil
}

const recordQuery = `
INSERT INTO jobs (id, url, title, format, quality, status, output_path, total_size, error, error_kind, created_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	url = excluded.url, title = excluded.title, format = excluded.format,
	quality = excluded.quality, status = excluded.status, output_path = excluded.output_path,
	total_size = excluded.total_size, error = excluded.error, error_kind = excluded.error_kind,
	created_at = excluded.created_at, finished_at = excluded.finished_at;`

const selectColumns = `SELECT id, url, title, format, quality, status, output_path, total_size, error, error_kind, created_at, finished_at FROM jobs`

func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(s.DB.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("fetching job %s: %w", id, err)
	}
	return e, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) (entries []Entry, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("listing history: %w", err)
		}
	}()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx, selectColumns+` ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                 Entry
		created, finished int64
	)
	if err := row.Scan(&e.ID, &e.URL, &e.Title, &e.Format, &e.Quality, &e.Status, &e.OutputPath,
		&e.TotalSize, &e.Error, &e.ErrorKind, &created, &finished); err != nil {
		return Entry{}, err
	}
	e.CreatedAt = fromUnix(created)
	e.FinishedAt = fromUnix(finished)
	return e, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
