package book

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteSchema mirrors db/migrations for the embedded store. Timestamps are
// integer microseconds since the epoch so that ordering is numeric.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS books (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id        TEXT    NOT NULL,
	title           TEXT    NOT NULL,
	author          TEXT    NOT NULL,
	description     TEXT,
	status          TEXT    NOT NULL DEFAULT 'UNREAD' CHECK (status IN ('UNREAD', 'READ')),
	cover_image_url TEXT,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	UNIQUE (owner_id, title, author)
);
CREATE INDEX IF NOT EXISTS books_owner_status_created_idx ON books (owner_id, status, created_at, id);
`

// SQLiteRepo stores books in an embedded SQLite database.
type SQLiteRepo struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// SQLiteOption configures a SQLiteRepo.
type SQLiteOption func(*SQLiteRepo)

// WithClock replaces time.Now as the source of created_at and updated_at.
func WithClock(now func() time.Time) SQLiteOption {
	return func(r *SQLiteRepo) { r.now = now }
}

// OpenSQLite opens dsn ("sqlite::memory:", "sqlite:/path/books.db" or "file:...")
// and creates the schema if needed.
func OpenSQLite(ctx context.Context, dsn string, timeout time.Duration, opts ...SQLiteOption) (*SQLiteRepo, error) {
	path := strings.TrimPrefix(dsn, "sqlite:")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers anyway; a single connection also keeps
	// ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	r := &SQLiteRepo{db: db, timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	if _, err := db.ExecContext(timeoutCtx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *SQLiteRepo) Count(ctx context.Context, ownerID string, status Status) (int, error) {
	const query = `SELECT COUNT(*) FROM books WHERE owner_id = ? AND status = ?`
	var total int
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.db.QueryRowContext(timeoutCtx, query, ownerID, string(status)).Scan(&total); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return total, nil
}

func (r *SQLiteRepo) ListPage(ctx context.Context, ownerID string, status Status, after *Cursor, limit int) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE owner_id = ? AND status = ?`
	args := []any{ownerID, string(status)}
	if after != nil {
		createdAt := after.CreatedAt.UnixMicro()
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, createdAt, createdAt, after.ID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.QueryContext(timeoutCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		b, err := scanSQLiteBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) Get(ctx context.Context, ownerID string, id int64) (Book, error) {
	const query = `SELECT ` + bookColumns + ` FROM books WHERE id = ? AND owner_id = ? LIMIT 1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanSQLiteBook(r.db.QueryRowContext(timeoutCtx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Book{}, ErrNotFound
		}
		return Book{}, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepo) Create(ctx context.Context, ownerID string, in NewBook) (Book, error) {
	const query = `
		INSERT INTO books (owner_id, title, author, description, status, cover_image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + bookColumns
	now := token(r.now()).UnixMicro()
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanSQLiteBook(r.db.QueryRowContext(timeoutCtx, query,
		ownerID, in.Title, in.Author, nullable(in.Description), string(in.Status), nullable(in.CoverImageURL), now, now,
	))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return Book{}, ErrDuplicate
		}
		return Book{}, fmt.Errorf("create book: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepo) UpdateIfUnchanged(ctx context.Context, ownerID string, id int64, expected time.Time, p Patch) (Book, error) {
	fields := []string{}
	args := []any{}
	set := func(column string, value any) {
		fields = append(fields, column+" = ?")
		args = append(args, value)
	}

	if p.Title != nil {
		set("title", *p.Title)
	}
	if p.Author != nil {
		set("author", *p.Author)
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.Description != nil {
		set("description", nullable(p.Description))
	}
	if p.CoverImageURL != nil {
		set("cover_image_url", nullable(p.CoverImageURL))
	}

	expectedMicros := expected.UnixMicro()
	next := token(r.now()).UnixMicro()
	if next <= expectedMicros {
		next = expectedMicros + 1
	}
	set("updated_at", next)

	query := `UPDATE books SET ` + strings.Join(fields, ", ") +
		` WHERE id = ? AND owner_id = ? AND updated_at = ? RETURNING ` + bookColumns
	args = append(args, id, ownerID, expectedMicros)

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanSQLiteBook(r.db.QueryRowContext(timeoutCtx, query, args...))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return Book{}, ErrConflict
		case isSQLiteUniqueViolation(err):
			return Book{}, ErrDuplicate
		}
		return Book{}, fmt.Errorf("update book: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepo) DeleteIfUnchanged(ctx context.Context, ownerID string, id int64, expected time.Time) error {
	const query = `DELETE FROM books WHERE id = ? AND owner_id = ? AND updated_at = ?`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	result, err := r.db.ExecContext(timeoutCtx, query, id, ownerID, expected.UnixMicro())
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *SQLiteRepo) DistinctCoverURLs(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT cover_image_url FROM books WHERE cover_image_url IS NOT NULL`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.QueryContext(timeoutCtx, query)
	if err != nil {
		return nil, fmt.Errorf("list cover urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (r *SQLiteRepo) Ping(ctx context.Context) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.db.PingContext(timeoutCtx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBook(row rowScanner) (Book, error) {
	var (
		b                    Book
		description, cover   sql.NullString
		status               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&b.ID, &b.OwnerID, &b.Title, &b.Author, &description, &status, &cover, &createdAt, &updatedAt)
	if err != nil {
		return Book{}, err
	}
	if description.Valid {
		b.Description = &description.String
	}
	if cover.Valid {
		b.CoverImageURL = &cover.String
	}
	b.Status = Status(status)
	b.CreatedAt = time.UnixMicro(createdAt).UTC()
	b.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return b, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
