package book

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

const bookColumns = `id, owner_id, title, author, description, status, cover_image_url, created_at, updated_at`

type PostgresRepo struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresRepo(db *pgxpool.Pool, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *PostgresRepo) Count(ctx context.Context, ownerID string, status Status) (int, error) {
	const query = `SELECT COUNT(*) FROM books WHERE owner_id = $1 AND status = $2`
	var total int
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.db.QueryRow(timeoutCtx, query, ownerID, string(status)).Scan(&total); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return total, nil
}

func (r *PostgresRepo) ListPage(ctx context.Context, ownerID string, status Status, after *Cursor, limit int) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE owner_id = $1 AND status = $2`
	args := []any{ownerID, string(status)}
	if after != nil {
		query += ` AND (created_at > $3 OR (created_at = $3 AND id > $4))`
		args = append(args, after.CreatedAt, after.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, ownerID string, id int64) (Book, error) {
	const query = `SELECT ` + bookColumns + ` FROM books WHERE id = $1 AND owner_id = $2 LIMIT 1`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanBook(r.db.QueryRow(timeoutCtx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, ErrNotFound
		}
		return Book{}, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

func (r *PostgresRepo) Create(ctx context.Context, ownerID string, in NewBook) (Book, error) {
	const query = `
		INSERT INTO books (owner_id, title, author, description, status, cover_image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING ` + bookColumns
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanBook(r.db.QueryRow(timeoutCtx, query,
		ownerID, in.Title, in.Author, nullable(in.Description), string(in.Status), nullable(in.CoverImageURL),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return Book{}, ErrDuplicate
		}
		return Book{}, fmt.Errorf("create book: %w", err)
	}
	return b, nil
}

func (r *PostgresRepo) UpdateIfUnchanged(ctx context.Context, ownerID string, id int64, expected time.Time, p Patch) (Book, error) {
	fields := []string{}
	args := []any{}
	argn := 1
	set := func(column string, value any) {
		fields = append(fields, fmt.Sprintf("%s = $%d", column, argn))
		args = append(args, value)
		argn++
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
	// now() is the transaction start time, so two writes in one microsecond
	// still produce a strictly newer token.
	fields = append(fields, "updated_at = GREATEST(now(), updated_at + interval '1 microsecond')")

	query := fmt.Sprintf(`UPDATE books SET %s WHERE id = $%d AND owner_id = $%d AND updated_at = $%d RETURNING %s`,
		strings.Join(fields, ", "), argn, argn+1, argn+2, bookColumns)
	args = append(args, id, ownerID, expected)

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanBook(r.db.QueryRow(timeoutCtx, query, args...))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return Book{}, ErrConflict
		case isUniqueViolation(err):
			return Book{}, ErrDuplicate
		}
		return Book{}, fmt.Errorf("update book: %w", err)
	}
	return b, nil
}

func (r *PostgresRepo) DeleteIfUnchanged(ctx context.Context, ownerID string, id int64, expected time.Time) error {
	const query = `DELETE FROM books WHERE id = $1 AND owner_id = $2 AND updated_at = $3`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	commandTag, err := r.db.Exec(timeoutCtx, query, id, ownerID, expected)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *PostgresRepo) DistinctCoverURLs(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT cover_image_url FROM books WHERE cover_image_url IS NOT NULL`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(timeoutCtx, query)
	if err != nil {
		return nil, fmt.Errorf("list cover urls: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.db.Ping(timeoutCtx)
}

func scanBook(row pgx.Row) (Book, error) {
	var b Book
	var status string
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Title, &b.Author, &b.Description, &status, &b.CoverImageURL,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return Book{}, err
	}
	b.Status = Status(status)
	b.CreatedAt = token(b.CreatedAt)
	b.UpdatedAt = token(b.UpdatedAt)
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
