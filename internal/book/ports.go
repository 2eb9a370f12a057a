package book

import (
	"context"
	"time"
)

//go:generate mockgen -source=ports.go -destination=mock_repository.go -package=book

// Repository is everything the service needs from storage: a count, an ordered
// range scan, and conditional writes guarded by updated_at.
type Repository interface {
	Count(ctx context.Context, ownerID string, status Status) (int, error)
	// ListPage returns up to limit books ordered by (created_at, id), strictly after the cursor when one is given.
	ListPage(ctx context.Context, ownerID string, status Status, after *Cursor, limit int) ([]Book, error)
	Get(ctx context.Context, ownerID string, id int64) (Book, error)
	Create(ctx context.Context, ownerID string, in NewBook) (Book, error)
	// UpdateIfUnchanged applies p only if the row's updated_at still equals expected.
	UpdateIfUnchanged(ctx context.Context, ownerID string, id int64, expected time.Time, p Patch) (Book, error)
	DeleteIfUnchanged(ctx context.Context, ownerID string, id int64, expected time.Time) error
	DistinctCoverURLs(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}
