package book

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open connects to the store named by backend ("postgres" or "sqlite") and
// returns it with its close function.
func Open(ctx context.Context, backend, dsn string, timeout time.Duration) (Repository, func(), error) {
	switch backend {
	case "sqlite":
		repo, err := OpenSQLite(ctx, dsn, timeout)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("create db pool: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		return NewPostgresRepo(pool, timeout), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported store backend %q", backend)
}
