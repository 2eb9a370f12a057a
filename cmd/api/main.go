package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mybooks/internal/book"
	"mybooks/internal/config"
	"mybooks/internal/cover"
	"mybooks/internal/httpx"
	"mybooks/internal/logging"
	"mybooks/internal/platform/objectstore"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	presigner, err := newPresigner(ctx, cfg.ObjectStore, logger)
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := newLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	books := book.NewService(repo, cfg.PageSize, logger)
	uploads := cover.NewUploadService(presigner, cover.DefaultUploadExpiry)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      newRouter(cfg, books, uploads, limiter, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (book.Repository, func(), error) {
	backend, err := cfg.Backend()
	if err != nil {
		return nil, nil, err
	}
	repo, closeRepo, err := book.Open(ctx, backend, cfg.DatabaseDSN, cfg.DBTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store (%s): %w", backend, redactDSN(cfg.DatabaseDSN), err)
	}
	logger.Info("database connection OK",
		zap.String("backend", backend),
		zap.String("dsn", redactDSN(cfg.DatabaseDSN)))
	return repo, closeRepo, nil
}

// newPresigner returns nil when no object store is configured.
func newPresigner(ctx context.Context, cfg config.ObjectStore, logger *zap.Logger) (cover.Presigner, error) {
	if !cfg.Enabled() {
		logger.Info("object store not configured, cover uploads disabled")
		return nil, nil
	}
	store, err := objectstore.NewMinioStore(objectstore.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
		PublicURL: cfg.PublicURL,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newLimiter(cfg config.Config, logger *zap.Logger) (httpx.Limiter, func(), error) {
	if cfg.RedisAddr == "" {
		l := httpx.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 3*time.Minute)
		return l, l.Stop, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	l, err := httpx.NewRedisLimiter(client, "mybooks:ratelimit", cfg.RateLimitBurst, time.Second)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("using redis rate limiter", zap.String("addr", cfg.RedisAddr))
	return l, func() { _ = client.Close() }, nil
}

func redactDSN(dsn string) string {
	const marker = "://"
	start := strings.Index(dsn, marker)
	if start < 0 {
		return dsn
	}
	start += len(marker)
	end := strings.Index(dsn[start:], "@")
	if end < 0 {
		return dsn
	}
	return dsn[:start] + "***" + dsn[start+end:]
}
