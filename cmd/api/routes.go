package main

import (
	"context"
	"net/http"
	"time"

	"mybooks/internal/book"
	"mybooks/internal/config"
	"mybooks/internal/cover"
	"mybooks/internal/httpx"

	"go.uber.org/zap"
)

func newRouter(cfg config.Config, books *book.Service, uploads *cover.UploadService, limiter httpx.Limiter, logger *zap.Logger) http.Handler {
	bookHandler := book.NewHTTPHandler(books, logger)
	coverHandler := cover.NewHTTPHandler(uploads, logger)

	router := http.NewServeMux()

	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := books.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	api := http.NewServeMux()
	api.HandleFunc("GET /books", bookHandler.List)
	api.HandleFunc("POST /books", bookHandler.Create)
	api.HandleFunc("GET /books/{id}", bookHandler.Get)
	api.HandleFunc("PATCH /books/{id}", bookHandler.Update)
	api.HandleFunc("POST /books/{id}", bookHandler.Update)
	api.HandleFunc("DELETE /books/{id}", bookHandler.Delete)
	api.HandleFunc("POST /covers/upload-url", coverHandler.UploadURL)

	protected := httpx.AuthMiddleware(cfg.JWTSecret)(api)
	router.Handle("/books", protected)
	router.Handle("/books/", protected)
	router.Handle("/covers/", protected)

	return httpx.Chain(router,
		httpx.RequestIDMiddleware,
		httpx.AccessLogMiddleware(logger),
		httpx.RecoveryMiddleware(logger),
		httpx.SecurityHeadersMiddleware(cfg.EnableHSTS),
		httpx.CORSMiddleware(cfg.CORSAllowedOrigins),
		httpx.RequestSizeLimitMiddleware(cfg.MaxBodyBytes),
		httpx.RateLimitMiddleware(limiter, cfg.TrustedProxies, logger),
	)
}
