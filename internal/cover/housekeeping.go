package cover

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"mybooks/internal/platform/objectstore"

	"go.uber.org/zap"
)

// URLSource lists every cover URL still referenced by a book.
type URLSource interface {
	CoverURLs(ctx context.Context) ([]string, error)
}

// Bucket is the part of the object store housekeeping needs.
type Bucket interface {
	List(ctx context.Context) ([]objectstore.Object, error)
	Delete(ctx context.Context, key string) error
}

// Report summarizes one housekeeping pass.
type Report struct {
	Referenced []objectstore.Object
	Orphans    []objectstore.Object
	Deleted    []string
	Failed     []string
}

// Housekeeper removes bucket objects no book points at any more.
type Housekeeper struct {
	urls   URLSource
	bucket Bucket
	log    *zap.Logger
}

func NewHousekeeper(urls URLSource, bucket Bucket, logger *zap.Logger) *Housekeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Housekeeper{urls: urls, bucket: bucket, log: logger}
}

// Run classifies bucket objects and, when deleteOrphans is set, removes the
// unreferenced ones. A failed delete is logged and does not stop the pass.
func (h *Housekeeper) Run(ctx context.Context, deleteOrphans bool) (Report, error) {
	urls, err := h.urls.CoverURLs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load cover urls: %w", err)
	}
	h.log.Info("loaded cover urls", zap.Int("count", len(urls)))

	objects, err := h.bucket.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list bucket: %w", err)
	}
	h.log.Info("listed bucket", zap.Int("count", len(objects)))
	if len(objects) == 0 {
		h.log.Warn("bucket is empty, nothing to check")
		return Report{}, nil
	}

	referenced, orphans := h.FindOrphans(urls, objects)
	report := Report{Referenced: referenced, Orphans: orphans}
	h.log.Info("classified bucket objects",
		zap.Strings("referenced", keys(referenced)),
		zap.Strings("orphans", keys(orphans)))

	switch {
	case len(orphans) == 0:
		h.log.Info("no orphan covers found")
		return report, nil
	case !deleteOrphans:
		h.log.Info("not deleting orphan covers; pass --delete or set DELETE_ORPHAN_IMAGES=true",
			zap.Int("orphans", len(orphans)))
		return report, nil
	}

	for _, obj := range orphans {
		if err := h.bucket.Delete(ctx, obj.Key); err != nil {
			h.log.Error("delete orphan cover", zap.String("key", obj.Key), zap.Error(err))
			report.Failed = append(report.Failed, obj.Key)
			continue
		}
		h.log.Info("deleted orphan cover", zap.String("key", obj.Key))
		report.Deleted = append(report.Deleted, obj.Key)
	}
	return report, nil
}

// FindOrphans splits objects into those whose key is the last path segment
// of some cover URL and those that no URL references.
func (h *Housekeeper) FindOrphans(urls []string, objects []objectstore.Object) (referenced, orphans []objectstore.Object) {
	inUse := make(map[string]bool, len(urls))
	for _, raw := range urls {
		key, ok := KeyFromURL(raw)
		if !ok {
			h.log.Warn("cannot parse object key from cover url", zap.String("url", raw))
			continue
		}
		inUse[key] = true
	}

	for _, obj := range objects {
		if obj.Key == "" {
			h.log.Warn("bucket object without key")
			continue
		}
		if inUse[obj.Key] {
			referenced = append(referenced, obj)
		} else {
			orphans = append(orphans, obj)
		}
	}
	return referenced, orphans
}

// KeyFromURL returns the last path segment of a cover URL.
func KeyFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return "", false
	}
	return path.Base(u.Path), true
}

func keys(objects []objectstore.Object) []string {
	out := make([]string, len(objects))
	for i, o := range objects {
		out[i] = o.Key
	}
	return out
}
