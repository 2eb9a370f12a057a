package book

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultPageSize = 3
	MaxPageSize     = 100

	maxTitleLen       = 255
	maxAuthorLen      = 255
	maxDescriptionLen = 1024
	maxCoverURLLen    = 2048
)

// Service provides book list and edit logic on top of a Repository.
type Service struct {
	repo     Repository
	pageSize int
	log      *zap.Logger
}

// NewService creates a new book service. pageSize outside 1..MaxPageSize falls back to DefaultPageSize.
func NewService(repo Repository, pageSize int, logger *zap.Logger) *Service {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, pageSize: pageSize, log: logger}
}

func (s *Service) PageSize() int {
	return s.pageSize
}

// List returns the page of ownerID's books with the given status that follows cursor.
func (s *Service) List(ctx context.Context, ownerID string, status Status, cursor string) (Page, error) {
	if !status.Valid() {
		return Page{}, ErrInvalidStatus
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	total, err := s.repo.Count(ctx, ownerID, status)
	if err != nil {
		return Page{}, err
	}

	// One extra row tells us whether another page exists.
	books, err := s.repo.ListPage(ctx, ownerID, status, after, s.pageSize+1)
	if err != nil {
		return Page{}, err
	}

	page := Page{TotalBooks: total, Books: books}
	if len(books) > s.pageSize {
		page.Books = books[:s.pageSize]
		page.HasMore = true
		page.NextCursor = EncodeCursor(CursorFor(page.Books[len(page.Books)-1]))
	}
	if page.Books == nil {
		page.Books = []Book{}
	}
	return page, nil
}

// Get returns a single book owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID string, id int64) (Book, error) {
	if id <= 0 {
		return Book{}, ErrNotFound
	}
	return s.repo.Get(ctx, ownerID, id)
}

// Create adds a book for ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in NewBook) (Book, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	if in.Status == "" {
		in.Status = StatusUnread
	}

	verr := &ValidationError{}
	checkRequired(verr, "title", in.Title, maxTitleLen)
	checkRequired(verr, "author", in.Author, maxAuthorLen)
	checkOptional(verr, "description", in.Description, maxDescriptionLen)
	checkOptional(verr, "coverImageUrl", in.CoverImageURL, maxCoverURLLen)
	if !in.Status.Valid() {
		verr.add("status", ErrInvalidStatus.Error())
	}
	if err := verr.orNil(); err != nil {
		return Book{}, err
	}

	in.Description = nullable(in.Description)
	in.CoverImageURL = nullable(in.CoverImageURL)
	return s.repo.Create(ctx, ownerID, in)
}

// Update applies p to the book only if expected is still its updatedAt. The
// returned book carries the new updatedAt for the caller's next edit.
func (s *Service) Update(ctx context.Context, ownerID string, id int64, expected time.Time, p Patch) (Book, error) {
	verr := &ValidationError{}
	if expected.IsZero() {
		verr.add("updatedAt", "updatedAt is required")
	}
	if p.IsEmpty() {
		verr.add("fields", "at least one of title, author, status, description, coverImageUrl is required")
	}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		p.Title = &t
		checkRequired(verr, "title", t, maxTitleLen)
	}
	if p.Author != nil {
		a := strings.TrimSpace(*p.Author)
		p.Author = &a
		checkRequired(verr, "author", a, maxAuthorLen)
	}
	if p.Status != nil && !p.Status.Valid() {
		verr.add("status", ErrInvalidStatus.Error())
	}
	checkOptional(verr, "description", p.Description, maxDescriptionLen)
	checkOptional(verr, "coverImageUrl", p.CoverImageURL, maxCoverURLLen)
	if err := verr.orNil(); err != nil {
		return Book{}, err
	}
	if id <= 0 {
		return Book{}, ErrConflict
	}

	b, err := s.repo.UpdateIfUnchanged(ctx, ownerID, id, token(expected), p)
	if errors.Is(err, ErrConflict) {
		s.log.Info("guarded update matched no row",
			zap.Int64("book_id", id),
			zap.String("owner_id", ownerID),
			zap.Time("expected_updated_at", expected))
	}
	return b, err
}

// Delete removes the book only if expected is still its updatedAt.
func (s *Service) Delete(ctx context.Context, ownerID string, id int64, expected time.Time) error {
	if expected.IsZero() {
		return &ValidationError{Fields: []FieldError{{Field: "updatedAt", Message: "updatedAt is required"}}}
	}
	if id <= 0 {
		return ErrConflict
	}

	err := s.repo.DeleteIfUnchanged(ctx, ownerID, id, token(expected))
	if errors.Is(err, ErrConflict) {
		s.log.Info("guarded delete matched no row",
			zap.Int64("book_id", id),
			zap.String("owner_id", ownerID),
			zap.Time("expected_updated_at", expected))
	}
	return err
}

// CoverURLs returns every distinct cover image URL across all owners.
func (s *Service) CoverURLs(ctx context.Context) ([]string, error) {
	return s.repo.DistinctCoverURLs(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func checkRequired(verr *ValidationError, field, value string, limit int) {
	switch {
	case value == "":
		verr.add(field, field+" is required")
	case utf8.RuneCountInString(value) > limit:
		verr.add(field, field+" is too long")
	}
}

func checkOptional(verr *ValidationError, field string, value *string, limit int) {
	if value != nil && utf8.RuneCountInString(*value) > limit {
		verr.add(field, field+" is too long")
	}
}
