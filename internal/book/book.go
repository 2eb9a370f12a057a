package book

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a book does not exist for the requesting owner.
	ErrNotFound = errors.New("book not found")
	// ErrConflict is returned when a guarded write matched no row. The record may be
	// missing, owned by someone else, or modified since the caller read it.
	ErrConflict = errors.New("book not found or modified since it was last read")
	// ErrDuplicate is returned when the owner already has a book with the same title and author.
	ErrDuplicate = errors.New("a book with this title and author already exists for this user")

	ErrInvalidCursor = errors.New("invalid cursor")
	ErrInvalidStatus = errors.New("status must be UNREAD or READ")
)

// Status is the read state of a book.
type Status string

const (
	StatusUnread Status = "UNREAD"
	StatusRead   Status = "READ"

	// legacyStatusUnread is what older clients send for an unread book.
	legacyStatusUnread = "NOT_READ"
)

// ParseStatus normalizes user input into a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(StatusUnread), legacyStatusUnread:
		return StatusUnread, nil
	case string(StatusRead):
		return StatusRead, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

func (s Status) Valid() bool {
	return s == StatusUnread || s == StatusRead
}

// Toggle returns the other status. Both transitions are allowed and neither state is terminal.
func (s Status) Toggle() Status {
	if s == StatusRead {
		return StatusUnread
	}
	return StatusRead
}

// Book is a single owner-scoped record.
type Book struct {
	ID            int64     `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Description   *string   `json:"description,omitempty"`
	Status        Status    `json:"status"`
	CoverImageURL *string   `json:"coverImageUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewBook holds the fields accepted when adding a book.
type NewBook struct {
	Title         string
	Author        string
	Description   *string
	Status        Status
	CoverImageURL *string
}

// Patch lists the fields a caller may change. Nil means unchanged; an empty
// Description or CoverImageURL clears the column.
type Patch struct {
	Title         *string
	Author        *string
	Status        *Status
	Description   *string
	CoverImageURL *string
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Author == nil && p.Status == nil && p.Description == nil && p.CoverImageURL == nil
}

// Page is one slice of a status list.
type Page struct {
	TotalBooks int    `json:"totalBooks"`
	Books      []Book `json:"books"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is returned before any storage call when input is unusable.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// nullable maps an empty string to NULL.
func nullable(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// token normalizes a timestamp to the precision the stores keep.
func token(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
