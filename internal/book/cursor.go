package book

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor is the sort position of the last book a client has seen.
type Cursor struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// CursorFor returns the position right after b.
func CursorFor(b Book) Cursor {
	return Cursor{ID: b.ID, CreatedAt: token(b.CreatedAt)}
}

// EncodeCursor encodes a cursor as an opaque URL-safe string.
func EncodeCursor(c Cursor) string {
	if c.ID == 0 {
		return ""
	}
	c.CreatedAt = token(c.CreatedAt)
	jsonBytes, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(jsonBytes)
}

// DecodeCursor decodes a cursor produced by EncodeCursor. An empty string
// decodes to nil, meaning the first page.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var c Cursor
	if err := json.Unmarshal(decoded, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID <= 0 || c.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	c.CreatedAt = token(c.CreatedAt)
	return &c, nil
}
