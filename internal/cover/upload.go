package cover

import (
	"context"
	"errors"
	"time"

	"mybooks/internal/platform/objectstore"

	"github.com/google/uuid"
)

const (
	DefaultUploadExpiry = 15 * time.Minute
	// MaxCoverBytes caps a single cover image at 1MB.
	MaxCoverBytes = 1 << 20
)

// ErrStoreDisabled is returned when no object store is configured.
var ErrStoreDisabled = errors.New("cover uploads are not configured")

// Presigner issues direct-to-bucket upload grants.
type Presigner interface {
	PresignUpload(ctx context.Context, key string, expiry time.Duration, maxBytes int64) (objectstore.PresignedUpload, error)
	PublicURL(key string) string
}

// Upload is what a client needs to put a cover in the bucket and then
// reference it from a book.
type Upload struct {
	Key           string            `json:"key"`
	UploadURL     string            `json:"uploadUrl"`
	FormData      map[string]string `json:"formData"`
	CoverImageURL string            `json:"coverImageUrl"`
	ExpiresIn     int               `json:"expiresIn"`
	MaxBytes      int64             `json:"maxBytes"`
}

type UploadService struct {
	store  Presigner
	expiry time.Duration
	newKey func() string
}

// NewUploadService returns a service backed by store. A nil store disables uploads.
func NewUploadService(store Presigner, expiry time.Duration) *UploadService {
	if expiry <= 0 {
		expiry = DefaultUploadExpiry
	}
	return &UploadService{store: store, expiry: expiry, newKey: uuid.NewString}
}

// NewUpload reserves a fresh object key and presigns an upload for it.
func (s *UploadService) NewUpload(ctx context.Context) (Upload, error) {
	if s.store == nil {
		return Upload{}, ErrStoreDisabled
	}
	key := s.newKey()
	grant, err := s.store.PresignUpload(ctx, key, s.expiry, MaxCoverBytes)
	if err != nil {
		return Upload{}, err
	}
	return Upload{
		Key:           key,
		UploadURL:     grant.URL,
		FormData:      grant.FormData,
		CoverImageURL: s.store.PublicURL(key),
		ExpiresIn:     int(s.expiry.Seconds()),
		MaxBytes:      MaxCoverBytes,
	}, nil
}
