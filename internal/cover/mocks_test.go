package cover

import (
	"context"
	"time"

	"mybooks/internal/platform/objectstore"

	"github.com/stretchr/testify/mock"
)

type mockPresigner struct {
	mock.Mock
}

func (m *mockPresigner) PresignUpload(ctx context.Context, key string, expiry time.Duration, maxBytes int64) (objectstore.PresignedUpload, error) {
	args := m.Called(ctx, key, expiry, maxBytes)
	return args.Get(0).(objectstore.PresignedUpload), args.Error(1)
}

func (m *mockPresigner) PublicURL(key string) string {
	return m.Called(key).String(0)
}

type mockURLSource struct {
	mock.Mock
}

func (m *mockURLSource) CoverURLs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	urls, _ := args.Get(0).([]string)
	return urls, args.Error(1)
}

type mockBucket struct {
	mock.Mock
}

func (m *mockBucket) List(ctx context.Context) ([]objectstore.Object, error) {
	args := m.Called(ctx)
	objects, _ := args.Get(0).([]objectstore.Object)
	return objects, args.Error(1)
}

func (m *mockBucket) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
