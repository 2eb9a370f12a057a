package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config describes an S3 compatible bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PublicURL is the base URL objects are served from, e.g. a CDN.
	// Defaults to the path-style bucket URL on Endpoint.
	PublicURL string
}

// Object is one entry in the bucket listing.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// PresignedUpload lets a browser POST a file straight to the bucket.
type PresignedUpload struct {
	URL      string
	FormData map[string]string
}

// MinioStore implements object access for MinIO/S3 compatible storage.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioStore builds a client. It does not contact the server; call
// EnsureBucket for that.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("object store endpoint and bucket are required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	public := strings.TrimRight(cfg.PublicURL, "/")
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, publicURL: public}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (m *MinioStore) Bucket() string {
	return m.bucket
}

// PublicURL is where key can be fetched once uploaded.
func (m *MinioStore) PublicURL(key string) string {
	return m.publicURL + "/" + url.PathEscape(key)
}

// PresignUpload returns a POST policy for key limited to images of at most maxBytes.
func (m *MinioStore) PresignUpload(ctx context.Context, key string, expiry time.Duration, maxBytes int64) (PresignedUpload, error) {
	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(m.bucket); err != nil {
		return PresignedUpload{}, err
	}
	if err := policy.SetKey(key); err != nil {
		return PresignedUpload{}, err
	}
	if err := policy.SetExpires(time.Now().UTC().Add(expiry)); err != nil {
		return PresignedUpload{}, err
	}
	if err := policy.SetContentTypeStartsWith("image/"); err != nil {
		return PresignedUpload{}, err
	}
	if err := policy.SetContentLengthRange(1, maxBytes); err != nil {
		return PresignedUpload{}, err
	}

	u, formData, err := m.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return PresignedUpload{}, fmt.Errorf("presign upload: %w", err)
	}
	return PresignedUpload{URL: u.String(), FormData: formData}, nil
}

// List returns every object in the bucket.
func (m *MinioStore) List(ctx context.Context) ([]Object, error) {
	return collectObjects(ctx, func(ctx context.Context) <-chan minio.ObjectInfo {
		return m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: true})
	})
}

// collectObjects reads a listing to the end or the first error. The listing
// context is cancelled on return so the producer goroutine always exits.
func collectObjects(ctx context.Context, list func(context.Context) <-chan minio.ObjectInfo) ([]Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []Object
	for info := range list(ctx) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects: %w", info.Err)
		}
		objects = append(objects, Object{Key: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	return objects, nil
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
