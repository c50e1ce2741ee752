// Package storage uploads incident artifacts to S3-compatible object
// storage and hands out time-limited links to them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/showgayaki/camenashi-kun/internal/logging"
)

// MaxPresignExpiry is the longest expiry S3 accepts for a signed URL.
const MaxPresignExpiry = 7 * 24 * time.Hour

// objectAPI is the subset of *minio.Client the store uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Secure    bool
}

type MinioStore struct {
	api    objectAPI
	bucket string
	logger *slog.Logger
}

func NewMinio(opts Options, logger *slog.Logger) (*MinioStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return newStore(mc, opts.Bucket, logger), nil
}

func newStore(api objectAPI, bucket string, logger *slog.Logger) *MinioStore {
	return &MinioStore{
		api:    api,
		bucket: bucket,
		logger: logging.WithComponent(logging.OrDiscard(logger), "storage"),
	}
}

func (s *MinioStore) Bucket() string {
	return s.bucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("bucket created", "bucket", s.bucket)
	return nil
}

// Upload puts the local file at key.
func (s *MinioStore) Upload(ctx context.Context, localPath, key string) error {
	info, err := s.api.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", filepath.Base(localPath), err)
	}
	s.logger.Info("object uploaded", "bucket", s.bucket, "key", key, "size", info.Size)
	return nil
}

// PresignedURL returns a GET link to key valid for ttl.
func (s *MinioStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > MaxPresignExpiry {
		return "", fmt.Errorf("presign expiry %s out of range (0, %s]", ttl, MaxPresignExpiry)
	}
	u, err := s.api.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// ObjectKey returns <prefix>/YYYY/MM/DD/<file>, dated in UTC.
func ObjectKey(prefix string, t time.Time, file string) string {
	t = t.UTC()
	key := fmt.Sprintf("%04d/%02d/%02d/%s", t.Year(), t.Month(), t.Day(), path.Base(filepath.ToSlash(file)))
	if p := strings.Trim(prefix, "/"); p != "" {
		key = p + "/" + key
	}
	return key
}

// ContentType maps the artifact extensions to MIME types.
func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return "application/octet-stream"
}
