package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig locates the bucket recordings are archived to.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// MinIOStorage implements Storage on any S3-compatible object store.
type MinIOStorage struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOStorage connects to the object store and creates the bucket if it
// does not exist yet.
func NewMinIOStorage(ctx context.Context, cfg MinIOConfig) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinIOStorage{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// key returns the full object key for a given name
func (s *MinIOStorage) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *MinIOStorage) Save(ctx context.Context, name string, data io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), data, size, minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

func (s *MinIOStorage) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return obj, nil
}

func (s *MinIOStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		name := obj.Key
		if s.prefix != "" {
			name = strings.TrimPrefix(name, s.prefix+"/")
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MinIOStorage) Delete(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".flv":
		return "video/x-flv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
