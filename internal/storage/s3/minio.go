package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nlquery/nlquery/internal/storage"
)

// minioAdapter implements client on top of minio-go.
type minioAdapter struct {
	mc *minio.Client
}

func newMinioAdapter(cfg Config) (*minioAdapter, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioAdapter{mc: mc}, nil
}

// parseEndpoint accepts host:port or a URL. An https URL forces TLS.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		useSSL = true
	case "http":
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("endpoint host is required")
	}
	return parsed.Host, useSSL, nil
}

func (a *minioAdapter) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	uploaded, err := a.mc.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, translateMinioErr(err)
	}
	return storage.ObjectInfo{Key: uploaded.Key, Size: uploaded.Size, ETag: uploaded.ETag, LastModified: uploaded.LastModified}, nil
}

// Get stats the object before returning it so a missing key fails here
// rather than on the first Read.
func (a *minioAdapter) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := a.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioErr(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, translateMinioErr(err)
	}
	return object, nil
}

func (a *minioAdapter) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	info, err := a.mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translateMinioErr(err)
	}
	return objectInfo(info), nil
}

func (a *minioAdapter) List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	for info := range a.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, translateMinioErr(info.Err)
		}
		objects = append(objects, objectInfo(info))
	}
	return objects, nil
}

func (a *minioAdapter) Delete(ctx context.Context, bucket, key string) error {
	return translateMinioErr(a.mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

func (a *minioAdapter) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := a.mc.BucketExists(ctx, bucket)
	return exists, translateMinioErr(err)
}

func (a *minioAdapter) CreateBucket(ctx context.Context, bucket, region string) error {
	return translateMinioErr(a.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func objectInfo(info minio.ObjectInfo) storage.ObjectInfo {
	return storage.ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}
}

func translateMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if !errors.As(err, &response) {
		return err
	}
	switch {
	case response.Code == "NoSuchKey", response.Code == "NoSuchBucket", response.Code == "NotFound":
		return storage.ErrObjectNotFound
	case response.StatusCode == http.StatusNotFound:
		return storage.ErrObjectNotFound
	}
	return err
}
