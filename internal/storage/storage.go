package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ParquetContentType is stored on every published dataset file.
const ParquetContentType = "application/vnd.apache.parquet"

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// DatasetReader is what a query engine needs to materialize a dataset.
type DatasetReader interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// DatasetWriter is what the seeder needs to publish a dataset.
type DatasetWriter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
}

// ObjectStore holds the parquet files that back queryable datasets.
type ObjectStore interface {
	DatasetReader
	DatasetWriter
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
