//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nlquery/nlquery/internal/dataset"
	"github.com/nlquery/nlquery/internal/query"
	duckdbengine "github.com/nlquery/nlquery/internal/query/duckdb"
	"github.com/nlquery/nlquery/internal/storage"
)

func TestPublishedDatasetIsQueryableFromMinIO(t *testing.T) {
	store := newIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	const name = "it"
	const salesCount = 50
	published, err := dataset.Publish(ctx, store, name, dataset.Generate(7, salesCount, time.Now().UTC()))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	t.Cleanup(func() {
		for _, file := range published {
			if err := store.Delete(context.Background(), file.ObjectKey); err != nil {
				t.Errorf("Delete(%s) error = %v", file.ObjectKey, err)
			}
		}
	})

	prefix, err := storage.DatasetPrefix(name)
	if err != nil {
		t.Fatalf("DatasetPrefix() error = %v", err)
	}
	listed, err := store.List(ctx, prefix)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != len(published) {
		t.Fatalf("List() = %#v, want %d objects", listed, len(published))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i-1].Key >= listed[i].Key {
			t.Fatalf("List() not sorted: %q before %q", listed[i-1].Key, listed[i].Key)
		}
	}

	reader, err := store.Get(ctx, published[0].ObjectKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	header := make([]byte, 4)
	_, readErr := io.ReadFull(reader, header)
	_ = reader.Close()
	if readErr != nil || !bytes.Equal(header, []byte("PAR1")) {
		t.Fatalf("parquet magic = %q, err = %v", header, readErr)
	}

	db, err := duckdbengine.Open(ctx, "")
	if err != nil {
		t.Fatalf("duckdb Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	engine := duckdbengine.NewEngine(db, store, 100)
	defer func() { _ = engine.Close() }()

	tables, err := engine.LoadDataset(ctx, name)
	if err != nil {
		t.Fatalf("LoadDataset() error = %v", err)
	}
	if strings.Join(tables, ",") != "customers,products,sales" {
		t.Fatalf("tables = %v", tables)
	}
	result, err := engine.Execute(ctx, query.Request{SQL: "SELECT COUNT(*) AS n FROM sales;"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || fmt.Sprint(result.Rows[0][0]) != fmt.Sprint(salesCount) {
		t.Fatalf("count rows = %#v", result.Rows)
	}
}

func TestMissingObjectsReportNotFound(t *testing.T) {
	store := newIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	key := "datasets/it/missing/part-00000.parquet"
	if _, err := store.Stat(ctx, key); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v, want ErrObjectNotFound", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() of missing object error = %v", err)
	}
}

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	endpoint := envOr("NLQUERY_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("NLQUERY_TEST_S3_ENDPOINT is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, Config{
		Endpoint:         endpoint,
		Region:           envOr("NLQUERY_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("NLQUERY_TEST_S3_BUCKET", "nlquery-it"),
		AccessKeyID:      envOr("NLQUERY_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("NLQUERY_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           fmt.Sprintf("integration-tests/%d", time.Now().UnixNano()),
		AutoCreateBucket: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
