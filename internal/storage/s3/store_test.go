package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/nlquery/nlquery/internal/storage"
)

func TestPutUsesPrefixAndNormalizedKey(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "nlquery/prod", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	_, err = store.Put(context.Background(), "/datasets/retail/sales/part-00000.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastPutBucket != "bucket-a" {
		t.Fatalf("bucket = %q", fake.lastPutBucket)
	}
	if fake.lastPutKey != "nlquery/prod/datasets/retail/sales/part-00000.parquet" {
		t.Fatalf("key = %q", fake.lastPutKey)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	_, err = store.Put(context.Background(), "../secrets.txt", bytes.NewBufferString("x"), 1, storage.PutOptions{})
	if err == nil {
		t.Fatal("expected path traversal validation error")
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeClient{bucketExists: false}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if !fake.createBucketCalled {
		t.Fatal("expected CreateBucket to be called")
	}
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	fake := &fakeClient{deleteErr: storage.ErrObjectNotFound}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if err := store.Delete(context.Background(), "datasets/retail/missing.parquet"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestListStripsStorePrefix(t *testing.T) {
	fake := &fakeClient{listed: []storage.ObjectInfo{
		{Key: "nlquery/prod/datasets/retail/sales/part-00000.parquet", Size: 10},
		{Key: "nlquery/prod/datasets/retail/products/part-00000.parquet", Size: 20},
	}}
	store, err := NewWithClient("bucket-a", "nlquery/prod", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	objects, err := store.List(context.Background(), "datasets/retail/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fake.lastListPrefix != "nlquery/prod/datasets/retail/" {
		t.Fatalf("list prefix = %q", fake.lastListPrefix)
	}
	if len(objects) != 2 || objects[0].Key != "datasets/retail/sales/part-00000.parquet" {
		t.Fatalf("objects = %#v", objects)
	}
}

func TestListSortsAndSkipsDirectoryMarkers(t *testing.T) {
	fake := &fakeClient{listed: []storage.ObjectInfo{
		{Key: "datasets/retail/sales/part-00001.parquet"},
		{Key: "datasets/retail/sales/"},
		{Key: "datasets/retail/customers/part-00000.parquet"},
		{Key: "datasets/retail/sales/part-00000.parquet"},
	}}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	objects, err := store.List(context.Background(), "/datasets/retail/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{
		"datasets/retail/customers/part-00000.parquet",
		"datasets/retail/sales/part-00000.parquet",
		"datasets/retail/sales/part-00001.parquet",
	}
	if len(objects) != len(want) {
		t.Fatalf("objects = %#v", objects)
	}
	for i, key := range want {
		if objects[i].Key != key {
			t.Fatalf("objects[%d].Key = %q, want %q", i, objects[i].Key, key)
		}
	}
}

func TestPutDefaultsParquetContentType(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "/nlquery/", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	info, err := store.Put(context.Background(), "datasets/retail/sales/part-00000.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastContentType != storage.ParquetContentType {
		t.Fatalf("content type = %q", fake.lastContentType)
	}
	if info.Key != "datasets/retail/sales/part-00000.parquet" {
		t.Fatalf("returned key = %q", info.Key)
	}

	if _, err := store.Put(context.Background(), "notes.txt", bytes.NewBufferString("x"), 1, storage.PutOptions{}); err != nil {
		t.Fatalf("Put(txt) error = %v", err)
	}
	if fake.lastContentType != "" {
		t.Fatalf("content type for txt = %q", fake.lastContentType)
	}
}

func TestGetWrapsNotFoundWithKey(t *testing.T) {
	fake := &fakeClient{getErr: storage.ErrObjectNotFound}
	store, err := NewWithClient("bucket-a", "nlquery", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	_, err = store.Get(context.Background(), "datasets/retail/sales/part-00009.parquet")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
	if !strings.Contains(err.Error(), "nlquery/datasets/retail/sales/part-00009.parquet") {
		t.Fatalf("error %q should name the key", err)
	}
}

func TestObjectKeyRejectsEscapes(t *testing.T) {
	store, err := NewWithClient("bucket-a", "nlquery", &fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	for _, key := range []string{"", "  ", "/", "..", "../x", "a/../../x"} {
		if got, err := store.objectKey(key); err == nil {
			t.Fatalf("objectKey(%q) = %q, want error", key, got)
		}
	}
	got, err := store.objectKey("a/./b/../c.parquet")
	if err != nil || got != "nlquery/a/c.parquet" {
		t.Fatalf("objectKey() = %q, %v", got, err)
	}
}

func TestPingReportsMissingBucket(t *testing.T) {
	fake := &fakeClient{bucketExists: false}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if err := store.Ping(context.Background()); err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("Ping() error = %v", err)
	}
	fake.bucketExists = true
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{Bucket: "b"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if _, err := New(context.Background(), Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		useSSL   bool
		endpoint string
		secure   bool
		wantErr  bool
	}{
		{raw: "https://minio.example.com", endpoint: "minio.example.com", secure: true},
		{raw: "http://localhost:9000", useSSL: true, endpoint: "localhost:9000", secure: true},
		{raw: "http://localhost:9000", endpoint: "localhost:9000"},
		{raw: "localhost:9000", useSSL: true, endpoint: "localhost:9000", secure: true},
		{raw: "ftp://files.example.com", wantErr: true},
		{raw: "https://", wantErr: true},
		{raw: " ", wantErr: true},
	}
	for _, tc := range cases {
		endpoint, secure, err := parseEndpoint(tc.raw, tc.useSSL)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseEndpoint(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tc.raw, err)
		}
		if endpoint != tc.endpoint || secure != tc.secure {
			t.Fatalf("parseEndpoint(%q) = %q/%v", tc.raw, endpoint, secure)
		}
	}
}

type fakeClient struct {
	lastPutBucket      string
	lastPutKey         string
	bucketExists       bool
	createBucketCalled bool
	deleteErr          error
	listed             []storage.ObjectInfo
	lastListPrefix     string
	lastContentType    string
	getErr             error
}

func (f *fakeClient) Put(_ context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	f.lastPutBucket = bucket
	f.lastPutKey = key
	f.lastContentType = contentType
	_, _ = io.Copy(io.Discard, reader)
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeClient) Get(_ context.Context, _, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return io.NopCloser(strings.NewReader(key)), nil
}

func (f *fakeClient) Stat(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{Key: key, Size: 10, LastModified: time.Now().UTC()}, nil
}

func (f *fakeClient) List(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	f.lastListPrefix = prefix
	return append([]storage.ObjectInfo(nil), f.listed...), nil
}

func (f *fakeClient) Delete(_ context.Context, _, _ string) error {
	return f.deleteErr
}

func (f *fakeClient) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeClient) CreateBucket(_ context.Context, _, _ string) error {
	f.createBucketCalled = true
	return nil
}
