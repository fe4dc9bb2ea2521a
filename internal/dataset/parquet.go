package dataset

import (
	"bytes"
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/nlquery/nlquery/internal/storage"
)

// EncodeParquet writes rows as a single parquet file using the struct's
// parquet tags as the schema.
func EncodeParquet[T any](rows []T) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("rows are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

type PublishedFile struct {
	Table     string
	ObjectKey string
	Rows      int
	Bytes     int64
}

// Publish uploads one parquet file per table under the dataset prefix.
// Uploads run concurrently; the first failure cancels the rest.
func Publish(ctx context.Context, store storage.DatasetWriter, name string, retail Retail) ([]PublishedFile, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}

	type encoded struct {
		table string
		rows  int
		data  []byte
	}
	tables := make([]encoded, 0, 3)
	products, err := EncodeParquet(retail.Products)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TableProducts, err)
	}
	tables = append(tables, encoded{table: TableProducts, rows: len(retail.Products), data: products})
	customers, err := EncodeParquet(retail.Customers)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TableCustomers, err)
	}
	tables = append(tables, encoded{table: TableCustomers, rows: len(retail.Customers), data: customers})
	sales, err := EncodeParquet(retail.Sales)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TableSales, err)
	}
	tables = append(tables, encoded{table: TableSales, rows: len(retail.Sales), data: sales})

	published := make([]PublishedFile, len(tables))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, item := range tables {
		group.Go(func() error {
			key, err := storage.BuildDatasetFilePath(name, item.table, 0)
			if err != nil {
				return err
			}
			info, err := store.Put(groupCtx, key, bytes.NewReader(item.data), int64(len(item.data)), storage.PutOptions{ContentType: storage.ParquetContentType})
			if err != nil {
				return fmt.Errorf("upload %s: %w", item.table, err)
			}
			size := info.Size
			if size == 0 {
				size = int64(len(item.data))
			}
			published[i] = PublishedFile{Table: item.table, ObjectKey: key, Rows: item.rows, Bytes: size}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return published, nil
}
