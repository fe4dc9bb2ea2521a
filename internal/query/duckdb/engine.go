package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/nlquery/nlquery/internal/query"
	"github.com/nlquery/nlquery/internal/storage"
)

// Open opens a DuckDB database. An empty path opens an in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// Engine executes statements on DuckDB. Parquet datasets from the object
// store are exposed as views so introspection and queries see them as tables.
type Engine struct {
	db       *sql.DB
	store    storage.DatasetReader
	rowLimit int

	mu      sync.RWMutex
	workDir string
	tables  []string
	sealed  bool
}

func NewEngine(db *sql.DB, store storage.DatasetReader, rowLimit int) *Engine {
	return &Engine{db: db, store: store, rowLimit: rowLimit}
}

// LoadDataset downloads every parquet file under the dataset prefix and
// creates one view per table. It returns the view names.
func (e *Engine) LoadDataset(ctx context.Context, dataset string) ([]string, error) {
	if e.store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	prefix, err := storage.DatasetPrefix(dataset)
	if err != nil {
		return nil, err
	}
	objects, err := e.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list dataset %q: %w", dataset, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.workDir == "" {
		if e.sealed {
			return nil, fmt.Errorf("engine is closed")
		}
		workDir, err := os.MkdirTemp("", "nlquery-dataset-")
		if err != nil {
			return nil, fmt.Errorf("create dataset temp dir: %w", err)
		}
		e.workDir = workDir
	}

	groupedPaths := map[string][]string{}
	for index, object := range objects {
		tableName, ok := storage.TableFromDatasetPath(dataset, object.Key)
		if !ok {
			continue
		}
		localPath := filepath.Join(e.workDir, fmt.Sprintf("%s_%s_%d.parquet", sanitizeFileComponent(dataset), sanitizeFileComponent(tableName), index))
		if err := e.stageObject(ctx, object, localPath); err != nil {
			return nil, err
		}
		groupedPaths[tableName] = append(groupedPaths[tableName], localPath)
	}
	if len(groupedPaths) == 0 {
		return nil, fmt.Errorf("dataset %q has no parquet files", dataset)
	}

	tables := make([]string, 0, len(groupedPaths))
	for tableName := range groupedPaths {
		tables = append(tables, tableName)
	}
	sort.Strings(tables)

	for _, tableName := range tables {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(groupedPaths[tableName]))
		if _, err := e.db.ExecContext(ctx, viewSQL); err != nil {
			return nil, fmt.Errorf("create view for table %q: %w", tableName, err)
		}
	}
	if err := e.seal(ctx); err != nil {
		return nil, err
	}
	for _, tableName := range tables {
		if !slices.Contains(e.tables, tableName) {
			e.tables = append(e.tables, tableName)
		}
	}
	sort.Strings(e.tables)
	return tables, nil
}

// seal confines file access to the staging directory and disables external
// access, so statements cannot read host files or remote URLs. The settings
// are global to the database and cannot be reverted once locked.
func (e *Engine) seal(ctx context.Context) error {
	if e.sealed {
		return nil
	}
	allowed := strings.TrimSuffix(e.workDir, string(filepath.Separator)) + string(filepath.Separator)
	statements := []string{
		fmt.Sprintf(`SET allowed_directories = %s`, quoteStringArray([]string{allowed})),
		`SET enable_external_access = false`,
		`SET lock_configuration = true`,
	}
	for _, statement := range statements {
		if _, err := e.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("restrict duckdb file access: %w", err)
		}
	}
	e.sealed = true
	return nil
}

// stageObject copies one parquet object to localPath so DuckDB can read it
// without object store credentials. A short copy is an error.
func (e *Engine) stageObject(ctx context.Context, object storage.ObjectInfo, localPath string) error {
	reader, err := e.store.Get(ctx, object.Key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", object.Key, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local parquet file %q: %w", localPath, err)
	}
	written, copyErr := io.Copy(file, reader)
	closeErr := file.Close()
	if copyErr != nil {
		return fmt.Errorf("write local parquet file %q: %w", localPath, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close local parquet file %q: %w", localPath, closeErr)
	}
	if object.Size > 0 && written != object.Size {
		return fmt.Errorf("object %q: copied %d of %d bytes", object.Key, written, object.Size)
	}
	return nil
}

// Tables lists the views created by LoadDataset, sorted and without
// duplicates across reloads.
func (e *Engine) Tables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.tables...)
}

// CheckLoaded fails until LoadDataset has created at least one view.
func (e *Engine) CheckLoaded(context.Context) error {
	if len(e.Tables()) == 0 {
		return fmt.Errorf("no dataset loaded")
	}
	return nil
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.rowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, e.rowLimit)
	}

	names := make([]string, 0, len(request.Params))
	for name := range request.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]any, 0, len(names))
	for _, name := range names {
		args = append(args, sql.Named(name, request.Params[name]))
	}

	// Views may be replaced concurrently by LoadDataset.
	e.mu.RLock()
	defer e.mu.RUnlock()

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, values, err := query.ScanRows(rows)
	if err != nil {
		return query.Result{}, err
	}
	return query.Result{Columns: columns, Rows: values, Duration: time.Since(start)}, nil
}

// Close removes downloaded dataset files. The database handle is owned by the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workDir == "" {
		return nil
	}
	err := os.RemoveAll(e.workDir)
	e.workDir = ""
	return err
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
