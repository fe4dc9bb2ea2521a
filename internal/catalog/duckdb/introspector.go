package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nlquery/nlquery/internal/catalog"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Introspector lists tables and views of a DuckDB database, including the
// views registered over parquet datasets.
type Introspector struct {
	db         queryer
	schemaName string
}

func NewIntrospector(db *sql.DB, schemaName string) *Introspector {
	return newIntrospector(db, schemaName)
}

func newIntrospector(db queryer, schemaName string) *Introspector {
	if schemaName == "" {
		schemaName = "main"
	}
	return &Introspector{db: db, schemaName: schemaName}
}

func (i *Introspector) Introspect(ctx context.Context) (catalog.Schema, error) {
	builder := catalog.NewBuilder()

	rows, err := i.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = ?
ORDER BY table_name, ordinal_position`, i.schemaName)
	if err != nil {
		return catalog.Schema{}, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			tableName  string
			column     catalog.Column
			isNullable string
			defaultVal sql.NullString
		)
		if err := rows.Scan(&tableName, &column.Name, &column.DeclaredType, &isNullable, &defaultVal); err != nil {
			return catalog.Schema{}, fmt.Errorf("scan column: %w", err)
		}
		column.Nullable = isNullable == "YES"
		if defaultVal.Valid {
			value := defaultVal.String
			column.Default = &value
		}
		builder.AddColumn(tableName, column)
	}
	if err := rows.Err(); err != nil {
		return catalog.Schema{}, fmt.Errorf("iterate columns: %w", err)
	}
	if err := rows.Close(); err != nil {
		return catalog.Schema{}, fmt.Errorf("close column rows: %w", err)
	}

	pkRows, err := i.db.QueryContext(ctx, `
SELECT table_name, unnest(constraint_column_names) AS column_name
FROM duckdb_constraints()
WHERE schema_name = ? AND constraint_type = 'PRIMARY KEY'`, i.schemaName)
	if err != nil {
		return catalog.Schema{}, fmt.Errorf("list primary keys: %w", err)
	}
	defer func() { _ = pkRows.Close() }()
	for pkRows.Next() {
		var tableName, columnName string
		if err := pkRows.Scan(&tableName, &columnName); err != nil {
			return catalog.Schema{}, fmt.Errorf("scan primary key: %w", err)
		}
		builder.MarkPrimaryKey(tableName, columnName)
	}
	if err := pkRows.Err(); err != nil {
		return catalog.Schema{}, fmt.Errorf("iterate primary keys: %w", err)
	}

	return builder.Schema()
}
