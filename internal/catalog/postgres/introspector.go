package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nlquery/nlquery/internal/catalog"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
}

// Introspector reads table metadata from information_schema for one schema.
type Introspector struct {
	db            queryer
	schemaName    string
	excludeTables map[string]struct{}
}

func NewIntrospector(db *sql.DB, schemaName string, excludeTables ...string) *Introspector {
	return newIntrospector(db, schemaName, excludeTables...)
}

func newIntrospector(db queryer, schemaName string, excludeTables ...string) *Introspector {
	if schemaName == "" {
		schemaName = "public"
	}
	excluded := make(map[string]struct{}, len(excludeTables))
	for _, table := range excludeTables {
		excluded[table] = struct{}{}
	}
	return &Introspector{db: db, schemaName: schemaName, excludeTables: excluded}
}

func (i *Introspector) HealthCheck(ctx context.Context) error {
	if err := i.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (i *Introspector) Introspect(ctx context.Context) (catalog.Schema, error) {
	builder := catalog.NewBuilder()
	if err := i.loadColumns(ctx, builder); err != nil {
		return catalog.Schema{}, err
	}
	if err := i.loadPrimaryKeys(ctx, builder); err != nil {
		return catalog.Schema{}, err
	}
	if err := i.loadForeignKeys(ctx, builder); err != nil {
		return catalog.Schema{}, err
	}
	return builder.Schema()
}

func (i *Introspector) loadColumns(ctx context.Context, builder *catalog.Builder) error {
	query := `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable, c.column_default
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`
	rows, err := i.db.QueryContext(ctx, query, i.schemaName)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
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
			return fmt.Errorf("scan column: %w", err)
		}
		if i.excluded(tableName) {
			continue
		}
		column.Nullable = isNullable == "YES"
		if defaultVal.Valid {
			value := defaultVal.String
			column.Default = &value
		}
		builder.AddColumn(tableName, column)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}
	return nil
}

func (i *Introspector) loadPrimaryKeys(ctx context.Context, builder *catalog.Builder) error {
	query := `
SELECT kcu.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'PRIMARY KEY'`
	rows, err := i.db.QueryContext(ctx, query, i.schemaName)
	if err != nil {
		return fmt.Errorf("list primary keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return fmt.Errorf("scan primary key: %w", err)
		}
		builder.MarkPrimaryKey(tableName, columnName)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate primary keys: %w", err)
	}
	return nil
}

func (i *Introspector) loadForeignKeys(ctx context.Context, builder *catalog.Builder) error {
	query := `
SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'FOREIGN KEY'
ORDER BY kcu.table_name, kcu.ordinal_position`
	rows, err := i.db.QueryContext(ctx, query, i.schemaName)
	if err != nil {
		return fmt.Errorf("list foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName string
		var fk catalog.ForeignKey
		if err := rows.Scan(&tableName, &fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return fmt.Errorf("scan foreign key: %w", err)
		}
		builder.AddForeignKey(tableName, fk)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign keys: %w", err)
	}
	return nil
}

func (i *Introspector) excluded(tableName string) bool {
	_, ok := i.excludeTables[tableName]
	return ok
}
