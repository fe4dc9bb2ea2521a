package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNoTables = errors.New("catalog: no tables found")

// Introspector returns the live table and column metadata of the target database.
type Introspector interface {
	Introspect(ctx context.Context) (Schema, error)
}

type Schema struct {
	Tables []Table
}

type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

type Column struct {
	Name         string
	DeclaredType string
	Nullable     bool
	PrimaryKey   bool
	Default      *string
}

type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

type TableSummary struct {
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
}

func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

// Describe renders the schema as the text block embedded in model prompts.
// Output is deterministic for a given schema.
func Describe(schema Schema) string {
	blocks := make([]string, 0, len(schema.Tables))
	for _, table := range schema.Tables {
		var b strings.Builder
		fmt.Fprintf(&b, "Table: %s\nColumns:", table.Name)
		for _, column := range table.Columns {
			b.WriteString("\n  - ")
			b.WriteString(describeColumn(column))
		}
		if len(table.ForeignKeys) > 0 {
			b.WriteString("\nForeign keys:")
			for _, fk := range table.ForeignKeys {
				fmt.Fprintf(&b, "\n  - %s references %s(%s)", fk.Column, fk.RefTable, fk.RefColumn)
			}
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

func describeColumn(column Column) string {
	parts := []string{fmt.Sprintf("%s (%s)", column.Name, column.DeclaredType)}
	if column.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if !column.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if column.Default != nil {
		parts = append(parts, "DEFAULT "+*column.Default)
	}
	return strings.Join(parts, " ")
}

// Summary maps each table to its column names.
func Summary(schema Schema) map[string][]string {
	summary := make(map[string][]string, len(schema.Tables))
	for _, table := range schema.Tables {
		summary[table.Name] = columnNames(table)
	}
	return summary
}

// OrderedSummary is Summary in introspection order.
func OrderedSummary(schema Schema) []TableSummary {
	summaries := make([]TableSummary, 0, len(schema.Tables))
	for _, table := range schema.Tables {
		summaries = append(summaries, TableSummary{TableName: table.Name, Columns: columnNames(table)})
	}
	return summaries
}

func columnNames(table Table) []string {
	names := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Builder accumulates introspection rows that arrive ordered by table.
type Builder struct {
	tables []Table
	index  map[string]int
}

func NewBuilder() *Builder {
	return &Builder{index: map[string]int{}}
}

func (b *Builder) AddColumn(table string, column Column) {
	i, ok := b.index[table]
	if !ok {
		i = len(b.tables)
		b.index[table] = i
		b.tables = append(b.tables, Table{Name: table})
	}
	b.tables[i].Columns = append(b.tables[i].Columns, column)
}

// MarkPrimaryKey flags a known column as part of the primary key.
func (b *Builder) MarkPrimaryKey(table, column string) {
	i, ok := b.index[table]
	if !ok {
		return
	}
	for j := range b.tables[i].Columns {
		if b.tables[i].Columns[j].Name == column {
			b.tables[i].Columns[j].PrimaryKey = true
		}
	}
}

func (b *Builder) AddForeignKey(table string, fk ForeignKey) {
	i, ok := b.index[table]
	if !ok {
		return
	}
	b.tables[i].ForeignKeys = append(b.tables[i].ForeignKeys, fk)
}

func (b *Builder) Schema() (Schema, error) {
	if len(b.tables) == 0 {
		return Schema{}, ErrNoTables
	}
	return Schema{Tables: b.tables}, nil
}
