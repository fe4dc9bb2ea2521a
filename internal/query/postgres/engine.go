package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nlquery/nlquery/internal/query"
)

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Engine runs statements against PostgreSQL through the pgx database/sql
// driver. Named parameters use pgx's @name placeholders. Every statement
// runs in its own read-only transaction whose statement_timeout follows the
// context deadline.
type Engine struct {
	db       txBeginner
	rowLimit int
}

func NewEngine(db *sql.DB, rowLimit int) *Engine {
	return &Engine{db: db, rowLimit: rowLimit}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.rowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, e.rowLimit)
	}

	var args []any
	if len(request.Params) > 0 {
		args = append(args, pgx.NamedArgs(request.Params))
	}

	start := time.Now()
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if deadline, ok := ctx.Deadline(); ok {
		timeout := max(time.Until(deadline).Milliseconds(), 1)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout)); err != nil {
			return query.Result{}, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, sqlText, args...)
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

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
