package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nlquery/nlquery/internal/nl2sql"
)

// Gateway is the only path from a validated statement to an Engine.
type Gateway struct {
	Engine  Engine
	Timeout time.Duration
}

func NewGateway(engine Engine, timeout time.Duration) *Gateway {
	return &Gateway{Engine: engine, Timeout: timeout}
}

// Execute re-checks the denylist, runs the statement and maps rows in the
// engine's column order.
func (g *Gateway) Execute(ctx context.Context, statement nl2sql.ValidatedStatement, params map[string]any) (ResultSet, error) {
	if statement.IsZero() {
		return ResultSet{}, nl2sql.NewError(nl2sql.KindInvalidStatement, "statement has not been validated", nil)
	}
	if err := nl2sql.CheckDenylist(statement.SQL()); err != nil {
		return ResultSet{}, err
	}
	if g.Engine == nil {
		return ResultSet{}, nl2sql.NewError(nl2sql.KindExecutionFailure, "execution engine is not configured", nil)
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := g.Engine.Execute(ctx, Request{SQL: statement.SQL(), Params: params})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ResultSet{}, nl2sql.NewError(nl2sql.KindExecutionFailure, "execution timed out", err)
		}
		return ResultSet{}, nl2sql.NewError(nl2sql.KindExecutionFailure, "execute statement", err)
	}

	columns := uniqueColumnNames(result.Columns)
	rows := make([]Row, 0, len(result.Rows))
	for index, values := range result.Rows {
		if len(values) != len(columns) {
			return ResultSet{}, nl2sql.NewError(nl2sql.KindExecutionFailure, fmt.Sprintf("row %d has %d values for %d columns", index, len(values), len(columns)), nil)
		}
		row := make(Row, len(values))
		for i, value := range values {
			row[i] = Field{Name: columns[i], Value: value}
		}
		rows = append(rows, row)
	}

	duration := result.Duration
	if duration <= 0 {
		duration = time.Since(start)
	}
	return ResultSet{Columns: columns, Rows: rows, Duration: duration}, nil
}

// uniqueColumnNames suffixes repeated names (id, id_2, ...) so row keys stay unique.
func uniqueColumnNames(columns []string) []string {
	seen := make(map[string]int, len(columns))
	unique := make([]string, len(columns))
	for i, name := range columns {
		seen[name]++
		if seen[name] == 1 {
			unique[i] = name
			continue
		}
		candidate := fmt.Sprintf("%s_%d", name, seen[name])
		for seen[candidate] > 0 {
			seen[name]++
			candidate = fmt.Sprintf("%s_%d", name, seen[name])
		}
		seen[candidate] = 1
		unique[i] = candidate
	}
	return unique
}
