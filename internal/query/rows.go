package query

import (
	"database/sql"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// float64er is implemented by driver decimal types such as DuckDB's Decimal.
type float64er interface {
	Float64() float64
}

// ScanRows drains rows into column names and JSON-friendly values.
func ScanRows(rows *sql.Rows) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	values := make([]any, len(columns))
	targets := make([]any, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]any, len(values))
		for i, value := range values {
			row[i] = NormalizeValue(value)
			values[i] = nil
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, resultRows, nil
}

// NormalizeValue converts driver-specific values into types encoding/json
// renders as plain scalars: bytes become text, UUIDs their canonical form,
// big integers int64 when they fit, decimals float64. Non-finite floats
// become nil because JSON cannot carry them.
func NormalizeValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(typed)
	case [16]byte:
		return uuid.UUID(typed).String()
	case time.Time:
		return typed.UTC()
	case *big.Int:
		if typed == nil {
			return nil
		}
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case float64:
		return finiteOrNil(typed)
	case float32:
		return finiteOrNil(float64(typed))
	case float64er:
		return finiteOrNil(typed.Float64())
	default:
		return typed
	}
}

func finiteOrNil(value float64) any {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return value
}
