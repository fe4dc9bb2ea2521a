package query

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

type Request struct {
	SQL    string
	Params map[string]any
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Engine executes one statement with bound parameters.
type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

type Field struct {
	Name  string
	Value any
}

// Row is an ordered column-name to value mapping.
type Row []Field

func (r Row) Get(name string) (any, bool) {
	for _, field := range r {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the row as an object, keeping column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type ResultSet struct {
	Columns  []string
	Rows     []Row
	Duration time.Duration
}
