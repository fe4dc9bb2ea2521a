package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nlquery/nlquery/internal/history"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Record(ctx context.Context, entry history.Entry) (history.Entry, error) {
	entry = history.Prepare(entry, s.now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO nlquery_query_history
	(entry_id, client_id, source, question, generated_sql, outcome, error_kind, error_message, row_count, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID,
		entry.ClientID,
		entry.Source,
		entry.Question,
		entry.SQL,
		entry.Outcome,
		entry.ErrorKind,
		entry.ErrorMessage,
		entry.RowCount,
		entry.Duration.Milliseconds(),
		entry.CreatedAt,
	)
	if err != nil {
		return history.Entry{}, fmt.Errorf("insert history entry: %w", err)
	}
	return entry, nil
}

func (s *Store) Recent(ctx context.Context, filter history.Filter) ([]history.Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filter.ClientID != "" {
		rows, err = s.db.QueryContext(ctx, `
SELECT entry_id, client_id, source, question, generated_sql, outcome, error_kind, error_message, row_count, duration_ms, created_at
FROM nlquery_query_history
WHERE client_id = $1
ORDER BY created_at DESC
LIMIT $2`, filter.ClientID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
SELECT entry_id, client_id, source, question, generated_sql, outcome, error_kind, error_message, row_count, duration_ms, created_at
FROM nlquery_query_history
ORDER BY created_at DESC
LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var (
			entry      history.Entry
			durationMs int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ClientID,
			&entry.Source,
			&entry.Question,
			&entry.SQL,
			&entry.Outcome,
			&entry.ErrorKind,
			&entry.ErrorMessage,
			&entry.RowCount,
			&durationMs,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}
