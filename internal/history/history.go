package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

const (
	SourceHTTP  = "http"
	SourceVoice = "voice"
)

// Entry records one pipeline run: the question, the statement that was
// generated (if any) and how the run ended.
type Entry struct {
	ID           string        `json:"id"`
	ClientID     string        `json:"client_id"`
	Source       string        `json:"source"`
	Question     string        `json:"question"`
	SQL          string        `json:"sql,omitempty"`
	Outcome      string        `json:"outcome"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	RowCount     int           `json:"row_count"`
	Duration     time.Duration `json:"duration_ns"`
	CreatedAt    time.Time     `json:"created_at"`
}

type Filter struct {
	ClientID string
	Limit    int
}

type Store interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
	Recent(ctx context.Context, filter Filter) ([]Entry, error)
}

// Prepare fills the ID and CreatedAt of a new entry.
func Prepare(entry Entry, now time.Time) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeOK
	}
	return entry
}

// MemoryStore keeps the most recent entries in process, for deployments
// without a PostgreSQL database.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	now      func() time.Time
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{capacity: capacity, now: time.Now}
}

func (m *MemoryStore) Record(_ context.Context, entry Entry) (Entry, error) {
	entry = Prepare(entry, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if overflow := len(m.entries) - m.capacity; overflow > 0 {
		m.entries = append([]Entry(nil), m.entries[overflow:]...)
	}
	return entry, nil
}

// Recent returns entries newest first.
func (m *MemoryStore) Recent(_ context.Context, filter Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		entry := m.entries[i]
		if filter.ClientID != "" && entry.ClientID != filter.ClientID {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
