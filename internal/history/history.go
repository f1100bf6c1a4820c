// Package history keeps a record of resolved and executed queries.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Entry is one resolved (and possibly executed) query
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Template   string    `json:"template"`
	RawQuery   string    `json:"raw_query"`
	Workspace  string    `json:"workspace,omitempty"`
	FromRaw    string    `json:"from_raw,omitempty"`
	ToRaw      string    `json:"to_raw,omitempty"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Interval   string    `json:"interval,omitempty"`
	Macros     []string  `json:"macros"`
	UserID     string    `json:"user_id,omitempty"`
	Executed   bool      `json:"executed"`
	Cached     bool      `json:"cached"`
	RowCount   int       `json:"row_count"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists query history
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	RecentByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
}

// NormalizeLimit clamps limit into [1, MaxLimit], using DefaultLimit for
// non-positive values.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// prepare fills the generated fields of an entry
func prepare(entry Entry, now time.Time) Entry {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.Macros == nil {
		entry.Macros = []string{}
	}
	return entry
}

// MemoryStore is a bounded in-process Store, used when no database is
// configured.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	now      func() time.Time
}

// NewMemoryStore creates a store that keeps at most capacity entries
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = MaxLimit
	}
	return &MemoryStore{
		capacity: capacity,
		now:      time.Now,
	}
}

// Record stores an entry, evicting the oldest when full
func (s *MemoryStore) Record(_ context.Context, entry Entry) error {
	entry = prepare(entry, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append([]Entry(nil), s.entries[over:]...)
	}
	return nil
}

// Recent returns the newest entries first
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.RecentByUser(ctx, "", limit)
}

// RecentByUser returns the newest entries for a user first. An empty
// userID matches every entry.
func (s *MemoryStore) RecentByUser(_ context.Context, userID string, limit int) ([]Entry, error) {
	limit = NormalizeLimit(limit)

	s.mu.RLock()
	matched := make([]Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if e := s.entries[i]; userID == "" || e.UserID == userID {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	// Walking backwards keeps insertion order newest first on equal timestamps
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
