// Package audit persists a record of every tool invocation and its outcome
// for traceability. Recording is best-effort: a failed audit write never
// fails the tool call itself.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/tracklane/copilot/pkg/models"
)

// Entry is one recorded tool invocation.
type Entry struct {
	ID            string         `json:"id"`
	RequestID     string         `json:"request_id"`
	CallerID      string         `json:"caller_id"`
	TenantID      string         `json:"tenant_id"`
	ToolName      string         `json:"tool_name"`
	CorrelationID string         `json:"correlation_id"`
	Mutating      bool           `json:"mutating"`
	Confirmed     bool           `json:"confirmed"`
	ErrKind       models.ErrKind `json:"err_kind,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, entry *Entry) error
	ListByRequest(ctx context.Context, requestID string) ([]*Entry, error)
	// Prune removes entries older than the given duration, returning how
	// many were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MemoryStore keeps entries in memory, for tests and single-node use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record implements Store.
func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, &copied)
	return nil
}

// ListByRequest implements Store.
func (s *MemoryStore) ListByRequest(ctx context.Context, requestID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.entries {
		if e.RequestID == requestID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// Len returns the number of stored entries, for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
