package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/lead-router/internal/domain"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []domain.LedgerEntry
	byID     map[string]int
	terminal map[string]string // lead id -> entry id
	reversed map[string]string // entry id -> reversal id
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]int),
		terminal: make(map[string]string),
		reversed: make(map[string]string),
	}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, e domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Outcome.Terminal() {
		if prev, ok := m.terminal[e.LeadID]; ok {
			return fmt.Errorf("%w: lead %s (entry %s)", ErrDuplicateTerminal, e.LeadID, prev)
		}
	}
	if e.ReversesID != "" {
		if prev, ok := m.reversed[e.ReversesID]; ok {
			return fmt.Errorf("%w: %s (reversal %s)", ErrAlreadyReversed, e.ReversesID, prev)
		}
	}

	m.byID[e.ID] = len(m.entries)
	m.entries = append(m.entries, e)
	if e.Outcome.Terminal() {
		m.terminal[e.LeadID] = e.ID
	}
	if e.ReversesID != "" {
		m.reversed[e.ReversesID] = e.ID
	}
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return domain.LedgerEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return m.entries[i], nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, q Query) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if !q.Matches(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
