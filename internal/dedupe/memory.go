package dedupe

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ignite/lead-router/internal/pkg/logger"
)

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	entries map[string]time.Time // fingerprint -> expiry
}

// MemoryIndex is a process-local Index. Fingerprints are spread over
// independently locked shards so unrelated leads never contend.
type MemoryIndex struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	idx := &MemoryIndex{now: time.Now}
	for i := range idx.shards {
		idx.shards[i] = &shard{entries: make(map[string]time.Time)}
	}
	return idx
}

// WithClock overrides the time source. Used by tests.
func (m *MemoryIndex) WithClock(now func() time.Time) *MemoryIndex {
	m.now = now
	return m
}

func (m *MemoryIndex) shardFor(fp string) *shard {
	h := fnv.New32a()
	h.Write([]byte(fp))
	return m.shards[h.Sum32()%shardCount]
}

// CheckAndInsert returns Duplicate if fp is present and unexpired; otherwise
// it records fp until now+window and returns Fresh. Expired entries found on
// lookup are replaced in place.
func (m *MemoryIndex) CheckAndInsert(_ context.Context, fp string, window time.Duration) (Result, error) {
	s := m.shardFor(fp)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.entries[fp]; ok && now.Before(exp) {
		return Duplicate, nil
	}
	s.entries[fp] = now.Add(window)
	return Fresh, nil
}

// Forget implements Index.
func (m *MemoryIndex) Forget(_ context.Context, fp string) error {
	s := m.shardFor(fp)
	s.mu.Lock()
	delete(s.entries, fp)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored fingerprints, expired or not.
func (m *MemoryIndex) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Sweep evicts every expired fingerprint and returns how many were removed.
func (m *MemoryIndex) Sweep() int {
	now := m.now()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for fp, exp := range s.entries {
			if !now.Before(exp) {
				delete(s.entries, fp)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Start runs Sweep every interval until ctx is cancelled.
func (m *MemoryIndex) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.Debug("dedupe: swept expired fingerprints", "removed", n)
			}
		}
	}
}
