// Package memory implements the artifact store contract on plain maps.
// It backs the session-scoped fallback cache and tests.
package memory

import (
	"context"
	"sync"

	"insight-gateway/internal/shared/storage/artifact"
)

type entry struct {
	payload []byte
	seq     uint64
}

// Store holds payloads in process memory with the same quota and
// eviction behavior as the on-disk store. Capacity <= 0 disables the
// quota entirely, which is what the session cache wants.
type Store struct {
	capacity int64
	maxEntry int64

	mu      sync.Mutex
	entries map[string]entry
	total   int64
	nextSeq uint64
}

var _ artifact.Store = (*Store)(nil)

// New returns a store bounded by capacity bytes. maxEntry <= 0 means
// "same as capacity".
func New(capacity, maxEntry int64) *Store {
	if maxEntry <= 0 || (capacity > 0 && maxEntry > capacity) {
		maxEntry = capacity
	}
	return &Store{
		capacity: capacity,
		maxEntry: maxEntry,
		entries:  make(map[string]entry),
	}
}

// Unbounded returns a store with no quota.
func Unbounded() *Store {
	return New(0, 0)
}

func (s *Store) Put(ctx context.Context, key string, payload []byte) (artifact.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return artifact.PutResult{}, err
	}
	size := int64(len(payload))
	if s.capacity > 0 && (size > s.maxEntry || size > s.capacity) {
		return artifact.PutResult{Degraded: true}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := int64(0)
	if old, ok := s.entries[key]; ok {
		replaced = old.size()
	}

	evicted := 0
	if s.capacity > 0 {
		for s.total-replaced+size > s.capacity {
			victim, ok := s.oldestExcept(key)
			if !ok {
				break
			}
			s.total -= s.entries[victim].size()
			delete(s.entries, victim)
			evicted++
		}
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)
	s.entries[key] = entry{payload: stored, seq: s.nextSeq}
	s.nextSeq++
	s.total = s.total - replaced + size

	return artifact.PutResult{Stored: true, Evicted: evicted}, nil
}

func (e entry) size() int64 {
	return int64(len(e.payload))
}

func (s *Store) oldestExcept(key string) (string, bool) {
	var oldest string
	var oldestSeq uint64
	found := false
	for k, e := range s.entries {
		if k == key {
			continue
		}
		if !found || e.seq < oldestSeq {
			oldest = k
			oldestSeq = e.seq
			found = true
		}
	}
	return oldest, found
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *Store) Stats(ctx context.Context) (artifact.Stats, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return artifact.Stats{Entries: len(s.entries), TotalBytes: s.total}, nil
}

func (s *Store) Close() error {
	return nil
}
