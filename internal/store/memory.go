package store

import (
	"context"
	"sync"

	"github.com/kenneth/nac-producer/internal/ndn"
)

// MemoryStore keeps records in a map. It is meant for tests and single
// process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, d *ndn.Data) error {
	raw, err := encodeRecord(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[d.Name.String()] = raw
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, name ndn.Name) (*ndn.Data, error) {
	s.mu.RLock()
	raw, ok := s.records[name.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(name)
	}
	return decodeRecord(raw, name)
}

func (s *MemoryStore) Delete(ctx context.Context, name ndn.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name.String()
	if _, ok := s.records[key]; !ok {
		return notFound(name)
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
