package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the ledger in process memory. Single-instance/dev only:
// a restart forgets every pair, so redeliveries after a crash reprocess.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

func key(eventID, consumerID string) string {
	return eventID + "|" + consumerID
}

func (s *MemoryStore) IsProcessed(_ context.Context, eventID, consumerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key(eventID, consumerID)]
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, eventID, consumerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(eventID, consumerID)
	if _, ok := s.entries[k]; ok {
		return ErrAlreadyProcessed
	}
	s.entries[k] = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-retention)
	var purged int64
	for k, at := range s.entries {
		if at.Before(cutoff) {
			delete(s.entries, k)
			purged++
		}
	}
	return purged, nil
}
