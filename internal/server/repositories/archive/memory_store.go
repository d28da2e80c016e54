package archive

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

type key struct{ table, id string }

type MemoryStore struct {
	mu     sync.RWMutex
	items  map[key]models.ArchivedRecord
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[key]models.ArchivedRecord)}
}

func (s *MemoryStore) Put(_ context.Context, rec *models.ArchivedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key{rec.OriginalTable, rec.OriginalID}] = *rec
	s.writes++
	return nil
}

// Get returns the archive for (table, id), if any.
func (s *MemoryStore) Get(table, id string) (models.ArchivedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[key{table, id}]
	return rec, ok
}

// Len is the number of distinct archived records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Writes counts Put calls, including overwrites.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
