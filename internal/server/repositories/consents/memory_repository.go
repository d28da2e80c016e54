package consents

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	byUser map[string][]models.ConsentRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byUser: make(map[string][]models.ConsentRecord)}
}

func (r *MemoryRepository) Append(_ context.Context, rec *models.ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[rec.UserID] = append(r.byUser[rec.UserID], *rec)
	return nil
}

// ListByUser returns the records in insertion order.
func (r *MemoryRepository) ListByUser(_ context.Context, userID string) ([]models.ConsentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byUser[userID]), nil
}

func (r *MemoryRepository) DeleteByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.byUser[userID]))
	delete(r.byUser, userID)
	return n, nil
}
