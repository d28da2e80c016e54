package auditlogs

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	events []models.AuditEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(_ context.Context, ev *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]models.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AuditEvent
	for i := len(r.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.events[i].UserID == userID {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

// All returns every stored event in insertion order.
func (r *MemoryRepository) All() []models.AuditEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}
