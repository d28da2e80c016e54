package records

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	tables map[string]map[string]models.Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tables: make(map[string]map[string]models.Record)}
}

func (r *MemoryRepository) Insert(_ context.Context, table string, rec *models.Record) (*models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := *rec
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if len(out.Data) == 0 {
		out.Data = json.RawMessage("{}")
	}
	t, ok := r.tables[table]
	if !ok {
		t = make(map[string]models.Record)
		r.tables[table] = t
	}
	t[out.ID] = out
	return &out, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, table, userID string) ([]models.Record, error) {
	return r.filter(table, func(rec models.Record) bool { return rec.UserID == userID })
}

func (r *MemoryRepository) CountByUser(ctx context.Context, table, userID string) (int, error) {
	recs, err := r.ListByUser(ctx, table, userID)
	return len(recs), err
}

func (r *MemoryRepository) ListOlderThan(_ context.Context, table string, cutoff time.Time) ([]models.Record, error) {
	return r.filter(table, func(rec models.Record) bool { return rec.CreatedAt.Before(cutoff) })
}

func (r *MemoryRepository) Delete(_ context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables[table], id)
	return nil
}

func (r *MemoryRepository) DeleteByUser(_ context.Context, table, userID string) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, rec := range r.tables[table] {
		if rec.UserID == userID {
			delete(r.tables[table], id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) filter(table string, keep func(models.Record) bool) ([]models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Record
	for _, rec := range r.tables[table] {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b models.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}
