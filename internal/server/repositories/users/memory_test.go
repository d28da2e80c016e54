package users

import (
	"context"
	"sync"
	"testing"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	u, err := r.Create(ctx, &models.User{Email: "alice@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	assert.Equal(t, int64(1), u.Version)

	_, err = r.Create(ctx, &models.User{Email: "alice@example.com"})
	require.ErrorIs(t, err, common.ErrorAlreadyExists)

	byMail, err := r.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byMail.ID)

	_, err = r.GetByID(ctx, "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemoryRepository_UpdateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	u, err := r.Create(ctx, &models.User{Email: "bob@example.com"})
	require.NoError(t, err)

	stale := u.Clone()

	u.FailedAttempts = 1
	u2, err := r.Update(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(2), u2.Version)

	stale.FailedAttempts = 7
	_, err = r.Update(ctx, stale)
	require.ErrorIs(t, err, common.ErrVersionConflict)

	got, err := r.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedAttempts)
}

func TestMemoryRepository_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	u, err := r.Create(ctx, &models.User{Email: "carol@example.com"})
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := r.GetByID(ctx, u.ID)
				if err != nil {
					return
				}
				cur.FailedAttempts++
				if _, err := r.Update(ctx, cur); err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := r.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.FailedAttempts)
}

func TestMemoryRepository_DeleteMissingIsSuccess(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	u, err := r.Create(ctx, &models.User{Email: "dave@example.com"})
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, u.ID))
	require.NoError(t, r.Delete(ctx, u.ID))

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = r.GetByEmail(ctx, "dave@example.com")
	require.ErrorIs(t, err, common.ErrorNotFound)
}
