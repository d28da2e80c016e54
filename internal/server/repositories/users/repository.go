package users

import (
	"context"

	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

// Repository stores identity records.
//
// Update is a compare-and-swap on User.Version: it succeeds only when the
// stored version still equals user.Version, bumps the version and returns
// common.ErrVersionConflict otherwise. Delete of a missing id is not an
// error.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, user *models.User) (*models.User, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}
