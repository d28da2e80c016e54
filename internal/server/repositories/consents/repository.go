// Package consents stores the append-only consent log.
package consents

import (
	"context"

	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

// Repository appends and lists consent records. Records are never updated;
// DeleteByUser exists only for the account deletion workflow.
type Repository interface {
	Append(ctx context.Context, rec *models.ConsentRecord) error
	ListByUser(ctx context.Context, userID string) ([]models.ConsentRecord, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
