// Package archive stores sealed record snapshots taken before deletion.
// Writes are keyed by (original table, original id) and overwrite, so
// re-archiving the same record is idempotent.
package archive

import (
	"context"

	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

type Store interface {
	Put(ctx context.Context, rec *models.ArchivedRecord) error
}
