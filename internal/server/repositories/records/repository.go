// Package records reads and deletes user-owned rows of the governed tables.
// Every table shares the same shape (id, user_id, created_at, data), so a
// single repository serves all of them, selected by table name.
package records

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

// ErrUnknownTable is returned for a table that is not governed.
var ErrUnknownTable = fmt.Errorf("%w: unknown table", common.ErrValidation)

// Repository operates on one governed table per call. Deleting a missing
// id is a success.
type Repository interface {
	Insert(ctx context.Context, table string, rec *models.Record) (*models.Record, error)
	ListByUser(ctx context.Context, table, userID string) ([]models.Record, error)
	CountByUser(ctx context.Context, table, userID string) (int, error)
	ListOlderThan(ctx context.Context, table string, cutoff time.Time) ([]models.Record, error)
	Delete(ctx context.Context, table, id string) error
	DeleteByUser(ctx context.Context, table, userID string) (int64, error)
}

func checkTable(table string) error {
	if !models.IsGovernedTable(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}
