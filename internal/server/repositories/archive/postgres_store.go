package archive

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/idkeeper/internal/dbx"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

// PostgresStore keeps archives in the archived_records table.
type PostgresStore struct {
	db dbx.DBTX
}

func NewPostgresStore(db dbx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, rec *models.ArchivedRecord) error {
	query :=
		`INSERT INTO archived_records (original_table, original_id, user_id, archived_at, sealed)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (original_table, original_id)
		 DO UPDATE SET user_id = EXCLUDED.user_id, archived_at = EXCLUDED.archived_at, sealed = EXCLUDED.sealed`

	if _, err := s.db.ExecContext(ctx, query, rec.OriginalTable, rec.OriginalID, rec.UserID, rec.ArchivedAt, rec.Sealed); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
