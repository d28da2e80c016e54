package consents

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/idkeeper/internal/dbx"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, rec *models.ConsentRecord) error {
	query :=
		`INSERT INTO user_consents (id, user_id, category, granted, recorded_at, ip_address, user_agent, policy_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.UserID, string(rec.Category), rec.Granted, rec.Timestamp,
		rec.Origin.IPAddress, rec.Origin.UserAgent, rec.PolicyVersion)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByUser returns records oldest first. Records with the same timestamp
// come back in insertion order.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]models.ConsentRecord, error) {
	query :=
		`SELECT id, user_id, category, granted, recorded_at, ip_address, user_agent, policy_version
		 FROM user_consents
		 WHERE user_id = $1
		 ORDER BY recorded_at, seq`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.ConsentRecord
	for rows.Next() {
		var (
			rec      models.ConsentRecord
			category string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &category, &rec.Granted, &rec.Timestamp,
			&rec.Origin.IPAddress, &rec.Origin.UserAgent, &rec.PolicyVersion); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.Category = models.ConsentCategory(category)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_consents WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
