package auditlogs

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

func (r *PostgresRepository) Append(ctx context.Context, ev *models.AuditEvent) error {
	query :=
		`INSERT INTO audit_logs (id, user_id, category, action, ip_address, user_agent, detail, classification, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query, ev.ID, ev.UserID, string(ev.Category), ev.Action,
		ev.Origin.IPAddress, ev.Origin.UserAgent, ev.Detail, string(ev.Classification), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error) {
	query :=
		`SELECT id, user_id, category, action, ip_address, user_agent, detail, classification, created_at
		 FROM audit_logs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var (
			ev                       models.AuditEvent
			category, classification string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &category, &ev.Action, &ev.Origin.IPAddress,
			&ev.Origin.UserAgent, &ev.Detail, &classification, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ev.Category = models.AuditCategory(category)
		ev.Classification = models.Classification(classification)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
