package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/dbx"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Table names are checked against the governed set before being
// interpolated into a query.

func (r *PostgresRepository) Insert(ctx context.Context, table string, rec *models.Record) (*models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	out := *rec
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	data := []byte(out.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}

	query := fmt.Sprintf(`INSERT INTO %s (user_id, created_at, data) VALUES ($1, $2, $3) RETURNING id`, table)
	if err := r.db.QueryRowContext(ctx, query, out.UserID, out.CreatedAt, data).Scan(&out.ID); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	out.Data = json.RawMessage(data)
	return &out, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, table, userID string) ([]models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, user_id, created_at, data FROM %s WHERE user_id = $1 ORDER BY created_at`, table)
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanRecords(rows)
}

func (r *PostgresRepository) CountByUser(ctx context.Context, table, userID string) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = $1`, table)
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListOlderThan(ctx context.Context, table string, cutoff time.Time) ([]models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, user_id, created_at, data FROM %s WHERE created_at < $1 ORDER BY created_at`, table)
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanRecords(rows)
}

func (r *PostgresRepository) Delete(ctx context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByUser(ctx context.Context, table, userID string) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, table)
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var (
			rec  models.Record
			data []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.CreatedAt, &data); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.Data = json.RawMessage(data)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
