package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/idkeeper/internal/dbx"
)

const (
	stmtGet    = `SELECT value FROM metadata WHERE key = ?`
	stmtList   = `SELECT key, value FROM metadata`
	stmtUpsert = `INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	stmtClear  = `DELETE FROM metadata`
)

// StoreError names the operation and key that failed.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("session store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, stmtGet, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, &StoreError{Op: "get", Key: key, Err: err}
	}
	return value, nil
}

// GetMany returns the stored values of keys. Missing keys are absent from
// the result.
func (r *SQLiteRepository) GetMany(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query := stmtList + ` WHERE key IN (` + placeholders(len(keys)) + `)`
	if err := r.scan(ctx, "get", out, query, toArgs(keys)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	if _, err := r.db.ExecContext(ctx, stmtUpsert, key, value); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete removes keys in one statement. Unknown keys are ignored.
func (r *SQLiteRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := stmtClear + ` WHERE key IN (` + placeholders(len(keys)) + `)`
	if _, err := r.db.ExecContext(ctx, query, toArgs(keys)...); err != nil {
		return &StoreError{Op: "delete", Key: strings.Join(keys, ","), Err: err}
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, stmtClear); err != nil {
		return &StoreError{Op: "clear", Err: err}
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if err := r.scan(ctx, "list", out, stmtList); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteRepository) scan(ctx context.Context, op string, into map[string][]byte, query string, args ...any) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return &StoreError{Op: op, Err: err}
		}
		into[key] = value
	}
	if err := rows.Err(); err != nil {
		return &StoreError{Op: op, Err: err}
	}
	return nil
}

// SetAll writes every pair in one transaction: either all keys are stored
// or none are.
func SetAll(ctx context.Context, db *sql.DB, values map[string][]byte) error {
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := NewSQLiteRepository(tx)
		for k, v := range values {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}
