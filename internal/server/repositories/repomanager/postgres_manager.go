// Package repomanager provides RepositoryManager implementations for
// PostgreSQL and for process memory, plus the goose migration hook.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/idkeeper/internal/dbx"
	"github.com/dmitrijs2005/idkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/archive"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/consents"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories. Archives
// go to the archived_records table unless an external store is set.
type PostgresRepositoryManager struct {
	archive archive.Store
}

// Option customises a PostgresRepositoryManager.
type Option func(*PostgresRepositoryManager)

// WithArchiveStore sends archives to s instead of the database.
func WithArchiveStore(s archive.Store) Option {
	return func(m *PostgresRepositoryManager) { m.archive = s }
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Consents(db dbx.DBTX) consents.Repository {
	return consents.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) AuditLogs(db dbx.DBTX) auditlogs.Repository {
	return auditlogs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Archive(db dbx.DBTX) archive.Store {
	if m.archive != nil {
		return m.archive
	}
	return archive.NewPostgresStore(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func NewPostgresRepositoryManager(opts ...Option) *PostgresRepositoryManager {
	m := &PostgresRepositoryManager{}
	for _, o := range opts {
		o(m)
	}
	return m
}
