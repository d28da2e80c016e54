package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/idkeeper/internal/dbx"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/archive"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/consents"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX so services can run
// them either directly on the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Consents(db dbx.DBTX) consents.Repository
	AuditLogs(db dbx.DBTX) auditlogs.Repository
	Records(db dbx.DBTX) records.Repository
	Archive(db dbx.DBTX) archive.Store
}
