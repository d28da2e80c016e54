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

// MemoryRepositoryManager ignores the DBTX argument and always returns the
// same in-process repositories. It has no transactions; each call is
// applied immediately.
type MemoryRepositoryManager struct {
	UsersRepo    *users.MemoryRepository
	ConsentsRepo *consents.MemoryRepository
	AuditRepo    *auditlogs.MemoryRepository
	RecordsRepo  *records.MemoryRepository
	ArchiveStore archive.Store
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		UsersRepo:    users.NewMemoryRepository(),
		ConsentsRepo: consents.NewMemoryRepository(),
		AuditRepo:    auditlogs.NewMemoryRepository(),
		RecordsRepo:  records.NewMemoryRepository(),
		ArchiveStore: archive.NewMemoryStore(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *MemoryRepositoryManager) Users(dbx.DBTX) users.Repository         { return m.UsersRepo }
func (m *MemoryRepositoryManager) Consents(dbx.DBTX) consents.Repository   { return m.ConsentsRepo }
func (m *MemoryRepositoryManager) AuditLogs(dbx.DBTX) auditlogs.Repository { return m.AuditRepo }
func (m *MemoryRepositoryManager) Records(dbx.DBTX) records.Repository     { return m.RecordsRepo }
func (m *MemoryRepositoryManager) Archive(dbx.DBTX) archive.Store          { return m.ArchiveStore }
