// Package auditlogs persists security audit events.
package auditlogs

import (
	"context"

	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

// Repository is append-only. ListByUser returns the newest events first.
type Repository interface {
	Append(ctx context.Context, ev *models.AuditEvent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error)
}
