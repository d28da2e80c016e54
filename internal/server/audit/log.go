// Package audit records security events. Recording is best effort: a
// failed write is logged and counted but never changes the outcome of the
// operation being audited.
package audit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/logging"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/auditlogs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Log appends AuditEvents to a repository.
type Log struct {
	repo     auditlogs.Repository
	log      logging.Logger
	now      func() time.Time
	failures prometheus.Counter
}

type Option func(*Log)

// WithFailureCounter reports failed writes on c, usually a registered
// collector scraped by monitoring.
func WithFailureCounter(c prometheus.Counter) Option {
	return func(l *Log) {
		l.failures = c
	}
}

func NewLog(repo auditlogs.Repository, log logging.Logger, opts ...Option) *Log {
	if log == nil {
		log = logging.Nop{}
	}
	l := &Log{repo: repo, log: log.With("module", "audit"), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	if l.failures == nil {
		l.failures = prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_write_failures_total"})
	}
	return l
}

// Record appends one event. userID may be common.SystemActor or
// common.AnonymousActor.
func (l *Log) Record(ctx context.Context, category models.AuditCategory, userID, action string, origin models.Origin, detail string) {
	ev := &models.AuditEvent{
		ID:             uuid.NewString(),
		UserID:         userID,
		Category:       category,
		Action:         action,
		Origin:         origin,
		Detail:         detail,
		Classification: category.Classification(),
		Timestamp:      l.now().UTC(),
	}
	// The write must not be cut short by a cancelled request.
	if err := l.repo.Append(context.WithoutCancel(ctx), ev); err != nil {
		l.failures.Inc()
		l.log.Error(ctx, "audit write failed",
			"event_id", ev.ID,
			"category", string(category),
			"action", action,
			"user_id", userID,
			"error", err,
		)
	}
}

// Recent returns up to limit of the user's newest events.
func (l *Log) Recent(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error) {
	return l.repo.ListByUser(ctx, userID, limit)
}
