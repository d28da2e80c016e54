package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/idkeeper/internal/logging"
	"github.com/dmitrijs2005/idkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/auditlogs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingRepo struct{}

func (failingRepo) Append(context.Context, *models.AuditEvent) error {
	return errors.New("audit store down")
}
func (failingRepo) ListByUser(context.Context, string, int) ([]models.AuditEvent, error) {
	return nil, nil
}

func TestRecord_PersistsWithClassification(t *testing.T) {
	repo := auditlogs.NewMemoryRepository()
	m := metrics.New()
	l := NewLog(repo, nil, WithFailureCounter(m.AuditWriteFailures))

	origin := models.Origin{IPAddress: "10.0.0.1", UserAgent: "ua"}
	l.Record(context.Background(), models.AuditDataExport, "u-1", "requested", origin, "job 42")

	events := repo.All()
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, models.ClassificationConfidential, ev.Classification)
	assert.Equal(t, origin, ev.Origin)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Zero(t, testutil.ToFloat64(m.AuditWriteFailures))
}

func TestRecord_CancelledContextStillWrites(t *testing.T) {
	repo := auditlogs.NewMemoryRepository()
	l := NewLog(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l.Record(ctx, models.AuditLogin, "u-1", "failed", models.Origin{}, "")
	assert.Len(t, repo.All(), 1)
}

func TestRecord_FailureIsCountedAndLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	m := metrics.New()
	l := NewLog(failingRepo{}, logging.NewZapLogger(zap.New(core)), WithFailureCounter(m.AuditWriteFailures))

	l.Record(context.Background(), models.AuditLogin, "u-1", "failed", models.Origin{}, "wrong password")
	l.Record(context.Background(), models.AuditLogin, "u-1", "failed", models.Origin{}, "wrong password")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuditWriteFailures))
	entries := logs.FilterMessage("audit write failed").All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "login", fields["category"])
	assert.Equal(t, "audit", fields["module"])
	assert.NotContains(t, fields, "detail")
}

func TestRecent(t *testing.T) {
	repo := auditlogs.NewMemoryRepository()
	l := NewLog(repo, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		l.Record(ctx, models.AuditConsent, "u-1", "granted", models.Origin{}, "")
	}
	got, err := l.Recent(ctx, "u-1", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
