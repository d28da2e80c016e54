package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/dbx"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/archive"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/repomanager"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertRecord(t *testing.T, f *fixture, table, userID string, age time.Duration) *models.Record {
	t.Helper()
	rec, err := f.m.RecordsRepo.Insert(context.Background(), table, &models.Record{
		UserID:    userID,
		CreatedAt: testNow.Add(-age),
		Data:      json.RawMessage(`{"note":"x"}`),
	})
	require.NoError(t, err)
	return rec
}

func TestConsent_DefaultsToFalse(t *testing.T) {
	f := newFixture(t)
	state, err := f.data.Consent(context.Background(), "u-1")
	require.NoError(t, err)

	require.Len(t, state, len(models.ConsentCategories()))
	for c, granted := range state {
		assert.False(t, granted, c)
	}
}

func TestRecordConsent_LatestWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.data.RecordConsent(ctx, "u-1", models.ConsentAnalytics, true, testOrigin)
	require.NoError(t, err)
	rec, err := f.data.RecordConsent(ctx, "u-1", models.ConsentAnalytics, false, testOrigin)
	require.NoError(t, err)
	assert.Equal(t, "1.0", rec.PolicyVersion)
	_, err = f.data.RecordConsent(ctx, "u-1", models.ConsentMarketing, true, testOrigin)
	require.NoError(t, err)

	state, err := f.data.Consent(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, state[models.ConsentAnalytics])
	assert.True(t, state[models.ConsentMarketing])

	history, err := f.m.ConsentsRepo.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestRecordConsent_UnknownCategory(t *testing.T) {
	f := newFixture(t)
	_, err := f.data.RecordConsent(context.Background(), "u-1", models.ConsentCategory("telepathy"), true, testOrigin)
	require.ErrorIs(t, err, common.ErrUnknownConsentCategory)
	assert.Empty(t, f.m.AuditRepo.All())
}

func TestReduceConsents(t *testing.T) {
	t0 := testNow
	recs := []models.ConsentRecord{
		{ID: "1", Category: models.ConsentAnalytics, Granted: true, Timestamp: t0.Add(time.Hour)},
		{ID: "2", Category: models.ConsentAnalytics, Granted: false, Timestamp: t0},
		{ID: "3", Category: models.ConsentMarketing, Granted: true, Timestamp: t0},
		{ID: "4", Category: models.ConsentMarketing, Granted: false, Timestamp: t0},
	}
	got := ReduceConsents(recs)

	// out-of-order insert: the later timestamp still wins
	assert.Equal(t, "1", got[models.ConsentAnalytics].ID)
	// equal timestamps: the later insert wins
	assert.Equal(t, "4", got[models.ConsentMarketing].ID)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	u := f.registerAlice(t)
	ctx := context.Background()

	insertRecord(t, f, models.TableJournalEntries, u.ID, time.Hour)
	insertRecord(t, f, models.TableJournalEntries, "someone-else", time.Hour)
	_, err := f.data.RecordConsent(ctx, u.ID, models.ConsentAnalytics, true, testOrigin)
	require.NoError(t, err)

	b, err := f.data.Export(ctx, u.ID, testOrigin)
	require.NoError(t, err)

	require.NotNil(t, b.Account)
	assert.Equal(t, aliceEmail, b.Account.Email)
	assert.Len(t, b.Consents, 1)
	assert.Len(t, b.Records, len(models.GovernedTables()))
	assert.Len(t, b.Records[models.TableJournalEntries], 1)

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), u.PasswordHash)
	assert.NotContains(t, string(raw), "mfa_secret")

	var exported bool
	for _, ev := range f.eventsFor(u.ID) {
		if ev.Category == models.AuditDataExport {
			exported = true
			assert.Equal(t, models.ClassificationConfidential, ev.Classification)
		}
	}
	assert.True(t, exported)
}

func TestDelete_ThenExportIsEmpty(t *testing.T) {
	f := newFixture(t)
	u := f.registerAlice(t)
	ctx := context.Background()

	for _, table := range models.GovernedTables() {
		insertRecord(t, f, table, u.ID, time.Hour)
	}
	other := insertRecord(t, f, models.TableGoals, "someone-else", time.Hour)
	_, err := f.data.RecordConsent(ctx, u.ID, models.ConsentMarketing, true, testOrigin)
	require.NoError(t, err)

	require.NoError(t, f.data.Delete(ctx, u.ID, true, testOrigin))

	snapshot, ok := f.m.ArchiveStore.(*archive.MemoryStore).Get(models.ArchiveUserSnapshot, u.ID)
	require.True(t, ok)
	var archived models.ExportBundle
	require.NoError(t, f.sealer.OpenJSON(snapshot.Sealed, &archived))
	assert.Equal(t, aliceEmail, archived.Account.Email)
	assert.Len(t, archived.Records[models.TableUserProfiles], 1)

	b, err := f.data.Export(ctx, u.ID, testOrigin)
	require.NoError(t, err)
	assert.Nil(t, b.Account)
	assert.Empty(t, b.Consents)
	for table, recs := range b.Records {
		assert.Empty(t, recs, table)
	}

	left, err := f.m.RecordsRepo.ListByUser(ctx, models.TableGoals, "someone-else")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, other.ID, left[0].ID)

	// the audit trail outlives the account
	var deleted bool
	for _, ev := range f.eventsFor(u.ID) {
		if ev.Category == models.AuditDataDeletion && ev.Action == "deleted" {
			deleted = true
		}
	}
	assert.True(t, deleted)

	_, err = f.auth.Login(ctx, aliceEmail, alicePassword, "", testOrigin)
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestDelete_IsRepeatable(t *testing.T) {
	f := newFixture(t)
	u := f.registerAlice(t)
	ctx := context.Background()

	require.NoError(t, f.data.Delete(ctx, u.ID, false, testOrigin))
	require.NoError(t, f.data.Delete(ctx, u.ID, false, testOrigin))
	assert.Zero(t, f.m.ArchiveStore.(*archive.MemoryStore).Len())
}

type failingArchive struct{}

func (failingArchive) Put(context.Context, *models.ArchivedRecord) error {
	return errors.New("bucket unavailable")
}

func TestDelete_ArchiveFailureDeletesNothing(t *testing.T) {
	f := newFixture(t)
	f.m.ArchiveStore = failingArchive{}
	u := f.registerAlice(t)
	ctx := context.Background()
	insertRecord(t, f, models.TableHealthMetrics, u.ID, time.Hour)

	err := f.data.Delete(ctx, u.ID, true, testOrigin)
	require.ErrorIs(t, err, common.ErrStore)

	_, err = f.m.UsersRepo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	n, err := f.m.RecordsRepo.CountByUser(ctx, models.TableHealthMetrics, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// stepFailingRecords fails DeleteByUser for one table.
type stepFailingRecords struct {
	records.Repository
	table string
}

func (s stepFailingRecords) DeleteByUser(ctx context.Context, table, userID string) (int64, error) {
	if table == s.table {
		return 0, errors.New("disk full")
	}
	return s.Repository.DeleteByUser(ctx, table, userID)
}

type recordsOverride struct {
	*repomanager.MemoryRepositoryManager
	records records.Repository
}

func (r *recordsOverride) Records(dbx.DBTX) records.Repository { return r.records }

func TestDelete_StopsAtFailingStepAndResumes(t *testing.T) {
	mem := repomanager.NewMemoryRepositoryManager()
	override := &recordsOverride{
		MemoryRepositoryManager: mem,
		records:                 stepFailingRecords{Repository: mem.RecordsRepo, table: models.TableGoals},
	}
	f := newFixtureWith(t, mem, override)
	u := f.registerAlice(t)
	ctx := context.Background()
	insertRecord(t, f, models.TableAIInteractions, u.ID, time.Hour)
	insertRecord(t, f, models.TableUserProfiles, u.ID, time.Hour)

	err := f.data.Delete(ctx, u.ID, false, testOrigin)
	require.ErrorIs(t, err, common.ErrStore)

	// leaves before the failing table are gone; the root survives
	n, _ := mem.RecordsRepo.CountByUser(ctx, models.TableAIInteractions, u.ID)
	assert.Zero(t, n)
	n, _ = mem.RecordsRepo.CountByUser(ctx, models.TableUserProfiles, u.ID)
	assert.Equal(t, 1, n)
	_, err = mem.UsersRepo.GetByID(ctx, u.ID)
	require.NoError(t, err)

	override.records = mem.RecordsRepo
	require.NoError(t, f.data.Delete(ctx, u.ID, false, testOrigin))
	_, err = mem.UsersRepo.GetByID(ctx, u.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRetentionSweep_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired := insertRecord(t, f, models.TableUserSessions, "u-1", 100*models.Day)
	fresh := insertRecord(t, f, models.TableUserSessions, "u-1", 10*models.Day)
	oldAI := insertRecord(t, f, models.TableAIInteractions, "u-1", 2*models.Year)

	report, err := f.data.RetentionSweep(ctx)
	require.NoError(t, err)

	byCategory := make(map[string]CategorySweep)
	for _, c := range report.Categories {
		byCategory[c.Category] = c
	}
	assert.Equal(t, CategorySweep{Category: models.TableUserSessions, Expired: 1, Archived: 1, Deleted: 1}, byCategory[models.TableUserSessions])
	assert.Equal(t, 1, byCategory[models.TableAIInteractions].Deleted)
	assert.NotContains(t, byCategory, models.TableAuditLogs)

	store := f.m.ArchiveStore.(*archive.MemoryStore)
	_, ok := store.Get(models.TableUserSessions, expired.ID)
	assert.True(t, ok)
	_, ok = store.Get(models.TableAIInteractions, oldAI.ID)
	assert.True(t, ok)
	_, ok = store.Get(models.TableUserSessions, fresh.ID)
	assert.False(t, ok)

	left, err := f.m.RecordsRepo.ListByUser(ctx, models.TableUserSessions, "u-1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, fresh.ID, left[0].ID)

	archived := store.Len()
	again, err := f.data.RetentionSweep(ctx)
	require.NoError(t, err)
	for _, c := range again.Categories {
		assert.Zero(t, c.Deleted, c.Category)
	}
	assert.Equal(t, archived, store.Len())

	var sweeps int
	for _, ev := range f.eventsFor(common.SystemActor) {
		if ev.Category == models.AuditRetention {
			sweeps++
		}
	}
	assert.Equal(t, 2, sweeps)
}

type listFailingRecords struct {
	records.Repository
	table string
}

func (l listFailingRecords) ListOlderThan(ctx context.Context, table string, cutoff time.Time) ([]models.Record, error) {
	if table == l.table {
		return nil, errors.New("connection reset")
	}
	return l.Repository.ListOlderThan(ctx, table, cutoff)
}

func TestRetentionSweep_CategoryFailureIsIsolated(t *testing.T) {
	mem := repomanager.NewMemoryRepositoryManager()
	override := &recordsOverride{
		MemoryRepositoryManager: mem,
		records:                 listFailingRecords{Repository: mem.RecordsRepo, table: models.TableHealthMetrics},
	}
	f := newFixtureWith(t, mem, override)
	insertRecord(t, f, models.TableUserSessions, "u-1", 100*models.Day)

	report, err := f.data.RetentionSweep(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrStore)

	var failed []string
	for _, c := range report.Categories {
		if c.Error != "" {
			failed = append(failed, c.Category)
		}
		if c.Category == models.TableUserSessions {
			assert.Equal(t, 1, c.Deleted)
		}
	}
	assert.Empty(t, cmp.Diff([]string{models.TableHealthMetrics}, failed))
}

func TestPseudonymizeAndAnonymize(t *testing.T) {
	f := newFixture(t)

	p1 := f.data.Pseudonymize("u-1")
	assert.Equal(t, p1, f.data.Pseudonymize("u-1"))
	assert.NotEqual(t, p1, f.data.Pseudonymize("u-2"))
	assert.NotContains(t, p1, "u-1")

	in := map[string]any{"email": "alice@example.com", "age": 30, "city": nil}
	out := Anonymize(in, "email", "city", "missing")
	assert.Equal(t, "alice@example.com", in["email"])
	assert.NotEqual(t, in["email"], out["email"])
	assert.Contains(t, out["email"], "anon_")
	assert.Equal(t, 30, out["age"])
	assert.Nil(t, out["city"])
	assert.NotContains(t, out, "missing")
}

func TestPortableExportAndDashboard(t *testing.T) {
	f := newFixture(t)
	u := f.registerAlice(t)
	ctx := context.Background()
	insertRecord(t, f, models.TableGoals, u.ID, time.Hour)
	insertRecord(t, f, models.TableGoals, u.ID, 2*time.Hour)

	pe, err := f.data.PortableExport(ctx, u.ID, testOrigin)
	require.NoError(t, err)
	assert.Equal(t, "1.0", pe.FormatVersion)
	assert.Len(t, pe.Data[models.TableGoals], 2)
	assert.Equal(t, u.ID, pe.UserProfile.ID)

	d, err := f.data.Dashboard(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, d.RecordCounts[models.TableGoals])
	assert.Zero(t, d.RecordCounts[models.TableJournalEntries])
	assert.NotEmpty(t, d.RecentActivity)
	assert.NotEmpty(t, d.Retention)
	assert.False(t, d.Consents[models.ConsentEssential])
}
