package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/cryptox"
	"github.com/dmitrijs2005/idkeeper/internal/logging"
	"github.com/dmitrijs2005/idkeeper/internal/server/audit"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/dmitrijs2005/idkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DataProtectionOptions configures retention and consent bookkeeping.
type DataProtectionOptions struct {
	Policies      []models.RetentionPolicy
	PolicyVersion string
	PseudonymKey  []byte
}

type DataProtectionDeps struct {
	Audit  *audit.Log
	Sealer *cryptox.Sealer
	Logger logging.Logger
	Tracer trace.Tracer
}

// CategorySweep is the outcome of sweeping one retention category.
type CategorySweep struct {
	Category string `json:"category"`
	Expired  int    `json:"expired"`
	Archived int    `json:"archived"`
	Deleted  int    `json:"deleted"`
	Error    string `json:"error,omitempty"`
}

// SweepReport summarises one RetentionSweep run.
type SweepReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Categories []CategorySweep `json:"categories"`
}

// PortableExport is the data portability format: the profile plus one
// array per data category.
type PortableExport struct {
	FormatVersion string                     `json:"format_version"`
	ExportedAt    time.Time                  `json:"exported_at"`
	UserProfile   *models.AccountExport      `json:"user_profile"`
	Consents      []models.ConsentRecord     `json:"consents"`
	Data          map[string][]models.Record `json:"data"`
}

// Dashboard is the privacy overview shown to a user.
type Dashboard struct {
	UserID         string                          `json:"user_id"`
	GeneratedAt    time.Time                       `json:"generated_at"`
	RecordCounts   map[string]int                  `json:"record_counts"`
	Consents       map[models.ConsentCategory]bool `json:"consents"`
	RecentActivity []models.AuditEvent             `json:"recent_activity"`
	Retention      []models.RetentionPolicy        `json:"retention"`
}

// DataProtectionService owns consent records, export, deletion and
// retention.
type DataProtectionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	audit       *audit.Log
	sealer      *cryptox.Sealer
	opts        DataProtectionOptions
	log         logging.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewDataProtectionService(db *sql.DB, m repomanager.RepositoryManager, d DataProtectionDeps, opts DataProtectionOptions) *DataProtectionService {
	if opts.Policies == nil {
		opts.Policies = models.DefaultRetentionPolicies()
	}
	if opts.PolicyVersion == "" {
		opts.PolicyVersion = "1.0"
	}
	if d.Logger == nil {
		d.Logger = logging.Nop{}
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &DataProtectionService{
		db:          db,
		repomanager: m,
		audit:       d.Audit,
		sealer:      d.Sealer,
		opts:        opts,
		log:         d.Logger.With("module", "privacy"),
		tracer:      d.Tracer,
		now:         time.Now,
	}
}

// Consent reduces the consent log to the current state of every category.
// The latest record by timestamp wins; categories never decided are false.
func (s *DataProtectionService) Consent(ctx context.Context, userID string) (map[models.ConsentCategory]bool, error) {
	current, err := s.currentConsents(ctx, userID)
	if err != nil {
		return nil, err
	}
	state := make(map[models.ConsentCategory]bool, len(models.ConsentCategories()))
	for _, c := range models.ConsentCategories() {
		state[c] = false
	}
	for c, rec := range current {
		state[c] = rec.Granted
	}
	return state, nil
}

func (s *DataProtectionService) currentConsents(ctx context.Context, userID string) (map[models.ConsentCategory]models.ConsentRecord, error) {
	recs, err := s.repomanager.Consents(s.db).ListByUser(ctx, userID)
	if err != nil {
		return nil, common.NewStoreError("list consents", err)
	}
	return ReduceConsents(recs), nil
}

// ReduceConsents keeps the most recent record per category. Among records
// with equal timestamps the one listed last wins.
func ReduceConsents(recs []models.ConsentRecord) map[models.ConsentCategory]models.ConsentRecord {
	out := make(map[models.ConsentCategory]models.ConsentRecord)
	for _, r := range recs {
		if cur, ok := out[r.Category]; ok && r.Timestamp.Before(cur.Timestamp) {
			continue
		}
		out[r.Category] = r
	}
	return out
}

// RecordConsent appends a consent decision. History is never modified.
func (s *DataProtectionService) RecordConsent(ctx context.Context, userID string, category models.ConsentCategory, granted bool, origin models.Origin) (*models.ConsentRecord, error) {
	if _, err := models.ParseConsentCategory(string(category)); err != nil {
		return nil, err
	}
	rec := &models.ConsentRecord{
		ID:            uuid.NewString(),
		UserID:        userID,
		Category:      category,
		Granted:       granted,
		Timestamp:     s.now().UTC(),
		Origin:        origin,
		PolicyVersion: s.opts.PolicyVersion,
	}
	if err := s.repomanager.Consents(s.db).Append(ctx, rec); err != nil {
		s.log.Error(ctx, "consent append failed", "user_id", userID, "error", err)
		return nil, common.NewStoreError("record consent", err)
	}

	action := "revoked"
	if granted {
		action = "granted"
	}
	s.audit.Record(ctx, models.AuditConsent, userID, action, origin, string(category))
	return rec, nil
}

// Export gathers everything held about the user. The access is audited.
func (s *DataProtectionService) Export(ctx context.Context, userID string, origin models.Origin) (*models.ExportBundle, error) {
	ctx, span := s.tracer.Start(ctx, "privacy.Export")
	defer span.End()

	b, err := s.collect(ctx, userID)
	if err != nil {
		span.SetStatus(codes.Error, "collect")
		return nil, err
	}
	s.audit.Record(ctx, models.AuditDataExport, userID, "exported", origin, fmt.Sprintf("%d categories", len(b.Records)))
	return b, nil
}

func (s *DataProtectionService) collect(ctx context.Context, userID string) (*models.ExportBundle, error) {
	b := &models.ExportBundle{
		UserID:     userID,
		ExportedAt: s.now().UTC(),
		Consents:   []models.ConsentRecord{},
		Records:    make(map[string][]models.Record, len(models.GovernedTables())),
	}

	u, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	switch {
	case err == nil:
		b.Account = models.NewAccountExport(u)
	case !errors.Is(err, common.ErrorNotFound):
		return nil, common.NewStoreError("export account", err)
	}

	consents, err := s.repomanager.Consents(s.db).ListByUser(ctx, userID)
	if err != nil {
		return nil, common.NewStoreError("export consents", err)
	}
	if consents != nil {
		b.Consents = consents
	}

	records := s.repomanager.Records(s.db)
	for _, table := range models.GovernedTables() {
		recs, err := records.ListByUser(ctx, table, userID)
		if err != nil {
			return nil, common.NewStoreError("export "+table, err)
		}
		if recs == nil {
			recs = []models.Record{}
		}
		b.Records[table] = recs
	}
	return b, nil
}

// Delete removes every user-owned row, leaf tables first and the identity
// record last. With archiveFirst an encrypted export is stored before
// anything is purged; if that fails nothing is deleted. Deletion stops at
// the first failing step, so a re-run picks up where it left off.
func (s *DataProtectionService) Delete(ctx context.Context, userID string, archiveFirst bool, origin models.Origin) error {
	ctx, span := s.tracer.Start(ctx, "privacy.Delete")
	defer span.End()

	if archiveFirst {
		if err := s.archiveSnapshot(ctx, userID); err != nil {
			span.SetStatus(codes.Error, "archive")
			s.audit.Record(ctx, models.AuditDataDeletion, userID, "failed", origin, "archive: "+err.Error())
			return err
		}
	}

	deleted := make(map[string]int64)
	step := func(name string, fn func() (int64, error)) error {
		n, err := fn()
		if err != nil {
			span.SetStatus(codes.Error, name)
			s.log.Error(ctx, "deletion step failed", "user_id", userID, "step", name, "error", err)
			s.audit.Record(ctx, models.AuditDataDeletion, userID, "failed", origin, "step "+name)
			return common.NewStoreError("delete "+name, err)
		}
		deleted[name] = n
		return nil
	}

	records := s.repomanager.Records(s.db)
	for _, table := range models.GovernedTables() {
		if table == models.TableUserProfiles {
			if err := step(models.TableUserConsents, func() (int64, error) {
				return s.repomanager.Consents(s.db).DeleteByUser(ctx, userID)
			}); err != nil {
				return err
			}
		}
		if err := step(table, func() (int64, error) {
			return records.DeleteByUser(ctx, table, userID)
		}); err != nil {
			return err
		}
	}
	if err := step(models.TableUsers, func() (int64, error) {
		return 1, s.repomanager.Users(s.db).Delete(ctx, userID)
	}); err != nil {
		return err
	}

	s.audit.Record(ctx, models.AuditDataDeletion, userID, "deleted", origin, summarize(deleted))
	s.log.Info(ctx, "user data deleted", "user_id", userID, "archived", archiveFirst)
	return nil
}

func (s *DataProtectionService) archiveSnapshot(ctx context.Context, userID string) error {
	b, err := s.collect(ctx, userID)
	if err != nil {
		return err
	}
	sealed, err := s.sealer.SealJSON(b)
	if err != nil {
		return fmt.Errorf("seal export: %w", err)
	}
	err = s.repomanager.Archive(s.db).Put(ctx, &models.ArchivedRecord{
		OriginalTable: models.ArchiveUserSnapshot,
		OriginalID:    userID,
		UserID:        userID,
		ArchivedAt:    s.now().UTC(),
		Sealed:        sealed,
	})
	if err != nil {
		return common.NewStoreError("archive export", err)
	}
	return nil
}

// RetentionSweep archives and deletes records older than their category's
// retention window. A failing category is reported and skipped; the rest
// are still swept. Re-running is safe: archives overwrite by record id and
// deleting a missing record succeeds.
func (s *DataProtectionService) RetentionSweep(ctx context.Context) (*SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "retention.Sweep")
	defer span.End()

	report := &SweepReport{StartedAt: s.now().UTC()}
	var errs []error
	for _, p := range s.opts.Policies {
		if !p.AutoDelete {
			continue
		}
		res, err := s.sweepCategory(ctx, p, report.StartedAt)
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", p.Category, err))
			s.log.Error(ctx, "retention sweep category failed", "category", p.Category, "error", err)
		}
		report.Categories = append(report.Categories, res)
		span.SetAttributes(attribute.Int("retention."+p.Category+".deleted", res.Deleted))
	}
	report.FinishedAt = s.now().UTC()

	s.audit.Record(ctx, models.AuditRetention, common.SystemActor, "sweep", models.Origin{}, sweepSummary(report))
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "partial failure")
		return report, errors.Join(errs...)
	}
	return report, nil
}

func (s *DataProtectionService) sweepCategory(ctx context.Context, p models.RetentionPolicy, now time.Time) (CategorySweep, error) {
	res := CategorySweep{Category: p.Category}
	if !models.IsGovernedTable(p.Category) {
		return res, fmt.Errorf("category %q is not sweepable", p.Category)
	}

	records := s.repomanager.Records(s.db)
	expired, err := records.ListOlderThan(ctx, p.Category, now.Add(-p.Window))
	if err != nil {
		return res, common.NewStoreError("list expired", err)
	}
	res.Expired = len(expired)

	var firstErr error
	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if p.ArchiveBeforeDelete {
			if err := s.archiveRecord(ctx, p.Category, rec); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			res.Archived++
		}
		if err := records.Delete(ctx, p.Category, rec.ID); err != nil {
			if firstErr == nil {
				firstErr = common.NewStoreError("delete expired", err)
			}
			continue
		}
		res.Deleted++
	}
	return res, firstErr
}

func (s *DataProtectionService) archiveRecord(ctx context.Context, table string, rec models.Record) error {
	sealed, err := s.sealer.SealJSON(rec)
	if err != nil {
		return fmt.Errorf("seal record: %w", err)
	}
	err = s.repomanager.Archive(s.db).Put(ctx, &models.ArchivedRecord{
		OriginalTable: table,
		OriginalID:    rec.ID,
		UserID:        rec.UserID,
		ArchivedAt:    s.now().UTC(),
		Sealed:        sealed,
	})
	if err != nil {
		return common.NewStoreError("archive record", err)
	}
	return nil
}

// Pseudonymize maps a user id to a stable token that cannot be linked back
// without the pseudonym key.
func (s *DataProtectionService) Pseudonymize(userID string) string {
	return cryptox.Pseudonym(s.opts.PseudonymKey, userID)
}

// Anonymize returns a copy of fields with the named entries replaced by an
// unlinkable digest.
func Anonymize(fields map[string]any, names ...string) map[string]any {
	out := maps.Clone(fields)
	if out == nil {
		return map[string]any{}
	}
	for _, name := range names {
		v, ok := out[name]
		if !ok || v == nil {
			continue
		}
		out[name] = "anon_" + cryptox.Digest([]byte(fmt.Sprint(v)))[:8]
	}
	return out
}

// PortableExport is Export in the portability format.
func (s *DataProtectionService) PortableExport(ctx context.Context, userID string, origin models.Origin) (*PortableExport, error) {
	b, err := s.Export(ctx, userID, origin)
	if err != nil {
		return nil, err
	}
	return &PortableExport{
		FormatVersion: "1.0",
		ExportedAt:    b.ExportedAt,
		UserProfile:   b.Account,
		Consents:      b.Consents,
		Data:          b.Records,
	}, nil
}

// Dashboard summarises what is held about the user and how it is governed.
func (s *DataProtectionService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	d := &Dashboard{
		UserID:       userID,
		GeneratedAt:  s.now().UTC(),
		RecordCounts: make(map[string]int),
		Retention:    append([]models.RetentionPolicy(nil), s.opts.Policies...),
	}

	records := s.repomanager.Records(s.db)
	for _, table := range models.GovernedTables() {
		n, err := records.CountByUser(ctx, table, userID)
		if err != nil {
			return nil, common.NewStoreError("count "+table, err)
		}
		d.RecordCounts[table] = n
	}

	consents, err := s.Consent(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.Consents = consents

	recent, err := s.audit.Recent(ctx, userID, 10)
	if err != nil {
		return nil, common.NewStoreError("recent activity", err)
	}
	d.RecentActivity = recent
	return d, nil
}

func summarize(deleted map[string]int64) string {
	parts := make([]string, 0, len(deleted))
	for _, table := range append(models.GovernedTables(), models.TableUserConsents, models.TableUsers) {
		if n, ok := deleted[table]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", table, n))
		}
	}
	return strings.Join(parts, " ")
}

func sweepSummary(r *SweepReport) string {
	parts := make([]string, 0, len(r.Categories))
	for _, c := range r.Categories {
		s := fmt.Sprintf("%s=%d/%d", c.Category, c.Deleted, c.Expired)
		if c.Error != "" {
			s += "!"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
