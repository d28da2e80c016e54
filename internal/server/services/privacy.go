package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/idkeeper/internal/logging"
	"github.com/dmitrijs2005/idkeeper/internal/server/audit"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type JobKind string

const (
	JobExport   JobKind = "export"
	JobDeletion JobKind = "deletion"
)

type JobState string

const (
	JobPending JobState = "pending"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// jobNamespace seeds the name-based job ids.
var jobNamespace = uuid.MustParse("6f1c55b2-6c43-4f0e-9d0a-5b7c3e0f2a11")

// ErrJobNotFound is returned for a job id this process did not start or
// has already forgotten.
var ErrJobNotFound = errors.New("job not found")

// DefaultJobTTL is how long a finished job stays queryable.
const DefaultJobTTL = time.Hour

// Job is a snapshot of one background privacy request.
type Job struct {
	ID          string
	Kind        JobKind
	UserID      string
	State       JobState
	Error       string
	RequestedAt time.Time
	FinishedAt  time.Time
	// Export is set once an export job is done.
	Export *models.ExportBundle
}

// PrivacyControls turns privacy requests into DataProtectionService calls.
// Export and deletion run in the background and are tracked by job id.
type PrivacyControls struct {
	data    *DataProtectionService
	auth    *AuthService
	audit   *audit.Log
	log     logging.Logger
	timeout time.Duration
	ttl     time.Duration
	done    *prometheus.CounterVec
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

type PrivacyOption func(*PrivacyControls)

// WithJobTTL sets how long finished jobs, and any export they carry, are
// kept. Non-positive values keep DefaultJobTTL.
func WithJobTTL(d time.Duration) PrivacyOption {
	return func(p *PrivacyControls) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithJobCounter counts finished jobs by "kind" and "state" labels.
func WithJobCounter(c *prometheus.CounterVec) PrivacyOption {
	return func(p *PrivacyControls) {
		p.done = c
	}
}

// NewPrivacyControls wires the façade. timeout bounds each background job;
// zero means no bound.
func NewPrivacyControls(data *DataProtectionService, authSvc *AuthService, log *audit.Log, logger logging.Logger, timeout time.Duration, opts ...PrivacyOption) *PrivacyControls {
	if logger == nil {
		logger = logging.Nop{}
	}
	p := &PrivacyControls{
		data:    data,
		auth:    authSvc,
		audit:   log,
		log:     logger.With("module", "privacy_controls"),
		timeout: timeout,
		ttl:     DefaultJobTTL,
		now:     time.Now,
		jobs:    make(map[string]*Job),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// UpdateConsent records a consent decision for a category given by name.
func (p *PrivacyControls) UpdateConsent(ctx context.Context, userID, category string, granted bool, origin models.Origin) (*models.ConsentRecord, error) {
	c, err := models.ParseConsentCategory(category)
	if err != nil {
		return nil, err
	}
	return p.data.RecordConsent(ctx, userID, c, granted, origin)
}

// RequestExport starts an export and returns its job id.
func (p *PrivacyControls) RequestExport(ctx context.Context, userID string, origin models.Origin) (string, error) {
	return p.start(ctx, JobExport, userID, origin, func(ctx context.Context, j *Job) error {
		b, err := p.data.Export(ctx, userID, origin)
		if err != nil {
			return err
		}
		j.Export = b
		return nil
	})
}

// RequestDeletion re-verifies the password and then starts an archived
// deletion of the user's data.
func (p *PrivacyControls) RequestDeletion(ctx context.Context, userID, password string, origin models.Origin) (string, error) {
	if err := p.auth.VerifyPassword(ctx, userID, password); err != nil {
		p.audit.Record(ctx, models.AuditDataDeletion, userID, "request_rejected", origin, "password mismatch")
		return "", err
	}
	return p.start(ctx, JobDeletion, userID, origin, func(ctx context.Context, _ *Job) error {
		return p.data.Delete(ctx, userID, true, origin)
	})
}

// JobStatus returns a copy of the job's current state.
func (p *PrivacyControls) JobStatus(jobID string) (Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpiredLocked()
	j, ok := p.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *j, nil
}

// Wait blocks until every started job has finished or ctx is done.
func (p *PrivacyControls) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JobID derives the id of a request from its kind, user and time. The same
// request at the same instant maps to the same job.
func JobID(kind JobKind, userID string, requestedAt time.Time) string {
	name := fmt.Sprintf("%s:%s:%s", kind, userID, requestedAt.UTC().Format(time.RFC3339Nano))
	return uuid.NewSHA1(jobNamespace, []byte(name)).String()
}

func (p *PrivacyControls) start(ctx context.Context, kind JobKind, userID string, origin models.Origin, run func(ctx context.Context, j *Job) error) (string, error) {
	requested := p.now().UTC()
	id := JobID(kind, userID, requested)

	p.mu.Lock()
	p.evictExpiredLocked()
	if _, ok := p.jobs[id]; ok {
		p.mu.Unlock()
		return id, nil
	}
	p.jobs[id] = &Job{ID: id, Kind: kind, UserID: userID, State: JobPending, RequestedAt: requested}
	p.mu.Unlock()

	category := models.AuditDataExport
	if kind == JobDeletion {
		category = models.AuditDataDeletion
	}
	p.audit.Record(ctx, category, userID, "requested", origin, "job "+id)

	jobCtx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.timeout > 0 {
			var cancel context.CancelFunc
			jobCtx, cancel = context.WithTimeout(jobCtx, p.timeout)
			defer cancel()
		}

		var result Job
		err := run(jobCtx, &result)

		p.mu.Lock()
		defer p.mu.Unlock()
		state := JobDone
		if err != nil {
			state = JobFailed
		}
		if p.done != nil {
			p.done.WithLabelValues(string(kind), string(state)).Inc()
		}

		j, ok := p.jobs[id]
		if !ok {
			// The user was erased while this job ran; its result is dropped.
			p.log.Info(jobCtx, "privacy job result discarded", "job_id", id, "kind", string(kind), "user_id", userID)
			return
		}
		j.FinishedAt = p.now().UTC()
		j.State = state
		if err != nil {
			j.Error = err.Error()
			p.log.Error(jobCtx, "privacy job failed", "job_id", id, "kind", string(kind), "user_id", userID, "error", err)
			return
		}
		j.Export = result.Export
		if kind == JobDeletion {
			p.forgetUserLocked(userID, id)
		}
		p.log.Info(jobCtx, "privacy job done", "job_id", id, "kind", string(kind), "user_id", userID)
	}()

	return id, nil
}

// evictExpiredLocked drops finished jobs older than the TTL. p.mu must be
// held.
func (p *PrivacyControls) evictExpiredLocked() {
	cutoff := p.now().UTC().Add(-p.ttl)
	for id, j := range p.jobs {
		if j.State != JobPending && j.FinishedAt.Before(cutoff) {
			delete(p.jobs, id)
		}
	}
}

// forgetUserLocked drops every job of userID except keep, including
// pending ones, so no export of an erased user is served afterwards.
// p.mu must be held.
func (p *PrivacyControls) forgetUserLocked(userID, keep string) {
	for id, j := range p.jobs {
		if j.UserID == userID && id != keep {
			delete(p.jobs, id)
		}
	}
}
