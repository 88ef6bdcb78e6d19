// Package engine drives sync jobs from request to terminal state: one state
// machine per company identity, an at-most-one concurrency gate, heuristic
// progress, and the background auto-sync scheduler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/audit"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/pipeline"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning signals that a job for the identity is already in
// flight. It is an expected status, not a failure.
var ErrAlreadyRunning = errors.New("engine: sync already running for this identity")

// progressLogEvery spaces the periodic in_progress audit entries.
const progressLogEvery = 10

// JobParams are the inputs for one sync job.
type JobParams struct {
	Identity     schema.Identity
	Name         string
	SourceHandle string
	FromDate     time.Time
	ToDate       time.Time
	BatchSize    int

	DisableSlicing     bool
	SliceThresholdDays int
}

// Job is a handle to one in-flight (or finished) sync job.
type Job struct {
	ID       string
	Params   JobParams
	Progress *Progress

	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// set before done is closed
	result pipeline.Result
	err    error
}

// Wait blocks until the job reaches a terminal state.
func (j *Job) Wait() (pipeline.Result, error) {
	<-j.done
	return j.result, j.err
}

// Cancel asks the job to stop at the next page boundary. The in-flight
// fetch itself cannot be interrupted.
func (j *Job) Cancel() {
	j.cancel()
}

// Done reports whether the job has reached a terminal state.
func (j *Job) Done() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Orchestrator runs sync jobs with an at-most-one-per-identity guarantee.
type Orchestrator struct {
	db     *store.DB
	audit  *audit.Writer
	runner *pipeline.Runner
	logger *logrus.Logger

	// locks maps identity to its gate. Entries are created lazily under
	// locksMu and never removed; the map is bounded by the number of
	// distinct identities ever seen.
	locksMu sync.Mutex
	locks   map[schema.Identity]*sync.Mutex

	activeMu sync.Mutex
	active   map[schema.Identity]*Job
}

// New wires an orchestrator.
func New(db *store.DB, auditWriter *audit.Writer, runner *pipeline.Runner, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		db:     db,
		audit:  auditWriter,
		runner: runner,
		logger: logger,
		locks:  make(map[schema.Identity]*sync.Mutex),
		active: make(map[schema.Identity]*Job),
	}
}

// lockFor returns the per-identity gate, creating it on first use.
func (o *Orchestrator) lockFor(id schema.Identity) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()

	mu, ok := o.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[id] = mu
	}
	return mu
}

// ActiveJob returns the in-flight job for the identity, or nil.
func (o *Orchestrator) ActiveJob(id schema.Identity) *Job {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	return o.active[id]
}

// RecoverInterrupted reclassifies companies left syncing by a prior run to
// incomplete. Call once at startup, before any job starts. The process
// cannot have been mid-write at restart, so this is always a recovery
// classification, never a silent continuation.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int64, error) {
	companies, err := o.db.GetCompanies(ctx, schema.StatusSyncing)
	if err != nil {
		return 0, err
	}

	n, err := o.db.MarkInterrupted(ctx)
	if err != nil {
		return 0, err
	}

	for _, c := range companies {
		o.audit.Warning(ctx, c.Identity(), c.Name,
			"Previous sync was interrupted; marked incomplete for manual resume", "")
	}
	if n > 0 {
		o.logger.Warnf("reclassified %d interrupted companies to incomplete", n)
	}
	return n, nil
}

// Start begins a sync job for the identity. If a job for the same identity
// is already in flight, it returns ErrAlreadyRunning without side effects.
// The returned handle exposes progress and the terminal result.
func (o *Orchestrator) Start(ctx context.Context, params JobParams) (*Job, error) {
	if err := params.Identity.Validate(); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("company name is required")
	}
	if params.SourceHandle == "" {
		return nil, fmt.Errorf("source handle is required")
	}
	if params.ToDate.Before(params.FromDate) {
		return nil, fmt.Errorf("to_date %s is before from_date %s",
			params.ToDate.Format(schema.DateLayout), params.FromDate.Format(schema.DateLayout))
	}

	gate := o.lockFor(params.Identity)
	if !gate.TryLock() {
		return nil, ErrAlreadyRunning
	}

	// Create-or-update the company and move it to syncing before any work.
	company := &schema.Company{
		Name:         params.Name,
		ExternalID:   params.Identity.ExternalID,
		VersionID:    params.Identity.VersionID,
		SourceHandle: params.SourceHandle,
		Status:       schema.StatusSyncing,
	}
	if err := o.db.UpsertCompany(ctx, company); err != nil {
		gate.Unlock()
		return nil, fmt.Errorf("failed to mark company syncing: %w", err)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		ID:        uuid.NewString(),
		Params:    params,
		Progress:  &Progress{},
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	o.activeMu.Lock()
	o.active[params.Identity] = job
	o.activeMu.Unlock()

	o.audit.SyncStarted(jobCtx, params.Identity, params.Name)
	o.logger.WithFields(logrus.Fields{
		"job":      job.ID,
		"identity": params.Identity.String(),
		"from":     params.FromDate.Format(schema.DateLayout),
		"to":       params.ToDate.Format(schema.DateLayout),
	}).Info("sync started")

	go o.run(jobCtx, job, gate)

	return job, nil
}

// run drives the job to a terminal state. The gate is released in the final
// step regardless of outcome.
func (o *Orchestrator) run(ctx context.Context, job *Job, gate *sync.Mutex) {
	// The gate must be free before done is closed, so a caller returning
	// from Wait can immediately start the next job for this identity.
	defer func() {
		o.activeMu.Lock()
		delete(o.active, job.Params.Identity)
		o.activeMu.Unlock()
		gate.Unlock()
		close(job.done)
	}()

	params := job.Params
	id := params.Identity

	var lastProgressLog int
	result, err := o.runner.Run(ctx, pipeline.Job{
		Identity:           id,
		Name:               params.Name,
		SourceHandle:       params.SourceHandle,
		FromDate:           params.FromDate,
		ToDate:             params.ToDate,
		BatchSize:          params.BatchSize,
		DisableSlicing:     params.DisableSlicing,
		SliceThresholdDays: params.SliceThresholdDays,
	}, func(r pipeline.Result) {
		job.Progress.Observe(r.BatchesProcessed)
		if r.BatchesProcessed-lastProgressLog >= progressLogEvery {
			lastProgressLog = r.BatchesProcessed
			o.audit.SyncProgress(ctx, id, params.Name, r.RowsInserted)
		}
	})

	duration := time.Since(job.StartedAt)
	job.result = result

	// Terminal bookkeeping must land even when the job context was
	// canceled, so it runs on a fresh context.
	bctx := context.Background()

	if err != nil {
		job.err = err
		o.finishFailed(bctx, id, params.Name, err, duration)
		return
	}

	// The persisted count is the source of truth: rows the pipeline counted
	// can have been ignored as duplicates.
	count, cerr := o.db.CountVouchers(bctx, id)
	if cerr != nil {
		job.err = cerr
		o.finishFailed(bctx, id, params.Name, cerr, duration)
		return
	}

	if count != result.RowsInserted {
		o.audit.Warning(bctx, id, params.Name,
			fmt.Sprintf("Persisted count %d disagrees with pipeline counter %d", count, result.RowsInserted),
			"")
	}
	if result.RowsFetched == 0 {
		// Nothing to sync is a completed job, not a silent failure.
		o.audit.Warning(bctx, id, params.Name,
			"No records found in the requested date range", "")
	}

	if merr := o.db.MarkSyncComplete(bctx, id, count, params.Name); merr != nil {
		job.err = merr
		o.finishFailed(bctx, id, params.Name, merr, duration)
		return
	}

	job.Progress.Done()
	o.audit.SyncCompleted(bctx, id, params.Name, count, duration)
	o.logger.WithFields(logrus.Fields{
		"job":      job.ID,
		"identity": id.String(),
		"records":  count,
		"duration": duration.Round(time.Millisecond).String(),
	}).Info("sync completed")
}

// finishFailed moves the company to failed and records the error. Status
// and audit failures here are logged but cannot change the outcome.
func (o *Orchestrator) finishFailed(ctx context.Context, id schema.Identity, name string, jobErr error, duration time.Duration) {
	if err := o.db.MarkStatus(ctx, id, schema.StatusFailed); err != nil {
		o.logger.Errorf("failed to mark %s failed: %v", id, err)
	}
	o.audit.SyncFailed(ctx, id, name, errorCode(jobErr), jobErr.Error(), duration)
	o.logger.WithField("identity", id.String()).Errorf("sync failed: %v", jobErr)
}

// errorCode classifies a job error for the audit record.
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrIntegrity):
		return "persistence_integrity"
	case errors.Is(err, store.ErrContention):
		return "store_contention"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "sync_failed"
	}
}
