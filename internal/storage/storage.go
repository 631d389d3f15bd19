// Package storage keeps download job records in memory.
package storage

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"mediafetch/internal/config"
	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
	"mediafetch/internal/observability"
)

// Storer defines the interface for storage operations.
// Records are returned by value; mutations go through UpdateJob.
type Storer interface {
	SetJob(ctx context.Context, job entity.Job) error
	GetJobByID(ctx context.Context, id string) (entity.Job, bool)
	GetJobs(ctx context.Context) ([]entity.Job, error)
	UpdateJob(ctx context.Context, id string, fn func(job *entity.Job)) error

	// CancelJob cancels a running job by its ID.
	CancelJob(ctx context.Context, id string) error

	// RegisterCancelFunc stores a cancel function for a job.
	RegisterCancelFunc(id string, cancelFunc context.CancelFunc)

	// UnregisterCancelFunc removes the cancel function for a job.
	UnregisterCancelFunc(id string)

	CleanupExpiredJobs(ctx context.Context, interval time.Duration)
}

type storage struct {
	log     *slog.Logger
	cfg     config.Storage
	metrics *observability.Metrics

	mu   sync.RWMutex
	jobs map[string]*entity.Job // job UUID : job

	cancelMu    sync.RWMutex
	cancelFuncs map[string]context.CancelFunc // job UUID : cancel func
}

// New creates a new in-memory storage instance and starts the expiry loop.
func New(ctx context.Context, log *slog.Logger, cfg config.Storage, metrics *observability.Metrics) Storer {
	stg := &storage{
		log:         log.With(slog.String("package", "storage")),
		cfg:         cfg,
		metrics:     metrics,
		jobs:        make(map[string]*entity.Job),
		cancelFuncs: make(map[string]context.CancelFunc),
	}

	go stg.CleanupExpiredJobs(ctx, cfg.CleanupInterval)

	return stg
}

func (stg *storage) SetJob(ctx context.Context, job entity.Job) error {
	if job.ID == "" {
		stg.log.ErrorContext(ctx, "set job: empty id")

		return errs.ErrJobNil
	}

	stg.mu.Lock()
	stg.jobs[job.ID] = &job
	count := len(stg.jobs)
	stg.mu.Unlock()

	stg.metrics.SetStoredJobs(count)

	return nil
}

func (stg *storage) GetJobByID(_ context.Context, id string) (entity.Job, bool) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	job, ok := stg.jobs[id]
	if !ok {
		return entity.Job{}, false
	}

	return clone(job), true
}

// GetJobs returns every record, newest first.
func (stg *storage) GetJobs(_ context.Context) ([]entity.Job, error) {
	stg.mu.RLock()
	defer stg.mu.RUnlock()

	if len(stg.jobs) == 0 {
		return nil, errs.ErrNoJobs
	}

	jobs := make([]entity.Job, 0, len(stg.jobs))
	for _, job := range stg.jobs {
		jobs = append(jobs, clone(job))
	}

	slices.SortFunc(jobs, func(a, b entity.Job) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	return jobs, nil
}

func (stg *storage) UpdateJob(ctx context.Context, id string, fn func(job *entity.Job)) error {
	stg.mu.Lock()
	defer stg.mu.Unlock()

	job, ok := stg.jobs[id]
	if !ok {
		return errs.ErrJobNotFound
	}

	fn(job)
	job.UpdatedAt = time.Now()

	stg.log.DebugContext(ctx, "job updated", slog.Any("job", *job))

	return nil
}

// CancelJob cancels a job by its ID by calling its cancel function.
func (stg *storage) CancelJob(ctx context.Context, id string) error {
	job, ok := stg.GetJobByID(ctx, id)
	if !ok {
		return errs.ErrJobNotFound
	}

	if job.State.Terminal() {
		return errs.ErrJobFinished
	}

	stg.cancelMu.RLock()
	cancelFunc := stg.cancelFuncs[id]
	stg.cancelMu.RUnlock()

	if cancelFunc == nil {
		stg.log.WarnContext(ctx, "no cancel func registered for job", slog.String("job_id", id))

		return errs.ErrJobFinished
	}

	cancelFunc()

	stg.log.InfoContext(ctx, "job cancelled", slog.String("job_id", id))

	return nil
}

// RegisterCancelFunc stores a cancel function for a job.
func (stg *storage) RegisterCancelFunc(id string, cancelFunc context.CancelFunc) {
	stg.cancelMu.Lock()
	defer stg.cancelMu.Unlock()

	stg.cancelFuncs[id] = cancelFunc
}

// UnregisterCancelFunc removes the cancel function for a job.
func (stg *storage) UnregisterCancelFunc(id string) {
	stg.cancelMu.Lock()
	defer stg.cancelMu.Unlock()

	delete(stg.cancelFuncs, id)
}

func clone(job *entity.Job) entity.Job {
	out := *job
	out.Files = slices.Clone(job.Files)
	out.Failures = slices.Clone(job.Failures)

	return out
}
