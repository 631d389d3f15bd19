// Package service runs download jobs on behalf of HTTP callers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"mediafetch/internal/config"
	"mediafetch/internal/downloader"
	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
	"mediafetch/internal/feedback"
	"mediafetch/internal/format"
	"mediafetch/internal/observability"
	"mediafetch/internal/playlist"
	"mediafetch/internal/storage"
	"mediafetch/pkg/calc"
	"mediafetch/pkg/fsname"
	"mediafetch/pkg/gen"
	"mediafetch/pkg/ptr"
)

// Downloader runs one item.
type Downloader interface {
	Download(ctx context.Context, req downloader.Request) (downloader.Result, error)
}

// PlaylistRunner runs a whole collection.
type PlaylistRunner interface {
	DownloadAll(ctx context.Context, req playlist.Request) (entity.Summary, error)
}

// EnqueueInput is a validated download request.
type EnqueueInput struct {
	Ref    entity.MediaReference
	Preset string
	Folder string
	// SkipExisting overrides the configured default when set.
	SkipExisting *bool
}

// Job is the host facing job API.
type Job interface {
	Enqueue(ctx context.Context, in EnqueueInput) (entity.Job, error)
	GetByID(ctx context.Context, id string) (entity.Job, error)
	GetAll(ctx context.Context) ([]entity.Job, error)
	Cancel(ctx context.Context, id string) error
	Presets() []entity.TranscodePreset

	// Close stops accepting jobs, cancels running ones and waits for them.
	Close(ctx context.Context) error
}

type job struct {
	log      *slog.Logger
	cfg      *config.Config
	metrics  *observability.Metrics
	storer   storage.Storer
	single   Downloader
	playlist PlaylistRunner
	sink     feedback.Sink

	baseCtx context.Context //nolint:containedctx
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool

	// enqueueMu makes the lookup and insert of a job id atomic.
	enqueueMu sync.Mutex
}

var _ Job = (*job)(nil)

// New creates the job service. sink receives every job's feedback events.
func New(cfg *config.Config, log *slog.Logger, metrics *observability.Metrics, storer storage.Storer, single Downloader, pl PlaylistRunner, sink feedback.Sink) Job { //nolint:lll
	baseCtx, stop := context.WithCancel(context.Background())

	return &job{
		log:      log.With(slog.String("package", "service")),
		cfg:      cfg,
		metrics:  metrics,
		storer:   storer,
		single:   single,
		playlist: pl,
		sink:     feedback.OrDiscard(sink),
		baseCtx:  baseCtx,
		stop:     stop,
	}
}

// jobID is stable for one reference, preset and folder so repeat requests
// find the earlier record.
func jobID(in EnqueueInput, preset string) string {
	return gen.UUIDv5(string(in.Ref.Platform), in.Ref.ID, fmt.Sprint(in.Ref.IsPlaylist), preset, in.Folder)
}

func (svc *job) Enqueue(ctx context.Context, in EnqueueInput) (entity.Job, error) {
	if svc.closed.Load() {
		return entity.Job{}, errs.ErrServiceClosed
	}

	preset, err := format.LookupPreset(in.Preset, svc.cfg.Download)
	if err != nil {
		return entity.Job{}, err
	}

	folder, err := fsname.ResolveFolder(svc.cfg.Dir.Downloads, in.Folder)
	if err != nil {
		return entity.Job{}, fmt.Errorf("%w: %w", errs.ErrInvalidFolder, err)
	}

	in.Folder = folder

	skipExisting := ptr.DerefOr(in.SkipExisting, svc.cfg.Download.SkipExisting)

	id := jobID(in, preset.Name)
	now := time.Now()

	svc.enqueueMu.Lock()
	defer svc.enqueueMu.Unlock()

	prev, exists := svc.storer.GetJobByID(ctx, id)
	if exists && !prev.State.Terminal() {
		return prev, errs.ErrJobAlreadyExists
	}

	record := entity.Job{
		ID:           id,
		Reference:    in.Ref,
		Preset:       preset.Name,
		Folder:       in.Folder,
		SkipExisting: skipExisting,
		State:        entity.JobStatePending,
		Progress:     0,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(svc.cfg.Storage.TTL),
	}

	if err := svc.storer.SetJob(ctx, record); err != nil {
		return entity.Job{}, err
	}

	// a finished single download remembers its file, so a repeat request
	// can be skipped without touching the network
	var knownName string
	if exists && !in.Ref.IsPlaylist && len(prev.Files) == 1 {
		knownName = filepath.Base(prev.Files[0])
	}

	jobCtx, cancel := context.WithTimeout(svc.baseCtx, svc.cfg.Download.Timeout)
	svc.storer.RegisterCancelFunc(id, cancel)

	svc.metrics.RecordJobCreated()

	svc.wg.Go(func() {
		defer cancel()
		defer svc.storer.UnregisterCancelFunc(id)

		svc.run(jobCtx, record, preset, knownName)
	})

	svc.log.InfoContext(ctx, "job enqueued", slog.Any("job", record))

	return record, nil
}

func (svc *job) run(ctx context.Context, record entity.Job, preset entity.TranscodePreset, knownName string) {
	log := svc.log.With(slog.String("job_id", record.ID))
	done := svc.metrics.JobTimer()

	defer done()

	sink := feedback.Multi(
		feedback.WithJob(svc.sink, record.ID),
		feedback.SinkFunc(func(ctx context.Context, ev feedback.Event) { svc.progress(ctx, record.ID, ev) }),
	)

	var (
		files    []string
		failures []entity.ItemFailure
		state    = entity.JobStateCompleted
		err      error
	)

	if record.Reference.IsPlaylist {
		var summary entity.Summary

		svc.setState(ctx, record.ID, entity.JobStateResolving)

		summary, err = svc.playlist.DownloadAll(ctx, playlist.Request{
			Ref:          record.Reference,
			Preset:       preset,
			Folder:       record.Folder,
			SkipExisting: record.SkipExisting,
			Sink:         sink,
		})
		files, failures = summary.Files, summary.Failures
	} else {
		var res downloader.Result

		res, err = svc.single.Download(ctx, downloader.Request{
			Ref:          record.Reference,
			Preset:       preset,
			Folder:       record.Folder,
			SkipExisting: record.SkipExisting,
			KnownName:    knownName,
			Sink:         sink,
			OnStage: func(s entity.JobState) {
				if !s.Terminal() {
					svc.setState(ctx, record.ID, s)
				}
			},
		})
		state = res.State

		if res.Path != "" {
			files = []string{res.Path}
		}
	}

	if err != nil {
		state = entity.JobStateFailed
	}

	switch state {
	case entity.JobStateCompleted:
		svc.metrics.RecordJobCompleted()
	case entity.JobStateSkipped:
		svc.metrics.RecordJobSkipped()
	default:
		svc.metrics.RecordJobFailed()
	}

	// the job context may already be cancelled
	updateCtx := context.WithoutCancel(ctx)

	updateErr := svc.storer.UpdateJob(updateCtx, record.ID, func(job *entity.Job) {
		job.State = state
		job.Files = files
		job.Failures = failures
		job.EstimatedETA = 0

		if err != nil {
			job.Error = errorMessage(err)
		} else {
			job.Progress = 1
		}
	})
	if updateErr != nil {
		log.ErrorContext(updateCtx, "store job result", slog.Any("error", updateErr))
	}

	if err != nil {
		log.ErrorContext(updateCtx, "job failed", slog.Any("error", err))

		return
	}

	log.InfoContext(updateCtx, "job finished", slog.String("state", string(state)), slog.Int("files", len(files)), slog.Int("failures", len(failures)))
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	default:
		return err.Error()
	}
}

func (svc *job) setState(ctx context.Context, id string, state entity.JobState) {
	_ = svc.storer.UpdateJob(ctx, id, func(job *entity.Job) { job.State = state })
}

// progress folds a feedback event into the job record.
func (svc *job) progress(ctx context.Context, id string, ev feedback.Event) {
	_ = svc.storer.UpdateJob(ctx, id, func(job *entity.Job) {
		if ev.Message != "" {
			job.Message = ev.Message
		}

		if ev.IsSentinel() || ev.Progress < job.Progress {
			return
		}

		// playlists report no stages of their own
		if job.Reference.IsPlaylist && job.State == entity.JobStateResolving {
			job.State = entity.JobStateStreaming
		}

		job.Progress = ev.Progress
		job.EstimatedETA = calc.ETA(ev.Progress, job.CreatedAt)
	})
}

func (svc *job) GetByID(ctx context.Context, id string) (entity.Job, error) {
	job, ok := svc.storer.GetJobByID(ctx, id)
	if !ok {
		return entity.Job{}, errs.ErrJobNotFound
	}

	return job, nil
}

func (svc *job) GetAll(ctx context.Context) ([]entity.Job, error) {
	return svc.storer.GetJobs(ctx)
}

func (svc *job) Cancel(ctx context.Context, id string) error {
	return svc.storer.CancelJob(ctx, id)
}

func (svc *job) Presets() []entity.TranscodePreset {
	return format.Presets(svc.cfg.Download)
}

func (svc *job) Close(ctx context.Context) error {
	if !svc.closed.CompareAndSwap(false, true) {
		return nil
	}

	svc.stop()

	done := make(chan struct{})

	go func() {
		svc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}
