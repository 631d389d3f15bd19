// Package downloader runs one media item through the pipeline:
// resolve, select a format, stream, transcode, tag and persist.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"mediafetch/internal/config"
	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
	"mediafetch/internal/feedback"
	"mediafetch/internal/format"
	"mediafetch/internal/observability"
	"mediafetch/internal/tagger"
	"mediafetch/internal/transcode"
	"mediafetch/pkg/calc"
	"mediafetch/pkg/fsname"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Resolver turns a reference into playable metadata.
type Resolver interface {
	Resolve(ctx context.Context, ref entity.MediaReference) (entity.ResolvedMedia, error)
}

// Selector picks the stream to download.
type Selector interface {
	Choose(ctx context.Context, media entity.ResolvedMedia) (entity.StreamFormat, error)
}

// Transcoder re-encodes a source stream.
type Transcoder interface {
	Transcode(ctx context.Context, src io.Reader, sourceName, ext string, args []string, meta transcode.Metadata, onProgress func(float64)) ([]byte, error) //nolint:lll
}

// Tagger writes tags into encoded output.
type Tagger interface {
	Supports(ext string) bool
	Tag(ctx context.Context, data []byte, ext string, info tagger.Info) ([]byte, error)
}

// StageFunc observes state transitions of a download.
type StageFunc func(state entity.JobState)

// Request describes one download.
type Request struct {
	Ref    entity.MediaReference
	Preset entity.TranscodePreset
	// Folder defaults to the configured downloads directory.
	Folder       string
	TrackIndex   string
	SkipExisting bool
	// KnownName is the file name of an earlier run; with SkipExisting it is
	// checked before any network call.
	KnownName string
	// Label names the item in errors until metadata is resolved.
	Label   string
	Sink    feedback.Sink
	OnStage StageFunc
}

// Result is the outcome of a successful or skipped download.
type Result struct {
	State entity.JobState
	Path  string
	Media entity.ResolvedMedia
	Bytes int64
}

// Options wires the pipeline stages.
type Options struct {
	Resolver      Resolver
	Selector      Selector
	Engine        Transcoder
	Tagger        Tagger
	DefaultFolder string
	WorkDir       string
}

// Orchestrator runs downloads. It holds no per-job state and is safe for
// concurrent use; the engine serializes transcoding on its own.
type Orchestrator struct {
	log     *slog.Logger
	metrics *observability.Metrics
	cfg     config.Download
	opts    Options
}

// New creates an orchestrator.
func New(log *slog.Logger, metrics *observability.Metrics, cfg config.Download, opts Options) *Orchestrator {
	return &Orchestrator{
		log:     log.With(slog.String("package", "downloader")),
		metrics: metrics,
		cfg:     cfg,
		opts:    opts,
	}
}

// job carries the state of one Download call.
type job struct {
	req    Request
	sink   feedback.Sink
	label  string
	folder string
}

func (j *job) stage(s entity.JobState) {
	if j.req.OnStage != nil {
		j.req.OnStage(s)
	}
}

func (j *job) report(ctx context.Context, msg string, progress float64) {
	j.sink.Report(ctx, feedback.Event{Message: msg, Progress: progress})
}

// Download runs req to completion. Every failure is a *errs.DownloadError.
func (o *Orchestrator) Download(ctx context.Context, req Request) (Result, error) {
	j := &job{
		req:    req,
		sink:   feedback.NewMonotonic(feedback.OrDiscard(req.Sink)),
		label:  req.Label,
		folder: req.Folder,
	}

	if j.label == "" {
		j.label = req.Ref.ID
	}

	if j.folder == "" {
		j.folder = o.opts.DefaultFolder
	}

	log := o.log.With(slog.Any("ref", req.Ref), slog.String("preset", req.Preset.Name))

	j.stage(entity.JobStatePending)

	if req.SkipExisting && req.KnownName != "" {
		if path := filepath.Join(j.folder, req.KnownName); fileExists(path) {
			return o.skip(ctx, j, path), nil
		}
	}

	j.stage(entity.JobStateResolving)
	j.report(ctx, "Fetching info", feedback.ProgressIndeterminate)

	media, err := o.opts.Resolver.Resolve(ctx, req.Ref)
	if err != nil {
		return o.fail(ctx, j, entity.JobStateResolving, err)
	}

	j.label = media.Label()

	f, err := o.opts.Selector.Choose(ctx, media)
	if err != nil {
		return o.fail(ctx, j, entity.JobStateFormatSelected, err)
	}

	j.stage(entity.JobStateFormatSelected)

	ext := format.TargetExtension(req.Preset, f)
	name := fsname.Filename(stem(media), ext, fsname.FileReplacement, o.cfg.MaxFilenameLength)
	path := filepath.Join(j.folder, name)

	log.DebugContext(ctx, "format selected", slog.Any("format", f), slog.String("path", path))

	if req.SkipExisting && fileExists(path) {
		return o.skip(ctx, j, path), nil
	}

	streamWeight := o.cfg.StreamWeight
	if !req.Preset.Reencodes() {
		streamWeight = 1
	}

	j.stage(entity.JobStateStreaming)

	tmpPath, size, err := o.stream(ctx, j, media, f, streamWeight)
	if err != nil {
		return o.fail(ctx, j, entity.JobStateStreaming, err)
	}
	defer os.Remove(tmpPath)

	o.metrics.RecordStreamBytes(int(size))

	var data []byte
	if req.Preset.Reencodes() {
		j.stage(entity.JobStateTranscoding)

		data, err = o.transcode(ctx, j, media, f, tmpPath, ext, streamWeight)
		if err != nil {
			return o.fail(ctx, j, entity.JobStateTranscoding, err)
		}
	} else {
		data, err = os.ReadFile(tmpPath)
		if err != nil {
			return o.fail(ctx, j, entity.JobStatePersisting, fmt.Errorf("%w: read stream: %w", errs.ErrPersist, err))
		}
	}

	if o.opts.Tagger != nil && o.opts.Tagger.Supports(ext) {
		j.stage(entity.JobStateTagging)
		j.report(ctx, "Writing tags", 1)

		data, err = o.opts.Tagger.Tag(ctx, data, ext, tagger.Info{
			Title:      media.Title,
			Artist:     media.Author,
			TrackIndex: req.TrackIndex,
			CoverURL:   media.ThumbnailURL,
		})
		if err != nil {
			return o.fail(ctx, j, entity.JobStateTagging, err)
		}
	}

	j.stage(entity.JobStatePersisting)
	j.report(ctx, "Saving", 1)

	if err := persist(j.folder, path, data); err != nil {
		return o.fail(ctx, j, entity.JobStatePersisting, err)
	}

	j.stage(entity.JobStateCompleted)
	j.report(ctx, "Downloaded "+name, 1)

	log.InfoContext(ctx, "download completed", slog.String("path", path), slog.String("size", humanize.Bytes(uint64(len(data)))))

	return Result{State: entity.JobStateCompleted, Path: path, Media: media, Bytes: int64(len(data))}, nil
}

func (o *Orchestrator) skip(ctx context.Context, j *job, path string) Result {
	j.stage(entity.JobStateSkipped)
	j.report(ctx, "Already downloaded: "+filepath.Base(path), 1)

	o.log.InfoContext(ctx, "skipping existing file", slog.String("path", path))

	return Result{State: entity.JobStateSkipped, Path: path}
}

func (o *Orchestrator) fail(ctx context.Context, j *job, stage entity.JobState, err error) (Result, error) {
	j.stage(entity.JobStateFailed)
	o.metrics.RecordStageFailure(string(stage))

	derr := &errs.DownloadError{Stage: stage, Label: j.label, Err: err}

	o.log.ErrorContext(ctx, "download failed", slog.String("stage", string(stage)), slog.String("item", j.label), slog.Any("error", err))

	return Result{}, derr
}

// stream pulls the selected format into a job owned temp file and returns
// its path and the number of bytes written.
func (o *Orchestrator) stream(ctx context.Context, j *job, media entity.ResolvedMedia, f entity.StreamFormat, weight float64) (string, int64, error) { //nolint:lll
	if media.Accessor == nil {
		return "", 0, fmt.Errorf("%w: no stream accessor for %s", errs.ErrStreamNetwork, media.ID)
	}

	rc, size, err := media.Accessor.OpenStream(ctx, media, f)
	if err != nil {
		return "", 0, classifyStream(err)
	}
	defer rc.Close()

	if size <= 0 {
		size = f.ContentLength
	}

	if err := os.MkdirAll(o.opts.WorkDir, dirPerm); err != nil {
		return "", 0, fmt.Errorf("%w: create work dir: %w", errs.ErrPersist, err)
	}

	tmp, err := os.CreateTemp(o.opts.WorkDir, "stream-*")
	if err != nil {
		return "", 0, fmt.Errorf("%w: create stream buffer: %w", errs.ErrPersist, err)
	}

	tick := rate.Sometimes{Interval: o.cfg.ProgressInterval}
	pr := &progressReader{r: rc, onRead: func(read int64) {
		tick.Do(func() {
			ratio := calc.Ratio(read, size)
			j.report(ctx, streamMessage(read, size), calc.Weighted(weight, ratio, 0))
		})
	}}

	written, copyErr := io.Copy(tmp, pr)
	closeErr := tmp.Close()

	switch {
	case copyErr != nil:
		err = classifyStream(copyErr)
	case closeErr != nil:
		err = fmt.Errorf("%w: close stream buffer: %w", errs.ErrPersist, closeErr)
	case size > 0 && written < size:
		err = fmt.Errorf("%w: got %d of %d bytes", errs.ErrStreamTruncated, written, size)
	}

	if err != nil {
		os.Remove(tmp.Name())

		return "", 0, err
	}

	j.report(ctx, streamMessage(written, written), calc.Weighted(weight, 1, 0))

	return tmp.Name(), written, nil
}

func (o *Orchestrator) transcode(ctx context.Context, j *job, media entity.ResolvedMedia, f entity.StreamFormat, src, ext string, weight float64) ([]byte, error) { //nolint:lll
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream buffer: %w", errs.ErrEncode, err)
	}
	defer in.Close()

	j.report(ctx, "Preparing", calc.Weighted(weight, 1, 0))

	tick := rate.Sometimes{Interval: o.cfg.ProgressInterval}
	onProgress := func(r float64) {
		tick.Do(func() {
			j.report(ctx, fmt.Sprintf("Converting %d%%", calc.Percent(r)), calc.Weighted(weight, 1, r))
		})
	}

	meta := transcode.Metadata{
		Title:    media.Title,
		Artist:   media.Author,
		Track:    j.req.TrackIndex,
		Duration: media.Duration,
	}

	started := time.Now()

	data, err := o.opts.Engine.Transcode(ctx, in, "source."+format.Container(f), ext, j.req.Preset.Args, meta, onProgress)
	if err != nil {
		return nil, err
	}

	o.log.DebugContext(ctx, "transcoded", slog.Duration("took", time.Since(started)), slog.String("size", humanize.Bytes(uint64(len(data)))))

	return data, nil
}

func streamMessage(read, total int64) string {
	if total <= 0 {
		return "Downloading " + humanize.Bytes(uint64(read))
	}

	return fmt.Sprintf("Downloading %d%% (%s / %s)", calc.Percent(calc.Ratio(read, total)), humanize.Bytes(uint64(read)), humanize.Bytes(uint64(total))) //nolint:lll
}

func classifyStream(err error) error {
	switch {
	case errors.Is(err, errs.ErrStreamNetwork), errors.Is(err, errs.ErrStreamTruncated),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", errs.ErrStreamTruncated, err)
	default:
		return fmt.Errorf("%w: %w", errs.ErrStreamNetwork, err)
	}
}

// stem is "{author} - {title}", or the title alone.
func stem(media entity.ResolvedMedia) string {
	title := media.Title
	if title == "" {
		title = media.ID
	}

	if media.Author == "" {
		return title
	}

	return media.Author + " - " + title
}

// persist writes data next to path and renames it into place, so a failed
// write never leaves a partial file under the final name.
func persist(folder, path string, data []byte) error {
	if err := os.MkdirAll(folder, dirPerm); err != nil {
		return fmt.Errorf("%w: create folder: %w", errs.ErrPersist, err)
	}

	tmp, err := os.CreateTemp(folder, ".mediafetch-*.part")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", errs.ErrPersist, err)
	}

	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Chmod(tmpPath, filePerm)
	}

	if err == nil {
		err = os.Rename(tmpPath, path)
	}

	if err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("%w: %w", errs.ErrPersist, err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
