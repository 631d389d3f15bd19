// Package playlist downloads every item of a collection into its own folder.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"mediafetch/internal/downloader"
	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
	"mediafetch/internal/feedback"
	"mediafetch/internal/observability"
	"mediafetch/pkg/calc"
	"mediafetch/pkg/fsname"
)

const (
	outcomeCompleted = "completed"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// Enumerator lists the items of a collection.
type Enumerator interface {
	Enumerate(ctx context.Context, ref entity.MediaReference) (entity.Collection, error)
}

// Downloader runs a single item.
type Downloader interface {
	Download(ctx context.Context, req downloader.Request) (downloader.Result, error)
}

// Request describes one batch.
type Request struct {
	Ref    entity.MediaReference
	Preset entity.TranscodePreset
	// Folder is the parent of the collection folder; defaults to the
	// configured downloads directory.
	Folder       string
	SkipExisting bool
	Sink         feedback.Sink
}

// Orchestrator runs batches sequentially, one item at a time.
type Orchestrator struct {
	log         *slog.Logger
	metrics     *observability.Metrics
	enumerator  Enumerator
	downloader  Downloader
	rootFolder  string
	maxNameSize int
}

// New creates a playlist orchestrator.
func New(log *slog.Logger, metrics *observability.Metrics, enumerator Enumerator, dl Downloader, rootFolder string, maxNameSize int) *Orchestrator { //nolint:lll
	return &Orchestrator{
		log:         log.With(slog.String("package", "playlist")),
		metrics:     metrics,
		enumerator:  enumerator,
		downloader:  dl,
		rootFolder:  rootFolder,
		maxNameSize: maxNameSize,
	}
}

// DownloadAll enumerates req.Ref and downloads each item. Only enumeration
// and folder setup fail the batch; item failures are recorded in the summary.
// A collection of one item is downloaded like a single reference.
func (o *Orchestrator) DownloadAll(ctx context.Context, req Request) (entity.Summary, error) {
	sink := feedback.NewMonotonic(feedback.OrDiscard(req.Sink))
	log := o.log.With(slog.Any("ref", req.Ref))

	parent := req.Folder
	if parent == "" {
		parent = o.rootFolder
	}

	sink.Report(ctx, feedback.Event{Message: "Fetching playlist", Progress: feedback.ProgressIndeterminate})

	col, err := o.enumerator.Enumerate(ctx, req.Ref)
	if err != nil {
		log.ErrorContext(ctx, "enumerate playlist", slog.Any("error", err))
		sink.Report(ctx, feedback.Event{Message: "Failed to fetch playlist", Progress: feedback.ProgressClear})

		return entity.Summary{}, fmt.Errorf("enumerate %s: %w", req.Ref.ID, err)
	}

	if len(col.Items) == 1 {
		return o.single(ctx, req, col, parent, sink)
	}

	folder := filepath.Join(parent, fsname.Sanitize(col.Title, fsname.FolderReplacement, o.maxNameSize))

	if err := prepareFolder(folder, req.SkipExisting); err != nil {
		log.ErrorContext(ctx, "prepare playlist folder", slog.String("folder", folder), slog.Any("error", err))
		sink.Report(ctx, feedback.Event{Message: err.Error(), Progress: feedback.ProgressClear})

		return entity.Summary{}, err
	}

	summary := entity.Summary{Title: col.Title, Folder: folder, Total: len(col.Items)}
	total := len(col.Items)

	log.InfoContext(ctx, "downloading playlist", slog.String("title", col.Title), slog.Int("items", total), slog.Bool("album", col.IsAlbum))

	for i, item := range col.Items {
		if ctx.Err() != nil {
			break
		}

		position := i + 1

		itemReq := downloader.Request{
			Ref:          item.Ref,
			Preset:       req.Preset,
			Folder:       folder,
			SkipExisting: req.SkipExisting,
			Label:        item.Label(),
			Sink:         itemSink(sink, position, total),
		}

		if col.IsAlbum {
			itemReq.TrackIndex = strconv.Itoa(position)
		}

		res, err := o.downloader.Download(ctx, itemReq)

		switch {
		case err != nil:
			failure := itemFailure(position, item, err)
			summary.Failures = append(summary.Failures, failure)
			o.metrics.RecordPlaylistItem(outcomeFailed)

			log.WarnContext(ctx, "playlist item failed", slog.Int("position", position), slog.String("item", failure.Label), slog.Any("error", err))
			sink.Report(ctx, feedback.Event{
				Message:   failure.Label + ": " + failure.Error,
				Progress:  calc.PlaylistProgress(position, total, 1),
				Remaining: total - position,
			})

			continue
		case res.State == entity.JobStateSkipped:
			summary.Skipped++
			o.metrics.RecordPlaylistItem(outcomeSkipped)
		default:
			summary.Files = append(summary.Files, res.Path)
			o.metrics.RecordPlaylistItem(outcomeCompleted)
		}

		sink.Report(ctx, feedback.Event{
			Message:   fmt.Sprintf("Downloaded %d/%d", position, total),
			Progress:  calc.PlaylistProgress(position, total, 1),
			Remaining: total - position,
		})
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	sink.Report(ctx, feedback.Event{Message: doneMessage(summary), Progress: 1})
	sink.Report(ctx, feedback.Event{Progress: feedback.ProgressClear})

	log.InfoContext(ctx, "playlist done",
		slog.Int("files", len(summary.Files)),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failures", len(summary.Failures)),
	)

	return summary, nil
}

func (o *Orchestrator) single(ctx context.Context, req Request, col entity.Collection, folder string, sink feedback.Sink) (entity.Summary, error) { //nolint:lll
	item := col.Items[0]
	summary := entity.Summary{Title: col.Title, Folder: folder, Total: 1}

	o.log.DebugContext(ctx, "single item collection, downloading directly", slog.Any("ref", item.Ref))

	res, err := o.downloader.Download(ctx, downloader.Request{
		Ref:          item.Ref,
		Preset:       req.Preset,
		Folder:       folder,
		SkipExisting: req.SkipExisting,
		Label:        item.Label(),
		Sink:         sink,
	})
	if err != nil {
		summary.Failures = []entity.ItemFailure{itemFailure(1, item, err)}

		return summary, err
	}

	if res.State == entity.JobStateSkipped {
		summary.Skipped = 1
	} else {
		summary.Files = []string{res.Path}
	}

	return summary, nil
}

// itemSink maps an item's own [0,1] progress onto its slot of the batch.
func itemSink(next feedback.Sink, position, total int) feedback.Sink {
	prefix := fmt.Sprintf("Downloading %d/%d", position, total)

	return feedback.SinkFunc(func(ctx context.Context, ev feedback.Event) {
		item := ev.Progress
		if ev.IsSentinel() {
			item = 0
		}

		msg := prefix
		if ev.Message != "" {
			msg += ": " + ev.Message
		}

		next.Report(ctx, feedback.Event{
			Message:   msg,
			Progress:  calc.PlaylistProgress(position, total, item),
			Remaining: total - position + 1,
		})
	})
}

func itemFailure(position int, item entity.CollectionItem, err error) entity.ItemFailure {
	failure := entity.ItemFailure{Position: position, Label: item.Label(), Error: err.Error()}

	var derr *errs.DownloadError
	if errors.As(err, &derr) {
		failure.Stage = derr.Stage
		failure.Error = derr.Err.Error()

		if derr.Label != "" && derr.Label != item.Ref.ID {
			failure.Label = derr.Label
		}
	}

	return failure
}

func prepareFolder(folder string, skipExisting bool) error {
	info, err := os.Stat(folder)

	switch {
	case err == nil && !skipExisting:
		return fmt.Errorf("%w: %s", errs.ErrFolderConflict, folder)
	case err == nil && !info.IsDir():
		return fmt.Errorf("%w: %s is not a directory", errs.ErrFolderConflict, folder)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", errs.ErrPersist, err)
	}

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrPersist, err)
	}

	return nil
}

func doneMessage(s entity.Summary) string {
	msg := fmt.Sprintf("Downloaded %d/%d", len(s.Files)+s.Skipped, s.Total)
	if n := len(s.Failures); n > 0 {
		msg += fmt.Sprintf(", %d failed", n)
	}

	return msg
}
