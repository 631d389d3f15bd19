// Package transcode runs the re-encoding engine.
//
// There is a single Engine per process. Calls are serialized: the engine's
// working directory and binary are shared, so a second caller waits until the
// first has written its input, run the engine, read the output and removed
// both temp entries.
package transcode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mediafetch/internal/depmanager"
	"mediafetch/internal/errs"
	"mediafetch/internal/observability"
	"mediafetch/pkg/gen"
	"mediafetch/pkg/shellquote"
)

const dirPerm = 0o755

// Provisioner supplies the engine binaries.
type Provisioner interface {
	Ensure(ctx context.Context) (depmanager.Binaries, error)
}

// Invocation is one engine run.
type Invocation struct {
	Bin  string
	Args []string
	// Duration of the input if known; used to turn timestamps into a ratio.
	Duration   time.Duration
	OnProgress func(ratio float64)
}

// Runner executes the engine binary.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// Metadata is written by the engine into containers that support it.
type Metadata struct {
	Title    string
	Artist   string
	Track    string
	Duration time.Duration
}

// Args returns the -metadata arguments for the non-empty fields.
func (m Metadata) Args() []string {
	var args []string

	for _, kv := range [][2]string{{"title", m.Title}, {"artist", m.Artist}, {"track", m.Track}} {
		if kv[1] != "" {
			args = append(args, "-metadata", kv[0]+"="+kv[1])
		}
	}

	return args
}

type engineState struct {
	bin string
	dir string
}

// Engine is the process wide transcoder.
type Engine struct {
	log     *slog.Logger
	metrics *observability.Metrics
	prov    Provisioner
	runner  Runner
	root    string

	once    sync.Once
	state   engineState
	initErr error

	mu     sync.Mutex
	closed bool
}

// New creates an engine; nothing is provisioned until the first Transcode.
func New(log *slog.Logger, metrics *observability.Metrics, prov Provisioner, runner Runner, workRoot string) *Engine {
	return &Engine{
		log:     log.With(slog.String("package", "transcode")),
		metrics: metrics,
		prov:    prov,
		runner:  runner,
		root:    workRoot,
	}
}

func (e *Engine) init(ctx context.Context) (engineState, error) {
	e.once.Do(func() {
		// a cancelled first caller must not poison the engine for everyone else
		ctx := context.WithoutCancel(ctx)

		bins, err := e.prov.Ensure(ctx)
		if err != nil {
			e.initErr = err

			return
		}

		if err := os.MkdirAll(e.root, dirPerm); err != nil {
			e.initErr = fmt.Errorf("create work root: %w", err)

			return
		}

		dir, err := os.MkdirTemp(e.root, "engine-*")
		if err != nil {
			e.initErr = fmt.Errorf("create work dir: %w", err)

			return
		}

		e.state = engineState{bin: bins.FFmpeg, dir: dir}
		e.log.InfoContext(ctx, "engine initialized", slog.String("bin", bins.FFmpeg), slog.String("dir", dir))
	})

	return e.state, e.initErr
}

// Transcode re-encodes src into ext and returns the output bytes.
// onProgress receives the engine's own 0..1 ratio.
func (e *Engine) Transcode(ctx context.Context, src io.Reader, sourceName, ext string, args []string, meta Metadata, onProgress func(float64)) ([]byte, error) { //nolint:lll
	queued := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	wait := time.Since(queued)

	if e.closed {
		return nil, fmt.Errorf("%w: engine closed", errs.ErrEngineInit)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := e.init(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrEngineInit, err)
	}

	if onProgress == nil {
		onProgress = func(float64) {}
	}

	inPath := filepath.Join(st.dir, gen.TempName()+sourceExt(sourceName))
	outPath := filepath.Join(st.dir, gen.TempName()+"."+strings.TrimPrefix(ext, "."))

	defer func() {
		for _, p := range []string{inPath, outPath} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				e.log.Warn("remove temp entry", slog.String("path", p), slog.Any("error", err))
			}
		}
	}()

	if err := writeInput(inPath, src); err != nil {
		return nil, err
	}

	full := make([]string, 0, len(args)+12)
	full = append(full, "-hide_banner", "-nostdin", "-y", "-i", inPath)
	full = append(full, args...)
	full = append(full, meta.Args()...)
	full = append(full, "-progress", "pipe:2", "-nostats", outPath)

	e.log.DebugContext(ctx, "running engine", slog.String("cmd", shellquote.Join(st.bin, full)))

	started := time.Now()

	err = e.runner.Run(ctx, Invocation{Bin: st.bin, Args: full, Duration: meta.Duration, OnProgress: onProgress})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrEncode, err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %w", errs.ErrEncode, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty output", errs.ErrEncode)
	}

	onProgress(1)
	e.metrics.RecordTranscode(wait, time.Since(started))

	return data, nil
}

// writeInput copies src into the engine's input entry. Read errors from src
// are returned unchanged so callers can tell stream failures apart.
func writeInput(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create input: %w", errs.ErrEncode, err)
	}

	_, copyErr := io.Copy(f, readerOnly{src})
	closeErr := f.Close()

	if copyErr != nil {
		return fmt.Errorf("write engine input: %w", copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("%w: close input: %w", errs.ErrEncode, closeErr)
	}

	return nil
}

// readerOnly hides WriterTo so io.Copy reads through src and its errors stay visible.
type readerOnly struct{ io.Reader }

func sourceExt(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) > 8 || strings.ContainsAny(ext, `/\ `) {
		return ".src"
	}

	return ext
}

// Close removes the working directory. Pending calls finish first.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true

	if e.state.dir == "" {
		return nil
	}

	if err := os.RemoveAll(e.state.dir); err != nil {
		return fmt.Errorf("remove work dir: %w", err)
	}

	return nil
}
