//go:build integration

package integration_test

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"mediafetch/internal/config"
	"mediafetch/internal/depmanager"
	"mediafetch/internal/downloader"
	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
	"mediafetch/internal/feedback"
	"mediafetch/internal/format"
	httprouter "mediafetch/internal/infrastructure/delivery/http"
	"mediafetch/internal/playlist"
	"mediafetch/internal/resolver"
	"mediafetch/internal/service"
	"mediafetch/internal/storage"
	"mediafetch/internal/tagger"
	"mediafetch/internal/transcode"
)

//go:embed testdata/fake-ffmpeg.sh
var fakeFFmpegScript string

// sourceBytes is what the fake platform serves for every item.
const sourceBytes = "source-audio"

type fixture struct {
	cfg       *config.Config
	client    *http.Client
	url       string
	downloads string
	svc       service.Job
}

type apiResponse struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// newFixture wires the real pipeline behind an httptest server. Only the
// platform client is faked; ffmpeg is a shell script found through PATH.
func newFixture(t *testing.T, ffmpegMode string) *fixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}

	baseDir := t.TempDir()
	binDir := filepath.Join(baseDir, "bin")

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}

	if err := os.WriteFile(filepath.Join(binDir, "ffmpeg"), []byte(fakeFFmpegScript), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("MEDIAFETCH_FAKE_FFMPEG_MODE", ffmpegMode)
	t.Setenv(config.EnvFileVar, filepath.Join(baseDir, "missing.env"))

	cfg, err := config.New()
	if err != nil {
		t.Fatalf("config new: %v", err)
	}

	cfg.Dir.Downloads = filepath.Join(baseDir, "downloads")
	cfg.Dir.Work = filepath.Join(baseDir, "work")
	cfg.DepManager.UseSystemBinaries = true
	cfg.DepManager.BinsDir = binDir
	cfg.Storage.CleanupInterval = time.Hour
	cfg.Download.Timeout = 5 * time.Second
	cfg.Download.ProgressInterval = 0

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sourceBytes)
	}))
	t.Cleanup(cdn.Close)

	platform := newPlatform(cdn.URL)
	res := resolver.New(log, nil, resolver.Options{Primary: platform})

	engine := transcode.New(log, nil, depmanager.New(log, cfg.DepManager), transcode.NewFFmpegRunner(log), cfg.Dir.Work)
	t.Cleanup(func() { _ = engine.Close() })

	dl := downloader.New(log, nil, cfg.Download, downloader.Options{
		Resolver:      res,
		Selector:      format.NewSelector(format.StaticEntitlement(true)),
		Engine:        engine,
		Tagger:        tagger.New(log, cdn.Client(), cfg.Download.MaxCoverWidth, cfg.Dir.Work),
		DefaultFolder: cfg.Dir.Downloads,
		WorkDir:       cfg.Dir.Work,
	})
	pl := playlist.New(log, nil, res, dl, cfg.Dir.Downloads, cfg.Download.MaxFilenameLength)

	storer := storage.New(t.Context(), log, cfg.Storage, nil)
	svc := service.New(cfg, log, nil, storer, dl, pl, feedback.NewLogSink(log))

	server := httptest.NewServer(httprouter.New(log, cfg, svc, nil))
	client := server.Client()
	client.Timeout = 3 * time.Second

	t.Cleanup(func() {
		server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = svc.Close(ctx)
	})

	return &fixture{cfg: cfg, client: client, url: server.URL, downloads: cfg.Dir.Downloads, svc: svc}
}

func (fx *fixture) do(t *testing.T, method, path string, body any) (int, apiResponse) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, fx.url+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	resp, err := fx.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out apiResponse

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}

	return resp.StatusCode, out
}

func (fx *fixture) enqueue(t *testing.T, body map[string]any) entity.Job {
	t.Helper()

	status, resp := fx.do(t, http.MethodPost, "/v1/downloads", body)
	if status != http.StatusAccepted {
		t.Fatalf("POST /v1/downloads status = %d, body = %+v", status, resp)
	}

	return decodeJob(t, resp)
}

// waitTerminal polls the job until it reaches a terminal state.
func (fx *fixture) waitTerminal(t *testing.T, id string) entity.Job {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		status, resp := fx.do(t, http.MethodGet, "/v1/downloads/"+id, nil)
		if status != http.StatusOK {
			t.Fatalf("GET job status = %d", status)
		}

		job := decodeJob(t, resp)
		if job.State.Terminal() {
			return job
		}

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("job %s did not finish", id)

	return entity.Job{}
}

// waitState polls until the job reports want.
func (fx *fixture) waitState(t *testing.T, id string, want entity.JobState) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		_, resp := fx.do(t, http.MethodGet, "/v1/downloads/"+id, nil)
		if decodeJob(t, resp).State == want {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("job %s never reached %s", id, want)
}

func decodeJob(t *testing.T, resp apiResponse) entity.Job {
	t.Helper()

	var job entity.Job
	if err := json.Unmarshal(resp.Data, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}

	return job
}

// platform is an in-process resolver client serving a fixed catalogue.
type platform struct {
	media map[string]entity.ResolvedMedia
	pages map[string]entity.CollectionPage
}

func newPlatform(cdnURL string) *platform {
	accessor := cdnAccessor{url: cdnURL}
	track := func(id, title string) entity.ResolvedMedia {
		return entity.ResolvedMedia{
			ID:          id,
			Title:       title,
			Author:      "Band",
			Duration:    10 * time.Second,
			Playability: entity.PlayabilityOK,
			Formats: []entity.StreamFormat{
				{Itag: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Container: "m4a", Kind: entity.StreamAudio, Bitrate: 128000},
			},
			Accessor: accessor,
		}
	}

	return &platform{
		media: map[string]entity.ResolvedMedia{
			"A": track("A", "Alpha"),
			"B": track("B", "Beta"),
			"C": track("C", "Gamma"),
		},
		pages: map[string]entity.CollectionPage{
			"PLmix": {
				ID:        "PLmix",
				Title:     "Road Mix",
				HasHeader: true,
				Items: []entity.CollectionItem{
					{Ref: entity.MediaReference{ID: "A"}, Title: "Alpha", Author: "Band"},
					{Ref: entity.MediaReference{ID: "missing"}, Title: "Ghost", Author: "Band"},
					{Ref: entity.MediaReference{ID: "C"}, Title: "Gamma", Author: "Band"},
				},
			},
		},
	}
}

func (p *platform) Name() string { return "fake" }

func (p *platform) Info(_ context.Context, id string) (entity.ResolvedMedia, error) {
	m, ok := p.media[id]
	if !ok {
		return entity.ResolvedMedia{}, errs.ErrNotFound
	}

	return m, nil
}

func (p *platform) Playlist(_ context.Context, id string) (entity.CollectionPage, error) {
	page, ok := p.pages[id]
	if !ok {
		return entity.CollectionPage{}, errs.ErrNotFound
	}

	return page, nil
}

func (p *platform) Continue(context.Context, string) (entity.CollectionPage, error) {
	return entity.CollectionPage{}, errs.ErrEnumeration
}

// cdnAccessor streams every format from one HTTP endpoint.
type cdnAccessor struct {
	url string
}

func (a cdnAccessor) OpenStream(ctx context.Context, _ entity.ResolvedMedia, _ entity.StreamFormat) (io.ReadCloser, int64, error) { //nolint:lll
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}

	return resp.Body, resp.ContentLength, nil
}
