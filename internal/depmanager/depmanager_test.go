//nolint:testpackage // using internal package access to cover private helpers
package depmanager

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/ulikunitz/xz"

	"mediafetch/internal/config"
	"mediafetch/internal/errs"
)

const testArchive = "ffmpeg-master-latest-linux64-gpl.tar.xz"

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestManager(cfg config.DepManager) *Manager {
	mgr := New(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	mgr.platform = Platform{OS: platformLinux, Arch: archAMD64}

	return mgr
}

// tarXZ builds a release-like archive with the given files under a top level directory.
func tarXZ(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	xzw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}

	tw := tar.NewWriter(xzw)

	for name, content := range files {
		hdr := &tar.Header{
			Name:     "ffmpeg-master-latest-linux64-gpl/bin/" + name,
			Mode:     0o755,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}

		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}

		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}

	if err := xzw.Close(); err != nil {
		t.Fatalf("close xz: %v", err)
	}

	return buf.Bytes()
}

func TestParseSHASums(t *testing.T) {
	t.Parallel()

	hashA := strings.Repeat("a", sha256HexLength)
	hashB := strings.Repeat("b", sha256HexLength)

	tests := []struct {
		name     string
		content  string
		wantHash map[string]string
	}{
		{
			name:    "valid sums",
			content: hashA + "  " + testArchive + "\n" + hashB + "  ffmpeg-master-latest-win64-gpl.zip",
			wantHash: map[string]string{
				testArchive:                          hashA,
				"ffmpeg-master-latest-win64-gpl.zip": hashB,
			},
		},
		{
			name:     "binary mode marker",
			content:  hashA + " *" + testArchive,
			wantHash: map[string]string{testArchive: hashA},
		},
		{
			name:     "empty content",
			wantHash: map[string]string{},
		},
		{
			name:     "invalid lines skipped",
			content:  "not a valid line\nshort  filename\n" + hashA + "  " + testArchive,
			wantHash: map[string]string{testArchive: hashA},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(config.DepManager{})

			if err := mgr.ParseSHASums(tc.content); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(mgr.shaSums) != len(tc.wantHash) {
				t.Errorf("got %d sums, want %d", len(mgr.shaSums), len(tc.wantHash))
			}

			for filename, wantHash := range tc.wantHash {
				if got := mgr.shaSums[filename]; got != wantHash {
					t.Errorf("hash for %s: got %s, want %s", filename, got, wantHash)
				}
			}
		})
	}
}

func TestGetBinaryPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		binary   BinaryName
		os       string
		wantPath string
	}{
		{name: "ffmpeg on linux", binary: BinaryFFmpeg, os: platformLinux, wantPath: filepath.Join("/app/bins", "ffmpeg")},
		{name: "ffprobe on linux", binary: BinaryFFprobe, os: platformLinux, wantPath: filepath.Join("/app/bins", "ffprobe")},
		{name: "ffmpeg on windows", binary: BinaryFFmpeg, os: platformWindows, wantPath: filepath.Join("/app/bins", "ffmpeg.exe")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(config.DepManager{BinsDir: "/app/bins"})
			mgr.platform.OS = tc.os

			if got := mgr.GetBinaryPath(tc.binary); got != tc.wantPath {
				t.Errorf("got %s, want %s", got, tc.wantPath)
			}
		})
	}
}

func TestGetBinaryURL(t *testing.T) {
	t.Parallel()

	cfg := config.DepManager{FFmpegLinuxARM64: "https://x/arm.tar.xz", FFmpegLinuxAMD64: "https://x/" + testArchive}

	tests := []struct {
		platform    Platform
		wantURL     string
		wantArchive string
	}{
		{Platform{platformLinux, archARM64}, "https://x/arm.tar.xz", "arm.tar.xz"},
		{Platform{platformLinux, archAMD64}, "https://x/" + testArchive, testArchive},
		{Platform{"darwin", archARM64}, "", ""},
		{Platform{platformWindows, archAMD64}, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.platform.String(), func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(cfg)
			mgr.platform = tc.platform

			if got := mgr.getBinaryURL(); got != tc.wantURL {
				t.Errorf("getBinaryURL() = %q, want %q", got, tc.wantURL)
			}

			if got := mgr.archiveName(); got != tc.wantArchive {
				t.Errorf("archiveName() = %q, want %q", got, tc.wantArchive)
			}
		})
	}
}

func TestFetchSHASums(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "%s  %s\n", strings.Repeat("a", sha256HexLength), testArchive)
	}))
	defer server.Close()

	mgr := newTestManager(config.DepManager{FFmpegSHA256SumsURL: server.URL})

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	if err := mgr.FetchSHASums(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mgr.shaSums) != 1 {
		t.Errorf("got %d sums, want 1", len(mgr.shaSums))
	}
}

func TestFetchSHASums_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	mgr := newTestManager(config.DepManager{FFmpegSHA256SumsURL: server.URL})

	if err := mgr.FetchSHASums(t.Context()); err == nil {
		t.Error("expected error for server error response")
	}
}

func TestCollectSHASumsURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{name: "single URL", raw: "https://example.com/sha256sums", wantLen: 1},
		{name: "comma separated", raw: "https://example.com/sum1, https://example.com/sum2", wantLen: 2},
		{name: "blank entries", raw: " , ", wantErr: true},
		{name: "no URLs configured", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(config.DepManager{FFmpegSHA256SumsURL: tc.raw})

			urls, err := mgr.CollectSHASumsURLs()
			if (err != nil) != tc.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tc.wantErr)
			}

			if len(urls) != tc.wantLen {
				t.Errorf("got %d URLs, want %d", len(urls), tc.wantLen)
			}
		})
	}
}

func TestDownloadDependency_Plain(t *testing.T) {
	t.Parallel()

	const content = "binary content here"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(content))
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	mgr := newTestManager(config.DepManager{BinsDir: tmpDir})

	installed, err := mgr.downloadDependency(t.Context(), server.URL+"/ffmpeg", BinaryFFmpeg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(installed[BinaryFFmpeg])
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}

	if string(got) != content {
		t.Errorf("got %q, want %q", string(got), content)
	}

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 1 {
		t.Errorf("expected only the binary in bins dir, got %d entries", len(entries))
	}
}

func TestDownloadDependency_TarXZ(t *testing.T) {
	t.Parallel()

	archive := tarXZ(t, map[string]string{"ffmpeg": "ffmpeg bin", "ffprobe": "ffprobe bin", "ffplay": "ignored"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	mgr := newTestManager(config.DepManager{BinsDir: tmpDir})

	installed, err := mgr.downloadDependency(t.Context(), server.URL+"/"+testArchive, BinaryFFmpeg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for binary, want := range map[BinaryName]string{BinaryFFmpeg: "ffmpeg bin", BinaryFFprobe: "ffprobe bin"} {
		got, err := os.ReadFile(installed[binary])
		if err != nil {
			t.Fatalf("read %s: %v", binary, err)
		}

		if string(got) != want {
			t.Errorf("%s = %q, want %q", binary, got, want)
		}
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "ffplay")); !os.IsNotExist(err) {
		t.Error("untargeted file was extracted")
	}
}

func TestDownloadDependency_ArchiveWithoutFFmpeg(t *testing.T) {
	t.Parallel()

	archive := tarXZ(t, map[string]string{"readme": "nothing here"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	mgr := newTestManager(config.DepManager{BinsDir: t.TempDir()})

	_, err := mgr.downloadDependency(t.Context(), server.URL+"/"+testArchive, BinaryFFmpeg)
	if !errors.Is(err, errs.ErrBinaryNotFound) {
		t.Fatalf("error = %v, want %v", err, errs.ErrBinaryNotFound)
	}
}

func TestEnsure_ExistingBinaries(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()

	for _, name := range []string{"ffmpeg", "ffprobe"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte("bin"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	mgr := newTestManager(config.DepManager{BinsDir: tmpDir})
	mgr.client = &http.Client{Transport: rtFunc(func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request to %s", r.URL)

		return nil, errors.New("offline")
	})}

	bins, err := mgr.Ensure(t.Context())
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	if bins.FFmpeg != filepath.Join(tmpDir, "ffmpeg") || bins.FFprobe != filepath.Join(tmpDir, "ffprobe") {
		t.Errorf("Ensure() = %+v", bins)
	}
}

func TestEnsure_UnsupportedPlatform(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(config.DepManager{BinsDir: t.TempDir()})
	mgr.platform = Platform{OS: "plan9", Arch: "386"}

	_, err := mgr.Ensure(t.Context())
	if !errors.Is(err, errs.ErrUnsupportedPlatform) {
		t.Fatalf("error = %v, want %v", err, errs.ErrUnsupportedPlatform)
	}
}

func TestHasUpdate(t *testing.T) {
	t.Parallel()

	oldHash := strings.Repeat("a", sha256HexLength)
	newHash := strings.Repeat("b", sha256HexLength)

	tests := []struct {
		name  string
		saved map[string]string
		fresh map[string]string
		want  bool
	}{
		{name: "changed", saved: map[string]string{testArchive: oldHash}, fresh: map[string]string{testArchive: newHash}, want: true},
		{name: "first run", saved: map[string]string{}, fresh: map[string]string{testArchive: newHash}, want: true},
		{name: "unchanged", saved: map[string]string{testArchive: oldHash}, fresh: map[string]string{testArchive: oldHash}},
		{name: "other archive", saved: map[string]string{}, fresh: map[string]string{"other.zip": newHash}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(config.DepManager{FFmpegLinuxAMD64: "https://x/" + testArchive})
			mgr.savedSums = tc.saved
			mgr.shaSums = tc.fresh

			if got := mgr.hasUpdate(); got != tc.want {
				t.Errorf("hasUpdate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSaveAndLoadSums(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	cfg := config.DepManager{BinsDir: tmpDir}

	mgr := newTestManager(cfg)
	mgr.shaSums = map[string]string{
		"file1": strings.Repeat("1", sha256HexLength),
		"file2": strings.Repeat("2", sha256HexLength),
	}

	if err := mgr.saveSums(); err != nil {
		t.Fatalf("failed to save sums: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, savedSumsFilename)); err != nil {
		t.Fatalf("checksums file was not created: %v", err)
	}

	mgr2 := newTestManager(cfg)
	if err := mgr2.loadSavedSums(); err != nil {
		t.Fatalf("failed to load sums: %v", err)
	}

	if len(mgr2.savedSums) != 2 || mgr2.savedSums["file1"] != mgr.shaSums["file1"] {
		t.Errorf("loaded sums mismatch: %v", mgr2.savedSums)
	}
}

func TestCheckAndUpdate_DownloadsNewBuild(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tmpDir := t.TempDir()

		newHash := strings.Repeat("a", sha256HexLength)
		oldHash := strings.Repeat("b", sha256HexLength)
		archive := tarXZ(t, map[string]string{"ffmpeg": "updated ffmpeg", "ffprobe": "updated ffprobe"})

		mgr := newTestManager(config.DepManager{
			BinsDir:             tmpDir,
			FFmpegSHA256SumsURL: "http://builds/checksums.sha256",
			FFmpegLinuxAMD64:    "http://builds/" + testArchive,
		})
		mgr.savedSums = map[string]string{testArchive: oldHash}
		mgr.client = &http.Client{Transport: archiveServer(newHash, archive)}

		mgr.checkAndUpdate(t.Context())

		data, err := os.ReadFile(filepath.Join(tmpDir, "ffmpeg"))
		if err != nil {
			t.Fatalf("expected ffmpeg to be installed: %v", err)
		}

		if string(data) != "updated ffmpeg" {
			t.Fatalf("ffmpeg content = %q", data)
		}

		if got := mgr.savedSums[testArchive]; got != newHash {
			t.Fatalf("saved checksum = %s, want %s", got, newHash)
		}

		if mgr.GetInstalledPath(BinaryFFprobe) == "" {
			t.Error("ffprobe path not recorded")
		}
	})
}

func TestStartUpdateChecker_UsesTicker(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tmpDir := t.TempDir()

		newHash := strings.Repeat("c", sha256HexLength)
		archive := tarXZ(t, map[string]string{"ffmpeg": "ticker ffmpeg", "ffprobe": "ticker ffprobe"})

		cfg := config.DepManager{
			BinsDir:             tmpDir,
			UpdateInterval:      time.Hour,
			FFmpegSHA256SumsURL: "http://builds/checksums.sha256",
			FFmpegLinuxAMD64:    "http://builds/" + testArchive,
		}

		mgr := newTestManager(cfg)
		mgr.client = &http.Client{Transport: archiveServer(newHash, archive)}

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		mgr.StartUpdateChecker(ctx)

		synctest.Wait()

		if _, err := os.Stat(filepath.Join(tmpDir, "ffmpeg")); !os.IsNotExist(err) {
			t.Fatal("update ran before the first tick")
		}

		time.Sleep(cfg.UpdateInterval)
		synctest.Wait()

		data, err := os.ReadFile(filepath.Join(tmpDir, "ffmpeg"))
		if err != nil {
			t.Fatalf("expected ffmpeg to be installed by ticker: %v", err)
		}

		if string(data) != "ticker ffmpeg" {
			t.Fatalf("ffmpeg content = %q", data)
		}

		cancel()
		synctest.Wait()
	})
}

func archiveServer(hash string, archive []byte) rtFunc {
	return func(r *http.Request) (*http.Response, error) {
		var body []byte

		status := http.StatusOK

		switch r.URL.Path {
		case "/checksums.sha256":
			body = fmt.Appendf(nil, "%s  %s\n", hash, testArchive)
		case "/" + testArchive:
			body = archive
		default:
			status, body = http.StatusNotFound, []byte("nf")
		}

		return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: make(http.Header), Request: r}, nil
	}
}
