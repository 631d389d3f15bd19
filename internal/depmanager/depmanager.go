// Package depmanager provisions the ffmpeg and ffprobe binaries used by the
// transcode engine, either from PATH or from a downloaded release archive.
// Checksums are used only to detect when a new build is published, not to verify downloads.
package depmanager

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ulikunitz/xz"

	"mediafetch/internal/config"
	"mediafetch/internal/errs"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryFFmpeg  BinaryName = "ffmpeg"
	BinaryFFprobe BinaryName = "ffprobe"
)

// Platform operating system names and architectures.
const (
	platformLinux   = "linux"
	platformWindows = "windows"
	archARM64       = "arm64"
	archAMD64       = "amd64"
)

const (
	// downloadTimeout is the HTTP client timeout for downloading binaries.
	downloadTimeout = 10 * time.Minute
	// filePermExecutable is the file permission for executable binaries.
	filePermExecutable = 0o755
	// filePermReadWrite is the file permission for regular files.
	filePermReadWrite = 0o644
	// sha256HexLength is the expected length of SHA256 hex string.
	sha256HexLength = 64
	// sha256SumsFieldCount is the expected field count in SHA256SUMS format.
	sha256SumsFieldCount = 2
	// savedSumsFilename is the filename for saved checksums.
	savedSumsFilename = ".sha256sums.json"
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Binaries holds resolved executable paths.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// Manager manages binary dependencies.
type Manager struct {
	log      *slog.Logger
	cfg      config.DepManager
	platform Platform
	client   *http.Client

	mu        sync.RWMutex
	shaSums   map[string]string     // archive name -> sha256 hash (fetched from remote)
	savedSums map[string]string     // archive name -> sha256 hash (saved from previous run)
	binPaths  map[BinaryName]string // binary name -> installed path

	// installMu serializes installs between Ensure and the update checker.
	installMu sync.Mutex
	updating  atomic.Bool
}

// New creates a new dependency manager.
func New(log *slog.Logger, cfg config.DepManager) *Manager {
	return &Manager{
		log: log.With(slog.String("package", "depmanager")),
		cfg: cfg,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		client: &http.Client{
			Timeout: downloadTimeout,
		},
		shaSums:   make(map[string]string),
		savedSums: make(map[string]string),
		binPaths:  make(map[BinaryName]string),
	}
}

// Ensure makes both binaries available and returns their paths.
func (m *Manager) Ensure(ctx context.Context) (Binaries, error) {
	var err error
	if m.cfg.UseSystemBinaries {
		err = m.SetSystemBinaries()
	} else {
		err = m.InstallAll(ctx)
	}

	if err != nil {
		return Binaries{}, err
	}

	bins := Binaries{
		FFmpeg:  m.GetInstalledPath(BinaryFFmpeg),
		FFprobe: m.GetInstalledPath(BinaryFFprobe),
	}

	if bins.FFmpeg == "" {
		return Binaries{}, fmt.Errorf("%w: %s", errs.ErrBinaryNotFound, BinaryFFmpeg)
	}

	return bins, nil
}

// SetSystemBinaries looks the binaries up in PATH. ffprobe is optional.
func (m *Manager) SetSystemBinaries() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ffmpeg, err := exec.LookPath(string(BinaryFFmpeg))
	if err != nil {
		return fmt.Errorf("%w: %s in PATH: %w", errs.ErrBinaryNotFound, BinaryFFmpeg, err)
	}

	m.binPaths[BinaryFFmpeg] = ffmpeg

	if ffprobe, err := exec.LookPath(string(BinaryFFprobe)); err == nil {
		m.binPaths[BinaryFFprobe] = ffprobe
	}

	return nil
}

// InstallAll downloads the release archive unless both binaries are already
// present in the bins directory.
func (m *Manager) InstallAll(ctx context.Context) error {
	m.installMu.Lock()
	defer m.installMu.Unlock()

	log := m.log

	err := os.MkdirAll(m.cfg.BinsDir, filePermExecutable)
	if err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	err = m.loadSavedSums()
	if err != nil {
		log.DebugContext(ctx, "no saved checksums found, first run", slog.Any("error", err))
	}

	if m.isBinaryExists(BinaryFFmpeg) && m.isBinaryExists(BinaryFFprobe) {
		m.setBinaryPath(BinaryFFmpeg)
		m.setBinaryPath(BinaryFFprobe)
		log.DebugContext(ctx, "binaries already exist", slog.String("dir", m.cfg.BinsDir))

		return nil
	}

	err = m.downloadAndInstall(ctx, BinaryFFmpeg)
	if err != nil {
		return fmt.Errorf("download and install %s: %w", BinaryFFmpeg, err)
	}

	log.InfoContext(ctx, "binaries are installed", slog.Any("binaries", m.installed()))

	// checksums only feed the update checker
	err = m.FetchSHASums(ctx)
	if err != nil {
		log.WarnContext(ctx, "failed to fetch checksums", slog.Any("error", err))

		return nil
	}

	err = m.saveSums()
	if err != nil {
		log.WarnContext(ctx, "failed to save checksums", slog.Any("error", err))
	}

	return nil
}

// GetBinaryPath returns the path a binary has inside the bins directory.
func (m *Manager) GetBinaryPath(name BinaryName) string {
	filename := string(name)
	if m.platform.OS == platformWindows {
		filename += ".exe"
	}

	return filepath.Join(m.cfg.BinsDir, filename)
}

// GetInstalledPath returns the installed path for a binary, or empty if not installed.
func (m *Manager) GetInstalledPath(name BinaryName) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.binPaths[name]
}

func (m *Manager) installed() map[BinaryName]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.binPaths)
}

// StartUpdateChecker starts a background goroutine that periodically checks for new builds.
func (m *Manager) StartUpdateChecker(ctx context.Context) {
	if m.cfg.UpdateInterval <= 0 || m.cfg.UseSystemBinaries {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.UpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAndUpdate(ctx)
			}
		}
	}()
}

// FetchSHASums fetches and parses SHA256 sums from the configured URLs.
func (m *Manager) FetchSHASums(ctx context.Context) error {
	sumsURLs, err := m.CollectSHASumsURLs()
	if err != nil {
		return fmt.Errorf("collect SHA sums URLs: %w", err)
	}

	for _, sumsURL := range sumsURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sumsURL, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch SHA sums: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()

			return fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}

		if err := m.ParseSHASums(string(body)); err != nil {
			return err
		}
	}

	return nil
}

// CollectSHASumsURLs splits the comma separated checksum URL setting.
func (m *Manager) CollectSHASumsURLs() ([]string, error) {
	var sumsURLs []string

	for part := range strings.SplitSeq(m.cfg.FFmpegSHA256SumsURL, ",") {
		if part = strings.TrimSpace(part); part != "" {
			sumsURLs = append(sumsURLs, part)
		}
	}

	if len(sumsURLs) == 0 {
		return nil, errors.New("no SHA256 sums URLs configured")
	}

	return sumsURLs, nil
}

// ParseSHASums parses SHA256 sums from content in the format "hash  filename".
func (m *Manager) ParseSHASums(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for line := range strings.SplitSeq(content, "\n") {
		parts := strings.Fields(line)
		if len(parts) != sha256SumsFieldCount || len(parts[0]) != sha256HexLength {
			continue
		}

		// some publishers prefix binary mode files with '*'
		m.shaSums[strings.TrimPrefix(parts[1], "*")] = parts[0]
	}

	m.log.Debug("parsed SHA256 sums", slog.Int("count", len(m.shaSums)))

	return nil
}

// checkAndUpdate downloads a new archive when its published checksum changed.
func (m *Manager) checkAndUpdate(ctx context.Context) {
	if !m.updating.CompareAndSwap(false, true) {
		return
	}
	defer m.updating.Store(false)

	log := m.log

	err := m.FetchSHASums(ctx)
	if err != nil {
		log.WarnContext(ctx, "update check: failed to fetch checksums", slog.Any("error", err))

		return
	}

	if !m.hasUpdate() {
		log.DebugContext(ctx, "update check: no updates available")

		return
	}

	log.InfoContext(ctx, "update check: new build available", slog.String("archive", m.archiveName()))

	m.installMu.Lock()
	err = m.downloadAndInstall(ctx, BinaryFFmpeg)
	m.installMu.Unlock()

	if err != nil {
		log.ErrorContext(ctx, "update check: failed to update binaries", slog.Any("error", err))

		return
	}

	if err := m.saveSums(); err != nil {
		log.WarnContext(ctx, "update check: failed to save checksums", slog.Any("error", err))
	}

	log.InfoContext(ctx, "update check: binaries updated")
}

// hasUpdate compares the fetched checksum of the archive with the saved one.
func (m *Manager) hasUpdate() bool {
	name := m.archiveName()

	m.mu.RLock()
	defer m.mu.RUnlock()

	newHash, hasNew := m.shaSums[name]
	oldHash, hasOld := m.savedSums[name]

	return hasNew && (!hasOld || newHash != oldHash)
}

// archiveName is the file name of the release archive as listed in the checksums.
func (m *Manager) archiveName() string {
	raw := m.getBinaryURL()
	if raw == "" {
		return ""
	}

	if u, err := url.Parse(raw); err == nil {
		raw = u.Path
	}

	return path.Base(raw)
}

// isBinaryExists checks if a binary file exists and has non-zero size.
func (m *Manager) isBinaryExists(name BinaryName) bool {
	info, err := os.Stat(m.GetBinaryPath(name))

	return err == nil && info.Size() > 0
}

func (m *Manager) setBinaryPath(name BinaryName) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.binPaths[name] = m.GetBinaryPath(name)
}

// downloadAndInstall downloads the archive and installs every binary it carries.
func (m *Manager) downloadAndInstall(ctx context.Context, name BinaryName) error {
	log := m.log.With(slog.String("binary", string(name)))

	binURL := m.getBinaryURL()
	if binURL == "" {
		return fmt.Errorf("%w: %s, set MEDIAFETCH_DEPMANAGER_USE_SYSTEM_BINARIES", errs.ErrUnsupportedPlatform, m.platform)
	}

	log.InfoContext(ctx, "downloading binary", slog.String("url", binURL))

	installed, err := m.downloadDependency(ctx, binURL, name)
	if err != nil {
		return fmt.Errorf("download dependency: %w", err)
	}

	err = m.makeExecutable(installed)
	if err != nil {
		return fmt.Errorf("make executable: %w", err)
	}

	for binary := range installed {
		m.setBinaryPath(binary)
	}

	log.InfoContext(ctx, "binary installed successfully", slog.Int("files", len(installed)))

	return nil
}

// makeExecutable sets the executable permission on installed files.
func (m *Manager) makeExecutable(installed map[BinaryName]string) error {
	for _, p := range installed {
		err := os.Chmod(p, filePermExecutable)
		if err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}

	return nil
}

// loadSavedSums loads saved checksums from file.
func (m *Manager) loadSavedSums() error {
	data, err := os.ReadFile(filepath.Join(m.cfg.BinsDir, savedSumsFilename))
	if err != nil {
		return fmt.Errorf("read checksums file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := json.Unmarshal(data, &m.savedSums); err != nil {
		return fmt.Errorf("unmarshal checksums: %w", err)
	}

	return nil
}

// saveSums saves current checksums to file for future comparison.
func (m *Manager) saveSums() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.shaSums, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.cfg.BinsDir, savedSumsFilename), data, filePermReadWrite); err != nil {
		return fmt.Errorf("write checksums file: %w", err)
	}

	m.mu.Lock()
	m.savedSums = maps.Clone(m.shaSums)
	m.mu.Unlock()

	return nil
}

// getBinaryURL returns the archive URL for the current platform, or "" when
// no build is published for it.
func (m *Manager) getBinaryURL() string {
	switch m.platform.String() {
	case platformLinux + "/" + archARM64:
		return m.cfg.FFmpegLinuxARM64
	case platformLinux + "/" + archAMD64:
		return m.cfg.FFmpegLinuxAMD64
	default:
		return ""
	}
}

// downloadDependency downloads url into the bins directory and returns the
// installed binaries.
func (m *Manager) downloadDependency(ctx context.Context, rawURL string, name BinaryName) (map[BinaryName]string, error) {
	binPath := m.GetBinaryPath(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	destDir := filepath.Dir(binPath)

	tmpFile, err := os.CreateTemp(destDir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmpFile.Name()

	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	archive := archiveKind(rawURL)
	if archive == "" {
		if err := os.Rename(tmpPath, binPath); err != nil {
			return nil, fmt.Errorf("rename: %w", err)
		}

		return map[BinaryName]string{name: binPath}, nil
	}

	targets := map[string]BinaryName{
		filepath.Base(m.GetBinaryPath(BinaryFFmpeg)):  BinaryFFmpeg,
		filepath.Base(m.GetBinaryPath(BinaryFFprobe)): BinaryFFprobe,
	}

	installed, err := m.extractFiles(tmpPath, destDir, archive, targets)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	if _, ok := installed[BinaryFFmpeg]; !ok {
		return nil, fmt.Errorf("%w: %s missing from archive", errs.ErrBinaryNotFound, BinaryFFmpeg)
	}

	return installed, nil
}

func archiveKind(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		rawURL = u.Path
	}

	for _, kind := range []string{".zip", ".tar.xz", ".tar.gz"} {
		if strings.HasSuffix(rawURL, kind) {
			return kind
		}
	}

	return ""
}

func (m *Manager) extractFiles(archivePath, destDir, kind string, targets map[string]BinaryName) (map[BinaryName]string, error) {
	switch kind {
	case ".zip":
		return m.extractFromZip(archivePath, destDir, targets)
	case ".tar.xz":
		return m.extractFromTarXZ(archivePath, destDir, targets)
	case ".tar.gz":
		return m.extractFromTarGZ(archivePath, destDir, targets)
	default:
		return nil, fmt.Errorf("unsupported archive format %q", kind)
	}
}

func (m *Manager) extractFromZip(zipPath, destDir string, targets map[string]BinaryName) (map[BinaryName]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	installed := make(map[BinaryName]string, len(targets))

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		filename := file.FileInfo().Name()

		binary, ok := targets[filename]
		if !ok {
			continue
		}

		fileReader, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open file in zip: %w", err)
		}

		destPath := filepath.Join(destDir, filename)

		err = writeExecutable(destPath, fileReader)
		fileReader.Close()

		if err != nil {
			return nil, err
		}

		installed[binary] = destPath

		if len(installed) == len(targets) {
			break
		}
	}

	return installed, nil
}

func (m *Manager) extractFromTarXZ(tarXZPath, destDir string, targets map[string]BinaryName) (map[BinaryName]string, error) {
	file, err := os.Open(tarXZPath)
	if err != nil {
		return nil, fmt.Errorf("open tar.xz: %w", err)
	}
	defer file.Close()

	xzReader, err := xz.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create xz reader: %w", err)
	}

	return m.extractTarSelected(xzReader, destDir, targets)
}

func (m *Manager) extractFromTarGZ(tarGZPath, destDir string, targets map[string]BinaryName) (map[BinaryName]string, error) {
	file, err := os.Open(tarGZPath)
	if err != nil {
		return nil, fmt.Errorf("open tar.gz: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzReader.Close()

	return m.extractTarSelected(gzReader, destDir, targets)
}

func (m *Manager) extractTarSelected(reader io.Reader, destDir string, targets map[string]BinaryName) (map[BinaryName]string, error) {
	tarReader := tar.NewReader(reader)
	installed := make(map[BinaryName]string, len(targets))

	for len(installed) < len(targets) {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		filename := filepath.Base(header.Name)

		binary, ok := targets[filename]
		if !ok {
			continue
		}

		destPath := filepath.Join(destDir, filename)
		if err := writeExecutable(destPath, tarReader); err != nil {
			return nil, err
		}

		installed[binary] = destPath
	}

	return installed, nil
}

func writeExecutable(destPath string, src io.Reader) error {
	outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
	if err != nil {
		return fmt.Errorf("create dest file: %w", err)
	}

	_, err = io.Copy(outFile, src)
	if closeErr := outFile.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("extract file: %w", err)
	}

	return nil
}
