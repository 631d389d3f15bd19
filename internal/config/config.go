// Package config handles application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvFileVar names the variable that points at an optional dotenv file.
const EnvFileVar = "MEDIAFETCH_ENV_FILE"

const defaultEnvFile = ".env"

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Dir        Dir
	Download   Download
	Resolver   Resolver
	Storage    Storage
	DepManager DepManager
	Proxy      Proxy
	Feedback   Feedback
}

// App holds application-wide configuration.
type App struct {
	LogLevel  string `env:"MEDIAFETCH_APP_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"MEDIAFETCH_APP_LOG_FORMAT" envDefault:"json"` // json or text
}

// Storage holds job record storage configuration.
type Storage struct {
	TTL             time.Duration `env:"MEDIAFETCH_STORAGE_TTL"              envDefault:"168h"`
	CleanupInterval time.Duration `env:"MEDIAFETCH_STORAGE_CLEANUP_INTERVAL" envDefault:"1h"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port            string        `env:"MEDIAFETCH_HTTP_PORT"             envDefault:":8080"`
	HandlerTimeout  time.Duration `env:"MEDIAFETCH_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"MEDIAFETCH_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Dir holds directory paths for downloads and the engine working area.
type Dir struct {
	Downloads string `env:"MEDIAFETCH_DIR_DOWNLOAD" envDefault:"./data/downloads"` // host default folder
	Work      string `env:"MEDIAFETCH_DIR_WORK"     envDefault:"./data/work"`      // engine scratch space
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Downloads, err = filepath.Abs(c.Downloads); err != nil {
		return fmt.Errorf("downloads: %w", err)
	}

	if c.Work, err = filepath.Abs(c.Work); err != nil {
		return fmt.Errorf("work: %w", err)
	}

	return nil
}

// Download holds pipeline policy.
type Download struct {
	SkipExisting bool   `env:"MEDIAFETCH_DOWNLOAD_SKIP_EXISTING" envDefault:"false"`
	Preset       string `env:"MEDIAFETCH_DOWNLOAD_PRESET"        envDefault:"mp3 (256kbps)"`

	// used when the preset is "Custom"
	CustomExtension string   `env:"MEDIAFETCH_DOWNLOAD_CUSTOM_EXTENSION" envDefault:"mp3"`
	CustomArgs      []string `env:"MEDIAFETCH_DOWNLOAD_CUSTOM_ARGS"      envDefault:"-b:a 320k" envSeparator:" "`

	// AudioOnly is the entitlement to audio-only streams.
	AudioOnly bool `env:"MEDIAFETCH_DOWNLOAD_AUDIO_ONLY" envDefault:"true"`

	// StreamWeight is the share of the progress bar given to streaming; the engine gets the rest.
	StreamWeight float64 `env:"MEDIAFETCH_DOWNLOAD_STREAM_WEIGHT" envDefault:"0.15"`

	ProgressInterval  time.Duration `env:"MEDIAFETCH_DOWNLOAD_PROGRESS_INTERVAL"    envDefault:"250ms"`
	MaxFilenameLength int           `env:"MEDIAFETCH_DOWNLOAD_MAX_FILENAME_LENGTH"  envDefault:"255"`
	MaxCoverWidth     int           `env:"MEDIAFETCH_DOWNLOAD_MAX_COVER_WIDTH"      envDefault:"512"`
	Timeout           time.Duration `env:"MEDIAFETCH_DOWNLOAD_TIMEOUT"              envDefault:"30m"`
}

// TranscodeWeight is the share of the progress bar given to the engine.
func (d Download) TranscodeWeight() float64 { return 1 - d.StreamWeight }

// Resolver holds wire client configuration.
type Resolver struct {
	Timeout         time.Duration `env:"MEDIAFETCH_RESOLVER_TIMEOUT"           envDefault:"30s"`
	UserAgent       string        `env:"MEDIAFETCH_RESOLVER_USER_AGENT"        envDefault:""`
	BypassUserAgent string        `env:"MEDIAFETCH_RESOLVER_BYPASS_USER_AGENT" envDefault:"Mozilla/5.0 (PlayStation; PlayStation 4/12.00) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.4 Safari/605.1.15"` //nolint:lll
}

// Feedback holds optional external progress stream configuration.
type Feedback struct {
	RedisAddr     string `env:"MEDIAFETCH_FEEDBACK_REDIS_ADDR"     envDefault:""`
	RedisPassword string `env:"MEDIAFETCH_FEEDBACK_REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"MEDIAFETCH_FEEDBACK_REDIS_DB"       envDefault:"0"`
	Stream        string `env:"MEDIAFETCH_FEEDBACK_STREAM"         envDefault:"mediafetch:events"`
	MaxLen        int64  `env:"MEDIAFETCH_FEEDBACK_MAX_LEN"        envDefault:"10000"`
}

// New loads configuration from an optional dotenv file and environment variables.
func New() (*Config, error) {
	err := loadEnvFile()
	if err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{}

	err = env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	if cfg.Download.StreamWeight < 0 || cfg.Download.StreamWeight > 1 {
		return nil, fmt.Errorf("stream weight %v out of [0,1]", cfg.Download.StreamWeight)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// loadEnvFile applies the dotenv file without overriding variables already set.
func loadEnvFile() error {
	path := os.Getenv(EnvFileVar)
	if path == "" {
		path = defaultEnvFile
	}

	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the directory where binaries are stored
	BinsDir string `env:"MEDIAFETCH_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries looks ffmpeg and ffprobe up in PATH instead of downloading them.
	UseSystemBinaries bool `env:"MEDIAFETCH_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"false"`
	// UpdateInterval is how often to check for binary updates
	UpdateInterval time.Duration `env:"MEDIAFETCH_DEPMANAGER_UPDATE_INTERVAL" envDefault:"24h"`

	// ffmpeg binary URLs per platform.
	FFmpegSHA256SumsURL string `env:"MEDIAFETCH_DEPMANAGER_FFMPEG_SHA256SUMS_URL" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/checksums.sha256"`                        //nolint:lll
	FFmpegLinuxARM64    string `env:"MEDIAFETCH_DEPMANAGER_FFMPEG_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64    string `env:"MEDIAFETCH_DEPMANAGER_FFMPEG_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Proxy holds proxy configuration for wire client requests.
type Proxy struct {
	// List is a comma-separated list of proxy URLs
	List string `env:"MEDIAFETCH_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"MEDIAFETCH_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"MEDIAFETCH_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the maximum number of failures before a proxy is temporarily removed
	MaxFailures int `env:"MEDIAFETCH_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}
