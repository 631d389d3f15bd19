// Package errs defines common error variables used across the application.
package errs

import (
	"errors"
	"fmt"

	"mediafetch/internal/entity"
)

var (
	// ErrServiceClosed indicates that the service is closed and cannot accept new jobs.
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Valid request errors.
var (
	// ErrInvalidReference indicates that neither an id nor a parsable URL was supplied.
	ErrInvalidReference = errors.New("invalid media reference")
	// ErrInvalidPreset indicates that the preset field in the request is invalid.
	ErrInvalidPreset = errors.New("invalid preset field")
	// ErrInvalidPlatform indicates that the platform hint is unknown.
	ErrInvalidPlatform = errors.New("invalid platform field")
	// ErrInvalidFolder indicates that the folder field points outside the downloads directory.
	ErrInvalidFolder = errors.New("invalid folder field")
)

// Job and storage errors.
var (
	// ErrNoJobs indicates that there are no jobs in storage.
	ErrNoJobs = errors.New("no jobs")
	// ErrJobAlreadyExists indicates that an active job exists for the same reference and preset.
	ErrJobAlreadyExists = errors.New("job already exists")
	// ErrJobNotFound indicates that the job is not found in storage.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNil indicates that the job is nil.
	ErrJobNil = errors.New("job is nil")
	// ErrJobFinished indicates that the job already reached a terminal state.
	ErrJobFinished = errors.New("job already finished")
)

// Resolve errors.
var (
	// ErrNotFound indicates that the remote item does not exist.
	ErrNotFound = errors.New("media not found")
	// ErrRestrictedContent indicates that the item stays login gated even for the bypass identity.
	ErrRestrictedContent = errors.New("restricted content")
	// ErrUnplayable indicates a hard playability block. Wrapped by UnplayableError.
	ErrUnplayable = errors.New("unplayable")
	// ErrLoginRequired is reported by platform clients for login gated items.
	ErrLoginRequired = errors.New("login required")
	// ErrNoClient indicates that no client is registered for a platform.
	ErrNoClient = errors.New("no client for platform")
)

// Pipeline stage errors.
var (
	// ErrNoFormat indicates that no stream of the requested kind exists.
	ErrNoFormat = errors.New("no matching format")
	// ErrStreamNetwork indicates a transport failure while pulling stream bytes.
	ErrStreamNetwork = errors.New("stream network error")
	// ErrStreamTruncated indicates that the stream ended before its announced length.
	ErrStreamTruncated = errors.New("stream truncated")
	// ErrEngineInit indicates that the transcoding engine could not be initialized.
	ErrEngineInit = errors.New("transcode engine init failed")
	// ErrEncode indicates that the transcoding engine failed to produce output.
	ErrEncode = errors.New("encode failed")
	// ErrInvalidImage indicates that cover art could not be decoded.
	ErrInvalidImage = errors.New("invalid image")
	// ErrTagWrite indicates that tags could not be written.
	ErrTagWrite = errors.New("tag write failed")
	// ErrPersist indicates that the output file could not be written.
	ErrPersist = errors.New("persist failed")
)

// Playlist errors.
var (
	// ErrEnumeration indicates that collection items could not be listed.
	ErrEnumeration = errors.New("playlist enumeration failed")
	// ErrFolderConflict indicates that the destination folder already exists.
	ErrFolderConflict = errors.New("playlist folder already exists")
	// ErrPlaylistEmpty indicates that the collection has no items.
	ErrPlaylistEmpty = errors.New("playlist is empty")
)

// Dependency errors.
var (
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that no proxies are available.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)

// UnplayableError carries the platform supplied reason for a hard block.
type UnplayableError struct {
	Status string
	Reason string
}

func (e *UnplayableError) Error() string {
	if e.Status == "" {
		return "unplayable: " + e.Reason
	}

	return fmt.Sprintf("[%s] %s", e.Status, e.Reason)
}

// Unwrap makes errors.Is(err, ErrUnplayable) hold.
func (e *UnplayableError) Unwrap() error { return ErrUnplayable }

// DownloadError is the single error shape surfaced by the download orchestrator.
type DownloadError struct {
	Stage entity.JobState
	Label string
	Err   error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Label, e.Stage, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }
