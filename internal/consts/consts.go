// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultHandlerTimeout is the default timeout for HTTP handlers.
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultJobTTL is the default time-to-live for stored job records.
	DefaultJobTTL = 7 * 24 * time.Hour
	// DefaultExtension is the output container when neither preset nor stream names one.
	DefaultExtension = "mp3"
)

// Preset names.
const (
	// PresetMP3 is the default named preset.
	PresetMP3 = "mp3 (256kbps)"
	// PresetCustom takes its extension and engine args from configuration.
	PresetCustom = "Custom"
	// PresetSource keeps the stream as downloaded.
	PresetSource = "Source"
)

// Platform client names, used in logs and metrics.
const (
	ClientPrimary   = "primary"
	ClientAlternate = "alternate"
	ClientBypass    = "bypass"
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespQueryParamMissing is returned when a required path or query parameter is missing or invalid.
	RespQueryParamMissing = "query param missing or invalid"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespJobEnqueued is returned when a download is accepted.
	RespJobEnqueued = "download started"
	// RespJobEnqueueFail is returned when a download cannot be started.
	RespJobEnqueueFail = "download start failed"
	// RespGetJobsFail is returned when listing downloads fails.
	RespGetJobsFail = "get all downloads failed"
	// RespGetJobFail is returned when fetching a specific download fails.
	RespGetJobFail = "get download failed"
	// RespNoJobs is returned when there are no downloads.
	RespNoJobs = "no downloads"
	// RespJobRetrieved is returned when a download is retrieved.
	RespJobRetrieved = "download retrieved"
	// RespJobsRetrieved is returned when downloads are listed.
	RespJobsRetrieved = "downloads retrieved"
	// RespJobNotFound is returned when a download is not found.
	RespJobNotFound = "download not found"
	// RespJobAlreadyExists is returned when the same download is already running.
	RespJobAlreadyExists = "download already running"
	// RespJobCancelled is returned when a running download is cancelled.
	RespJobCancelled = "download cancelled"
	// RespJobCancelFail is returned when a download cannot be cancelled.
	RespJobCancelFail = "download cancel failed"
	// RespPresetsRetrieved is returned when presets are listed.
	RespPresetsRetrieved = "presets retrieved"
	// RespServiceClosed is returned while shutting down.
	RespServiceClosed = "service is shutting down"
	// RespReady is returned by the readiness probe.
	RespReady = "ready"
)
