package entity

import (
	"log/slog"
	"time"
)

// JobState is a download job pipeline state.
type JobState string

const (
	JobStatePending        JobState = "pending"
	JobStateResolving      JobState = "resolving"
	JobStateFormatSelected JobState = "format_selected"
	JobStateStreaming      JobState = "streaming"
	JobStateTranscoding    JobState = "transcoding"
	JobStateTagging        JobState = "tagging"
	JobStatePersisting     JobState = "persisting"
	JobStateCompleted      JobState = "completed"
	JobStateSkipped        JobState = "skipped"
	JobStateFailed         JobState = "failed"
)

// Terminal reports whether no further transitions follow.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateSkipped || s == JobStateFailed
}

// Job is the record the service keeps for one host request.
type Job struct {
	ID           string         `json:"id"`
	Reference    MediaReference `json:"reference"`
	Preset       string         `json:"preset"`
	Folder       string         `json:"folder,omitempty"`
	SkipExisting bool           `json:"skipExisting"`

	State    JobState      `json:"state"`
	Progress float64       `json:"progress"`
	Message  string        `json:"message,omitempty"`
	Files    []string      `json:"files,omitempty"`
	Failures []ItemFailure `json:"failures,omitempty"`
	Error    string        `json:"error,omitempty"`

	EstimatedETA time.Duration `json:"estimatedEta"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	ExpiresAt    time.Time     `json:"expiresAt"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (j Job) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", j.ID),
		slog.Any("reference", j.Reference),
		slog.String("preset", j.Preset),
		slog.String("state", string(j.State)),
		slog.Float64("progress", j.Progress),
		slog.Int("files", len(j.Files)),
		slog.Int("failures", len(j.Failures)),
	)
}
