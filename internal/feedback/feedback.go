// Package feedback carries progress and status events from the pipeline to the host.
package feedback

import (
	"context"
	"log/slog"
	"sync"

	"mediafetch/pkg/calc"
)

// Sentinel progress values understood by hosts.
const (
	// ProgressClear removes any progress indicator.
	ProgressClear = -1.0
	// ProgressIndeterminate shows a busy indicator before a real ratio is known.
	ProgressIndeterminate = 2.0
)

// Event is one feedback record.
type Event struct {
	JobID     string  `json:"jobId,omitempty"`
	Message   string  `json:"message"`
	Progress  float64 `json:"progress"`
	Remaining int     `json:"remaining,omitempty"` // items left in a batch
}

// IsSentinel reports whether Progress is one of the out of range markers.
func (e Event) IsSentinel() bool {
	return e.Progress < 0 || e.Progress > 1
}

// Sink receives events. Implementations must not block the pipeline for long.
type Sink interface {
	Report(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

// Report calls f.
func (f SinkFunc) Report(ctx context.Context, ev Event) { f(ctx, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

type multi []Sink

func (m multi) Report(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Report(ctx, ev)
	}
}

// Multi fans an event out to every non nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))

	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}

	return out
}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}

	return s
}

// WithJob stamps every event with jobID.
func WithJob(s Sink, jobID string) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) {
		ev.JobID = jobID
		s.Report(ctx, ev)
	})
}

// Monotonic forwards events whose progress never decreases and stays in [0,1].
// Sentinels pass through; ProgressClear also resets the floor.
type Monotonic struct {
	next Sink

	mu   sync.Mutex
	last float64
}

// NewMonotonic wraps next.
func NewMonotonic(next Sink) *Monotonic {
	return &Monotonic{next: OrDiscard(next)}
}

// Report forwards ev with its progress raised to the highest value seen.
// Sentinels pass through; ProgressClear resets the floor.
func (m *Monotonic) Report(ctx context.Context, ev Event) {
	m.mu.Lock()

	switch {
	case ev.Progress == ProgressClear:
		m.last = 0
	case ev.IsSentinel():
	default:
		ev.Progress = max(m.last, calc.Clamp01(ev.Progress))
		m.last = ev.Progress
	}

	m.mu.Unlock()

	m.next.Report(ctx, ev)
}

// ChanSink writes events into a buffered channel the host drains.
// Events are dropped when the buffer is full.
type ChanSink struct {
	ch chan Event
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(size int) *ChanSink {
	return &ChanSink{ch: make(chan Event, size)}
}

// Events returns the receive side.
func (c *ChanSink) Events() <-chan Event { return c.ch }

// Report enqueues ev or drops it when the buffer is full.
func (c *ChanSink) Report(_ context.Context, ev Event) {
	select {
	case c.ch <- ev:
	default:
	}
}

// LogSink writes events to a logger at debug level.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a log backed sink.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log.With(slog.String("package", "feedback"))}
}

// Report logs ev at debug level.
func (l *LogSink) Report(ctx context.Context, ev Event) {
	l.log.DebugContext(ctx, "feedback",
		slog.String("job_id", ev.JobID),
		slog.String("message", ev.Message),
		slog.Float64("progress", ev.Progress),
		slog.Int("remaining", ev.Remaining))
}
