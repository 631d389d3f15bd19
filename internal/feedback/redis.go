package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mediafetch/internal/config"
)

const (
	redisWriteTimeout = 2 * time.Second
	redisBuffer       = 256
)

// RedisSink appends events to a Redis stream so out of process hosts can follow progress.
// Writes happen on a background goroutine; events are dropped while its buffer is full.
type RedisSink struct {
	log    *slog.Logger
	client *redis.Client
	stream string
	maxLen int64

	events chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewRedisSink connects lazily to the configured address and starts the writer.
func NewRedisSink(log *slog.Logger, cfg config.Feedback) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	r := &RedisSink{
		log:    log.With(slog.String("package", "feedback")),
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		events: make(chan Event, redisBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go r.run()

	return r
}

// Report queues ev without waiting for Redis.
func (r *RedisSink) Report(_ context.Context, ev Event) {
	select {
	case <-r.stop:
	case r.events <- ev:
	default:
		r.log.Debug("redis sink buffer full; event dropped", slog.String("job_id", ev.JobID))
	}
}

func (r *RedisSink) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		case ev := <-r.events:
			r.write(ev)
		}
	}
}

func (r *RedisSink) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"job":       ev.JobID,
			"message":   ev.Message,
			"progress":  ev.Progress,
			"remaining": ev.Remaining,
		},
	}

	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	err := r.client.XAdd(ctx, args).Err()
	if err != nil {
		r.log.DebugContext(ctx, "redis xadd", slog.String("stream", r.stream), slog.Any("error", err))
	}
}

// Close stops the writer, dropping queued events, and releases the connection pool.
// An in-flight write is bounded by the write timeout.
func (r *RedisSink) Close() error {
	r.once.Do(func() { close(r.stop) })
	<-r.done

	return r.client.Close()
}
