package activity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrQueueRunning is returned by Start when the queue is already running.
var ErrQueueRunning = errors.New("activity queue is already running")

// QueueConfig holds activity queue configuration.
type QueueConfig struct {
	Size    int
	Workers int
	Timeout time.Duration
}

// DefaultQueueConfig returns the default queue configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Size:    1024,
		Workers: 2,
		Timeout: 5 * time.Second,
	}
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Recorded uint64 `json:"recorded"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
	Pending  int    `json:"pending"`
}

// Queue is a bounded buffer of events drained by a fixed set of workers.
// Enqueue never blocks; when the buffer is full the event is dropped and
// logged.
type Queue struct {
	sink   Sink
	config QueueConfig
	events chan Event

	mu      sync.RWMutex
	running bool
	closed  bool
	group   errgroup.Group

	recorded atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// NewQueue creates a queue that writes to sink.
func NewQueue(sink Sink, cfg QueueConfig) *Queue {
	def := DefaultQueueConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Queue{
		sink:   sink,
		config: cfg,
		events: make(chan Event, cfg.Size),
	}
}

// Start launches the workers.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running || q.closed {
		return ErrQueueRunning
	}
	q.running = true

	for i := 0; i < q.config.Workers; i++ {
		worker := i + 1
		q.group.Go(func() error {
			q.work(worker)
			return nil
		})
	}
	slog.Info("activity queue started", "workers", q.config.Workers, "size", q.config.Size)
	return nil
}

// Enqueue offers an event to the queue and reports whether it was accepted.
func (q *Queue) Enqueue(e Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		slog.Warn("activity queue closed, dropping event", "user", e.UserID, "action", e.Action)
		return false
	}

	select {
	case q.events <- e:
		return true
	default:
		q.dropped.Add(1)
		slog.Warn("activity queue full, dropping event", "user", e.UserID, "action", e.Action,
			"resource", e.ResourceType+":"+e.ResourceID)
		return false
	}
}

// Stop stops accepting events, lets the workers drain what is buffered, and
// waits for them until ctx is done.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = q.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("activity queue stopped", "recorded", q.recorded.Load(), "failed", q.failed.Load())
		return nil
	case <-ctx.Done():
		slog.Warn("timeout waiting for activity workers to stop", "pending", len(q.events))
		return ctx.Err()
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Recorded: q.recorded.Load(),
		Failed:   q.failed.Load(),
		Dropped:  q.dropped.Load(),
		Pending:  len(q.events),
	}
}

func (q *Queue) work(worker int) {
	for e := range q.events {
		q.record(worker, e)
	}
}

func (q *Queue) record(worker int, e Event) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			slog.Error("activity sink panicked", "worker", worker, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.config.Timeout)
	defer cancel()

	if err := q.sink.Record(ctx, e); err != nil {
		q.failed.Add(1)
		slog.Error("failed to record activity", "worker", worker, "user", e.UserID, "action", e.Action,
			"resource", e.ResourceType+":"+e.ResourceID, "error", err)
		return
	}
	q.recorded.Add(1)
}
