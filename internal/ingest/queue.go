package ingest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// QueueStats reports the current state of the ingest queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Active    int   `json:"active"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Runner    Runner
	Options   Options
	QueueSize int
	Log       zerolog.Logger
}

// Queue feeds videos to a Runner from a single worker, so videos are
// processed one at a time in arrival order.
type Queue struct {
	jobs   chan string
	runner Runner
	opts   Options
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// queued holds refs that are pending or running, to drop duplicates.
	mu      sync.Mutex
	queued  map[string]struct{}
	stopped bool

	active    atomic.Int32
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

func NewQueue(opts QueueOptions) *Queue {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:   make(chan string, opts.QueueSize),
		runner: opts.Runner,
		opts:   opts.Options,
		log:    opts.Log.With().Str("component", "queue").Logger(),
		ctx:    ctx,
		cancel: cancel,
		queued: make(map[string]struct{}),
	}
}

// Start launches the worker.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
	q.log.Info().Int("queue_size", cap(q.jobs)).Msg("ingest queue started")
}

// Stop cancels the running video, drops whatever is still pending and waits
// for the worker to exit. Later calls are no-ops.
func (q *Queue) Stop() {
	q.cancel()
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
	q.log.Info().
		Int64("succeeded", q.succeeded.Load()).
		Int64("failed", q.failed.Load()).
		Int64("skipped", q.skipped.Load()).
		Msg("ingest queue stopped")
}

// Enqueue adds a video ref. It returns false if the queue is full or the ref
// is already pending or running.
func (q *Queue) Enqueue(ref string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	if _, dup := q.queued[ref]; dup {
		return false
	}
	select {
	case q.jobs <- ref:
		q.queued[ref] = struct{}{}
		return true
	default:
		return false
	}
}

// Pending and Active satisfy metrics.IngestStats.
func (q *Queue) Pending() int { return len(q.jobs) }
func (q *Queue) Active() int  { return int(q.active.Load()) }

// Stats returns current queue statistics.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Pending:   q.Pending(),
		Active:    q.Active(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Skipped:   q.skipped.Load(),
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for ref := range q.jobs {
		if q.ctx.Err() != nil {
			q.release(ref)
			continue
		}
		q.active.Add(1)
		out := q.run(ref)
		q.active.Add(-1)
		q.release(ref)

		switch out.Status {
		case StatusSucceeded:
			q.succeeded.Add(1)
		case StatusSkipped:
			q.skipped.Add(1)
		default:
			q.failed.Add(1)
		}
	}
}

func (q *Queue) run(ref string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("video", ref).Msg("video processing panicked")
			out = Outcome{Video: ref, Status: StatusFailed, Reason: ReasonPanic}
		}
	}()
	return q.runner.RunOne(q.ctx, ref, q.opts)
}

func (q *Queue) release(ref string) {
	q.mu.Lock()
	delete(q.queued, ref)
	q.mu.Unlock()
}
