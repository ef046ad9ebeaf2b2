package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedRunner blocks each run until release is closed and records concurrency.
type gatedRunner struct {
	release chan struct{}

	mu        sync.Mutex
	order     []string
	running   int
	maxActive int
}

func (r *gatedRunner) RunOne(ctx context.Context, ref string, opts Options) Outcome {
	r.mu.Lock()
	r.running++
	if r.running > r.maxActive {
		r.maxActive = r.running
	}
	r.order = append(r.order, ref)
	r.mu.Unlock()

	<-r.release

	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	if ref == "gs://b/raw/bad.mp4" {
		return Outcome{Video: ref, Status: StatusFailed}
	}
	return Outcome{Video: ref, Status: StatusSucceeded}
}

func TestQueueProcessesSequentially(t *testing.T) {
	runner := &gatedRunner{release: make(chan struct{})}
	q := NewQueue(QueueOptions{Runner: runner, QueueSize: 10, Log: zerolog.Nop()})
	q.Start()

	refs := []string{"gs://b/raw/1.mp4", "gs://b/raw/bad.mp4", "gs://b/raw/3.mp4"}
	for _, r := range refs {
		require.True(t, q.Enqueue(r))
	}
	assert.False(t, q.Enqueue("gs://b/raw/3.mp4"), "duplicate pending ref must be rejected")

	close(runner.release)
	require.Eventually(t, func() bool {
		s := q.Stats()
		return s.Succeeded+s.Failed == 3
	}, 2*time.Second, 10*time.Millisecond)
	q.Stop()

	s := q.Stats()
	assert.Equal(t, int64(2), s.Succeeded)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, refs, runner.order)
	assert.Equal(t, 1, runner.maxActive)

	// A stopped queue accepts nothing.
	assert.False(t, q.Enqueue("gs://b/raw/1.mp4"))
}

func TestQueueFull(t *testing.T) {
	runner := &gatedRunner{release: make(chan struct{})}
	q := NewQueue(QueueOptions{Runner: runner, QueueSize: 1, Log: zerolog.Nop()})
	// Not started, so nothing drains.
	require.True(t, q.Enqueue("gs://b/raw/1.mp4"))
	assert.False(t, q.Enqueue("gs://b/raw/2.mp4"))
	assert.Equal(t, 1, q.Pending())
}

func TestQueueStopTwice(t *testing.T) {
	runner := &gatedRunner{release: make(chan struct{})}
	close(runner.release)
	q := NewQueue(QueueOptions{Runner: runner, QueueSize: 1, Log: zerolog.Nop()})
	q.Start()
	q.Stop()
	assert.NotPanics(t, q.Stop)
}
