// Package poll waits on remote long-running operations.
//
// An operation moves from Pending to exactly one of Done or Faulted. Wait
// drives that state machine at a fixed interval; progress logging is kept in a
// separate heartbeat so it never influences the outcome.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type State int

const (
	Pending State = iota
	Done
	Faulted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is one observation of an operation. Fault is set only when State is Faulted.
type Status struct {
	State State
	Fault error
}

// Operation is a handle to remote work. Poll returns an error only when the
// status itself could not be fetched; a failed operation is reported as Faulted.
type Operation interface {
	Name() string
	Poll(ctx context.Context) (Status, error)
}

// ErrTimeout matches any *TimeoutError.
var ErrTimeout = errors.New("operation timed out")

// TimeoutError is returned when an operation is still pending after the deadline.
type TimeoutError struct {
	Operation string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s still pending after %s", e.Operation, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ErrIllegalTransition is returned when an operation leaves a terminal state.
var ErrIllegalTransition = errors.New("illegal operation state transition")

// Tracker enforces Pending -> {Done, Faulted}.
type Tracker struct {
	state State
	fault error
}

// Observe records s. Repeating the current state is allowed.
func (t *Tracker) Observe(s Status) error {
	if s.State == t.state {
		return nil
	}
	if t.state != Pending {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.state, s.State)
	}
	t.state = s.State
	if s.State == Faulted {
		t.fault = s.Fault
		if t.fault == nil {
			t.fault = errors.New("operation faulted without detail")
		}
	}
	return nil
}

func (t *Tracker) State() State { return t.state }
func (t *Tracker) Fault() error { return t.fault }

// Options configures Wait. Zero values fall back to the defaults.
type Options struct {
	Interval  time.Duration // default 10s
	Timeout   time.Duration // default 1h
	Heartbeat time.Duration // default 30s
	Log       zerolog.Logger
	// OnHeartbeat is called alongside the heartbeat log line.
	OnHeartbeat func(name string, elapsed time.Duration)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Hour
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 30 * time.Second
	}
	return o
}

// Wait polls op until it is Done or Faulted. A Faulted operation returns its
// fault; running past opts.Timeout returns a *TimeoutError.
func Wait(ctx context.Context, op Operation, opts Options) error {
	opts = opts.withDefaults()
	start := time.Now()
	deadline := start.Add(opts.Timeout)
	hb := newHeartbeat(op.Name(), opts, start)

	var tracker Tracker
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, err := op.Poll(ctx)
		if err != nil {
			return fmt.Errorf("poll %s: %w", op.Name(), err)
		}
		prev := tracker.State()
		if err := tracker.Observe(status); err != nil {
			return err
		}
		switch tracker.State() {
		case Done:
			opts.Log.Info().Str("operation", op.Name()).Dur("elapsed", time.Since(start)).Msg("operation complete")
			return nil
		case Faulted:
			return tracker.Fault()
		}
		hb.observe(prev != tracker.State(), time.Now())

		if time.Now().After(deadline) {
			return &TimeoutError{Operation: op.Name(), After: opts.Timeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// heartbeat logs progress when no state change has been seen for a while.
type heartbeat struct {
	name       string
	opts       Options
	start      time.Time
	lastUpdate time.Time
}

func newHeartbeat(name string, opts Options, start time.Time) *heartbeat {
	return &heartbeat{name: name, opts: opts, start: start, lastUpdate: start}
}

func (h *heartbeat) observe(changed bool, now time.Time) {
	if changed {
		h.lastUpdate = now
		return
	}
	if now.Sub(h.lastUpdate) < h.opts.Heartbeat {
		return
	}
	elapsed := now.Sub(h.start)
	h.opts.Log.Info().
		Str("operation", h.name).
		Str("elapsed_min", fmt.Sprintf("%.1f", elapsed.Minutes())).
		Msg("still processing")
	if h.opts.OnHeartbeat != nil {
		h.opts.OnHeartbeat(h.name, elapsed)
	}
	h.lastUpdate = now
}
