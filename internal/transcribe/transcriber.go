// Package transcribe turns an audio object into word-timed transcription groups.
//
// Recognizers are asynchronous: a request yields an operation that is polled
// until it finishes. Each finished file arrives as a Delivery, either inline or
// as a pointer to result files in the blob store. Transcriber resolves both
// shapes so callers only ever see []segments.Group.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/poll"
	"github.com/snarg/vidsearch/internal/segments"
	"github.com/snarg/vidsearch/internal/storage"
)

// ErrTranscriptionFailed is wrapped by every recognizer-side failure.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Delivery is one file result of a finished recognition: Inline, External or Failed.
type Delivery interface {
	delivery()
}

// Inline carries the groups in the operation response itself.
type Inline struct {
	Groups []segments.Group
}

// External points at result files in the blob store. Location is either a
// single .json object or a directory prefix holding many.
type External struct {
	Location paths.Ref
}

// Failed reports a per-file error inside an otherwise finished operation.
type Failed struct {
	Source  string
	Message string
}

func (Inline) delivery()   {}
func (External) delivery() {}
func (Failed) delivery()   {}

// Request is one batch recognition job over a single audio object.
type Request struct {
	Audio           paths.Ref
	Recognizer      string
	Language        string
	Model           string
	SampleRateHertz int
	Channels        int

	// Output directs results to the blob store. Nil asks for inline results.
	Output *paths.Ref
}

// Operation is a pending recognition. Deliveries is valid once Poll reports Done.
type Operation interface {
	poll.Operation
	Deliveries() ([]Delivery, error)
}

// Recognizer submits batch recognition jobs.
type Recognizer interface {
	BatchRecognize(ctx context.Context, req Request) (Operation, error)
}

// Options configures a Transcriber.
type Options struct {
	Recognizer      string
	Language        string
	Model           string
	SampleRateHertz int // default 16000
	Channels        int // default 1

	// Inline asks the recognizer to return results in the response instead of
	// writing them under the scratch location.
	Inline bool

	Poll poll.Options
}

// Transcriber submits audio, waits for the operation and normalizes the results.
type Transcriber struct {
	recognizer Recognizer
	store      storage.BlobStore
	opts       Options
	log        zerolog.Logger
}

// New creates a Transcriber. store is used to read externalized results.
func New(recognizer Recognizer, store storage.BlobStore, opts Options, log zerolog.Logger) *Transcriber {
	if opts.SampleRateHertz <= 0 {
		opts.SampleRateHertz = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	log = log.With().Str("component", "transcribe").Logger()
	opts.Poll.Log = log
	return &Transcriber{recognizer: recognizer, store: store, opts: opts, log: log}
}

// Transcribe recognizes audio and returns its groups in delivery order.
// scratch is where externalized results are written when Inline is off.
//
// Operation faults wrap ErrTranscriptionFailed. Running past the poll timeout
// returns a *poll.TimeoutError instead. Any recognizer work still bound to the
// submit context is cancelled before Transcribe returns.
func (t *Transcriber) Transcribe(ctx context.Context, audio, scratch paths.Ref) ([]segments.Group, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := Request{
		Audio:           audio,
		Recognizer:      t.opts.Recognizer,
		Language:        t.opts.Language,
		Model:           t.opts.Model,
		SampleRateHertz: t.opts.SampleRateHertz,
		Channels:        t.opts.Channels,
	}
	if !t.opts.Inline {
		req.Output = &scratch
	}

	op, err := t.recognizer.BatchRecognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: submit %s: %w", ErrTranscriptionFailed, audio, err)
	}
	t.log.Info().Str("audio", audio.String()).Str("operation", op.Name()).Msg("transcription submitted")

	if err := poll.Wait(ctx, op, t.opts.Poll); err != nil {
		var te *poll.TimeoutError
		if errors.As(err, &te) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}

	deliveries, err := op.Deliveries()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	return t.resolve(ctx, deliveries)
}

// resolve flattens deliveries into groups. Failed deliveries are logged and
// skipped; if nothing but failures came back the transcription fails.
func (t *Transcriber) resolve(ctx context.Context, deliveries []Delivery) ([]segments.Group, error) {
	var (
		groups   []segments.Group
		failures []string
	)
	for _, d := range deliveries {
		switch d := d.(type) {
		case Inline:
			groups = append(groups, d.Groups...)
		case External:
			g, err := t.readExternal(ctx, d.Location)
			if err != nil {
				return nil, fmt.Errorf("%w: read results at %s: %w", ErrTranscriptionFailed, d.Location, err)
			}
			groups = append(groups, g...)
		case Failed:
			t.log.Error().Str("file", d.Source).Str("error", d.Message).Msg("recognizer reported file error")
			failures = append(failures, d.Source+": "+d.Message)
		}
	}
	if len(failures) > 0 && len(failures) == len(deliveries) {
		return nil, fmt.Errorf("%w: %s", ErrTranscriptionFailed, strings.Join(failures, "; "))
	}
	return groups, nil
}

// readExternal reads one results object, or every non-empty .json object
// under a directory prefix. Unreadable objects are skipped with a warning.
func (t *Transcriber) readExternal(ctx context.Context, loc paths.Ref) ([]segments.Group, error) {
	t.log.Debug().Str("location", loc.String()).Msg("reading externalized results")

	if strings.HasSuffix(loc.Key, paths.TranscriptExt) {
		g, err := t.readResultsObject(ctx, loc)
		if err != nil {
			t.log.Warn().Err(err).Str("object", loc.String()).Msg("skipping unreadable results file")
			return nil, nil
		}
		return g, nil
	}

	prefix := loc
	if prefix.Key != "" && !strings.HasSuffix(prefix.Key, "/") {
		prefix.Key += "/"
	}
	objs, err := t.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Ref.Key < objs[j].Ref.Key })

	var groups []segments.Group
	for _, obj := range objs {
		if !strings.HasSuffix(obj.Ref.Key, paths.TranscriptExt) || obj.Size == 0 {
			continue
		}
		g, err := t.readResultsObject(ctx, obj.Ref)
		if err != nil {
			t.log.Warn().Err(err).Str("object", obj.Ref.String()).Msg("skipping unreadable results file")
			continue
		}
		groups = append(groups, g...)
	}
	return groups, nil
}

func (t *Transcriber) readResultsObject(ctx context.Context, ref paths.Ref) ([]segments.Group, error) {
	data, err := storage.ReadAll(ctx, t.store, ref)
	if err != nil {
		return nil, err
	}
	return ParseResults(data)
}
