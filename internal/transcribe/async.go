package transcribe

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/poll"
	"github.com/snarg/vidsearch/internal/storage"
)

// ProviderRecognizer runs a synchronous Provider in the background and exposes
// it as a pollable operation. When the request names an output location the
// results are written there and delivered as External, matching what the
// speech API does with a storage output config.
type ProviderRecognizer struct {
	provider Provider
	store    storage.BlobStore
	opts     TranscribeOpts
	maxGap   time.Duration
	log      zerolog.Logger
	seq      atomic.Int64
}

// NewProviderRecognizer wraps provider. store is used to fetch audio and to
// write externalized results.
func NewProviderRecognizer(provider Provider, store storage.BlobStore, opts TranscribeOpts, log zerolog.Logger) *ProviderRecognizer {
	return &ProviderRecognizer{
		provider: provider,
		store:    store,
		opts:     opts,
		maxGap:   DefaultMaxGap,
		log:      log.With().Str("component", "stt-"+provider.Name()).Logger(),
	}
}

// BatchRecognize starts transcription in a goroutine. The job is bound to ctx
// and stops when ctx is cancelled. A panic inside the job faults the operation.
func (r *ProviderRecognizer) BatchRecognize(ctx context.Context, req Request) (Operation, error) {
	op := &asyncOperation{
		name: fmt.Sprintf("%s/operations/%d", r.provider.Name(), r.seq.Add(1)),
		done: make(chan struct{}),
	}
	go func() {
		defer close(op.done)
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Interface("panic", p).Str("audio", req.Audio.String()).Msg("provider transcription panicked")
				op.deliveries, op.err = nil, fmt.Errorf("provider %s panicked: %v", r.provider.Name(), p)
			}
		}()
		op.deliveries, op.err = r.run(ctx, req)
	}()
	return op, nil
}

func (r *ProviderRecognizer) run(ctx context.Context, req Request) ([]Delivery, error) {
	localPath, cleanup, err := r.fetch(ctx, req.Audio)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	opts := r.opts
	if req.Language != "" {
		opts.Language = isoLanguage(req.Language)
	}

	start := time.Now()
	resp, err := r.provider.Transcribe(ctx, localPath, opts)
	if err != nil {
		return nil, err
	}
	// The caller gave up while the provider was busy; leave no results behind.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	groups := GroupWords(resp.Words, resp.Text, r.maxGap)
	r.log.Debug().
		Str("audio", req.Audio.String()).
		Int("words", len(resp.Words)).
		Int("groups", len(groups)).
		Dur("elapsed", time.Since(start)).
		Msg("provider transcription complete")

	if req.Output == nil {
		return []Delivery{Inline{Groups: groups}}, nil
	}

	data, err := EncodeResults(groups)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	dir := *req.Output
	if dir.Key != "" && dir.Key[len(dir.Key)-1] != '/' {
		dir.Key += "/"
	}
	base := path.Base(req.Audio.Key)
	out := dir.Child(dir.Key + strings.TrimSuffix(base, path.Ext(base)) + "_transcript.json")
	if err := r.store.Save(ctx, out, data, "application/json"); err != nil {
		return nil, fmt.Errorf("write results to %s: %w", out, err)
	}
	return []Delivery{External{Location: dir}}, nil
}

// fetch copies the audio object into a temp file for the provider.
func (r *ProviderRecognizer) fetch(ctx context.Context, ref paths.Ref) (string, func(), error) {
	src, err := r.store.Open(ctx, ref)
	if err != nil {
		return "", nil, fmt.Errorf("open audio %s: %w", ref, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "vidsearch-audio-*"+path.Ext(ref.Key))
	if err != nil {
		return "", nil, fmt.Errorf("create temp: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("download audio %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

type asyncOperation struct {
	name string
	done chan struct{}

	// Written before done is closed.
	deliveries []Delivery
	err        error
}

func (o *asyncOperation) Name() string { return o.name }

func (o *asyncOperation) Poll(ctx context.Context) (poll.Status, error) {
	select {
	case <-o.done:
	default:
		return poll.Status{State: poll.Pending}, nil
	}
	if o.err != nil {
		return poll.Status{State: poll.Faulted, Fault: o.err}, nil
	}
	return poll.Status{State: poll.Done}, nil
}

func (o *asyncOperation) Deliveries() ([]Delivery, error) {
	select {
	case <-o.done:
		return o.deliveries, nil
	default:
		return nil, fmt.Errorf("operation %s is still running", o.name)
	}
}
