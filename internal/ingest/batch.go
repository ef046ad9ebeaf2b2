package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/storage"
)

// ErrVideoNotFound is returned by Select when the targeted raw video is absent.
var ErrVideoNotFound = errors.New("video not found")

// ErrBucketPrefix is returned when a batch bucket carries a key. The raw/ and
// processed_json/ layout lives at the bucket root.
var ErrBucketPrefix = errors.New("bucket reference must not include a path")

func checkBucketRoot(bucket paths.Ref) error {
	if strings.Trim(bucket.Key, "/") != "" {
		return fmt.Errorf("%w: %s", ErrBucketPrefix, bucket)
	}
	return nil
}

// Plan returns the raw video refs whose transcript base name is not in
// processed, in raw order. Refs that cannot be derived stay in the plan so
// the failure surfaces when the video is run.
func Plan(raw, processed []string) []string {
	done := make(map[string]struct{}, len(processed))
	for _, p := range processed {
		done[p] = struct{}{}
	}
	todo := make([]string, 0, len(raw))
	for _, ref := range raw {
		d, err := paths.Derive(ref)
		if err != nil {
			todo = append(todo, ref)
			continue
		}
		if _, ok := done[d.TranscriptBase()]; !ok {
			todo = append(todo, ref)
		}
	}
	return todo
}

// Discovery is the state of one bucket.
type Discovery struct {
	Raw       []string // supported video refs under raw/, listing order
	Processed []string // transcript base names under processed_json/
}

// Selection narrows what Select plans.
type Selection struct {
	// Force plans every raw video regardless of existing transcripts.
	Force bool
	// Only targets a single file name under raw/.
	Only string
}

// Report aggregates a batch run.
type Report struct {
	Outcomes    []Outcome
	Succeeded   int
	Failed      int
	Skipped     int
	Interrupted bool
	Elapsed     time.Duration
}

// Total is the number of videos attempted.
func (r Report) Total() int { return len(r.Outcomes) }

// Failures returns the failed outcomes.
func (r Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case StatusSucceeded:
		r.Succeeded++
	case StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Batch discovers unprocessed videos in a bucket and runs them one at a time.
type Batch struct {
	runner Runner
	store  storage.BlobStore
	log    zerolog.Logger
}

func NewBatch(runner Runner, store storage.BlobStore, log zerolog.Logger) *Batch {
	return &Batch{
		runner: runner,
		store:  store,
		log:    log.With().Str("component", "batch").Logger(),
	}
}

// Discover lists the raw videos and processed transcripts of bucket.
func (b *Batch) Discover(ctx context.Context, bucket paths.Ref) (Discovery, error) {
	var disc Discovery
	if err := checkBucketRoot(bucket); err != nil {
		return disc, err
	}

	raw, err := b.store.List(ctx, bucket.Child(paths.RawDir))
	if err != nil {
		return disc, fmt.Errorf("list %s: %w", bucket.Child(paths.RawDir), err)
	}
	for _, obj := range raw {
		if paths.IsSupported(obj.Ref.Key) {
			disc.Raw = append(disc.Raw, obj.Ref.String())
		}
	}

	processed, err := b.store.List(ctx, bucket.Child(paths.TranscriptDir))
	if err != nil {
		return disc, fmt.Errorf("list %s: %w", bucket.Child(paths.TranscriptDir), err)
	}
	for _, obj := range processed {
		if strings.HasSuffix(obj.Ref.Key, paths.TranscriptExt) {
			disc.Processed = append(disc.Processed, strings.TrimSuffix(path.Base(obj.Ref.Key), paths.TranscriptExt))
		}
	}

	b.log.Info().
		Str("bucket", bucket.Bucket).
		Int("raw", len(disc.Raw)).
		Int("processed", len(disc.Processed)).
		Msg("bucket scanned")
	return disc, nil
}

// Select returns the videos to run and the number of raw videos found.
func (b *Batch) Select(ctx context.Context, bucket paths.Ref, sel Selection) ([]string, int, error) {
	if err := checkBucketRoot(bucket); err != nil {
		return nil, 0, err
	}
	if sel.Only != "" {
		ref := bucket.Child(paths.RawDir + sel.Only)
		ok, err := b.store.Exists(ctx, ref)
		if err != nil {
			return nil, 0, fmt.Errorf("check %s: %w", ref, err)
		}
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", ErrVideoNotFound, ref)
		}
		return []string{ref.String()}, 1, nil
	}

	disc, err := b.Discover(ctx, bucket)
	if err != nil {
		return nil, 0, err
	}
	if sel.Force {
		return disc.Raw, len(disc.Raw), nil
	}
	todo := Plan(disc.Raw, disc.Processed)
	for _, ref := range disc.Raw {
		b.log.Debug().Str("video", ref).Bool("planned", contains(todo, ref)).Msg("plan")
	}
	return todo, len(disc.Raw), nil
}

// Listing returns every object in bucket, for debugging.
func (b *Batch) Listing(ctx context.Context, bucket paths.Ref) ([]storage.Object, error) {
	return b.store.List(ctx, bucket.Child(""))
}

// Run processes plan sequentially. A failing or panicking video is recorded
// and the batch moves on. Cancelling ctx stops before the next video.
func (b *Batch) Run(ctx context.Context, plan []string, opts Options) Report {
	start := time.Now()
	var report Report

	for i, ref := range plan {
		if ctx.Err() != nil {
			report.Interrupted = true
			b.log.Warn().Int("remaining", len(plan)-i).Msg("batch interrupted")
			break
		}
		b.log.Info().
			Int("index", i+1).
			Int("total", len(plan)).
			Str("video", ref).
			Msg("processing video")
		report.add(b.runSafe(ctx, ref, opts))
	}

	report.Elapsed = time.Since(start)
	b.log.Info().
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("total", report.Total()).
		Dur("elapsed", report.Elapsed).
		Msg("batch complete")
	return report
}

func (b *Batch) runSafe(ctx context.Context, ref string, opts Options) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("video", ref).Msg("video processing panicked")
			out = Outcome{
				Video:  ref,
				Status: StatusFailed,
				Reason: ReasonPanic,
				Err:    fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return b.runner.RunOne(ctx, ref, opts)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
