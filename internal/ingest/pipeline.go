// Package ingest runs videos through audio extraction, transcription,
// visual-text detection, consolidation and persistence, one video at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/artifact"
	"github.com/snarg/vidsearch/internal/media"
	"github.com/snarg/vidsearch/internal/metrics"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/poll"
	"github.com/snarg/vidsearch/internal/segments"
	"github.com/snarg/vidsearch/internal/storage"
	"github.com/snarg/vidsearch/internal/transcribe"
	"github.com/snarg/vidsearch/internal/vision"
)

// Status is the terminal state of one video run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Reason classifies why a run failed or was skipped.
type Reason string

const (
	ReasonInvalidReference  Reason = "invalid_reference"
	ReasonUnsupportedFormat Reason = "unsupported_format"
	ReasonAlreadyProcessed  Reason = "already_processed"
	ReasonStorage           Reason = "storage"
	ReasonVideoNotFound     Reason = "video_not_found"
	ReasonNoAudioTrack      Reason = "no_audio_track"
	ReasonAudioExtraction   Reason = "audio_extraction"
	ReasonTranscription     Reason = "transcription"
	ReasonTimeout           Reason = "timeout"
	ReasonCanceled          Reason = "canceled"
	ReasonPersistence       Reason = "persistence"
	ReasonPanic             Reason = "panic"
)

// Options are the per-run switches.
type Options struct {
	SkipVision          bool
	SkipAudioExtraction bool
	Force               bool
}

// Outcome is the result of one RunOne call.
type Outcome struct {
	Video      string
	BaseName   string
	Transcript string
	Status     Status
	Reason     Reason
	Err        error
	Segments   int
	// VisionErr is set when detection failed and the run continued without slide text.
	VisionErr error
	Elapsed   time.Duration
}

// Message is the user-facing failure text: the originating error, verbatim.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// AudioExtractor produces the derived audio object for a video.
type AudioExtractor interface {
	Extract(ctx context.Context, d paths.Derived, force bool) error
}

// SpeechTranscriber turns an audio object into transcription groups.
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, audio, scratch paths.Ref) ([]segments.Group, error)
}

// Runner processes a single video. Pipeline implements it.
type Runner interface {
	RunOne(ctx context.Context, videoRef string, opts Options) Outcome
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Store       storage.BlobStore
	Extractor   AudioExtractor    // nil disables audio extraction
	Transcriber SpeechTranscriber // required
	Detector    vision.Detector   // nil disables visual-text detection
	Sinks       []OutcomeSink
	Log         zerolog.Logger
}

// Pipeline drives every stage for one video.
type Pipeline struct {
	store       storage.BlobStore
	extractor   AudioExtractor
	transcriber SpeechTranscriber
	detector    vision.Detector
	sinks       []OutcomeSink
	log         zerolog.Logger
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	return &Pipeline{
		store:       opts.Store,
		extractor:   opts.Extractor,
		transcriber: opts.Transcriber,
		detector:    opts.Detector,
		sinks:       opts.Sinks,
		log:         opts.Log.With().Str("component", "pipeline").Logger(),
	}
}

type visionResult struct {
	annotations []segments.Annotation
	err         error
}

// RunOne processes videoRef end to end. The transcript artifact is written
// only when transcription succeeds. Visual-text failures are logged and the
// run continues without slide text.
func (p *Pipeline) RunOne(ctx context.Context, videoRef string, opts Options) (out Outcome) {
	start := time.Now()
	out = Outcome{Video: videoRef}
	defer func() {
		out.Elapsed = time.Since(start)
		metrics.VideosProcessedTotal.WithLabelValues(string(out.Status)).Inc()
		p.finish(out)
	}()

	d, err := paths.Derive(videoRef)
	if err != nil {
		return out.fail(ReasonInvalidReference, err)
	}
	out.BaseName = d.BaseName
	out.Transcript = d.TranscriptRef()
	log := p.log.With().Str("video", videoRef).Str("base_name", d.BaseName).Logger()

	// Format check comes first so nothing remote happens for a bad extension.
	if err := media.CheckFormat(d.Video); err != nil {
		return out.fail(ReasonUnsupportedFormat, err)
	}

	if !opts.Force {
		exists, err := artifact.Exists(ctx, p.store, d.Transcript)
		if err != nil {
			return out.fail(ReasonStorage, fmt.Errorf("check %s: %w", d.TranscriptRef(), err))
		}
		if exists {
			log.Info().Str("transcript", d.TranscriptRef()).Msg("transcript exists, skipping (use force to reprocess)")
			out.Status = StatusSkipped
			out.Reason = ReasonAlreadyProcessed
			return out
		}
	}

	log.Info().
		Str("audio", d.AudioRef()).
		Str("transcript", d.TranscriptRef()).
		Bool("vision", !opts.SkipVision && p.detector != nil).
		Msg("processing video")

	visionCtx, cancelVision := context.WithCancel(ctx)
	defer cancelVision()
	var visionCh chan visionResult
	if !opts.SkipVision && p.detector != nil {
		visionCh = make(chan visionResult, 1)
		go func() {
			s := time.Now()
			anns, err := p.detector.DetectText(visionCtx, d.Video)
			metrics.ObserveStage("vision", s)
			visionCh <- visionResult{annotations: anns, err: err}
		}()
	}

	if !opts.SkipAudioExtraction && p.extractor != nil {
		s := time.Now()
		if err := p.extractor.Extract(ctx, d, opts.Force); err != nil {
			return out.fail(classify(err, ReasonAudioExtraction), err)
		}
		metrics.ObserveStage("audio_extraction", s)
	}

	s := time.Now()
	groups, err := p.transcriber.Transcribe(ctx, d.Audio, d.ScratchRef())
	if err != nil {
		return out.fail(classify(err, ReasonTranscription), err)
	}
	metrics.ObserveStage("transcription", s)

	var annotations []segments.Annotation
	if visionCh != nil {
		var vr visionResult
		select {
		case vr = <-visionCh:
		case <-ctx.Done():
			vr.err = ctx.Err()
		}
		if vr.err != nil {
			metrics.VisionFailuresTotal.Inc()
			log.Warn().Err(vr.err).Msg("visual-text detection failed, continuing without slide text")
			out.VisionErr = vr.err
		} else {
			annotations = vr.annotations
		}
	}

	result := segments.Consolidate(groups, annotations, path.Base(d.Video.Key))

	s = time.Now()
	if err := artifact.Save(ctx, p.store, result, d.Transcript); err != nil {
		return out.fail(ReasonPersistence, err)
	}
	metrics.ObserveStage("persistence", s)
	metrics.SegmentsWrittenTotal.Add(float64(len(result.Segments)))

	out.Status = StatusSucceeded
	out.Segments = len(result.Segments)
	log.Info().
		Int("segments", out.Segments).
		Int("groups", len(groups)).
		Int("annotations", len(annotations)).
		Dur("elapsed", time.Since(start)).
		Msg("video processed")
	return out
}

func (o Outcome) fail(reason Reason, err error) Outcome {
	o.Status = StatusFailed
	o.Reason = reason
	o.Err = err
	return o
}

// classify maps a stage error onto a failure reason, falling back to def.
func classify(err error, def Reason) Reason {
	switch {
	case errors.Is(err, poll.ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	case errors.Is(err, media.ErrUnsupportedFormat):
		return ReasonUnsupportedFormat
	case errors.Is(err, media.ErrNoAudioTrack), errors.Is(err, media.ErrEmptyAudio):
		return ReasonNoAudioTrack
	case errors.Is(err, transcribe.ErrTranscriptionFailed):
		return ReasonTranscription
	case errors.Is(err, storage.ErrNotFound) && def == ReasonAudioExtraction:
		return ReasonVideoNotFound
	}
	return def
}

func (p *Pipeline) finish(out Outcome) {
	if out.Status == StatusFailed {
		p.log.Error().
			Err(out.Err).
			Str("video", out.Video).
			Str("reason", string(out.Reason)).
			Msg("video failed")
	}
	for _, s := range p.sinks {
		s.PublishOutcome(out)
	}
}
