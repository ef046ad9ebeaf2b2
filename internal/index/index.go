// Package index loads persisted transcript artifacts into the search database.
package index

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/artifact"
	"github.com/snarg/vidsearch/internal/database"
	"github.com/snarg/vidsearch/internal/metrics"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/segments"
	"github.com/snarg/vidsearch/internal/storage"
)

// ErrNoSegments is returned when an artifact holds no segments.
var ErrNoSegments = errors.New("artifact has no segments")

const defaultBatchSize = 500

// Store is the subset of database.DB the indexer writes through.
type Store interface {
	UpsertVideo(ctx context.Context, v database.Video) error
	UpsertSegments(ctx context.Context, segs []database.Segment) error
	DeleteStaleSegments(ctx context.Context, videoID string, keep []string) (int64, error)
	SetEmbeddings(ctx context.Context, ids []string, embeddings [][]float32) error
}

type Options struct {
	Blobs     storage.BlobStore
	Store     Store
	Embedder  Embedder // nil disables embeddings
	BatchSize int      // rows per upsert batch, default 500
	Log       zerolog.Logger
}

// Summary describes one indexed artifact.
type Summary struct {
	Transcript string        `json:"transcript"`
	VideoID    string        `json:"video_id"`
	VideoTitle string        `json:"video_title"`
	Segments   int           `json:"segments"`
	Skipped    int           `json:"skipped"`
	Embedded   int           `json:"embedded"`
	Removed    int64         `json:"removed"`
	Elapsed    time.Duration `json:"elapsed"`
}

type Indexer struct {
	blobs     storage.BlobStore
	store     Store
	embedder  Embedder
	batchSize int
	log       zerolog.Logger
}

func New(opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Indexer{
		blobs:     opts.Blobs,
		store:     opts.Store,
		embedder:  opts.Embedder,
		batchSize: opts.BatchSize,
		log:       opts.Log.With().Str("component", "indexer").Logger(),
	}
}

// VideoID is the first 12 hex characters of the md5 of the video title.
func VideoID(title string) string {
	sum := md5.Sum([]byte(title))
	return hex.EncodeToString(sum[:])[:12]
}

// Locations are the blob refs recorded alongside the indexed rows.
type Locations struct {
	Video      string
	Audio      string
	Transcript string
}

// BuildRows converts an artifact into its video row and segment rows.
// Segment ids number every artifact segment, so ids stay stable even when
// empty segments are skipped.
func BuildRows(result segments.Result, loc Locations) (database.Video, []database.Segment, int) {
	vid := VideoID(result.VideoTitle)
	video := database.Video{
		VideoID:       vid,
		Title:         result.VideoTitle,
		VideoURI:      loc.Video,
		AudioURI:      loc.Audio,
		TranscriptURI: loc.Transcript,
		TotalSegments: len(result.Segments),
	}

	speakers := make(map[int]struct{})
	var rows []database.Segment
	skipped := 0
	for i, s := range result.Segments {
		speakers[s.SpeakerTag] = struct{}{}
		if s.SpeakerTag > 0 {
			video.HasDiarization = true
		}
		transcript := strings.TrimSpace(s.Transcript)
		slide := strings.TrimSpace(s.SlideText)
		if slide != "" {
			video.HasOCR = true
		}
		if end := s.End.Seconds(); end > video.DurationSeconds {
			video.DurationSeconds = end
		}

		combined := strings.TrimSpace(transcript + " " + slide)
		if combined == "" {
			skipped++
			continue
		}
		start, end := s.Start.Seconds(), s.End.Seconds()
		rows = append(rows, database.Segment{
			SegmentID:        fmt.Sprintf("%s_%04d", vid, i),
			VideoID:          vid,
			VideoTitle:       result.VideoTitle,
			StartTimeSeconds: start,
			EndTimeSeconds:   end,
			StartTimeInt:     int(start),
			DurationSeconds:  end - start,
			Transcript:       truncate(transcript, maxTranscriptChars),
			SlideText:        truncate(slide, maxSlideChars),
			CombinedText:     truncate(combined, maxCombinedChars),
			Keywords:         Keywords(combined),
			Topics:           Topics(combined),
			SpeakerTag:       s.SpeakerTag,
			WordCount:        len(strings.Fields(combined)),
			CharCount:        utf8.RuneCountInString(combined),
			VideoURI:         loc.Video,
			TranscriptURI:    loc.Transcript,
		})
	}
	video.TotalSpeakers = len(speakers)
	return video, rows, skipped
}

// IndexArtifact loads the artifact at transcript and upserts its rows.
func (ix *Indexer) IndexArtifact(ctx context.Context, transcript paths.Ref) (Summary, error) {
	start := time.Now()
	sum := Summary{Transcript: transcript.String()}
	log := ix.log.With().Str("transcript", sum.Transcript).Logger()

	result, err := artifact.Load(ctx, ix.blobs, transcript)
	if err != nil {
		return sum, err
	}
	if len(result.Segments) == 0 {
		return sum, fmt.Errorf("%s: %w", transcript, ErrNoSegments)
	}

	loc, err := ix.locate(ctx, transcript, result.VideoTitle)
	if err != nil {
		return sum, err
	}
	video, rows, skipped := BuildRows(result, loc)
	sum.VideoID = video.VideoID
	sum.VideoTitle = video.Title
	sum.Skipped = skipped

	if err := ix.store.UpsertVideo(ctx, video); err != nil {
		return sum, fmt.Errorf("upsert video %s: %w", video.VideoID, err)
	}

	ids := make([]string, 0, len(rows))
	for i := 0; i < len(rows); i += ix.batchSize {
		batch := rows[i:min(i+ix.batchSize, len(rows))]
		if err := ix.store.UpsertSegments(ctx, batch); err != nil {
			return sum, err
		}
		for _, r := range batch {
			ids = append(ids, r.SegmentID)
		}
		sum.Segments += len(batch)
		metrics.SegmentsIndexedTotal.Add(float64(len(batch)))
		log.Debug().Int("rows", len(batch)).Msg("segments upserted")
	}

	removed, err := ix.store.DeleteStaleSegments(ctx, video.VideoID, ids)
	if err != nil {
		return sum, fmt.Errorf("delete stale segments: %w", err)
	}
	sum.Removed = removed

	if ix.embedder != nil {
		n, err := ix.embed(ctx, rows)
		sum.Embedded = n
		if err != nil {
			return sum, err
		}
	}

	sum.Elapsed = time.Since(start)
	log.Info().
		Str("video_id", sum.VideoID).
		Str("video_title", sum.VideoTitle).
		Int("segments", sum.Segments).
		Int("skipped", sum.Skipped).
		Int("embedded", sum.Embedded).
		Int64("removed", sum.Removed).
		Dur("elapsed", sum.Elapsed).
		Msg("artifact indexed")
	return sum, nil
}

// IndexFolder indexes every .json artifact under folder. A failing artifact
// is logged and the rest continue; the first error is returned at the end.
func (ix *Indexer) IndexFolder(ctx context.Context, folder paths.Ref) ([]Summary, error) {
	objs, err := ix.blobs.List(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}

	var (
		out      []Summary
		firstErr error
	)
	for _, obj := range objs {
		if !strings.HasSuffix(obj.Ref.Key, paths.TranscriptExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sum, err := ix.IndexArtifact(ctx, obj.Ref)
		if err != nil {
			ix.log.Error().Err(err).Str("transcript", obj.Ref.String()).Msg("indexing failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, sum)
	}
	return out, firstErr
}

// locate finds the raw video behind a transcript. The consolidator records
// the video file name as the title, so raw/<title> is tried first, then the
// transcript base name with each supported extension.
func (ix *Indexer) locate(ctx context.Context, transcript paths.Ref, title string) (Locations, error) {
	loc := Locations{Transcript: transcript.String()}

	candidates := []paths.Ref{}
	if title != "" && paths.IsSupported(title) {
		candidates = append(candidates, transcript.Child(paths.RawDir+title))
	}
	base := strings.TrimSuffix(path.Base(transcript.Key), paths.TranscriptExt)
	for _, ext := range paths.SupportedFormats {
		candidates = append(candidates, transcript.Child(paths.RawDir+base+ext))
	}

	video := transcript.Child(paths.RawDir + base)
	for _, c := range candidates {
		ok, err := ix.blobs.Exists(ctx, c)
		if err != nil {
			return loc, fmt.Errorf("check %s: %w", c, err)
		}
		if ok {
			video = c
			break
		}
	}
	loc.Video = video.String()
	if d, err := paths.Derive(loc.Video); err == nil {
		loc.Audio = d.AudioRef()
	}
	return loc, nil
}

func (ix *Indexer) embed(ctx context.Context, rows []database.Segment) (int, error) {
	done := 0
	// Embedding requests are capped well below the upsert batch size.
	const chunk = 100
	for i := 0; i < len(rows); i += chunk {
		part := rows[i:min(i+chunk, len(rows))]
		texts := make([]string, len(part))
		ids := make([]string, len(part))
		for j, r := range part {
			texts[j] = r.CombinedText
			ids[j] = r.SegmentID
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return done, err
		}
		if err := ix.store.SetEmbeddings(ctx, ids, vecs); err != nil {
			return done, err
		}
		done += len(part)
	}
	return done, nil
}
