// Package media extracts a speech-ready audio track from a stored video.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/storage"
)

var (
	// ErrUnsupportedFormat is returned for videos outside paths.SupportedFormats.
	ErrUnsupportedFormat = errors.New("unsupported video format")
	// ErrNoAudioTrack is returned when the video has no audio stream.
	ErrNoAudioTrack = errors.New("no audio track found in video")
	// ErrEmptyAudio is returned when conversion produced an empty file.
	ErrEmptyAudio = errors.New("extracted audio file is empty")
)

// CheckFormat validates the video extension. It makes no remote calls.
func CheckFormat(video paths.Ref) error {
	if !paths.IsSupported(video.Key) {
		return fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedFormat, path.Ext(video.Key), paths.SupportedFormats)
	}
	return nil
}

// Extractor converts a stored video into the derived audio object.
type Extractor struct {
	store  storage.BlobStore
	conv   Converter
	tmpDir string
	log    zerolog.Logger
}

// NewExtractor creates an Extractor. tmpDir may be empty for the system default.
func NewExtractor(store storage.BlobStore, conv Converter, tmpDir string, log zerolog.Logger) *Extractor {
	return &Extractor{
		store:  store,
		conv:   conv,
		tmpDir: tmpDir,
		log:    log.With().Str("component", "media").Logger(),
	}
}

// Extract writes 16 kHz mono WAV audio for d.Video to d.Audio. An existing
// audio object is reused unless force is set.
func (e *Extractor) Extract(ctx context.Context, d paths.Derived, force bool) error {
	if err := CheckFormat(d.Video); err != nil {
		return err
	}
	log := e.log.With().Str("video", d.VideoRef()).Str("audio", d.AudioRef()).Logger()

	if !force {
		ok, err := e.store.Exists(ctx, d.Audio)
		if err != nil {
			return fmt.Errorf("check audio %s: %w", d.Audio, err)
		}
		if ok {
			log.Info().Msg("audio already extracted, reusing")
			return nil
		}
	}

	ok, err := e.store.Exists(ctx, d.Video)
	if err != nil {
		return fmt.Errorf("check video %s: %w", d.Video, err)
	}
	if !ok {
		return fmt.Errorf("video %s: %w", d.Video, storage.ErrNotFound)
	}

	start := time.Now()
	videoPath, err := e.download(ctx, d.Video)
	if err != nil {
		return err
	}
	defer os.Remove(videoPath)
	log.Debug().Dur("elapsed", time.Since(start)).Msg("video downloaded")

	hasAudio, err := e.conv.HasAudio(ctx, videoPath)
	if err != nil {
		return err
	}
	if !hasAudio {
		return fmt.Errorf("%w: %s", ErrNoAudioTrack, d.Video)
	}

	audioFile, err := os.CreateTemp(e.tmpDir, "vidsearch-*.wav")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	audioPath := audioFile.Name()
	audioFile.Close()
	defer os.Remove(audioPath)

	start = time.Now()
	if err := e.conv.ToWAV(ctx, videoPath, audioPath); err != nil {
		return err
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read extracted audio: %w", err)
	}
	if len(data) == 0 {
		return ErrEmptyAudio
	}
	log.Info().
		Str("size_mb", fmt.Sprintf("%.2f", float64(len(data))/(1024*1024))).
		Dur("elapsed", time.Since(start)).
		Msg("audio extracted")

	if err := e.store.Save(ctx, d.Audio, data, "audio/wav"); err != nil {
		return fmt.Errorf("upload audio %s: %w", d.Audio, err)
	}
	return nil
}

func (e *Extractor) download(ctx context.Context, ref paths.Ref) (string, error) {
	src, err := e.store.Open(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("open video %s: %w", ref, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(e.tmpDir, "vidsearch-*"+path.Ext(ref.Key))
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download video %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp: %w", err)
	}
	return tmp.Name(), nil
}
