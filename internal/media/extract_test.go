package media

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConverter copies a fixed payload instead of running ffmpeg.
type fakeConverter struct {
	hasAudio bool
	probeErr error
	output   []byte
	calls    int
}

func (c *fakeConverter) HasAudio(ctx context.Context, path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, err
	}
	return c.hasAudio, c.probeErr
}

func (c *fakeConverter) ToWAV(ctx context.Context, in, out string) error {
	c.calls++
	return os.WriteFile(out, c.output, 0o644)
}

func setup(t *testing.T, videoKey string, withVideo bool) (*storage.LocalStore, paths.Derived) {
	t.Helper()
	store := storage.NewLocalStore(t.TempDir())
	d, err := paths.Derive("gs://media/" + videoKey)
	require.NoError(t, err)
	if withVideo {
		require.NoError(t, store.Save(context.Background(), d.Video, []byte("video-bytes"), "video/mp4"))
	}
	return store, d
}

func TestExtract(t *testing.T) {
	store, d := setup(t, "raw/intro-call.MOV", true)
	conv := &fakeConverter{hasAudio: true, output: []byte("RIFFpcm")}
	x := NewExtractor(store, conv, t.TempDir(), zerolog.Nop())

	require.NoError(t, x.Extract(context.Background(), d, false))

	data, err := storage.ReadAll(context.Background(), store, d.Audio)
	require.NoError(t, err)
	assert.Equal(t, "RIFFpcm", string(data))
	assert.Equal(t, "audio/intro-call.wav", d.Audio.Key)
}

func TestExtractReusesExistingAudio(t *testing.T) {
	ctx := context.Background()
	store, d := setup(t, "raw/talk.mp4", true)
	require.NoError(t, store.Save(ctx, d.Audio, []byte("old"), "audio/wav"))
	conv := &fakeConverter{hasAudio: true, output: []byte("new")}
	x := NewExtractor(store, conv, t.TempDir(), zerolog.Nop())

	require.NoError(t, x.Extract(ctx, d, false))
	assert.Zero(t, conv.calls)

	require.NoError(t, x.Extract(ctx, d, true))
	assert.Equal(t, 1, conv.calls)
	data, _ := storage.ReadAll(ctx, store, d.Audio)
	assert.Equal(t, "new", string(data))
}

func TestExtractFailures(t *testing.T) {
	t.Run("unsupported_format", func(t *testing.T) {
		store, d := setup(t, "raw/slides.pdf", true)
		conv := &fakeConverter{hasAudio: true, output: []byte("x")}
		err := NewExtractor(store, conv, t.TempDir(), zerolog.Nop()).Extract(context.Background(), d, false)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		assert.Zero(t, conv.calls)
	})

	t.Run("missing_video", func(t *testing.T) {
		store, d := setup(t, "raw/ghost.mp4", false)
		err := NewExtractor(store, &fakeConverter{hasAudio: true}, t.TempDir(), zerolog.Nop()).Extract(context.Background(), d, false)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("no_audio_track", func(t *testing.T) {
		store, d := setup(t, "raw/screencast.webm", true)
		err := NewExtractor(store, &fakeConverter{hasAudio: false}, t.TempDir(), zerolog.Nop()).Extract(context.Background(), d, false)
		assert.ErrorIs(t, err, ErrNoAudioTrack)
	})

	t.Run("empty_output", func(t *testing.T) {
		store, d := setup(t, "raw/talk.mkv", true)
		err := NewExtractor(store, &fakeConverter{hasAudio: true}, t.TempDir(), zerolog.Nop()).Extract(context.Background(), d, false)
		assert.ErrorIs(t, err, ErrEmptyAudio)
		ok, _ := store.Exists(context.Background(), d.Audio)
		assert.False(t, ok)
	})

	t.Run("probe_error", func(t *testing.T) {
		store, d := setup(t, "raw/talk.avi", true)
		boom := errors.New("ffprobe: invalid data")
		err := NewExtractor(store, &fakeConverter{probeErr: boom}, t.TempDir(), zerolog.Nop()).Extract(context.Background(), d, false)
		assert.ErrorIs(t, err, boom)
	})
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, CheckFormat(paths.Ref{Key: "raw/a.MP4"}))
	assert.ErrorIs(t, CheckFormat(paths.Ref{Key: "raw/a.mp3"}), ErrUnsupportedFormat)
}

func TestFFmpegArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-y", "-i", "in.mov", "-vn", "-ac", "1", "-ar", "16000", "-acodec", "pcm_s16le", "-f", "wav", "out.wav"},
		wavArgs("in.mov", "out.wav", 0))
	assert.Contains(t, probeArgs("in.mov"), "-select_streams")
	assert.Equal(t, "ffmpeg", orDefault("", "ffmpeg"))
	assert.Equal(t, "/opt/ffmpeg", orDefault("/opt/ffmpeg", "ffmpeg"))
}
