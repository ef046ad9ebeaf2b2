package artifact

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/segments"
	"github.com/snarg/vidsearch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = paths.Ref{Scheme: "gs", Bucket: "media", Key: "processed_json/intro_call.json"}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())
	res := segments.Result{
		VideoTitle: "intro-call.MOV",
		Segments: []segments.Segment{
			{Start: 0, End: segments.Seconds(1), Transcript: "hello world", SlideText: "SLIDE1"},
			{Start: segments.Seconds(2.5), End: segments.Seconds(4), Transcript: "bye"},
		},
	}

	require.NoError(t, Save(ctx, store, res, target))

	ok, err := Exists(ctx, store, target)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := Load(ctx, store, target)
	require.NoError(t, err)
	assert.Equal(t, res, got)

	raw, err := storage.ReadAll(ctx, store, target)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "{\n  \"video_title\""), "artifact should be two-space indented: %s", raw)
}

func TestSaveEmptySegments(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())
	require.NoError(t, Save(ctx, store, segments.Result{VideoTitle: "silent.mp4"}, target))

	got, err := Load(ctx, store, target)
	require.NoError(t, err)
	assert.Equal(t, "silent.mp4", got.VideoTitle)
	assert.NotNil(t, got.Segments)
	assert.Empty(t, got.Segments)
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(context.Background(), storage.NewLocalStore(t.TempDir()), target)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var re *ReadError
	assert.False(t, errors.As(err, &re))
}

func TestLoadCorrupt(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())
	require.NoError(t, store.Save(ctx, target, []byte("{truncated"), ContentType))

	_, err := Load(ctx, store, target)
	var re *ReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, target, re.Ref)
	assert.False(t, IsNotFound(err))
}

// failingStore rejects every write and read.
type failingStore struct{ storage.BlobStore }

var errDisk = errors.New("disk full")

func (failingStore) Save(context.Context, paths.Ref, []byte, string) error { return errDisk }
func (failingStore) Open(context.Context, paths.Ref) (io.ReadCloser, error) {
	return nil, errDisk
}
func (failingStore) Exists(context.Context, paths.Ref) (bool, error) { return false, errDisk }

func TestStorageFailures(t *testing.T) {
	ctx := context.Background()

	err := Save(ctx, failingStore{}, segments.Result{}, target)
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, errDisk)

	_, err = Load(ctx, failingStore{}, target)
	var re *ReadError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, errDisk)

	_, err = Exists(ctx, failingStore{}, target)
	assert.ErrorAs(t, err, &re)
}
