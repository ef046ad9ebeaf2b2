package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/poll"
	"github.com/snarg/vidsearch/internal/segments"
	"github.com/snarg/vidsearch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOp finishes after pending polls with either deliveries or a fault.
type fakeOp struct {
	pending    int
	fault      error
	deliveries []Delivery
}

func (o *fakeOp) Name() string { return "ops/fake" }

func (o *fakeOp) Poll(ctx context.Context) (poll.Status, error) {
	if o.pending > 0 {
		o.pending--
		return poll.Status{State: poll.Pending}, nil
	}
	if o.fault != nil {
		return poll.Status{State: poll.Faulted, Fault: o.fault}, nil
	}
	return poll.Status{State: poll.Done}, nil
}

func (o *fakeOp) Deliveries() ([]Delivery, error) { return o.deliveries, nil }

type fakeRecognizer struct {
	op        *fakeOp
	submitErr error
	got       Request
}

func (r *fakeRecognizer) BatchRecognize(ctx context.Context, req Request) (Operation, error) {
	r.got = req
	if r.submitErr != nil {
		return nil, r.submitErr
	}
	return r.op, nil
}

var (
	audioRef   = paths.Ref{Scheme: "gs", Bucket: "media", Key: "audio/talk.wav"}
	scratchRef = paths.Ref{Scheme: "gs", Bucket: "media", Key: "tmp/transcription/talk/"}
)

func testOpts() Options {
	return Options{
		Recognizer: "rec",
		Language:   "en-US",
		Poll:       poll.Options{Interval: time.Millisecond, Timeout: time.Second},
	}
}

func words(pairs ...float64) []segments.Word {
	var out []segments.Word
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, segments.Word{Text: "w", Start: segments.Seconds(pairs[i]), End: segments.Seconds(pairs[i+1])})
	}
	return out
}

func saveResults(t *testing.T, store storage.BlobStore, key string, groups []segments.Group) {
	t.Helper()
	data, err := EncodeResults(groups)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), scratchRef.Child(key), data, "application/json"))
}

func TestTranscribeInline(t *testing.T) {
	g := segments.Group{Transcript: "hello", Words: words(0, 0.5)}
	rec := &fakeRecognizer{op: &fakeOp{pending: 2, deliveries: []Delivery{Inline{Groups: []segments.Group{g}}}}}
	opts := testOpts()
	opts.Inline = true
	tr := New(rec, storage.NewLocalStore(t.TempDir()), opts, zerolog.Nop())

	groups, err := tr.Transcribe(context.Background(), audioRef, scratchRef)
	require.NoError(t, err)
	assert.Equal(t, []segments.Group{g}, groups)

	assert.Nil(t, rec.got.Output, "inline request should not carry an output location")
	assert.Equal(t, 16000, rec.got.SampleRateHertz)
	assert.Equal(t, 1, rec.got.Channels)
	assert.Equal(t, "en-US", rec.got.Language)
}

func TestTranscribeExternalDirectory(t *testing.T) {
	store := storage.NewLocalStore(t.TempDir())
	saveResults(t, store, "tmp/transcription/talk/a_transcript.json", []segments.Group{{Transcript: "first", Words: words(0, 1)}})
	saveResults(t, store, "tmp/transcription/talk/b_transcript.json", []segments.Group{{Transcript: "second", Words: words(2, 3)}})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, scratchRef.Child("tmp/transcription/talk/broken.json"), []byte("{not json"), ""))
	require.NoError(t, store.Save(ctx, scratchRef.Child("tmp/transcription/talk/empty.json"), nil, ""))
	require.NoError(t, store.Save(ctx, scratchRef.Child("tmp/transcription/talk/notes.txt"), []byte("x"), ""))

	rec := &fakeRecognizer{op: &fakeOp{deliveries: []Delivery{External{Location: scratchRef}}}}
	tr := New(rec, store, testOpts(), zerolog.Nop())

	groups, err := tr.Transcribe(ctx, audioRef, scratchRef)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "first", groups[0].Transcript)
	assert.Equal(t, "second", groups[1].Transcript)
	assert.Equal(t, segments.Seconds(2), groups[1].Words[0].Start)

	require.NotNil(t, rec.got.Output)
	assert.Equal(t, scratchRef, *rec.got.Output)
}

func TestTranscribeExternalSingleObject(t *testing.T) {
	store := storage.NewLocalStore(t.TempDir())
	saveResults(t, store, "tmp/transcription/talk/only.json", []segments.Group{{Transcript: "only", Words: words(0, 1)}})
	loc := scratchRef.Child("tmp/transcription/talk/only.json")

	rec := &fakeRecognizer{op: &fakeOp{deliveries: []Delivery{External{Location: loc}}}}
	groups, err := New(rec, store, testOpts(), zerolog.Nop()).Transcribe(context.Background(), audioRef, scratchRef)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "only", groups[0].Transcript)
}

func TestTranscribeMixedDeliveries(t *testing.T) {
	store := storage.NewLocalStore(t.TempDir())
	saveResults(t, store, "tmp/transcription/talk/x.json", []segments.Group{{Transcript: "external", Words: words(5, 6)}})

	rec := &fakeRecognizer{op: &fakeOp{deliveries: []Delivery{
		Inline{Groups: []segments.Group{{Transcript: "inline", Words: words(0, 1)}}},
		Failed{Source: "gs://media/audio/other.wav", Message: "decode error"},
		External{Location: scratchRef},
	}}}
	groups, err := New(rec, store, testOpts(), zerolog.Nop()).Transcribe(context.Background(), audioRef, scratchRef)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "inline", groups[0].Transcript)
	assert.Equal(t, "external", groups[1].Transcript)
}

func TestTranscribeAllDeliveriesFailed(t *testing.T) {
	rec := &fakeRecognizer{op: &fakeOp{deliveries: []Delivery{Failed{Source: "a", Message: "bad audio"}}}}
	_, err := New(rec, storage.NewLocalStore(t.TempDir()), testOpts(), zerolog.Nop()).
		Transcribe(context.Background(), audioRef, scratchRef)
	require.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Contains(t, err.Error(), "bad audio")
}

func TestTranscribeFault(t *testing.T) {
	fault := errors.New("recognizer exploded")
	rec := &fakeRecognizer{op: &fakeOp{pending: 1, fault: fault}}
	_, err := New(rec, storage.NewLocalStore(t.TempDir()), testOpts(), zerolog.Nop()).
		Transcribe(context.Background(), audioRef, scratchRef)
	require.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.ErrorIs(t, err, fault)
}

func TestTranscribeSubmitError(t *testing.T) {
	rec := &fakeRecognizer{submitErr: errors.New("permission denied")}
	_, err := New(rec, storage.NewLocalStore(t.TempDir()), testOpts(), zerolog.Nop()).
		Transcribe(context.Background(), audioRef, scratchRef)
	require.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestTranscribeTimeout(t *testing.T) {
	rec := &fakeRecognizer{op: &fakeOp{pending: 1 << 30}}
	opts := testOpts()
	opts.Poll.Timeout = 10 * time.Millisecond
	_, err := New(rec, storage.NewLocalStore(t.TempDir()), opts, zerolog.Nop()).
		Transcribe(context.Background(), audioRef, scratchRef)
	require.ErrorIs(t, err, poll.ErrTimeout)
	assert.NotErrorIs(t, err, ErrTranscriptionFailed)
}

func TestParseResults(t *testing.T) {
	data := []byte(`{"results":[
		{"alternatives":[
			{"transcript":"hello world","words":[
				{"word":"hello","startOffset":"0s","endOffset":"0.500s"},
				{"word":"world","startOffset":"0.600s","endOffset":"1s"}]},
			{"transcript":"yellow world"}]},
		{"alternatives":[]},
		{"languageCode":"en-us"}
	]}`)
	groups, err := ParseResults(data)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, segments.Group{
		Transcript: "hello world",
		Words: []segments.Word{
			{Text: "hello", Start: 0, End: 500 * time.Millisecond},
			{Text: "world", Start: 600 * time.Millisecond, End: time.Second},
		},
	}, groups[0])

	_, err = ParseResults([]byte(`{"results":[{"alternatives":[{"transcript":"x","words":[{"word":"x","startOffset":"soon"}]}]}]}`))
	assert.Error(t, err)
}

func TestEncodeResultsRoundTrip(t *testing.T) {
	in := []segments.Group{
		{Transcript: "a b", Words: []segments.Word{{Text: "a", Start: 0, End: 250 * time.Millisecond}, {Text: "b", Start: 300 * time.Millisecond, End: 1200 * time.Millisecond}}},
	}
	data, err := EncodeResults(in)
	require.NoError(t, err)
	out, err := ParseResults(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
