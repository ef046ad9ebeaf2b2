package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/lro"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/poll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recognizerPath = "/v2/projects/proj/locations/global/recognizers/rec"

func TestSpeechBatchRecognize(t *testing.T) {
	var body batchRecognizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == recognizerPath+":batchRecognize":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Write([]byte(`{"name":"projects/proj/locations/global/operations/op1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v2/projects/proj/locations/global/operations/op1":
			w.Write([]byte(`{"name":"projects/proj/locations/global/operations/op1","done":true,"response":{
				"results":{
					"gs://media/audio/talk.wav":{"cloudStorageResult":{"uri":"gs://media/tmp/transcription/talk/talk_transcript.json"}}
				}}}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewSpeechClient(lro.NewClient(srv.URL, "tok", time.Second), "proj", "global", zerolog.Nop())
	out := paths.Ref{Scheme: "gs", Bucket: "media", Key: "tmp/transcription/talk/"}
	op, err := c.BatchRecognize(context.Background(), Request{
		Audio:           paths.Ref{Scheme: "gs", Bucket: "media", Key: "audio/talk.wav"},
		Recognizer:      "rec",
		Language:        "en-US",
		Model:           "latest_long",
		SampleRateHertz: 16000,
		Channels:        1,
		Output:          &out,
	})
	require.NoError(t, err)

	assert.Equal(t, []fileMetadata{{URI: "gs://media/audio/talk.wav"}}, body.Files)
	assert.Equal(t, "gs://media/tmp/transcription/talk/", body.RecognitionOutputConfig.GCSOutputConfig.URI)
	assert.Nil(t, body.RecognitionOutputConfig.InlineResponseConfig)
	assert.Equal(t, []string{"en-US"}, body.Config.LanguageCodes)
	assert.Equal(t, 16000, body.Config.ExplicitDecodingConfig.SampleRateHertz)
	assert.True(t, body.Config.Features.EnableWordTimeOffsets)

	st, err := op.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, poll.Done, st.State)

	ds, err := op.Deliveries()
	require.NoError(t, err)
	require.Len(t, ds, 1)
	ext, ok := ds[0].(External)
	require.True(t, ok, "delivery = %T", ds[0])
	assert.Equal(t, "tmp/transcription/talk/talk_transcript.json", ext.Location.Key)
}

func TestBatchResponseDeliveries(t *testing.T) {
	raw := `{"results":{
		"gs://b/c.wav":{"error":{"code":3,"message":"unsupported encoding"}},
		"gs://b/a.wav":{"inlineResult":{"transcript":{"results":[
			{"alternatives":[{"transcript":"hi","words":[{"word":"hi","startOffset":"1s","endOffset":"1.2s"}]}]}]}}},
		"gs://b/b.wav":{"uri":"gs://b/out/"},
		"gs://b/d.wav":{}
	}}`
	var resp batchRecognizeResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	ds, err := resp.deliveries()
	require.NoError(t, err)
	require.Len(t, ds, 4)

	inline, ok := ds[0].(Inline)
	require.True(t, ok)
	assert.Equal(t, "hi", inline.Groups[0].Transcript)
	assert.Equal(t, time.Second, inline.Groups[0].Words[0].Start)

	assert.Equal(t, External{Location: paths.Ref{Scheme: "gs", Bucket: "b", Key: "out/"}}, ds[1])
	assert.Equal(t, Failed{Source: "gs://b/c.wav", Message: "unsupported encoding"}, ds[2])
	_, isFailed := ds[3].(Failed)
	assert.True(t, isFailed, "result without data should be Failed")
}

func TestEnsureRecognizer(t *testing.T) {
	t.Run("existing", func(t *testing.T) {
		var posts int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				posts++
			}
			w.Write([]byte(`{"name":"projects/proj/locations/global/recognizers/rec"}`))
		}))
		defer srv.Close()

		c := NewSpeechClient(lro.NewClient(srv.URL, "", time.Second), "proj", "global", zerolog.Nop())
		require.NoError(t, c.EnsureRecognizer(context.Background(), "rec", "latest_long", "en-US", poll.Options{}))
		assert.Zero(t, posts)
	})

	t.Run("create_when_missing", func(t *testing.T) {
		var created map[string]recognitionConfig
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodGet && r.URL.Path == recognizerPath:
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
			case r.Method == http.MethodPost && r.URL.Path == "/v2/projects/proj/locations/global/recognizers":
				assert.Equal(t, "rec", r.URL.Query().Get("recognizerId"))
				require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
				w.Write([]byte(`{"name":"projects/proj/locations/global/operations/create1","done":true}`))
			default:
				t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			}
		}))
		defer srv.Close()

		c := NewSpeechClient(lro.NewClient(srv.URL, "", time.Second), "proj", "global", zerolog.Nop())
		err := c.EnsureRecognizer(context.Background(), "rec", "latest_long", "en-US",
			poll.Options{Interval: time.Millisecond, Timeout: time.Second})
		require.NoError(t, err)
		cfg := created["defaultRecognitionConfig"]
		assert.Equal(t, "latest_long", cfg.Model)
		assert.Equal(t, []string{"en-US"}, cfg.LanguageCodes)
	})

	t.Run("lookup_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		c := NewSpeechClient(lro.NewClient(srv.URL, "", time.Second), "proj", "global", zerolog.Nop())
		assert.Error(t, c.EnsureRecognizer(context.Background(), "rec", "latest_long", "en-US", poll.Options{}))
	})
}
