package quiz

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() Request {
	return Request{
		Topic:        "Vector indexes",
		Segments:     []SegmentInput{{VideoTitle: "talk.mp4", StartTimeSeconds: 75, Transcript: "an index speeds up search"}},
		NumQuestions: 3,
		Difficulty:   "Medium",
		Style:        "MCQ",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Request)
		wantMsg string
	}{
		{"valid", func(r *Request) {}, ""},
		{"missing_topic", func(r *Request) { r.Topic = "  " }, "'topic'"},
		{"nil_segments", func(r *Request) { r.Segments = nil }, "non-empty 'segments'"},
		{"empty_segments", func(r *Request) { r.Segments = []SegmentInput{} }, "non-empty 'segments'"},
		{"zero_questions", func(r *Request) { r.NumQuestions = 0 }, "between 1 and 20"},
		{"too_many_questions", func(r *Request) { r.NumQuestions = 21 }, "between 1 and 20"},
		{"bad_difficulty", func(r *Request) { r.Difficulty = "brutal" }, "easy|medium|hard|mixed"},
		{"bad_style", func(r *Request) { r.Style = "essay" }, "mcq|truefalse|mixed"},
		{"negative_start", func(r *Request) { r.Segments[0].StartTimeSeconds = -1 }, "start_time_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, "medium", r.Difficulty)
				assert.Equal(t, "mcq", r.Style)
				return
			}
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCondense(t *testing.T) {
	speaker := 2
	segs := []SegmentInput{
		{VideoTitle: "talk.mp4", StartTimeSeconds: 125, Transcript: "first", VideoLink: "https://v/talk.mp4", SpeakerTag: &speaker},
		{VideoTitle: "intro.mov", StartTimeSeconds: 4, Transcript: "second", VideoLink: "https://v/intro.mov"},
		{VideoTitle: "nolink.mkv", StartTimeSeconds: 3600, Transcript: "third"},
	}

	got := Condense(segs, true)
	require.Len(t, got, 3)
	assert.Equal(t, "Video: talk.mp4 | Time: 02:05 | Speaker: 2", got[0].Reference)
	require.NotNil(t, got[0].Link)
	assert.Equal(t, "https://v/talk.mp4#t=115", *got[0].Link)
	assert.Equal(t, "Video: intro.mov | Time: 00:04", got[1].Reference)
	assert.Equal(t, "https://v/intro.mov#t=0", *got[1].Link)
	assert.Equal(t, "Video: nolink.mkv | Time: 60:00", got[2].Reference)
	assert.Nil(t, got[2].Link)

	for _, c := range Condense(segs, false) {
		assert.Nil(t, c.Link)
	}
}

func TestCondenseCaps(t *testing.T) {
	var segs []SegmentInput
	for i := 0; i < 40; i++ {
		segs = append(segs, SegmentInput{VideoTitle: fmt.Sprintf("v%d", i), Transcript: strings.Repeat("é", 5000)})
	}
	got := Condense(segs, false)
	require.Len(t, got, 30)
	assert.Equal(t, 4000, len([]rune(got[0].Transcript)))
}
