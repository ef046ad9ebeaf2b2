package segments

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sec(s float64) time.Duration { return Seconds(s) }

func group(transcript string, start, end float64) Group {
	return Group{
		Transcript: transcript,
		Words: []Word{
			{Text: "first", Start: sec(start), End: sec(start + 0.1)},
			{Text: "last", Start: sec(end - 0.1), End: sec(end)},
		},
	}
}

func TestConsolidateEmptyGroups(t *testing.T) {
	anns := []Annotation{{Text: "SLIDE", Ranges: []TimeRange{{0, sec(5)}}}}

	res := Consolidate(nil, anns, "talk.mp4")
	assert.Equal(t, "talk.mp4", res.VideoTitle)
	require.NotNil(t, res.Segments)
	assert.Empty(t, res.Segments)

	res = Consolidate([]Group{}, nil, "x")
	assert.Empty(t, res.Segments)
}

func TestConsolidateDropsEmpty(t *testing.T) {
	groups := []Group{
		{Transcript: "", Words: []Word{{Text: "a", Start: 0, End: sec(1)}}},
		{Transcript: "   ", Words: []Word{{Text: "a", Start: 0, End: sec(1)}}},
		{Transcript: "no words", Words: nil},
		group("kept", 2, 3),
	}
	res := Consolidate(groups, nil, "t")
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "kept", res.Segments[0].Transcript)
}

func TestConsolidateScenario(t *testing.T) {
	groups := []Group{{
		Transcript: "hello world",
		Words: []Word{
			{Text: "hello", Start: sec(0.0), End: sec(0.5)},
			{Text: "world", Start: sec(0.6), End: sec(1.0)},
		},
	}}
	anns := []Annotation{{Text: "SLIDE1", Ranges: []TimeRange{{sec(0.2), sec(0.8)}}}}

	res := Consolidate(groups, anns, "demo.mp4")
	require.Len(t, res.Segments, 1)
	assert.Equal(t, Segment{
		SpeakerTag: 0,
		Start:      0,
		End:        sec(1.0),
		Transcript: "hello world",
		SlideText:  "SLIDE1",
	}, res.Segments[0])
}

func TestConsolidateOverlapInclusion(t *testing.T) {
	groups := []Group{group("segment", 10, 20)}
	anns := []Annotation{
		{Text: "touch-start", Ranges: []TimeRange{{sec(5), sec(10)}}},
		{Text: "touch-end", Ranges: []TimeRange{{sec(20), sec(25)}}},
		{Text: "inside", Ranges: []TimeRange{{sec(11), sec(15)}}},
		{Text: "disjoint", Ranges: []TimeRange{{sec(21), sec(30)}}},
	}

	res := Consolidate(groups, anns, "t")
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "touch-start touch-end inside", res.Segments[0].SlideText)
}

func TestConsolidateAnyRangeMatches(t *testing.T) {
	groups := []Group{group("a", 40, 50)}
	anns := []Annotation{
		{Text: "agenda", Ranges: []TimeRange{{0, sec(5)}, {sec(45), sec(46)}}},
		{Text: "no ranges"},
	}
	res := Consolidate(groups, anns, "t")
	assert.Equal(t, "agenda", res.Segments[0].SlideText)
}

func TestConsolidateDeduplicatesSlideText(t *testing.T) {
	groups := []Group{group("a", 0, 10)}
	anns := []Annotation{
		{Text: "Title", Ranges: []TimeRange{{0, sec(2)}}},
		{Text: "Body", Ranges: []TimeRange{{sec(1), sec(3)}}},
		{Text: "Title", Ranges: []TimeRange{{sec(5), sec(6)}}},
	}
	res := Consolidate(groups, anns, "t")
	assert.Equal(t, "Title Body", res.Segments[0].SlideText)
}

func TestConsolidateOrdering(t *testing.T) {
	groups := []Group{
		group("thirty", 30, 31),
		group("five", 5, 6),
		group("seventeen", 17, 18),
		group("five-again", 5, 7),
	}
	res := Consolidate(groups, nil, "t")

	var got []string
	for _, s := range res.Segments {
		got = append(got, s.Transcript)
	}
	// Stable: ties keep discovery order.
	assert.Equal(t, []string{"five", "five-again", "seventeen", "thirty"}, got)
}

func TestConsolidateKeepsOverlappingGroups(t *testing.T) {
	groups := []Group{group("a", 0, 10), group("b", 5, 15)}
	res := Consolidate(groups, nil, "t")
	assert.Len(t, res.Segments, 2)
}

func TestConsolidateNoAnnotationsLeavesSlideTextEmpty(t *testing.T) {
	res := Consolidate([]Group{group("a", 0, 1)}, nil, "t")
	assert.Equal(t, "", res.Segments[0].SlideText)
}

func TestResultJSON(t *testing.T) {
	res := Result{
		VideoTitle: "intro-call.MOV",
		Segments: []Segment{{
			Start:      sec(1.5),
			End:        sec(3.25),
			Transcript: "hi there",
			SlideText:  "Agenda",
		}},
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"video_title": "intro-call.MOV",
		"segments": [{
			"speaker_tag": 0,
			"start_time_seconds": 1.5,
			"end_time_seconds": 3.25,
			"transcript": "hi there",
			"slide_text": "Agenda"
		}]
	}`, string(data))

	var back Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, res, back)
}

func TestResultJSONEmptySegments(t *testing.T) {
	data, err := json.Marshal(Result{VideoTitle: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"video_title":"x","segments":[]}`, string(data))
}

func TestResultDuration(t *testing.T) {
	res := Result{Segments: []Segment{{End: sec(4)}, {End: sec(9)}, {End: sec(2)}}}
	assert.Equal(t, sec(9), res.Duration())
}
