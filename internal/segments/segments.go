// Package segments merges word-timed speech transcription with on-screen text
// detections into the ordered segment list that is persisted per video.
package segments

import (
	"sort"
	"strings"
	"time"
)

// Word is one recognized word with its offsets from the start of the audio.
type Word struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Group is one recognizer result chunk (top alternative only).
type Group struct {
	Transcript string
	Words      []Word
}

// TimeRange is a closed interval of video time.
type TimeRange struct {
	Start time.Duration
	End   time.Duration
}

// Overlaps reports whether r intersects [start, end], bounds inclusive.
func (r TimeRange) Overlaps(start, end time.Duration) bool {
	return r.Start <= end && r.End >= start
}

// Annotation is one on-screen text instance and every window it was visible in.
type Annotation struct {
	Text   string
	Ranges []TimeRange
}

// Segment is a time-bounded unit of speech plus any slide text visible during it.
type Segment struct {
	SpeakerTag int // 0 = unknown
	Start      time.Duration
	End        time.Duration
	Transcript string
	SlideText  string
}

// Result is the consolidated output for one video.
type Result struct {
	VideoTitle string
	Segments   []Segment
}

// Consolidate builds one segment per non-empty transcription group, attaches
// overlapping slide text, and orders the segments by start time.
func Consolidate(groups []Group, annotations []Annotation, videoTitle string) Result {
	result := Result{VideoTitle: videoTitle, Segments: []Segment{}}
	if len(groups) == 0 {
		return result
	}

	for _, g := range groups {
		transcript := strings.TrimSpace(g.Transcript)
		if transcript == "" || len(g.Words) == 0 {
			continue
		}
		result.Segments = append(result.Segments, Segment{
			SpeakerTag: 0,
			Start:      g.Words[0].Start,
			End:        g.Words[len(g.Words)-1].End,
			Transcript: transcript,
		})
	}

	if len(annotations) > 0 {
		for i := range result.Segments {
			result.Segments[i].SlideText = slideText(annotations, result.Segments[i].Start, result.Segments[i].End)
		}
	}

	sort.SliceStable(result.Segments, func(i, j int) bool {
		return result.Segments[i].Start < result.Segments[j].Start
	})
	return result
}

// slideText joins the distinct texts of every annotation with any range
// overlapping [start, end], in annotation order.
func slideText(annotations []Annotation, start, end time.Duration) string {
	seen := make(map[string]struct{})
	var texts []string
	for _, a := range annotations {
		if _, dup := seen[a.Text]; dup {
			continue
		}
		for _, r := range a.Ranges {
			if r.Overlaps(start, end) {
				seen[a.Text] = struct{}{}
				texts = append(texts, a.Text)
				break
			}
		}
	}
	return strings.Join(texts, " ")
}

// Duration returns the latest segment end, or zero.
func (r Result) Duration() time.Duration {
	var d time.Duration
	for _, s := range r.Segments {
		if s.End > d {
			d = s.End
		}
	}
	return d
}
