package segments

import (
	"encoding/json"
	"math"
	"time"
)

// segmentJSON is the persisted form; times are float seconds.
type segmentJSON struct {
	SpeakerTag int     `json:"speaker_tag"`
	Start      float64 `json:"start_time_seconds"`
	End        float64 `json:"end_time_seconds"`
	Transcript string  `json:"transcript"`
	SlideText  string  `json:"slide_text"`
}

type resultJSON struct {
	VideoTitle string    `json:"video_title"`
	Segments   []Segment `json:"segments"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{
		SpeakerTag: s.SpeakerTag,
		Start:      s.Start.Seconds(),
		End:        s.End.Seconds(),
		Transcript: s.Transcript,
		SlideText:  s.SlideText,
	})
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Segment{
		SpeakerTag: raw.SpeakerTag,
		Start:      Seconds(raw.Start),
		End:        Seconds(raw.End),
		Transcript: raw.Transcript,
		SlideText:  raw.SlideText,
	}
	return nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	segs := r.Segments
	if segs == nil {
		segs = []Segment{}
	}
	return json.Marshal(resultJSON{VideoTitle: r.VideoTitle, Segments: segs})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Segments == nil {
		raw.Segments = []Segment{}
	}
	*r = Result{VideoTitle: raw.VideoTitle, Segments: raw.Segments}
	return nil
}

// Seconds converts float seconds to a Duration, rounded to the nanosecond.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
