// Package quiz generates multiple-choice and true/false quizzes from indexed
// transcript segments.
package quiz

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRequest is wrapped by every request validation failure.
var ErrInvalidRequest = errors.New("invalid quiz request")

const (
	maxContextSegments = 30
	maxTranscriptChars = 4000
	linkLeadSeconds    = 10
)

// SegmentInput is one retrieved segment offered as quiz material.
type SegmentInput struct {
	VideoTitle       string `json:"video_title"`
	SpeakerTag       *int   `json:"speaker_tag,omitempty"`
	StartTimeSeconds int    `json:"start_time_seconds" validate:"gte=0"`
	Transcript       string `json:"transcript"`
	VideoLink        string `json:"video_link,omitempty"`
}

// Request asks for a quiz on Topic built only from Segments.
type Request struct {
	Topic             string         `json:"topic" validate:"required"`
	Segments          []SegmentInput `json:"segments" validate:"required,min=1,dive"`
	NumQuestions      int            `json:"num_questions" validate:"min=1,max=20"`
	Difficulty        string         `json:"difficulty" validate:"oneof=easy medium hard mixed"`
	Style             string         `json:"style" validate:"oneof=mcq truefalse mixed"`
	IncludeRationales bool           `json:"include_rationales"`
	UseTimestampLinks bool           `json:"use_timestamp_links"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var fieldMessages = map[string]string{
	"topic":         "Missing or invalid 'topic'.",
	"segments":      "Provide non-empty 'segments'.",
	"num_questions": "'num_questions' must be between 1 and 20.",
	"difficulty":    "Invalid 'difficulty'. Use easy|medium|hard|mixed.",
	"style":         "Invalid 'style'. Use mcq|truefalse|mixed.",
}

// Normalize lowercases the enumerated fields and trims the topic.
func (r *Request) Normalize() {
	r.Topic = strings.TrimSpace(r.Topic)
	r.Difficulty = strings.ToLower(strings.TrimSpace(r.Difficulty))
	r.Style = strings.ToLower(strings.TrimSpace(r.Style))
}

// Validate normalizes r and checks it. The error wraps ErrInvalidRequest and
// names the first failing field.
func (r *Request) Validate() error {
	r.Normalize()
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fe := verrs[0]
	if msg, ok := fieldMessages[fe.Field()]; ok {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	}
	return fmt.Errorf("%w: field '%s' failed on the '%s' tag", ErrInvalidRequest, fe.Namespace(), fe.Tag())
}

// ContextSegment is the condensed form of a segment sent to the model.
type ContextSegment struct {
	Reference  string  `json:"reference"`
	Link       *string `json:"link"`
	Transcript string  `json:"transcript"`
}

// Condense builds the model context: at most 30 segments, transcripts capped
// at 4000 characters, each with a human-readable reference and optional link
// that starts playback 10 seconds early.
func Condense(segs []SegmentInput, withLinks bool) []ContextSegment {
	if len(segs) > maxContextSegments {
		segs = segs[:maxContextSegments]
	}
	out := make([]ContextSegment, 0, len(segs))
	for _, s := range segs {
		ref := fmt.Sprintf("Video: %s | Time: %s", s.VideoTitle, mmss(s.StartTimeSeconds))
		if s.SpeakerTag != nil {
			ref += fmt.Sprintf(" | Speaker: %d", *s.SpeakerTag)
		}
		var link *string
		if withLinks && s.VideoLink != "" {
			l := fmt.Sprintf("%s#t=%d", s.VideoLink, max(0, s.StartTimeSeconds-linkLeadSeconds))
			link = &l
		}
		out = append(out, ContextSegment{
			Reference:  ref,
			Link:       link,
			Transcript: capRunes(s.Transcript, maxTranscriptChars),
		})
	}
	return out
}

func mmss(seconds int) string {
	seconds = max(0, seconds)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
