// Package vision detects on-screen text across a whole video.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/lro"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/poll"
	"github.com/snarg/vidsearch/internal/segments"
)

// ErrVisionFailed is wrapped by every detection failure other than a poll timeout.
var ErrVisionFailed = errors.New("visual text detection failed")

// Detector returns the text annotations found in a video.
type Detector interface {
	DetectText(ctx context.Context, video paths.Ref) ([]segments.Annotation, error)
}

const apiVersion = "v1"

// Client is a Detector backed by the video-intelligence REST API.
type Client struct {
	api  *lro.Client
	poll poll.Options
	log  zerolog.Logger
}

// NewClient creates a client. api should point at https://videointelligence.googleapis.com.
func NewClient(api *lro.Client, pollOpts poll.Options, log zerolog.Logger) *Client {
	log = log.With().Str("component", "vision").Logger()
	pollOpts.Log = log
	return &Client{api: api, poll: pollOpts, log: log}
}

type annotateRequest struct {
	InputURI string   `json:"inputUri"`
	Features []string `json:"features"`
}

type annotateResponse struct {
	AnnotationResults []annotationResult `json:"annotationResults"`
}

type annotationResult struct {
	InputURI        string           `json:"inputUri"`
	TextAnnotations []textAnnotation `json:"textAnnotations"`
	Error           *lro.Status      `json:"error"`
}

type textAnnotation struct {
	Text     string        `json:"text"`
	Segments []textSegment `json:"segments"`
}

type textSegment struct {
	Segment struct {
		StartTimeOffset string `json:"startTimeOffset"`
		EndTimeOffset   string `json:"endTimeOffset"`
	} `json:"segment"`
	Confidence float64 `json:"confidence"`
}

// DetectText submits one TEXT_DETECTION request and waits for it.
func (c *Client) DetectText(ctx context.Context, video paths.Ref) ([]segments.Annotation, error) {
	h, err := c.api.Start(ctx, apiVersion, "/"+apiVersion+"/videos:annotate", annotateRequest{
		InputURI: video.String(),
		Features: []string{"TEXT_DETECTION"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: submit %s: %w", ErrVisionFailed, video, err)
	}
	c.log.Info().Str("video", video.String()).Str("operation", h.Name()).Msg("text detection submitted")

	if err := poll.Wait(ctx, h, c.poll); err != nil {
		if errors.Is(err, poll.ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrVisionFailed, err)
	}

	var resp annotateResponse
	if err := json.Unmarshal(h.Response(), &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrVisionFailed, err)
	}
	anns, err := resp.annotations()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVisionFailed, err)
	}
	c.log.Info().Str("video", video.String()).Int("annotations", len(anns)).Msg("text detection complete")
	return anns, nil
}

// annotations flattens every result's text annotations in response order.
func (r annotateResponse) annotations() ([]segments.Annotation, error) {
	var out []segments.Annotation
	for _, res := range r.AnnotationResults {
		if res.Error != nil && res.Error.Code != 0 {
			return nil, fmt.Errorf("%s: %w", res.InputURI, res.Error)
		}
		for _, ta := range res.TextAnnotations {
			ann := segments.Annotation{Text: ta.Text}
			for _, s := range ta.Segments {
				start, err := lro.ParseDuration(s.Segment.StartTimeOffset)
				if err != nil {
					return nil, fmt.Errorf("annotation %q: %w", ta.Text, err)
				}
				end, err := lro.ParseDuration(s.Segment.EndTimeOffset)
				if err != nil {
					return nil, fmt.Errorf("annotation %q: %w", ta.Text, err)
				}
				ann.Ranges = append(ann.Ranges, segments.TimeRange{Start: start, End: end})
			}
			out = append(out, ann)
		}
	}
	return out, nil
}
