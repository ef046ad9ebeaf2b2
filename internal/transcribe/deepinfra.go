package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
type DeepInfraClient struct {
	baseURL string
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	client  *http.Client
}

// deepInfraResponse uses "text" for the word field, not "word" like OpenAI.
type deepInfraResponse struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Duration float64         `json:"duration"`
	Words    []deepInfraSpan `json:"words"`
	Segments []deepInfraSpan `json:"segments"`
}

type deepInfraSpan struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepInfraClient creates a new DeepInfra inference client.
func NewDeepInfraClient(apiKey, model string, timeout time.Duration) *DeepInfraClient {
	return &DeepInfraClient{
		baseURL: deepInfraBaseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (di *DeepInfraClient) Name() string  { return "deepinfra" }
func (di *DeepInfraClient) Model() string { return di.model }

// Transcribe posts the file under the "audio" field (DeepInfra's convention)
// to {baseURL}{model}.
func (di *DeepInfraClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	var fields []formField
	if opts.Language != "" {
		fields = append(fields, formField{"language", opts.Language})
	}
	if opts.Prompt != "" {
		fields = append(fields, formField{"initial_prompt", opts.Prompt})
	}
	header := http.Header{"Authorization": {"Bearer " + di.apiKey}}

	body, err := postAudio(ctx, di.client, di.Name(), di.baseURL+di.model, "audio", audioPath, fields, header)
	if err != nil {
		return nil, err
	}

	var result deepInfraResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var words []Word
	if len(result.Words) > 0 {
		words = make([]Word, len(result.Words))
		for i, dw := range result.Words {
			words[i] = Word{Word: dw.Text, Start: dw.Start, End: dw.End}
		}
	} else if len(result.Segments) > 0 {
		words = wordsFromSegments(result.Segments)
	}

	return &Response{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
		Words:    words,
	}, nil
}

// wordsFromSegments synthesizes word-level entries from segment-level timestamps
// by splitting each segment's text and spreading its time range evenly.
func wordsFromSegments(segs []deepInfraSpan) []Word {
	var words []Word
	for _, seg := range segs {
		tokens := strings.Fields(seg.Text)
		if len(tokens) == 0 {
			continue
		}
		wordDur := (seg.End - seg.Start) / float64(len(tokens))
		for i, tok := range tokens {
			words = append(words, Word{
				Word:  tok,
				Start: seg.Start + float64(i)*wordDur,
				End:   seg.Start + float64(i+1)*wordDur,
			})
		}
	}
	return words
}
