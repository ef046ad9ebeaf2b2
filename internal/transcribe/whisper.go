package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type WhisperClient struct {
	url    string
	model  string
	client *http.Client
}

// whisperResponse is the verbose_json response.
type whisperResponse struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Words    []whisperWord `json:"words"`
}

type whisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends an audio file and requests word-level timestamps. Only
// non-default parameters are sent, so this works with any OpenAI-compatible server.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	var fields []formField
	if wc.model != "" {
		fields = append(fields, formField{"model", wc.model})
	}
	fields = append(fields,
		formField{"language", lang},
		formField{"temperature", fmt.Sprintf("%.2f", opts.Temperature)},
		formField{"response_format", "verbose_json"},
		formField{"timestamp_granularities[]", "word"},
	)
	if opts.Prompt != "" {
		fields = append(fields, formField{"prompt", opts.Prompt})
	}
	if opts.Hotwords != "" {
		fields = append(fields, formField{"hotwords", opts.Hotwords})
	}

	body, err := postAudio(ctx, wc.client, wc.Name(), wc.url, "file", audioPath, fields, nil)
	if err != nil {
		return nil, err
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	words := make([]Word, len(result.Words))
	for i, ww := range result.Words {
		words[i] = Word{Word: ww.Word, Start: ww.Start, End: ww.End}
	}
	return &Response{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
		Words:    words,
	}, nil
}
