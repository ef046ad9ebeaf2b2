package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider is a synchronous speech-to-text backend working on a local file.
// ProviderRecognizer adapts it to the asynchronous Recognizer contract.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "whisper", "deepinfra", "elevenlabs"
	Model() string // model identifier for logs
}

// TranscribeOpts are per-request options. Zero-value fields are omitted from
// the request.
type TranscribeOpts struct {
	Temperature float64
	Language    string // ISO-639-1, e.g. "en"
	Prompt      string // domain vocabulary
	Hotwords    string // comma-separated boost terms
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	Words    []Word  // nil if provider doesn't support word timestamps
}

// Word is a timestamped word from any STT provider.
type Word struct {
	Word  string
	Start float64 // seconds
	End   float64 // seconds
}

// ProviderConfig selects and configures a synchronous provider.
type ProviderConfig struct {
	Backend string // whisper, deepinfra, elevenlabs
	URL     string // whisper endpoint
	Model   string
	APIKey  string
	Timeout time.Duration
}

// NewProvider builds the provider named by cfg.Backend.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Backend {
	case "whisper":
		return NewWhisperClient(cfg.URL, cfg.Model, cfg.Timeout), nil
	case "deepinfra":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("deepinfra requires STT_API_KEY")
		}
		model := cfg.Model
		if model == "" {
			model = "openai/whisper-large-v3-turbo"
		}
		return NewDeepInfraClient(cfg.APIKey, model, cfg.Timeout), nil
	case "elevenlabs":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("elevenlabs requires STT_API_KEY")
		}
		model := cfg.Model
		if model == "" {
			model = "scribe_v1"
		}
		return NewElevenLabsClient(cfg.APIKey, model, "", cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Backend)
	}
}

// isoLanguage reduces a BCP-47 tag ("en-US") to the ISO-639 code providers expect.
func isoLanguage(tag string) string {
	lang, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(lang)
}
