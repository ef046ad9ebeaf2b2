package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/lro"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/poll"
)

const speechVersion = "v2"

// SpeechClient is a Recognizer backed by the speech-to-text v2 REST API.
type SpeechClient struct {
	api      *lro.Client
	project  string
	location string
	log      zerolog.Logger
}

// NewSpeechClient creates a client. api should point at https://speech.googleapis.com.
func NewSpeechClient(api *lro.Client, project, location string, log zerolog.Logger) *SpeechClient {
	return &SpeechClient{
		api:      api,
		project:  project,
		location: location,
		log:      log.With().Str("component", "speech").Logger(),
	}
}

func (c *SpeechClient) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.project, c.location)
}

// RecognizerName returns the full resource name for a recognizer id.
func (c *SpeechClient) RecognizerName(id string) string {
	return c.parent() + "/recognizers/" + id
}

type recognitionConfig struct {
	ExplicitDecodingConfig *decodingConfig      `json:"explicitDecodingConfig,omitempty"`
	AutoDecodingConfig     *struct{}            `json:"autoDecodingConfig,omitempty"`
	Model                  string               `json:"model,omitempty"`
	LanguageCodes          []string             `json:"languageCodes,omitempty"`
	Features               *recognitionFeatures `json:"features,omitempty"`
}

type decodingConfig struct {
	Encoding          string `json:"encoding"`
	SampleRateHertz   int    `json:"sampleRateHertz"`
	AudioChannelCount int    `json:"audioChannelCount"`
}

type recognitionFeatures struct {
	EnableWordTimeOffsets      bool `json:"enableWordTimeOffsets"`
	EnableAutomaticPunctuation bool `json:"enableAutomaticPunctuation"`
}

type batchRecognizeRequest struct {
	Config                  recognitionConfig `json:"config"`
	Files                   []fileMetadata    `json:"files"`
	RecognitionOutputConfig outputConfig      `json:"recognitionOutputConfig"`
}

type fileMetadata struct {
	URI string `json:"uri"`
}

type outputConfig struct {
	GCSOutputConfig      *gcsOutput `json:"gcsOutputConfig,omitempty"`
	InlineResponseConfig *struct{}  `json:"inlineResponseConfig,omitempty"`
}

type gcsOutput struct {
	URI string `json:"uri"`
}

type batchRecognizeResponse struct {
	Results map[string]fileResult `json:"results"`
}

type fileResult struct {
	URI                string        `json:"uri"`
	CloudStorageResult *gcsOutput    `json:"cloudStorageResult"`
	InlineResult       *inlineResult `json:"inlineResult"`
	Error              *lro.Status   `json:"error"`
}

type inlineResult struct {
	Transcript recognitionOutput `json:"transcript"`
}

// BatchRecognize submits one audio file for recognition.
func (c *SpeechClient) BatchRecognize(ctx context.Context, req Request) (Operation, error) {
	body := batchRecognizeRequest{
		Config: recognitionConfig{
			ExplicitDecodingConfig: &decodingConfig{
				Encoding:          "LINEAR16",
				SampleRateHertz:   req.SampleRateHertz,
				AudioChannelCount: req.Channels,
			},
			Model:    req.Model,
			Features: &recognitionFeatures{EnableWordTimeOffsets: true, EnableAutomaticPunctuation: true},
		},
		Files: []fileMetadata{{URI: req.Audio.String()}},
	}
	if req.Language != "" {
		body.Config.LanguageCodes = []string{req.Language}
	}
	if req.Output != nil {
		body.RecognitionOutputConfig.GCSOutputConfig = &gcsOutput{URI: req.Output.String()}
	} else {
		body.RecognitionOutputConfig.InlineResponseConfig = &struct{}{}
	}

	h, err := c.api.Start(ctx, speechVersion, "/"+speechVersion+"/"+c.RecognizerName(req.Recognizer)+":batchRecognize", body)
	if err != nil {
		return nil, err
	}
	return &speechOperation{Handle: h}, nil
}

type speechOperation struct {
	*lro.Handle
}

func (o *speechOperation) Deliveries() ([]Delivery, error) {
	raw := o.Response()
	if raw == nil {
		return nil, fmt.Errorf("operation %s has no response", o.Name())
	}
	var resp batchRecognizeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return resp.deliveries()
}

// deliveries converts per-file results in source-uri order.
func (r batchRecognizeResponse) deliveries() ([]Delivery, error) {
	sources := make([]string, 0, len(r.Results))
	for src := range r.Results {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	out := make([]Delivery, 0, len(sources))
	for _, src := range sources {
		fr := r.Results[src]
		switch {
		case fr.Error != nil && fr.Error.Code != 0:
			out = append(out, Failed{Source: src, Message: fr.Error.Message})
		case fr.InlineResult != nil:
			groups, err := fr.InlineResult.Transcript.groups()
			if err != nil {
				return nil, fmt.Errorf("inline result for %s: %w", src, err)
			}
			out = append(out, Inline{Groups: groups})
		default:
			uri := fr.URI
			if fr.CloudStorageResult != nil && fr.CloudStorageResult.URI != "" {
				uri = fr.CloudStorageResult.URI
			}
			if uri == "" {
				out = append(out, Failed{Source: src, Message: "result has neither inline data nor an output location"})
				continue
			}
			loc, err := paths.ParseBucket(uri)
			if err != nil {
				return nil, fmt.Errorf("result location for %s: %w", src, err)
			}
			out = append(out, External{Location: loc})
		}
	}
	return out, nil
}

// EnsureRecognizer looks up the recognizer and creates it when missing.
func (c *SpeechClient) EnsureRecognizer(ctx context.Context, id, model, language string, opts poll.Options) error {
	name := c.RecognizerName(id)
	err := c.api.Do(ctx, http.MethodGet, "/"+speechVersion+"/"+name, nil, nil)
	if err == nil {
		c.log.Info().Str("recognizer", name).Msg("using existing recognizer")
		return nil
	}
	if !lro.IsNotFound(err) {
		return fmt.Errorf("get recognizer %s: %w", name, err)
	}

	c.log.Info().Str("recognizer", name).Msg("recognizer not found, creating")
	body := map[string]any{
		"defaultRecognitionConfig": recognitionConfig{
			AutoDecodingConfig: &struct{}{},
			Model:              model,
			LanguageCodes:      []string{language},
		},
	}
	path := "/" + speechVersion + "/" + c.parent() + "/recognizers?recognizerId=" + url.QueryEscape(id)
	h, err := c.api.Start(ctx, speechVersion, path, body)
	if err != nil {
		return fmt.Errorf("create recognizer %s: %w", name, err)
	}
	opts.Log = c.log
	if err := poll.Wait(ctx, h, opts); err != nil {
		return fmt.Errorf("create recognizer %s: %w", name, err)
	}
	c.log.Info().Str("recognizer", name).Msg("recognizer created")
	return nil
}
