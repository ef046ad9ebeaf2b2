package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch"
	"github.com/snarg/vidsearch/internal/api"
	"github.com/snarg/vidsearch/internal/database"
	"github.com/snarg/vidsearch/internal/index"
	"github.com/snarg/vidsearch/internal/ingest"
	"github.com/snarg/vidsearch/internal/lro"
	"github.com/snarg/vidsearch/internal/media"
	"github.com/snarg/vidsearch/internal/mqttclient"
	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/poll"
	"github.com/snarg/vidsearch/internal/quiz"
	"github.com/snarg/vidsearch/internal/transcribe"
	"github.com/snarg/vidsearch/internal/vision"
)

const apiTimeout = time.Minute

func (a *app) pollOptions() poll.Options {
	return poll.Options{
		Interval:  a.cfg.PollInterval,
		Timeout:   a.cfg.PollTimeout,
		Heartbeat: a.cfg.PollHeartbeat,
	}
}

// recognizer builds the speech backend. The google backend makes sure the
// configured recognizer exists before anything is submitted.
func (a *app) recognizer(ctx context.Context) (transcribe.Recognizer, error) {
	cfg := a.cfg
	switch cfg.SpeechBackend {
	case "", "google":
		if cfg.SpeechProject == "" {
			return nil, errors.New("SPEECH_PROJECT is required for the google speech backend")
		}
		sc := transcribe.NewSpeechClient(
			lro.NewClient(cfg.SpeechAPIURL, cfg.GoogleAccessToken, apiTimeout),
			cfg.SpeechProject, cfg.SpeechLocation, a.log,
		)
		if err := sc.EnsureRecognizer(ctx, cfg.SpeechRecognizer, cfg.SpeechModel, cfg.SpeechLanguage, a.pollOptions()); err != nil {
			return nil, err
		}
		return sc, nil
	default:
		provider, err := transcribe.NewProvider(transcribe.ProviderConfig{
			Backend: cfg.SpeechBackend,
			URL:     cfg.WhisperURL,
			Model:   cfg.WhisperModel,
			APIKey:  cfg.ProviderAPIKey,
			Timeout: cfg.ProviderTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.log.Info().Str("provider", provider.Name()).Str("model", provider.Model()).Msg("speech provider selected")
		return transcribe.NewProviderRecognizer(provider, a.store, transcribe.TranscribeOpts{}, a.log), nil
	}
}

func (a *app) pipeline(ctx context.Context, sinks []ingest.OutcomeSink) (*ingest.Pipeline, error) {
	cfg := a.cfg
	rec, err := a.recognizer(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech backend: %w", err)
	}
	tr := transcribe.New(rec, a.store, transcribe.Options{
		Recognizer: cfg.SpeechRecognizer,
		Language:   cfg.SpeechLanguage,
		Model:      cfg.SpeechModel,
		Inline:     cfg.InlineResults,
		Poll:       a.pollOptions(),
	}, a.log)

	det := vision.NewClient(lro.NewClient(cfg.VisionAPIURL, cfg.GoogleAccessToken, apiTimeout), a.pollOptions(), a.log)
	ext := media.NewExtractor(a.store, media.FFmpeg{FFmpegPath: cfg.FFmpegPath, FFprobePath: cfg.FFprobePath}, "", a.log)

	return ingest.NewPipeline(ingest.PipelineOptions{
		Store:       a.store,
		Extractor:   ext,
		Transcriber: tr,
		Detector:    det,
		Sinks:       sinks,
		Log:         a.log,
	}), nil
}

// connectMQTT returns nil when no broker is configured. A broker that cannot
// be reached is logged and treated as absent.
func (a *app) connectMQTT(topics string) *mqttclient.Client {
	if a.cfg.MQTTBrokerURL == "" {
		return nil
	}
	mq, err := mqttclient.Connect(mqttclient.Options{
		BrokerURL: a.cfg.MQTTBrokerURL,
		ClientID:  a.cfg.MQTTClientID,
		Topics:    topics,
		Username:  a.cfg.MQTTUsername,
		Password:  a.cfg.MQTTPassword,
		QoS:       1,
		Log:       a.log,
	})
	if err != nil {
		a.log.Warn().Err(err).Str("broker", a.cfg.MQTTBrokerURL).Msg("mqtt unavailable, outcome events disabled")
		return nil
	}
	return mq
}

// sinks collects the outcome receivers that are configured. Nil arguments are skipped.
func (a *app) sinks(bus *ingest.EventBus, mq *mqttclient.Client, ix *index.Indexer) []ingest.OutcomeSink {
	var out []ingest.OutcomeSink
	if bus != nil {
		out = append(out, bus)
	}
	if mq != nil {
		out = append(out, ingest.NewTopicSink(mq, a.cfg.MQTTTopicPrefix, a.log))
	}
	if ix != nil {
		out = append(out, &indexSink{ix: ix, log: a.log.With().Str("component", "auto-index").Logger()})
	}
	return out
}

// openDB returns nil without error when DATABASE_URL is unset.
func (a *app) openDB(ctx context.Context) (*database.DB, error) {
	if a.cfg.DatabaseURL == "" {
		return nil, nil
	}
	db, err := database.Connect(ctx, a.cfg.DatabaseURL, database.PoolOptions{
		MaxConns: a.cfg.DBMaxConns,
		MinConns: a.cfg.DBMinConns,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := db.InitSchema(ctx, vidsearch.SchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) embedder() index.Embedder {
	if a.cfg.OpenAIAPIKey == "" {
		return nil
	}
	return index.NewOpenAIEmbedder(a.cfg.OpenAIAPIKey, a.cfg.OpenAIBaseURL, a.cfg.EmbeddingModel)
}

func (a *app) indexer(db *database.DB, embed bool) *index.Indexer {
	opts := index.Options{Blobs: a.store, Store: db, Log: a.log}
	if embed {
		opts.Embedder = a.embedder()
	}
	return index.New(opts)
}

// quizGenerator is nil unless both an API key and a quiz bucket are configured.
func (a *app) quizGenerator() (api.QuizGenerator, error) {
	if a.cfg.OpenAIAPIKey == "" || a.cfg.QuizBucket == "" {
		return nil, nil
	}
	bucket, err := paths.ParseBucket(a.cfg.QuizBucket)
	if err != nil {
		return nil, fmt.Errorf("QUIZ_BUCKET: %w", err)
	}
	return quiz.NewGenerator(quiz.Options{
		Client: quiz.NewOpenAIClient(a.cfg.OpenAIAPIKey, a.cfg.OpenAIBaseURL),
		Model:  a.cfg.QuizModel,
		Store:  a.store,
		Bucket: bucket,
		Log:    a.log,
	}), nil
}

// serverOptions fills the interface fields only for backends that exist.
func (a *app) serverOptions(db *database.DB, mq *mqttclient.Client) api.ServerOptions {
	opts := api.ServerOptions{
		Config:    a.cfg,
		Version:   version,
		StartTime: a.start,
		Log:       a.log.With().Str("component", "http").Logger(),
	}
	if db != nil {
		opts.DB = db
	}
	if mq != nil {
		opts.MQTT = mq
	}
	return opts
}

// serve runs srv until ctx is cancelled or the listener fails.
func (a *app) serve(ctx context.Context, srv *api.Server) int {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	code := 0
	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			a.log.Error().Err(err).Msg("http server error")
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("http server shutdown error")
	}
	a.log.Info().Msg("vidsearch stopped")
	return code
}

// indexSink loads each freshly written transcript into the database.
type indexSink struct {
	ix  *index.Indexer
	log zerolog.Logger
}

func (s *indexSink) PublishOutcome(o ingest.Outcome) {
	if o.Status != ingest.StatusSucceeded || o.Segments == 0 {
		return
	}
	ref, err := paths.ParseRef(o.Transcript)
	if err != nil {
		s.log.Warn().Err(err).Str("transcript", o.Transcript).Msg("cannot index transcript")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	sum, err := s.ix.IndexArtifact(ctx, ref)
	if err != nil {
		s.log.Warn().Err(err).Str("transcript", o.Transcript).Msg("indexing failed")
		return
	}
	s.log.Info().Str("video_id", sum.VideoID).Int("segments", sum.Segments).Msg("transcript indexed")
}

// requestRef extracts a video ref from an ingest request message. The payload
// is either the bare ref or a JSON object with a "video" field.
func requestRef(payload []byte) (string, bool) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var req struct {
			Video string `json:"video"`
		}
		if err := json.Unmarshal([]byte(s), &req); err != nil {
			return "", false
		}
		s = strings.TrimSpace(req.Video)
	}
	if _, err := paths.ParseRef(s); err != nil {
		return "", false
	}
	return s, true
}

// forwardEvents republishes outcome events received from the broker on bus,
// so API clients see ingests run by other processes.
func forwardEvents(bus *ingest.EventBus, log zerolog.Logger) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		var e ingest.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			log.Debug().Err(err).Str("topic", topic).Msg("ignoring non-event message")
			return
		}
		bus.Publish(e)
	}
}
