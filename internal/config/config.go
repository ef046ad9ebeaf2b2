package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Blob storage. "local" keeps objects under LocalStorageDir/<bucket>/<key>.
	StorageBackend  string   `env:"STORAGE_BACKEND" envDefault:"local"`
	LocalStorageDir string   `env:"LOCAL_STORAGE_DIR" envDefault:"./data"`
	S3              S3Config `envPrefix:"S3_"`

	// Speech-to-text
	SpeechBackend    string        `env:"SPEECH_BACKEND" envDefault:"google"`
	SpeechAPIURL     string        `env:"SPEECH_API_URL" envDefault:"https://speech.googleapis.com"`
	SpeechProject    string        `env:"SPEECH_PROJECT"`
	SpeechLocation   string        `env:"SPEECH_LOCATION" envDefault:"global"`
	SpeechRecognizer string        `env:"SPEECH_RECOGNIZER" envDefault:"video-search-ingestion-recognizer-v3"`
	SpeechLanguage   string        `env:"SPEECH_LANGUAGE" envDefault:"en-US"`
	SpeechModel      string        `env:"SPEECH_MODEL" envDefault:"latest_long"`
	InlineResults    bool          `env:"SPEECH_INLINE_RESULTS" envDefault:"false"`
	WhisperURL       string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel     string        `env:"WHISPER_MODEL"`
	ProviderAPIKey   string        `env:"STT_API_KEY"`
	ProviderTimeout  time.Duration `env:"STT_TIMEOUT" envDefault:"30m"`

	// Visual text detection
	VisionAPIURL string `env:"VISION_API_URL" envDefault:"https://videointelligence.googleapis.com"`

	// Bearer token for the Google REST APIs. Use `gcloud auth print-access-token`.
	GoogleAccessToken string `env:"GOOGLE_ACCESS_TOKEN"`

	// Long-running operation polling
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	PollTimeout   time.Duration `env:"POLL_TIMEOUT" envDefault:"1h"`
	PollHeartbeat time.Duration `env:"POLL_HEARTBEAT" envDefault:"30s"`

	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`

	// Downstream index (optional)
	DatabaseURL    string `env:"DATABASE_URL"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns     int32  `env:"DB_MIN_CONNS" envDefault:"1"`
	OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	QuizModel      string `env:"QUIZ_MODEL" envDefault:"gpt-4o-mini"`
	// Quiz artifacts are written under <bucket>/quizzes/.
	QuizBucket string `env:"QUIZ_BUCKET"`

	// Ingest events (optional)
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"vidsearch"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`
	// Outcomes go to <prefix>/<status>.
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"vidsearch/ingest"`
	// Video refs received here are queued for ingest by the watch command.
	MQTTRequestTopic string `env:"MQTT_REQUEST_TOPIC" envDefault:"vidsearch/requests"`

	// Watch mode
	WatchBucket     string        `env:"WATCH_BUCKET"`
	WatchBackfill   bool          `env:"WATCH_BACKFILL" envDefault:"true"`
	WatchDebounce   time.Duration `env:"WATCH_DEBOUNCE" envDefault:"2s"`
	IngestQueueSize int           `env:"INGEST_QUEUE_SIZE" envDefault:"100"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	// Quiz requests per second per client IP.
	QuizRateLimit float64 `env:"QUIZ_RATE_LIMIT" envDefault:"0.5"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config configures the S3-compatible blob store. Endpoint may point at any
// S3-interoperable service (MinIO, GCS interoperability with HMAC keys).
type S3Config struct {
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`

	// LocalCache mirrors objects under LOCAL_STORAGE_DIR so repeated reads
	// (video downloads, scratch results) stay off the network.
	LocalCache bool `env:"LOCAL_CACHE" envDefault:"false"`
}

// Enabled reports whether static credentials were supplied.
func (c S3Config) Enabled() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile         string
	LogLevel        string
	StorageBackend  string
	LocalStorageDir string
	SpeechBackend   string
	DatabaseURL     string
	HTTPAddr        string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.StorageBackend != "" {
		cfg.StorageBackend = overrides.StorageBackend
	}
	if overrides.LocalStorageDir != "" {
		cfg.LocalStorageDir = overrides.LocalStorageDir
	}
	if overrides.SpeechBackend != "" {
		cfg.SpeechBackend = overrides.SpeechBackend
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}

	return cfg, nil
}
