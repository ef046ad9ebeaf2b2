package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/config"
	"github.com/snarg/vidsearch/internal/storage"
)

var version = "dev"

const usage = `usage: vidsearch <command> [flags]

commands:
  ingest   process one video: -video gs://bucket/raw/talk.mp4
  batch    process every unprocessed video in a bucket: -bucket gs://bucket
  watch    watch the local raw/ directory and process new videos
  index    load transcript artifacts into the search database
  serve    run the search and quiz HTTP API

run "vidsearch <command> -h" for command flags`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var code int
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "ingest":
		code = runIngest(args)
	case "batch":
		code = runBatch(args)
	case "watch":
		code = runWatch(args)
	case "index":
		code = runIndex(args)
	case "serve":
		code = runServe(args)
	case "version", "-version", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		code = 2
	}
	os.Exit(code)
}

// commonFlags registers the config overrides every command accepts.
func commonFlags(fs *flag.FlagSet) *config.Overrides {
	var o config.Overrides
	fs.StringVar(&o.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	fs.StringVar(&o.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&o.StorageBackend, "storage", "", "Blob storage backend: local or s3")
	fs.StringVar(&o.LocalStorageDir, "storage-dir", "", "Root directory for the local blob store")
	fs.StringVar(&o.SpeechBackend, "speech", "", "Speech backend: google, whisper, deepinfra, elevenlabs")
	fs.StringVar(&o.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	fs.StringVar(&o.HTTPAddr, "listen", "", "HTTP listen address")
	return &o
}

// app is the process-wide state shared by every command.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *storage.Lazy
	start time.Time
}

func setup(o *config.Overrides) (*app, context.Context, context.CancelFunc) {
	start := time.Now()

	cfg, err := config.Load(*o)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("vidsearch starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{cfg: cfg, log: log, start: start}
	a.store = storage.NewLazy(func() (storage.BlobStore, error) {
		s, err := storage.New(cfg, log.With().Str("component", "storage").Logger())
		if err == nil {
			log.Info().Str("type", s.Type()).Msg("blob store ready")
		}
		return s, err
	})
	return a, ctx, stop
}
