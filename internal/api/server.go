package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/config"
	"github.com/snarg/vidsearch/internal/index"
	"github.com/snarg/vidsearch/internal/metrics"
)

// Database is everything the API reads from the index store.
type Database interface {
	Pinger
	QueryRunner
	IndexReader
}

// ServerOptions wires the optional backends. Nil fields disable their routes.
type ServerOptions struct {
	Config    *config.Config
	DB        Database
	MQTT      ConnChecker
	Events    EventSource
	Watcher   WatchStatus
	Queue     QueueStats
	Embedder  index.Embedder
	Quiz      QuizGenerator
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		http: &http.Server{
			Addr:         opts.Config.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  opts.Config.ReadTimeout,
			WriteTimeout: opts.Config.WriteTimeout,
			IdleTimeout:  opts.Config.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the HTTP handler tree.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	// Health and metrics: no auth
	var db Pinger
	if opts.DB != nil {
		db = opts.DB
	}
	health := NewHealthHandler(db, opts.MQTT, opts.Watcher, opts.Queue, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		NewEventsHandler(opts.Events).Routes(r)

		if opts.DB != nil {
			NewSegmentsHandler(opts.DB, opts.Embedder).Routes(r)

			r.Group(func(r chi.Router) {
				r.Use(RequireAuth(cfg.AuthToken))
				NewQueryHandler(opts.DB).Routes(r)
			})
		}

		if opts.Quiz != nil {
			var search SegmentSearcher
			if opts.DB != nil {
				search = opts.DB
			}
			r.Group(func(r chi.Router) {
				r.Use(RateLimiter(cfg.QuizRateLimit, 2))
				NewQuizHandler(opts.Quiz, search).Routes(r)
			})
		}
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
