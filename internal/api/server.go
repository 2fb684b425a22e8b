package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/merge"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/worker"
)

// MergeQueue runs merges synchronously or queues them for the worker pool.
type MergeQueue interface {
	Run(job worker.Job) *worker.Result
	Enqueue(job worker.Job) error
	Stats() worker.QueueStats
}

// RunStore reads stored merge runs.
type RunStore interface {
	GetMergeRun(ctx context.Context, id string) (*database.MergeRunAPI, error)
	ListMergeRuns(ctx context.Context, filter database.MergeRunFilter) ([]database.MergeRunAPI, int, error)
	ListMergedSegments(ctx context.Context, runID, speaker string) ([]merge.MergedSegment, error)
}

// ServerOptions wires the HTTP server to the rest of the service. Optional
// dependencies must be left as untyped nil when absent.
type ServerOptions struct {
	Config    *config.Config
	DB        DBPinger
	Runs      RunStore
	Queue     MergeQueue
	Store     storage.Store
	MQTT      MQTTStatus    // optional
	Watcher   WatcherSource // optional
	Events    EventSource   // optional
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the chi router with all middleware and routes.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	log := opts.Log.With().Str("component", "api").Logger()

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	// Prometheus scrape endpoint, no auth
	r.Handle("/metrics", promhttp.Handler())

	health := NewHealthHandler(opts.DB, opts.MQTT, opts.Watcher, opts.Queue, opts.Version, opts.StartTime)
	merges := NewMergeHandler(opts.Queue, opts.Store, log)
	jobs := NewJobsHandler(opts.Queue, opts.Runs, opts.Store, log)
	events := NewEventsHandler(opts.Events, cfg.CORSOrigins)

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		r.Get("/health", health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Use(MaxBodySize(cfg.MaxBodyBytes))
			merges.Routes(r)
			jobs.Routes(r)
			events.Routes(r)
		})
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
