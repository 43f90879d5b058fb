package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/config"
	"github.com/snarg/call-engine/internal/database"
	"github.com/snarg/call-engine/internal/metrics"
	"github.com/snarg/call-engine/internal/mqttclient"
	"github.com/snarg/call-engine/internal/storage"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Deps are the wired components the HTTP surface exposes.
type Deps struct {
	DB         *database.DB
	MQTT       *mqttclient.Client // nil when ingest is disabled
	Queue      JobQueue
	AudioStore storage.AudioStore
	Version    string
	StartTime  time.Time
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", promhttp.Handler())

	health := NewHealthHandler(deps.DB, deps.MQTT, deps.Queue, deps.Version, deps.StartTime)
	calls := NewCallsHandler(deps.DB, deps.Queue, deps.AudioStore, log)

	r.Route("/api/v1", func(r chi.Router) {
		// Health stays unauthenticated for load balancer probes.
		r.Get("/health", health.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			calls.Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
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
