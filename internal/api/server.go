package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mkarpis/leadpipe/internal/config"
	"github.com/mkarpis/leadpipe/internal/dedupe"
	"github.com/mkarpis/leadpipe/internal/eligibility"
	"github.com/mkarpis/leadpipe/internal/runner"
	"github.com/mkarpis/leadpipe/internal/storage"
	"github.com/mkarpis/leadpipe/internal/validate"
)

// Deps bundles everything the handlers need.
type Deps struct {
	Store      storage.Storage
	Manager    *runner.Manager
	Filter     *eligibility.Filter
	Validator  *validate.Validator
	Dupes      *dedupe.Checker
	Injection  config.InjectionConfig
	AdminToken string
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	poolHandler := NewPoolHandler(s.deps.Store)
	advHandler := NewAdvertiserHandler(s.deps.Store)
	cmpHandler := NewCampaignHandler(s.deps)
	dedupeHandler := NewDedupeHandler(s.deps.Store, s.deps.Dupes)
	statsHandler := NewStatsHandler(s.deps.Store)

	r.Get("/health", statsHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.deps.AdminToken != "" {
			r.Use(AuthMiddleware(s.deps.AdminToken))
		}

		// Lead pools
		r.Post("/pools", poolHandler.Create)
		r.Get("/pools", poolHandler.List)
		r.Get("/pools/{id}/entries", poolHandler.Entries)
		r.Post("/pools/{id}/entries", poolHandler.AddEntries)
		r.Post("/pools/{id}/import", poolHandler.ImportCSV)
		r.Patch("/entries/{id}/hide", poolHandler.Hide)

		// Advertisers
		r.Post("/advertisers", advHandler.Create)
		r.Get("/advertisers", advHandler.List)
		r.Patch("/advertisers/{id}/toggle", advHandler.Toggle)

		// Campaigns
		r.Post("/campaigns", cmpHandler.Create)
		r.Get("/campaigns", cmpHandler.List)
		r.Get("/campaigns/{id}", cmpHandler.Get)
		r.Post("/campaigns/{id}/eligibility", cmpHandler.Eligibility)
		r.Post("/campaigns/{id}/enroll", cmpHandler.Enroll)
		r.Get("/campaigns/{id}/validate", cmpHandler.Validate)
		r.Post("/campaigns/{id}/start", cmpHandler.Start)
		r.Post("/campaigns/{id}/pause", cmpHandler.Pause)
		r.Post("/campaigns/{id}/resume", cmpHandler.Start)
		r.Post("/campaigns/{id}/cancel", cmpHandler.Cancel)
		r.Get("/campaigns/{id}/progress", cmpHandler.Progress)
		r.Get("/campaigns/{id}/leads", cmpHandler.Leads)

		// Dedupe lookups
		r.Get("/dedupe/check", dedupeHandler.Check)

		// Stats
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
