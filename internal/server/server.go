// Package server exposes the scrape and analysis services over a JSON
// HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/laundrolyzer/laundrolyzer/internal/analysis"
	"github.com/laundrolyzer/laundrolyzer/internal/scrape"
	"github.com/laundrolyzer/laundrolyzer/pkg/firecrawl"
)

// Server wires the HTTP routes to the scrape and analysis services.
type Server struct {
	scrape   *scrape.Service
	analysis *analysis.Service
	fc       firecrawl.Client
	log      *zap.Logger
}

// New creates a Server. fc may be nil when Firecrawl is not configured;
// the diagnostic endpoint then reports that instead of probing the API.
func New(scrapeSvc *scrape.Service, analysisSvc *analysis.Service, fc firecrawl.Client) *Server {
	return &Server{
		scrape:   scrapeSvc,
		analysis: analysisSvc,
		fc:       fc,
		log:      zap.L().Named("server"),
	}
}

// Routes builds the router with middleware and all API endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/scrape", s.handleScrape)
	r.Get("/get-scrape", s.handleGetScrape)
	r.Post("/business-score", s.handleBusinessScore)
	r.Post("/recommendation", s.handleRecommendation)
	r.Post("/demographics", s.handleDemographics)
	r.Get("/get-analysis", s.handleGetAnalysis)
	r.Get("/test-firecrawl", s.handleTestFirecrawl)

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
