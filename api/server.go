// Package api serves the lead store and its collaborators over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nikshitha/leadgen/auth"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/enrich"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/metrics"
	"github.com/nikshitha/leadgen/service"
	"github.com/nikshitha/leadgen/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
)

// Version is reported by /api/status and /health
const Version = "1.0.0"

// LeadRunner turns a search query into scraped leads
type LeadRunner interface {
	Run(ctx context.Context, query string, limit int) ([]lead.Lead, error)
}

// PageScraper scrapes a single page into a lead
type PageScraper interface {
	Scrape(ctx context.Context, url string) (lead.Lead, error)
}

// LeadEnricher verifies and guesses lead emails
type LeadEnricher interface {
	EnrichAll(ctx context.Context, leads []lead.Lead) ([]lead.Lead, enrich.Stats, error)
}

// LinkedInAuth manages the LinkedIn browser login
type LinkedInAuth interface {
	Login(ctx context.Context, method, email, password string) (auth.Status, error)
	Status(ctx context.Context) auth.Status
	Logout(ctx context.Context) (auth.Status, error)
}

// ActivityLog is the scrape run and search history
type ActivityLog interface {
	GetRun(id string) (*storage.ScrapeRun, error)
	RecentRuns(limit int) ([]*storage.ScrapeRun, error)
	SearchHistory(limit int) ([]*storage.SearchRecord, error)
	GetTodayStats() (*storage.DailyStats, error)
}

// Pinger is a dependency checked by /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Only Leads is required;
// routes whose collaborator is nil answer 503.
type Deps struct {
	Leads     *service.Service
	Runner    LeadRunner
	Companies LeadRunner
	Website   PageScraper
	Profiles  PageScraper
	Enricher  LeadEnricher
	Auth      LinkedInAuth
	Activity  ActivityLog

	// Checked by /health, keyed by dependency name
	Health map[string]Pinger

	// Run on shutdown, after the HTTP server has stopped
	OnShutdown []func() error
}

// Server is the HTTP API
type Server struct {
	config  *config.Config
	deps    Deps
	logger  *logger.Logger
	router  chi.Router
	started time.Time
}

// NewServer builds the router for deps
func NewServer(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		config:  cfg,
		deps:    deps,
		logger:  log.WithModule("api"),
		started: time.Now(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/search", s.handlePreviewSearch)
		r.Get("/activity", s.handleActivity)
		r.Get("/activity/runs/{id}", s.handleGetRun)

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", s.handleListLeads)
			r.Post("/", s.handleCreateLead)
			r.Post("/search", s.handleSearch)
			r.Post("/enrich", s.handleEnrich)
			r.Get("/{id}", s.handleGetLead)
			r.Put("/{id}", s.handleUpdateLead)
			r.Delete("/{id}", s.handleDeleteLead)
		})

		r.Post("/clean-data", s.handleCleanData)
		r.Post("/clean-all", s.handleCleanAll)
		r.Post("/scrape-website", s.handleScrapeWebsite)

		r.Route("/linkedin", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Get("/login-status", s.handleLoginStatus)
			r.Post("/logout", s.handleLogout)
			r.Post("/scrape-profile", s.handleScrapeProfile)
		})

		r.Post("/export/csv", s.handleExportCSV)
		r.Post("/export/sheets", s.handleExportXLSX)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.HTTPRequest(r.Method, r.URL.Path, status, time.Since(start), middleware.GetReqID(r.Context()))
	})
}

// Run serves on the configured address until ctx is done, then shuts the
// server down and runs the shutdown hooks
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = err
	case <-ctx.Done():
	}

	timeout := time.Duration(s.config.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	s.shutdownHooks()

	if serveErr != nil {
		return eris.Wrap(serveErr, "http server failed")
	}
	return nil
}

func (s *Server) shutdownHooks() {
	for _, fn := range s.deps.OnShutdown {
		if err := fn(); err != nil {
			s.logger.WithError(err).Warn("Shutdown hook failed")
		}
	}
}
