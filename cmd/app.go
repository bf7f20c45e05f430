package main

import (
	"context"
	"time"

	"github.com/nikshitha/leadgen/api"
	"github.com/nikshitha/leadgen/auth"
	"github.com/nikshitha/leadgen/browser"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/enrich"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/scraper"
	"github.com/nikshitha/leadgen/service"
	"github.com/nikshitha/leadgen/stealth"
	"github.com/nikshitha/leadgen/storage"
	"github.com/nikshitha/leadgen/store"
	"github.com/rotisserie/eris"
)

// Application holds all components of the tool
type Application struct {
	config      *config.Config
	logger      *logger.Logger
	db          *storage.Database
	stealth     *stealth.Manager
	rateLimiter *stealth.RateLimiter
	session     *browser.Session
	auth        *auth.Authenticator

	leads     *service.Service
	runner    *scraper.Runner
	companies *scraper.CompanyContacts
	website   *scraper.WebsiteScraper
	profiles  *scraper.BrowserProfileScraper
	linkedIn  *scraper.LinkedInSearcher
	hunter    *enrich.HunterClient
	redis     *enrich.RedisCache
	enricher  *enrich.Enricher
}

// NewApplication wires every component from cfg. Nothing is launched yet;
// the browser starts on first login.
func NewApplication(cfg *config.Config, log *logger.Logger) (*Application, error) {
	db, err := storage.NewDatabase(cfg.Storage.DatabasePath, log)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize database")
	}

	sm := stealth.NewManager(cfg.Stealth, log)
	rl := stealth.NewRateLimiter(cfg.RateLimits, log)
	session := browser.NewSession(cfg.Browser, sm, log)

	app := &Application{
		config:      cfg,
		logger:      log,
		db:          db,
		stealth:     sm,
		rateLimiter: rl,
		session:     session,
		auth:        auth.NewAuthenticator(cfg, session, sm, db, log),
		leads:       service.New(store.New(cfg.Leads.DataFile, log), log),
	}

	fetcher := scraper.NewFetcher(cfg.RequestTimeout(), cfg.Search.MaxRetries, sm, log)
	chain, err := scraper.NewEngineChain(cfg.Search, fetcher, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	app.runner = scraper.NewRunner(chain, scraper.NewProfileScraper(fetcher, log), sm, rl, cfg.RateLimits, db, log)
	app.companies = scraper.NewCompanyContacts(fetcher, app.runner, sm, cfg.RateLimits, db, log)
	app.website = scraper.NewWebsiteScraper(fetcher, db, log)
	app.profiles = scraper.NewBrowserProfileScraper(session, sm, rl, db, log)
	app.linkedIn = scraper.NewLinkedInSearcher(session, sm, rl, db, log)

	app.hunter = enrich.NewHunterClient(cfg.Enrichment, cfg.RequestTimeout(), log)
	var cache enrich.Cache = enrich.NewMemoryCache()
	if cfg.Cache.RedisAddr != "" {
		app.redis = enrich.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		cache = app.redis
	}
	app.enricher = enrich.NewEnricher(app.hunter, cache, cfg.Enrichment, db, log)

	if !app.hunter.HasAPIKey() {
		log.Warn("HUNTER_API_KEY not set, emails are checked by format only and no addresses are guessed")
	}
	return app, nil
}

// LinkedInRunner searches LinkedIn itself through the logged-in browser
// session instead of the public search engines
func (app *Application) LinkedInRunner() *scraper.Runner {
	return scraper.NewRunner(app.linkedIn, app.profiles, app.stealth, app.rateLimiter, app.config.RateLimits, app.db, app.logger)
}

// Server builds the HTTP API over the application's components
func (app *Application) Server() *api.Server {
	health := map[string]api.Pinger{"activity_db": app.db}
	if app.redis != nil {
		health["redis"] = app.redis
	} else {
		health["redis"] = nil
	}

	return api.NewServer(app.config, api.Deps{
		Leads:      app.leads,
		Runner:     app.runner,
		Companies:  app.companies,
		Website:    app.website,
		Profiles:   app.profiles,
		Enricher:   app.enricher,
		Auth:       app.auth,
		Activity:   app.db,
		Health:     health,
		OnShutdown: []func() error{app.session.Close},
	}, app.logger)
}

// showDailyStats logs today's activity counters
func (app *Application) showDailyStats() {
	stats, err := app.db.GetTodayStats()
	if err != nil {
		app.logger.WithError(err).Warn("Failed to get daily stats")
		return
	}

	app.logger.WithFields(map[string]interface{}{
		"searches":        stats.SearchesPerformed,
		"profiles":        stats.ProfilesScraped,
		"max_profiles":    app.config.RateLimits.MaxProfileViewsPerDay,
		"leads_saved":     stats.LeadsSaved,
		"emails_verified": stats.EmailsVerified,
		"exports":         stats.Exports,
	}).Info("Today's activity")
}

// recordStat bumps a daily counter, logging failures
func (app *Application) recordStat(stat string, n int) {
	if err := app.db.IncrementStat(stat, n); err != nil {
		app.logger.WithError(err).WithField("stat", stat).Warn("Failed to update daily stats")
	}
}

// Close releases the browser, the cache connection and the database
func (app *Application) Close() {
	app.logger.Info("Shutting down...")

	if err := app.session.Close(); err != nil {
		app.logger.WithError(err).Warn("Failed to close browser")
	}
	if app.redis != nil {
		app.redis.Close()
	}
	app.db.Close()

	app.logger.Info("Cleanup complete")
}

// pingRedis reports an unreachable cache at startup; enrichment still works
// with every lookup going to the API.
func (app *Application) pingRedis(ctx context.Context) {
	if app.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := app.redis.Ping(ctx); err != nil {
		app.logger.WithError(err).WithField("addr", app.config.Cache.RedisAddr).Warn("Redis cache unreachable")
	}
}
