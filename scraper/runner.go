package scraper

import (
	"context"
	"errors"

	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/stealth"
	"github.com/nikshitha/leadgen/storage"
)

// NewEngineChain builds the chain of public search engines named in cfg
func NewEngineChain(cfg config.SearchConfig, f *Fetcher, db *storage.Database, log *logger.Logger) (*Chain, error) {
	names := cfg.Engines
	if len(names) == 0 {
		names = EngineNames()
	}

	searchers := make([]Searcher, 0, len(names))
	for _, name := range names {
		e, err := NewEngine(name, f, cfg.MaxResultsPerSearch, db, log)
		if err != nil {
			return nil, err
		}
		searchers = append(searchers, e)
	}
	return NewChain(log, searchers...), nil
}

// Runner turns a query into leads: search, then scrape each profile with a
// pause in between
type Runner struct {
	searcher Searcher
	profiles ProfileSource
	stealth  *stealth.Manager
	limiter  *stealth.RateLimiter
	limits   config.RateLimitConfig
	db       *storage.Database // optional
	logger   *logger.Logger
}

// NewRunner creates a runner. rl and db may be nil.
func NewRunner(searcher Searcher, profiles ProfileSource, sm *stealth.Manager, rl *stealth.RateLimiter, limits config.RateLimitConfig, db *storage.Database, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	if sm == nil {
		sm = stealth.NewManager(config.DefaultConfig().Stealth, log)
	}
	return &Runner{
		searcher: searcher,
		profiles: profiles,
		stealth:  sm,
		limiter:  rl,
		limits:   limits,
		db:       db,
		logger:   log.WithModule("runner"),
	}
}

// Run searches for query and scrapes up to limit profiles. Profiles without
// a name are skipped. ErrNoResults is returned when the search finds nothing.
func (r *Runner) Run(ctx context.Context, query string, limit int) ([]lead.Lead, error) {
	log := r.logger.WithFields(map[string]interface{}{"query": query, "limit": limit})
	log.Info("Starting scrape run")

	runID := r.startRun(query)

	urls, err := r.searcher.Search(ctx, query, limit)
	if err != nil {
		r.finishRun(runID, 0, 0, err)
		return nil, err
	}
	if len(urls) == 0 {
		log.Warn("No profiles found")
		r.finishRun(runID, 0, 0, nil)
		return nil, ErrNoResults
	}

	var leads []lead.Lead
	for i, u := range urls {
		if r.limiter != nil && !r.limiter.CanPerformAction(stealth.ActionProfileView) {
			r.logger.RateLimit(stealth.ActionProfileView, i, r.limits.MaxProfileViewsPerDay)
			break
		}
		if i > 0 {
			if err := r.stealth.RandomDelay(ctx, r.limits.ProfileDelayMin, r.limits.ProfileDelayMax); err != nil {
				r.finishRun(runID, len(urls), len(leads), err)
				return leads, err
			}
		}

		l, err := r.profiles.Scrape(ctx, u)
		if r.limiter != nil {
			r.limiter.RecordAction(stealth.ActionProfileView)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.finishRun(runID, len(urls), len(leads), err)
				return leads, err
			}
			log.WithField("url", u).WithError(err).Warn("Profile scrape failed")
			continue
		}
		if l.Name == "" {
			log.WithField("url", u).Debug("Profile has no name, skipping")
			continue
		}
		leads = append(leads, l)
	}

	r.finishRun(runID, len(urls), len(leads), nil)
	if r.db != nil && len(leads) > 0 {
		if err := r.db.IncrementStat(storage.StatProfiles, len(leads)); err != nil {
			log.WithError(err).Warn("Failed to update profile counter")
		}
	}

	log.WithFields(map[string]interface{}{
		"urls":  len(urls),
		"leads": len(leads),
	}).Info("Scrape run completed")
	return leads, nil
}

func (r *Runner) startRun(query string) string {
	if r.db == nil {
		return ""
	}
	id, err := r.db.StartRun(storage.RunSearch, query)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to record scrape run")
		return ""
	}
	return id
}

func (r *Runner) finishRun(id string, urls, leads int, runErr error) {
	if r.db == nil || id == "" {
		return
	}
	if err := r.db.FinishRun(id, urls, leads, runErr); err != nil {
		r.logger.WithError(err).Warn("Failed to finish scrape run")
	}
}
