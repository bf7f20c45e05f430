package enrich

import (
	"context"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/storage"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// Enricher fills in and verifies lead email addresses
type Enricher struct {
	verifier    Verifier
	cache       Cache
	maxAlt      int
	concurrency int
	db          *storage.Database // optional
	logger      *logger.Logger

	verified atomic.Int64
}

// Stats summarizes an EnrichAll call
type Stats struct {
	Total    int `json:"total"`
	Enriched int `json:"enriched"`
	Failed   int `json:"failed"`
}

// NewEnricher creates an enricher. A nil cache disables caching; db may be nil.
func NewEnricher(v Verifier, c Cache, cfg config.EnrichmentConfig, db *storage.Database, log *logger.Logger) *Enricher {
	if log == nil {
		log = logger.Discard()
	}
	maxAlt := cfg.MaxAlternatives
	if maxAlt <= 0 {
		maxAlt = 2
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Enricher{
		verifier:    v,
		cache:       c,
		maxAlt:      maxAlt,
		concurrency: concurrency,
		db:          db,
		logger:      log.WithModule("enrich"),
	}
}

// Verify checks email, answering from the cache when possible. Only
// verdicts from the Hunter API are cached.
func (e *Enricher) Verify(ctx context.Context, email string) (Verification, error) {
	if e.cache != nil {
		v, ok, err := e.cache.GetVerification(ctx, email)
		if err != nil {
			e.logger.WithError(err).Warn("Verification cache read failed")
		} else if ok {
			return v, nil
		}
	}

	v, err := e.verifier.Verify(ctx, email)
	if err != nil {
		return v, err
	}
	e.verified.Add(1)

	if e.cache != nil && v.Source == SourceHunter {
		if err := e.cache.SetVerification(ctx, v); err != nil {
			e.logger.WithError(err).Warn("Verification cache write failed")
		}
	}
	return v, nil
}

// Domain resolves the web domain of company, or "" when unknown
func (e *Enricher) Domain(ctx context.Context, company string) (string, error) {
	if company == "" {
		return "", nil
	}
	if e.cache != nil {
		domain, ok, err := e.cache.GetDomain(ctx, company)
		if err != nil {
			e.logger.WithError(err).Warn("Domain cache read failed")
		} else if ok {
			return domain, nil
		}
	}

	domain, err := e.verifier.FindDomain(ctx, company)
	if err != nil {
		return "", err
	}
	if e.cache != nil && domain != "" {
		if err := e.cache.SetDomain(ctx, company, domain); err != nil {
			e.logger.WithError(err).Warn("Domain cache write failed")
		}
	}
	return domain, nil
}

// Enrich returns a copy of l with verification fields set. A lead that
// already has an email is only verified. Otherwise addresses are guessed
// at the company's domain and the best deliverable one is kept, with the
// runners-up as alternatives.
func (e *Enricher) Enrich(ctx context.Context, l lead.Lead) (lead.Lead, error) {
	out := l.Clone()

	if out.Email != "" {
		v, err := e.Verify(ctx, out.Email)
		if err != nil {
			return l, eris.Wrapf(err, "verify %s", out.Email)
		}
		out.EmailValid = lead.Bool(v.Valid)
		out.EmailScore = lead.Float(float64(v.Score))
		out.EmailSource = v.Source
		return out, nil
	}

	if out.Name == "" || out.Company == "" {
		return out, nil
	}

	domain, err := e.Domain(ctx, out.Company)
	if err != nil {
		return l, err
	}
	if domain == "" {
		e.logger.WithField("company", out.Company).Debug("No domain found for company")
		return out, nil
	}

	var valid []Verification
	for _, guess := range GuessEmails(out.Name, domain) {
		v, err := e.Verify(ctx, guess)
		if err != nil {
			return l, eris.Wrapf(err, "verify %s", guess)
		}
		if v.Valid {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return out, nil
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Score > valid[j].Score })

	best := valid[0]
	out.Email = best.Email
	out.EmailValid = lead.Bool(true)
	out.EmailScore = lead.Float(float64(best.Score))
	out.EmailSource = best.Source

	alts := []string{}
	for _, v := range valid[1:] {
		if len(alts) == e.maxAlt {
			break
		}
		alts = append(alts, v.Email)
	}
	out.AlternativeEmails = alts

	e.logger.WithFields(map[string]interface{}{
		"name":  out.Name,
		"email": best.Email,
		"score": best.Score,
	}).Info("Email found")
	return out, nil
}

// EnrichAll enriches leads concurrently. The result keeps input order; a
// lead whose enrichment fails is returned unchanged and counted in Failed.
func (e *Enricher) EnrichAll(ctx context.Context, leads []lead.Lead) ([]lead.Lead, Stats, error) {
	out := make([]lead.Lead, len(leads))
	stats := Stats{Total: len(leads)}
	if len(leads) == 0 {
		return out, stats, nil
	}

	runID := e.startRun(len(leads))
	before := e.verified.Load()

	var enriched, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, l := range leads {
		i, l := i, l
		g.Go(func() error {
			res, err := e.Enrich(gctx, l)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				e.logger.WithField("lead_id", l.ID).WithError(err).Warn("Enrichment failed")
				out[i] = l
				return nil
			}
			if changed(l, res) {
				enriched.Add(1)
			}
			out[i] = res
			return nil
		})
	}

	err := g.Wait()
	stats.Enriched = int(enriched.Load())
	stats.Failed = int(failed.Load())
	e.finishRun(runID, stats, int(e.verified.Load()-before), err)

	if err != nil {
		return nil, stats, eris.Wrap(err, "enrichment cancelled")
	}

	e.logger.WithFields(map[string]interface{}{
		"total":    stats.Total,
		"enriched": stats.Enriched,
		"failed":   stats.Failed,
	}).Info("Enrichment completed")
	return out, stats, nil
}

func changed(before, after lead.Lead) bool {
	return before.Email != after.Email ||
		(before.EmailValid == nil) != (after.EmailValid == nil) ||
		(before.EmailValid != nil && after.EmailValid != nil && *before.EmailValid != *after.EmailValid) ||
		before.EmailSource != after.EmailSource
}

func (e *Enricher) startRun(n int) string {
	if e.db == nil {
		return ""
	}
	id, err := e.db.StartRun(storage.RunEnrich, strconv.Itoa(n)+" leads")
	if err != nil {
		e.logger.WithError(err).Warn("Failed to record enrichment run")
		return ""
	}
	return id
}

func (e *Enricher) finishRun(id string, stats Stats, verified int, runErr error) {
	if e.db == nil {
		return
	}
	if verified > 0 {
		if err := e.db.IncrementStat(storage.StatEmailsVerified, verified); err != nil {
			e.logger.WithError(err).Warn("Failed to update verification counter")
		}
	}
	if id == "" {
		return
	}
	if err := e.db.FinishRun(id, stats.Total, stats.Enriched, runErr); err != nil {
		e.logger.WithError(err).Warn("Failed to finish enrichment run")
	}
}
