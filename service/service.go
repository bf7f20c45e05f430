// Package service implements the lead operations exposed over HTTP and the
// CLI. Every mutation runs load, mutate and save under the store lock.
package service

import (
	"context"
	"errors"

	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/metrics"
	"github.com/nikshitha/leadgen/store"
	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound is returned for an id that is not in the store
	ErrNotFound = errors.New("lead not found")
	// ErrInvalidInput is returned when a payload carries no lead fields
	ErrInvalidInput = errors.New("invalid lead input")
	// ErrPersistence is returned when the store cannot be written
	ErrPersistence = store.ErrPersistence
)

// Store is the persistence the service needs
type Store interface {
	Load() []lead.Lead
	Update(fn func(leads []lead.Lead) ([]lead.Lead, error)) error
	View(fn func(leads []lead.Lead) error) error
}

// Service is the lead API surface
type Service struct {
	store Store
	log   *logger.Logger
}

// New creates a lead service over st
func New(st Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store: st,
		log:   log.WithModule("service"),
	}
}

// List returns every stored lead in on-disk order
func (s *Service) List(ctx context.Context) []lead.Lead {
	var out []lead.Lead
	_ = s.store.View(func(leads []lead.Lead) error {
		out = leads
		return nil
	})
	if out == nil {
		out = []lead.Lead{}
	}
	return out
}

// Count returns the number of stored leads
func (s *Service) Count(ctx context.Context) int {
	return len(s.List(ctx))
}

// Get returns the lead with the given id
func (s *Service) Get(ctx context.Context, id int) (lead.Lead, error) {
	var found lead.Lead
	err := s.store.View(func(leads []lead.Lead) error {
		i := indexOf(leads, id)
		if i < 0 {
			return eris.Wrapf(ErrNotFound, "id %d", id)
		}
		found = leads[i]
		return nil
	})
	return found, err
}

// Create assigns a new id, normalizes and stores the lead. Any id in the
// payload is ignored.
func (s *Service) Create(ctx context.Context, in lead.Lead) (lead.Lead, error) {
	if in.IsEmpty() {
		return lead.Lead{}, eris.Wrap(ErrInvalidInput, "lead has no fields")
	}

	var created lead.Lead
	err := s.store.Update(func(leads []lead.Lead) ([]lead.Lead, error) {
		in.ID = store.NextID(leads)
		created = lead.Normalize(in)
		return append(leads, created), nil
	})
	if err != nil {
		return lead.Lead{}, err
	}

	metrics.RecordLeadsCreated(1)
	s.log.WithField("lead_id", created.ID).Info("Lead created")
	return created, nil
}

// Update replaces the whole record for id, keeping the id
func (s *Service) Update(ctx context.Context, id int, in lead.Lead) (lead.Lead, error) {
	if in.IsEmpty() {
		return lead.Lead{}, eris.Wrap(ErrInvalidInput, "lead has no fields")
	}

	var updated lead.Lead
	err := s.store.Update(func(leads []lead.Lead) ([]lead.Lead, error) {
		i := indexOf(leads, id)
		if i < 0 {
			return nil, eris.Wrapf(ErrNotFound, "id %d", id)
		}
		in.ID = id
		updated = lead.Normalize(in)
		leads[i] = updated
		return leads, nil
	})
	if err != nil {
		return lead.Lead{}, err
	}

	s.log.WithField("lead_id", id).Info("Lead updated")
	return updated, nil
}

// Delete removes the lead with the given id and returns it
func (s *Service) Delete(ctx context.Context, id int) (lead.Lead, error) {
	var removed lead.Lead
	err := s.store.Update(func(leads []lead.Lead) ([]lead.Lead, error) {
		i := indexOf(leads, id)
		if i < 0 {
			return nil, eris.Wrapf(ErrNotFound, "id %d", id)
		}
		removed = leads[i]
		return append(leads[:i], leads[i+1:]...), nil
	})
	if err != nil {
		return lead.Lead{}, err
	}

	s.log.WithField("lead_id", id).Info("Lead deleted")
	return removed, nil
}

// NormalizeAll re-normalizes every stored lead and returns the count
func (s *Service) NormalizeAll(ctx context.Context) (int, error) {
	var count int
	err := s.store.Update(func(leads []lead.Lead) ([]lead.Lead, error) {
		out := lead.NormalizeAll(leads)
		count = len(out)
		return out, nil
	})
	if err != nil {
		return 0, err
	}

	s.log.StoreEvent("normalize", count)
	return count, nil
}

// DedupeAll collapses duplicate leads, renumbers ids and returns how many
// leads remain. Leads with neither email nor source_url are discarded and
// logged.
func (s *Service) DedupeAll(ctx context.Context) (int, error) {
	var stats lead.DedupeStats
	err := s.store.Update(func(leads []lead.Lead) ([]lead.Lead, error) {
		var out []lead.Lead
		out, stats = lead.DedupeWithStats(leads)
		return out, nil
	})
	if err != nil {
		return 0, err
	}

	if stats.Dropped > 0 {
		s.log.WithField("dropped", stats.Dropped).Warn("Dedupe discarded leads without email or source_url")
	}
	s.log.WithFields(map[string]interface{}{
		"input":           stats.Input,
		"merged_by_email": stats.MergedByEmail,
		"merged_by_url":   stats.MergedByURL,
	}).Info("Dedupe finished")

	metrics.RecordLeadsDeduplicated(stats.Input - stats.Output)
	s.log.StoreEvent("dedupe", stats.Output)
	return stats.Output, nil
}

// Merge upserts a scraped lead. A stored lead with the same non-empty
// source_url is merged according to policy; otherwise the lead is appended
// with a new id.
func (s *Service) Merge(ctx context.Context, in lead.Lead, policy lead.MergePolicy) (lead.Lead, error) {
	if in.IsEmpty() {
		return lead.Lead{}, eris.Wrap(ErrInvalidInput, "lead has no fields")
	}

	var (
		stored  lead.Lead
		created bool
	)
	err := s.store.Update(func(leads []lead.Lead) ([]lead.Lead, error) {
		if in.SourceURL != "" {
			for i := range leads {
				if leads[i].SourceURL == in.SourceURL {
					stored = lead.Normalize(lead.Merge(leads[i], in, policy))
					leads[i] = stored
					return leads, nil
				}
			}
		}
		in.ID = store.NextID(leads)
		stored = lead.Normalize(in)
		created = true
		return append(leads, stored), nil
	})
	if err != nil {
		return lead.Lead{}, err
	}

	if created {
		metrics.RecordLeadsCreated(1)
	}
	s.log.WithFields(map[string]interface{}{
		"lead_id": stored.ID,
		"policy":  policy.String(),
		"created": created,
	}).Info("Lead merged")
	return stored, nil
}

// AppendAll stores every non-empty lead with fresh ids, in order, and
// returns the stored copies.
func (s *Service) AppendAll(ctx context.Context, in []lead.Lead) ([]lead.Lead, error) {
	var added []lead.Lead
	err := s.store.Update(func(leads []lead.Lead) ([]lead.Lead, error) {
		next := store.NextID(leads)
		for _, l := range in {
			if l.IsEmpty() {
				continue
			}
			l.ID = next
			next++
			n := lead.Normalize(l)
			added = append(added, n)
			leads = append(leads, n)
		}
		return leads, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordLeadsCreated(len(added))
	s.log.StoreEvent("append", len(added))
	return added, nil
}

// ApplyEnrichment merges enrichment results back into the stored leads.
// snapshot is the list the enricher ran on and enriched holds its results
// at the same positions. A stored lead is only updated while its id, name,
// email and source_url still match the snapshot, so leads deleted, edited
// or renumbered in the meantime are skipped. It returns the number of
// leads updated.
func (s *Service) ApplyEnrichment(ctx context.Context, snapshot, enriched []lead.Lead) (int, error) {
	if len(snapshot) != len(enriched) {
		return 0, eris.Wrapf(ErrInvalidInput, "%d enrichment results for %d leads", len(enriched), len(snapshot))
	}

	type result struct {
		before lead.Lead
		after  lead.Lead
	}
	byID := make(map[int]result, len(snapshot))
	for i := range snapshot {
		byID[snapshot[i].ID] = result{before: snapshot[i], after: enriched[i]}
	}

	var updated, stale int
	err := s.store.Update(func(leads []lead.Lead) ([]lead.Lead, error) {
		for i := range leads {
			r, ok := byID[leads[i].ID]
			if !ok {
				continue
			}
			if !sameIdentity(leads[i], r.before) {
				stale++
				continue
			}
			leads[i] = lead.MergeEnrichment(leads[i], r.after)
			updated++
		}
		return leads, nil
	})
	if err != nil {
		return 0, err
	}

	if stale > 0 {
		s.log.WithField("stale", stale).Warn("Skipped enrichment results for leads changed during enrichment")
	}
	s.log.StoreEvent("enrich", updated)
	return updated, nil
}

func sameIdentity(a, b lead.Lead) bool {
	return a.Name == b.Name && a.Email == b.Email && a.SourceURL == b.SourceURL
}

func indexOf(leads []lead.Lead, id int) int {
	for i, l := range leads {
		if l.ID == id {
			return i
		}
	}
	return -1
}
