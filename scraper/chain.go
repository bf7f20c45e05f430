package scraper

import (
	"context"

	"github.com/nikshitha/leadgen/logger"
	"github.com/rotisserie/eris"
)

// Chain asks each searcher in turn until enough unique URLs are collected
type Chain struct {
	searchers []Searcher
	logger    *logger.Logger
}

// NewChain creates a chain over searchers, tried in order
func NewChain(log *logger.Logger, searchers ...Searcher) *Chain {
	if log == nil {
		log = logger.Discard()
	}
	return &Chain{searchers: searchers, logger: log.WithModule("search")}
}

// Name implements Searcher
func (c *Chain) Name() string {
	return "chain"
}

// Search collects up to limit unique URLs. A failing searcher is skipped;
// ErrSearchUnavailable is returned only when every searcher failed.
func (c *Chain) Search(ctx context.Context, query string, limit int) ([]string, error) {
	seen := make(map[string]bool)
	var urls []string
	var lastErr error
	failures := 0

	for _, s := range c.searchers {
		if limit > 0 && len(urls) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return urls, err
		}

		remaining := 0
		if limit > 0 {
			remaining = limit - len(urls)
		}

		found, err := s.Search(ctx, query, remaining)
		if err != nil {
			c.logger.WithField("engine", s.Name()).WithError(err).Warn("Search engine failed, trying next")
			lastErr = err
			failures++
			continue
		}

		added := 0
		for _, u := range found {
			if seen[u] {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
			added++
			if limit > 0 && len(urls) >= limit {
				break
			}
		}

		c.logger.WithFields(map[string]interface{}{
			"engine": s.Name(),
			"added":  added,
			"total":  len(urls),
		}).Info("Collected profile URLs")
	}

	if len(c.searchers) > 0 && failures == len(c.searchers) {
		return nil, eris.Wrapf(ErrSearchUnavailable, "last error: %v", lastErr)
	}
	return urls, nil
}
