package scraper

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/metrics"
	"github.com/nikshitha/leadgen/storage"
	"github.com/rotisserie/eris"
)

const (
	nameSelectors     = `h1, .name, .profile-name, [class*="name"], [id*="name"]`
	titleSelectors    = `.title, .job-title, .profession, [class*="title"], [class*="position"]`
	companySelectors  = `.company, .organization, [class*="company"], [class*="organization"]`
	locationSelectors = `.location, [class*="location"], address`
)

// WebsiteScraper pulls a contact lead out of an arbitrary web page
type WebsiteScraper struct {
	fetcher *Fetcher
	db      *storage.Database // optional
	logger  *logger.Logger
}

// NewWebsiteScraper creates a website scraper. db may be nil.
func NewWebsiteScraper(f *Fetcher, db *storage.Database, log *logger.Logger) *WebsiteScraper {
	if log == nil {
		log = logger.Discard()
	}
	return &WebsiteScraper{fetcher: f, db: db, logger: log.WithModule("website")}
}

// Scrape fetches pageURL and returns a normalized lead
func (w *WebsiteScraper) Scrape(ctx context.Context, pageURL string) (lead.Lead, error) {
	runID := w.startRun(pageURL)

	doc, err := w.fetcher.Document(ctx, pageURL)
	if err != nil {
		metrics.RecordScrape("website", "error")
		w.finishRun(runID, 0, err)
		return lead.Lead{}, eris.Wrapf(err, "failed to fetch %s", pageURL)
	}

	l := lead.Normalize(ParseWebsite(doc, pageURL))
	metrics.RecordScrape("website", "ok")
	w.finishRun(runID, 1, nil)

	w.logger.WithFields(map[string]interface{}{
		"url":    pageURL,
		"emails": len(l.Emails),
	}).Info("Website scraped")
	return l, nil
}

func (w *WebsiteScraper) startRun(pageURL string) string {
	if w.db == nil {
		return ""
	}
	id, err := w.db.StartRun(storage.RunWebsite, pageURL)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to record scrape run")
		return ""
	}
	return id
}

func (w *WebsiteScraper) finishRun(id string, leads int, runErr error) {
	if w.db == nil || id == "" {
		return
	}
	if err := w.db.FinishRun(id, 1, leads, runErr); err != nil {
		w.logger.WithError(err).Warn("Failed to finish scrape run")
	}
}

// ParseWebsite extracts contact fields from a page using common class names.
// Company falls back to the page's domain.
func ParseWebsite(doc *goquery.Document, pageURL string) lead.Lead {
	l := lead.Lead{
		Name:      firstText(doc, nameSelectors),
		Title:     firstText(doc, titleSelectors),
		Company:   firstText(doc, companySelectors),
		Location:  firstText(doc, locationSelectors),
		SourceURL: pageURL,
		Emails:    []string{},
	}

	if html, err := doc.Html(); err == nil {
		l.Emails = UniqueEmails(html)
	}
	if len(l.Emails) > 0 {
		l.Email = l.Emails[0]
	}

	if l.Company == "" {
		l.Company = Domain(pageURL)
	}
	return l
}

func firstText(doc *goquery.Document, selectors string) string {
	return strings.TrimSpace(doc.Find(selectors).First().Text())
}
