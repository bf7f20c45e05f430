package scraper

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/nikshitha/leadgen/browser"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/metrics"
	"github.com/nikshitha/leadgen/stealth"
	"github.com/nikshitha/leadgen/storage"
	"github.com/rotisserie/eris"
)

// LinkedInPeopleSearchURL is the people search page of a logged-in session
const LinkedInPeopleSearchURL = "https://www.linkedin.com/search/results/people/"

// LinkedInSearcher runs people searches inside the logged-in browser session
type LinkedInSearcher struct {
	session *browser.Session
	stealth *stealth.Manager
	limiter *stealth.RateLimiter
	db      *storage.Database // optional
	logger  *logger.Logger
}

// NewLinkedInSearcher creates a searcher over session. db may be nil.
func NewLinkedInSearcher(session *browser.Session, sm *stealth.Manager, rl *stealth.RateLimiter, db *storage.Database, log *logger.Logger) *LinkedInSearcher {
	if log == nil {
		log = logger.Discard()
	}
	return &LinkedInSearcher{
		session: session,
		stealth: sm,
		limiter: rl,
		db:      db,
		logger:  log.WithModule("search").WithField("engine", "linkedin"),
	}
}

// Name implements Searcher
func (s *LinkedInSearcher) Name() string {
	return "linkedin"
}

// PeopleSearchURL builds the people search URL for keywords
func PeopleSearchURL(keywords string) string {
	params := url.Values{}
	params.Set("keywords", keywords)
	params.Set("origin", "GLOBAL_SEARCH_HEADER")
	return LinkedInPeopleSearchURL + "?" + params.Encode()
}

// Search pages through the people search results until limit profiles are
// collected or the results run out
func (s *LinkedInSearcher) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if s.limiter != nil && !s.limiter.CanPerformAction(stealth.ActionSearch) {
		return nil, ErrRateLimited
	}

	seen := make(map[string]bool)
	var urls []string

	err := s.session.Do(ctx, func(tab *browser.Tab) error {
		if err := tab.Navigate(ctx, PeopleSearchURL(query)); err != nil {
			return err
		}

		for page := 1; limit <= 0 || len(urls) < limit; page++ {
			if !s.waitForResults(tab) {
				s.logger.WithField("page", page).Debug("No result list on page")
				break
			}

			cards := s.resultLinks(tab)
			if len(cards) == 0 {
				break
			}
			for _, u := range cards {
				if seen[u] {
					continue
				}
				seen[u] = true
				urls = append(urls, u)
				if limit > 0 && len(urls) >= limit {
					break
				}
			}
			s.logger.Infof("Collected %d profiles so far", len(urls))

			if limit > 0 && len(urls) >= limit {
				break
			}
			if !s.nextPage(ctx, tab) {
				break
			}
		}
		return nil
	})
	if err != nil {
		metrics.RecordScrape(s.Name(), "error")
		s.logger.ScrapeResult(s.Name(), query, len(urls), err)
		return nil, eris.Wrap(err, "linkedin people search failed")
	}

	if s.limiter != nil {
		s.limiter.RecordAction(stealth.ActionSearch)
	}
	if s.db != nil {
		if err := s.db.SaveSearch(query, s.Name(), len(urls)); err != nil {
			s.logger.WithError(err).Warn("Failed to record search history")
		}
	}

	status := "ok"
	if len(urls) == 0 {
		status = "empty"
	}
	metrics.RecordScrape(s.Name(), status)
	s.logger.ScrapeResult(s.Name(), query, len(urls), nil)
	return urls, nil
}

func (s *LinkedInSearcher) waitForResults(tab *browser.Tab) bool {
	if _, err := tab.Element(".search-results-container, .reusable-search__entity-result-list", 10*time.Second); err == nil {
		return true
	}
	_, err := tab.Element("[data-chameleon-result-urn]", 5*time.Second)
	return err == nil
}

func (s *LinkedInSearcher) resultLinks(tab *browser.Tab) []string {
	cards, err := tab.Page().Elements(".reusable-search__result-container, [data-chameleon-result-urn], .entity-result")
	if err != nil {
		return nil
	}

	var urls []string
	for _, card := range cards {
		link := childElement(card, "a.app-aware-link[href*='/in/']", "span.entity-result__title-text a")
		if link == nil {
			continue
		}
		href, err := link.Attribute("href")
		if err != nil || href == nil || !strings.Contains(*href, "/in/") {
			continue
		}
		urls = append(urls, CleanProfileURL(*href))
	}
	return urls
}

func (s *LinkedInSearcher) nextPage(ctx context.Context, tab *browser.Tab) bool {
	if err := tab.Scroll(ctx, 500); err != nil {
		return false
	}

	next, err := tab.Page().Elements("button.artdeco-pagination__button--next:not([disabled]), button[aria-label='Next']:not([disabled])")
	if err != nil || len(next) == 0 {
		return false
	}
	if err := next[0].Click(proto.InputMouseButtonLeft, 1); err != nil {
		s.logger.WithError(err).Debug("Failed to click next page")
		return false
	}
	if s.stealth != nil {
		if err := s.stealth.PageLoadDelay(ctx); err != nil {
			return false
		}
	}
	return true
}

// BrowserProfileScraper reads a full profile through the logged-in session
type BrowserProfileScraper struct {
	session *browser.Session
	stealth *stealth.Manager
	limiter *stealth.RateLimiter
	db      *storage.Database // optional
	logger  *logger.Logger
}

// NewBrowserProfileScraper creates a profile scraper over session. db may be nil.
func NewBrowserProfileScraper(session *browser.Session, sm *stealth.Manager, rl *stealth.RateLimiter, db *storage.Database, log *logger.Logger) *BrowserProfileScraper {
	if log == nil {
		log = logger.Discard()
	}
	return &BrowserProfileScraper{
		session: session,
		stealth: sm,
		limiter: rl,
		db:      db,
		logger:  log.WithModule("profile"),
	}
}

// Scrape opens profileURL and reads the profile sections
func (p *BrowserProfileScraper) Scrape(ctx context.Context, profileURL string) (lead.Lead, error) {
	if p.limiter != nil && !p.limiter.CanPerformAction(stealth.ActionProfileView) {
		return lead.Lead{}, ErrRateLimited
	}

	l := lead.Lead{SourceURL: profileURL, Emails: []string{}}

	err := p.session.Do(ctx, func(tab *browser.Tab) error {
		if err := tab.Navigate(ctx, profileURL); err != nil {
			return err
		}
		if _, err := tab.Element("h1", 10*time.Second); err != nil {
			return eris.Wrap(err, "profile header not found")
		}

		l.Name = tab.Text("h1.text-heading-xlarge", "h1")
		headline := tab.Text(".text-body-medium.break-words", ".pv-text-details__left-panel .text-body-medium")
		l.Location = tab.Text(".text-body-small.inline.t-black--light.break-words", ".pv-text-details__left-panel .text-body-small")

		if p.stealth != nil {
			if err := p.stealth.ActionDelay(ctx); err != nil {
				return err
			}
		}
		if err := tab.Scroll(ctx, 800); err != nil {
			return err
		}

		l.About = tab.Text("#about ~ div .inline-show-more-text span[aria-hidden='true']", "#about ~ div span[aria-hidden='true']")
		l.Experiences = readExperiences(tab.Page())
		l.Educations = readEducations(tab.Page())

		l.Title, l.Company = SplitHeadline(headline)
		if len(l.Experiences) > 0 {
			l.Title = l.Experiences[0].Title
			if l.Experiences[0].Company != "" {
				l.Company = l.Experiences[0].Company
			}
		}
		return nil
	})
	if err != nil {
		metrics.RecordScrape("linkedin_profile", "error")
		return lead.Lead{}, eris.Wrapf(err, "failed to scrape profile %s", profileURL)
	}

	if p.limiter != nil {
		p.limiter.RecordAction(stealth.ActionProfileView)
	}
	if p.db != nil {
		if err := p.db.IncrementStat(storage.StatProfiles, 1); err != nil {
			p.logger.WithError(err).Warn("Failed to update profile counter")
		}
	}
	metrics.RecordScrape("linkedin_profile", "ok")
	p.logger.WithFields(map[string]interface{}{
		"url":         profileURL,
		"name":        l.Name,
		"experiences": len(l.Experiences),
	}).Info("Profile scraped")
	return l, nil
}

func readExperiences(page *rod.Page) []lead.Experience {
	items, _ := page.Elements("#experience ~ div li.artdeco-list__item")
	out := make([]lead.Experience, 0, len(items))
	for _, item := range items {
		title := elementText(item, ".t-bold span[aria-hidden='true']")
		if title == "" {
			continue
		}
		company := elementText(item, ".t-14.t-normal:not(.t-black--light) span[aria-hidden='true']")
		if i := strings.Index(company, " · "); i != -1 {
			company = company[:i]
		}
		out = append(out, lead.Experience{
			Title:    title,
			Company:  strings.TrimSpace(company),
			Duration: elementText(item, ".t-14.t-normal.t-black--light span[aria-hidden='true']"),
		})
	}
	return out
}

func readEducations(page *rod.Page) []lead.Education {
	items, _ := page.Elements("#education ~ div li.artdeco-list__item")
	out := make([]lead.Education, 0, len(items))
	for _, item := range items {
		school := elementText(item, ".t-bold span[aria-hidden='true']")
		if school == "" {
			continue
		}
		out = append(out, lead.Education{
			School: school,
			Degree: elementText(item, ".t-14.t-normal span[aria-hidden='true']"),
		})
	}
	return out
}

// childElement returns the first child matching one of selectors without waiting
func childElement(el *rod.Element, selectors ...string) *rod.Element {
	for _, sel := range selectors {
		if has, child, err := el.Has(sel); err == nil && has {
			return child
		}
	}
	return nil
}

func elementText(el *rod.Element, selector string) string {
	child := childElement(el, selector)
	if child == nil {
		return ""
	}
	text, err := child.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
