// Package scraper finds LinkedIn profiles through public search engines or
// a logged-in browser session and turns profile and company pages into
// leads.
package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/resilience"
	"github.com/nikshitha/leadgen/stealth"
	"github.com/rotisserie/eris"
)

var (
	ErrNoResults   = errors.New("no profiles found")
	ErrRateLimited = errors.New("scrape rate limit reached")
	ErrBadStatus   = errors.New("unexpected http status")

	// ErrSearchUnavailable is returned when every searcher in a chain failed
	ErrSearchUnavailable = errors.New("all search engines failed")
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Searcher finds LinkedIn profile URLs for a free-text query
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// ProfileSource turns a profile URL into a lead
type ProfileSource interface {
	Scrape(ctx context.Context, profileURL string) (lead.Lead, error)
}

// Fetcher downloads pages with a rotating browser user agent and retries
// transient failures
type Fetcher struct {
	client  *http.Client
	stealth *stealth.Manager
	policy  resilience.RetryPolicy
	logger  *logger.Logger
}

// NewFetcher creates a fetcher. A nil sm gets the default stealth settings.
func NewFetcher(timeout time.Duration, maxAttempts int, sm *stealth.Manager, log *logger.Logger) *Fetcher {
	if log == nil {
		log = logger.Discard()
	}
	if sm == nil {
		sm = stealth.NewManager(config.DefaultConfig().Stealth, log)
	}
	log = log.WithModule("fetch")
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		stealth: sm,
		policy:  resilience.DefaultPolicy().WithAttempts(maxAttempts).WithLogger(log, "fetch"),
		logger:  log,
	}
}

// Document fetches rawURL and parses it as HTML
func (f *Fetcher) Document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	return resilience.DoVal(ctx, f.policy, func(ctx context.Context) (*goquery.Document, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "bad url %s", rawURL)
		}
		req.Header.Set("User-Agent", f.stealth.UserAgent())
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "get %s", rawURL)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := eris.Wrapf(ErrBadStatus, "get %s: status %d", rawURL, resp.StatusCode)
			if te := resilience.FromResponse(resp, statusErr); te != nil {
				return nil, te
			}
			return nil, statusErr
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return nil, eris.Wrapf(err, "parse %s", rawURL)
		}
		return doc, nil
	})
}

// IsProfileURL reports whether u points at a public LinkedIn member profile
func IsProfileURL(u string) bool {
	return strings.Contains(u, "linkedin.com/in/") && !strings.Contains(u, "/pub/")
}

// StripQuery removes the query string and fragment from u
func StripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

// CleanProfileURL turns a result link into a canonical
// https://www.linkedin.com/in/<slug>/ URL
func CleanProfileURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""

	clean := parsed.String()
	if !strings.HasPrefix(clean, "https://www.linkedin.com/in/") {
		if parts := strings.SplitN(clean, "/in/", 2); len(parts) == 2 {
			slug := strings.Split(parts[1], "/")[0]
			clean = "https://www.linkedin.com/in/" + slug + "/"
		}
	}
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	return clean
}

// SplitName splits a full name into first name and the rest
func SplitName(fullName string) (string, string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// SplitHeadline splits "Role at Company" style headlines. Company is empty
// when no separator is found.
func SplitHeadline(headline string) (title, company string) {
	for _, sep := range []string{" at ", " @ ", " | ", " - "} {
		if idx := strings.LastIndex(headline, sep); idx != -1 {
			company = strings.TrimSpace(headline[idx+len(sep):])
			if pipe := strings.Index(company, "|"); pipe != -1 {
				company = strings.TrimSpace(company[:pipe])
			}
			return strings.TrimSpace(headline[:idx]), company
		}
	}
	return strings.TrimSpace(headline), ""
}

// Domain returns the host of rawURL without a leading www.
func Domain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}

// UniqueEmails returns every email address in text, first occurrence order
func UniqueEmails(text string) []string {
	matches := emailPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
