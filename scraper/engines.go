package scraper

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/metrics"
	"github.com/nikshitha/leadgen/storage"
	"github.com/rotisserie/eris"
)

// Search engine names
const (
	EngineGoogle     = "google"
	EngineBing       = "bing"
	EngineDuckDuckGo = "duckduckgo"
	EngineYandex     = "yandex"
)

// engineDef describes a result page. In extra, "{limit}" is replaced by
// the result count.
type engineDef struct {
	baseURL  string
	queryKey string
	extra    map[string]string
	links    string
	extract  func(href string) string
}

var engines = map[string]engineDef{
	EngineGoogle: {
		baseURL:  "https://www.google.com/search",
		queryKey: "q",
		extra:    map[string]string{"num": "{limit}"},
		links:    "a",
		extract:  unwrapGoogleLink,
	},
	EngineBing: {
		baseURL:  "https://www.bing.com/search",
		queryKey: "q",
		extra:    map[string]string{"count": "{limit}"},
		links:    "a",
	},
	EngineDuckDuckGo: {
		baseURL:  "https://html.duckduckgo.com/html/",
		queryKey: "q",
		links:    "a.result__a",
		extract:  unwrapDuckDuckGoLink,
	},
	EngineYandex: {
		baseURL:  "https://yandex.com/search/",
		queryKey: "text",
		links:    "a",
	},
}

// EngineNames lists the supported search engines in default order
func EngineNames() []string {
	return []string{EngineGoogle, EngineBing, EngineDuckDuckGo, EngineYandex}
}

// EngineSearcher scrapes one public search engine's result page for
// LinkedIn profile links
type EngineSearcher struct {
	name    string
	def     engineDef
	fetcher *Fetcher
	maxNum  int
	db      *storage.Database // optional
	logger  *logger.Logger
}

// NewEngine creates a searcher for one of EngineNames. db may be nil.
func NewEngine(name string, f *Fetcher, maxResults int, db *storage.Database, log *logger.Logger) (*EngineSearcher, error) {
	def, ok := engines[strings.ToLower(name)]
	if !ok {
		return nil, eris.Errorf("unknown search engine %q", name)
	}
	if log == nil {
		log = logger.Discard()
	}
	if maxResults <= 0 {
		maxResults = 100
	}
	return &EngineSearcher{
		name:    strings.ToLower(name),
		def:     def,
		fetcher: f,
		maxNum:  maxResults,
		db:      db,
		logger:  log.WithModule("search").WithField("engine", strings.ToLower(name)),
	}, nil
}

// WithBaseURL points the searcher at a different host
func (e *EngineSearcher) WithBaseURL(base string) *EngineSearcher {
	e.def.baseURL = base
	return e
}

// Name returns the engine name
func (e *EngineSearcher) Name() string {
	return e.name
}

// SearchURL builds the result page URL for query
func (e *EngineSearcher) SearchURL(query string) string {
	params := url.Values{}
	params.Set(e.def.queryKey, "site:linkedin.com/in/ "+query)
	for k, v := range e.def.extra {
		params.Set(k, strings.ReplaceAll(v, "{limit}", strconv.Itoa(e.maxNum)))
	}
	return e.def.baseURL + "?" + params.Encode()
}

// Search returns up to limit unique profile URLs
func (e *EngineSearcher) Search(ctx context.Context, query string, limit int) ([]string, error) {
	searchURL := e.SearchURL(query)
	e.logger.WithField("url", searchURL).Debug("Querying search engine")

	doc, err := e.fetcher.Document(ctx, searchURL)
	if err != nil {
		metrics.RecordScrape(e.name, "error")
		e.logger.ScrapeResult(e.name, query, 0, err)
		return nil, err
	}

	urls := e.ExtractProfileURLs(doc, limit)

	status := "ok"
	if len(urls) == 0 {
		status = "empty"
	}
	metrics.RecordScrape(e.name, status)
	e.logger.ScrapeResult(e.name, query, len(urls), nil)

	if e.db != nil {
		if err := e.db.SaveSearch(query, e.name, len(urls)); err != nil {
			e.logger.WithError(err).Warn("Failed to record search history")
		}
	}
	return urls, nil
}

// ExtractProfileURLs collects profile links from a result page
func (e *EngineSearcher) ExtractProfileURLs(doc *goquery.Document, limit int) []string {
	seen := make(map[string]bool)
	var urls []string

	doc.Find(e.def.links).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		if e.def.extract != nil {
			href = e.def.extract(href)
		}
		if href == "" || !IsProfileURL(href) {
			return true
		}

		clean := StripQuery(href)
		if seen[clean] {
			return true
		}
		seen[clean] = true
		urls = append(urls, clean)
		return limit <= 0 || len(urls) < limit
	})

	return urls
}

// unwrapGoogleLink returns the target of a /url?q= redirect link
func unwrapGoogleLink(href string) string {
	idx := strings.Index(href, "/url?q=")
	if idx == -1 {
		return href
	}
	target := href[idx+len("/url?q="):]
	if amp := strings.Index(target, "&"); amp != -1 {
		target = target[:amp]
	}
	if decoded, err := url.QueryUnescape(target); err == nil {
		return decoded
	}
	return target
}

// unwrapDuckDuckGoLink resolves the html endpoint's //duckduckgo.com/l/?uddg= redirects
func unwrapDuckDuckGoLink(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
