package scraper

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/metrics"
	"github.com/nikshitha/leadgen/stealth"
	"github.com/nikshitha/leadgen/storage"
)

const (
	defaultCompanySearchURL = "https://www.google.com/search"

	// KeySource and KeyDomain are extra lead fields set on company contacts
	KeySource = "source"
	KeyDomain = "domain"

	SourceLinkedInCompany = "linkedin_company"
)

var (
	contactPaths = []string{"/contact", "/contact-us", "/about", "/about-us", "/team"}

	emailDirectories = []string{"hunter.io", "rocketreach.co", "email-format.com", "skrapp.io"}

	// result links on these hosts are never the company's own site
	notCompanySites = []string{"linkedin.com", "facebook.com", "twitter.com", "instagram.com", "google.com", "youtube.com"}
)

// CompanyContacts collects contacts for a company name from three places:
// the contact and about pages of the company's website, LinkedIn members
// who work there, and public email directories indexed by Google.
type CompanyContacts struct {
	fetcher   *Fetcher
	employees *Runner // optional
	stealth   *stealth.Manager
	limits    config.RateLimitConfig
	searchURL string
	db        *storage.Database // optional
	logger    *logger.Logger
}

// NewCompanyContacts creates a company contact search. employees runs the
// LinkedIn member search and may be nil, as may db.
func NewCompanyContacts(f *Fetcher, employees *Runner, sm *stealth.Manager, limits config.RateLimitConfig, db *storage.Database, log *logger.Logger) *CompanyContacts {
	if log == nil {
		log = logger.Discard()
	}
	if sm == nil {
		sm = stealth.NewManager(config.DefaultConfig().Stealth, log)
	}
	return &CompanyContacts{
		fetcher:   f,
		employees: employees,
		stealth:   sm,
		limits:    limits,
		searchURL: defaultCompanySearchURL,
		db:        db,
		logger:    log.WithModule("company"),
	}
}

// WithBaseURL points the Google lookups at a different host
func (c *CompanyContacts) WithBaseURL(base string) *CompanyContacts {
	c.searchURL = base
	return c
}

// Run returns up to limit contacts for company, unique by email. Lookups
// that fail are logged and skipped; ErrNoResults is returned when no
// source produced a contact.
func (c *CompanyContacts) Run(ctx context.Context, company string, limit int) ([]lead.Lead, error) {
	company = strings.TrimSpace(company)
	log := c.logger.WithAction("contacts").WithField("company", company)
	log.Info("Starting company contact search")

	runID := c.startRun(company)

	var all []lead.Lead
	for _, source := range []func(context.Context, string, int) ([]lead.Lead, error){
		c.websiteContacts,
		c.employeeContacts,
		c.directoryContacts,
	} {
		found, err := source(ctx, company, limit)
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.finishRun(runID, len(all), ctxErr)
			return nil, ctxErr
		}
		if err != nil {
			log.WithError(err).Warn("Contact source failed")
		}
		all = append(all, found...)
	}

	contacts := uniqueContacts(all, limit)
	c.finishRun(runID, len(contacts), nil)

	status := "ok"
	if len(contacts) == 0 {
		status = "empty"
	}
	metrics.RecordScrape("company", status)
	log.WithField("contacts", len(contacts)).Info("Company contact search completed")

	if len(contacts) == 0 {
		return nil, ErrNoResults
	}
	return contacts, nil
}

func (c *CompanyContacts) google(ctx context.Context, query string) (*goquery.Document, error) {
	return c.fetcher.Document(ctx, c.searchURL+"?"+url.Values{"q": {query}}.Encode())
}

func (c *CompanyContacts) pause(ctx context.Context) error {
	return c.stealth.RandomDelay(ctx, c.limits.ProfileDelayMin, c.limits.ProfileDelayMax)
}

// FindWebsite returns the scheme and host of the first search result that
// is not a social network or search engine, or "" when there is none
func (c *CompanyContacts) FindWebsite(ctx context.Context, company string) (string, error) {
	doc, err := c.google(ctx, company+" official website")
	if err != nil {
		return "", err
	}

	var site string
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !strings.Contains(href, "/url?q=") {
			return true
		}
		target, err := url.Parse(unwrapGoogleLink(href))
		if err != nil || target.Host == "" || !strings.HasPrefix(target.Scheme, "http") {
			return true
		}
		for _, skip := range notCompanySites {
			if strings.Contains(target.Host, skip) {
				return true
			}
		}
		site = target.Scheme + "://" + target.Host
		return false
	})
	return site, nil
}

func (c *CompanyContacts) websiteContacts(ctx context.Context, company string, _ int) ([]lead.Lead, error) {
	site, err := c.FindWebsite(ctx, company)
	if err != nil || site == "" {
		return nil, err
	}
	domain := Domain(site)
	c.logger.WithField("site", site).Info("Found company website")

	var contacts []lead.Lead
	for i, path := range contactPaths {
		if i > 0 {
			if err := c.pause(ctx); err != nil {
				return contacts, err
			}
		}
		pageURL := site + path
		doc, err := c.fetcher.Document(ctx, pageURL)
		if err != nil {
			c.logger.WithField("url", pageURL).WithError(err).Debug("Contact page unavailable")
			continue
		}
		html, err := doc.Html()
		if err != nil {
			continue
		}
		for _, email := range UniqueEmails(html) {
			if isImageName(email) {
				continue
			}
			contacts = append(contacts, contactLead(email, company, domain, "website ("+pageURL+")"))
		}
	}
	return contacts, nil
}

// FindCompanyPage returns the company's LinkedIn page URL, or ""
func (c *CompanyContacts) FindCompanyPage(ctx context.Context, company string) (string, error) {
	doc, err := c.google(ctx, "site:linkedin.com/company/ "+company)
	if err != nil {
		return "", err
	}

	var page string
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !strings.Contains(href, "/url?q=") {
			return true
		}
		if target := unwrapGoogleLink(href); strings.Contains(target, "linkedin.com/company/") {
			page = target
			return false
		}
		return true
	})
	return page, nil
}

// employeeContacts searches LinkedIn members of a company that has a
// LinkedIn page. Members are kept when they list an email or work there.
func (c *CompanyContacts) employeeContacts(ctx context.Context, company string, limit int) ([]lead.Lead, error) {
	if c.employees == nil {
		return nil, nil
	}
	page, err := c.FindCompanyPage(ctx, company)
	if err != nil || page == "" {
		return nil, err
	}
	c.logger.WithField("page", page).Info("Found LinkedIn company page")

	profiles, err := c.employees.Run(ctx, company, limit)
	if err != nil && len(profiles) == 0 {
		if errors.Is(err, ErrNoResults) {
			return nil, nil
		}
		return nil, err
	}

	var contacts []lead.Lead
	for _, p := range profiles {
		if p.Name == "" || (p.Email == "" && !strings.EqualFold(strings.TrimSpace(p.Company), company)) {
			continue
		}
		p.Company = company
		_ = p.SetExtra(KeySource, SourceLinkedInCompany)
		contacts = append(contacts, p)
	}
	return contacts, nil
}

// directoryContacts reads email addresses off Google results for public
// email directories, keeping those whose domain contains a word of the
// company name longer than three letters
func (c *CompanyContacts) directoryContacts(ctx context.Context, company string, _ int) ([]lead.Lead, error) {
	words := companyWords(company)
	if len(words) == 0 {
		return nil, nil
	}

	var (
		contacts []lead.Lead
		lastErr  error
		failures int
	)
	for i, dir := range emailDirectories {
		if i > 0 {
			if err := c.pause(ctx); err != nil {
				return contacts, err
			}
		}
		doc, err := c.google(ctx, "site:"+dir+" "+company+" email")
		if err != nil {
			c.logger.WithField("directory", dir).WithError(err).Debug("Directory search failed")
			lastErr = err
			failures++
			continue
		}
		for _, email := range UniqueEmails(doc.Text()) {
			domain := strings.ToLower(email[strings.LastIndex(email, "@")+1:])
			if !containsAny(domain, words) {
				continue
			}
			contacts = append(contacts, contactLead(email, company, domain, "directory ("+dir+")"))
		}
	}
	if failures == len(emailDirectories) {
		return nil, lastErr
	}
	return contacts, nil
}

func (c *CompanyContacts) startRun(company string) string {
	if c.db == nil {
		return ""
	}
	id, err := c.db.StartRun(storage.RunCompany, company)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to record scrape run")
		return ""
	}
	return id
}

func (c *CompanyContacts) finishRun(id string, leads int, runErr error) {
	if c.db == nil || id == "" {
		return
	}
	if err := c.db.FinishRun(id, leads, leads, runErr); err != nil {
		c.logger.WithError(err).Warn("Failed to finish scrape run")
	}
}

func contactLead(email, company, domain, source string) lead.Lead {
	l := lead.Lead{
		Name:    NameFromEmail(email),
		Company: company,
		Email:   email,
		Emails:  []string{email},
	}
	_ = l.SetExtra(KeySource, source)
	_ = l.SetExtra(KeyDomain, domain)
	return l
}

// NameFromEmail turns first.last@ mailboxes into "First Last". Any other
// mailbox gives "".
func NameFromEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	parts := strings.Split(email[:at], ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return capitalize(parts[0]) + " " + capitalize(parts[1])
}

func capitalize(s string) string {
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func companyWords(company string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(company)) {
		if len([]rune(w)) > 3 {
			words = append(words, w)
		}
	}
	return words
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func isImageName(email string) bool {
	lower := strings.ToLower(email)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// uniqueContacts keeps the first contact per email, or per source_url for
// contacts without one, up to limit
func uniqueContacts(contacts []lead.Lead, limit int) []lead.Lead {
	seen := make(map[string]bool, len(contacts))
	out := make([]lead.Lead, 0, len(contacts))
	for _, l := range contacts {
		key := strings.ToLower(l.Email)
		if key == "" {
			key = l.SourceURL
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
