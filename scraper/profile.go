package scraper

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/metrics"
	"github.com/rotisserie/eris"
)

var webmailDomains = map[string]bool{
	"gmail.com":   true,
	"yahoo.com":   true,
	"hotmail.com": true,
	"outlook.com": true,
}

// ProfileScraper reads the public, logged-out view of a LinkedIn profile
type ProfileScraper struct {
	fetcher *Fetcher
	logger  *logger.Logger
}

// NewProfileScraper creates a profile scraper
func NewProfileScraper(f *Fetcher, log *logger.Logger) *ProfileScraper {
	if log == nil {
		log = logger.Discard()
	}
	return &ProfileScraper{fetcher: f, logger: log.WithModule("profile")}
}

// Scrape fetches profileURL and extracts what the public page shows
func (p *ProfileScraper) Scrape(ctx context.Context, profileURL string) (lead.Lead, error) {
	doc, err := p.fetcher.Document(ctx, profileURL)
	if err != nil {
		metrics.RecordScrape("profile", "error")
		return lead.Lead{SourceURL: profileURL}, eris.Wrapf(err, "failed to fetch profile %s", profileURL)
	}

	l := ParseProfile(doc, profileURL)
	if l.Name == "" {
		metrics.RecordScrape("profile", "empty")
	} else {
		metrics.RecordScrape("profile", "ok")
	}
	p.logger.WithFields(map[string]interface{}{
		"url":     profileURL,
		"name":    l.Name,
		"company": l.Company,
	}).Debug("Profile parsed")
	return l, nil
}

// ParseProfile extracts name, title, company, location and an email from a
// public profile page
func ParseProfile(doc *goquery.Document, profileURL string) lead.Lead {
	l := lead.Lead{SourceURL: profileURL, Emails: []string{}}

	if title := doc.Find("title").First().Text(); title != "" {
		l.Name = strings.TrimSpace(strings.Split(title, "|")[0])
	}

	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		l.Title, l.Company = parseDescription(desc, l.Name)
		if strings.Contains(desc, "| ") {
			parts := strings.Split(desc, "| ")
			l.Location = strings.TrimSpace(parts[len(parts)-1])
		}
	}

	html, err := doc.Html()
	if err == nil {
		l.Email = pickEmail(emailPattern.FindAllString(html, -1), l.Company)
	}
	if l.Email != "" {
		l.Emails = []string{l.Email}
	}
	return l
}

// parseDescription reads "<name> - <title> at <company> | ..." meta text
func parseDescription(desc, name string) (title, company string) {
	if name == "" || !strings.Contains(desc, "- ") || !strings.Contains(desc, name) {
		return "", ""
	}

	rest := strings.TrimSpace(strings.SplitN(desc, name, 2)[1])
	rest = strings.TrimPrefix(rest, "- ")

	if parts := strings.SplitN(rest, " at ", 2); len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(strings.Split(parts[1], "|")[0])
	}
	return strings.TrimSpace(strings.Split(rest, "|")[0]), ""
}

// pickEmail prefers an address at the company's domain, then a webmail
// address, then the first match
func pickEmail(matches []string, company string) string {
	if len(matches) == 0 {
		return ""
	}

	var companyWord string
	if company != "" {
		cleaned := strings.NewReplacer(",", "", ".", "").Replace(strings.ToLower(company))
		if words := strings.Fields(cleaned); len(words) > 0 {
			companyWord = words[0]
		}
	}

	var webmail string
	for _, email := range matches {
		domain := email[strings.LastIndex(email, "@")+1:]
		if companyWord != "" && strings.Contains(domain, companyWord) {
			return email
		}
		if webmail == "" && webmailDomains[domain] {
			webmail = email
		}
	}
	if webmail != "" {
		return webmail
	}
	return matches[0]
}
