package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// companyServer answers Google queries on /search and serves the company's
// own pages on every other path
func companyServer(t *testing.T, results map[string]string, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/search" {
			body := strings.ReplaceAll(results[r.URL.Query().Get("q")], "{site}", "http://"+r.Host)
			fmt.Fprintf(w, "<html><body>%s</body></html>", body)
			return
		}
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "<html><body>%s</body></html>", page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func acmeResults() map[string]string {
	return map[string]string{
		"Acme Corp official website": `
<a href="/url?q=https://www.linkedin.com/company/acme-corp&sa=U">LinkedIn</a>
<a href="/url?q={site}/&sa=U">Acme Corp</a>`,
		"site:linkedin.com/company/ Acme Corp": `
<a href="/url?q=https://www.linkedin.com/company/acme-corp&sa=U">Acme Corp | LinkedIn</a>`,
		"site:hunter.io Acme Corp email": `
<p>jane.doe@acmecorp.com info@other.com bob@acme.io</p>`,
	}
}

func acmePages() map[string]string {
	return map[string]string{
		"/contact": `<a href="mailto:jane.doe@acmecorp.com">Jane</a> <img src="logo@2x.png"> sales@acmecorp.com`,
		"/team":    `<p>john.smith@acmecorp.com</p>`,
	}
}

func employeeRunner() *Runner {
	searcher := &fakeSearcher{name: "fake", urls: []string{"https://www.linkedin.com/in/ann", "https://www.linkedin.com/in/zed"}}
	profiles := &fakeProfiles{leads: map[string]lead.Lead{
		"https://www.linkedin.com/in/ann": {Name: "Ann Lee", Title: "CTO", Company: "acme corp", SourceURL: "https://www.linkedin.com/in/ann"},
		"https://www.linkedin.com/in/zed": {Name: "Zed Roe", Company: "Other Inc", SourceURL: "https://www.linkedin.com/in/zed"},
	}}
	return NewRunner(searcher, profiles, nil, nil, config.RateLimitConfig{}, nil, nil)
}

func extraString(t *testing.T, l lead.Lead, key string) string {
	t.Helper()
	var v string
	require.Contains(t, l.Extra, key)
	require.NoError(t, json.Unmarshal(l.Extra[key], &v))
	return v
}

func TestCompanyContacts(t *testing.T) {
	srv := companyServer(t, acmeResults(), acmePages())
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "leadgen.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := NewCompanyContacts(testFetcher(), employeeRunner(), nil, config.RateLimitConfig{}, db, nil).
		WithBaseURL(srv.URL + "/search")

	contacts, err := c.Run(context.Background(), "Acme Corp", 10)
	require.NoError(t, err)

	var emails, names []string
	for _, l := range contacts {
		emails = append(emails, l.Email)
		names = append(names, l.Name)
		assert.Equal(t, "Acme Corp", l.Company)
	}
	assert.Equal(t, []string{"jane.doe@acmecorp.com", "sales@acmecorp.com", "john.smith@acmecorp.com", "", "bob@acme.io"}, emails)
	assert.Equal(t, []string{"Jane Doe", "", "John Smith", "Ann Lee", ""}, names)

	assert.Equal(t, "website ("+srv.URL+"/contact)", extraString(t, contacts[0], KeySource))
	assert.Equal(t, Domain(srv.URL), extraString(t, contacts[0], KeyDomain))
	assert.Equal(t, SourceLinkedInCompany, extraString(t, contacts[3], KeySource))
	assert.Equal(t, "https://www.linkedin.com/in/ann", contacts[3].SourceURL)
	assert.Equal(t, "directory (hunter.io)", extraString(t, contacts[4], KeySource))

	runs, err := db.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunCompany, runs[0].Kind)
	assert.Equal(t, 5, runs[0].LeadsFound)
}

func TestCompanyContactsLimit(t *testing.T) {
	srv := companyServer(t, acmeResults(), acmePages())
	c := NewCompanyContacts(testFetcher(), employeeRunner(), nil, config.RateLimitConfig{}, nil, nil).
		WithBaseURL(srv.URL + "/search")

	contacts, err := c.Run(context.Background(), "Acme Corp", 2)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "sales@acmecorp.com", contacts[1].Email)
}

func TestCompanyContactsNothingFound(t *testing.T) {
	srv := companyServer(t, map[string]string{}, map[string]string{})
	c := NewCompanyContacts(testFetcher(), nil, nil, config.RateLimitConfig{}, nil, nil).
		WithBaseURL(srv.URL + "/search")

	_, err := c.Run(context.Background(), "Nobody Ltd", 5)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestCompanyContactsSkipsEmployeesWithoutCompanyPage(t *testing.T) {
	results := acmeResults()
	delete(results, "site:linkedin.com/company/ Acme Corp")
	srv := companyServer(t, results, acmePages())
	c := NewCompanyContacts(testFetcher(), employeeRunner(), nil, config.RateLimitConfig{}, nil, nil).
		WithBaseURL(srv.URL + "/search")

	contacts, err := c.Run(context.Background(), "Acme Corp", 10)
	require.NoError(t, err)
	for _, l := range contacts {
		assert.NotEqual(t, "Ann Lee", l.Name)
	}
}

func TestNameFromEmail(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"jane.doe@acme.com", "Jane Doe"},
		{"JOHN.SMITH@acme.com", "John Smith"},
		{"sales@acme.com", ""},
		{"a.b.c@acme.com", ""},
		{".doe@acme.com", ""},
		{"not-an-email", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NameFromEmail(tt.email), tt.email)
	}
}

func TestCompanyWords(t *testing.T) {
	assert.Equal(t, []string{"acme", "corp"}, companyWords("Acme Corp"))
	assert.Equal(t, []string{"global"}, companyWords("The Global Co"))
	assert.Empty(t, companyWords("IBM"))
}
