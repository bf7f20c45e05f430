package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nikshitha/leadgen/auth"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/enrich"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/scraper"
	"github.com/nikshitha/leadgen/service"
	"github.com/nikshitha/leadgen/storage"
	"github.com/nikshitha/leadgen/store"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

type fakeRunner struct {
	leads []lead.Lead
	err   error
	query string
	limit int
}

func (f *fakeRunner) Run(_ context.Context, query string, limit int) ([]lead.Lead, error) {
	f.query, f.limit = query, limit
	return lead.CloneAll(f.leads), f.err
}

type fakeScraper struct {
	lead lead.Lead
	err  error
	urls []string
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (lead.Lead, error) {
	f.urls = append(f.urls, url)
	return f.lead.Clone(), f.err
}

type fakeEnricher struct{}

func (fakeEnricher) EnrichAll(_ context.Context, leads []lead.Lead) ([]lead.Lead, enrich.Stats, error) {
	out := lead.CloneAll(leads)
	for i := range out {
		if out[i].Email == "" {
			out[i].Email = strings.ToLower(strings.ReplaceAll(out[i].Name, " ", ".")) + "@acme.com"
		}
		out[i].EmailValid = lead.Bool(true)
		out[i].EmailScore = lead.Float(80)
	}
	return out, enrich.Stats{Total: len(out), Enriched: len(out)}, nil
}

type fakeAuth struct {
	status   auth.Status
	loginErr error
	method   string
	loggedIn bool
}

func (f *fakeAuth) Login(_ context.Context, method, _, _ string) (auth.Status, error) {
	f.method = method
	if f.loginErr != nil {
		return auth.Status{Message: "Automatic login failed. Please check your credentials."}, f.loginErr
	}
	if method == auth.MethodAutomatic {
		f.loggedIn = true
		return auth.Status{LoggedIn: true, Message: "Logged in automatically"}, nil
	}
	return auth.Status{Waiting: true, Message: "Waiting for manual login"}, nil
}

func (f *fakeAuth) Status(context.Context) auth.Status {
	return auth.Status{LoggedIn: f.loggedIn, Timestamp: time.Unix(0, 0).UTC(), Message: "status"}
}

func (f *fakeAuth) Logout(context.Context) (auth.Status, error) {
	f.loggedIn = false
	return auth.Status{Message: "Logged out"}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	server    *Server
	leads     *service.Service
	runner    *fakeRunner
	companies *fakeRunner
	website   *fakeScraper
	profiles  *fakeScraper
	auth      *fakeAuth
	db        *storage.Database
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	st := store.New(filepath.Join(t.TempDir(), "leads.json"), nil)

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "leadgen.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		leads:     service.New(st, nil),
		runner:    &fakeRunner{},
		companies: &fakeRunner{},
		website:   &fakeScraper{},
		profiles:  &fakeScraper{},
		auth:      &fakeAuth{},
		db:        db,
	}
	env.server = NewServer(cfg, Deps{
		Leads:     env.leads,
		Runner:    env.runner,
		Companies: env.companies,
		Website:   env.website,
		Profiles:  env.profiles,
		Enricher:  fakeEnricher{},
		Auth:      env.auth,
		Activity:  db,
	}, nil)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func (e *testEnv) seed(t *testing.T, leads ...lead.Lead) {
	t.Helper()
	for _, l := range leads {
		_, err := e.leads.Create(context.Background(), l)
		require.NoError(t, err)
	}
}

func TestLeadCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/leads", map[string]interface{}{"name": "Jane Doe", "company": "acme  corp"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	created := body["lead"].(map[string]interface{})
	assert.Equal(t, 1.0, created["id"])
	assert.Equal(t, "Acme Corp", created["company"])

	rec = env.do(t, http.MethodGet, "/api/leads/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Jane Doe", decodeMap(t, rec)["name"])

	rec = env.do(t, http.MethodPut, "/api/leads/1", map[string]interface{}{"name": "Jane Roe", "id": 99})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeMap(t, rec)["lead"].(map[string]interface{})
	assert.Equal(t, 1.0, updated["id"])
	assert.Equal(t, "Jane Roe", updated["name"])

	rec = env.do(t, http.MethodGet, "/api/leads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []lead.Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = env.do(t, http.MethodDelete, "/api/leads/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Jane Roe", decodeMap(t, rec)["lead"].(map[string]interface{})["name"])

	rec = env.do(t, http.MethodGet, "/api/leads", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestLeadNotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/leads/7"},
		{http.MethodDelete, "/api/leads/7"},
		{http.MethodGet, "/api/leads/abc"},
	} {
		rec := env.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
		assert.Equal(t, "Lead not found", decodeMap(t, rec)["error"])
	}

	rec := env.do(t, http.MethodPut, "/api/leads/7", map[string]interface{}{"name": "X"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateLeadInvalidInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/leads", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/leads", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid JSON", decodeMap(t, rr)["error"])
}

func TestCleanDataAndCleanAll(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t,
		lead.Lead{Name: "A", Email: "a@x.io"},
		lead.Lead{Name: "A again", Email: "a@x.io"},
		lead.Lead{Name: "B", SourceURL: "https://b.io"},
	)

	rec := env.do(t, http.MethodPost, "/api/clean-data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, decodeMap(t, rec)["count"])

	rec = env.do(t, http.MethodPost, "/api/clean-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decodeMap(t, rec)["count"])
	assert.Equal(t, 2, env.leads.Count(context.Background()))
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, lead.Lead{Name: "Existing"})
	env.runner.leads = []lead.Lead{{Name: "Jane Doe", Company: "Acme"}, {Name: "John Roe", Company: "Acme"}}

	rec := env.do(t, http.MethodPost, "/api/leads/search", map[string]interface{}{"query": "cto", "location": "Berlin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "cto Berlin", env.runner.query)
	assert.Equal(t, 10, env.runner.limit)

	var added []lead.Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.Len(t, added, 2)
	assert.Equal(t, 2, added[0].ID)
	assert.Equal(t, 3, added[1].ID)
	assert.Nil(t, added[0].EmailValid)
	assert.Equal(t, 3, env.leads.Count(context.Background()))
}

func TestSearchValidate(t *testing.T) {
	env := newTestEnv(t)
	env.runner.leads = []lead.Lead{{Name: "Jane Doe", Company: "Acme"}}

	rec := env.do(t, http.MethodPost, "/api/leads/search", map[string]interface{}{"query": "cto", "count": 3, "validate": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, env.runner.limit)

	var added []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.Len(t, added, 1)
	assert.Equal(t, "jane.doe@acme.com", added[0]["email"])
	assert.Equal(t, true, added[0]["email_valid"])
	assert.Equal(t, true, added[0]["emailValid"])
	assert.Equal(t, 80.0, added[0]["emailScore"])
}

func TestSearchErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/leads/search", map[string]interface{}{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Search query is required", decodeMap(t, rec)["error"])

	env.runner.err = scraper.ErrNoResults
	rec = env.do(t, http.MethodPost, "/api/leads/search", map[string]interface{}{"query": "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No profiles found for 'nobody'. Try different keywords.", decodeMap(t, rec)["error"])

	env.runner.err = eris.Wrap(scraper.ErrSearchUnavailable, "last error: google: status 429")
	rec = env.do(t, http.MethodPost, "/api/leads/search", map[string]interface{}{"query": "cto"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No profiles found for 'cto'. Try different keywords.", decodeMap(t, rec)["error"])
	assert.Zero(t, env.leads.Count(context.Background()))

	env.runner.err = errors.New("store offline")
	rec = env.do(t, http.MethodPost, "/api/leads/search", map[string]interface{}{"query": "cto"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "Failed to search for leads")
}

func TestSearchCompany(t *testing.T) {
	env := newTestEnv(t)
	env.companies.leads = []lead.Lead{
		{Name: "Jane Doe", Company: "Acme Corp", Email: "jane.doe@acmecorp.com"},
		{Company: "Acme Corp", Email: "sales@acmecorp.com"},
	}

	rec := env.do(t, http.MethodPost, "/api/leads/search", map[string]interface{}{
		"query": "Acme Corp", "location": "Berlin", "count": 5, "is_company": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "Acme Corp", env.companies.query)
	assert.Equal(t, 5, env.companies.limit)
	assert.Empty(t, env.runner.query)

	var added []lead.Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.Len(t, added, 2)
	assert.Equal(t, "sales@acmecorp.com", added[1].Email)
	assert.Equal(t, 2, env.leads.Count(context.Background()))

	env.companies.leads, env.companies.err = nil, scraper.ErrNoResults
	rec = env.do(t, http.MethodPost, "/api/leads/search", map[string]interface{}{"query": "Nobody Ltd", "is_company": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No profiles found for 'Nobody Ltd'. Try different keywords.", decodeMap(t, rec)["error"])
}

func TestPreviewSearch(t *testing.T) {
	env := newTestEnv(t)
	env.runner.leads = []lead.Lead{{Name: "Jane Doe", Company: "acme  corp"}, {Name: "John Roe", Company: "Acme"}}

	rec := env.do(t, http.MethodPost, "/api/search", map[string]interface{}{"query": "cto", "location": "Berlin", "validate": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cto Berlin", env.runner.query)

	body := decodeMap(t, rec)
	assert.Equal(t, "Successfully found 2 profiles", body["message"])
	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "jane.doe@acme.com", first["email"])
	assert.Equal(t, true, first["email_valid"])
	assert.Equal(t, "Acme Corp", first["company"])

	assert.Zero(t, env.leads.Count(context.Background()))
}

func TestPreviewSearchEmpty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/search", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Query parameter is required", decodeMap(t, rec)["error"])

	for _, err := range []error{scraper.ErrNoResults, scraper.ErrSearchUnavailable} {
		env.runner.err = err
		rec = env.do(t, http.MethodPost, "/api/search", map[string]interface{}{"query": "nobody"})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeMap(t, rec)
		assert.Equal(t, "No profiles found", body["message"])
		assert.Equal(t, []interface{}{}, body["results"])
	}

	env.companies.leads = []lead.Lead{{Company: "Acme", Email: "info@acme.com"}}
	rec = env.do(t, http.MethodPost, "/api/search", map[string]interface{}{"query": "Acme", "is_company": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Successfully found 1 profiles", decodeMap(t, rec)["message"])
	assert.Zero(t, env.leads.Count(context.Background()))
}

func TestActivity(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/activity", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeMap(t, rec)
	assert.Equal(t, []interface{}{}, body["runs"])
	assert.Equal(t, []interface{}{}, body["searches"])

	id, err := env.db.StartRun(storage.RunSearch, "cto berlin")
	require.NoError(t, err)
	require.NoError(t, env.db.FinishRun(id, 4, 3, nil))
	_, err = env.db.StartRun(storage.RunCompany, "Acme Corp")
	require.NoError(t, err)
	require.NoError(t, env.db.SaveSearch("cto berlin", "bing", 4))

	rec = env.do(t, http.MethodGet, "/api/activity?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeMap(t, rec)
	assert.Len(t, body["runs"], 1)
	searches := body["searches"].([]interface{})
	require.Len(t, searches, 1)
	assert.Equal(t, "bing", searches[0].(map[string]interface{})["engine"])
	assert.NotNil(t, body["today"])

	rec = env.do(t, http.MethodGet, "/api/activity?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/activity/runs/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeMap(t, rec)
	assert.Equal(t, "cto berlin", run["query"])
	assert.Equal(t, 3.0, run["leads_found"])

	rec = env.do(t, http.MethodGet, "/api/activity/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Run not found", decodeMap(t, rec)["error"])
}

func TestEnrichStoredLeads(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, lead.Lead{Name: "Jane Doe", Company: "Acme"})

	rec := env.do(t, http.MethodPost, "/api/leads/enrich", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, decodeMap(t, rec)["count"])

	stored, err := env.leads.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@acme.com", stored.Email)
	require.NotNil(t, stored.EmailValid)
	assert.True(t, *stored.EmailValid)
}

func TestScrapeWebsite(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, lead.Lead{Name: "Stored Name", SourceURL: "https://acme.com/team"})
	env.website.lead = lead.Lead{Name: "Scraped Name", Title: "CEO", SourceURL: "https://acme.com/team"}

	rec := env.do(t, http.MethodPost, "/api/scrape-website", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "URL is required", decodeMap(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/scrape-website", map[string]interface{}{"url": "https://acme.com/team"})
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeMap(t, rec)["profile"].(map[string]interface{})
	assert.Equal(t, "Scraped Name", profile["name"])
	assert.Equal(t, 1, env.leads.Count(context.Background()))

	rec = env.do(t, http.MethodPost, "/api/scrape-website", map[string]interface{}{"url": "https://acme.com/team", "save": true})
	require.Equal(t, http.StatusOK, rec.Code)
	profile = decodeMap(t, rec)["profile"].(map[string]interface{})
	assert.Equal(t, "Stored Name", profile["name"])
	assert.Equal(t, "CEO", profile["title"])
	assert.Equal(t, 1, env.leads.Count(context.Background()))
}

func TestScrapeWebsiteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.website.err = errors.New("connection refused")

	rec := env.do(t, http.MethodPost, "/api/scrape-website", map[string]interface{}{"url": "https://down.example"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, false, decodeMap(t, rec)["success"])
}

func TestLoginManual(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/linkedin/login", map[string]interface{}{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"success": true,
		"status": "waiting_for_login",
		"message": "Browser opened for manual login. Please login within 60 seconds."
	}`, rec.Body.String())
}

func TestLoginAutomatic(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/linkedin/login", map[string]interface{}{"login_method": "automatic", "email": "a@b.c", "password": "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Automatic login successful"}`, rec.Body.String())

	env.auth.loginErr = auth.ErrLoginFailed
	rec = env.do(t, http.MethodPost, "/api/linkedin/login", map[string]interface{}{"login_method": "automatic", "email": "a@b.c", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Automatic login failed. Please check your credentials.", decodeMap(t, rec)["error"])

	env.auth.loginErr = auth.ErrCredentialsRequired
	rec = env.do(t, http.MethodPost, "/api/linkedin/login", map[string]interface{}{"login_method": "automatic"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginStatusAndLogout(t *testing.T) {
	env := newTestEnv(t)
	env.auth.loggedIn = true

	rec := env.do(t, http.MethodGet, "/api/linkedin/login-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"logged_in":true,"timestamp":"1970-01-01T00:00:00Z","message":"status"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/linkedin/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"Logged out of LinkedIn"}`, rec.Body.String())
	assert.False(t, env.auth.loggedIn)
}

func TestScrapeProfileValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/linkedin/scrape-profile", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "LinkedIn profile URL is required", decodeMap(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/linkedin/scrape-profile", map[string]interface{}{"profile_url": "https://example.com/in/jane"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid LinkedIn profile URL", decodeMap(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/linkedin/scrape-profile", map[string]interface{}{"profile_url": "https://www.linkedin.com/in/jane"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Not logged in to LinkedIn. Please login first.","requires_login":true}`, rec.Body.String())
	assert.Empty(t, env.profiles.urls)
}

func TestScrapeProfileSavesByDefault(t *testing.T) {
	env := newTestEnv(t)
	env.auth.loggedIn = true
	env.seed(t, lead.Lead{Name: "Old Name", Location: "Paris", SourceURL: "https://www.linkedin.com/in/jane"})
	env.profiles.lead = lead.Lead{Name: "Jane Doe", Title: "CTO", SourceURL: "https://www.linkedin.com/in/jane"}

	rec := env.do(t, http.MethodPost, "/api/linkedin/scrape-profile", map[string]interface{}{"profile_url": "https://www.linkedin.com/in/jane"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := env.leads.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", stored.Name)
	assert.Equal(t, "CTO", stored.Title)
	assert.Equal(t, "Paris", stored.Location)
	assert.Equal(t, 1, env.leads.Count(context.Background()))

	env.profiles.lead = lead.Lead{Name: "Other", SourceURL: "https://www.linkedin.com/in/other"}
	rec = env.do(t, http.MethodPost, "/api/linkedin/scrape-profile", map[string]interface{}{"profile_url": "https://www.linkedin.com/in/other", "save": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.leads.Count(context.Background()))
}

func TestScrapeProfileRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.auth.loggedIn = true
	env.profiles.err = scraper.ErrRateLimited

	rec := env.do(t, http.MethodPost, "/api/linkedin/scrape-profile", map[string]interface{}{"profile_url": "https://www.linkedin.com/in/jane"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestExportEmptyStore(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/export/csv", "/api/export/sheets"} {
		rec := env.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "No leads to export", decodeMap(t, rec)["error"])
	}
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, lead.Lead{Name: "Jane Doe", Email: "jane@acme.com"})

	rec := env.do(t, http.MethodPost, "/api/export/csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="leads_export.csv"`)

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "Jane Doe", rows[1][1])
}

func TestExportXLSX(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, lead.Lead{Name: "Jane Doe"})

	rec := env.do(t, http.MethodPost, "/api/export/sheets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="leads_export.xlsx"`)

	f, err := xlsx.OpenBinary(rec.Body.Bytes())
	require.NoError(t, err)
	sheet := f.Sheet["Leads"]
	require.NotNil(t, sheet)
	assert.Equal(t, "Jane Doe", sheet.Rows[1].Cells[0].String())
}

func TestStatusAndIndex(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, lead.Lead{Name: "A"}, lead.Lead{Name: "B"})

	rec := env.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, 2.0, body["leads_count"])
	assert.Equal(t, Version, body["version"])
	_, err := time.Parse(time.RFC3339, body["time"].(string))
	assert.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "online", decodeMap(t, rec)["status"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.server.deps.Health = map[string]Pinger{"database": fakePinger{}, "redis": nil}

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"database": "healthy", "redis": "not configured"}, body["dependencies"])

	env.server.deps.Health["redis"] = fakePinger{err: errors.New("dial tcp: refused")}
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeMap(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/status", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestUnconfiguredCollaborators(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "leads.json"), nil)
	srv := NewServer(config.DefaultConfig(), Deps{Leads: service.New(st, nil)}, nil)

	for _, tc := range []struct {
		path string
		body string
	}{
		{"/api/leads/search", `{"query":"cto"}`},
		{"/api/leads/search", `{"query":"Acme","is_company":true}`},
		{"/api/search", `{"query":"cto"}`},
		{"/api/leads/enrich", `{}`},
		{"/api/scrape-website", `{"url":"https://acme.com"}`},
		{"/api/linkedin/login", `{}`},
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/activity", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunShutsDownAndRunsHooks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	st := store.New(filepath.Join(t.TempDir(), "leads.json"), nil)

	closed := false
	srv := NewServer(cfg, Deps{
		Leads:      service.New(st, nil),
		OnShutdown: []func() error{func() error { closed = true; return nil }},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, closed)
}
