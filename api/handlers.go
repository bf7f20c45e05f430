package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nikshitha/leadgen/auth"
	"github.com/nikshitha/leadgen/export"
	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/scraper"
	"github.com/nikshitha/leadgen/service"
	"github.com/nikshitha/leadgen/storage"
)

const linkedInPrefix = "https://www.linkedin.com/"

type errorResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	RequiresLogin bool   `json:"requires_login,omitempty"`
}

type leadResponse struct {
	Success bool      `json:"success"`
	Lead    lead.Lead `json:"lead"`
}

type countResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps a service or collaborator error to a response
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "Lead not found")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Lead must have at least one field")
	case errors.Is(err, service.ErrPersistence):
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("Lead store write failed")
		writeError(w, http.StatusInternalServerError, "Failed to save leads")
	default:
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" is not configured")
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func leadID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return id, err == nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "online",
		"message": "LinkedIn Lead Generator API",
		"endpoints": []string{
			"/api/leads",
			"/api/leads/<id>",
			"/api/leads/search",
			"/api/leads/enrich",
			"/api/search",
			"/api/scrape-website",
			"/api/linkedin/login",
			"/api/linkedin/login-status",
			"/api/linkedin/logout",
			"/api/linkedin/scrape-profile",
			"/api/clean-data",
			"/api/clean-all",
			"/api/export/csv",
			"/api/export/sheets",
			"/api/status",
			"/api/activity",
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "online",
		"time":        time.Now().Format(time.RFC3339),
		"leads_count": s.deps.Leads.Count(r.Context()),
		"version":     Version,
	})
}

type activityResponse struct {
	Success  bool                    `json:"success"`
	Today    *storage.DailyStats     `json:"today"`
	Runs     []*storage.ScrapeRun    `json:"runs"`
	Searches []*storage.SearchRecord `json:"searches"`
}

// handleActivity reports today's counters with the latest runs and
// searches. ?limit caps both lists.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activity == nil {
		unavailable(w, "Activity log")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	resp := activityResponse{Success: true}
	var err error
	if resp.Today, err = s.deps.Activity.GetTodayStats(); err == nil {
		if resp.Runs, err = s.deps.Activity.RecentRuns(limit); err == nil {
			resp.Searches, err = s.deps.Activity.SearchHistory(limit)
		}
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if resp.Runs == nil {
		resp.Runs = []*storage.ScrapeRun{}
	}
	if resp.Searches == nil {
		resp.Searches = []*storage.SearchRecord{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activity == nil {
		unavailable(w, "Activity log")
		return
	}
	run, err := s.deps.Activity.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type healthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps := make(map[string]string, len(s.deps.Health))
	status := "healthy"
	for name, p := range s.deps.Health {
		if p == nil {
			deps[name] = "not configured"
			continue
		}
		if err := p.Ping(r.Context()); err != nil {
			deps[name] = fmt.Sprintf("unhealthy: %v", err)
			status = "degraded"
			continue
		}
		deps[name] = "healthy"
	}

	code := http.StatusOK
	if status == "degraded" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:       status,
		Version:      Version,
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Dependencies: deps,
	})
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Leads.List(r.Context()))
}

func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Lead not found")
		return
	}
	l, err := s.deps.Leads.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var in lead.Lead
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	created, err := s.deps.Leads.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leadResponse{Success: true, Lead: created})
}

func (s *Server) handleUpdateLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Lead not found")
		return
	}
	var in lead.Lead
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	updated, err := s.deps.Leads.Update(r.Context(), id, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leadResponse{Success: true, Lead: updated})
}

func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Lead not found")
		return
	}
	removed, err := s.deps.Leads.Delete(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leadResponse{Success: true, Lead: removed})
}

func (s *Server) handleCleanData(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Leads.NormalizeAll(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Success: true, Count: n})
}

func (s *Server) handleCleanAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Leads.DedupeAll(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Success: true, Count: n})
}

type searchRequest struct {
	Query     string `json:"query"`
	Location  string `json:"location"`
	Count     int    `json:"count"`
	Validate  bool   `json:"validate"`
	IsCompany bool   `json:"is_company"`
}

// fullQuery is the query with the location appended. Company searches take
// the company name as is.
func (req searchRequest) fullQuery() string {
	query := strings.TrimSpace(req.Query)
	if query == "" || req.IsCompany {
		return query
	}
	if loc := strings.TrimSpace(req.Location); loc != "" {
		query += " " + loc
	}
	return query
}

func (s *Server) runnerFor(req searchRequest) (LeadRunner, string) {
	if req.IsCompany {
		return s.deps.Companies, "Company contact search"
	}
	return s.deps.Runner, "Search"
}

// search runs the scraper for req and enriches the results when asked.
// Finding nothing, including every search engine failing, is not an error.
func (s *Server) search(ctx context.Context, runner LeadRunner, query string, req searchRequest) ([]lead.Lead, error) {
	count := req.Count
	if count <= 0 {
		count = s.config.Search.DefaultResults
	}
	if max := s.config.Search.MaxResultsPerSearch; max > 0 && count > max {
		count = max
	}

	found, err := runner.Run(ctx, query, count)
	switch {
	case errors.Is(err, scraper.ErrNoResults):
		return nil, nil
	case errors.Is(err, scraper.ErrSearchUnavailable):
		s.logger.WithError(err).WithField("query", query).Warn("Every search engine failed")
		return nil, nil
	case err != nil:
		return nil, err
	}

	if req.Validate && s.deps.Enricher != nil && len(found) > 0 {
		enriched, _, err := s.deps.Enricher.EnrichAll(ctx, found)
		if err != nil {
			return nil, err
		}
		for i := range found {
			found[i] = lead.MergeEnrichment(found[i], enriched[i])
		}
	}
	return found, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	query := req.fullQuery()
	if query == "" {
		writeError(w, http.StatusBadRequest, "Search query is required")
		return
	}
	runner, what := s.runnerFor(req)
	if runner == nil {
		unavailable(w, what)
		return
	}

	ctx := r.Context()
	found, err := s.search(ctx, runner, query, req)
	if err != nil {
		s.logger.WithError(err).WithField("query", query).Error("Lead search failed")
		writeError(w, http.StatusInternalServerError, "Failed to search for leads: "+err.Error())
		return
	}
	if len(found) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No profiles found for '%s'. Try different keywords.", query))
		return
	}

	added, err := s.deps.Leads.AppendAll(ctx, found)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, added)
}

type previewResponse struct {
	Message string      `json:"message"`
	Results []lead.Lead `json:"results"`
}

// handlePreviewSearch runs a search without storing the results
func (s *Server) handlePreviewSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	query := req.fullQuery()
	if query == "" {
		writeError(w, http.StatusBadRequest, "Query parameter is required")
		return
	}
	runner, what := s.runnerFor(req)
	if runner == nil {
		unavailable(w, what)
		return
	}

	found, err := s.search(r.Context(), runner, query, req)
	if err != nil {
		s.logger.WithError(err).WithField("query", query).Error("Preview search failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(found) == 0 {
		writeJSON(w, http.StatusOK, previewResponse{Message: "No profiles found", Results: []lead.Lead{}})
		return
	}
	for i := range found {
		found[i] = lead.Normalize(found[i])
	}
	writeJSON(w, http.StatusOK, previewResponse{
		Message: fmt.Sprintf("Successfully found %d profiles", len(found)),
		Results: found,
	})
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enricher == nil {
		unavailable(w, "Email enrichment")
		return
	}

	ctx := r.Context()
	snapshot := s.deps.Leads.List(ctx)
	enriched, stats, err := s.deps.Enricher.EnrichAll(ctx, snapshot)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.deps.Leads.ApplyEnrichment(ctx, snapshot, enriched)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   n,
		"stats":   stats,
	})
}

type scrapeWebsiteRequest struct {
	URL  string `json:"url"`
	Save bool   `json:"save"`
}

func (s *Server) handleScrapeWebsite(w http.ResponseWriter, r *http.Request) {
	var req scrapeWebsiteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}
	if s.deps.Website == nil {
		unavailable(w, "Website scraping")
		return
	}

	ctx := r.Context()
	profile, err := s.deps.Website.Scrape(ctx, req.URL)
	if err != nil {
		s.logger.WithError(err).WithField("url", req.URL).Error("Website scrape failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if req.Save {
		profile, err = s.deps.Leads.Merge(ctx, profile, lead.FillEmpty)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "profile": profile})
}

type loginRequest struct {
	LoginMethod string `json:"login_method"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		unavailable(w, "LinkedIn login")
		return
	}
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	// The browser session outlives the request.
	st, err := s.deps.Auth.Login(context.WithoutCancel(r.Context()), req.LoginMethod, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrCredentialsRequired):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrLoginFailed):
		writeError(w, http.StatusUnauthorized, st.Message)
		return
	case err != nil:
		s.logger.WithError(err).Error("LinkedIn login failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if st.Waiting {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"status":  "waiting_for_login",
			"message": fmt.Sprintf("Browser opened for manual login. Please login within %d seconds.", s.config.LinkedIn.ManualLoginTimeout),
		})
		return
	}

	msg := st.Message
	if req.LoginMethod == auth.MethodAutomatic && st.LoggedIn {
		msg = "Automatic login successful"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg})
}

func (s *Server) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		unavailable(w, "LinkedIn login")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Auth.Status(r.Context()))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		unavailable(w, "LinkedIn login")
		return
	}
	if _, err := s.deps.Auth.Logout(r.Context()); err != nil {
		s.logger.WithError(err).Error("LinkedIn logout failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Logged out of LinkedIn"})
}

type scrapeProfileRequest struct {
	ProfileURL string `json:"profile_url"`
	Save       *bool  `json:"save"`
}

func (s *Server) handleScrapeProfile(w http.ResponseWriter, r *http.Request) {
	var req scrapeProfileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ProfileURL == "" {
		writeError(w, http.StatusBadRequest, "LinkedIn profile URL is required")
		return
	}
	if !strings.HasPrefix(req.ProfileURL, linkedInPrefix) {
		writeError(w, http.StatusBadRequest, "Invalid LinkedIn profile URL")
		return
	}
	if s.deps.Auth == nil || s.deps.Profiles == nil {
		unavailable(w, "LinkedIn scraping")
		return
	}

	ctx := r.Context()
	if !s.deps.Auth.Status(ctx).LoggedIn {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error:         "Not logged in to LinkedIn. Please login first.",
			RequiresLogin: true,
		})
		return
	}

	profile, err := s.deps.Profiles.Scrape(ctx, req.ProfileURL)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, scraper.ErrRateLimited) {
			status = http.StatusTooManyRequests
		}
		s.logger.WithError(err).WithField("url", req.ProfileURL).Error("Profile scrape failed")
		writeError(w, status, err.Error())
		return
	}
	if profile.SourceURL == "" {
		profile.SourceURL = req.ProfileURL
	}

	if req.Save == nil || *req.Save {
		profile, err = s.deps.Leads.Merge(ctx, profile, lead.OverwriteNonEmpty)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, leadResponse{Success: true, Lead: profile})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	s.exportAs(w, r, export.FormatCSV, s.config.Leads.CSVExportName)
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	s.exportAs(w, r, export.FormatXLSX, s.config.Leads.XLSXExportName)
}

func (s *Server) exportAs(w http.ResponseWriter, r *http.Request, format export.Format, filename string) {
	leads := s.deps.Leads.List(r.Context())
	if len(leads) == 0 {
		writeError(w, http.StatusBadRequest, "No leads to export")
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, leads); err != nil {
		s.logger.WithError(err).WithField("format", string(format)).Error("Export failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if filename == "" {
		filename = "leads_export." + string(format)
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
