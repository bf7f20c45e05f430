// Package storage keeps the activity database for the lead generation tool:
// scrape runs, search history, daily counters and the LinkedIn session
// cookies. Leads themselves live in the JSON store.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nikshitha/leadgen/logger"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Run kinds
const (
	RunSearch  = "search"
	RunWebsite = "website"
	RunProfile = "profile"
	RunEnrich  = "enrich"
	RunCompany = "company"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Daily counters
const (
	StatSearches       = "searches_performed"
	StatProfiles       = "profiles_scraped"
	StatLeadsSaved     = "leads_saved"
	StatEmailsVerified = "emails_verified"
	StatExports        = "exports"
)

var validStats = map[string]bool{
	StatSearches:       true,
	StatProfiles:       true,
	StatLeadsSaved:     true,
	StatEmailsVerified: true,
	StatExports:        true,
}

// Database wraps SQLite database operations
type Database struct {
	db     *sql.DB
	logger *logger.Logger
}

// ScrapeRun is one search, website or profile scrape
type ScrapeRun struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Query      string     `json:"query"`
	Status     string     `json:"status"`
	URLsFound  int        `json:"urls_found"`
	LeadsFound int        `json:"leads_found"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// DailyStats tracks daily activity statistics
type DailyStats struct {
	Date              string `json:"date"`
	SearchesPerformed int    `json:"searches_performed"`
	ProfilesScraped   int    `json:"profiles_scraped"`
	LeadsSaved        int    `json:"leads_saved"`
	EmailsVerified    int    `json:"emails_verified"`
	Exports           int    `json:"exports"`
}

// SearchRecord is one query sent to one search engine
type SearchRecord struct {
	Query        string    `json:"query"`
	Engine       string    `json:"engine"`
	ResultsCount int       `json:"results_count"`
	SearchedAt   time.Time `json:"searched_at"`
}

// SessionCookie represents a stored browser cookie
type SessionCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"`
	HTTPOnly bool   `json:"http_only"`
	Secure   bool   `json:"secure"`
}

// Expired reports whether the cookie has a past expiry. Session cookies
// (Expires == 0) never expire here.
func (c *SessionCookie) Expired(now time.Time) bool {
	return c.Expires != 0 && c.Expires <= now.Unix()
}

// NewDatabase opens (creating if needed) the activity database at dbPath
func NewDatabase(dbPath string, log *logger.Logger) (*Database, error) {
	if log == nil {
		log = logger.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, eris.Wrap(err, "failed to create database directory")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "failed to exec %s", pragma)
		}
	}

	database := &Database{
		db:     db,
		logger: log.WithModule("storage"),
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize schema")
	}

	database.logger.Info("Database initialized successfully")
	return database, nil
}

func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		query TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		urls_found INTEGER DEFAULT 0,
		leads_found INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS search_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		engine TEXT NOT NULL,
		results_count INTEGER,
		searched_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_stats (
		date TEXT PRIMARY KEY,
		searches_performed INTEGER DEFAULT 0,
		profiles_scraped INTEGER DEFAULT 0,
		leads_saved INTEGER DEFAULT 0,
		emails_verified INTEGER DEFAULT 0,
		exports INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS session_cookies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		domain TEXT,
		path TEXT,
		expires INTEGER,
		http_only BOOLEAN,
		secure BOOLEAN,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_search_history_searched_at ON search_history(searched_at);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// ==============================================================================
// Scrape runs
// ==============================================================================

// StartRun records a new running scrape and returns its id
func (d *Database) StartRun(kind, query string) (string, error) {
	id := uuid.NewString()

	_, err := d.db.Exec(
		`INSERT INTO scrape_runs (id, kind, query, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, query, StatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "failed to start scrape run")
	}

	d.logger.WithFields(map[string]interface{}{
		"run_id": id,
		"kind":   kind,
	}).Debug("Scrape run started")
	return id, nil
}

// FinishRun marks a run completed, or failed when runErr is not nil
func (d *Database) FinishRun(id string, urlsFound, leadsFound int, runErr error) error {
	status := StatusCompleted
	errText := ""
	if runErr != nil {
		status = StatusFailed
		errText = runErr.Error()
	}

	res, err := d.db.Exec(
		`UPDATE scrape_runs SET status = ?, urls_found = ?, leads_found = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, urlsFound, leadsFound, errText, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrap(err, "failed to finish scrape run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("scrape run %s not found", id)
	}
	return nil
}

// GetRun returns the run with the given id, or nil when there is none
func (d *Database) GetRun(id string) (*ScrapeRun, error) {
	row := d.db.QueryRow(
		`SELECT id, kind, query, status, urls_found, leads_found, error, started_at, finished_at FROM scrape_runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to get scrape run")
	}
	return run, nil
}

// RecentRuns returns the latest runs, newest first
func (d *Database) RecentRuns(limit int) ([]*ScrapeRun, error) {
	rows, err := d.db.Query(
		`SELECT id, kind, query, status, urls_found, leads_found, error, started_at, finished_at
		 FROM scrape_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to list scrape runs")
	}
	defer rows.Close()

	var runs []*ScrapeRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*ScrapeRun, error) {
	run := &ScrapeRun{}
	var finished sql.NullTime
	err := s.Scan(&run.ID, &run.Kind, &run.Query, &run.Status, &run.URLsFound,
		&run.LeadsFound, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// ==============================================================================
// Search history
// ==============================================================================

// SaveSearch records one engine query and counts it in today's stats
func (d *Database) SaveSearch(query, engine string, resultsCount int) error {
	_, err := d.db.Exec(
		`INSERT INTO search_history (query, engine, results_count, searched_at) VALUES (?, ?, ?, ?)`,
		query, engine, resultsCount, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "failed to save search history")
	}
	return d.IncrementStat(StatSearches, 1)
}

// SearchHistory returns the latest searches, newest first
func (d *Database) SearchHistory(limit int) ([]*SearchRecord, error) {
	rows, err := d.db.Query(
		`SELECT query, engine, results_count, searched_at FROM search_history ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read search history")
	}
	defer rows.Close()

	var records []*SearchRecord
	for rows.Next() {
		r := &SearchRecord{}
		if err := rows.Scan(&r.Query, &r.Engine, &r.ResultsCount, &r.SearchedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ==============================================================================
// Daily stats
// ==============================================================================

// IncrementStat adds n to one of today's counters
func (d *Database) IncrementStat(stat string, n int) error {
	if !validStats[stat] {
		return eris.Errorf("unknown daily stat: %s", stat)
	}
	if n == 0 {
		return nil
	}

	today := time.Now().Format("2006-01-02")
	if _, err := d.db.Exec(`INSERT OR IGNORE INTO daily_stats (date) VALUES (?)`, today); err != nil {
		return eris.Wrap(err, "failed to create daily stats row")
	}

	// stat is checked against validStats above
	_, err := d.db.Exec(`UPDATE daily_stats SET `+stat+` = `+stat+` + ? WHERE date = ?`, n, today)
	if err != nil {
		return eris.Wrapf(err, "failed to increment %s", stat)
	}
	return nil
}

// GetTodayStats returns today's activity statistics
func (d *Database) GetTodayStats() (*DailyStats, error) {
	today := time.Now().Format("2006-01-02")

	stats := &DailyStats{Date: today}
	err := d.db.QueryRow(
		`SELECT date, searches_performed, profiles_scraped, leads_saved, emails_verified, exports FROM daily_stats WHERE date = ?`,
		today,
	).Scan(&stats.Date, &stats.SearchesPerformed, &stats.ProfilesScraped, &stats.LeadsSaved, &stats.EmailsVerified, &stats.Exports)

	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to read daily stats")
	}
	return stats, nil
}

// ==============================================================================
// Session cookies
// ==============================================================================

// SaveCookies replaces the stored session cookies
func (d *Database) SaveCookies(cookies []*SessionCookie) error {
	tx, err := d.db.Begin()
	if err != nil {
		return eris.Wrap(err, "failed to begin cookie transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_cookies`); err != nil {
		return eris.Wrap(err, "failed to clear cookies")
	}

	for _, c := range cookies {
		_, err := tx.Exec(
			`INSERT INTO session_cookies (name, value, domain, path, expires, http_only, secure) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.Name, c.Value, c.Domain, c.Path, c.Expires, c.HTTPOnly, c.Secure,
		)
		if err != nil {
			return eris.Wrap(err, "failed to save cookie")
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "failed to commit cookies")
	}

	d.logger.Infof("Saved %d session cookies", len(cookies))
	return nil
}

// LoadCookies loads the stored session cookies
func (d *Database) LoadCookies() ([]*SessionCookie, error) {
	rows, err := d.db.Query(`SELECT name, value, domain, path, expires, http_only, secure FROM session_cookies ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load cookies")
	}
	defer rows.Close()

	var cookies []*SessionCookie
	for rows.Next() {
		c := &SessionCookie{}
		if err := rows.Scan(&c.Name, &c.Value, &c.Domain, &c.Path, &c.Expires, &c.HTTPOnly, &c.Secure); err != nil {
			return nil, err
		}
		cookies = append(cookies, c)
	}
	return cookies, rows.Err()
}

// ClearCookies deletes the stored session cookies
func (d *Database) ClearCookies() error {
	_, err := d.db.Exec(`DELETE FROM session_cookies`)
	return err
}

// SaveCookiesToFile writes cookies as JSON readable only by the owner
func SaveCookiesToFile(cookies []*SessionCookie, filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filePath, data, 0600)
}

// LoadCookiesFromFile reads cookies written by SaveCookiesToFile. A missing
// file yields no cookies and no error.
func LoadCookiesFromFile(filePath string) ([]*SessionCookie, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cookies []*SessionCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, err
	}
	return cookies, nil
}
