// Package config provides configuration management for the lead generation tool.
// It supports YAML configuration files with environment variable overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the tool
type Config struct {
	// HTTP API server
	Server ServerConfig `yaml:"server"`

	// Lead store and export file names
	Leads LeadsConfig `yaml:"leads"`

	// LinkedIn credentials (optional, manual login works without them)
	LinkedIn LinkedInConfig `yaml:"linkedin"`

	// Browser configuration
	Browser BrowserConfig `yaml:"browser"`

	// Stealth settings for anti-detection
	Stealth StealthConfig `yaml:"stealth"`

	// Rate limiting configuration
	RateLimits RateLimitConfig `yaml:"rate_limits"`

	// Search configuration
	Search SearchConfig `yaml:"search"`

	// Email enrichment
	Enrichment EnrichmentConfig `yaml:"enrichment"`

	// Verification cache
	Cache CacheConfig `yaml:"cache"`

	// Activity database
	Storage StorageConfig `yaml:"storage"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_seconds"`
}

// LeadsConfig holds lead store settings
type LeadsConfig struct {
	DataFile       string `yaml:"data_file"`
	CSVExportName  string `yaml:"csv_export_name"`
	XLSXExportName string `yaml:"xlsx_export_name"`
}

// LinkedInConfig holds LinkedIn-specific settings
type LinkedInConfig struct {
	Email              string `yaml:"email"`
	Password           string `yaml:"password"`
	ManualLoginTimeout int    `yaml:"manual_login_timeout_seconds"`
}

// BrowserConfig holds browser automation settings
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	UserDataDir    string `yaml:"user_data_dir"`
	SlowMotion     int    `yaml:"slow_motion_ms"`
	Timeout        int    `yaml:"timeout_seconds"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
}

// StealthConfig holds anti-detection settings
type StealthConfig struct {
	TypingDelayMin    int  `yaml:"typing_delay_min_ms"`
	TypingDelayMax    int  `yaml:"typing_delay_max_ms"`
	ActionDelayMin    int  `yaml:"action_delay_min_ms"`
	ActionDelayMax    int  `yaml:"action_delay_max_ms"`
	PageLoadWaitMin   int  `yaml:"page_load_wait_min_ms"`
	PageLoadWaitMax   int  `yaml:"page_load_wait_max_ms"`
	RandomizeViewport bool `yaml:"randomize_viewport"`
	DisableWebdriver  bool `yaml:"disable_webdriver"`
	RandomUserAgent   bool `yaml:"random_user_agent"`
}

// RateLimitConfig holds per-action budgets for scraping
type RateLimitConfig struct {
	MaxSearchesPerHour    int `yaml:"max_searches_per_hour"`
	MaxProfileViewsPerDay int `yaml:"max_profile_views_per_day"`
	ProfileDelayMin       int `yaml:"profile_delay_min_ms"`
	ProfileDelayMax       int `yaml:"profile_delay_max_ms"`
}

// SearchConfig holds search engine settings
type SearchConfig struct {
	Engines             []string `yaml:"engines"`
	DefaultResults      int      `yaml:"default_results"`
	MaxResultsPerSearch int      `yaml:"max_results_per_search"`
	RequestTimeout      int      `yaml:"request_timeout_seconds"`
	MaxRetries          int      `yaml:"max_retries"`
}

// EnrichmentConfig holds email verification settings
type EnrichmentConfig struct {
	HunterAPIKey      string  `yaml:"hunter_api_key"`
	HunterBaseURL     string  `yaml:"hunter_base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Concurrency       int     `yaml:"concurrency"`
	MaxAlternatives   int     `yaml:"max_alternatives"`
}

// CacheConfig holds redis settings; an empty address selects the in-memory cache
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// StorageConfig holds activity database settings
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	CookiesPath  string `yaml:"cookies_path"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputFile string `yaml:"output_file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10,
		},
		Leads: LeadsConfig{
			DataFile:       "leads_data.json",
			CSVExportName:  "leads_export.csv",
			XLSXExportName: "leads_export.xlsx",
		},
		LinkedIn: LinkedInConfig{
			ManualLoginTimeout: 60,
		},
		Browser: BrowserConfig{
			Headless:       false,
			UserDataDir:    "./data/browser",
			Timeout:        30,
			ViewportWidth:  1366,
			ViewportHeight: 768,
		},
		Stealth: StealthConfig{
			TypingDelayMin:    50,
			TypingDelayMax:    200,
			ActionDelayMin:    500,
			ActionDelayMax:    2000,
			PageLoadWaitMin:   1000,
			PageLoadWaitMax:   3000,
			RandomizeViewport: true,
			DisableWebdriver:  true,
			RandomUserAgent:   true,
		},
		RateLimits: RateLimitConfig{
			MaxSearchesPerHour:    10,
			MaxProfileViewsPerDay: 100,
			ProfileDelayMin:       3000,
			ProfileDelayMax:       6000,
		},
		Search: SearchConfig{
			Engines:             []string{"google", "bing", "duckduckgo", "yandex"},
			DefaultResults:      10,
			MaxResultsPerSearch: 100,
			RequestTimeout:      15,
			MaxRetries:          3,
		},
		Enrichment: EnrichmentConfig{
			HunterBaseURL:     "https://api.hunter.io/v2",
			RequestsPerSecond: 5,
			Concurrency:       4,
			MaxAlternatives:   2,
		},
		Storage: StorageConfig{
			DatabasePath: "./data/leadgen.db",
			CookiesPath:  "./data/cookies.json",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			OutputFile: "./logs/leadgen.log",
		},
	}
}

// LoadConfig loads configuration from a YAML file and applies environment variable overrides
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, eris.Wrap(err, "failed to read config file")
			}
			// File doesn't exist, use defaults
		} else {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, eris.Wrap(err, "failed to parse config file")
			}
		}
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, eris.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvOverrides() {
	if file := os.Getenv("LEADS_FILE"); file != "" {
		c.Leads.DataFile = file
	}
	if name := os.Getenv("DEFAULT_CSV_EXPORT_FILENAME"); name != "" {
		c.Leads.CSVExportName = name
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil {
			c.Server.Port = val
		}
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	// LinkedIn credentials (most commonly overridden via env)
	if email := os.Getenv("LINKEDIN_EMAIL"); email != "" {
		c.LinkedIn.Email = email
	}
	if password := os.Getenv("LINKEDIN_PASSWORD"); password != "" {
		c.LinkedIn.Password = password
	}

	if headless := os.Getenv("BROWSER_HEADLESS"); headless != "" {
		c.Browser.Headless = headless == "true" || headless == "1"
	}
	if userDataDir := os.Getenv("BROWSER_USER_DATA_DIR"); userDataDir != "" {
		c.Browser.UserDataDir = userDataDir
	}

	if key := os.Getenv("HUNTER_API_KEY"); key != "" {
		c.Enrichment.HunterAPIKey = key
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Cache.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Cache.RedisPassword = password
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.Logging.Format = logFormat
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Storage.DatabasePath = dbPath
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Leads.DataFile == "" {
		return eris.New("leads data_file is required (set LEADS_FILE env var or in config)")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if (c.LinkedIn.Email == "") != (c.LinkedIn.Password == "") {
		return eris.New("LinkedIn email and password must be set together")
	}

	if c.Search.DefaultResults <= 0 || c.Search.DefaultResults > c.Search.MaxResultsPerSearch {
		return eris.Errorf("default_results must be between 1 and %d", c.Search.MaxResultsPerSearch)
	}
	for _, engine := range c.Search.Engines {
		if !validEngines[engine] {
			return eris.Errorf("unknown search engine: %s", engine)
		}
	}

	if c.RateLimits.ProfileDelayMin < 0 || c.RateLimits.ProfileDelayMax < c.RateLimits.ProfileDelayMin {
		return eris.New("profile delay range is invalid")
	}

	if c.Enrichment.RequestsPerSecond <= 0 {
		return eris.New("enrichment requests_per_second must be positive")
	}
	if c.Enrichment.Concurrency < 1 {
		return eris.New("enrichment concurrency must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return eris.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

var validEngines = map[string]bool{
	"google":     true,
	"bing":       true,
	"duckduckgo": true,
	"yandex":     true,
}

// HasCredentials reports whether automatic LinkedIn login is possible
func (c *Config) HasCredentials() bool {
	return c.LinkedIn.Email != "" && c.LinkedIn.Password != ""
}

// RequestTimeout returns the search engine HTTP timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Search.RequestTimeout) * time.Second
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}
