// Package auth manages the LinkedIn login of the browser session: automatic
// login with credentials, manual login in the visible browser, status
// checks, cookie persistence and logout.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/nikshitha/leadgen/browser"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/stealth"
	"github.com/nikshitha/leadgen/storage"
	"github.com/rotisserie/eris"
)

// Common LinkedIn URLs
const (
	LinkedInBaseURL  = "https://www.linkedin.com"
	LinkedInLoginURL = "https://www.linkedin.com/login"
	LinkedInFeedURL  = "https://www.linkedin.com/feed/"
)

// Login methods
const (
	MethodManual    = "manual"
	MethodAutomatic = "automatic"
)

var (
	ErrLoginFailed         = errors.New("login failed: invalid credentials or unknown error")
	ErrCredentialsRequired = errors.New("email and password are required for automatic login")
	ErrNotLoggedIn         = errors.New("not logged in to LinkedIn")
	ErrLoginTimeout        = errors.New("timed out waiting for manual login")
)

// Status is the login state reported to clients
type Status struct {
	LoggedIn  bool      `json:"logged_in"`
	Waiting   bool      `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Authenticator owns the login state of a browser session
type Authenticator struct {
	config  *config.Config
	logger  *logger.Logger
	session *browser.Session
	stealth *stealth.Manager
	db      *storage.Database // optional

	mu     sync.Mutex
	status Status
	now    func() time.Time
}

// NewAuthenticator creates an authenticator for session. db may be nil.
func NewAuthenticator(cfg *config.Config, session *browser.Session, sm *stealth.Manager, db *storage.Database, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.Discard()
	}
	a := &Authenticator{
		config:  cfg,
		logger:  log.WithModule("auth"),
		session: session,
		stealth: sm,
		db:      db,
		now:     time.Now,
	}
	a.status = Status{Timestamp: a.now(), Message: "Not logged in"}
	return a
}

func (a *Authenticator) setStatus(loggedIn, waiting bool, message string) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = Status{LoggedIn: loggedIn, Waiting: waiting, Timestamp: a.now(), Message: message}
	return a.status
}

func (a *Authenticator) current() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// IsLoggedIn reports the last known login state without touching the browser
func (a *Authenticator) IsLoggedIn() bool {
	return a.current().LoggedIn
}

// Login opens a fresh browser session and logs in. Saved cookies are tried
// first. With MethodManual (the default) the login page is left open for
// the user and the returned status has Waiting set.
func (a *Authenticator) Login(ctx context.Context, method, email, password string) (Status, error) {
	if method == "" {
		method = MethodManual
	}
	if email == "" && password == "" {
		email, password = a.config.LinkedIn.Email, a.config.LinkedIn.Password
	}
	if method == MethodAutomatic && (email == "" || password == "") {
		return a.current(), ErrCredentialsRequired
	}

	a.logger.WithField("method", method).Info("Starting login process")

	if err := a.session.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close previous browser session")
	}
	if err := a.session.Launch(ctx); err != nil {
		return a.setStatus(false, false, "Browser failed to start"), err
	}

	if a.restoreSession(ctx) {
		a.logger.Info("Restored existing session from cookies")
		return a.setStatus(true, false, "Logged in with saved session"), nil
	}

	err := a.session.Do(ctx, func(tab *browser.Tab) error {
		return tab.Navigate(ctx, LinkedInLoginURL)
	})
	if err != nil {
		a.session.Close()
		return a.setStatus(false, false, "Could not open the login page"), eris.Wrap(err, "failed to open login page")
	}

	if method != MethodAutomatic {
		return a.setStatus(false, true, "Waiting for manual login"), nil
	}

	if err := a.submitCredentials(ctx, email, password); err != nil {
		a.session.Close()
		return a.setStatus(false, false, "Automatic login failed. Please check your credentials."), err
	}

	a.saveCookies(ctx)
	return a.setStatus(true, false, "Logged in automatically"), nil
}

func (a *Authenticator) submitCredentials(ctx context.Context, email, password string) error {
	return a.session.Do(ctx, func(tab *browser.Tab) error {
		emailField, err := tab.Element("#username", 10*time.Second)
		if err != nil {
			return eris.Wrap(err, "failed to find email field")
		}
		if err := a.stealth.HumanType(ctx, emailField, email); err != nil {
			return eris.Wrap(err, "failed to enter email")
		}
		if err := a.stealth.ActionDelay(ctx); err != nil {
			return err
		}

		passwordField, err := tab.Element("#password", 5*time.Second)
		if err != nil {
			return eris.Wrap(err, "failed to find password field")
		}
		if err := a.stealth.HumanType(ctx, passwordField, password); err != nil {
			return eris.Wrap(err, "failed to enter password")
		}
		if err := a.stealth.ActionDelay(ctx); err != nil {
			return err
		}

		button, err := tab.Element(`button[type="submit"]`, 5*time.Second)
		if err != nil {
			return eris.Wrap(err, "failed to find login button")
		}
		if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return eris.Wrap(err, "failed to click login button")
		}

		if err := stealth.Sleep(ctx, 5*time.Second); err != nil {
			return err
		}

		url, err := tab.URL()
		if err != nil {
			return err
		}
		if IsLoggedInURL(url) {
			if strings.Contains(url, "checkpoint") {
				a.logger.SecurityEvent("SECURITY_CHECKPOINT", "LinkedIn asked for verification after login")
			}
			return nil
		}

		if msg := tab.Text(".form__label--error", "#error-for-username", "#error-for-password", ".alert-content"); msg != "" {
			a.logger.WithField("error_message", msg).Error("Login error detected")
		}
		if tab.Has("#captcha-internal") || tab.Has("iframe[src*='captcha']") || tab.Has("#arkose-challenge") {
			a.logger.SecurityEvent("CAPTCHA_REQUIRED", "Captcha verification is required")
		}
		return ErrLoginFailed
	})
}

// IsLoggedInURL reports whether a page URL means the login went through.
// LinkedIn sends verified users to the feed and suspicious logins to a
// checkpoint, which still carries a valid session.
func IsLoggedInURL(url string) bool {
	return strings.Contains(url, "feed") || strings.Contains(url, "checkpoint")
}

// Status returns the login state. While a manual login is pending the
// browser URL is checked, so a login finished by the user is picked up.
func (a *Authenticator) Status(ctx context.Context) Status {
	st := a.current()
	if st.LoggedIn || !a.session.IsOpen() {
		return st
	}

	var url string
	err := a.session.Do(ctx, func(tab *browser.Tab) error {
		var err error
		url, err = tab.URL()
		return err
	})
	if err != nil {
		a.logger.WithError(err).Warn("Browser session is broken")
		return a.setStatus(false, false, "Session error, please login again")
	}

	if IsLoggedInURL(url) {
		a.saveCookies(ctx)
		return a.setStatus(true, false, "Logged in manually")
	}
	return st
}

// WaitForLogin polls Status until the user finishes a manual login, the
// configured timeout passes or ctx is done
func (a *Authenticator) WaitForLogin(ctx context.Context) (Status, error) {
	timeout := time.Duration(a.config.LinkedIn.ManualLoginTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		st := a.Status(ctx)
		if st.LoggedIn {
			return st, nil
		}
		if !st.Waiting {
			return st, ErrNotLoggedIn
		}
		if err := stealth.Sleep(ctx, 2*time.Second); err != nil {
			return st, ErrLoginTimeout
		}
	}
}

// Logout closes the browser and forgets the session
func (a *Authenticator) Logout(ctx context.Context) (Status, error) {
	a.logger.Info("Logging out")

	if err := a.session.Close(); err != nil {
		return a.current(), err
	}

	if a.db != nil {
		if err := a.db.ClearCookies(); err != nil {
			a.logger.WithError(err).Warn("Failed to clear stored cookies")
		}
	}
	if err := storage.SaveCookiesToFile([]*storage.SessionCookie{}, a.config.Storage.CookiesPath); err != nil {
		a.logger.WithError(err).Warn("Failed to clear cookie file")
	}

	return a.setStatus(false, false, "Logged out"), nil
}

// RequireLogin returns ErrNotLoggedIn unless the session is logged in
func (a *Authenticator) RequireLogin(ctx context.Context) error {
	if !a.Status(ctx).LoggedIn {
		return ErrNotLoggedIn
	}
	return nil
}

// restoreSession loads saved cookies into the browser and checks whether
// LinkedIn accepts them
func (a *Authenticator) restoreSession(ctx context.Context) bool {
	cookies := a.loadCookies()
	if len(cookies) == 0 {
		return false
	}

	params := ToCookieParams(cookies, a.now())
	if len(params) == 0 {
		a.logger.Debug("All saved cookies have expired")
		return false
	}

	var url string
	err := a.session.Do(ctx, func(tab *browser.Tab) error {
		if err := tab.Navigate(ctx, LinkedInBaseURL); err != nil {
			return err
		}
		if err := tab.SetCookies(params); err != nil {
			return err
		}
		if err := tab.Navigate(ctx, LinkedInFeedURL); err != nil {
			return err
		}
		var err error
		url, err = tab.URL()
		return err
	})
	if err != nil {
		a.logger.WithError(err).Debug("Failed to restore session")
		return false
	}

	return strings.Contains(url, "/feed") && !strings.Contains(url, "/login") && !strings.Contains(url, "/authwall")
}

func (a *Authenticator) loadCookies() []*storage.SessionCookie {
	cookies, err := storage.LoadCookiesFromFile(a.config.Storage.CookiesPath)
	if err != nil {
		a.logger.WithError(err).Debug("Failed to load cookies from file")
	}
	if len(cookies) == 0 && a.db != nil {
		cookies, err = a.db.LoadCookies()
		if err != nil {
			a.logger.WithError(err).Debug("Failed to load cookies from database")
		}
	}
	return cookies
}

func (a *Authenticator) saveCookies(ctx context.Context) {
	var cookies []*proto.NetworkCookie
	err := a.session.Do(ctx, func(tab *browser.Tab) error {
		var err error
		cookies, err = tab.Cookies()
		return err
	})
	if err != nil {
		a.logger.WithError(err).Warn("Failed to read session cookies")
		return
	}

	stored := FromNetworkCookies(cookies)

	if a.db != nil {
		if err := a.db.SaveCookies(stored); err != nil {
			a.logger.WithError(err).Warn("Failed to save cookies to database")
		}
	}
	if err := storage.SaveCookiesToFile(stored, a.config.Storage.CookiesPath); err != nil {
		a.logger.WithError(err).Warn("Failed to save cookies to file")
		return
	}

	a.logger.Info("Session cookies saved successfully")
}

// FromNetworkCookies keeps the LinkedIn cookies of a browser cookie jar
func FromNetworkCookies(cookies []*proto.NetworkCookie) []*storage.SessionCookie {
	out := make([]*storage.SessionCookie, 0, len(cookies))
	for _, c := range cookies {
		if !strings.Contains(c.Domain, "linkedin.com") {
			continue
		}
		out = append(out, &storage.SessionCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  int64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return out
}

// ToCookieParams converts stored cookies for the browser, dropping expired ones
func ToCookieParams(cookies []*storage.SessionCookie, now time.Time) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.Expired(now) {
			continue
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return params
}
