// Package browser owns the single automated Chrome instance used for
// LinkedIn. A Session is launched once, used through Do by one caller at a
// time, and closed on logout or shutdown.
package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/logger"
	"github.com/nikshitha/leadgen/stealth"
	"github.com/rotisserie/eris"
)

// ErrNotLaunched is returned when the session has no running browser
var ErrNotLaunched = errors.New("browser session is not launched")

// Session is a lifecycle-scoped browser with a single page
type Session struct {
	config  config.BrowserConfig
	logger  *logger.Logger
	stealth *stealth.Manager

	mu         sync.Mutex
	browser    *rod.Browser
	page       *rod.Page
	launchedAt time.Time
}

// NewSession creates a session that is not yet launched
func NewSession(cfg config.BrowserConfig, sm *stealth.Manager, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Discard()
	}
	return &Session{
		config:  cfg,
		logger:  log.WithModule("browser"),
		stealth: sm,
	}
}

// buildLauncher configures Chrome with the automation hints removed
func (s *Session) buildLauncher(width, height int) (*launcher.Launcher, error) {
	l := launcher.New().
		Headless(s.config.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-infobars").
		Set("disable-dev-shm-usage").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-sync").
		Set("disable-translate").
		Set("disable-popup-blocking").
		Set("window-size", strconv.Itoa(width)+","+strconv.Itoa(height))

	if s.config.UserDataDir != "" {
		dir, err := filepath.Abs(s.config.UserDataDir)
		if err != nil {
			return nil, eris.Wrap(err, "failed to resolve user data dir")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, eris.Wrap(err, "failed to create user data dir")
		}
		l = l.UserDataDir(dir)
	}
	return l, nil
}

// Launch starts Chrome and opens the working page. Launching an open
// session is a no-op.
func (s *Session) Launch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		return nil
	}

	s.logger.Info("Launching browser")

	width, height := s.config.ViewportWidth, s.config.ViewportHeight
	if s.stealth != nil {
		width, height = s.stealth.Viewport(width, height)
	}

	l, err := s.buildLauncher(width, height)
	if err != nil {
		return err
	}

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return eris.Wrap(err, "failed to launch browser")
	}

	b := rod.New().ControlURL(controlURL)
	if s.config.SlowMotion > 0 {
		b = b.SlowMotion(time.Duration(s.config.SlowMotion) * time.Millisecond)
	}
	if err := b.Connect(); err != nil {
		return eris.Wrap(err, "failed to connect to browser")
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.Close()
		return eris.Wrap(err, "failed to create page")
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to set viewport")
	}

	if s.stealth != nil {
		ua := s.stealth.UserAgent()
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			s.logger.WithError(err).Warn("Failed to set user agent")
		}
		s.stealth.ApplyFingerprintMasking(page)
	}

	s.browser = b
	s.page = page
	s.launchedAt = time.Now()

	s.logger.WithFields(map[string]interface{}{
		"width":    width,
		"height":   height,
		"headless": s.config.Headless,
	}).Info("Browser launched")
	return nil
}

// IsOpen reports whether the browser is running
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser != nil
}

// LaunchedAt returns when the running browser was started
func (s *Session) LaunchedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launchedAt
}

// Close shuts the browser down. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return nil
	}

	s.logger.Info("Closing browser")
	err := s.browser.Close()
	s.browser = nil
	s.page = nil
	s.launchedAt = time.Time{}
	if err != nil {
		return eris.Wrap(err, "failed to close browser")
	}
	return nil
}

// Do runs fn with exclusive use of the session page
func (s *Session) Do(ctx context.Context, fn func(tab *Tab) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return ErrNotLaunched
	}

	tab := &Tab{
		page:    s.page.Context(ctx),
		timeout: time.Duration(s.config.Timeout) * time.Second,
		stealth: s.stealth,
		logger:  s.logger,
	}
	return fn(tab)
}

// Tab is the session page as seen from inside Do. It must not be kept
// after Do returns.
type Tab struct {
	page    *rod.Page
	timeout time.Duration
	stealth *stealth.Manager
	logger  *logger.Logger
}

// Page exposes the underlying rod page
func (t *Tab) Page() *rod.Page {
	return t.page
}

// Navigate loads url and waits for the page to settle
func (t *Tab) Navigate(ctx context.Context, url string) error {
	t.logger.BrowserAction("navigate", url)

	page := t.page
	if t.timeout > 0 {
		page = page.Timeout(t.timeout)
	}

	if err := page.Navigate(url); err != nil {
		return eris.Wrapf(err, "navigation to %s failed", url)
	}
	if err := page.WaitLoad(); err != nil {
		return eris.Wrapf(err, "page load of %s failed", url)
	}

	if t.stealth != nil {
		return t.stealth.PageLoadDelay(ctx)
	}
	return nil
}

// URL returns the current page URL
func (t *Tab) URL() (string, error) {
	info, err := t.page.Info()
	if err != nil {
		return "", eris.Wrap(err, "failed to read page info")
	}
	return info.URL, nil
}

// HTML returns the rendered page HTML
func (t *Tab) HTML() (string, error) {
	html, err := t.page.HTML()
	if err != nil {
		return "", eris.Wrap(err, "failed to read page html")
	}
	return html, nil
}

// Element waits up to timeout for selector
func (t *Tab) Element(selector string, timeout time.Duration) (*rod.Element, error) {
	return t.page.Timeout(timeout).Element(selector)
}

// Has reports whether selector is on the page right now
func (t *Tab) Has(selector string) bool {
	has, _, err := t.page.Has(selector)
	return err == nil && has
}

// Text returns the trimmed text of the first element matching any of the
// selectors, or "" when none match
func (t *Tab) Text(selectors ...string) string {
	for _, sel := range selectors {
		has, el, err := t.page.Has(sel)
		if err != nil || !has {
			continue
		}
		text, err := el.Text()
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return ""
}

// Scroll scrolls down roughly amount pixels like a person would
func (t *Tab) Scroll(ctx context.Context, amount int) error {
	if t.stealth == nil {
		return t.page.Mouse.Scroll(0, float64(amount), 4)
	}
	return t.stealth.HumanScroll(ctx, t.page, amount)
}

// Cookies returns the cookies of the current browser context
func (t *Tab) Cookies() ([]*proto.NetworkCookie, error) {
	return t.page.Browser().GetCookies()
}

// SetCookies restores previously saved cookies
func (t *Tab) SetCookies(cookies []*proto.NetworkCookieParam) error {
	return t.page.Browser().SetCookies(cookies)
}

// ClearCookies removes every cookie from the browser context
func (t *Tab) ClearCookies() error {
	return t.page.Browser().SetCookies(nil)
}

// Screenshot writes a PNG of the viewport to filename
func (t *Tab) Screenshot(filename string) error {
	data, err := t.page.Screenshot(false, nil)
	if err != nil {
		return eris.Wrap(err, "screenshot failed")
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return eris.Wrap(err, "failed to create screenshot directory")
	}
	return os.WriteFile(filename, data, 0644)
}
