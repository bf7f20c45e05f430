// Package stealth keeps browser and HTTP scraping traffic looking human:
// randomized delays, rotating user agents and viewports, fingerprint
// masking, human typing and scrolling, and per-action budgets.
package stealth

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/logger"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var userAgents = []string{
	defaultUserAgent,
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

var viewports = []struct{ width, height int }{
	{1920, 1080},
	{1366, 768},
	{1536, 864},
	{1440, 900},
	{1280, 720},
	{1600, 900},
}

// Manager hands out human-like timings and browser identities. It is safe
// for concurrent use.
type Manager struct {
	config config.StealthConfig
	logger *logger.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewManager creates a stealth manager
func NewManager(cfg config.StealthConfig, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		config: cfg,
		logger: log.WithModule("stealth"),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Manager) intn(n int) int {
	if n <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rand.Intn(n)
}

func (m *Manager) float() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rand.Float64()
}

// RandomDuration returns a duration between minMs and maxMs inclusive
func (m *Manager) RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs < minMs {
		maxMs = minMs
	}
	return time.Duration(minMs+m.intn(maxMs-minMs+1)) * time.Millisecond
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RandomDelay sleeps between minMs and maxMs
func (m *Manager) RandomDelay(ctx context.Context, minMs, maxMs int) error {
	return Sleep(ctx, m.RandomDuration(minMs, maxMs))
}

// ActionDelay pauses between two browser actions
func (m *Manager) ActionDelay(ctx context.Context) error {
	return m.RandomDelay(ctx, m.config.ActionDelayMin, m.config.ActionDelayMax)
}

// PageLoadDelay gives a freshly navigated page time to settle
func (m *Manager) PageLoadDelay(ctx context.Context) error {
	return m.RandomDelay(ctx, m.config.PageLoadWaitMin, m.config.PageLoadWaitMax)
}

// UserAgent returns a random realistic user agent, or a fixed one when
// rotation is disabled
func (m *Manager) UserAgent() string {
	if !m.config.RandomUserAgent {
		return defaultUserAgent
	}
	return userAgents[m.intn(len(userAgents))]
}

// Viewport returns a common desktop resolution with a few pixels of noise.
// fallbackW and fallbackH are used when randomization is off.
func (m *Manager) Viewport(fallbackW, fallbackH int) (int, int) {
	if !m.config.RandomizeViewport {
		return fallbackW, fallbackH
	}
	vp := viewports[m.intn(len(viewports))]
	return vp.width + m.intn(20) - 10, vp.height + m.intn(20) - 10
}

// HardwareConcurrency returns a plausible navigator.hardwareConcurrency
func (m *Manager) HardwareConcurrency() int {
	cores := []int{4, 8, 12, 16}
	return cores[m.intn(len(cores))]
}

// FingerprintScripts returns the scripts injected into every new document
func (m *Manager) FingerprintScripts() []string {
	var scripts []string

	if m.config.DisableWebdriver {
		scripts = append(scripts, `
			Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
			delete window.cdc_adoQpoasnfa76pfcZLmcfl_Array;
			delete window.cdc_adoQpoasnfa76pfcZLmcfl_Promise;
			delete window.cdc_adoQpoasnfa76pfcZLmcfl_Symbol;
		`)
	}

	scripts = append(scripts, `
		Object.defineProperty(navigator, 'plugins', {
			get: () => [
				{name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer'},
				{name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai'},
				{name: 'Native Client', filename: 'internal-nacl-plugin'}
			]
		});
		Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
	`)

	scripts = append(scripts, `
		Object.defineProperty(navigator, 'hardwareConcurrency', {
			get: () => `+strconv.Itoa(m.HardwareConcurrency())+`
		});
	`)

	return scripts
}

// ApplyFingerprintMasking registers the masking scripts on page so they run
// before any site script on every navigation
func (m *Manager) ApplyFingerprintMasking(page *rod.Page) error {
	applied := 0
	for _, script := range m.FingerprintScripts() {
		if _, err := page.EvalOnNewDocument(script); err != nil {
			m.logger.WithError(err).Warn("Failed to apply fingerprint mask")
			continue
		}
		applied++
	}

	m.logger.WithField("scripts_applied", applied).Debug("Fingerprint masking applied")
	return nil
}

// TypingDelay returns the pause after one keystroke. One in twenty
// keystrokes gets an extra hesitation.
func (m *Manager) TypingDelay() time.Duration {
	d := m.RandomDuration(m.config.TypingDelayMin, m.config.TypingDelayMax)
	if m.float() < 0.05 {
		d += m.RandomDuration(200, 600)
	}
	return d
}

// HumanType types text into el one character at a time
func (m *Manager) HumanType(ctx context.Context, el *rod.Element, text string) error {
	for _, r := range text {
		if err := el.Input(string(r)); err != nil {
			return err
		}
		if err := Sleep(ctx, m.TypingDelay()); err != nil {
			return err
		}
	}

	m.logger.WithField("length", len(text)).Debug("Typed text")
	return nil
}

// HumanScroll scrolls page down by roughly amount pixels in uneven steps,
// fast in the middle and slow at both ends, so lazy sections load.
func (m *Manager) HumanScroll(ctx context.Context, page *rod.Page, amount int) error {
	total := amount + m.intn(100) - 50
	scrolled := 0
	for scrolled < total {
		step := 80 + m.intn(120)
		if scrolled+step > total {
			step = total - scrolled
		}

		if err := page.Mouse.Scroll(0, float64(step), 1); err != nil {
			return err
		}
		scrolled += step

		progress := float64(scrolled) / float64(total)
		pause := time.Duration(30/(math.Sin(progress*math.Pi)+0.3)) * time.Millisecond
		if err := Sleep(ctx, pause); err != nil {
			return err
		}
	}
	return nil
}
