package stealth

import (
	"sync"
	"time"

	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/logger"
)

// Action types with a budget
const (
	ActionSearch      = "search"       // hourly budget
	ActionProfileView = "profile_view" // daily budget
)

// RateLimiter enforces per-action budgets for scraping. Search counts reset
// every hour, profile views every day.
type RateLimiter struct {
	config config.RateLimitConfig
	logger *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	counts    map[string]int
	hourStart time.Time
	dayStart  time.Time
}

// NewRateLimiter creates a limiter from the rate limit settings
func NewRateLimiter(cfg config.RateLimitConfig, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.Discard()
	}
	r := &RateLimiter{
		config: cfg,
		logger: log.WithModule("rate_limiter"),
		now:    time.Now,
		counts: make(map[string]int),
	}
	r.hourStart = r.now()
	r.dayStart = r.hourStart
	return r
}

func (r *RateLimiter) limit(actionType string) (int, bool) {
	switch actionType {
	case ActionSearch:
		return r.config.MaxSearchesPerHour, true
	case ActionProfileView:
		return r.config.MaxProfileViewsPerDay, true
	}
	return 0, false
}

// CanPerformAction reports whether actionType still has budget left.
// Unknown action types are never limited.
func (r *RateLimiter) CanPerformAction(actionType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkReset()

	limit, ok := r.limit(actionType)
	if !ok || limit <= 0 {
		return true
	}

	current := r.counts[actionType]
	if current >= limit {
		r.logger.RateLimit(actionType, current, limit)
		return false
	}
	return true
}

// RecordAction counts one performed action
func (r *RateLimiter) RecordAction(actionType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkReset()

	r.counts[actionType]++
	r.logger.WithFields(map[string]interface{}{
		"action_type": actionType,
		"count":       r.counts[actionType],
	}).Debug("Action recorded")
}

// Remaining returns how many more actions of a type fit in the budget.
// -1 means unlimited.
func (r *RateLimiter) Remaining(actionType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkReset()

	limit, ok := r.limit(actionType)
	if !ok || limit <= 0 {
		return -1
	}
	if left := limit - r.counts[actionType]; left > 0 {
		return left
	}
	return 0
}

func (r *RateLimiter) checkReset() {
	now := r.now()

	if now.Sub(r.dayStart) >= 24*time.Hour || now.YearDay() != r.dayStart.YearDay() || now.Year() != r.dayStart.Year() {
		r.counts[ActionProfileView] = 0
		r.dayStart = now
		r.logger.Debug("Daily rate limits reset")
	}

	if now.Sub(r.hourStart) >= time.Hour || now.Hour() != r.hourStart.Hour() {
		r.counts[ActionSearch] = 0
		r.hourStart = now
	}
}
