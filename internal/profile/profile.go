// Package profile holds per-domain crawl configuration: selector hints,
// wait times, retry policy, and rate limits. Profiles are loaded from a
// sites.yml file and resolved by domain with a default fallback.
package profile

import (
	"math/rand/v2"
	"time"

	"github.com/reqagent/ingest-cli/internal/resilience"
)

// defaultUserAgent is used when a profile carries no rotation pool.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Selectors holds ordered CSS selector lists per canonical field.
type Selectors struct {
	Title       []string `yaml:"title"`
	Content     []string `yaml:"content"`
	Deadline    []string `yaml:"deadline"`
	Amount      []string `yaml:"amount"`
	Eligibility []string `yaml:"eligibility"`
	Themes      []string `yaml:"themes"`
}

// Waits holds page-load and element-wait durations in milliseconds.
type Waits struct {
	PageLoadMs    int `yaml:"page_load_ms"`
	ElementWaitMs int `yaml:"element_wait_ms"`
}

// Retry configures exponential backoff for one domain.
type Retry struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
}

// RateLimit configures per-domain request pacing.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MinDelayMs        int     `yaml:"min_delay_ms"`
}

// Profile is the per-domain crawl configuration. Immutable once resolved:
// callers receive a pointer into the current registry snapshot and must not
// mutate it.
type Profile struct {
	Domain     string    `yaml:"-"`
	Selectors  Selectors `yaml:"selectors"`
	Waits      Waits     `yaml:"waits"`
	Retry      Retry     `yaml:"retry"`
	RateLimit  RateLimit `yaml:"rate_limit"`
	UserAgents []string  `yaml:"user_agents"`
}

// RetryPolicy converts the profile retry section into a resilience policy.
func (p *Profile) RetryPolicy() resilience.RetryPolicy {
	pol := resilience.DefaultRetryPolicy()
	if p.Retry.MaxAttempts > 0 {
		pol.MaxAttempts = p.Retry.MaxAttempts
	}
	if p.Retry.BackoffMultiplier > 0 {
		pol.Multiplier = p.Retry.BackoffMultiplier
	}
	if p.Retry.InitialDelayMs > 0 {
		pol.InitialDelay = time.Duration(p.Retry.InitialDelayMs) * time.Millisecond
	}
	return pol
}

// RequestsPerSecond returns the configured rate, defaulting to 1 rps.
func (p *Profile) RequestsPerSecond() float64 {
	if p.RateLimit.RequestsPerSecond > 0 {
		return p.RateLimit.RequestsPerSecond
	}
	if p.RateLimit.MinDelayMs > 0 {
		return 1000.0 / float64(p.RateLimit.MinDelayMs)
	}
	return 1.0
}

// PageLoadWait returns the configured page-load wait.
func (p *Profile) PageLoadWait() time.Duration {
	if p.Waits.PageLoadMs > 0 {
		return time.Duration(p.Waits.PageLoadMs) * time.Millisecond
	}
	return 5 * time.Second
}

// RandomUserAgent picks from the rotation pool, or the default UA.
func (p *Profile) RandomUserAgent() string {
	if len(p.UserAgents) == 0 {
		return defaultUserAgent
	}
	return p.UserAgents[rand.IntN(len(p.UserAgents))]
}

// DefaultProfile is the fail-soft fallback used when no sites.yml entry
// matches, or when the file itself is missing or invalid.
func DefaultProfile() *Profile {
	return &Profile{
		Domain: "default",
		Selectors: Selectors{
			Title:       []string{"h1", ".title", "[class*='title']", "title"},
			Content:     []string{"main", ".content", "article", "[class*='content']"},
			Deadline:    []string{"[class*='deadline']", "[class*='closing']", "[class*='due']"},
			Amount:      []string{"[class*='amount']", "[class*='budget']", "[class*='funding']"},
			Eligibility: []string{"[class*='eligibility']", "[class*='criteria']", "[class*='requirements']"},
			Themes:      []string{"[class*='themes']", "[class*='focus']", "[class*='priorities']"},
		},
		Waits: Waits{PageLoadMs: 5000, ElementWaitMs: 2000},
		Retry: Retry{MaxAttempts: 3, BackoffMultiplier: 2.0, InitialDelayMs: 1000},
		RateLimit: RateLimit{
			RequestsPerSecond: 1.0,
			MinDelayMs:        1000,
		},
		UserAgents: []string{defaultUserAgent},
	}
}
