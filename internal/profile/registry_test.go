package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSitesYML = `
default:
  retry:
    max_attempts: 2
  rate_limit:
    requests_per_second: 2.0

gov.uk:
  selectors:
    title: ["h1.gem-c-title__text"]
  retry:
    max_attempts: 5
    backoff_multiplier: 3.0
    initial_delay_ms: 500
  rate_limit:
    requests_per_second: 0.5
  user_agents:
    - "test-agent/1.0"

fundsforngos.org:
  rate_limit:
    min_delay_ms: 2000
`

func writeSites(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_ResolveExactAndSuffix(t *testing.T) {
	r := NewRegistry(writeSites(t, testSitesYML))

	p := r.Resolve("gov.uk")
	assert.Equal(t, "gov.uk", p.Domain)
	assert.Equal(t, 5, p.Retry.MaxAttempts)

	// Suffix match: subdomain inherits the registered profile.
	assert.Equal(t, "gov.uk", r.Resolve("grants.gov.uk").Domain)
	// www. prefix is stripped before matching.
	assert.Equal(t, "gov.uk", r.Resolve("www.gov.uk").Domain)
}

// With nested registrations the deeper one must win every time, regardless
// of map iteration order.
func TestRegistry_ResolveLongestSuffixWins(t *testing.T) {
	r := NewRegistry(writeSites(t, testSitesYML+`
service.gov.uk:
  retry:
    max_attempts: 9
`))

	for i := 0; i < 50; i++ {
		p := r.Resolve("apply.grants.service.gov.uk")
		require.Equal(t, "service.gov.uk", p.Domain)
		require.Equal(t, 9, p.Retry.MaxAttempts)
	}
	assert.Equal(t, "gov.uk", r.Resolve("grants.gov.uk").Domain)
}

func TestRegistry_ResolveFallsBackToDefault(t *testing.T) {
	r := NewRegistry(writeSites(t, testSitesYML))

	p := r.Resolve("unknown-funder.example")
	assert.Equal(t, "default", p.Domain)
	assert.Equal(t, 2, p.Retry.MaxAttempts)
	assert.Equal(t, 2.0, p.RequestsPerSecond())
}

func TestRegistry_MissingFileFailsSoft(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "nope.yml"))

	p := r.Resolve("anything.example")
	require.NotNil(t, p)
	assert.Equal(t, 3, p.Retry.MaxAttempts)
	assert.NotEmpty(t, p.Selectors.Title)
}

func TestRegistry_InvalidReloadKeepsPreviousSnapshot(t *testing.T) {
	path := writeSites(t, testSitesYML)
	r := NewRegistry(path)
	require.Equal(t, 5, r.Resolve("gov.uk").Retry.MaxAttempts)

	require.NoError(t, os.WriteFile(path, []byte("::: not yaml {"), 0o644))
	assert.Error(t, r.Reload())

	// Previous snapshot still serves resolves.
	assert.Equal(t, 5, r.Resolve("gov.uk").Retry.MaxAttempts)
}

func TestRegistry_ReloadSwapsSnapshot(t *testing.T) {
	path := writeSites(t, testSitesYML)
	r := NewRegistry(path)
	before := r.LoadedAt()

	updated := testSitesYML + "\nexample.org:\n  retry:\n    max_attempts: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, r.Reload())

	assert.Equal(t, 7, r.Resolve("example.org").Retry.MaxAttempts)
	assert.True(t, r.LoadedAt().After(before) || r.LoadedAt().Equal(before))
}

func TestProfile_RequestsPerSecondFromMinDelay(t *testing.T) {
	r := NewRegistry(writeSites(t, testSitesYML))
	p := r.Resolve("fundsforngos.org")
	assert.InDelta(t, 0.5, p.RequestsPerSecond(), 0.001)
}

func TestProfile_RetryPolicy(t *testing.T) {
	r := NewRegistry(writeSites(t, testSitesYML))
	pol := r.Resolve("gov.uk").RetryPolicy()

	assert.Equal(t, 5, pol.MaxAttempts)
	assert.Equal(t, 3.0, pol.Multiplier)
	assert.Equal(t, 500*time.Millisecond, pol.InitialDelay)
}

func TestProfile_RandomUserAgent(t *testing.T) {
	r := NewRegistry(writeSites(t, testSitesYML))
	assert.Equal(t, "test-agent/1.0", r.Resolve("gov.uk").RandomUserAgent())
	assert.NotEmpty(t, DefaultProfile().RandomUserAgent())
}
