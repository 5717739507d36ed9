package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPlaceholder(t *testing.T) {
	for _, s := range []string{"", "Unknown", "unknown", " N/A ", "TBC", "To be confirmed", "Details to be confirmed"} {
		assert.True(t, IsPlaceholder(s), "expected placeholder: %q", s)
	}
	for _, s := range []string{"Example Foundation", "£10,000", "31 March 2025"} {
		assert.False(t, IsPlaceholder(s), "expected real value: %q", s)
	}
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierHigh, TierFor(80))
	assert.Equal(t, TierHigh, TierFor(100))
	assert.Equal(t, TierMedium, TierFor(79.9))
	assert.Equal(t, TierMedium, TierFor(60))
	assert.Equal(t, TierLow, TierFor(59.9))
	assert.Equal(t, TierLow, TierFor(0))
}

func TestFallbackOpportunity(t *testing.T) {
	o := FallbackOpportunity("https://example.org/grant")

	assert.Equal(t, "https://example.org/grant", o.OpportunityURL)
	assert.NotNil(t, o.Eligibility)
	assert.NotNil(t, o.Themes)
	for _, f := range RequiredFields {
		assert.False(t, o.FieldPresent(f), "fallback field %q should be placeholder", f)
	}
}

func TestFieldPresent_Lists(t *testing.T) {
	o := FallbackOpportunity("")
	o.Eligibility = []string{"Unknown"}
	assert.False(t, o.FieldPresent("eligibility"))

	o.Eligibility = []string{"Registered charities"}
	assert.True(t, o.FieldPresent("eligibility"))
}

// The JSON field names are a wire contract consumed by the review UI.
func TestOpportunity_WireContract(t *testing.T) {
	o := Opportunity{
		Title:       "Community Grant",
		Eligibility: []string{},
		Themes:      []string{},
	}
	data, err := json.Marshal(&o)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{"title", "donor", "summary", "amount", "deadline", "location", "eligibility", "themes", "opportunity_url"} {
		_, ok := m[key]
		assert.True(t, ok, "missing wire field %q", key)
	}
	assert.IsType(t, []any{}, m["eligibility"])
}
