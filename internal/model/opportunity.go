package model

import "strings"

// Tier classifies parser output reliability and drives QA review routing.
type Tier string

const (
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
)

// TierFor maps a 0-100 confidence score to a tier.
func TierFor(score float64) Tier {
	switch {
	case score >= 80:
		return TierHigh
	case score >= 60:
		return TierMedium
	default:
		return TierLow
	}
}

// Placeholder values used when a field could not be confidently filled.
// Quality assessment treats any of these as "not present".
const (
	PlaceholderUnknown   = "Unknown"
	PlaceholderTBC       = "To be confirmed"
	PlaceholderNoSummary = "Details to be confirmed"
)

var placeholderSet = map[string]struct{}{
	"":                          {},
	"unknown":                   {},
	"n/a":                       {},
	"na":                        {},
	"tbc":                       {},
	"tba":                       {},
	"to be confirmed":           {},
	"to be announced":           {},
	"details to be confirmed":   {},
	"no summary available":      {},
	"not specified":             {},
	"funding opportunity":       {},
}

// IsPlaceholder reports whether a string value is a non-informative stand-in.
func IsPlaceholder(s string) bool {
	_, ok := placeholderSet[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Opportunity is the canonical funding-opportunity record every source
// normalizes into. Field names are a wire contract; the review UI and
// template generation consume this JSON shape as-is.
type Opportunity struct {
	Title          string   `json:"title"`
	Donor          string   `json:"donor"`
	Summary        string   `json:"summary"`
	Amount         string   `json:"amount"`
	Deadline       string   `json:"deadline"`
	Location       string   `json:"location"`
	Eligibility    []string `json:"eligibility"`
	Themes         []string `json:"themes"`
	Duration       string   `json:"duration,omitempty"`
	HowToApply     string   `json:"how_to_apply,omitempty"`
	PublishedDate  string   `json:"published_date,omitempty"`
	ContactInfo    string   `json:"contact_info,omitempty"`
	OpportunityURL string   `json:"opportunity_url"`
}

// RequiredFields lists the fields that count toward the confidence score,
// in stable order.
var RequiredFields = []string{
	"title", "donor", "summary", "amount", "deadline",
	"location", "eligibility", "themes",
}

// FallbackOpportunity returns the all-placeholder record emitted when both
// parser stages fail. Downstream QA review always gets a reviewable record.
func FallbackOpportunity(sourceURL string) *Opportunity {
	return &Opportunity{
		Title:          PlaceholderUnknown,
		Donor:          PlaceholderUnknown,
		Summary:        PlaceholderNoSummary,
		Amount:         PlaceholderTBC,
		Deadline:       PlaceholderTBC,
		Location:       PlaceholderUnknown,
		Eligibility:    []string{},
		Themes:         []string{},
		OpportunityURL: sourceURL,
	}
}

// FieldPresent reports whether a required field carries a real value.
// List fields need at least one non-placeholder entry.
func (o *Opportunity) FieldPresent(name string) bool {
	switch name {
	case "title":
		return !IsPlaceholder(o.Title)
	case "donor":
		return !IsPlaceholder(o.Donor)
	case "summary":
		return !IsPlaceholder(o.Summary)
	case "amount":
		return !IsPlaceholder(o.Amount)
	case "deadline":
		return !IsPlaceholder(o.Deadline)
	case "location":
		return !IsPlaceholder(o.Location)
	case "eligibility":
		return countReal(o.Eligibility) > 0
	case "themes":
		return countReal(o.Themes) > 0
	default:
		return false
	}
}

func countReal(items []string) int {
	n := 0
	for _, it := range items {
		if !IsPlaceholder(it) {
			n++
		}
	}
	return n
}

// QualityAssessment is derived deterministically from an Opportunity and
// recomputed whenever the record changes.
type QualityAssessment struct {
	ConfidenceScore float64  `json:"confidence_score"` // 0-100
	Tier            Tier     `json:"tier"`
	Warnings        []string `json:"warnings"`
	ParserStage     string   `json:"parser_stage"` // "ai", "rules", "fallback"
}
