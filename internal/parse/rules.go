package parse

import (
	"regexp"
	"strings"

	"github.com/reqagent/ingest-cli/internal/model"
)

// Stage-2 heuristics. Each field has an ordered pattern list; the first
// match wins. Misses leave the placeholder in place rather than guessing.

var titleKeywords = []string{"grant", "funding", "opportunity", "programme", "program", "award", "fund", "call"}

var donorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:funded by|sponsored by|provided by|grant from|offered by)\s*[:.]?\s*([^.\n]+)`),
	regexp.MustCompile(`([A-Z][A-Za-z&' ]+(?:Foundation|Trust|Institute|Agency|Department|Ministry|Council|Commission|Fund))`),
}

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)((?:up to\s+)?[$£€][\d,]+(?:\.\d{2})?(?:\s*(?:-|to)\s*[$£€]?[\d,]+(?:\.\d{2})?)?)`),
	regexp.MustCompile(`(?i)((?:up to\s+)?[\d,]+(?:\.\d{2})?\s*(?:USD|GBP|EUR|dollars?|pounds?|euros?))`),
}

var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:deadline|closing date|due date|apply by|submission deadline|applications? close[sd]?(?: on| by)?)\s*[:.]?\s*([^.\n]+)`),
	regexp.MustCompile(`(?i)(\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4})`),
	regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4})`),
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
}

var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:eligible areas?|geographic scope|location|region)\s*[:.]?\s*([^.\n]+)`),
	regexp.MustCompile(`(?i)(?:open to organisations in|available in|restricted to)\s+([^.\n]+)`),
	regexp.MustCompile(`(?i)\b(United States|United Kingdom|UK|Canada|Australia|Global|Worldwide|International)\b`),
}

var eligibilityPattern = regexp.MustCompile(`(?i)(?:eligibility|who can apply|requirements|criteria|qualifications?)\s*[:.]?\s*([^.\n]+(?:\n[^.\n]+)*)`)

var themePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:focus areas?|themes?|priorities?|sectors?|topics?)\s*[:.]?\s*([^.\n]+(?:\n[^.\n]+)*)`),
	regexp.MustCompile(`(?i)(?:supporting|funding|grants? for)\s+([^.\n]+)`),
}

// themeVocabulary is the controlled list themes are matched against.
var themeVocabulary = regexp.MustCompile(`(?i)\b(education|health|environment|technology|arts|culture|social|economic|youth|community|research|innovation|climate|agriculture|water|sanitation)\b`)

var durationPattern = regexp.MustCompile(`(?i)(?:duration|project length|funding period|timeline)\s*[:.]?\s*([^.\n]+)`)

var applyPattern = regexp.MustCompile(`(?i)(?:how to apply|application process|submission|apply)\s*[:.]?\s*([^.\n]+(?:\n[^.\n]+)*)`)

var contactPattern = regexp.MustCompile(`(?i)(?:contact|enquiries|inquiries|questions|email|phone)\s*[:.]?\s*([^.\n]+)`)

var bulletSplit = regexp.MustCompile(`[•\-\*]|\d+\.`)

// ParseRules is stage 2: deterministic extraction with no external calls.
// Fields that no pattern matches stay at their placeholder value.
func ParseRules(text, sourceURL string) *model.Opportunity {
	opp := model.FallbackOpportunity(sourceURL)

	if title := findTitle(text); title != "" {
		opp.Title = title
	}
	if donor := firstGroup(donorPatterns, text, 3); donor != "" {
		opp.Donor = donor
	}
	if amount := firstGroup(amountPatterns, text, 1); amount != "" {
		opp.Amount = amount
	}
	if deadline := firstGroup(deadlinePatterns, text, 1); deadline != "" && hasDigit(deadline) {
		opp.Deadline = deadline
	}
	if location := firstGroup(locationPatterns, text, 1); location != "" {
		opp.Location = location
	}
	opp.Eligibility = findEligibility(text)
	opp.Themes = findThemes(text)

	if m := durationPattern.FindStringSubmatch(text); m != nil {
		opp.Duration = strings.TrimSpace(m[1])
	}
	if m := applyPattern.FindStringSubmatch(text); m != nil {
		opp.HowToApply = strings.TrimSpace(m[1])
	}
	if m := contactPattern.FindStringSubmatch(text); m != nil {
		opp.ContactInfo = strings.TrimSpace(m[1])
	}

	opp.Summary = buildSummary(opp)
	return opp
}

// findTitle scans the first lines for a title-cased line mentioning a
// funding keyword.
func findTitle(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) <= 10 || len(line) >= 200 || line == strings.ToLower(line) {
			continue
		}
		// Running sentences are body text, not a heading.
		if strings.Contains(line, ". ") {
			continue
		}
		lower := strings.ToLower(line)
		for _, kw := range titleKeywords {
			if strings.Contains(lower, kw) {
				return line
			}
		}
	}
	return ""
}

// firstGroup returns the first capture of the first matching pattern, when
// longer than minLen.
func firstGroup(patterns []*regexp.Regexp, text string, minLen int) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			val := strings.TrimSpace(m[1])
			if len(val) > minLen && !model.IsPlaceholder(val) {
				return val
			}
		}
	}
	return ""
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

func findEligibility(text string) []string {
	m := eligibilityPattern.FindStringSubmatch(text)
	if m == nil {
		return []string{}
	}

	items := bulletSplit.Split(m[1], -1)
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if len(item) > 5 {
			out = append(out, item)
		}
		if len(out) == 5 {
			break
		}
	}
	return out
}

func findThemes(text string) []string {
	for _, re := range themePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		matches := themeVocabulary.FindAllString(m[1], -1)
		if len(matches) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(matches))
		out := make([]string, 0, len(matches))
		for _, t := range matches {
			t = strings.ToLower(t)
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
		return out
	}
	return []string{}
}

// buildSummary assembles a short factual summary from whatever the rules
// recovered; the placeholder stays when nothing did.
func buildSummary(opp *model.Opportunity) string {
	var parts []string
	if !model.IsPlaceholder(opp.Title) {
		parts = append(parts, opp.Title)
	}
	if !model.IsPlaceholder(opp.Amount) {
		parts = append(parts, "Funding: "+opp.Amount)
	}
	if !model.IsPlaceholder(opp.Deadline) {
		parts = append(parts, "Deadline: "+opp.Deadline)
	}
	if !model.IsPlaceholder(opp.Location) {
		parts = append(parts, "Location: "+opp.Location)
	}
	if len(parts) == 0 {
		return model.PlaceholderNoSummary
	}
	return strings.Join(parts, ". ")
}
