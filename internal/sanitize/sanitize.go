// Package sanitize normalizes and defangs text, HTML, URL, date, and amount
// values before they reach persistence or the publishing pipeline. Every
// function is total: bad input degrades to an empty or verbatim value, never
// a panic or error.
package sanitize

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"

	"github.com/reqagent/ingest-cli/internal/model"
)

// Field length caps, matching the canonical schema limits.
const (
	MaxTitleLen   = 500
	MaxDonorLen   = 200
	MaxSummaryLen = 2000
	MaxFieldLen   = 100
	MaxApplyLen   = 1000
	MaxContactLen = 500
	MaxItemLen    = 200
)

const truncationMarker = "… [truncated]"

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	multiSpace   = regexp.MustCompile(`\s+`)
)

// htmlPolicy keeps only structural formatting useful in published content:
// paragraphs, lists, links, emphasis. Links must be parseable https URLs.
var htmlPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "em", "strong")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.RequireParseableURLs(true)
	return p
}()

// String strips control characters, collapses whitespace, and truncates to
// maxLen runes (0 = no cap). The truncation marker is appended so reviewers
// can tell a capped field from a short one.
func String(s string, maxLen int) string {
	s = controlChars.ReplaceAllString(s, "")
	s = multiSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if maxLen > 0 {
		if r := []rune(s); len(r) > maxLen {
			s = strings.TrimSpace(string(r[:maxLen])) + truncationMarker
		}
	}
	return s
}

// HTML strips every tag outside the whitelist (p, br, ul, ol, li, a, em,
// strong); anchors keep href only when it is a parseable https URL.
// Idempotent: HTML(HTML(x)) == HTML(x).
func HTML(s string) string {
	return strings.TrimSpace(htmlPolicy.Sanitize(s))
}

// URL requires https, strips the default port and any trailing slash, and
// returns "" rather than an error for anything invalid.
func URL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return ""
	}
	if u.Host == "" {
		return ""
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":443")
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""

	return u.String()
}

// tbcMarkers are inputs that mean "the source says it is not decided yet".
var tbcMarkers = []string{"unknown", "tbc", "tba", "to be confirmed", "to be announced"}

func isTBC(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range tbcMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// NormalizeDate parses common date formats into ISO 2006-01-02. On failure
// the original string is returned unmodified with ok=false; the value is
// never dropped. TBC-style markers normalize to the placeholder.
func NormalizeDate(s string) (string, bool) {
	s = String(s, MaxFieldLen)
	if s == "" || isTBC(s) {
		return model.PlaceholderTBC, true
	}

	t, err := dateparse.ParseAny(s)
	if err != nil {
		return s, false
	}
	return t.Format("2006-01-02"), true
}

// Amount is a normalized monetary value. When the source expression is
// ambiguous (ranges, "up to" phrasing, unknown currency) Raw carries the
// original text and Parsed is false.
type Amount struct {
	Value    float64 `json:"value,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Raw      string  `json:"raw"`
	Parsed   bool    `json:"parsed"`
}

// String returns the canonical or verbatim representation.
func (a Amount) String() string {
	if !a.Parsed {
		return a.Raw
	}
	return a.Currency + " " + strconv.FormatFloat(a.Value, 'f', -1, 64)
}

var (
	symbolCurrencies = map[string]string{"$": "USD", "£": "GBP", "€": "EUR"}

	symbolAmountRe = regexp.MustCompile(`^([$£€])\s?(\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?)$`)
	wordAmountRe   = regexp.MustCompile(`(?i)^(\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?)\s*(dollars?|pounds?|euros?|usd|gbp|eur)$`)
	rangeRe        = regexp.MustCompile(`(?i)(\d[\d,.]*\s*[-–]\s*[$£€]?\s*\d)|(\bup\s+to\b)|(\bover\b)`)

	currencyWords = map[string]string{
		"dollar": "USD", "dollars": "USD", "usd": "USD",
		"pound": "GBP", "pounds": "GBP", "gbp": "GBP",
		"euro": "EUR", "euros": "EUR", "eur": "EUR",
	}
)

// NormalizeAmount parses numeric+currency expressions into a canonical
// {value, currency} pair when unambiguous; otherwise the original string is
// returned verbatim in Raw.
func NormalizeAmount(s string) Amount {
	raw := String(s, MaxFieldLen)
	if raw == "" || isTBC(raw) {
		return Amount{Raw: model.PlaceholderTBC}
	}

	// Ranges and bounded phrasings stay verbatim: "£5,000–£20,000" and
	// "up to $10,000" are not single values.
	if rangeRe.MatchString(raw) {
		return Amount{Raw: raw}
	}

	if m := symbolAmountRe.FindStringSubmatch(raw); m != nil {
		if v, ok := parseMoney(m[2]); ok {
			return Amount{Value: v, Currency: symbolCurrencies[m[1]], Raw: raw, Parsed: true}
		}
	}
	if m := wordAmountRe.FindStringSubmatch(raw); m != nil {
		code := currencyWords[strings.ToLower(m[2])]
		if _, err := currency.ParseISO(code); err == nil {
			if v, ok := parseMoney(m[1]); ok {
				return Amount{Value: v, Currency: code, Raw: raw, Parsed: true}
			}
		}
	}

	return Amount{Raw: raw}
}

func parseMoney(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// List sanitizes each entry, drops empties and duplicates, and caps the list
// length. The result is never nil.
func List(items []string, maxItems int) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, it := range items {
		clean := String(it, MaxItemLen)
		if clean == "" {
			continue
		}
		key := strings.ToLower(clean)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, clean)
		if maxItems > 0 && len(out) >= maxItems {
			break
		}
	}
	return out
}

// SplitList breaks a delimiter-joined string into list entries. Sources
// frequently hand back "a, b; c" where a list was requested.
func SplitList(s string, maxItems int) []string {
	var parts []string
	switch {
	case strings.Contains(s, "\n"):
		parts = strings.Split(s, "\n")
	case strings.Contains(s, ";"):
		parts = strings.Split(s, ";")
	case strings.Contains(s, ","):
		parts = strings.Split(s, ",")
	default:
		parts = []string{s}
	}
	return List(parts, maxItems)
}

// Opportunity applies field-appropriate sanitization to every field of a
// canonical record, in place. Called on parser output before persistence.
func Opportunity(o *model.Opportunity) {
	o.Title = String(o.Title, MaxTitleLen)
	o.Donor = String(o.Donor, MaxDonorLen)
	o.Summary = String(o.Summary, MaxSummaryLen)
	o.Amount = NormalizeAmount(o.Amount).String()
	o.Deadline, _ = NormalizeDate(o.Deadline)
	o.Location = String(o.Location, MaxFieldLen)
	o.Eligibility = List(o.Eligibility, 10)
	o.Themes = List(o.Themes, 8)
	o.Duration = String(o.Duration, MaxFieldLen)
	o.HowToApply = String(o.HowToApply, MaxApplyLen)
	o.ContactInfo = String(o.ContactInfo, MaxContactLen)
	o.OpportunityURL = URL(o.OpportunityURL)
	if o.PublishedDate != "" {
		o.PublishedDate, _ = NormalizeDate(o.PublishedDate)
	}
}
