package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reqagent/ingest-cli/internal/model"
)

func TestString(t *testing.T) {
	assert.Equal(t, "hello world", String("hello\x00\x01  world", 0))
	assert.Equal(t, "a b c", String("  a\t\tb\n\nc  ", 0))
	assert.Equal(t, "", String("\x00\x1F", 0))
}

func TestString_Truncation(t *testing.T) {
	long := strings.Repeat("x", 50)
	out := String(long, 10)
	assert.True(t, strings.HasSuffix(out, "… [truncated]"))
	assert.True(t, strings.HasPrefix(out, "xxxxxxxxxx"))

	assert.Equal(t, "short", String("short", 10))
}

func TestHTML_Whitelist(t *testing.T) {
	in := `<p>Apply now</p><script>alert(1)</script><ul><li>one</li></ul><div>flat</div>`
	out := HTML(in)
	assert.Contains(t, out, "<p>Apply now</p>")
	assert.Contains(t, out, "<li>one</li>")
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "<div>")
	assert.Contains(t, out, "flat")
}

func TestHTML_LinkHrefs(t *testing.T) {
	assert.Contains(t, HTML(`<a href="https://example.org/apply">apply</a>`), `href="https://example.org/apply"`)
	assert.NotContains(t, HTML(`<a href="javascript:alert(1)">x</a>`), "javascript")
	assert.NotContains(t, HTML(`<a href="http://example.org">x</a>`), `href=`)
}

func TestHTML_Idempotent(t *testing.T) {
	inputs := []string{
		`<p>text</p>`,
		`<script>x</script><b>bold</b> &amp; more`,
		`plain text with <unknown>tags</unknown>`,
		`<a href="https://ok.example">link</a><a href="ftp://no.example">bad</a>`,
	}
	for _, in := range inputs {
		once := HTML(in)
		assert.Equal(t, once, HTML(once), "not idempotent for %q", in)
	}
}

func TestURL(t *testing.T) {
	assert.Equal(t, "https://example.org/grants", URL("https://example.org/grants/"))
	assert.Equal(t, "https://example.org/grants", URL("https://EXAMPLE.org:443/grants"))
	assert.Equal(t, "", URL("http://example.org"))
	assert.Equal(t, "", URL("file:///etc/passwd"))
	assert.Equal(t, "", URL("data:text/html,hi"))
	assert.Equal(t, "", URL("not a url"))
	assert.Equal(t, "", URL(""))
}

func TestNormalizeDate(t *testing.T) {
	for in, want := range map[string]string{
		"31 March 2025":  "2025-03-31",
		"2025-03-31":     "2025-03-31",
		"March 31, 2025": "2025-03-31",
		"03/31/2025":     "2025-03-31",
	} {
		got, ok := NormalizeDate(in)
		assert.True(t, ok, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestNormalizeDate_FailureKeepsOriginal(t *testing.T) {
	got, ok := NormalizeDate("end of the funding cycle")
	assert.False(t, ok)
	assert.Equal(t, "end of the funding cycle", got)
}

func TestNormalizeDate_TBCMarkers(t *testing.T) {
	for _, in := range []string{"", "TBC", "to be announced", "Unknown"} {
		got, ok := NormalizeDate(in)
		assert.True(t, ok)
		assert.Equal(t, model.PlaceholderTBC, got)
	}
}

func TestNormalizeAmount_Unambiguous(t *testing.T) {
	a := NormalizeAmount("£10,000")
	assert.True(t, a.Parsed)
	assert.Equal(t, 10000.0, a.Value)
	assert.Equal(t, "GBP", a.Currency)

	a = NormalizeAmount("25000 euros")
	assert.True(t, a.Parsed)
	assert.Equal(t, 25000.0, a.Value)
	assert.Equal(t, "EUR", a.Currency)
}

func TestNormalizeAmount_AmbiguousStaysVerbatim(t *testing.T) {
	for _, in := range []string{"£10,000–£50,000", "up to $25,000", "around fifty grand"} {
		a := NormalizeAmount(in)
		assert.False(t, a.Parsed, "input %q", in)
		assert.Equal(t, in, a.Raw)
	}
}

func TestList(t *testing.T) {
	out := List([]string{" charities ", "charities", "", "schools"}, 10)
	assert.Equal(t, []string{"charities", "schools"}, out)

	out = List([]string{"a", "b", "c"}, 2)
	assert.Len(t, out, 2)

	assert.NotNil(t, List(nil, 5))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"health", "education"}, SplitList("health, education", 5))
	assert.Equal(t, []string{"a", "b"}, SplitList("a; b", 5))
	assert.Equal(t, []string{"single item"}, SplitList("single item", 5))
}

func TestOpportunity_SanitizesAllFields(t *testing.T) {
	o := &model.Opportunity{
		Title:          "Grant\x00  Title",
		Donor:          " Example   Foundation ",
		Summary:        "Summary text",
		Amount:         "£10,000",
		Deadline:       "31 March 2025",
		Location:       "UK",
		Eligibility:    []string{" charities ", ""},
		Themes:         []string{"health", "health"},
		OpportunityURL: "https://example.org/grant/",
	}
	Opportunity(o)

	assert.Equal(t, "Grant Title", o.Title)
	assert.Equal(t, "Example Foundation", o.Donor)
	assert.Equal(t, "GBP 10000", o.Amount)
	assert.Equal(t, "2025-03-31", o.Deadline)
	assert.Equal(t, []string{"charities"}, o.Eligibility)
	assert.Equal(t, []string{"health"}, o.Themes)
	assert.Equal(t, "https://example.org/grant", o.OpportunityURL)
}
