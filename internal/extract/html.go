package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/reqagent/ingest-cli/internal/model"
	"github.com/reqagent/ingest-cli/internal/profile"
	"github.com/reqagent/ingest-cli/internal/resilience"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// extractHTML pulls text out of a rendered page using the profile's selector
// hints, falling back to the stripped document body when no hint matches.
// HTML documents are treated as a single page.
func (e *Engine) extractHTML(body []byte, prof *profile.Profile) (*model.ExtractionResult, error) {
	if prof == nil {
		prof = profile.DefaultProfile()
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NewValidationError("unparseable HTML: " + err.Error())
	}

	doc.Find("script, style, noscript, template, iframe").Remove()

	title := firstMatch(doc, prof.Selectors.Title)
	content := firstMatch(doc, prof.Selectors.Content)
	if content == "" {
		content = doc.Find("body").Text()
	}
	if content == "" {
		content = doc.Text()
	}

	text := collapseText(content)
	if title != "" && !strings.Contains(text, title) {
		text = title + "\n\n" + text
	}
	if text == "" {
		return nil, ErrNoText
	}

	conf := ScoreText(text)
	return &model.ExtractionResult{
		Text:       text,
		Pages:      []model.PageResult{{Number: 1, Text: text, Confidence: conf}},
		Confidence: conf,
		Backend:    "html",
		OCRStatus:  model.OCRStatusNotNeeded,
	}, nil
}

// firstMatch returns the text of the first selector that matches a non-empty
// node, in hint order.
func firstMatch(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if t := strings.TrimSpace(s.Text()); t != "" {
				found = t
				return false
			}
			return true
		})
		if found != "" {
			return collapseText(found)
		}
	}
	return ""
}

// collapseText normalizes DOM text: trims each line, drops runs of blank
// lines, and collapses intra-line whitespace.
func collapseText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, strings.Join(strings.Fields(line), " "))
	}
	joined := strings.Join(out, "\n")
	joined = blankLines.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}
