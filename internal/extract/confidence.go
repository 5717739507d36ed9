package extract

import (
	"strings"
	"unicode"

	"github.com/reqagent/ingest-cli/internal/model"
)

// ScoreText estimates how much of a string is legible prose, in [0,1].
// Printable-character density gates the score, scaled by how much word
// structure the text shows: binary garbage and control-character runs score
// near zero, short labels score mid-range, paragraphs score high.
func ScoreText(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}

	var total, printable, alnum float64
	for _, r := range trimmed {
		total++
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			printable++
			alnum++
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			printable++
		}
	}

	density := printable / total

	structural := float64(len(strings.Fields(trimmed))) / 30.0
	if structural > 1 {
		structural = 1
	}

	score := density * (0.4 + 0.6*structural)

	// Mostly non-alphanumeric text reads as noise even when every rune is
	// technically printable.
	if legible := alnum / total; legible < 0.3 {
		score *= legible / 0.3
	}

	if score > 1 {
		score = 1
	}
	return score
}

// overallConfidence is the length-weighted mean of page confidences, held
// below the native ceiling whenever OCR text contributed to any page.
func overallConfidence(pages []model.PageResult, ocrUsed bool) float64 {
	c := aggregate(pages)
	if ocrUsed && c > ocrConfidenceCap {
		c = ocrConfidenceCap
	}
	return c
}

// aggregate is the length-weighted mean of page confidences.
func aggregate(pages []model.PageResult) float64 {
	var num, den float64
	for _, p := range pages {
		w := float64(len(p.Text))
		if w < 1 {
			w = 1
		}
		num += p.Confidence * w
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}
