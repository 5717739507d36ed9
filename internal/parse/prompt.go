package parse

import (
	"fmt"
	"strings"
)

// systemPrompt is fixed across documents so the prompt cache stays warm.
const systemPrompt = `You are an expert data parser for funding opportunity documents. Extract precise information and return only a valid JSON object with exactly these fields:
{"title": string, "donor": string, "summary": string, "amount": string, "deadline": string, "location": string, "eligibility": [string], "themes": [string], "duration": string or null, "how_to_apply": string or null, "published_date": string or null, "contact_info": string or null, "opportunity_url": string}

Rules:
- Use "Unknown" for string fields you cannot determine; use [] for list fields.
- deadline and published_date in YYYY-MM-DD format when the document gives a full date, otherwise verbatim.
- amount verbatim from the document, including currency and ranges.
- summary is 1-3 sentences in your own words describing the opportunity.
- Return the JSON object only, no commentary.`

const userPromptTemplate = `Source URL: %s

Document text:
%s

Extract the funding opportunity fields from this document. Return valid JSON matching the schema.`

func buildUserPrompt(text, sourceURL string, maxChars int) string {
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	if sourceURL == "" {
		sourceURL = "(uploaded document)"
	}
	return fmt.Sprintf(userPromptTemplate, sourceURL, text)
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
