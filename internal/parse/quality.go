package parse

import (
	"github.com/reqagent/ingest-cli/internal/model"
)

// pointsPerField spreads the 8 required fields across a 0-100 score.
const pointsPerField = 12.5

// sparseListMin is the entry count under which a present list still draws a
// warning.
const sparseListMin = 2

// Assess derives the quality assessment from a sanitized opportunity. The
// score is deterministic: recomputing on an edited record gives the updated
// tier with no parser involvement.
func Assess(opp *model.Opportunity, stage string) *model.QualityAssessment {
	qa := &model.QualityAssessment{
		ParserStage: stage,
		Warnings:    []string{},
	}

	for _, field := range model.RequiredFields {
		if !opp.FieldPresent(field) {
			qa.Warnings = append(qa.Warnings, "missing_"+field)
			continue
		}
		qa.ConfidenceScore += pointsPerField

		switch field {
		case "eligibility":
			if len(opp.Eligibility) < sparseListMin {
				qa.Warnings = append(qa.Warnings, "sparse_eligibility")
			}
		case "themes":
			if len(opp.Themes) < sparseListMin {
				qa.Warnings = append(qa.Warnings, "sparse_themes")
			}
		}
	}

	if stage == StageFallback {
		qa.Warnings = append(qa.Warnings, "extraction_failed")
	}

	qa.Tier = model.TierFor(qa.ConfidenceScore)
	return qa
}
