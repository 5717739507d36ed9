package parse

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/reqagent/ingest-cli/internal/model"
	"github.com/reqagent/ingest-cli/internal/resilience"
	"github.com/reqagent/ingest-cli/pkg/anthropic"
)

// aiTemperature keeps structured extraction near-deterministic.
var aiTemperature = 0.05

// wireOpportunity tolerates the model returning either a string or a list
// for the two list fields.
type wireOpportunity struct {
	Title          string          `json:"title"`
	Donor          string          `json:"donor"`
	Summary        string          `json:"summary"`
	Amount         string          `json:"amount"`
	Deadline       string          `json:"deadline"`
	Location       string          `json:"location"`
	Eligibility    stringList      `json:"eligibility"`
	Themes         stringList      `json:"themes"`
	Duration       *string         `json:"duration"`
	HowToApply     *string         `json:"how_to_apply"`
	PublishedDate  *string         `json:"published_date"`
	ContactInfo    *string         `json:"contact_info"`
	OpportunityURL string          `json:"opportunity_url"`
}

// stringList accepts a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err == nil {
		*l = items
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = []string{one}
		}
		return nil
	}
	// Tolerate nulls and other shapes as empty.
	*l = nil
	return nil
}

// parseAI is stage 1: one message under a hard timeout, guarded by the
// circuit breaker so a degraded API stops being consulted entirely.
func (p *Parser) parseAI(ctx context.Context, text, sourceURL string) (*model.Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       p.cfg.Model,
			MaxTokens:   p.cfg.MaxTokens,
			System:      anthropic.BuildCachedSystemBlocks(systemPrompt),
			Temperature: &aiTemperature,
			Messages: []anthropic.Message{
				{Role: "user", Content: buildUserPrompt(text, sourceURL, p.cfg.MaxPromptChars)},
			},
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(p.cfg.Model, "parse")

	var wire wireOpportunity
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &wire); err != nil {
		return nil, eris.Wrap(err, "parse: model reply is not the expected JSON")
	}
	if wire.Title == "" && wire.Donor == "" && wire.Summary == "" {
		return nil, eris.New("parse: model reply carries no usable fields")
	}

	opp := &model.Opportunity{
		Title:          wire.Title,
		Donor:          wire.Donor,
		Summary:        wire.Summary,
		Amount:         wire.Amount,
		Deadline:       wire.Deadline,
		Location:       wire.Location,
		Eligibility:    wire.Eligibility,
		Themes:         wire.Themes,
		OpportunityURL: wire.OpportunityURL,
	}
	if wire.Duration != nil {
		opp.Duration = *wire.Duration
	}
	if wire.HowToApply != nil {
		opp.HowToApply = *wire.HowToApply
	}
	if wire.PublishedDate != nil {
		opp.PublishedDate = *wire.PublishedDate
	}
	if wire.ContactInfo != nil {
		opp.ContactInfo = *wire.ContactInfo
	}
	if opp.OpportunityURL == "" {
		opp.OpportunityURL = sourceURL
	}
	return opp, nil
}
