// Package parse turns extracted document text into the canonical funding
// opportunity record. Stage 1 asks the model for the schema directly; stage
// 2 is a rule-based parser that never needs the network. Both stages feed
// the same sanitizer and quality assessment, and parsing never returns an
// error: the worst case is an all-placeholder record flagged for review.
package parse

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reqagent/ingest-cli/internal/model"
	"github.com/reqagent/ingest-cli/internal/resilience"
	"github.com/reqagent/ingest-cli/internal/sanitize"
	"github.com/reqagent/ingest-cli/pkg/anthropic"
)

// Parser stage labels recorded on the quality assessment.
const (
	StageAI       = "ai"
	StageRules    = "rules"
	StageFallback = "fallback"
)

// Config controls the stage-1 model call.
type Config struct {
	// Model is the Anthropic model ID. Required when a client is set.
	Model string

	// MaxTokens bounds the structured reply. Default: 1800.
	MaxTokens int64

	// Timeout is the hard cap on one stage-1 call. Default: 45s.
	Timeout time.Duration

	// MaxPromptChars truncates document text before prompting. Default: 24000.
	MaxPromptChars int
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1800
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = 24000
	}
	return c
}

// Parser runs the two parsing stages.
type Parser struct {
	client  anthropic.Client
	breaker *resilience.CircuitBreaker
	cfg     Config
}

// New creates a Parser. A nil client disables stage 1: every document goes
// straight to the rule-based stage.
func New(client anthropic.Client, cfg Config) *Parser {
	return &Parser{
		client:  client,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitConfig{}),
		cfg:     cfg.withDefaults(),
	}
}

// Parse produces a sanitized opportunity and its quality assessment from
// extracted text. Stage-1 failures of any kind (timeout, open circuit,
// unparseable reply) fall through to stage 2.
func (p *Parser) Parse(ctx context.Context, text, sourceURL string) (*model.Opportunity, *model.QualityAssessment) {
	var (
		opp   *model.Opportunity
		stage string
	)

	switch {
	case strings.TrimSpace(text) == "":
		opp = model.FallbackOpportunity(sourceURL)
		stage = StageFallback
	case p.client != nil:
		aiOpp, err := p.parseAI(ctx, text, sourceURL)
		if err == nil {
			opp = aiOpp
			stage = StageAI
			break
		}
		zap.L().Warn("model parse failed, using rule-based stage",
			zap.String("source_url", sourceURL),
			zap.Error(err),
		)
		fallthrough
	default:
		opp = ParseRules(text, sourceURL)
		stage = StageRules
	}

	sanitize.Opportunity(opp)
	if opp.OpportunityURL == "" {
		opp.OpportunityURL = sourceURL
	}

	qa := Assess(opp, stage)
	zap.L().Info("document parsed",
		zap.String("source_url", sourceURL),
		zap.String("stage", stage),
		zap.Float64("confidence", qa.ConfidenceScore),
		zap.String("tier", string(qa.Tier)),
		zap.Int("warnings", len(qa.Warnings)),
	)
	return opp, qa
}
