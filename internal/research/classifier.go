package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/telemetry"
	"github.com/mohammad-safakhou/deepscout/provider"
)

// Classifier grades incoming queries so the pipeline can scale effort to need.
type Classifier struct {
	cfg       *config.Config
	llm       provider.CompletionProvider
	telemetry *telemetry.Telemetry
	pricing   Pricing
	logger    *log.Logger
}

// ClassifyOptions controls a single classification call.
type ClassifyOptions struct {
	UseLLM          bool
	ForceComplexity Complexity // non-empty skips classification entirely
}

func NewClassifier(cfg *config.Config, llm provider.CompletionProvider, tele *telemetry.Telemetry) *Classifier {
	return &Classifier{
		cfg:       cfg,
		llm:       llm,
		telemetry: tele,
		pricing:   NewPricing(cfg.Search),
		logger:    log.New(log.Writer(), "[CLASSIFIER] ", log.LstdFlags),
	}
}

// Classify grades a query as simple, moderate or complex.
// A forced complexity short-circuits both the heuristic and the LLM.
// LLM transport failures are fatal; malformed LLM output falls back to
// the heuristic so a chatty model cannot sink the session.
func (c *Classifier) Classify(ctx context.Context, query string, opts ClassifyOptions, ledger *CostLedger) (Classification, error) {
	if opts.ForceComplexity != "" {
		return c.finalize(Classification{
			Complexity: opts.ForceComplexity,
			Confidence: 1.0,
			Reasoning:  "complexity forced by caller",
		}), nil
	}

	heuristic := c.heuristicClassify(query)
	if !opts.UseLLM {
		return c.finalize(heuristic), nil
	}

	prompt := c.classificationPrompt(query)
	model := c.cfg.LLM.Routing.Classification
	text, usage, err := c.llm.CompleteWithUsage(ctx, prompt, model, provider.Options{})
	if err != nil {
		return Classification{}, fmt.Errorf("classification failed: %w", err)
	}
	cost := c.llm.CalculateCost(usage, model)
	ledger.Add(cost)
	c.telemetry.RecordLLMUsage(model, "classification", cost, usage.PromptTokens+usage.CompletionTokens)

	parsed, ok := c.parseClassification(text)
	if !ok {
		c.logger.Printf("unparseable classification response, using heuristic (%s)", heuristic.Complexity)
		return c.finalize(heuristic), nil
	}
	return c.finalize(parsed), nil
}

// ShouldUseFastPath reports whether a classification allows skipping
// planning and going straight to a single search.
func ShouldUseFastPath(cl Classification) bool {
	return cl.Complexity == ComplexitySimple
}

func (c *Classifier) finalize(cl Classification) Classification {
	switch cl.Complexity {
	case ComplexitySimple:
		cl.EstimatedTimeSeconds = 15
	case ComplexityModerate:
		cl.EstimatedTimeSeconds = 60
	default:
		cl.EstimatedTimeSeconds = 180
	}
	cl.SuggestedModel = c.pricing.SuggestedModel(cl.Complexity)
	return cl
}

var analyticalTerms = []string{
	"compare", "versus", " vs ", "impact", "implications", "trade-off",
	"tradeoff", "pros and cons", "analyze", "analysis", "relationship",
	"trend", "history of", "evolution", "why", "how does", "how do",
	"cause", "effect", "future of",
}

// heuristicClassify scores a query on surface signals alone.
func (c *Classifier) heuristicClassify(query string) Classification {
	lower := strings.ToLower(query)
	words := strings.Fields(query)

	score := 0
	if len(words) > 12 {
		score++
	}
	if len(words) > 25 {
		score++
	}
	hits := 0
	for _, term := range analyticalTerms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	if hits > 0 {
		score++
	}
	if hits > 2 {
		score++
	}
	if strings.Count(query, "?") > 1 {
		score++
	}
	if strings.Count(lower, " and ") >= 2 {
		score++
	}

	cl := Classification{Confidence: 0.7, Reasoning: fmt.Sprintf("heuristic score %d", score)}
	switch {
	case score <= 1:
		cl.Complexity = ComplexitySimple
		cl.Confidence = 0.8
	case score <= 3:
		cl.Complexity = ComplexityModerate
	default:
		cl.Complexity = ComplexityComplex
	}
	return cl
}

func (c *Classifier) classificationPrompt(query string) string {
	return fmt.Sprintf(`You are a research query classifier. Grade the query below.

QUERY: "%s"

Complexity tiers:
- simple: a single factual lookup answers it
- moderate: needs a few independent searches
- complex: needs many searches, comparisons or dependent sub-questions

Respond ONLY with valid JSON in this format:
{
  "complexity": "simple|moderate|complex",
  "confidence": 0.0,
  "reasoning": "one sentence"
}
Do not include any other text or explanation.`, query)
}

func (c *Classifier) parseClassification(response string) (Classification, bool) {
	jsonStr, ok := extractJSON(response)
	if !ok {
		return Classification{}, false
	}
	var raw struct {
		Complexity string  `json:"complexity"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Classification{}, false
	}
	switch Complexity(raw.Complexity) {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
	default:
		return Classification{}, false
	}
	if raw.Confidence <= 0 || raw.Confidence > 1 {
		raw.Confidence = 0.7
	}
	return Classification{
		Complexity: Complexity(raw.Complexity),
		Confidence: raw.Confidence,
		Reasoning:  raw.Reasoning,
	}, true
}
