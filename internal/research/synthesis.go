package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/telemetry"
	"github.com/mohammad-safakhou/deepscout/provider"
)

// Synthesizer merges research notes into a cited answer and surfaces
// coverage gaps in the same pass.
type Synthesizer struct {
	cfg       *config.Config
	llm       provider.CompletionProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// SynthesisInput carries everything a synthesis round needs.
// PreviousAnswer and Gaps are empty on round 1.
type SynthesisInput struct {
	Query          string
	Notes          []ResearchNote
	PreviousAnswer string
	Gaps           []ResearchGap
}

// SynthesisResult is one round's output. Citations holds the merged source
// pool in prompt order; inline [n] markers in Answer index into it.
type SynthesisResult struct {
	Answer     string
	Citations  []Citation
	Gaps       []ResearchGap
	Confidence float64
}

// SynthesisCallbacks observe streamed progress. Percent is non-decreasing.
type SynthesisCallbacks struct {
	OnProgress func(percent float64, partial string)
}

func NewSynthesizer(cfg *config.Config, llm provider.CompletionProvider, tele *telemetry.Telemetry) *Synthesizer {
	return &Synthesizer{
		cfg:       cfg,
		llm:       llm,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[SYNTH] ", log.LstdFlags),
	}
}

// Synthesize produces the round's answer. Transport failures are fatal;
// a response without parseable JSON is treated as a plain uncited answer.
func (s *Synthesizer) Synthesize(ctx context.Context, sessionID string, round int, input SynthesisInput, cb SynthesisCallbacks, ledger *CostLedger) (SynthesisResult, error) {
	pool := citationPool(input.Notes)
	prompt := s.synthesisPrompt(input, pool, round)

	model := s.cfg.LLM.Routing.Synthesis
	text, usage, err := s.llm.CompleteWithUsage(ctx, prompt, model, provider.Options{})
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("synthesis failed: %w", err)
	}
	cost := s.llm.CalculateCost(usage, model)
	ledger.Add(cost)
	s.telemetry.RecordLLMUsage(model, "synthesis", cost, usage.PromptTokens+usage.CompletionTokens)

	result := s.parseSynthesis(text, sessionID, round)
	result.Citations = pool

	s.streamProgress(result.Answer, cb)
	return result, nil
}

// ShouldProceedToRound2 decides whether a repair round is warranted:
// any gap above low priority, or overall confidence below the cutoff.
func ShouldProceedToRound2(res SynthesisResult, confidenceCutoff float64) bool {
	for _, g := range res.Gaps {
		if g.Priority == PriorityHigh || g.Priority == PriorityMedium {
			return true
		}
	}
	return res.Confidence < confidenceCutoff
}

// Round2Gaps filters to the gaps worth a follow-up search, preserving order.
func Round2Gaps(gaps []ResearchGap) []ResearchGap {
	var out []ResearchGap
	for _, g := range gaps {
		if g.Priority == PriorityLow {
			continue
		}
		out = append(out, g)
	}
	return out
}

// Round2Queries derives follow-up search queries from gaps, index-aligned
// with Round2Gaps.
func Round2Queries(gaps []ResearchGap) []string {
	var out []string
	for _, g := range Round2Gaps(gaps) {
		q := g.SuggestedQuery
		if q == "" {
			q = g.Description
		}
		out = append(out, q)
	}
	return out
}

// citationPool merges the citations of all notes in note order. The prompt
// numbers sources by pool position, so [n] markers index into this slice.
func citationPool(notes []ResearchNote) []Citation {
	var pool []Citation
	for _, n := range notes {
		pool = MergeCitations(pool, n.Citations)
	}
	return pool
}

func (s *Synthesizer) synthesisPrompt(input SynthesisInput, pool []Citation, round int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a research synthesizer. Write a thorough, well-organized answer to the query below using ONLY the findings provided.\n\n")
	fmt.Fprintf(&b, "QUERY: %q\n\n", input.Query)

	b.WriteString("SOURCES (cite inline as [n]):\n")
	for i, c := range pool {
		fmt.Fprintf(&b, "[%d] %s - %s\n", i+1, c.Title, c.URL)
	}
	b.WriteString("\nFINDINGS:\n")
	for _, n := range input.Notes {
		fmt.Fprintf(&b, "- (%s, confidence %.2f) %s\n", n.SubQuestionID, n.Confidence, n.Content)
	}

	if round > 1 && input.PreviousAnswer != "" {
		b.WriteString("\nPREVIOUS DRAFT (improve it with the new findings):\n")
		b.WriteString(input.PreviousAnswer)
		b.WriteString("\n\nGAPS THE NEW FINDINGS SHOULD CLOSE:\n")
		for _, g := range input.Gaps {
			fmt.Fprintf(&b, "- %s\n", g.Description)
		}
	}

	b.WriteString(`
Rules:
1. Cite sources inline with [n] markers referencing the numbered source list
2. If the findings leave part of the query unanswered, report it as a gap
3. Confidence reflects how completely the findings cover the query

Respond ONLY with valid JSON in this format:
{
  "answer": "markdown answer with [n] citations",
  "confidence": 0.0,
  "gaps": [
    {"description": "...", "suggested_query": "...", "priority": "high|medium|low"}
  ]
}
Do not include any other text or explanation.`)
	return b.String()
}

func (s *Synthesizer) parseSynthesis(response, sessionID string, round int) SynthesisResult {
	jsonStr, ok := extractJSON(response)
	if !ok {
		return SynthesisResult{Answer: strings.TrimSpace(response), Confidence: 0.5}
	}
	var raw struct {
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
		Gaps       []struct {
			Description    string `json:"description"`
			SuggestedQuery string `json:"suggested_query"`
			Priority       string `json:"priority"`
		} `json:"gaps"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil || raw.Answer == "" {
		return SynthesisResult{Answer: strings.TrimSpace(response), Confidence: 0.5}
	}

	result := SynthesisResult{Answer: raw.Answer, Confidence: raw.Confidence}
	if result.Confidence <= 0 || result.Confidence > 1 {
		result.Confidence = 0.5
	}
	for _, g := range raw.Gaps {
		if strings.TrimSpace(g.Description) == "" {
			continue
		}
		prio := Priority(g.Priority)
		switch prio {
		case PriorityHigh, PriorityMedium, PriorityLow:
		default:
			prio = PriorityMedium
		}
		result.Gaps = append(result.Gaps, ResearchGap{
			ID:             uuid.New().String(),
			SessionID:      sessionID,
			Round:          round,
			Description:    g.Description,
			SuggestedQuery: g.SuggestedQuery,
			Priority:       prio,
		})
	}
	return result
}

// streamProgress replays the finished answer in chunks with a smoothing
// delay so consumers see steady progress instead of one burst.
func (s *Synthesizer) streamProgress(answer string, cb SynthesisCallbacks) {
	if cb.OnProgress == nil {
		return
	}
	const chunks = 5
	delay := s.cfg.Research.StreamDelay

	runes := []rune(answer)
	for i := 1; i <= chunks; i++ {
		if delay > 0 {
			time.Sleep(delay)
		}
		end := len(runes) * i / chunks
		cb.OnProgress(float64(i)/chunks*100, string(runes[:end]))
	}
}
