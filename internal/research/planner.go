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

// Planner decomposes a query into a dependency-aware set of sub-questions.
type Planner struct {
	cfg       *config.Config
	llm       provider.CompletionProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewPlanner(cfg *config.Config, llm provider.CompletionProvider, tele *telemetry.Telemetry) *Planner {
	return &Planner{
		cfg:       cfg,
		llm:       llm,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// CreateResearchPlan asks the LLM to decompose the query. Unusable LLM
// output falls back to a deterministic facet decomposition; only transport
// failures are fatal.
func (p *Planner) CreateResearchPlan(ctx context.Context, query, sessionID string, complexity Complexity, ledger *CostLedger) (*ResearchPlan, error) {
	target := p.cfg.Research.ModerateSubQuestions
	if complexity == ComplexityComplex {
		target = p.cfg.Research.ComplexSubQuestions
	}
	if target < 1 {
		target = 3
	}

	prompt := p.planningPrompt(query, target)
	model := p.cfg.LLM.Routing.Planning
	text, usage, err := p.llm.CompleteWithUsage(ctx, prompt, model, provider.Options{})
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	cost := p.llm.CalculateCost(usage, model)
	ledger.Add(cost)
	p.telemetry.RecordLLMUsage(model, "planning", cost, usage.PromptTokens+usage.CompletionTokens)

	subs, estimated, ok := p.parsePlanResponse(text)
	if !ok || len(subs) == 0 {
		p.logger.Printf("unparseable plan response, using facet decomposition")
		subs = facetDecomposition(query, target)
		estimated = target * 30
	}
	subs = normalizeSubQuestions(subs)

	plan := &ResearchPlan{
		SessionID:                sessionID,
		Query:                    query,
		SubQuestions:             subs,
		EstimatedDurationSeconds: estimated,
	}
	if err := p.ValidatePlan(plan); err != nil {
		// normalization already dropped bad references, so this is unexpected
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return plan, nil
}

// ValidatePlan verifies id uniqueness and dependency integrity.
func (p *Planner) ValidatePlan(plan *ResearchPlan) error {
	if len(plan.SubQuestions) == 0 {
		return fmt.Errorf("plan has no sub-questions")
	}
	seen := make(map[string]bool, len(plan.SubQuestions))
	for _, sq := range plan.SubQuestions {
		if sq.ID == "" {
			return fmt.Errorf("sub-question with empty id")
		}
		if seen[sq.ID] {
			return fmt.Errorf("duplicate sub-question id: %s", sq.ID)
		}
		seen[sq.ID] = true
	}
	if err := checkMissingDependencies(plan.SubQuestions); err != nil {
		return fmt.Errorf("missing dependencies: %w", err)
	}
	if err := checkCircularDependencies(plan.SubQuestions); err != nil {
		return fmt.Errorf("circular dependencies detected: %w", err)
	}
	return nil
}

// GetParallelBatch returns the pending sub-questions whose dependencies have
// all completed, in plan order. Questions depending on a failed sub-question
// never become ready; the caller's loop terminates when the batch is empty.
func GetParallelBatch(subs []SubQuestion, completed map[string]bool) []SubQuestion {
	var batch []SubQuestion
	for _, sq := range subs {
		if sq.Status != QuestionPending {
			continue
		}
		ready := true
		for _, dep := range sq.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			batch = append(batch, sq)
		}
	}
	return batch
}

// UpdateSubQuestionStatus returns a copy of the plan with one status changed.
// The input plan is never mutated.
func UpdateSubQuestionStatus(plan ResearchPlan, id string, status QuestionStatus) ResearchPlan {
	subs := make([]SubQuestion, len(plan.SubQuestions))
	copy(subs, plan.SubQuestions)
	for i := range subs {
		if subs[i].ID == id {
			subs[i].Status = status
		}
	}
	plan.SubQuestions = subs
	return plan
}

func (p *Planner) planningPrompt(query string, target int) string {
	return fmt.Sprintf(`You are a research planner. Decompose the query below into about %d focused sub-questions that together answer it.

QUERY: "%s"

Rules:
1. Each sub-question must be independently searchable
2. Use depends_on only when a sub-question genuinely needs another's answer first
3. depends_on may only reference ids of earlier sub-questions
4. Priority reflects how central the sub-question is to the query

Respond ONLY with valid JSON in this format:
{
  "sub_questions": [
    {"id": "q1", "question": "...", "reasoning": "...", "priority": "high|medium|low", "depends_on": []}
  ],
  "estimated_duration_seconds": 60
}
Do not include any other text or explanation.`, target, query)
}

func (p *Planner) parsePlanResponse(response string) ([]SubQuestion, int, bool) {
	jsonStr, ok := extractJSON(response)
	if !ok {
		return nil, 0, false
	}
	var raw struct {
		SubQuestions []struct {
			ID        json.Number `json:"id"`
			Question  string      `json:"question"`
			Reasoning string      `json:"reasoning"`
			Priority  string      `json:"priority"`
			DependsOn []string    `json:"depends_on"`
		} `json:"sub_questions"`
		EstimatedDurationSeconds int `json:"estimated_duration_seconds"`
	}
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, 0, false
	}

	var subs []SubQuestion
	for _, rq := range raw.SubQuestions {
		if strings.TrimSpace(rq.Question) == "" {
			continue
		}
		prio := Priority(rq.Priority)
		switch prio {
		case PriorityHigh, PriorityMedium, PriorityLow:
		default:
			prio = PriorityMedium
		}
		subs = append(subs, SubQuestion{
			ID:        rq.ID.String(),
			Question:  strings.TrimSpace(rq.Question),
			Reasoning: rq.Reasoning,
			Priority:  prio,
			DependsOn: rq.DependsOn,
			Status:    QuestionPending,
		})
	}
	return subs, raw.EstimatedDurationSeconds, true
}

// normalizeSubQuestions repairs what LLMs commonly get wrong: missing or
// duplicate ids, and dependency references to unknown, later or self ids.
func normalizeSubQuestions(subs []SubQuestion) []SubQuestion {
	out := make([]SubQuestion, len(subs))
	copy(out, subs)

	idMap := make(map[string]string, len(out)) // original id -> assigned id
	seen := make(map[string]bool, len(out))
	for i := range out {
		assigned := out[i].ID
		if assigned == "" || seen[assigned] {
			assigned = fmt.Sprintf("q%d", i+1)
		}
		if out[i].ID != "" {
			if _, exists := idMap[out[i].ID]; !exists {
				idMap[out[i].ID] = assigned
			}
		}
		out[i].ID = assigned
		seen[assigned] = true
	}

	earlier := make(map[string]bool, len(out))
	for i := range out {
		var deps []string
		for _, dep := range out[i].DependsOn {
			mapped, ok := idMap[dep]
			if !ok {
				mapped = dep
			}
			if earlier[mapped] {
				deps = append(deps, mapped)
			}
		}
		out[i].DependsOn = deps
		earlier[out[i].ID] = true
	}
	return out
}

// facetDecomposition is the deterministic fallback plan.
func facetDecomposition(query string, target int) []SubQuestion {
	facets := []string{
		"%s: overview and key facts",
		"%s: recent developments",
		"%s: challenges and open questions",
		"%s: comparisons and alternatives",
		"%s: future outlook",
	}
	if target > len(facets) {
		target = len(facets)
	}
	if target < 1 {
		target = 1
	}
	subs := make([]SubQuestion, 0, target)
	for i := 0; i < target; i++ {
		prio := PriorityMedium
		if i == 0 {
			prio = PriorityHigh
		}
		subs = append(subs, SubQuestion{
			ID:       fmt.Sprintf("q%d", i+1),
			Question: fmt.Sprintf(facets[i], query),
			Priority: prio,
			Status:   QuestionPending,
		})
	}
	return subs
}

func checkCircularDependencies(subs []SubQuestion) error {
	deps := make(map[string][]string, len(subs))
	for _, sq := range subs {
		deps[sq.ID] = sq.DependsOn
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(string) bool
	hasCycle = func(id string) bool {
		if recStack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		recStack[id] = true
		for _, dep := range deps[id] {
			if hasCycle(dep) {
				return true
			}
		}
		recStack[id] = false
		return false
	}

	for _, sq := range subs {
		if !visited[sq.ID] {
			if hasCycle(sq.ID) {
				return fmt.Errorf("circular dependency detected")
			}
		}
	}
	return nil
}

func checkMissingDependencies(subs []SubQuestion) error {
	ids := make(map[string]bool, len(subs))
	for _, sq := range subs {
		ids[sq.ID] = true
	}
	for _, sq := range subs {
		for _, dep := range sq.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("sub-question %s depends on missing id %s", sq.ID, dep)
			}
		}
	}
	return nil
}
