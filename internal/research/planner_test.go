package research

import (
	"reflect"
	"testing"
)

func pendingSubs() []SubQuestion {
	return []SubQuestion{
		{ID: "q1", Question: "a", Status: QuestionPending},
		{ID: "q2", Question: "b", Status: QuestionPending},
		{ID: "q3", Question: "c", DependsOn: []string{"q1"}, Status: QuestionPending},
		{ID: "q4", Question: "d", DependsOn: []string{"q1", "q2"}, Status: QuestionPending},
	}
}

func TestGetParallelBatch(t *testing.T) {
	subs := pendingSubs()

	batch := GetParallelBatch(subs, map[string]bool{})
	if len(batch) != 2 || batch[0].ID != "q1" || batch[1].ID != "q2" {
		t.Fatalf("expected [q1 q2], got %+v", batch)
	}

	// q1 done, q2 still pending: only q3 unblocks
	subs[0].Status = QuestionCompleted
	batch = GetParallelBatch(subs, map[string]bool{"q1": true})
	if len(batch) != 2 || batch[0].ID != "q2" || batch[1].ID != "q3" {
		t.Fatalf("expected [q2 q3], got %+v", batch)
	}

	// everything done
	for i := range subs {
		subs[i].Status = QuestionCompleted
	}
	if batch := GetParallelBatch(subs, map[string]bool{"q1": true, "q2": true}); len(batch) != 0 {
		t.Fatalf("expected empty batch, got %+v", batch)
	}
}

func TestGetParallelBatchFailedDependencyBlocks(t *testing.T) {
	subs := pendingSubs()
	subs[0].Status = QuestionFailed
	subs[1].Status = QuestionCompleted

	// q1 failed so q3 and q4 must never become ready
	batch := GetParallelBatch(subs, map[string]bool{"q2": true})
	if len(batch) != 0 {
		t.Fatalf("questions behind a failed dependency must stay blocked, got %+v", batch)
	}
}

func TestUpdateSubQuestionStatusPure(t *testing.T) {
	plan := ResearchPlan{SubQuestions: pendingSubs()}
	updated := UpdateSubQuestionStatus(plan, "q2", QuestionCompleted)

	if plan.SubQuestions[1].Status != QuestionPending {
		t.Fatalf("input plan was mutated")
	}
	if updated.SubQuestions[1].Status != QuestionCompleted {
		t.Fatalf("status not updated in copy")
	}
}

func TestValidatePlanCycles(t *testing.T) {
	p := &Planner{}
	plan := &ResearchPlan{SubQuestions: []SubQuestion{
		{ID: "q1", Question: "a", DependsOn: []string{"q2"}},
		{ID: "q2", Question: "b", DependsOn: []string{"q1"}},
	}}
	if err := p.ValidatePlan(plan); err == nil {
		t.Fatalf("expected cycle detection error")
	}
}

func TestValidatePlanMissingDep(t *testing.T) {
	p := &Planner{}
	plan := &ResearchPlan{SubQuestions: []SubQuestion{
		{ID: "q1", Question: "a", DependsOn: []string{"nope"}},
	}}
	if err := p.ValidatePlan(plan); err == nil {
		t.Fatalf("expected missing dependency error")
	}
}

func TestValidatePlanDuplicateIDs(t *testing.T) {
	p := &Planner{}
	plan := &ResearchPlan{SubQuestions: []SubQuestion{
		{ID: "q1", Question: "a"},
		{ID: "q1", Question: "b"},
	}}
	if err := p.ValidatePlan(plan); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestNormalizeSubQuestions(t *testing.T) {
	subs := []SubQuestion{
		{ID: "", Question: "a"},
		{ID: "x", Question: "b", DependsOn: []string{"x", "later", "q1"}},
		{ID: "x", Question: "c", DependsOn: []string{"x"}},
	}
	out := normalizeSubQuestions(subs)

	if out[0].ID != "q1" {
		t.Fatalf("missing id not assigned: %+v", out[0])
	}
	if out[1].ID != "x" || out[2].ID != "q3" {
		t.Fatalf("duplicate id not repaired: %+v", out)
	}
	// self refs, unknown refs and forward refs dropped; "q1" survives
	if !reflect.DeepEqual(out[1].DependsOn, []string{"q1"}) {
		t.Fatalf("dependencies not sanitized: %+v", out[1].DependsOn)
	}
	// "x" now refers to an earlier question, so the mapped dep survives
	if !reflect.DeepEqual(out[2].DependsOn, []string{"x"}) {
		t.Fatalf("expected dep on earlier x, got %+v", out[2].DependsOn)
	}
}

func TestParsePlanResponseNumericIDs(t *testing.T) {
	p := &Planner{}
	response := "Here is the plan:\n" + `{
		"sub_questions": [
			{"id": 1, "question": "first", "priority": "high", "depends_on": []},
			{"id": 2, "question": "second", "priority": "bogus", "depends_on": ["1"]}
		],
		"estimated_duration_seconds": 90
	}`
	subs, est, ok := p.parsePlanResponse(response)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if len(subs) != 2 || subs[0].ID != "1" || subs[1].ID != "2" {
		t.Fatalf("numeric ids not coerced: %+v", subs)
	}
	if subs[1].Priority != PriorityMedium {
		t.Fatalf("invalid priority not defaulted: %+v", subs[1])
	}
	if est != 90 {
		t.Fatalf("expected 90s estimate, got %d", est)
	}
}

func TestFacetDecomposition(t *testing.T) {
	subs := facetDecomposition("quantum computing", 3)
	if len(subs) != 3 {
		t.Fatalf("expected 3 sub-questions, got %d", len(subs))
	}
	if subs[0].Priority != PriorityHigh {
		t.Fatalf("first facet should be high priority")
	}
	for _, sq := range subs {
		if sq.Status != QuestionPending || len(sq.DependsOn) != 0 {
			t.Fatalf("facets must be independent pending questions: %+v", sq)
		}
	}
}
