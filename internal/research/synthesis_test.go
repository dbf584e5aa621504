package research

import (
	"context"
	"testing"
	"time"
)

func sampleNotes() []ResearchNote {
	return []ResearchNote{
		{
			ID: "n1", SubQuestionID: "q1", Content: "finding one", Confidence: 0.8,
			Citations: []Citation{
				{ID: "c1", URL: "https://a.example", Title: "A"},
				{ID: "c2", URL: "https://b.example", Title: "B"},
			},
			CreatedAt: time.Now(),
		},
		{
			ID: "n2", SubQuestionID: "q2", Content: "finding two", Confidence: 0.6,
			Citations: []Citation{
				{ID: "c3", URL: "https://b.example", Title: "B dup"}, // same URL as c2
				{ID: "c4", URL: "https://c.example", Title: "C"},
			},
			CreatedAt: time.Now(),
		},
	}
}

func TestSynthesize(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, model string) (string, error) {
		return `{
			"answer": "Combined answer [1] with more [3].",
			"confidence": 0.9,
			"gaps": [
				{"description": "missing pricing data", "suggested_query": "pricing data 2026", "priority": "high"},
				{"description": "minor detail", "suggested_query": "", "priority": "low"}
			]
		}`, nil
	}, cost: 0.002}
	s := NewSynthesizer(testConfig(), llm, testTelemetry())
	ledger := &CostLedger{}

	var percents []float64
	res, err := s.Synthesize(context.Background(), "sess", 1, SynthesisInput{
		Query: "the query",
		Notes: sampleNotes(),
	}, SynthesisCallbacks{OnProgress: func(p float64, partial string) {
		percents = append(percents, p)
	}}, ledger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Answer != "Combined answer [1] with more [3]." {
		t.Fatalf("unexpected answer: %q", res.Answer)
	}
	if res.Confidence != 0.9 {
		t.Fatalf("unexpected confidence: %v", res.Confidence)
	}
	// four citations, one deduplicated by URL
	if len(res.Citations) != 3 {
		t.Fatalf("expected merged citation pool of 3, got %d", len(res.Citations))
	}
	if len(res.Gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %d", len(res.Gaps))
	}
	if res.Gaps[0].Round != 1 || res.Gaps[0].SessionID != "sess" || res.Gaps[0].Resolved {
		t.Fatalf("gap not stamped: %+v", res.Gaps[0])
	}
	if ledger.Total() != 0.002 {
		t.Fatalf("synthesis cost not recorded: %v", ledger.Total())
	}

	if len(percents) == 0 {
		t.Fatalf("no progress emitted")
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress went backwards: %v", percents)
		}
	}
	if percents[len(percents)-1] != 100 {
		t.Fatalf("final progress must be 100, got %v", percents[len(percents)-1])
	}
}

func TestSynthesizeLenientParse(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, model string) (string, error) {
		return "Just a plain text answer without JSON.", nil
	}}
	s := NewSynthesizer(testConfig(), llm, testTelemetry())

	res, err := s.Synthesize(context.Background(), "sess", 1, SynthesisInput{
		Query: "q", Notes: sampleNotes(),
	}, SynthesisCallbacks{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "Just a plain text answer without JSON." {
		t.Fatalf("plain text should become the answer: %q", res.Answer)
	}
	if res.Confidence != 0.5 {
		t.Fatalf("expected default confidence, got %v", res.Confidence)
	}
}

func TestShouldProceedToRound2(t *testing.T) {
	high := SynthesisResult{Confidence: 0.95, Gaps: []ResearchGap{{Priority: PriorityHigh}}}
	if !ShouldProceedToRound2(high, 0.7) {
		t.Fatalf("high-priority gap must trigger round 2")
	}

	lowOnly := SynthesisResult{Confidence: 0.95, Gaps: []ResearchGap{{Priority: PriorityLow}}}
	if ShouldProceedToRound2(lowOnly, 0.7) {
		t.Fatalf("low-priority gaps alone must not trigger round 2")
	}

	shaky := SynthesisResult{Confidence: 0.5}
	if !ShouldProceedToRound2(shaky, 0.7) {
		t.Fatalf("low confidence must trigger round 2")
	}
}

func TestRound2Queries(t *testing.T) {
	gaps := []ResearchGap{
		{Description: "gap a", SuggestedQuery: "query a", Priority: PriorityHigh},
		{Description: "gap b", SuggestedQuery: "", Priority: PriorityMedium},
		{Description: "gap c", SuggestedQuery: "query c", Priority: PriorityLow},
	}
	queries := Round2Queries(gaps)
	if len(queries) != 2 {
		t.Fatalf("low-priority gaps must be filtered, got %v", queries)
	}
	if queries[0] != "query a" {
		t.Fatalf("expected suggested query first, got %q", queries[0])
	}
	if queries[1] != "gap b" {
		t.Fatalf("empty suggested query must fall back to description, got %q", queries[1])
	}

	filtered := Round2Gaps(gaps)
	if len(filtered) != 2 || filtered[0].Description != "gap a" || filtered[1].Description != "gap b" {
		t.Fatalf("Round2Gaps misaligned with Round2Queries: %+v", filtered)
	}
}
