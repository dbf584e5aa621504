package research

import (
	"context"
	"fmt"
	"testing"
)

func TestClassifyForcedComplexity(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, model string) (string, error) {
		t.Fatalf("LLM must not be called when complexity is forced")
		return "", nil
	}}
	c := NewClassifier(testConfig(), llm, testTelemetry())

	cl, err := c.Classify(context.Background(), "anything", ClassifyOptions{
		UseLLM:          true,
		ForceComplexity: ComplexityComplex,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cl.Complexity != ComplexityComplex || cl.Confidence != 1.0 {
		t.Fatalf("forced complexity not honored: %+v", cl)
	}
	if cl.SuggestedModel != "deep" {
		t.Fatalf("complex queries should get the deep search model, got %s", cl.SuggestedModel)
	}
}

func TestClassifyHeuristic(t *testing.T) {
	c := NewClassifier(testConfig(), &fakeLLM{}, testTelemetry())

	simple, err := c.Classify(context.Background(), "capital of France", ClassifyOptions{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if simple.Complexity != ComplexitySimple {
		t.Fatalf("expected simple, got %s", simple.Complexity)
	}
	if simple.SuggestedModel != "standard" {
		t.Fatalf("simple queries should get the standard model, got %s", simple.SuggestedModel)
	}

	complexQuery := "Compare the long-term economic impact and environmental implications of nuclear versus solar energy, and analyze how policy trends affect adoption and what the future of each looks like?"
	hard, err := c.Classify(context.Background(), complexQuery, ClassifyOptions{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hard.Complexity == ComplexitySimple {
		t.Fatalf("analytical multi-clause query graded simple: %+v", hard)
	}
}

func TestClassifyLLMResponse(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, model string) (string, error) {
		return `{"complexity": "moderate", "confidence": 0.85, "reasoning": "a few lookups"}`, nil
	}, cost: 0.001}
	ledger := &CostLedger{}
	c := NewClassifier(testConfig(), llm, testTelemetry())

	cl, err := c.Classify(context.Background(), "some query", ClassifyOptions{UseLLM: true}, ledger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cl.Complexity != ComplexityModerate || cl.Confidence != 0.85 {
		t.Fatalf("LLM judgment not used: %+v", cl)
	}
	if cl.EstimatedTimeSeconds != 60 {
		t.Fatalf("expected moderate time estimate, got %d", cl.EstimatedTimeSeconds)
	}
	if ledger.Total() != 0.001 {
		t.Fatalf("LLM cost not recorded: %v", ledger.Total())
	}
}

func TestClassifyMalformedLLMFallsBack(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, model string) (string, error) {
		return "I think this query is quite interesting!", nil
	}}
	c := NewClassifier(testConfig(), llm, testTelemetry())

	cl, err := c.Classify(context.Background(), "capital of France", ClassifyOptions{UseLLM: true}, nil)
	if err != nil {
		t.Fatalf("malformed LLM output must fall back, got error: %v", err)
	}
	if cl.Complexity != ComplexitySimple {
		t.Fatalf("heuristic fallback not applied: %+v", cl)
	}
}

func TestClassifyTransportErrorIsFatal(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, model string) (string, error) {
		return "", fmt.Errorf("connection refused")
	}}
	c := NewClassifier(testConfig(), llm, testTelemetry())

	if _, err := c.Classify(context.Background(), "query", ClassifyOptions{UseLLM: true}, nil); err == nil {
		t.Fatalf("expected transport error to be fatal")
	}
}

func TestShouldUseFastPath(t *testing.T) {
	if !ShouldUseFastPath(Classification{Complexity: ComplexitySimple}) {
		t.Fatalf("simple must take the fast path")
	}
	if ShouldUseFastPath(Classification{Complexity: ComplexityModerate}) {
		t.Fatalf("moderate must not take the fast path")
	}
	if ShouldUseFastPath(Classification{Complexity: ComplexityComplex}) {
		t.Fatalf("complex must not take the fast path")
	}
}
