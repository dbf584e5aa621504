package research

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

type fakeRecorder struct {
	mu       sync.Mutex
	sessions []Session
	metrics  []SessionMetrics
}

func (f *fakeRecorder) RecordSession(ctx context.Context, s Session, m SessionMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	f.metrics = append(f.metrics, m)
	return nil
}

func planJSON() string {
	return `{
		"sub_questions": [
			{"id": "q1", "question": "first question", "priority": "high", "depends_on": []},
			{"id": "q2", "question": "second question", "priority": "medium", "depends_on": []},
			{"id": "q3", "question": "third question", "priority": "medium", "depends_on": ["q1"]}
		],
		"estimated_duration_seconds": 120
	}`
}

func scriptedLLM(round1Synth, round2Synth string) *fakeLLM {
	return &fakeLLM{cost: 0.001, respond: func(prompt, model string) (string, error) {
		switch {
		case strings.Contains(prompt, "research planner"):
			return planJSON(), nil
		case strings.Contains(prompt, "PREVIOUS DRAFT"):
			return round2Synth, nil
		case strings.Contains(prompt, "research synthesizer"):
			return round1Synth, nil
		case strings.Contains(prompt, "research query classifier"):
			return `{"complexity": "moderate", "confidence": 0.9, "reasoning": "test"}`, nil
		}
		return "", nil
	}}
}

func TestFastPathSingleSearch(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, model string) (string, error) {
		t.Errorf("fast path must not call the LLM, prompt: %.40s", prompt)
		return "", nil
	}}
	searcher := &fakeSearcher{sources: 2}
	stream := &collectorStream{}
	rec := &fakeRecorder{}
	o := NewOrchestrator(testConfig(), testTelemetry(), llm, searcher, rec)

	o.ExecuteResearch(context.Background(), "capital of France", stream, Options{})

	if searcher.callCount() != 1 {
		t.Fatalf("fast path must run exactly one search, got %d", searcher.callCount())
	}
	if stream.closed != 1 {
		t.Fatalf("stream must be closed exactly once, got %d", stream.closed)
	}

	classify := stream.byType(EventClassify)
	if len(classify) != 1 || !classify[0].Data.(ClassifyData).FastPath {
		t.Fatalf("expected fast-path classify event, got %+v", classify)
	}
	done := stream.byType(EventResearchComplete)
	if len(done) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", len(done))
	}
	if stream.last().Type != EventResearchComplete {
		t.Fatalf("terminal event must be last, got %s", stream.last().Type)
	}

	data := done[0].Data.(ResearchCompleteData)
	if len(data.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(data.Citations))
	}
	for i, c := range data.Citations {
		if c.ID != string(rune('1'+i)) {
			t.Fatalf("citations not contiguous from 1: %+v", data.Citations)
		}
	}
	if data.Metrics.TotalQueries != 1 {
		t.Fatalf("expected 1 query in metrics, got %d", data.Metrics.TotalQueries)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.sessions) != 1 || rec.sessions[0].Status != StatusCompleted {
		t.Fatalf("session not recorded as completed: %+v", rec.sessions)
	}
}

// peekSearcher runs a hook before every search, used to observe the
// orchestrator mid-flight.
type peekSearcher struct {
	fakeSearcher
	peek func()
}

func (s *peekSearcher) Search(ctx context.Context, query, model string, opts web_search.Options) (web_search.Answer, error) {
	if s.peek != nil {
		s.peek()
	}
	return s.fakeSearcher.Search(ctx, query, model, opts)
}

func TestFastPathLiveStatus(t *testing.T) {
	llm := &fakeLLM{respond: func(prompt, model string) (string, error) { return "", nil }}
	stream := &collectorStream{}
	searcher := &peekSearcher{fakeSearcher: fakeSearcher{sources: 2}}

	var o *Orchestrator
	var observed SessionStatus
	var active bool
	searcher.peek = func() {
		stream.mu.Lock()
		id := stream.events[0].SessionID
		stream.mu.Unlock()
		observed, active = o.GetStatus(id)
	}
	o = NewOrchestrator(testConfig(), testTelemetry(), llm, searcher, nil)

	o.ExecuteResearch(context.Background(), "capital of France", stream, Options{})

	if !active {
		t.Fatalf("session not reported active during the fast-path search")
	}
	// The fast path goes straight from classifying to the terminal status,
	// never through searching.
	if observed != StatusClassifying {
		t.Fatalf("fast path status during search = %s, want %s", observed, StatusClassifying)
	}
}

func TestRepairRound(t *testing.T) {
	round1 := `{
		"answer": "Draft answer [1] and [5].",
		"confidence": 0.5,
		"gaps": [
			{"description": "missing recent data", "suggested_query": "recent data 2026", "priority": "high"}
		]
	}`
	round2 := `{
		"answer": "Final answer [1] and [7].",
		"confidence": 0.9,
		"gaps": []
	}`
	llm := scriptedLLM(round1, round2)
	searcher := &fakeSearcher{sources: 2}
	stream := &collectorStream{}
	rec := &fakeRecorder{}
	o := NewOrchestrator(testConfig(), testTelemetry(), llm, searcher, rec)

	o.ExecuteResearch(context.Background(), "broad research topic", stream, Options{
		ForceComplexity: ComplexityModerate,
	})

	// q1+q2 in the first batch, q3 after q1, one follow-up for the gap
	if searcher.callCount() != 4 {
		t.Fatalf("expected 4 searches, got %d", searcher.callCount())
	}
	if got := stream.byType(EventRound2Start); len(got) != 1 {
		t.Fatalf("expected exactly one round2_start, got %d", len(got))
	}
	if got := stream.byType(EventGapFound); len(got) != 1 {
		t.Fatalf("expected one gap_found, got %d", len(got))
	}
	if got := stream.byType(EventSynthesizeStart); len(got) != 2 {
		t.Fatalf("expected two synthesis rounds, got %d", len(got))
	}

	done := stream.byType(EventResearchComplete)
	if len(done) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", len(done))
	}
	data := done[0].Data.(ResearchCompleteData)
	if !strings.Contains(data.Answer, "[1]") || !strings.Contains(data.Answer, "[2]") {
		t.Fatalf("final answer markers not renumbered contiguously: %q", data.Answer)
	}
	if strings.Contains(data.Answer, "[7]") {
		t.Fatalf("original marker survived renumbering: %q", data.Answer)
	}
	if len(data.Citations) != 2 {
		t.Fatalf("expected 2 reconciled citations, got %d", len(data.Citations))
	}
	if data.Metrics.GapsResolved != 1 {
		t.Fatalf("round-1 gaps must be bulk-resolved after round 2, got %d", data.Metrics.GapsResolved)
	}
	if data.Metrics.TotalQueries != 4 {
		t.Fatalf("expected 4 total queries, got %d", data.Metrics.TotalQueries)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	session := rec.sessions[0]
	if session.Round != 2 {
		t.Fatalf("expected session to reach round 2, got %d", session.Round)
	}
	for _, g := range session.Gaps {
		if g.Round == 1 && !g.Resolved {
			t.Fatalf("round-1 gap not resolved: %+v", g)
		}
	}
}

func TestSkipRound2(t *testing.T) {
	round1 := `{
		"answer": "Draft [1].",
		"confidence": 0.5,
		"gaps": [{"description": "gap", "suggested_query": "gap query", "priority": "high"}]
	}`
	llm := scriptedLLM(round1, round1)
	searcher := &fakeSearcher{sources: 2}
	stream := &collectorStream{}
	o := NewOrchestrator(testConfig(), testTelemetry(), llm, searcher, nil)

	o.ExecuteResearch(context.Background(), "topic", stream, Options{
		ForceComplexity: ComplexityModerate,
		SkipRound2:      true,
	})

	if got := stream.byType(EventRound2Start); len(got) != 0 {
		t.Fatalf("round 2 must be skipped, got %d round2_start events", len(got))
	}
	if got := stream.byType(EventResearchComplete); len(got) != 1 {
		t.Fatalf("expected completion despite skipped repair, got %d", len(got))
	}
}

func TestAllSearchesFailed(t *testing.T) {
	llm := scriptedLLM("{}", "{}")
	searcher := &fakeSearcher{failAll: true}
	stream := &collectorStream{}
	rec := &fakeRecorder{}
	o := NewOrchestrator(testConfig(), testTelemetry(), llm, searcher, rec)

	o.ExecuteResearch(context.Background(), "topic", stream, Options{
		ForceComplexity: ComplexityModerate,
	})

	errs := stream.byType(EventError)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error event, got %d", len(errs))
	}
	data := errs[0].Data.(ErrorData)
	if data.Code != ErrCodeSearchFailed {
		t.Fatalf("expected SEARCH_FAILED, got %s", data.Code)
	}
	if len(stream.byType(EventResearchComplete)) != 0 {
		t.Fatalf("failed session must not emit research_complete")
	}
	if stream.closed != 1 {
		t.Fatalf("stream must still be closed exactly once, got %d", stream.closed)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.sessions) != 1 || rec.sessions[0].Status != StatusFailed {
		t.Fatalf("failed session not recorded: %+v", rec.sessions)
	}
}

func TestPartialFailureTolerated(t *testing.T) {
	round1 := `{"answer": "Answer [1].", "confidence": 0.9, "gaps": []}`
	llm := scriptedLLM(round1, round1)
	searcher := &fakeSearcher{sources: 2, failFor: map[string]bool{"second": true}}
	stream := &collectorStream{}
	o := NewOrchestrator(testConfig(), testTelemetry(), llm, searcher, nil)

	o.ExecuteResearch(context.Background(), "topic", stream, Options{
		ForceComplexity: ComplexityModerate,
	})

	if got := stream.byType(EventResearchComplete); len(got) != 1 {
		t.Fatalf("partial failure must still complete, got %d terminal events", len(got))
	}
	// q2 failed; q1 and q3 (dependent on q1) still ran
	if searcher.callCount() != 3 {
		t.Fatalf("expected 3 searches, got %d", searcher.callCount())
	}
}

func TestBudgetTruncation(t *testing.T) {
	round1 := `{"answer": "Answer [1].", "confidence": 0.9, "gaps": []}`
	llm := scriptedLLM(round1, round1)
	searcher := &fakeSearcher{sources: 2}
	stream := &collectorStream{}
	o := NewOrchestrator(testConfig(), testTelemetry(), llm, searcher, nil)

	// standard model costs $0.005 per query: a $0.004 ceiling affords none,
	// but a batch is never truncated below one search
	o.ExecuteResearch(context.Background(), "topic", stream, Options{
		ForceComplexity: ComplexityModerate,
		MaxCost:         0.004,
	})

	if searcher.callCount() != 1 {
		t.Fatalf("expected budget to cap at the minimum single search, got %d", searcher.callCount())
	}
	if got := stream.byType(EventResearchComplete); len(got) != 1 {
		t.Fatalf("truncated session must still complete, got %d terminal events", len(got))
	}
}

func TestEventOrdering(t *testing.T) {
	round1 := `{"answer": "Answer [1].", "confidence": 0.9, "gaps": []}`
	llm := scriptedLLM(round1, round1)
	searcher := &fakeSearcher{sources: 2}
	stream := &collectorStream{}
	o := NewOrchestrator(testConfig(), testTelemetry(), llm, searcher, nil)

	o.ExecuteResearch(context.Background(), "topic", stream, Options{
		ForceComplexity: ComplexityModerate,
	})

	stream.mu.Lock()
	events := append([]Event{}, stream.events...)
	stream.mu.Unlock()

	if events[0].Type != EventResearchStart {
		t.Fatalf("first event must be research_start, got %s", events[0].Type)
	}
	for i, ev := range events[:len(events)-1] {
		if ev.Type == EventResearchComplete || ev.Type == EventError {
			t.Fatalf("terminal event at position %d of %d", i, len(events))
		}
	}

	// per-question ordering: start before complete for every sub-question
	started := make(map[string]int)
	for i, ev := range events {
		switch ev.Type {
		case EventSearchStart:
			started[ev.Data.(SearchStartData).SubQuestionID] = i
		case EventSearchComplete:
			id := ev.Data.(SearchCompleteData).SubQuestionID
			at, ok := started[id]
			if !ok || at > i {
				t.Fatalf("search_complete for %s before its search_start", id)
			}
		}
	}
}
