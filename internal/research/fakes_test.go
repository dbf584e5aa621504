package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/telemetry"
	"github.com/mohammad-safakhou/deepscout/provider"
	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

type fakeLLM struct {
	mu      sync.Mutex
	calls   []string
	respond func(prompt, model string) (string, error)
	cost    float64
}

func (f *fakeLLM) CompleteWithUsage(ctx context.Context, prompt, model string, opts provider.Options) (string, provider.Usage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.mu.Unlock()
	text, err := f.respond(prompt, model)
	return text, provider.Usage{PromptTokens: 100, CompletionTokens: 50}, err
}

func (f *fakeLLM) CalculateCost(usage provider.Usage, model string) float64 {
	return f.cost
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSearcher struct {
	mu      sync.Mutex
	calls   []string
	failAll bool
	failFor map[string]bool // fail queries containing these substrings
	sources int
	delay   time.Duration
}

func (f *fakeSearcher) Search(ctx context.Context, query, model string, opts web_search.Options) (web_search.Answer, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	call := len(f.calls)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failAll {
		return web_search.Answer{}, fmt.Errorf("provider unavailable")
	}
	for substr := range f.failFor {
		if substr != "" && strings.Contains(query, substr) {
			return web_search.Answer{}, fmt.Errorf("provider rejected query")
		}
	}

	n := f.sources
	if n <= 0 {
		n = 2
	}
	sources := make([]web_search.Source, 0, n)
	for j := 0; j < n; j++ {
		sources = append(sources, web_search.Source{
			URL:     fmt.Sprintf("https://src-%d-%d.example/page", call, j),
			Title:   fmt.Sprintf("Source %d-%d", call, j),
			Snippet: "snippet",
		})
	}
	return web_search.Answer{Content: "findings about " + query, Sources: sources}, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type collectorStream struct {
	mu     sync.Mutex
	events []Event
	closed int
}

func (c *collectorStream) Enqueue(ev Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *collectorStream) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *collectorStream) byType(t EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (c *collectorStream) last() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return Event{}
	}
	return c.events[len(c.events)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			Routing: config.LLMRoutingConfig{
				Classification: "gpt-5-nano",
				Planning:       "gpt-5",
				Synthesis:      "gpt-5",
				Fallback:       "gpt-5-nano",
			},
		},
		Search: config.SearchConfig{
			Provider:      "serper",
			MaxResults:    5,
			BaseModel:     "standard",
			AdvancedModel: "deep",
			CostPerQuery:  map[string]float64{"standard": 0.005, "deep": 0.025},
		},
		Research: config.ResearchConfig{
			MaxParallelSearches:  3,
			MaxRounds:            2,
			ConfidenceCutoff:     0.7,
			ModerateSubQuestions: 3,
			ComplexSubQuestions:  4,
		},
	}
}

func testTelemetry() *telemetry.Telemetry {
	return telemetry.NewTelemetry(config.TelemetryConfig{Enabled: false, CostTracking: true})
}
