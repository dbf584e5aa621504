package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammad-safakhou/deepscout/config"
)

// Telemetry provides monitoring and cost tracking for research sessions.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	costTracker *CostTracker

	registry      *prometheus.Registry
	sessionsTotal *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	searchesTotal *prometheus.CounterVec
	llmCostTotal  prometheus.Counter
}

// CostTracker tracks spend across models and operations.
type CostTracker struct {
	mu sync.RWMutex

	ModelCosts     map[string]float64 // model -> cost
	OperationCosts map[string]float64 // operation -> cost

	TotalCost   float64
	TotalTokens int64
}

// SessionEvent records the outcome of one research session.
type SessionEvent struct {
	ID        string
	Query     string
	StartTime time.Time
	EndTime   time.Time
	Success   bool
	Error     string
	Cost      float64
	Rounds    int
	Searches  int
}

// CostSummary is a point-in-time snapshot of accumulated spend.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ByModel     map[string]float64
	ByOperation map[string]float64
}

// NewTelemetry creates a telemetry instance with its own metrics registry.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	registry := prometheus.NewRegistry()

	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		costTracker: &CostTracker{
			ModelCosts:     make(map[string]float64),
			OperationCosts: make(map[string]float64),
		},
		registry: registry,
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepscout_sessions_total",
			Help: "Research sessions by terminal status",
		}, []string{"status"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deepscout_phase_duration_seconds",
			Help:    "Time spent per pipeline phase",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"}),
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepscout_searches_total",
			Help: "Web searches by outcome",
		}, []string{"outcome"}),
		llmCostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepscout_llm_cost_usd_total",
			Help: "Accumulated LLM spend in USD",
		}),
	}

	registry.MustRegister(t.sessionsTotal, t.phaseDuration, t.searchesTotal, t.llmCostTotal)
	return t
}

// Registry exposes the metrics registry for HTTP scraping.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// RecordSessionEvent records a completed session.
func (t *Telemetry) RecordSessionEvent(ev SessionEvent) {
	status := "completed"
	if !ev.Success {
		status = "failed"
	}
	t.sessionsTotal.WithLabelValues(status).Inc()

	if t.config.Enabled {
		t.logger.Printf("session %s %s: rounds=%d searches=%d cost=$%.4f duration=%s",
			ev.ID, status, ev.Rounds, ev.Searches, ev.Cost, ev.EndTime.Sub(ev.StartTime))
	}
}

// RecordPhaseDuration records time spent in one pipeline phase.
func (t *Telemetry) RecordPhaseDuration(phase string, d time.Duration) {
	t.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordSearch counts one search by outcome ("success" or "failure").
func (t *Telemetry) RecordSearch(outcome string) {
	t.searchesTotal.WithLabelValues(outcome).Inc()
}

// RecordLLMUsage accumulates cost and token counts for one completion call.
func (t *Telemetry) RecordLLMUsage(model, operation string, cost float64, tokens int64) {
	if !t.config.CostTracking {
		return
	}
	t.llmCostTotal.Add(cost)

	t.costTracker.mu.Lock()
	defer t.costTracker.mu.Unlock()
	t.costTracker.ModelCosts[model] += cost
	t.costTracker.OperationCosts[operation] += cost
	t.costTracker.TotalCost += cost
	t.costTracker.TotalTokens += tokens
}

// CostSummary returns a snapshot of accumulated spend.
func (t *Telemetry) CostSummary() CostSummary {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()

	byModel := make(map[string]float64, len(t.costTracker.ModelCosts))
	for k, v := range t.costTracker.ModelCosts {
		byModel[k] = v
	}
	byOp := make(map[string]float64, len(t.costTracker.OperationCosts))
	for k, v := range t.costTracker.OperationCosts {
		byOp[k] = v
	}
	return CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		ByModel:     byModel,
		ByOperation: byOp,
	}
}

// Shutdown logs a final cost summary.
func (t *Telemetry) Shutdown() {
	if !t.config.Enabled {
		return
	}
	summary := t.CostSummary()
	t.logger.Printf("shutdown: total cost=$%.4f tokens=%d", summary.TotalCost, summary.TotalTokens)
}
