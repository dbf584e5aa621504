package budget

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Monitor tracks actual spend against configured limits during a session.
type Monitor struct {
	config    Config
	costUsed  float64
	startTime time.Time
	mu        sync.Mutex
}

// NewMonitor clones the provided config and starts tracking usage.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		config:    cfg.Clone(),
		startTime: time.Now(),
	}
}

// Add records incremental cost, returning an error if the cost limit is breached.
func (m *Monitor) Add(cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costUsed += cost
	if m.config.MaxCost != nil && m.costUsed > *m.config.MaxCost {
		return ErrExceeded{
			Kind:  "cost",
			Usage: fmt.Sprintf("$%.4f", m.costUsed),
			Limit: fmt.Sprintf("$%.4f", *m.config.MaxCost),
		}
	}
	return nil
}

// Remaining reports how much budget is left, or +Inf when unlimited.
func (m *Monitor) Remaining() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.MaxCost == nil {
		return math.Inf(1)
	}
	left := *m.config.MaxCost - m.costUsed
	if left < 0 {
		return 0
	}
	return left
}

// CheckTime verifies elapsed time against the configured limit.
func (m *Monitor) CheckTime() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.MaxTimeSeconds == nil || *m.config.MaxTimeSeconds <= 0 {
		return nil
	}
	elapsed := time.Since(m.startTime)
	limit := time.Duration(*m.config.MaxTimeSeconds) * time.Second
	if elapsed > limit {
		return ErrExceeded{
			Kind:  "time",
			Usage: elapsed.String(),
			Limit: limit.String(),
		}
	}
	return nil
}

// Usage returns the accumulated spend and elapsed time.
func (m *Monitor) Usage() (cost float64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.costUsed, time.Since(m.startTime)
}

// Config returns a clone of the underlying budget config.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Clone()
}
