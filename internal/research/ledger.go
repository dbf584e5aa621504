package research

import "sync"

// CostLedger accumulates spend for a single session. Components add to it
// as they call paid APIs; the orchestrator reads the total for metrics.
type CostLedger struct {
	mu    sync.Mutex
	total float64
}

// Add records incremental spend.
func (l *CostLedger) Add(cost float64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.total += cost
	l.mu.Unlock()
}

// Total returns the accumulated spend.
func (l *CostLedger) Total() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
