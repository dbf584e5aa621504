package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/deepscout/internal/research"
	"github.com/mohammad-safakhou/deepscout/internal/store"
)

// SchedulerStore is the slice of the store the scheduler needs.
// *store.Store satisfies it.
type SchedulerStore interface {
	ListAllSavedQueries(ctx context.Context) ([]store.SavedQuery, error)
	LatestRunTime(ctx context.Context, savedQueryID string) (*time.Time, error)
	CreateRun(ctx context.Context, savedQueryID, status string) (string, error)
	FinishRun(ctx context.Context, runID, status string, sessionID, errMsg *string) error
	AttachSessionUser(ctx context.Context, sessionID, userID string) error
	GetSession(ctx context.Context, id, userID string) (research.Session, error)
}

// SchedulerCache is the slice of the cache the scheduler needs.
// *store.Cache satisfies it.
type SchedulerCache interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	SetLatestResult(ctx context.Context, savedQueryID string, session research.Session) error
}

// Scheduler fires saved queries on their cron schedules. A Redis lock keeps
// multiple replicas from running the same query twice; it is held until the
// run finishes, then released by the run goroutine.
type Scheduler struct {
	Store  SchedulerStore
	Cache  SchedulerCache
	Orch   *research.Orchestrator
	Stop   chan struct{}
	Logger *log.Logger

	Interval time.Duration // defaults to one hour
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	queries, err := s.Store.ListAllSavedQueries(ctx)
	if err != nil {
		s.Logger.Printf("list saved queries: %v", err)
		return
	}
	for _, sq := range queries {
		last, _ := s.Store.LatestRunTime(ctx, sq.ID)
		if !isDue(sq.ScheduleCron, last) {
			continue
		}

		unlock := func() {}
		if s.Cache != nil {
			lockKey := "sched:lock:" + sq.ID
			ok, _ := s.Cache.AcquireLock(ctx, lockKey, 2*time.Minute)
			if !ok {
				continue
			}
			unlock = func() { _ = s.Cache.ReleaseLock(ctx, lockKey) }
		}

		runID, err := s.Store.CreateRun(ctx, sq.ID, "running")
		if err != nil {
			unlock()
			continue
		}
		go s.execute(ctx, sq, runID, unlock)
	}
}

func (s *Scheduler) execute(ctx context.Context, sq store.SavedQuery, runID string, unlock func()) {
	defer unlock()

	// jitter to avoid stampedes
	time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)

	cs := &captureStream{}
	s.Orch.ExecuteResearch(ctx, sq.Query, cs, research.Options{})

	if cs.failed {
		_ = s.Store.FinishRun(ctx, runID, "failed", strPtr(cs.sessionID), strPtr(cs.errMsg))
		return
	}
	_ = s.Store.FinishRun(ctx, runID, "succeeded", strPtr(cs.sessionID), nil)
	_ = s.Store.AttachSessionUser(ctx, cs.sessionID, sq.UserID)

	if s.Cache != nil {
		if sess, err := s.Store.GetSession(ctx, cs.sessionID, ""); err == nil {
			if err := s.Cache.SetLatestResult(ctx, sq.ID, sess); err != nil {
				s.Logger.Printf("cache latest result for %s: %v", sq.ID, err)
			}
		}
	}
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// captureStream discards events but remembers the session id and outcome.
type captureStream struct {
	mu        sync.Mutex
	sessionID string
	failed    bool
	errMsg    string
}

func (c *captureStream) Enqueue(ev research.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		c.sessionID = ev.SessionID
	}
	if ev.Type == research.EventError {
		c.failed = true
		if data, ok := ev.Data.(research.ErrorData); ok {
			c.errMsg = data.Message
		}
	}
	return nil
}

func (c *captureStream) Close() {}

// isDue determines whether a saved query with cronSpec should run now, given
// when it last ran. Supports "@daily", "@hourly" and standard cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "":
		return false
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// invalid expressions degrade to @daily
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
