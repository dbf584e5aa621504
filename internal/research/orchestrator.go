package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/budget"
	"github.com/mohammad-safakhou/deepscout/internal/telemetry"
	"github.com/mohammad-safakhou/deepscout/provider"
	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

// SessionRecorder persists finished sessions. Implementations must tolerate
// being called once per session, after the terminal event.
type SessionRecorder interface {
	RecordSession(ctx context.Context, session Session, metrics SessionMetrics) error
}

// Options tunes a single research run.
type Options struct {
	ForceComplexity          Complexity // non-empty skips classification
	DisableLLMClassification bool       // heuristic-only classification
	SkipRound2               bool
	MaxCost                  float64 // session budget ceiling in USD, 0 = config default
}

// Orchestrator drives a research session through classification, planning,
// parallel search, synthesis, gap repair and citation reconciliation.
// All collaborators are injected; there are no package-level clients.
type Orchestrator struct {
	cfg         *config.Config
	logger      *log.Logger
	telemetry   *telemetry.Telemetry
	classifier  *Classifier
	planner     *Planner
	executor    *SearchExecutor
	synthesizer *Synthesizer
	pricing     Pricing
	recorder    SessionRecorder
	tracer      trace.Tracer

	mu     sync.RWMutex
	active map[string]SessionStatus
}

// NewOrchestrator wires the pipeline components. recorder may be nil when
// persistence is not wanted (one-shot CLI runs).
func NewOrchestrator(cfg *config.Config, tele *telemetry.Telemetry, llm provider.CompletionProvider, searcher web_search.Searcher, recorder SessionRecorder) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		logger:      log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		telemetry:   tele,
		classifier:  NewClassifier(cfg, llm, tele),
		planner:     NewPlanner(cfg, llm, tele),
		executor:    NewSearchExecutor(cfg, searcher, tele),
		synthesizer: NewSynthesizer(cfg, llm, tele),
		pricing:     NewPricing(cfg.Search),
		recorder:    recorder,
		tracer:      otel.Tracer("deepscout/orchestrator"),
	}
}

// GetStatus reports the live status of a session, if it is still running.
func (o *Orchestrator) GetStatus(sessionID string) (SessionStatus, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.active[sessionID]
	return st, ok
}

// sessionRun holds per-session mutable state. All event emission funnels
// through emit, which serializes concurrent callbacks into FIFO order and
// guarantees at most one terminal event.
type sessionRun struct {
	id      string
	query   string
	stream  StreamController
	ledger  *CostLedger
	session Session
	metrics SessionMetrics

	emitMu       sync.Mutex
	terminalSent bool

	phaseStart time.Time
	searchWall time.Duration
	searchSum  time.Duration
}

func (r *sessionRun) emit(t EventType, data interface{}) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.terminalSent {
		return
	}
	if t == EventResearchComplete || t == EventError {
		r.terminalSent = true
	}
	_ = r.stream.Enqueue(NewEvent(t, r.id, data))
}

func (r *sessionRun) startPhase() {
	r.phaseStart = time.Now()
}

func (r *sessionRun) endPhase(name string, tele *telemetry.Telemetry) {
	d := time.Since(r.phaseStart)
	r.metrics.PhaseDurationsMs[name] += d.Milliseconds()
	tele.RecordPhaseDuration(name, d)
}

// ExecuteResearch runs one session to completion. It never returns a value:
// all results and failures flow through the stream, which always receives
// exactly one terminal event and is always closed. Panics surface as an
// UNKNOWN error event rather than escaping to the caller.
func (o *Orchestrator) ExecuteResearch(ctx context.Context, query string, stream StreamController, opts Options) {
	sessionID := uuid.New().String()
	r := &sessionRun{
		id:     sessionID,
		query:  query,
		stream: stream,
		ledger: &CostLedger{},
		session: Session{
			ID:        sessionID,
			Query:     query,
			Status:    StatusInitializing,
			StartedAt: time.Now(),
		},
		metrics: SessionMetrics{
			SessionID:        sessionID,
			PhaseDurationsMs: make(map[string]int64),
		},
	}

	o.mu.Lock()
	if o.active == nil {
		o.active = make(map[string]SessionStatus)
	}
	o.active[sessionID] = StatusInitializing
	o.mu.Unlock()

	defer stream.Close()
	defer func() {
		o.mu.Lock()
		delete(o.active, sessionID)
		o.mu.Unlock()

		if rec := recover(); rec != nil {
			o.logger.Printf("session %s panicked: %v", sessionID, rec)
			o.finishFailed(ctx, r, fmt.Sprintf("internal error: %v", rec), ErrCodeUnknown, false)
		}
	}()

	if err := o.run(ctx, r, opts); err != nil {
		code, recoverable := errorCode(err)
		o.logger.Printf("session %s failed (%s): %v", sessionID, code, err)
		o.finishFailed(ctx, r, err.Error(), code, recoverable)
	}
}

func (o *Orchestrator) finishFailed(ctx context.Context, r *sessionRun, message, code string, recoverable bool) {
	now := time.Now()
	r.session.Status = StatusFailed
	r.session.Error = message
	r.session.CompletedAt = &now
	r.metrics.EstimatedCost = r.ledger.Total()

	r.emit(EventError, ErrorData{Message: message, Code: code, Recoverable: recoverable})

	o.telemetry.RecordSessionEvent(telemetry.SessionEvent{
		ID:        r.id,
		Query:     r.query,
		StartTime: r.session.StartedAt,
		EndTime:   now,
		Success:   false,
		Error:     message,
		Cost:      r.metrics.EstimatedCost,
		Rounds:    r.session.Round,
		Searches:  r.metrics.TotalQueries,
	})
	if o.recorder != nil {
		if err := o.recorder.RecordSession(ctx, r.session, r.metrics); err != nil {
			o.logger.Printf("failed to record session %s: %v", r.id, err)
		}
	}
}

func (o *Orchestrator) setStatus(r *sessionRun, st SessionStatus) {
	r.session.Status = st
	o.mu.Lock()
	o.active[r.id] = st
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, r *sessionRun, opts Options) error {
	ctx, span := o.tracer.Start(ctx, "research.session", trace.WithAttributes(
		attribute.String("session.id", r.id),
	))
	defer span.End()

	r.emit(EventResearchStart, ResearchStartData{Query: r.query})

	maxCost := opts.MaxCost
	if maxCost <= 0 {
		maxCost = o.cfg.Research.MaxCost
	}
	var monitor *budget.Monitor
	if maxCost > 0 {
		monitor = budget.NewMonitor(budget.Config{MaxCost: &maxCost})
	}

	// classification
	o.setStatus(r, StatusClassifying)
	r.startPhase()
	cl, err := o.classifier.Classify(ctx, r.query, ClassifyOptions{
		UseLLM:          o.cfg.Research.UseLLMClassification && !opts.DisableLLMClassification,
		ForceComplexity: opts.ForceComplexity,
	}, r.ledger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		return err
	}
	r.endPhase("classification", o.telemetry)
	r.session.Classification = cl
	span.SetAttributes(attribute.String("query.complexity", string(cl.Complexity)))

	fastPath := ShouldUseFastPath(cl)
	r.emit(EventClassify, ClassifyData{
		Complexity: cl.Complexity,
		Confidence: cl.Confidence,
		Reasoning:  cl.Reasoning,
		FastPath:   fastPath,
	})

	model := cl.SuggestedModel
	if fastPath {
		return o.runFastPath(ctx, r, model, monitor)
	}

	// planning
	o.setStatus(r, StatusPlanning)
	r.startPhase()
	plan, err := o.planner.CreateResearchPlan(ctx, r.query, r.id, cl.Complexity, r.ledger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
		return &PipelineError{Code: ErrCodePlanningFailed, Message: "planning failed", Err: err}
	}
	r.endPhase("planning", o.telemetry)
	r.session.Plan = plan
	r.emit(EventPlan, PlanData{
		SubQuestions:             plan.SubQuestions,
		EstimatedDurationSeconds: plan.EstimatedDurationSeconds,
	})

	// round 1 searches
	o.setStatus(r, StatusSearching)
	r.session.Round = 1
	r.startPhase()
	notes := o.executeRound1(ctx, r, plan, model, monitor)
	r.endPhase("searching", o.telemetry)
	if len(notes) == 0 {
		span.SetStatus(codes.Error, "all searches failed")
		return &PipelineError{Code: ErrCodeSearchFailed, Message: "all first-round searches failed"}
	}
	r.session.Notes = notes

	// round 1 synthesis + gap analysis
	o.setStatus(r, StatusSynthesizing)
	res, err := o.synthesize(ctx, r, 1, SynthesisInput{Query: r.query, Notes: notes})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return &PipelineError{Code: ErrCodeSynthesisFailed, Message: "synthesis failed", Err: err}
	}
	r.session.Gaps = res.Gaps
	r.metrics.GapsFound = len(res.Gaps)
	for _, g := range res.Gaps {
		r.emit(EventGapFound, GapFoundData{Gap: g})
	}

	final := res
	allNotes := notes

	// round 2: gaps worth chasing, rounds allowed, budget left
	if !opts.SkipRound2 && o.cfg.Research.MaxRounds >= 2 && ShouldProceedToRound2(res, o.cfg.Research.ConfidenceCutoff) {
		if res2, notes2, ok := o.executeRound2(ctx, r, res, allNotes, model, monitor); ok {
			final = res2
			allNotes = notes2
			for i := range r.session.Gaps {
				r.session.Gaps[i].Resolved = true
			}
			r.metrics.GapsResolved = len(r.session.Gaps)
			r.session.Gaps = append(r.session.Gaps, res2.Gaps...)
			r.metrics.GapsFound += len(res2.Gaps)
		}
	}
	r.session.Notes = allNotes

	o.finishCompleted(ctx, r, final.Answer, final.Citations)
	return nil
}

// executeRound1 drains the plan in dependency order. Sub-questions whose
// dependencies failed never become ready, so the loop terminates once no
// pending question can proceed.
func (o *Orchestrator) executeRound1(ctx context.Context, r *sessionRun, plan *ResearchPlan, model string, monitor *budget.Monitor) []ResearchNote {
	current := *plan
	completed := make(map[string]bool)
	var notes []ResearchNote

	for {
		batch := GetParallelBatch(current.SubQuestions, completed)
		if len(batch) == 0 {
			break
		}
		batch = o.truncateToBudget(batch, model, monitor)

		for _, sq := range batch {
			current = UpdateSubQuestionStatus(current, sq.ID, QuestionSearching)
		}

		res := o.executor.ExecuteParallelSearches(ctx, batch, r.id, model, o.streamCallbacks(r), "", r.ledger)
		if monitor != nil {
			_ = monitor.Add(o.pricing.EstimateBatchCost(len(batch), model))
		}
		r.searchWall += res.Duration
		r.searchSum += res.SearchTime
		r.metrics.TotalQueries += len(batch)

		notes = append(notes, res.Notes...)
		for _, n := range res.Notes {
			completed[n.SubQuestionID] = true
			current = UpdateSubQuestionStatus(current, n.SubQuestionID, QuestionCompleted)
		}
		for _, id := range res.FailedIDs {
			current = UpdateSubQuestionStatus(current, id, QuestionFailed)
		}

		if monitor != nil && monitor.Remaining() == 0 {
			o.logger.Printf("session %s: budget exhausted, stopping after %d searches", r.id, r.metrics.TotalQueries)
			break
		}
	}

	r.session.Plan = &current
	return notes
}

// executeRound2 runs follow-up searches for the round-1 gaps and, when any
// succeed, re-synthesizes. Round-2 failures are never fatal: ok=false means
// the caller keeps the round-1 result.
func (o *Orchestrator) executeRound2(ctx context.Context, r *sessionRun, round1 SynthesisResult, notes []ResearchNote, model string, monitor *budget.Monitor) (SynthesisResult, []ResearchNote, bool) {
	gaps := Round2Gaps(round1.Gaps)
	subs := make([]SubQuestion, 0, len(gaps))
	queries := Round2Queries(round1.Gaps)
	for i, g := range gaps {
		subs = append(subs, SubQuestion{
			ID:        fmt.Sprintf("r2q%d", i+1),
			Question:  queries[i],
			Reasoning: g.Description,
			Priority:  g.Priority,
			Status:    QuestionPending,
		})
	}
	subs = o.truncateToBudget(subs, model, monitor)
	if len(subs) == 0 {
		return SynthesisResult{}, nil, false
	}

	o.setStatus(r, StatusRound2Searching)
	r.session.Round = 2
	started := make([]string, 0, len(subs))
	for _, sq := range subs {
		started = append(started, sq.Question)
	}
	r.emit(EventRound2Start, Round2StartData{Queries: started})

	r.startPhase()
	res := o.executor.ExecuteParallelSearches(ctx, subs, r.id, model, o.streamCallbacks(r), round1.Answer, r.ledger)
	if monitor != nil {
		_ = monitor.Add(o.pricing.EstimateBatchCost(len(subs), model))
	}
	r.endPhase("round2_searching", o.telemetry)
	r.searchWall += res.Duration
	r.searchSum += res.SearchTime
	r.metrics.TotalQueries += len(subs)

	if len(res.Notes) == 0 {
		o.logger.Printf("session %s: all follow-up searches failed, keeping first-round answer", r.id)
		return SynthesisResult{}, nil, false
	}

	allNotes := append(append([]ResearchNote{}, notes...), res.Notes...)
	o.setStatus(r, StatusRound2Synthesizing)
	res2, err := o.synthesize(ctx, r, 2, SynthesisInput{
		Query:          r.query,
		Notes:          allNotes,
		PreviousAnswer: round1.Answer,
		Gaps:           gaps,
	})
	if err != nil {
		o.logger.Printf("session %s: follow-up synthesis failed, keeping first-round answer: %v", r.id, err)
		return SynthesisResult{}, nil, false
	}
	return res2, allNotes, true
}

func (o *Orchestrator) synthesize(ctx context.Context, r *sessionRun, round int, input SynthesisInput) (SynthesisResult, error) {
	r.emit(EventSynthesizeStart, SynthesizeStartData{Round: round, Notes: len(input.Notes)})
	phase := "synthesizing"
	if round > 1 {
		phase = "round2_synthesizing"
	}
	r.startPhase()
	res, err := o.synthesizer.Synthesize(ctx, r.id, round, input, SynthesisCallbacks{
		OnProgress: func(percent float64, partial string) {
			r.emit(EventSynthesizeProgress, SynthesizeProgressData{Round: round, Percent: percent, Partial: partial})
		},
	}, r.ledger)
	if err != nil {
		return SynthesisResult{}, err
	}
	r.endPhase(phase, o.telemetry)
	return res, nil
}

// runFastPath answers a simple query with a single search, skipping
// planning and synthesis entirely.
func (o *Orchestrator) runFastPath(ctx context.Context, r *sessionRun, model string, monitor *budget.Monitor) error {
	// The fast path collapses straight from classifying to a terminal
	// status; the searching phase belongs to planned rounds only.
	r.session.Round = 1

	sq := SubQuestion{ID: "q1", Question: r.query, Priority: PriorityHigh, Status: QuestionPending}
	r.startPhase()
	res := o.executor.ExecuteParallelSearches(ctx, []SubQuestion{sq}, r.id, model, o.streamCallbacks(r), "", r.ledger)
	if monitor != nil {
		_ = monitor.Add(o.pricing.EstimateBatchCost(1, model))
	}
	r.endPhase("searching", o.telemetry)
	r.searchWall += res.Duration
	r.searchSum += res.SearchTime
	r.metrics.TotalQueries = 1

	if len(res.Notes) == 0 {
		return &PipelineError{Code: ErrCodeSearchFailed, Message: "search failed"}
	}
	note := res.Notes[0]
	r.session.Notes = res.Notes

	o.finishCompleted(ctx, r, fastAnswer(note), note.Citations)
	return nil
}

// fastAnswer turns a single note into a cited answer by appending a
// numbered source list, so citation reconciliation applies uniformly.
func fastAnswer(note ResearchNote) string {
	var b strings.Builder
	b.WriteString(note.Content)
	if len(note.Citations) > 0 {
		b.WriteString("\n\nSources:\n")
		for i, c := range note.Citations {
			fmt.Fprintf(&b, "[%d] %s (%s)\n", i+1, c.Title, c.Domain)
		}
	}
	return b.String()
}

// finishCompleted reconciles citations (exactly once per session), emits the
// terminal event and persists the session.
func (o *Orchestrator) finishCompleted(ctx context.Context, r *sessionRun, answer string, citations []Citation) {
	finalAnswer, finalCitations := RenumberCitations(answer, citations)

	now := time.Now()
	r.session.Status = StatusCompleted
	r.session.FinalAnswer = finalAnswer
	r.session.Citations = finalCitations
	r.session.CompletedAt = &now

	r.metrics.TotalCitations = len(finalCitations)
	r.metrics.EstimatedCost = r.ledger.Total()
	r.metrics.ParallelEfficiency = parallelEfficiency(r.searchSum, r.searchWall, o.cfg.Research.MaxParallelSearches)

	r.emit(EventResearchComplete, ResearchCompleteData{
		Answer:     finalAnswer,
		Citations:  finalCitations,
		Metrics:    r.metrics,
		DurationMs: now.Sub(r.session.StartedAt).Milliseconds(),
	})

	o.telemetry.RecordSessionEvent(telemetry.SessionEvent{
		ID:        r.id,
		Query:     r.query,
		StartTime: r.session.StartedAt,
		EndTime:   now,
		Success:   true,
		Cost:      r.metrics.EstimatedCost,
		Rounds:    r.session.Round,
		Searches:  r.metrics.TotalQueries,
	})
	if o.recorder != nil {
		if err := o.recorder.RecordSession(ctx, r.session, r.metrics); err != nil {
			o.logger.Printf("failed to record session %s: %v", r.id, err)
		}
	}
}

// truncateToBudget cuts a batch to the largest affordable prefix, but never
// below one: a session that can start a batch always makes progress.
func (o *Orchestrator) truncateToBudget(batch []SubQuestion, model string, monitor *budget.Monitor) []SubQuestion {
	if monitor == nil || len(batch) == 0 {
		return batch
	}
	perQuery := o.pricing.QueryCost(model)
	if perQuery <= 0 {
		return batch
	}
	afford := int(monitor.Remaining() / perQuery)
	if afford < 1 {
		afford = 1
	}
	if afford >= len(batch) {
		return batch
	}
	return batch[:afford]
}

func (o *Orchestrator) streamCallbacks(r *sessionRun) SearchCallbacks {
	return SearchCallbacks{
		OnSearchStart: func(id, question string) {
			r.emit(EventSearchStart, SearchStartData{SubQuestionID: id, Question: question})
		},
		OnSearchProgress: func(id string, sources int) {
			r.emit(EventSearchProgress, SearchProgressData{SubQuestionID: id, SourcesFound: sources})
		},
		OnSearchComplete: func(id string, note ResearchNote) {
			r.emit(EventSearchComplete, SearchCompleteData{
				SubQuestionID: id,
				NoteID:        note.ID,
				Citations:     len(note.Citations),
				Confidence:    note.Confidence,
			})
		},
		OnSearchError: func(id string, err error) {
			// individual failures are tolerated; only a fully failed
			// first round surfaces on the stream
			o.logger.Printf("sub-question %s failed: %v", id, err)
		},
	}
}

// parallelEfficiency compares summed search time against the wall time an
// ideally packed schedule would allow.
func parallelEfficiency(sum, wall time.Duration, maxParallel int) float64 {
	if wall <= 0 || maxParallel < 1 {
		return 0
	}
	eff := sum.Seconds() / (wall.Seconds() * float64(maxParallel))
	if eff > 1 {
		eff = 1
	}
	return eff
}
