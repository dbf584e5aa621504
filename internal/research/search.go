package research

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/telemetry"
	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

// SearchCallbacks observe per-question lifecycle during a batch. For any one
// sub-question the order is start, then progress, then complete or error.
// Callbacks for different sub-questions may fire concurrently.
type SearchCallbacks struct {
	OnSearchStart    func(subQuestionID, question string)
	OnSearchProgress func(subQuestionID string, sourcesFound int)
	OnSearchComplete func(subQuestionID string, note ResearchNote)
	OnSearchError    func(subQuestionID string, err error)
}

// SearchBatchResult is the outcome of one parallel batch.
type SearchBatchResult struct {
	Notes      []ResearchNote
	FailedIDs  []string
	Duration   time.Duration // wall time for the whole batch
	SearchTime time.Duration // summed per-question durations
}

// SearchExecutor runs sub-question searches with bounded parallelism.
// Individual failures are tolerated; the caller decides what a batch
// with failures means.
type SearchExecutor struct {
	cfg       *config.Config
	search    web_search.Searcher
	telemetry *telemetry.Telemetry
	pricing   Pricing
	logger    *log.Logger
}

func NewSearchExecutor(cfg *config.Config, searcher web_search.Searcher, tele *telemetry.Telemetry) *SearchExecutor {
	return &SearchExecutor{
		cfg:       cfg,
		search:    searcher,
		telemetry: tele,
		pricing:   NewPricing(cfg.Search),
		logger:    log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

// ExecuteParallelSearches fans the batch out over at most
// research.max_parallel_searches workers. previousAnswer, when non-empty,
// sharpens follow-up queries with what earlier rounds already found.
func (e *SearchExecutor) ExecuteParallelSearches(ctx context.Context, subs []SubQuestion, sessionID, model string, cb SearchCallbacks, previousAnswer string, ledger *CostLedger) SearchBatchResult {
	tracer := otel.Tracer("deepscout/research")
	ctx, span := tracer.Start(ctx, "search.batch")
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("batch.size", len(subs)),
	)
	defer span.End()

	maxParallel := e.cfg.Research.MaxParallelSearches
	if maxParallel < 1 {
		maxParallel = 1
	}
	sem := make(chan struct{}, maxParallel)

	var (
		mu         sync.Mutex
		notes      []ResearchNote
		failed     []string
		searchTime time.Duration
		wg         sync.WaitGroup
	)

	start := time.Now()
	for _, sq := range subs {
		wg.Add(1)
		go func(sq SubQuestion) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			qStart := time.Now()
			if cb.OnSearchStart != nil {
				cb.OnSearchStart(sq.ID, sq.Question)
			}

			ledger.Add(e.pricing.QueryCost(model))
			answer, err := e.search.Search(ctx, sq.Question, model, web_search.Options{
				MaxResults: e.cfg.Search.MaxResults,
				Context:    previousAnswer,
			})
			elapsed := time.Since(qStart)

			if err != nil {
				e.logger.Printf("search failed for %s: %v", sq.ID, err)
				e.telemetry.RecordSearch("failure")
				mu.Lock()
				failed = append(failed, sq.ID)
				searchTime += elapsed
				mu.Unlock()
				if cb.OnSearchError != nil {
					cb.OnSearchError(sq.ID, err)
				}
				return
			}

			if cb.OnSearchProgress != nil {
				cb.OnSearchProgress(sq.ID, len(answer.Sources))
			}

			note := e.buildNote(sq, answer)
			e.telemetry.RecordSearch("success")
			mu.Lock()
			notes = append(notes, note)
			searchTime += elapsed
			mu.Unlock()
			if cb.OnSearchComplete != nil {
				cb.OnSearchComplete(sq.ID, note)
			}
		}(sq)
	}
	wg.Wait()

	duration := time.Since(start)
	if len(notes) == 0 && len(subs) > 0 {
		span.SetStatus(codes.Error, "all searches failed")
	}
	return SearchBatchResult{
		Notes:      notes,
		FailedIDs:  failed,
		Duration:   duration,
		SearchTime: searchTime,
	}
}

func (e *SearchExecutor) buildNote(sq SubQuestion, answer web_search.Answer) ResearchNote {
	citations := make([]Citation, 0, len(answer.Sources))
	for _, src := range answer.Sources {
		citations = append(citations, Citation{
			ID:        uuid.New().String(),
			URL:       src.URL,
			Title:     src.Title,
			Domain:    Domain(src.URL),
			Snippet:   src.Snippet,
			Relevance: src.Relevance,
		})
	}

	// more corroborating sources, more confidence
	confidence := 0.3 + 0.1*float64(len(citations))
	if confidence > 0.9 {
		confidence = 0.9
	}
	if answer.Content == "" {
		confidence = 0.2
	}

	return ResearchNote{
		ID:            uuid.New().String(),
		SubQuestionID: sq.ID,
		Content:       answer.Content,
		Citations:     citations,
		Confidence:    confidence,
		CreatedAt:     time.Now(),
	}
}
