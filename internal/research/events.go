package research

import "time"

// EventType tags every progress event emitted during a session.
type EventType string

const (
	EventResearchStart      EventType = "research_start"
	EventClassify           EventType = "classify"
	EventPlan               EventType = "plan"
	EventSearchStart        EventType = "search_start"
	EventSearchProgress     EventType = "search_progress"
	EventSearchComplete     EventType = "search_complete"
	EventSynthesizeStart    EventType = "synthesize_start"
	EventSynthesizeProgress EventType = "synthesize_progress"
	EventGapFound           EventType = "gap_found"
	EventRound2Start        EventType = "round2_start"
	EventResearchComplete   EventType = "research_complete"
	EventError              EventType = "error"
)

// Event is the envelope pushed to a session's stream controller.
// Data is always one of the payload structs below, matching Type.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, sessionID string, data interface{}) Event {
	return Event{
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// ResearchStartData announces the session.
type ResearchStartData struct {
	Query string `json:"query"`
}

// ClassifyData reports the complexity judgment.
type ClassifyData struct {
	Complexity Complexity `json:"complexity"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
	FastPath   bool       `json:"fast_path"`
}

// PlanData reports the decomposition.
type PlanData struct {
	SubQuestions             []SubQuestion `json:"sub_questions"`
	EstimatedDurationSeconds int           `json:"estimated_duration_seconds"`
}

// SearchStartData marks the start of one sub-question search.
type SearchStartData struct {
	SubQuestionID string `json:"sub_question_id"`
	Question      string `json:"question"`
}

// SearchProgressData reports sources found so far for one sub-question.
type SearchProgressData struct {
	SubQuestionID string `json:"sub_question_id"`
	SourcesFound  int    `json:"sources_found"`
}

// SearchCompleteData marks one sub-question finished.
type SearchCompleteData struct {
	SubQuestionID string  `json:"sub_question_id"`
	NoteID        string  `json:"note_id"`
	Citations     int     `json:"citations"`
	Confidence    float64 `json:"confidence"`
}

// SynthesizeStartData marks the start of a synthesis round.
type SynthesizeStartData struct {
	Round int `json:"round"`
	Notes int `json:"notes"`
}

// SynthesizeProgressData streams partial synthesis output.
// Percent is non-decreasing within a round.
type SynthesizeProgressData struct {
	Round   int     `json:"round"`
	Percent float64 `json:"percent"`
	Partial string  `json:"partial,omitempty"`
}

// GapFoundData reports one coverage gap from synthesis.
type GapFoundData struct {
	Gap ResearchGap `json:"gap"`
}

// Round2StartData announces follow-up searches.
type Round2StartData struct {
	Queries []string `json:"queries"`
}

// ResearchCompleteData is the single success-terminal payload.
type ResearchCompleteData struct {
	Answer     string         `json:"answer"`
	Citations  []Citation     `json:"citations"`
	Metrics    SessionMetrics `json:"metrics"`
	DurationMs int64          `json:"duration_ms"`
}

// ErrorData is the single failure-terminal payload.
type ErrorData struct {
	Message     string `json:"message"`
	Code        string `json:"code"`
	Recoverable bool   `json:"recoverable"`
}

// StreamController receives a session's events in emission order.
// Enqueue must be safe for the orchestrator's single emitting goroutine;
// Close is called exactly once, after the terminal event.
type StreamController interface {
	Enqueue(ev Event) error
	Close()
}
