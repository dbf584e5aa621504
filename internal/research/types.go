package research

import "time"

// Complexity grades a query by how much research it needs.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// SessionStatus tracks a session through the pipeline.
type SessionStatus string

const (
	StatusInitializing       SessionStatus = "initializing"
	StatusClassifying        SessionStatus = "classifying"
	StatusPlanning           SessionStatus = "planning"
	StatusSearching          SessionStatus = "searching"
	StatusSynthesizing       SessionStatus = "synthesizing"
	StatusRound2Searching    SessionStatus = "round2_searching"
	StatusRound2Synthesizing SessionStatus = "round2_synthesizing"
	StatusCompleted          SessionStatus = "completed"
	StatusFailed             SessionStatus = "failed"
)

// Priority ranks sub-questions and gaps.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// QuestionStatus tracks one sub-question through execution.
type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "pending"
	QuestionSearching QuestionStatus = "searching"
	QuestionCompleted QuestionStatus = "completed"
	QuestionFailed    QuestionStatus = "failed"
)

// Classification is the complexity judgment for a query.
type Classification struct {
	Complexity           Complexity `json:"complexity"`
	Confidence           float64    `json:"confidence"`
	Reasoning            string     `json:"reasoning"`
	EstimatedTimeSeconds int        `json:"estimated_time_seconds"`
	SuggestedModel       string     `json:"suggested_model"`
}

// SubQuestion is one unit of research work in a plan.
type SubQuestion struct {
	ID        string         `json:"id"`
	Question  string         `json:"question"`
	Reasoning string         `json:"reasoning,omitempty"`
	Priority  Priority       `json:"priority"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Status    QuestionStatus `json:"status"`
}

// ResearchPlan is the decomposition of a query into sub-questions.
type ResearchPlan struct {
	SessionID                string        `json:"session_id"`
	Query                    string        `json:"query"`
	SubQuestions             []SubQuestion `json:"sub_questions"`
	EstimatedDurationSeconds int           `json:"estimated_duration_seconds"`
}

// Citation is one source backing a finding.
type Citation struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Domain    string  `json:"domain"`
	Snippet   string  `json:"snippet,omitempty"`
	Relevance float64 `json:"relevance,omitempty"`
}

// ResearchNote is the finding for one sub-question.
type ResearchNote struct {
	ID            string     `json:"id"`
	SubQuestionID string     `json:"sub_question_id"`
	Content       string     `json:"content"`
	Citations     []Citation `json:"citations"`
	Confidence    float64    `json:"confidence"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ResearchGap is a hole in coverage identified during synthesis.
type ResearchGap struct {
	ID             string   `json:"id"`
	SessionID      string   `json:"session_id"`
	Round          int      `json:"round"`
	Description    string   `json:"description"`
	SuggestedQuery string   `json:"suggested_query"`
	Priority       Priority `json:"priority"`
	Resolved       bool     `json:"resolved"`
}

// Session is the full state of one research run.
type Session struct {
	ID             string         `json:"id"`
	Query          string         `json:"query"`
	Status         SessionStatus  `json:"status"`
	Classification Classification `json:"classification,omitempty"`
	Round          int            `json:"round"`
	Plan           *ResearchPlan  `json:"plan,omitempty"`
	Notes          []ResearchNote `json:"notes,omitempty"`
	Gaps           []ResearchGap  `json:"gaps,omitempty"`
	FinalAnswer    string         `json:"final_answer,omitempty"`
	Citations      []Citation     `json:"citations,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// SessionMetrics summarizes what one session cost and how well it parallelized.
type SessionMetrics struct {
	SessionID          string           `json:"session_id"`
	PhaseDurationsMs   map[string]int64 `json:"phase_durations_ms"`
	TotalQueries       int              `json:"total_queries"`
	TotalCitations     int              `json:"total_citations"`
	GapsFound          int              `json:"gaps_found"`
	GapsResolved       int              `json:"gaps_resolved"`
	ParallelEfficiency float64          `json:"parallel_efficiency"`
	EstimatedCost      float64          `json:"estimated_cost"`
}
