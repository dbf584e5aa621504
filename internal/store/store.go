package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/research"
)

// Store is the Postgres persistence layer.
type Store struct {
	DB *sql.DB
}

func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// RecordSession persists a finished session and its metrics. It satisfies
// research.SessionRecorder; sessions start unowned and are attached to a
// user by the HTTP layer once the run finishes.
func (s *Store) RecordSession(ctx context.Context, session research.Session, metrics research.SessionMetrics) error {
	planB, err := json.Marshal(session.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	notesB, err := json.Marshal(session.Notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	gapsB, err := json.Marshal(session.Gaps)
	if err != nil {
		return fmt.Errorf("marshal gaps: %w", err)
	}
	citB, err := json.Marshal(session.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	clB, err := json.Marshal(session.Classification)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO research_sessions (id, query, status, classification, round, plan, notes, gaps, final_answer, citations, error, started_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),$12,$13)
ON CONFLICT (id) DO UPDATE SET
  status       = EXCLUDED.status,
  final_answer = EXCLUDED.final_answer,
  citations    = EXCLUDED.citations,
  error        = EXCLUDED.error,
  completed_at = EXCLUDED.completed_at
`, session.ID, session.Query, string(session.Status), clB, session.Round, planB, notesB, gapsB,
		session.FinalAnswer, citB, session.Error, session.StartedAt, session.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	phasesB, err := json.Marshal(metrics.PhaseDurationsMs)
	if err != nil {
		return fmt.Errorf("marshal phase durations: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO session_metrics (session_id, phase_durations_ms, total_queries, total_citations, gaps_found, gaps_resolved, parallel_efficiency, estimated_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (session_id) DO UPDATE SET
  phase_durations_ms  = EXCLUDED.phase_durations_ms,
  total_queries       = EXCLUDED.total_queries,
  total_citations     = EXCLUDED.total_citations,
  gaps_found          = EXCLUDED.gaps_found,
  gaps_resolved       = EXCLUDED.gaps_resolved,
  parallel_efficiency = EXCLUDED.parallel_efficiency,
  estimated_cost      = EXCLUDED.estimated_cost
`, metrics.SessionID, phasesB, metrics.TotalQueries, metrics.TotalCitations,
		metrics.GapsFound, metrics.GapsResolved, metrics.ParallelEfficiency, metrics.EstimatedCost)
	if err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}

	return tx.Commit()
}

// AttachSessionUser associates a recorded session with the user who ran it.
func (s *Store) AttachSessionUser(ctx context.Context, sessionID, userID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE research_sessions SET user_id=$2 WHERE id=$1`, sessionID, userID)
	return err
}

// GetSession loads a session by id. The userID filter is skipped when empty.
func (s *Store) GetSession(ctx context.Context, id, userID string) (research.Session, error) {
	query := `SELECT id, query, status, classification, round, plan, notes, gaps, final_answer, COALESCE(error,''), citations, started_at, completed_at FROM research_sessions WHERE id=$1`
	args := []interface{}{id}
	if userID != "" {
		query += ` AND user_id=$2`
		args = append(args, userID)
	}

	var (
		sess                          research.Session
		status                        string
		clB, planB, notesB, gapsB, cB []byte
	)
	err := s.DB.QueryRowContext(ctx, query, args...).Scan(
		&sess.ID, &sess.Query, &status, &clB, &sess.Round, &planB, &notesB, &gapsB,
		&sess.FinalAnswer, &sess.Error, &cB, &sess.StartedAt, &sess.CompletedAt)
	if err != nil {
		return research.Session{}, err
	}
	sess.Status = research.SessionStatus(status)
	if len(clB) > 0 {
		_ = json.Unmarshal(clB, &sess.Classification)
	}
	if len(planB) > 0 {
		_ = json.Unmarshal(planB, &sess.Plan)
	}
	if len(notesB) > 0 {
		_ = json.Unmarshal(notesB, &sess.Notes)
	}
	if len(gapsB) > 0 {
		_ = json.Unmarshal(gapsB, &sess.Gaps)
	}
	if len(cB) > 0 {
		_ = json.Unmarshal(cB, &sess.Citations)
	}
	return sess, nil
}

// SessionSummary is the listing row for a user's research history.
type SessionSummary struct {
	ID          string     `json:"id"`
	Query       string     `json:"query"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, query, status, started_at, completed_at FROM research_sessions WHERE user_id=$1 ORDER BY started_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionSummary
	for rows.Next() {
		var r SessionSummary
		if err := rows.Scan(&r.ID, &r.Query, &r.Status, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SavedQuery is a stored research query, optionally on a cron schedule.
type SavedQuery struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Query        string    `json:"query"`
	ScheduleCron string    `json:"schedule_cron,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Store) CreateSavedQuery(ctx context.Context, userID, name, query, cron string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO saved_queries (user_id, name, query, schedule_cron) VALUES ($1,$2,$3,$4) RETURNING id`, userID, name, query, cron).Scan(&id)
	return id, err
}

func (s *Store) ListSavedQueries(ctx context.Context, userID string) ([]SavedQuery, error) {
	return s.querySavedQueries(ctx, `SELECT id, user_id, name, query, COALESCE(schedule_cron,''), created_at FROM saved_queries WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

// ListAllSavedQueries returns every saved query; the scheduler scans these.
func (s *Store) ListAllSavedQueries(ctx context.Context) ([]SavedQuery, error) {
	return s.querySavedQueries(ctx, `SELECT id, user_id, name, query, COALESCE(schedule_cron,''), created_at FROM saved_queries WHERE schedule_cron IS NOT NULL AND schedule_cron <> ''`)
}

func (s *Store) querySavedQueries(ctx context.Context, q string, args ...interface{}) ([]SavedQuery, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SavedQuery
	for rows.Next() {
		var sq SavedQuery
		if err := rows.Scan(&sq.ID, &sq.UserID, &sq.Name, &sq.Query, &sq.ScheduleCron, &sq.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSavedQuery(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM saved_queries WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Run is one scheduled execution of a saved query.
type Run struct {
	ID         string     `json:"id"`
	SessionID  *string    `json:"session_id,omitempty"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

func (s *Store) CreateRun(ctx context.Context, savedQueryID, status string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO runs (saved_query_id, status) VALUES ($1,$2) RETURNING id`, savedQueryID, status).Scan(&id)
	return id, err
}

func (s *Store) FinishRun(ctx context.Context, runID, status string, sessionID, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$1, session_id=$2, error=$3, finished_at=NOW() WHERE id=$4`, status, sessionID, errMsg, runID)
	return err
}

func (s *Store) ListRuns(ctx context.Context, savedQueryID string) ([]Run, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, session_id, status, started_at, finished_at, error FROM runs WHERE saved_query_id=$1 ORDER BY started_at DESC`, savedQueryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Status, &r.StartedAt, &r.FinishedAt, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LatestRunTime(ctx context.Context, savedQueryID string) (*time.Time, error) {
	var ts *time.Time
	err := s.DB.QueryRowContext(ctx, `SELECT MAX(COALESCE(finished_at, started_at)) FROM runs WHERE saved_query_id=$1`, savedQueryID).Scan(&ts)
	return ts, err
}
