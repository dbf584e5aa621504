package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepscout/internal/research"
	"github.com/mohammad-safakhou/deepscout/internal/runtime"
	"github.com/mohammad-safakhou/deepscout/internal/store"
)

// ResearchHandler exposes the research pipeline over HTTP. The main endpoint
// streams pipeline events as SSE until the terminal event.
type ResearchHandler struct {
	Store             *store.Store
	Cache             *store.Cache
	Orch              *research.Orchestrator
	MaxProcessingTime time.Duration
	Logger            *log.Logger
}

func (h *ResearchHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.stream)
	g.GET("/sessions", h.listSessions)
	g.GET("/sessions/:id", h.getSession)
	g.GET("/sessions/:id/status", h.getStatus)
}

// sseStream adapts an HTTP response to the pipeline's stream contract.
// Events arrive from concurrent search goroutines, so writes are serialized.
type sseStream struct {
	mu        sync.Mutex
	resp      *echo.Response
	sessionID string
}

func (s *sseStream) Enqueue(ev research.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		s.sessionID = ev.SessionID
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.resp, "event: %s\ndata: %s\n\n", ev.Type, b); err != nil {
		return err
	}
	s.resp.Flush()
	return nil
}

func (s *sseStream) Close() {}

func (h *ResearchHandler) stream(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	opts := research.Options{
		SkipRound2: req.SkipRound2,
		MaxCost:    req.MaxCost,
	}
	switch req.ForceComplexity {
	case "":
	case string(research.ComplexitySimple), string(research.ComplexityModerate), string(research.ComplexityComplex):
		opts.ForceComplexity = research.Complexity(req.ForceComplexity)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid force_complexity")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	if h.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.MaxProcessingTime)
		defer cancel()
	}

	s := &sseStream{resp: resp}
	h.Orch.ExecuteResearch(ctx, req.Query, s, opts)

	if uid, ok := c.Get("user_id").(string); ok && s.sessionID != "" {
		// client context may be gone once the stream ends
		if err := h.Store.AttachSessionUser(context.Background(), s.sessionID, uid); err != nil {
			h.Logger.Printf("attach session %s to user: %v", s.sessionID, err)
		}
	}
	return nil
}

func (h *ResearchHandler) listSessions(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)
	sessions, err := h.Store.ListSessions(c.Request().Context(), uid, 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sessions == nil {
		sessions = []store.SessionSummary{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (h *ResearchHandler) getSession(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)
	sess, err := h.Store.GetSession(c.Request().Context(), c.Param("id"), uid)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *ResearchHandler) getStatus(c echo.Context) error {
	id := c.Param("id")
	if st, ok := h.Orch.GetStatus(id); ok {
		return c.JSON(http.StatusOK, map[string]string{"id": id, "status": string(st)})
	}
	uid, _ := c.Get("user_id").(string)
	sess, err := h.Store.GetSession(c.Request().Context(), id, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": string(sess.Status)})
}

// QueriesHandler manages saved queries and their scheduled runs.
type QueriesHandler struct {
	Store *store.Store
	Cache *store.Cache
}

func (h *QueriesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/runs", h.runs)
	g.GET("/:id/latest", h.latest)
}

func (h *QueriesHandler) create(c echo.Context) error {
	var req SavedQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.Name == "" {
		req.Name = req.Query
	}
	uid, _ := c.Get("user_id").(string)
	id, err := h.Store.CreateSavedQuery(c.Request().Context(), uid, req.Name, req.Query, req.ScheduleCron)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *QueriesHandler) list(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)
	queries, err := h.Store.ListSavedQueries(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if queries == nil {
		queries = []store.SavedQuery{}
	}
	return c.JSON(http.StatusOK, queries)
}

func (h *QueriesHandler) delete(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)
	err := h.Store.DeleteSavedQuery(c.Request().Context(), c.Param("id"), uid)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "saved query not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *QueriesHandler) runs(c echo.Context) error {
	runs, err := h.Store.ListRuns(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *QueriesHandler) latest(c echo.Context) error {
	sess, ok, err := h.Cache.GetLatestResult(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no result yet")
	}
	return c.JSON(http.StatusOK, sess)
}
