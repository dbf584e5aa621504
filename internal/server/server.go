package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/research"
	"github.com/mohammad-safakhou/deepscout/internal/runtime"
	"github.com/mohammad-safakhou/deepscout/internal/store"
	"github.com/mohammad-safakhou/deepscout/internal/telemetry"
	"github.com/mohammad-safakhou/deepscout/provider"
	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

// Run wires the full service and blocks serving HTTP.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}

	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	ctx := context.Background()

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	cache, err := store.NewCache(ctx, cfg.Storage.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(tele.Registry(), promhttp.HandlerOpts{})))

	llm, err := provider.NewCompletionProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	apiKey := cfg.Search.SerperAPIKey
	if web_search.Provider(cfg.Search.Provider) == web_search.BraveProvider {
		apiKey = cfg.Search.BraveAPIKey
	}
	searcher, err := web_search.NewSearcher(web_search.Provider(cfg.Search.Provider), apiKey, cfg.Search.Timeout)
	if err != nil {
		return fmt.Errorf("search provider: %w", err)
	}

	orch := research.NewOrchestrator(cfg, tele, llm, searcher, st)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	rh := &ResearchHandler{
		Store:             st,
		Cache:             cache,
		Orch:              orch,
		MaxProcessingTime: cfg.General.MaxProcessingTime,
		Logger:            baseLogger,
	}
	rh.Register(api.Group("/research"), secret)

	qh := &QueriesHandler{Store: st, Cache: cache}
	qh.Register(api.Group("/queries"), secret)

	sched := &Scheduler{Store: st, Cache: cache, Orch: orch, Stop: make(chan struct{})}
	sched.Start()

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
