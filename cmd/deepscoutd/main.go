package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/research"
	srv "github.com/mohammad-safakhou/deepscout/internal/server"
	"github.com/mohammad-safakhou/deepscout/internal/telemetry"
	"github.com/mohammad-safakhou/deepscout/provider"
	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

func main() {
	var root = &cobra.Command{Use: "deepscoutd"}

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = os.Getenv("DEEPSCOUT_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to server.address)")

	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return srv.Migrate(migDir, os.Getenv("DATABASE_URL"), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var complexity string
	var skipRound2 bool
	var maxCost float64
	var rawEvents bool
	var ask = &cobra.Command{
		Use:   "ask [query]",
		Short: "Run one research query and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			tele := telemetry.NewTelemetry(cfg.Telemetry)
			defer tele.Shutdown()

			llm, err := provider.NewCompletionProvider(cfg.LLM)
			if err != nil {
				return err
			}
			apiKey := cfg.Search.SerperAPIKey
			if web_search.Provider(cfg.Search.Provider) == web_search.BraveProvider {
				apiKey = cfg.Search.BraveAPIKey
			}
			searcher, err := web_search.NewSearcher(web_search.Provider(cfg.Search.Provider), apiKey, cfg.Search.Timeout)
			if err != nil {
				return err
			}

			orch := research.NewOrchestrator(cfg, tele, llm, searcher, nil)

			opts := research.Options{SkipRound2: skipRound2, MaxCost: maxCost}
			switch complexity {
			case "":
			case string(research.ComplexitySimple), string(research.ComplexityModerate), string(research.ComplexityComplex):
				opts.ForceComplexity = research.Complexity(complexity)
			default:
				return fmt.Errorf("invalid --complexity %q", complexity)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			stream := &consoleStream{raw: rawEvents}
			orch.ExecuteResearch(ctx, query, stream, opts)
			if stream.failed {
				return fmt.Errorf("research failed: %s", stream.errMsg)
			}
			return nil
		},
	}
	ask.Flags().StringVar(&complexity, "complexity", "", "force complexity (simple|moderate|complex)")
	ask.Flags().BoolVar(&skipRound2, "skip-round2", false, "skip the gap repair round")
	ask.Flags().Float64Var(&maxCost, "max-cost", 0, "budget ceiling in USD (0 = config default)")
	ask.Flags().BoolVar(&rawEvents, "json", false, "print raw pipeline events as JSON lines")

	root.AddCommand(serve, migrate, ask)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// consoleStream renders pipeline events as terminal progress, or as JSON
// lines when raw output is requested.
type consoleStream struct {
	raw    bool
	failed bool
	errMsg string
}

func (s *consoleStream) Enqueue(ev research.Event) error {
	if s.raw {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		if ev.Type == research.EventError {
			s.markFailed(ev)
		}
		return nil
	}

	switch ev.Type {
	case research.EventClassify:
		if data, ok := ev.Data.(research.ClassifyData); ok {
			fmt.Printf("• classified as %s (confidence %.2f)\n", data.Complexity, data.Confidence)
		}
	case research.EventPlan:
		if data, ok := ev.Data.(research.PlanData); ok {
			fmt.Printf("• plan: %d sub-questions\n", len(data.SubQuestions))
		}
	case research.EventSearchStart:
		if data, ok := ev.Data.(research.SearchStartData); ok {
			fmt.Printf("  ↳ searching: %s\n", data.Question)
		}
	case research.EventGapFound:
		if data, ok := ev.Data.(research.GapFoundData); ok {
			fmt.Printf("• gap: %s\n", data.Gap.Description)
		}
	case research.EventRound2Start:
		if data, ok := ev.Data.(research.Round2StartData); ok {
			fmt.Printf("• follow-up round: %d queries\n", len(data.Queries))
		}
	case research.EventResearchComplete:
		if data, ok := ev.Data.(research.ResearchCompleteData); ok {
			fmt.Printf("\n%s\n\n", data.Answer)
			for _, c := range data.Citations {
				fmt.Printf("[%s] %s — %s\n", c.ID, c.Title, c.URL)
			}
			fmt.Printf("\ncost: $%.4f, queries: %d, duration: %dms\n",
				data.Metrics.EstimatedCost, data.Metrics.TotalQueries, data.DurationMs)
		}
	case research.EventError:
		s.markFailed(ev)
	}
	return nil
}

func (s *consoleStream) markFailed(ev research.Event) {
	s.failed = true
	if data, ok := ev.Data.(research.ErrorData); ok {
		s.errMsg = fmt.Sprintf("%s (%s)", data.Message, data.Code)
	}
}

func (s *consoleStream) Close() {}
