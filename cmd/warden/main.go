package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/truesignal/warden/pkg/config"
	"github.com/truesignal/warden/pkg/proctor"
	"github.com/truesignal/warden/pkg/scoring"
	"github.com/truesignal/warden/pkg/store"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := ""
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runServer(port)
	case "score":
		if len(os.Args) < 3 {
			fmt.Println("Usage: warden score <session_id>")
			os.Exit(1)
		}
		runScoreLookup(os.Args[2])
	case "version":
		fmt.Printf("Warden v%s\n", Version)
		fmt.Println("Interview Risk & Originality Scoring Engine")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Warden v%s - Interview Risk & Originality Scoring Engine\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  warden serve [port]       Start the scoring server (default: 8080)")
	fmt.Println("  warden score <session>    Print the stored score for a session")
	fmt.Println("  warden version            Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  SCIBOX_API_KEY          Oracle credential (offline heuristics without it)")
	fmt.Println("  WARDEN_ORACLE_BASE_URL  Oracle endpoint (OpenAI-compatible)")
	fmt.Println("  WARDEN_POSTGRES_DSN     Postgres store (falls back to DATABASE_URL)")
	fmt.Println("  WARDEN_REDIS_ADDR       Redis store")
	fmt.Println("  WARDEN_RULES_FILE       YAML overrides for the event rule table")
}

func buildEngine(cfg *config.Config) (*proctor.Engine, store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s store: %w", cfg.Backend, err)
	}
	switch cfg.Backend {
	case config.StoreMemory:
		log.Println("○ Durable store disabled (in-memory scores and records)")
	default:
		log.Printf("✓ %s store connected", cfg.Backend)
	}

	notify := func(sessionID string, finalScore int, flagged []string) {
		log.Printf("[SCORE] session %s -> %d (%s), flagged=%v",
			sessionID, finalScore, scoring.RiskLevelFor(finalScore), flagged)
	}

	engine, err := proctor.New(cfg, st, st, notify)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	switch {
	case cfg.OfflineMode():
		log.Println("○ Oracle disabled (no credential - deterministic offline heuristics)")
	case engine.PingOracle(ctx) != nil:
		log.Printf("○ Oracle unreachable (%s) - degraded heuristics until it recovers", cfg.OracleBaseURL)
	default:
		log.Printf("✓ Oracle reachable (%s)", cfg.OracleBaseURL)
	}
	return engine, st, nil
}

func runServer(port string) {
	cfg := config.NewDefaultConfig()
	if port != "" {
		cfg.ListenPort = port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	engine, st, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer st.Close()

	app := fiber.New(fiber.Config{
		AppName: "Warden",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Post("/api/proctoring/events", func(c fiber.Ctx) error {
		var req struct {
			SessionID string `json:"sessionId"`
			Events    []struct {
				Type      string         `json:"type"`
				Timestamp int64          `json:"timestamp"`
				Metadata  map[string]any `json:"metadata"`
			} `json:"events"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.SessionID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "sessionId is required"})
		}

		events := make([]scoring.Event, 0, len(req.Events))
		now := time.Now().UnixMilli()
		for _, ev := range req.Events {
			ts := ev.Timestamp
			if ts == 0 {
				ts = now
			}
			events = append(events, scoring.Event{
				SessionID: req.SessionID,
				Type:      scoring.EventType(ev.Type),
				Timestamp: ts,
				Metadata:  ev.Metadata,
			})
		}

		result, err := engine.IngestEvents(c.Context(), req.SessionID, events)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{
			"status":             "ok",
			"events_received":    len(events),
			"current_risk_score": result.RuleScore,
			"flagged_events":     result.FlaggedEvents,
			"deep_analysis":      result.DeepScheduled,
		})
	})

	app.Post("/api/proctoring/code-snapshot", func(c fiber.Ctx) error {
		var req struct {
			SessionID string `json:"sessionId"`
			TaskID    string `json:"taskId"`
			Code      string `json:"code"`
			Language  string `json:"language"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.SessionID == "" || req.Code == "" {
			return c.Status(400).JSON(fiber.Map{"error": "sessionId and code are required"})
		}
		if req.Language == "" {
			req.Language = "python"
		}

		verdict, err := engine.SubmitCode(c.Context(), req.SessionID, req.TaskID, req.Code, req.Language)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(verdict)
	})

	app.Get("/api/proctoring/score/:session_id", func(c fiber.Ctx) error {
		report, err := engine.SessionScore(c.Context(), c.Params("session_id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		status := "monitoring"
		if report.UpdatedAt.IsZero() {
			status = "no_data"
		}
		return c.JSON(fiber.Map{
			"session_id":             report.SessionID,
			"rule_based_score":       report.RuleScore,
			"llm_risk_score":         report.LLMRiskScore,
			"code_originality_score": report.OriginalityScore,
			"final_score":            report.FinalScore,
			"risk_level":             report.RiskLevel,
			"flagged_events":         report.FlaggedEventTypes,
			"llm_recommendation":     report.LLMRecommendation,
			"llm_reasoning":          report.LLMReasoning,
			"status":                 status,
		})
	})

	log.Printf("Warden v%s listening on :%s", Version, cfg.ListenPort)
	if err := app.Listen(":" + cfg.ListenPort); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// runScoreLookup prints the stored score for one session and exits. Useful
// for checking a live deployment's state from the shell.
func runScoreLookup(sessionID string) {
	cfg := config.NewDefaultConfig()

	engine, st, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer st.Close()

	report, err := engine.SessionScore(context.Background(), sessionID)
	if err != nil {
		log.Fatalf("score lookup failed: %v", err)
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}
