// Package proctor assembles the scoring pipeline behind the transport layer:
// rule engine, pattern detector, score combiner, originality analyzer, and
// the deep-analysis dispatcher.
package proctor

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/truesignal/warden/pkg/config"
	"github.com/truesignal/warden/pkg/dispatch"
	"github.com/truesignal/warden/pkg/originality"
	"github.com/truesignal/warden/pkg/oracle"
	"github.com/truesignal/warden/pkg/scoring"
)

// IngestResult is what event ingestion returns synchronously: the cheap
// rule/pattern pass only. Deep analysis, when triggered, lands later.
type IngestResult struct {
	RuleScore     int               `json:"rule_score"`
	FlaggedEvents []string          `json:"flagged_events"`
	Patterns      []scoring.Pattern `json:"patterns,omitempty"`
	DeepScheduled bool              `json:"deep_analysis_scheduled"`
}

// SessionReport is the session score plus its risk classification.
type SessionReport struct {
	scoring.SessionScore
	RiskLevel scoring.RiskLevel `json:"risk_level"`
}

// Engine is the core scoring engine. One instance serves all sessions.
type Engine struct {
	rules      scoring.RuleTable
	window     *scoring.WindowStore
	keeper     *scoring.Scorekeeper
	analyzer   *originality.Analyzer
	dispatcher *dispatch.Dispatcher
	oracle     *oracle.Client
}

// New builds the engine from configuration and a score store.
func New(cfg *config.Config, store scoring.ScoreStore, recordStore originality.RecordStore, notify scoring.NotifyFunc) (*Engine, error) {
	rules, err := scoring.LoadRules(cfg.RuleOverridePath)
	if err != nil {
		return nil, err
	}

	client := oracle.NewClient(cfg)
	keeper := scoring.NewScorekeeper(store, scoring.CombinePolicy{
		RuleWeight:   cfg.RuleWeight,
		OracleWeight: cfg.OracleWeight,
	}, notify)
	corpus := originality.NewCorpus(cfg.CorpusCapacity, recordStore)

	return &Engine{
		rules:      rules,
		window:     scoring.NewWindowStore(time.Duration(cfg.WindowMinutes) * time.Minute),
		keeper:     keeper,
		analyzer:   originality.NewAnalyzer(cfg, client, corpus),
		dispatcher: dispatch.NewDispatcher(cfg, client, keeper),
		oracle:     client,
	}, nil
}

// PingOracle reports whether the judgment service is reachable. Always nil
// in offline mode.
func (e *Engine) PingOracle(ctx context.Context) error {
	return e.oracle.Ping(ctx)
}

// IngestEvents runs the synchronous rule/pattern pass over a batch of events
// and schedules deep analysis when thresholds are crossed. Returns as soon as
// the cheap pass completes.
func (e *Engine) IngestEvents(ctx context.Context, sessionID string, events []scoring.Event) (*IngestResult, error) {
	window := e.window.Append(sessionID, events)

	result := e.rules.Analyze(window)
	patterns := scoring.DetectPatterns(window)
	ruleScore := int(math.Round(result.Score + scoring.PatternBonus(patterns)))
	if ruleScore > 100 {
		ruleScore = 100
	}
	flagged := scoring.FlaggedTypes(e.rules, window, patterns)

	score, err := e.keeper.Update(ctx, sessionID, ruleScore, flagged)
	if err != nil {
		return nil, err
	}

	scheduled := e.dispatcher.MaybeDispatch(sessionID, window, ruleScore)
	if scheduled {
		log.Printf("[ENGINE] session %s: deep analysis scheduled (rule=%d, events=%d)",
			sessionID, ruleScore, len(window))
	}

	return &IngestResult{
		RuleScore:     score.RuleScore,
		FlaggedEvents: score.FlaggedEventTypes,
		Patterns:      patterns,
		DeepScheduled: scheduled,
	}, nil
}

// SubmitCode analyzes one code snapshot for originality and folds a
// low-originality verdict back into the session's behavioral risk.
func (e *Engine) SubmitCode(ctx context.Context, sessionID, taskID, code, language string) (*originality.Verdict, error) {
	verdict := e.analyzer.Analyze(ctx, code, taskID, taskDescriptionFor(taskID), language)

	if _, err := e.keeper.FlagSuspiciousCode(ctx, sessionID, verdict.Score, verdict.SuspiciousPatterns); err != nil {
		return nil, err
	}
	return verdict, nil
}

// SessionScore returns the current score and risk level for a session.
// Sessions with no recorded events get an explicit zero score.
func (e *Engine) SessionScore(ctx context.Context, sessionID string) (*SessionReport, error) {
	score, err := e.keeper.Score(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionReport{
		SessionScore: *score,
		RiskLevel:    scoring.RiskLevelFor(score.FinalScore),
	}, nil
}

// Window exposes the current trailing event window for a session.
func (e *Engine) Window(sessionID string) []scoring.Event {
	return e.window.Window(sessionID)
}

// Drain waits for in-flight deep analyses. Used at shutdown and in tests.
func (e *Engine) Drain() {
	e.dispatcher.Drain()
}

// taskDescriptionFor resolves a human-readable task description for the
// originality prompt. Task metadata lives outside this core; the ID is the
// best available context.
func taskDescriptionFor(taskID string) string {
	if taskID == "" {
		return "unspecified task"
	}
	return "task " + taskID
}
