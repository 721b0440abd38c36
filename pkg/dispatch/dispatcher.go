// Package dispatch schedules deep behavioral analysis. Oracle calls are
// expensive and rate-limited, so dispatch fires only when the rule score or
// event volume crosses a threshold, runs in the background, and dedupes
// repeated ingestion of the same event set.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/truesignal/warden/pkg/config"
	"github.com/truesignal/warden/pkg/httputil"
	"github.com/truesignal/warden/pkg/oracle"
	"github.com/truesignal/warden/pkg/scoring"
)

// analysisReply is the structured verdict the oracle is asked to produce.
type analysisReply struct {
	RiskScore      int      `json:"risk_score"`
	FlaggedEvents  []string `json:"flagged_events"`
	Reasoning      string   `json:"reasoning"`
	Recommendation string   `json:"recommendation"`
}

// Dispatcher owns the background deep-analysis lifecycle. Fire-and-forget:
// event ingestion never blocks on an oracle round-trip, and a failed or
// timed-out analysis leaves the session on its rule-based score.
type Dispatcher struct {
	oracle *oracle.Client
	keeper *scoring.Scorekeeper

	chatModel      string
	scoreThreshold int
	eventThreshold int
	timeout        time.Duration

	results *gocache.Cache
	sem     *httputil.Semaphore
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewDispatcher wires the dispatcher to the oracle client and combiner.
func NewDispatcher(cfg *config.Config, client *oracle.Client, keeper *scoring.Scorekeeper) *Dispatcher {
	return &Dispatcher{
		oracle:         client,
		keeper:         keeper,
		chatModel:      cfg.ChatModel,
		scoreThreshold: cfg.DeepScoreThreshold,
		eventThreshold: cfg.DeepEventThreshold,
		timeout:        cfg.OracleTimeout,
		results:        gocache.New(cfg.DeepCacheTTL, 2*cfg.DeepCacheTTL),
		sem:            httputil.NewSemaphore(cfg.DeepMaxInflight),
		now:            time.Now,
	}
}

// MaybeDispatch schedules a deep analysis if the session crosses the score
// or event-volume threshold and this exact event set has not already been
// analyzed. Returns whether an analysis was scheduled.
func (d *Dispatcher) MaybeDispatch(sessionID string, events []scoring.Event, ruleScore int) bool {
	if ruleScore <= d.scoreThreshold && len(events) <= d.eventThreshold {
		return false
	}
	if len(events) == 0 {
		return false
	}

	elapsed := int(d.now().Sub(events[0].Time()).Minutes())
	key := fmt.Sprintf("%s_%d_%d", sessionID, len(events), elapsed)
	if _, seen := d.results.Get(key); seen {
		return false
	}
	d.results.SetDefault(key, struct{}{})

	if !d.sem.TryAcquire() {
		// The key dedupes completed analyses only; a dropped dispatch must
		// stay eligible for retry on the next ingestion.
		d.results.Delete(key)
		log.Printf("[DISPATCH] session %s: analysis slot unavailable (dropped=%d)", sessionID, d.sem.DroppedCount())
		return false
	}

	d.wg.Add(1)
	go d.run(sessionID, key, events, elapsed)
	return true
}

// Drain waits for all in-flight analyses to complete. Used at shutdown.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

func (d *Dispatcher) run(sessionID, key string, events []scoring.Event, elapsedMinutes int) {
	defer d.wg.Done()
	defer d.sem.Release()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	reply, err := d.analyze(ctx, events, elapsedMinutes)
	if err != nil {
		// Unavailable oracle is non-fatal: the session keeps its
		// rule-based score and this event set stays retryable.
		d.results.Delete(key)
		log.Printf("[DISPATCH] session %s: deep analysis skipped: %v", sessionID, err)
		return
	}

	_, err = d.keeper.ApplyDeepAnalysis(ctx, sessionID,
		reply.RiskScore,
		scoring.Recommendation(reply.Recommendation),
		reply.Reasoning,
		reply.FlaggedEvents)
	if err != nil {
		d.results.Delete(key)
		log.Printf("[DISPATCH] session %s: applying deep analysis failed: %v", sessionID, err)
		return
	}
	log.Printf("[DISPATCH] session %s: deep analysis applied (risk=%d, recommendation=%s)",
		sessionID, reply.RiskScore, reply.Recommendation)
}

// analyze runs one oracle round-trip over the event window.
func (d *Dispatcher) analyze(ctx context.Context, events []scoring.Event, elapsedMinutes int) (analysisReply, error) {
	history, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return analysisReply{}, fmt.Errorf("encoding event history: %w", err)
	}

	prompt := fmt.Sprintf(`Analyze the following proctoring event history and decide whether it shows signs of cheating:

Events:
%s

Elapsed time: %d minutes

Return JSON with these fields:
- risk_score: number from 0 to 100 (0 = no risk, 100 = certain cheating)
- flagged_events: list of event types that look suspicious
- reasoning: explanation of the score
- recommendation: one of "pass" (all clear), "watch" (keep observing), "fail" (suspected cheating)

Respond with ONLY valid JSON, no extra text.`, history, elapsedMinutes)

	text, err := d.oracle.Complete(ctx, oracle.CompletionRequest{
		Model: d.chatModel,
		Messages: []oracle.Message{
			{Role: "system", Content: "You are an expert at detecting cheating in technical interviews. You always respond with valid JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		return analysisReply{}, err
	}

	var reply analysisReply
	if _, ok := oracle.ParseInto(text, &reply); !ok {
		log.Printf("[DISPATCH] unparseable oracle verdict (%d bytes), using neutral fallback", len(text))
		return analysisReply{
			RiskScore:      50,
			Reasoning:      "Oracle verdict could not be parsed; neutral score applied.",
			Recommendation: string(scoring.RecommendWatch),
		}, nil
	}
	if reply.RiskScore < 0 {
		reply.RiskScore = 0
	}
	if reply.RiskScore > 100 {
		reply.RiskScore = 100
	}
	return reply, nil
}
