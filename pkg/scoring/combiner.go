package scoring

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"sort"
	"sync"
	"time"
)

// Recommendation is the oracle's holistic verdict for a session.
type Recommendation string

const (
	RecommendPass  Recommendation = "pass"
	RecommendWatch Recommendation = "watch"
	RecommendFail  Recommendation = "fail"
)

// SessionScore is the single persisted risk row per session. FinalScore is
// always a pure function of the other fields so re-scoring is recomputable;
// only the Scorekeeper mutates it.
type SessionScore struct {
	SessionID         string         `json:"session_id"`
	RuleScore         int            `json:"rule_based_score"`
	LLMRiskScore      *int           `json:"llm_risk_score,omitempty"`
	OriginalityScore  *int           `json:"code_originality_score,omitempty"`
	FinalScore        int            `json:"final_score"`
	FlaggedEventTypes []string       `json:"flagged_event_types"`
	LLMRecommendation Recommendation `json:"llm_recommendation,omitempty"`
	LLMReasoning      string         `json:"llm_reasoning,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// ScoreStore is the keyed upsert/read contract the combiner needs from a
// persistence collaborator. Get returns (nil, nil) when the session has no
// recorded score.
type ScoreStore interface {
	GetScore(ctx context.Context, sessionID string) (*SessionScore, error)
	UpsertScore(ctx context.Context, score *SessionScore) error
}

// NotifyFunc is the push hook invoked after every successful upsert so the
// transport layer can forward updates to live observers.
type NotifyFunc func(sessionID string, finalScore int, flagged []string)

// CombinePolicy holds the rule-vs-oracle blend weights. Empirically chosen;
// treat as configuration, not physical law.
type CombinePolicy struct {
	RuleWeight   float64
	OracleWeight float64
}

// DefaultCombinePolicy weights the oracle's holistic judgment more heavily
// than mechanical rules once it is available.
func DefaultCombinePolicy() CombinePolicy {
	return CombinePolicy{RuleWeight: 0.4, OracleWeight: 0.6}
}

// lockStripes bounds combiner lock memory regardless of how many sessions a
// deployment ever sees. Colliding sessions serialize against each other,
// which is harmless: commits hold the lock only for one read-modify-write.
const lockStripes = 64

// Scorekeeper exclusively owns SessionScore mutation. Every read-modify-write
// runs under the session's lock stripe so a rule-based update racing a
// completing deep-oracle update cannot drop either side's contribution.
type Scorekeeper struct {
	store  ScoreStore
	policy CombinePolicy
	notify NotifyFunc

	locks [lockStripes]sync.Mutex
}

// NewScorekeeper creates a combiner over the given store. notify may be nil.
func NewScorekeeper(store ScoreStore, policy CombinePolicy, notify NotifyFunc) *Scorekeeper {
	if policy.RuleWeight <= 0 && policy.OracleWeight <= 0 {
		policy = DefaultCombinePolicy()
	}
	return &Scorekeeper{
		store:  store,
		policy: policy,
		notify: notify,
	}
}

func (k *Scorekeeper) sessionLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &k.locks[h.Sum32()%lockStripes]
}

// Update applies a rule/pattern-derived score for a session. Oracle-derived
// fields already on the row are preserved and the final score is recomputed
// from the merged state.
func (k *Scorekeeper) Update(ctx context.Context, sessionID string, ruleScore int, flagged []string) (*SessionScore, error) {
	lock := k.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	score, err := k.loadLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	score.RuleScore = clampInt(ruleScore)
	score.FlaggedEventTypes = unionFlagged(score.FlaggedEventTypes, flagged)
	return k.commitLocked(ctx, score)
}

// ApplyDeepAnalysis folds a completed oracle behavioral analysis into the
// session score. The rule-derived state is re-read here, at application time,
// never taken from a snapshot captured at dispatch time - new events that
// arrived while the oracle was thinking keep their contribution.
func (k *Scorekeeper) ApplyDeepAnalysis(ctx context.Context, sessionID string, riskScore int, rec Recommendation, reasoning string, flagged []string) (*SessionScore, error) {
	lock := k.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	score, err := k.loadLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	risk := clampInt(riskScore)
	score.LLMRiskScore = &risk
	score.LLMRecommendation = normalizeRecommendation(rec)
	score.LLMReasoning = reasoning
	score.FlaggedEventTypes = unionFlagged(score.FlaggedEventTypes, flagged)
	return k.commitLocked(ctx, score)
}

// FlagSuspiciousCode applies the originality penalty: when the originality
// score is below 50, max(0, 50-originality) is added to the rule score. This
// lets a low-originality submission retroactively raise behavioral risk even
// with no new behavioral events.
func (k *Scorekeeper) FlagSuspiciousCode(ctx context.Context, sessionID string, originalityScore int, patterns []string) (*SessionScore, error) {
	lock := k.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	score, err := k.loadLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	originality := clampInt(originalityScore)
	score.OriginalityScore = &originality
	if originality < 50 {
		penalty := 50 - originality
		score.RuleScore = clampInt(score.RuleScore + penalty)
		score.FlaggedEventTypes = unionFlagged(score.FlaggedEventTypes, []string{"suspicious_code"})
	}

	if len(patterns) > 0 {
		log.Printf("[SCORE] session %s flagged suspicious code (originality=%d, patterns=%d)", sessionID, originality, len(patterns))
	}
	return k.commitLocked(ctx, score)
}

// Score returns the current session score. Sessions with no recorded events
// get an explicit zero score, not an error.
func (k *Scorekeeper) Score(ctx context.Context, sessionID string) (*SessionScore, error) {
	score, err := k.store.GetScore(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading session score: %w", err)
	}
	if score == nil {
		return &SessionScore{SessionID: sessionID, FlaggedEventTypes: []string{}}, nil
	}
	return score, nil
}

func (k *Scorekeeper) loadLocked(ctx context.Context, sessionID string) (*SessionScore, error) {
	score, err := k.store.GetScore(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading session score: %w", err)
	}
	if score == nil {
		score = &SessionScore{SessionID: sessionID}
	}
	return score, nil
}

func (k *Scorekeeper) commitLocked(ctx context.Context, score *SessionScore) (*SessionScore, error) {
	score.FinalScore = k.finalScore(score)
	score.UpdatedAt = time.Now().UTC()

	if err := k.store.UpsertScore(ctx, score); err != nil {
		return nil, fmt.Errorf("upserting session score: %w", err)
	}
	if k.notify != nil {
		k.notify(score.SessionID, score.FinalScore, score.FlaggedEventTypes)
	}
	return score, nil
}

// finalScore recomputes the final score from the row's fields. Rule score
// alone when no oracle judgment exists; weighted blend once it does.
func (k *Scorekeeper) finalScore(score *SessionScore) int {
	if score.LLMRiskScore == nil {
		return score.RuleScore
	}
	blended := k.policy.RuleWeight*float64(score.RuleScore) + k.policy.OracleWeight*float64(*score.LLMRiskScore)
	return clampInt(int(math.Round(blended)))
}

func normalizeRecommendation(rec Recommendation) Recommendation {
	switch rec {
	case RecommendPass, RecommendWatch, RecommendFail:
		return rec
	default:
		return RecommendWatch
	}
}

func unionFlagged(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range added {
		seen[f] = true
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func clampInt(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
