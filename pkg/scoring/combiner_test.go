package scoring

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// memStore is a minimal in-memory ScoreStore for combiner tests.
type memStore struct {
	mu     sync.Mutex
	scores map[string]SessionScore
}

func newMemStore() *memStore {
	return &memStore{scores: make(map[string]SessionScore)}
}

func (m *memStore) GetScore(_ context.Context, sessionID string) (*SessionScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[sessionID]
	if !ok {
		return nil, nil
	}
	copied := s
	return &copied, nil
}

func (m *memStore) UpsertScore(_ context.Context, score *SessionScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[score.SessionID] = *score
	return nil
}

func TestUpdate_RuleOnly(t *testing.T) {
	k := NewScorekeeper(newMemStore(), DefaultCombinePolicy(), nil)

	score, err := k.Update(context.Background(), "s1", 42, []string{"devtools_detected"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if score.FinalScore != 42 {
		t.Errorf("final = %d, want rule score 42 when no oracle judgment", score.FinalScore)
	}
}

func TestApplyDeepAnalysis_WeightedBlend(t *testing.T) {
	k := NewScorekeeper(newMemStore(), DefaultCombinePolicy(), nil)
	ctx := context.Background()

	if _, err := k.Update(ctx, "s1", 50, nil); err != nil {
		t.Fatal(err)
	}
	score, err := k.ApplyDeepAnalysis(ctx, "s1", 80, RecommendFail, "heavy pasting", []string{"clipboard_paste"})
	if err != nil {
		t.Fatalf("ApplyDeepAnalysis failed: %v", err)
	}

	// round(0.4*50 + 0.6*80) = 68
	if score.FinalScore != 68 {
		t.Errorf("final = %d, want 68", score.FinalScore)
	}
	if score.LLMRecommendation != RecommendFail {
		t.Errorf("recommendation = %s, want fail", score.LLMRecommendation)
	}
}

func TestUpdate_PreservesOracleJudgment(t *testing.T) {
	k := NewScorekeeper(newMemStore(), DefaultCombinePolicy(), nil)
	ctx := context.Background()

	if _, err := k.Update(ctx, "s1", 30, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := k.ApplyDeepAnalysis(ctx, "s1", 60, RecommendWatch, "", nil); err != nil {
		t.Fatal(err)
	}

	// New events arrive after the oracle verdict. The rule score moves but
	// the oracle judgment stays folded in: round(0.4*70 + 0.6*60) = 64.
	score, err := k.Update(ctx, "s1", 70, nil)
	if err != nil {
		t.Fatal(err)
	}
	if score.LLMRiskScore == nil || *score.LLMRiskScore != 60 {
		t.Fatal("oracle risk score dropped by a rule-based update")
	}
	if score.FinalScore != 64 {
		t.Errorf("final = %d, want 64", score.FinalScore)
	}
}

func TestFlagSuspiciousCode_Penalty(t *testing.T) {
	k := NewScorekeeper(newMemStore(), DefaultCombinePolicy(), nil)
	ctx := context.Background()

	if _, err := k.Update(ctx, "s1", 50, nil); err != nil {
		t.Fatal(err)
	}
	score, err := k.FlagSuspiciousCode(ctx, "s1", 30, []string{"verbatim_solution"})
	if err != nil {
		t.Fatalf("FlagSuspiciousCode failed: %v", err)
	}

	// Penalty = 50 - 30 = 20 on top of rule score 50.
	if score.RuleScore != 70 {
		t.Errorf("rule score = %d, want 70", score.RuleScore)
	}
	if !containsString(score.FlaggedEventTypes, "suspicious_code") {
		t.Errorf("flagged = %v, want suspicious_code", score.FlaggedEventTypes)
	}

	// High originality applies no penalty.
	score, err = k.FlagSuspiciousCode(ctx, "s1", 90, nil)
	if err != nil {
		t.Fatal(err)
	}
	if score.RuleScore != 70 {
		t.Errorf("rule score after clean submission = %d, want unchanged 70", score.RuleScore)
	}
}

func TestFlagSuspiciousCode_ClampsAt100(t *testing.T) {
	k := NewScorekeeper(newMemStore(), DefaultCombinePolicy(), nil)
	ctx := context.Background()

	if _, err := k.Update(ctx, "s1", 95, nil); err != nil {
		t.Fatal(err)
	}
	score, err := k.FlagSuspiciousCode(ctx, "s1", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if score.RuleScore != 100 {
		t.Errorf("rule score = %d, want clamp at 100", score.RuleScore)
	}
}

func TestScore_UnknownSessionIsZero(t *testing.T) {
	k := NewScorekeeper(newMemStore(), DefaultCombinePolicy(), nil)

	score, err := k.Score(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score.FinalScore != 0 || score.RuleScore != 0 {
		t.Errorf("unknown session score = %+v, want zero", score)
	}
	if score.FlaggedEventTypes == nil {
		t.Error("flagged set should be empty, not nil")
	}
}

func TestNotifyHookInvoked(t *testing.T) {
	var mu sync.Mutex
	var calls []int
	notify := func(sessionID string, finalScore int, flagged []string) {
		mu.Lock()
		calls = append(calls, finalScore)
		mu.Unlock()
	}

	k := NewScorekeeper(newMemStore(), DefaultCombinePolicy(), notify)
	ctx := context.Background()

	if _, err := k.Update(ctx, "s1", 25, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := k.ApplyDeepAnalysis(ctx, "s1", 75, RecommendWatch, "", nil); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("notify called %d times, want 2", len(calls))
	}
	if calls[0] != 25 {
		t.Errorf("first notify = %d, want 25", calls[0])
	}
}

func TestConcurrentUpdatesDoNotDrop(t *testing.T) {
	k := NewScorekeeper(newMemStore(), DefaultCombinePolicy(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = k.Update(ctx, "s1", 40, []string{"tab_switch"})
	}()
	go func() {
		defer wg.Done()
		_, _ = k.ApplyDeepAnalysis(ctx, "s1", 90, RecommendFail, "", []string{"clipboard_paste"})
	}()
	wg.Wait()

	score, err := k.Score(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	// Whatever the interleaving, neither side's contribution may vanish.
	if score.RuleScore != 40 {
		t.Errorf("rule score = %d, want 40", score.RuleScore)
	}
	if score.LLMRiskScore == nil || *score.LLMRiskScore != 90 {
		t.Error("oracle risk score lost in concurrent update")
	}
}

func TestConcurrentUpdatesAcrossManySessions(t *testing.T) {
	k := NewScorekeeper(newMemStore(), DefaultCombinePolicy(), nil)
	ctx := context.Background()

	// Far more sessions than lock stripes, so colliding sessions must still
	// commit independently and correctly.
	const sessions = 4 * lockStripes
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", n)
			_, _ = k.Update(ctx, id, n%100, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		score, err := k.Score(ctx, fmt.Sprintf("s%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if score.RuleScore != i%100 {
			t.Errorf("session s%d rule score = %d, want %d", i, score.RuleScore, i%100)
		}
	}
}

func TestRiskLevelBands(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskMinimal},
		{19, RiskMinimal},
		{20, RiskLow},
		{39, RiskLow},
		{40, RiskMedium},
		{59, RiskMedium},
		{60, RiskHigh},
		{79, RiskHigh},
		{80, RiskCritical},
		{100, RiskCritical},
	}
	for _, tt := range tests {
		if got := RiskLevelFor(tt.score); got != tt.want {
			t.Errorf("RiskLevelFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
